// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package record

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// The stream starts with magic and a flags byte, then holds frames. Each
// frame is a uint32 length followed by that many bytes of tagged records,
// zstd compressed when the flag is set.
var magic = [4]byte{'S', 'U', 'B', 'R'}

const (
	flagCompressed byte = 1

	// frameSize is the amount of encoded records buffered before a frame is
	// written.
	frameSize = 1 << 20
)

// Writer writes records to a stream.
type Writer struct {
	w     io.Writer
	enc   *zstd.Encoder
	buf   []byte
	frame []byte
}

// NewWriter writes the stream header to w and returns a writer for it.
func NewWriter(w io.Writer, compress bool) (*Writer, error) {
	out := &Writer{w: w}
	flags := byte(0)
	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, errors.Wrap(err, "Creating zstd encoder")
		}
		out.enc = enc
		flags |= flagCompressed
	}
	if _, err := w.Write(append(magic[:], flags)); err != nil {
		return nil, errors.Wrap(err, "Writing stream header")
	}
	return out, nil
}

// Write buffers one record, writing a frame when enough are buffered.
func (w *Writer) Write(r Record) error {
	buf, err := Encode(w.buf, r)
	if err != nil {
		return err
	}
	w.buf = buf
	if len(w.buf) >= frameSize {
		return w.Flush()
	}
	return nil
}

// WriteMemoryUpdate writes a single memory update.
func (w *Writer) WriteMemoryUpdate(u *MemoryUpdate) error { return w.Write(u) }

// Flush writes the buffered records as one frame.
func (w *Writer) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	payload := w.buf
	if w.enc != nil {
		w.frame = w.enc.EncodeAll(w.buf, w.frame[:0])
		payload = w.frame
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(payload)))
	if _, err := w.w.Write(size[:]); err != nil {
		return errors.Wrap(err, "Writing frame")
	}
	if _, err := w.w.Write(payload); err != nil {
		return errors.Wrap(err, "Writing frame")
	}
	w.buf = w.buf[:0]
	return nil
}

// Close flushes the writer and releases the encoder. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.enc != nil {
		w.enc.Close()
		w.enc = nil
	}
	return err
}

// Reader reads records from a stream.
type Reader struct {
	r       *bufio.Reader
	dec     *zstd.Decoder
	pending []Record
}

// NewReader reads the stream header from r and returns a reader for it.
func NewReader(r io.Reader) (*Reader, error) {
	out := &Reader{r: bufio.NewReader(r)}
	var header [5]byte
	if _, err := io.ReadFull(out.r, header[:]); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "Missing stream header")
	}
	if [4]byte(header[:4]) != magic {
		return nil, errors.Wrap(ErrCorrupt, "Bad stream magic")
	}
	if header[4]&flagCompressed != 0 {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, "Creating zstd decoder")
		}
		out.dec = dec
	}
	return out, nil
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	for len(r.pending) == 0 {
		var size [4]byte
		if _, err := io.ReadFull(r.r, size[:]); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, errors.Wrap(ErrCorrupt, "Truncated frame header")
		}
		frame := make([]byte, binary.LittleEndian.Uint32(size[:]))
		if _, err := io.ReadFull(r.r, frame); err != nil {
			return nil, errors.Wrap(ErrCorrupt, "Truncated frame")
		}
		if r.dec != nil {
			var err error
			if frame, err = r.dec.DecodeAll(frame, nil); err != nil {
				return nil, errors.Wrap(err, "Decompressing frame")
			}
		}
		records, err := Decode(frame)
		if err != nil {
			return nil, err
		}
		r.pending = records
	}
	rec := r.pending[0]
	r.pending = r.pending[1:]
	return rec, nil
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	out := []Record{}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Close releases the decoder.
func (r *Reader) Close() {
	if r.dec != nil {
		r.dec.Close()
		r.dec = nil
	}
}
