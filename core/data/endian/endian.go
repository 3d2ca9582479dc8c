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

// Package endian implements the binary Reader and Writer for a byte order.
package endian

import (
	eb "encoding/binary"
	"io"

	"github.com/google/substate/core/data/binary"
)

// Reader creates a binary.Reader that reads from the provided io.Reader, with
// the specified byte order.
func Reader(r io.Reader, order eb.ByteOrder) binary.Reader {
	return &reader{reader: r, byteOrder: order}
}

// Writer creates a binary.Writer that writes to the supplied stream, with the
// specified byte order.
func Writer(w io.Writer, order eb.ByteOrder) binary.Writer {
	return &writer{writer: w, byteOrder: order}
}

type reader struct {
	reader    io.Reader
	tmp       [8]byte
	byteOrder eb.ByteOrder
	err       error
}

type writer struct {
	writer    io.Writer
	tmp       [8]byte
	byteOrder eb.ByteOrder
	err       error
}

func (r *reader) Read(p []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.reader.Read(p)
}

func (r *reader) fill(n int) []byte {
	if r.err != nil {
		return nil
	}
	if _, err := io.ReadFull(r.reader, r.tmp[:n]); err != nil {
		r.err = err
		return nil
	}
	return r.tmp[:n]
}

func (r *reader) Data(p []byte) {
	if r.err != nil {
		return
	}
	_, r.err = io.ReadFull(r.reader, p)
}

func (w *writer) Data(data []byte) {
	if w.err != nil {
		return
	}
	n, err := w.writer.Write(data)
	if err != nil {
		w.err = err
	} else if n != len(data) {
		w.err = io.ErrShortWrite
	}
}

func (r *reader) Uint8() uint8 {
	if b := r.fill(1); b != nil {
		return b[0]
	}
	return 0
}

func (w *writer) Uint8(v uint8) {
	w.tmp[0] = v
	w.Data(w.tmp[:1])
}

func (r *reader) Uint32() uint32 {
	if b := r.fill(4); b != nil {
		return r.byteOrder.Uint32(b)
	}
	return 0
}

func (w *writer) Uint32(v uint32) {
	w.byteOrder.PutUint32(w.tmp[:], v)
	w.Data(w.tmp[:4])
}

func (r *reader) Uint64() uint64 {
	if b := r.fill(8); b != nil {
		return r.byteOrder.Uint64(b)
	}
	return 0
}

func (w *writer) Uint64(v uint64) {
	w.byteOrder.PutUint64(w.tmp[:], v)
	w.Data(w.tmp[:8])
}

func (w *writer) Error() error {
	return w.err
}

func (r *reader) Error() error {
	return r.err
}

func (r *reader) SetError(err error) {
	if r.err != nil {
		return
	}
	r.err = err
}

func (w *writer) SetError(err error) {
	if w.err != nil {
		return
	}
	w.err = err
}
