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

// Package record encodes the state update records produced while tracking
// mapped memory, as a stream of optionally zstd compressed frames.
//
// Every integer is a little-endian uint64. A payload is omitted when its
// length is 0.
package record

import (
	"bytes"
	eb "encoding/binary"
	"sort"

	"github.com/google/substate/core/data/binary"
	"github.com/google/substate/core/data/endian"
	"github.com/google/substate/core/fault"
	"github.com/pkg/errors"
)

const (
	// ErrCorrupt is returned when a stream cannot be decoded.
	ErrCorrupt = fault.Const("Corrupt record stream")
)

// Record is one state update.
type Record interface {
	tag() byte
	encode(w binary.Writer)
}

const (
	tagMemoryUpdate        byte = 1
	tagBatchedMemoryUpdate byte = 2
)

// MemoryUpdate records bytes written to a range of memory.
type MemoryUpdate struct {
	Device  uint64
	Memory  uint64
	Offset  uint64
	Length  uint64
	Payload []byte
}

// BatchedMemoryUpdate records several ranges written to one memory.
type BatchedMemoryUpdate struct {
	Memory   uint64
	Offsets  []uint64
	Lengths  []uint64
	Payloads [][]byte
}

// Count returns the number of ranges in the batch.
func (b *BatchedMemoryUpdate) Count() uint64 { return uint64(len(b.Offsets)) }

func (*MemoryUpdate) tag() byte        { return tagMemoryUpdate }
func (*BatchedMemoryUpdate) tag() byte { return tagBatchedMemoryUpdate }

func (u *MemoryUpdate) encode(w binary.Writer) {
	w.Uint64(u.Device)
	w.Uint64(u.Memory)
	w.Uint64(u.Offset)
	w.Uint64(u.Length)
	if u.Length > 0 {
		w.Data(u.Payload[:u.Length])
	}
}

func (b *BatchedMemoryUpdate) encode(w binary.Writer) {
	w.Uint64(b.Memory)
	w.Uint64(b.Count())
	binary.WriteUint64s(w, b.Offsets)
	binary.WriteUint64s(w, b.Lengths)
	for i, p := range b.Payloads {
		if l := b.Lengths[i]; l > 0 {
			w.Data(p[:l])
		}
	}
}

// Encode appends the tagged encoding of r to buf.
func Encode(buf []byte, r Record) ([]byte, error) {
	switch r := r.(type) {
	case *MemoryUpdate:
		if uint64(len(r.Payload)) < r.Length {
			return buf, errors.Wrapf(ErrCorrupt, "Payload of %d bytes for length %d", len(r.Payload), r.Length)
		}
	case *BatchedMemoryUpdate:
		if len(r.Lengths) != len(r.Offsets) || len(r.Payloads) != len(r.Offsets) {
			return buf, errors.Wrap(ErrCorrupt, "Batch arrays differ in length")
		}
		for i, p := range r.Payloads {
			if uint64(len(p)) < r.Lengths[i] {
				return buf, errors.Wrapf(ErrCorrupt, "Payload %d of %d bytes for length %d", i, len(p), r.Lengths[i])
			}
		}
	}
	out := bytes.NewBuffer(buf)
	w := endian.Writer(out, eb.LittleEndian)
	w.Uint8(r.tag())
	r.encode(w)
	return out.Bytes(), w.Error()
}

type decoder struct {
	src *bytes.Reader
	r   binary.Reader
}

func (d *decoder) bytes(n uint64) []byte {
	if d.r.Error() != nil || n == 0 {
		return nil
	}
	if n > uint64(d.src.Len()) {
		d.r.SetError(errors.Wrapf(ErrCorrupt, "Payload of %d bytes exceeds the %d remaining", n, d.src.Len()))
		return nil
	}
	out := make([]byte, n)
	d.r.Data(out)
	return out
}

func (d *decoder) err() error {
	switch err := d.r.Error(); {
	case err == nil:
		return nil
	case errors.Is(err, ErrCorrupt):
		return err
	default:
		return errors.Wrapf(ErrCorrupt, "Truncated record: %v", err)
	}
}

// Decode decodes every tagged record in data.
func Decode(data []byte) ([]Record, error) {
	src := bytes.NewReader(data)
	d := &decoder{src: src, r: endian.Reader(src, eb.LittleEndian)}
	out := []Record{}
	for src.Len() > 0 {
		switch tag := d.r.Uint8(); tag {
		case tagMemoryUpdate:
			u := &MemoryUpdate{Device: d.r.Uint64(), Memory: d.r.Uint64(), Offset: d.r.Uint64(), Length: d.r.Uint64()}
			u.Payload = d.bytes(u.Length)
			out = append(out, u)
		case tagBatchedMemoryUpdate:
			b := &BatchedMemoryUpdate{Memory: d.r.Uint64()}
			count := d.r.Uint64()
			if err := d.err(); err != nil {
				return nil, err
			}
			if count > uint64(src.Len())/16 {
				return nil, errors.Wrapf(ErrCorrupt, "Batch of %d ranges", count)
			}
			b.Offsets = make([]uint64, count)
			b.Lengths = make([]uint64, count)
			b.Payloads = make([][]byte, count)
			binary.ReadUint64s(d.r, b.Offsets)
			binary.ReadUint64s(d.r, b.Lengths)
			for i := range b.Payloads {
				b.Payloads[i] = d.bytes(b.Lengths[i])
			}
			out = append(out, b)
		default:
			return nil, errors.Wrapf(ErrCorrupt, "Unknown record tag %d", tag)
		}
		if err := d.err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Batch groups updates by memory, in order of first appearance, keeping the
// order of updates within each memory.
func Batch(updates []*MemoryUpdate) []*BatchedMemoryUpdate {
	byMemory := map[uint64]*BatchedMemoryUpdate{}
	order := map[uint64]int{}
	for _, u := range updates {
		b, ok := byMemory[u.Memory]
		if !ok {
			b = &BatchedMemoryUpdate{Memory: u.Memory}
			byMemory[u.Memory] = b
			order[u.Memory] = len(order)
		}
		b.Offsets = append(b.Offsets, u.Offset)
		b.Lengths = append(b.Lengths, u.Length)
		b.Payloads = append(b.Payloads, u.Payload)
	}
	out := make([]*BatchedMemoryUpdate, 0, len(byMemory))
	for _, b := range byMemory {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].Memory] < order[out[j].Memory] })
	return out
}
