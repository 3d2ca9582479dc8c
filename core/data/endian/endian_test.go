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

package endian_test

import (
	"bytes"
	eb "encoding/binary"
	"io"
	"testing"

	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/data/binary"
	"github.com/google/substate/core/data/endian"
	"github.com/google/substate/core/log"
)

func TestByteOrder(t *testing.T) {
	ctx := log.Testing(t)
	for _, test := range []struct {
		name  string
		order eb.ByteOrder
		data  []byte
	}{
		{"little", eb.LittleEndian, []byte{0x7, 0x4, 0x3, 0x2, 0x1, 0x8, 0x7, 0x6, 0x5, 0x4, 0x3, 0x2, 0x1}},
		{"big", eb.BigEndian, []byte{0x7, 0x1, 0x2, 0x3, 0x4, 0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x7, 0x8}},
	} {
		buf := &bytes.Buffer{}
		w := endian.Writer(buf, test.order)
		w.Uint8(7)
		w.Uint32(0x01020304)
		w.Uint64(0x0102030405060708)
		assert.For(ctx, "%s error", test.name).ThatError(w.Error()).Succeeded()
		assert.For(ctx, "%s bytes", test.name).ThatSlice(buf.Bytes()).Equals(test.data)

		r := endian.Reader(bytes.NewReader(test.data), test.order)
		assert.For(ctx, "%s u8", test.name).That(r.Uint8()).Equals(uint8(7))
		assert.For(ctx, "%s u32", test.name).That(r.Uint32()).Equals(uint32(0x01020304))
		assert.For(ctx, "%s u64", test.name).That(r.Uint64()).Equals(uint64(0x0102030405060708))
		assert.For(ctx, "%s read error", test.name).ThatError(r.Error()).Succeeded()
	}
}

func TestReaderErrorSticks(t *testing.T) {
	ctx := log.Testing(t)
	r := endian.Reader(bytes.NewReader([]byte{1, 2, 3}), eb.LittleEndian)
	assert.For(ctx, "short").That(r.Uint64()).Equals(uint64(0))
	assert.For(ctx, "error").ThatError(r.Error()).Is(io.ErrUnexpectedEOF)
	assert.For(ctx, "after").That(r.Uint8()).Equals(uint8(0))
}

func TestUint64s(t *testing.T) {
	ctx := log.Testing(t)
	buf := &bytes.Buffer{}
	binary.WriteUint64s(endian.Writer(buf, eb.LittleEndian), []uint64{1, 2, 3})
	got := make([]uint64, 3)
	binary.ReadUint64s(endian.Reader(buf, eb.LittleEndian), got)
	assert.For(ctx, "values").ThatSlice(got).Equals([]uint64{1, 2, 3})
}
