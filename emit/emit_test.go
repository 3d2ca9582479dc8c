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

package emit_test

import (
	"bytes"
	"strings"
	"testing"
	"unicode"

	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/data/id"
	"github.com/google/substate/core/log"
	"github.com/google/substate/driver"
	"github.com/google/substate/emit"
	"github.com/google/substate/rebuild"
	"github.com/google/substate/tracker"
)

func testPlan() *rebuild.Plan {
	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	blob := id.OfBytes(payload)
	regions := make([]driver.BufferCopy, 10)
	for i := range regions {
		regions[i] = driver.BufferCopy{SrcOffset: uint64(i * 8), DstOffset: uint64(i * 8), Size: 8}
	}
	writes := make([]driver.DescriptorWrite, 5)
	for i := range writes {
		writes[i] = driver.DescriptorWrite{Set: 6, Element: uint32(i), Type: driver.DescriptorStorageBuffer, Descriptor: driver.Descriptor{Buffer: 4, Range: 8}}
	}
	locations := make([]uint64, 20)
	for i := range locations {
		locations[i] = uint64(i * 8)
	}
	return &rebuild.Plan{
		Ops: []rebuild.Op{
			&rebuild.CreateOp{ID: 1, Info: &driver.InstanceInfo{Application: "test"}},
			&rebuild.CreateOp{ID: 2, Parent: 1, Info: &driver.DeviceInfo{}},
			&rebuild.CreateOp{ID: 3, Parent: 2, Info: &driver.MemoryInfo{Size: 4096, HostVisible: true}},
			&rebuild.CreateOp{ID: 4, Parent: 2, Info: &driver.BufferInfo{Size: 256, Usage: driver.BufferUsageStorage}},
			&rebuild.BindMemoryOp{Device: 2, Resource: 4, Kind: driver.Buffer, Memory: 3},
			&rebuild.WriteMemoryOp{Device: 2, Memory: 3, Size: 100, Blob: blob},
			&rebuild.UpdateDescriptorsOp{Device: 2, Writes: writes},
			&rebuild.SubmitOp{Queue: 7, Pool: 8, Label: "restore contents", Commands: []driver.Command{
				&driver.CopyBuffer{Src: 4, Dst: 4, Regions: regions},
			}},
			&rebuild.PatchAddressesOp{Device: 2, Queue: 7, Pool: 8, Target: 4, Locations: locations, Table: []rebuild.Patch{
				{OldBase: 1 << 40, Size: 256, Resource: 4, Kind: driver.Buffer},
			}},
			&rebuild.DestroyOp{ID: 8, Parent: 2, Kind: driver.CommandPool},
		},
		Blobs:  map[id.ID][]byte{blob: payload},
		Errors: []*rebuild.Error{{Class: rebuild.Omission, Object: tracker.ID(9), Kind: driver.DescriptorSet, Cause: rebuild.ErrMissingDependency}},
	}
}

// initializers returns the number of elements of every array initializer
// in src.
func initializers(src string) []int {
	const open = "[] = {"
	var out []int
	for {
		i := strings.Index(src, open)
		if i < 0 {
			return out
		}
		src = src[i+len(open):]
		depth, n, pending := 0, 0, false
	scan:
		for j, r := range src {
			switch {
			case r == '{':
				depth++
				pending = true
			case r == '}' && depth == 0:
				if pending {
					n++
				}
				out = append(out, n)
				src = src[j:]
				break scan
			case r == '}':
				depth--
			case r == ',' && depth == 0:
				n++
				pending = false
			case !unicode.IsSpace(r):
				pending = true
			}
		}
	}
}

func TestChunksArrays(t *testing.T) {
	ctx := log.Testing(t)
	for _, max := range []int{1, 3, 8, 4096} {
		buf := &bytes.Buffer{}
		err := emit.Write(buf, testPlan(), max)
		assert.For(ctx, "max %d", max).ThatError(err).Succeeded()
		sizes := initializers(buf.String())
		total := 0
		for _, n := range sizes {
			assert.For(ctx, "max %d chunk", max).ThatInteger(n).IsAtMost(max)
			total += n
		}
		// 100 bytes, 5 writes, 1 command, 10 regions, 20 locations, 1 patch.
		assert.For(ctx, "max %d elements", max).ThatInteger(total).Equals(137)
	}
}

func TestStatements(t *testing.T) {
	ctx := log.Testing(t)
	buf := &bytes.Buffer{}
	err := emit.Write(buf, testPlan(), 8)
	assert.For(ctx, "err").ThatError(err).Succeeded()
	out := buf.String()
	for _, want := range []string{
		"// Omission: DescriptorSet#9: Dependency no longer exists\n",
		"void restore() {\n",
		"  Handle h1 = create(0, InstanceInfo{Application: \"test\"});\n",
		"  Handle h3 = create(h2, MemoryInfo{Size: 4096, HostVisible: true});\n",
		"  bindBufferMemory(h2, h4, h3, 0);\n",
		"  uint8_t a0[100];\n",
		"    const uint8_t chunk[] = {\n",
		"  writeMemory(h2, h3, 0, 100, a0);\n",
		"  // restore contents\n",
		"  destroy(h2, CommandPool, h8);\n",
		"OldBase: 0x10000000000",
	} {
		assert.For(ctx, "contains %q", want).ThatBoolean(strings.Contains(out, want)).IsTrue()
	}
	assert.For(ctx, "byte chunks").ThatInteger(strings.Count(out, "copy(a0 + ")).Equals(13)
	assert.For(ctx, "closed").ThatBoolean(strings.HasSuffix(out, "\n}\n")).IsTrue()
}

func TestMissingPayload(t *testing.T) {
	ctx := log.Testing(t)
	p := testPlan()
	p.Blobs = nil
	err := emit.Write(&bytes.Buffer{}, p, 8)
	assert.For(ctx, "err").ThatError(err).Is(rebuild.ErrMissingBlob)
}

func TestInvalidChunkSize(t *testing.T) {
	ctx := log.Testing(t)
	err := emit.Write(&bytes.Buffer{}, testPlan(), 0)
	assert.For(ctx, "err").ThatError(err).Failed()
}
