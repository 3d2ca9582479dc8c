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

package soft_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/log"
	"github.com/google/substate/driver"
	"github.com/google/substate/driver/soft"
)

type fixture struct {
	d       *soft.Driver
	device  driver.Handle
	queue   driver.Handle
	pool    driver.Handle
	memory  driver.Handle
	staging driver.Handle
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func create(t *testing.T, d driver.Table, parent driver.Handle, info driver.CreateInfo) driver.Handle {
	t.Helper()
	h, err := d.Create(parent, info)
	must(t, err)
	return h
}

func newFixture(t *testing.T, opts soft.Options) *fixture {
	f := &fixture{d: soft.New(opts)}
	instance := create(t, f.d, 0, &driver.InstanceInfo{Application: "test"})
	f.device = create(t, f.d, instance, &driver.DeviceInfo{})
	f.queue = create(t, f.d, f.device, &driver.QueueInfo{})
	f.pool = create(t, f.d, f.device, &driver.CommandPoolInfo{})
	f.memory = create(t, f.d, f.device, &driver.MemoryInfo{Size: 4096, HostVisible: true})
	return f
}

func (f *fixture) buffer(t *testing.T, offset, size uint64, usage driver.BufferUsage) driver.Handle {
	b := create(t, f.d, f.device, &driver.BufferInfo{Size: size, Usage: usage})
	must(t, f.d.BindBufferMemory(f.device, b, f.memory, offset))
	return b
}

func (f *fixture) submit(t *testing.T, fence driver.Handle, cmds ...driver.Command) driver.Handle {
	cb := create(t, f.d, f.pool, &driver.CommandBufferInfo{})
	must(t, f.d.BeginCommandBuffer(cb, driver.BeginInfo{OneTimeSubmit: true}))
	for _, c := range cmds {
		must(t, f.d.Record(cb, c))
	}
	must(t, f.d.EndCommandBuffer(cb))
	must(t, f.d.QueueSubmit(f.queue, []driver.Submit{{CommandBuffers: []driver.Handle{cb}}}, fence))
	return cb
}

func TestCopiesThroughMemory(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, soft.Options{})
	src := f.buffer(t, 0, 16, 0)
	dst := f.buffer(t, 256, 16, 0)
	view, err := f.d.MapMemory(f.device, f.memory, 0, driver.WholeSize)
	must(t, err)
	copy(view, []byte{1, 2, 3, 4})
	f.submit(t, 0,
		&driver.FillBuffer{Buffer: src, Offset: 8, Size: 8, Data: 0x01020304},
		&driver.CopyBuffer{Src: src, Dst: dst, Regions: []driver.BufferCopy{{SrcOffset: 0, DstOffset: 4, Size: 12}}},
	)
	got, err := f.d.ReadBuffer(dst)
	must(t, err)
	assert.For(ctx, "dst").ThatSlice(got).Equals([]byte{0, 0, 0, 0, 1, 2, 3, 4, 0, 0, 0, 0, 4, 3, 2, 1})
	assert.For(ctx, "aliases mapping").ThatSlice(view[260:264]).Equals([]byte{1, 2, 3, 4})
}

func TestImageRoundTrip(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, soft.Options{})
	img := create(t, f.d, f.device, &driver.ImageInfo{
		Format: driver.FormatR8Unorm, Width: 4, Height: 2, Depth: 1, Mips: 2, Layers: 1, Samples: 1,
	})
	must(t, f.d.BindImageMemory(f.device, img, f.memory, 1024))
	buf := f.buffer(t, 0, 16, 0)
	f.submit(t, 0,
		&driver.UpdateBuffer{Buffer: buf, Offset: 0, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		&driver.PipelineBarrier{Images: []driver.ImageBarrier{{Image: img, Range: driver.Subresources{Mips: 2, Layers: 1}, NewLayout: driver.LayoutTransferDst}}},
		&driver.CopyBufferToImage{Buffer: buf, Image: img, Layout: driver.LayoutTransferDst, Regions: []driver.ImageCopy{
			{BufferOffset: 0, Mip: 0},
			{BufferOffset: 8, Mip: 1},
		}},
	)
	mip0, err := f.d.ReadImage(img, 0, 0)
	must(t, err)
	mip1, err := f.d.ReadImage(img, 1, 0)
	must(t, err)
	assert.For(ctx, "mip0").ThatSlice(mip0).Equals([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	assert.For(ctx, "mip1").ThatSlice(mip1).Equals([]byte{9, 10})
	layout, err := f.d.ImageLayout(img, 1, 0)
	must(t, err)
	assert.For(ctx, "layout").That(layout).Equals(driver.LayoutTransferDst)
}

func TestSparseBinding(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, soft.Options{})
	b := create(t, f.d, f.device, &driver.BufferInfo{Size: 8, Sparse: true})
	view, err := f.d.MapMemory(f.device, f.memory, 0, 64)
	must(t, err)
	copy(view[32:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	must(t, f.d.BindSparse(f.queue, []driver.SparseBind{
		{Resource: driver.Ref{Kind: driver.Buffer, Handle: b}, ResourceOffset: 0, Size: 8, Memory: f.memory, MemoryOffset: 32},
		{Resource: driver.Ref{Kind: driver.Buffer, Handle: b}, ResourceOffset: 2, Size: 2},
	}))
	got, err := f.d.ReadBuffer(b)
	must(t, err)
	assert.For(ctx, "bytes").ThatSlice(got).Equals([]byte{1, 2, 0, 0, 5, 6, 7, 8})
}

func TestManualFences(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, soft.Options{ManualFences: true})
	fence := create(t, f.d, f.device, &driver.FenceInfo{})
	f.submit(t, fence)
	ok, err := f.d.FenceStatus(f.device, fence)
	must(t, err)
	assert.For(ctx, "pending").ThatBoolean(ok).IsFalse()
	assert.For(ctx, "timeout").ThatError(f.d.WaitForFences(f.device, []driver.Handle{fence}, time.Millisecond)).Equals(driver.ErrTimeout)

	done := make(chan error)
	go func() { done <- f.d.WaitForFences(f.device, []driver.Handle{fence}, time.Minute) }()
	must(t, f.d.SignalFence(fence))
	assert.For(ctx, "wait").ThatError(<-done).Succeeded()
	assert.For(ctx, "no pending").ThatInteger(f.d.Pending()).Equals(0)

	must(t, f.d.ResetFences(f.device, []driver.Handle{fence}))
	f.submit(t, fence)
	must(t, f.d.QueueWaitIdle(f.queue))
	ok, err = f.d.FenceStatus(f.device, fence)
	must(t, err)
	assert.For(ctx, "idle signals").ThatBoolean(ok).IsTrue()
}

func TestPatchAddresses(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, soft.Options{})
	target := f.buffer(t, 0, 24, 0)
	data := make([]byte, 24)
	binary.LittleEndian.PutUint64(data[0:], 0x1010)
	binary.LittleEndian.PutUint64(data[8:], 0x2000)
	binary.LittleEndian.PutUint64(data[16:], 0x3008)
	f.submit(t, 0,
		&driver.UpdateBuffer{Buffer: target, Data: data},
		&driver.PatchAddresses{Target: target, Locations: []uint64{0, 8, 16}, Table: []driver.AddressPatch{
			{OldBase: 0x1000, Size: 0x100, NewBase: 0x9000},
			{OldBase: 0x3000, Size: 0x10, NewBase: 0x7000},
		}},
	)
	got, err := f.d.ReadBuffer(target)
	must(t, err)
	assert.For(ctx, "first").That(binary.LittleEndian.Uint64(got[0:])).Equals(uint64(0x9010))
	assert.For(ctx, "unknown").That(binary.LittleEndian.Uint64(got[8:])).Equals(uint64(0x2000))
	assert.For(ctx, "third").That(binary.LittleEndian.Uint64(got[16:])).Equals(uint64(0x7008))
}

func TestHandleReuse(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, soft.Options{ReuseHandles: true})
	a := create(t, f.d, f.device, &driver.EventInfo{})
	must(t, f.d.Destroy(f.device, driver.Event, a))
	b := create(t, f.d, f.device, &driver.SemaphoreInfo{})
	assert.For(ctx, "reused").That(b).Equals(a)
	assert.For(ctx, "wrong kind").ThatError(f.d.Destroy(f.device, driver.Event, b)).Failed()
}

func TestDestroyPoolFreesChildren(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, soft.Options{})
	create(t, f.d, f.pool, &driver.CommandBufferInfo{})
	create(t, f.d, f.pool, &driver.CommandBufferInfo{})
	assert.For(ctx, "before").ThatInteger(f.d.Count(driver.CommandBuffer)).Equals(2)
	must(t, f.d.Destroy(f.device, driver.CommandPool, f.pool))
	assert.For(ctx, "after").ThatInteger(f.d.Count(driver.CommandBuffer)).Equals(0)
}

func TestDistinctAddressSpaces(t *testing.T) {
	ctx := log.Testing(t)
	a, b := newFixture(t, soft.Options{}), newFixture(t, soft.Options{})
	ba := a.buffer(t, 0, 16, driver.BufferUsageDeviceAddress)
	bb := b.buffer(t, 0, 16, driver.BufferUsageDeviceAddress)
	addrA, err := a.d.BufferDeviceAddress(a.device, ba)
	must(t, err)
	addrB, err := b.d.BufferDeviceAddress(b.device, bb)
	must(t, err)
	assert.For(ctx, "addresses").That(addrA).NotEquals(addrB)
}
