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

package rebuild_test

import (
	"encoding/binary"
	"testing"

	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/log"
	"github.com/google/substate/driver"
	"github.com/google/substate/driver/soft"
	"github.com/google/substate/rebuild"
	"github.com/pkg/errors"
)

func TestReplaySynchronizationState(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t)
	fence := f.create(f.device, &driver.FenceInfo{})
	idle := f.create(f.device, &driver.FenceInfo{})
	sem := f.create(f.device, &driver.SemaphoreInfo{})
	event := f.create(f.device, &driver.EventInfo{})
	must(t, f.tr.QueueSubmit(f.queue, []driver.Submit{{Signals: []driver.Handle{sem}}}, fence))
	must(t, f.tr.QueueWaitIdle(f.queue))
	must(t, f.tr.SetEvent(f.device, event, true))
	p := f.build()
	assert.For(ctx, "signals").ThatSlice(opsOf[*rebuild.SignalOp](p)).IsLength(2)

	d, res := f.replay(p)
	device := res.Handles[f.id(driver.Device, f.device)]
	signaled, err := d.FenceStatus(device, res.Handles[f.id(driver.Fence, fence)])
	must(t, err)
	assert.For(ctx, "fence").ThatBoolean(signaled).IsTrue()
	signaled, err = d.FenceStatus(device, res.Handles[f.id(driver.Fence, idle)])
	must(t, err)
	assert.For(ctx, "unused fence").ThatBoolean(signaled).IsFalse()
	signaled, err = d.SemaphoreSignaled(res.Handles[f.id(driver.Semaphore, sem)])
	must(t, err)
	assert.For(ctx, "semaphore").ThatBoolean(signaled).IsTrue()
	set, err := d.EventSet(res.Handles[f.id(driver.Event, event)])
	must(t, err)
	assert.For(ctx, "event").ThatBoolean(set).IsTrue()
}

func TestReplayQueries(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t)
	pool := f.create(f.device, &driver.QueryPoolInfo{Type: driver.QueryOcclusion, Count: 4})
	f.run(
		&driver.ResetQueryPool{Pool: pool, Count: 4},
		&driver.BeginQuery{Pool: pool, Query: 1},
		&driver.EndQuery{Pool: pool, Query: 1},
	)
	p := f.build()
	assert.For(ctx, "submits").ThatSlice(submits(p, "restore queries")).IsLength(1)

	d, res := f.replay(p)
	qp := res.Handles[f.id(driver.QueryPool, pool)]
	for q, want := range []soft.QueryStatus{soft.QueryUnavailable, soft.QueryAvailable, soft.QueryUnavailable, soft.QueryUnavailable} {
		got, err := d.Query(qp, uint32(q))
		must(t, err)
		assert.For(ctx, "query %d", q).That(got).Equals(want)
	}
}

func TestReplayRecordedCommandBuffers(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t)
	b := f.buffer(f.local, 0, 64, 0)
	sec := f.create(f.pool, &driver.CommandBufferInfo{Level: driver.LevelSecondary})
	must(t, f.tr.BeginCommandBuffer(sec, driver.BeginInfo{}))
	must(t, f.tr.Record(sec, &driver.FillBuffer{Buffer: b, Offset: 32, Size: 32, Data: 0x05050505}))
	must(t, f.tr.EndCommandBuffer(sec))
	prim := f.create(f.pool, &driver.CommandBufferInfo{Level: driver.LevelPrimary})
	must(t, f.tr.BeginCommandBuffer(prim, driver.BeginInfo{}))
	must(t, f.tr.Record(prim, &driver.FillBuffer{Buffer: b, Size: 32, Data: 0x03030303}))
	must(t, f.tr.Record(prim, &driver.ExecuteCommands{CommandBuffers: []driver.Handle{sec}}))
	must(t, f.tr.EndCommandBuffer(prim))
	p := f.build()

	records := opsOf[*rebuild.RecordCommandsOp](p)
	assert.For(ctx, "records").ThatSlice(records).IsLength(2)
	assert.For(ctx, "secondary first").That(records[0].CommandBuffer).Equals(f.id(driver.CommandBuffer, sec))

	// The buffer was never written, so its contents come from executing the
	// replayed command buffer.
	d, res := f.replay(p)
	queue := res.Handles[f.id(driver.Queue, f.queue)]
	must(t, d.QueueSubmit(queue, []driver.Submit{{CommandBuffers: []driver.Handle{res.Handles[f.id(driver.CommandBuffer, prim)]}}}, 0))
	must(t, d.QueueWaitIdle(queue))
	got, err := d.ReadBuffer(res.Handles[f.id(driver.Buffer, b)])
	must(t, err)
	want := append(bytesOf(3, 32), bytesOf(5, 32)...)
	assert.For(ctx, "contents").ThatSlice(got).Equals(want)
}

func TestReplayMappedMemory(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t)
	b := f.buffer(f.host, 256, 256, 0)
	_, err := f.tr.MapMemory(f.device, f.host, 0, driver.WholeSize)
	must(t, err)
	must(t, f.tr.WriteMapped(f.device, f.host, 256, bytesOf(9, 256)))
	must(t, f.tr.FlushMappedRanges(f.device, []driver.MappedRange{{Memory: f.host, Size: driver.WholeSize}}))
	p := f.build()

	maps := opsOf[*rebuild.MapMemoryOp](p)
	assert.For(ctx, "maps").ThatSlice(maps).IsLength(1)
	writes := opsOf[*rebuild.WriteMemoryOp](p)
	assert.For(ctx, "writes").ThatSlice(writes).IsLength(1)
	assert.For(ctx, "offset").That(writes[0].Offset).Equals(uint64(256))
	assert.For(ctx, "size").That(writes[0].Size).Equals(uint64(256))
	assert.For(ctx, "readback").ThatSlice(submits(p, "restore contents")).IsEmpty()

	d, res := f.replay(p)
	got, err := d.ReadBuffer(res.Handles[f.id(driver.Buffer, b)])
	must(t, err)
	assert.For(ctx, "contents").ThatSlice(got).Equals(bytesOf(9, 256))
}

func TestReplayPatchesDeviceAddresses(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t)
	mem := f.create(f.device, &driver.MemoryInfo{Size: 4096, DeviceAddress: true})
	src := f.buffer(mem, 0, 256, driver.BufferUsageDeviceAddress)
	table := f.buffer(mem, 1024, 64, driver.BufferUsageDeviceAddress)
	addr, err := f.tr.BufferDeviceAddress(f.device, src)
	must(t, err)
	entry := make([]byte, 16)
	binary.LittleEndian.PutUint64(entry, addr+16)
	binary.LittleEndian.PutUint64(entry[8:], 0x1234)
	f.run(&driver.UpdateBuffer{Buffer: table, Data: entry})
	p := f.build()

	patches := opsOf[*rebuild.PatchAddressesOp](p)
	assert.For(ctx, "patches").ThatSlice(patches).IsLength(1)
	assert.For(ctx, "target").That(patches[0].Target).Equals(f.id(driver.Buffer, table))
	assert.For(ctx, "locations").ThatSlice(patches[0].Locations).Equals([]uint64{0})

	d, res := f.replay(p)
	device := res.Handles[f.id(driver.Device, f.device)]
	moved, err := d.BufferDeviceAddress(device, res.Handles[f.id(driver.Buffer, src)])
	must(t, err)
	assert.For(ctx, "moved").That(moved).NotEquals(addr)
	got, err := d.ReadBuffer(res.Handles[f.id(driver.Buffer, table)])
	must(t, err)
	assert.For(ctx, "patched").That(binary.LittleEndian.Uint64(got)).Equals(moved + 16)
	assert.For(ctx, "untouched").That(binary.LittleEndian.Uint64(got[8:])).Equals(uint64(0x1234))
}

func TestReplayReportsFailures(t *testing.T) {
	ctx := log.Testing(t)
	p := &rebuild.Plan{Ops: []rebuild.Op{
		&rebuild.CreateOp{ID: 1, Info: &driver.InstanceInfo{}},
		&rebuild.CreateOp{ID: 2, Parent: 1, Info: &driver.BufferInfo{Size: 16}},
	}}
	_, err := rebuild.Replay(ctx, p, soft.New(soft.Options{}))
	assert.For(ctx, "err").ThatError(err).Failed()
	var e *rebuild.Error
	assert.For(ctx, "class").ThatBoolean(errors.As(err, &e) && e.Class == rebuild.Fatal).IsTrue()
}

func bytesOf(v byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = v
	}
	return out
}
