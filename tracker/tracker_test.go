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

package tracker_test

import (
	"testing"

	"github.com/google/substate/config"
	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/log"
	"github.com/google/substate/core/math/interval"
	"github.com/google/substate/driver"
	"github.com/google/substate/driver/soft"
	"github.com/google/substate/record"
	"github.com/google/substate/tracker"
)

type sink []*record.MemoryUpdate

func (s *sink) WriteMemoryUpdate(u *record.MemoryUpdate) error {
	*s = append(*s, u)
	return nil
}

type fixture struct {
	t      *testing.T
	soft   *soft.Driver
	tr     *tracker.Tracker
	sink   *sink
	device driver.Handle
	queue  driver.Handle
	pool   driver.Handle
	memory driver.Handle
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	ctx := log.Testing(t)
	d := soft.New(soft.Options{})
	f := &fixture{t: t, soft: d, sink: &sink{}}
	f.tr = tracker.New(ctx, d, cfg, f.sink)
	instance := f.create(0, &driver.InstanceInfo{Application: "test"})
	f.device = f.create(instance, &driver.DeviceInfo{})
	f.queue = f.create(f.device, &driver.QueueInfo{})
	f.pool = f.create(f.device, &driver.CommandPoolInfo{})
	f.memory = f.create(f.device, &driver.MemoryInfo{Size: 4096, HostVisible: true})
	return f
}

func (f *fixture) create(parent driver.Handle, info driver.CreateInfo) driver.Handle {
	f.t.Helper()
	h, err := f.tr.Create(parent, info)
	must(f.t, err)
	return h
}

func (f *fixture) record(kind driver.Kind, h driver.Handle) *tracker.Record {
	f.t.Helper()
	r, err := f.tr.Registry().Lookup(kind, h)
	must(f.t, err)
	return r
}

func (f *fixture) buffer(offset, size uint64) driver.Handle {
	b := f.create(f.device, &driver.BufferInfo{Size: size, Usage: driver.BufferUsageTransferDst})
	must(f.t, f.tr.BindBufferMemory(f.device, b, f.memory, offset))
	return b
}

func (f *fixture) commands(level driver.CommandBufferLevel, cmds ...driver.Command) driver.Handle {
	cb := f.create(f.pool, &driver.CommandBufferInfo{Level: level})
	must(f.t, f.tr.BeginCommandBuffer(cb, driver.BeginInfo{OneTimeSubmit: level == driver.LevelPrimary}))
	for _, c := range cmds {
		must(f.t, f.tr.Record(cb, c))
	}
	must(f.t, f.tr.EndCommandBuffer(cb))
	return cb
}

func (f *fixture) submit(fence driver.Handle, cbs ...driver.Handle) {
	must(f.t, f.tr.QueueSubmit(f.queue, []driver.Submit{{CommandBuffers: cbs}}, fence))
}

func TestTracksObjectGraph(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, config.Default())
	b := f.buffer(0, 256)
	view := f.create(f.device, &driver.BufferViewInfo{Buffer: b, Format: driver.FormatR32Float, Range: 256})

	rec := f.record(driver.BufferView, view)
	buf := f.record(driver.Buffer, b)
	assert.For(ctx, "deps").ThatSlice(rec.Deps()).Equals([]tracker.ID{buf.ID})
	assert.For(ctx, "parent").That(rec.Parent).Equals(f.record(driver.Device, f.device).ID)

	_, err := f.tr.Create(f.device, &driver.BufferViewInfo{Buffer: 0xdead})
	assert.For(ctx, "unknown dep").ThatError(err).Is(tracker.ErrNotTracked)

	must(t, f.tr.Destroy(f.device, driver.Buffer, b))
	_, err = f.tr.Registry().Lookup(driver.Buffer, b)
	assert.For(ctx, "destroyed").ThatError(err).Is(tracker.ErrNotTracked)
	assert.For(ctx, "retired").ThatBoolean(f.tr.Registry().Get(buf.ID) != nil).IsTrue()
	overlaps, err := f.tr.ResolveAliasing(f.memory, interval.U64Span{Start: 0, End: 4096})
	assert.For(ctx, "resolve").ThatError(err).Succeeded()
	assert.For(ctx, "unbound").ThatSlice(overlaps).IsEmpty()
}

func TestFlushTouchesAndRecords(t *testing.T) {
	ctx := log.Testing(t)
	for _, strategy := range []config.DirtyStrategy{config.PageProtect, config.ShadowCopy, config.SegmentDiff} {
		cfg := config.Default()
		cfg.DirtyTrackingStrategy = strategy
		f := newFixture(t, cfg)
		a := f.buffer(0, 256)
		b := f.buffer(1024, 256)

		_, err := f.tr.MapMemory(f.device, f.memory, 0, driver.WholeSize)
		assert.For(ctx, "%v map", strategy).ThatError(err).Succeeded()
		data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
		must(t, f.tr.WriteMapped(f.device, f.memory, 100, data))
		must(t, f.tr.FlushMappedRanges(f.device, []driver.MappedRange{{Memory: f.memory, Size: driver.WholeSize}}))

		assert.For(ctx, "%v records", strategy).ThatSlice(*f.sink).IsLength(1)
		u := (*f.sink)[0]
		assert.For(ctx, "%v memory", strategy).That(u.Memory).Equals(uint64(f.record(driver.DeviceMemory, f.memory).ID))
		assert.For(ctx, "%v offset", strategy).That(u.Offset).Equals(uint64(100))
		assert.For(ctx, "%v length", strategy).That(u.Length).Equals(uint64(len(data)))
		assert.For(ctx, "%v payload", strategy).ThatSlice(u.Payload).Equals(data)

		as := f.record(driver.Buffer, a).State.(*tracker.BufferState)
		bs := f.record(driver.Buffer, b).State.(*tracker.BufferState)
		assert.For(ctx, "%v a defined", strategy).ThatBoolean(as.Defined).IsTrue()
		assert.For(ctx, "%v b untouched", strategy).ThatBoolean(bs.Defined).IsFalse()

		got, err := f.soft.ReadBuffer(a)
		assert.For(ctx, "%v read", strategy).ThatError(err).Succeeded()
		assert.For(ctx, "%v driver copy", strategy).ThatSlice(got[100:108]).Equals(data)

		must(t, f.tr.UnmapMemory(f.device, f.memory))
		assert.For(ctx, "%v no new records", strategy).ThatSlice(*f.sink).IsLength(1)
		err = f.tr.WriteMapped(f.device, f.memory, 0, data)
		assert.For(ctx, "%v unmapped", strategy).ThatError(err).Is(tracker.ErrNotMapped)
	}
}

func TestLayoutsCommitOnSubmit(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, config.Default())
	img := f.create(f.device, &driver.ImageInfo{
		Format:  driver.FormatR8G8B8A8Unorm,
		Width:   4,
		Height:  4,
		Depth:   1,
		Mips:    1,
		Layers:  1,
		Samples: 1,
		Usage:   driver.ImageUsageTransferDst,
	})
	must(t, f.tr.BindImageMemory(f.device, img, f.memory, 1024))

	cb := f.commands(driver.LevelPrimary,
		&driver.PipelineBarrier{Images: []driver.ImageBarrier{{
			Image:     img,
			Range:     driver.Subresources{Mips: 1, Layers: 1},
			OldLayout: driver.LayoutUndefined,
			NewLayout: driver.LayoutTransferDst,
			DstAccess: driver.AccessTransferWrite,
			SrcFamily: driver.QueueFamilyIgnored,
			DstFamily: driver.QueueFamilyIgnored,
		}}},
		&driver.ClearColorImage{
			Image:  img,
			Layout: driver.LayoutTransferDst,
			Texel:  []byte{1, 2, 3, 4},
			Range:  driver.Subresources{Mips: 1, Layers: 1},
		},
	)
	st := f.record(driver.Image, img).State.(*tracker.ImageState)
	assert.For(ctx, "recorded").That(st.Slices[0].Layout).Equals(driver.LayoutUndefined)
	assert.For(ctx, "not yet defined").ThatBoolean(st.Defined).IsFalse()

	f.submit(0, cb)
	assert.For(ctx, "layout").That(st.Slices[0].Layout).Equals(driver.LayoutTransferDst)
	assert.For(ctx, "access").That(st.Slices[0].Access).Equals(driver.AccessTransferWrite)
	assert.For(ctx, "defined").ThatBoolean(st.Defined).IsTrue()
	assert.For(ctx, "queue").That(st.Queue).Equals(f.record(driver.Queue, f.queue).ID)

	cbs := f.record(driver.CommandBuffer, cb).State.(*tracker.CommandBufferState)
	assert.For(ctx, "one time").That(cbs.Status).Equals(tracker.Invalid)
	err := f.tr.QueueSubmit(f.queue, []driver.Submit{{CommandBuffers: []driver.Handle{cb}}}, 0)
	assert.For(ctx, "resubmit").ThatError(err).Is(tracker.ErrBadState)
}

func TestWritesOrderByStamp(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, config.Default())
	a := f.buffer(0, 1024)
	b := f.buffer(512, 1024)
	f.submit(0, f.commands(driver.LevelPrimary,
		&driver.FillBuffer{Buffer: a, Size: 1024, Data: 1},
		&driver.FillBuffer{Buffer: b, Size: 1024, Data: 2},
	))
	overlaps, err := f.tr.ResolveAliasing(f.memory, interval.U64Span{Start: 512, End: 1024})
	assert.For(ctx, "resolve").ThatError(err).Succeeded()
	assert.For(ctx, "pieces").ThatSlice(overlaps).IsLength(1)
	assert.For(ctx, "winner").That(overlaps[0].Winner).Equals(f.record(driver.Buffer, b).ID)

	f.submit(0, f.commands(driver.LevelPrimary, &driver.FillBuffer{Buffer: a, Size: 1024, Data: 3}))
	overlaps, _ = f.tr.ResolveAliasing(f.memory, interval.U64Span{Start: 512, End: 1024})
	assert.For(ctx, "rewritten").That(overlaps[0].Winner).Equals(f.record(driver.Buffer, a).ID)
}

func TestSecondaryEffectsMerge(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, config.Default())
	b := f.buffer(0, 64)
	event := f.create(f.device, &driver.EventInfo{})
	sec := f.commands(driver.LevelSecondary,
		&driver.FillBuffer{Buffer: b, Size: 64, Data: 7},
		&driver.SetEvent{Event: event},
	)
	bs := f.record(driver.Buffer, b).State.(*tracker.BufferState)
	assert.For(ctx, "pending").ThatBoolean(bs.Defined).IsFalse()

	f.submit(0, f.commands(driver.LevelPrimary, &driver.ExecuteCommands{CommandBuffers: []driver.Handle{sec}}))
	assert.For(ctx, "defined").ThatBoolean(bs.Defined).IsTrue()
	es := f.record(driver.Event, event).State.(*tracker.EventState)
	assert.For(ctx, "event").ThatBoolean(es.Set).IsTrue()
	set, err := f.soft.EventSet(event)
	assert.For(ctx, "driver event").ThatError(err).Succeeded()
	assert.For(ctx, "driver agrees").ThatBoolean(set).IsTrue()
}

func TestQueriesCommitOnSubmit(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, config.Default())
	pool := f.create(f.device, &driver.QueryPoolInfo{Count: 4})
	f.submit(0, f.commands(driver.LevelPrimary,
		&driver.ResetQueryPool{Pool: pool, First: 0, Count: 4},
		&driver.BeginQuery{Pool: pool, Query: 1},
		&driver.EndQuery{Pool: pool, Query: 1},
		&driver.BeginQuery{Pool: pool, Query: 2},
	))
	ps := f.record(driver.QueryPool, pool).State.(*tracker.QueryPoolState)
	assert.For(ctx, "status").ThatSlice(ps.Status).Equals([]tracker.QueryStatus{
		tracker.QueryInactive, tracker.QueryComplete, tracker.QueryActive, tracker.QueryInactive,
	})
}

func TestFenceVisibilityDelay(t *testing.T) {
	ctx := log.Testing(t)
	cfg := config.Default()
	cfg.DelayedFenceVisibilityPolls = 2
	f := newFixture(t, cfg)
	fence := f.create(f.device, &driver.FenceInfo{})
	f.submit(fence, f.commands(driver.LevelPrimary))

	q := f.record(driver.Queue, f.queue).State.(*tracker.QueueState)
	assert.For(ctx, "in flight").ThatSlice(q.InFlight).IsLength(1)
	for i, expect := range []bool{false, false, true, true} {
		signaled, err := f.tr.FenceStatus(f.device, fence)
		assert.For(ctx, "poll %d", i).ThatError(err).Succeeded()
		assert.For(ctx, "poll %d", i).ThatBoolean(signaled).Equals(expect)
	}
	assert.For(ctx, "retired").ThatSlice(q.InFlight).IsEmpty()

	must(t, f.tr.ResetFences(f.device, []driver.Handle{fence}))
	fs := f.record(driver.Fence, fence).State.(*tracker.FenceState)
	assert.For(ctx, "reset").ThatBoolean(fs.Signaled).IsFalse()
}

func TestFreezeFlushesAndReads(t *testing.T) {
	ctx := log.Testing(t)
	cfg := config.Default()
	cfg.DirtyTrackingStrategy = config.ShadowCopy
	f := newFixture(t, cfg)
	b := f.buffer(256, 256)
	view, err := f.tr.MapMemory(f.device, f.memory, 256, 512)
	assert.For(ctx, "map").ThatError(err).Succeeded()
	copy(view[16:], []byte("hello"))

	frozen, err := f.tr.Freeze(ctx)
	assert.For(ctx, "freeze").ThatError(err).Succeeded()
	bs := f.record(driver.Buffer, b).State.(*tracker.BufferState)
	assert.For(ctx, "flushed").ThatBoolean(bs.Defined).IsTrue()

	mem := f.record(driver.DeviceMemory, f.memory).ID
	got, err := frozen.ReadMemory(mem, interval.U64Span{Start: 272, End: 277})
	assert.For(ctx, "read").ThatError(err).Succeeded()
	assert.For(ctx, "bytes").ThatString(string(got)).Equals("hello")
	_, err = frozen.ReadMemory(mem, interval.U64Span{Start: 0, End: 16})
	assert.For(ctx, "outside mapping").ThatError(err).Is(tracker.ErrOutOfRange)
	frozen.Release()

	must(t, f.tr.UnmapMemory(f.device, f.memory))
	frozen, err = f.tr.Freeze(ctx)
	assert.For(ctx, "refreeze").ThatError(err).Succeeded()
	defer frozen.Release()
	got, err = frozen.ReadMemory(mem, interval.U64Span{Start: 272, End: 277})
	assert.For(ctx, "unmapped read").ThatError(err).Succeeded()
	assert.For(ctx, "unmapped bytes").ThatString(string(got)).Equals("hello")
}

func TestSparseBindingTracked(t *testing.T) {
	ctx := log.Testing(t)
	f := newFixture(t, config.Default())
	second := f.create(f.device, &driver.MemoryInfo{Size: 4096})
	b := f.create(f.device, &driver.BufferInfo{Size: 2048, Sparse: true})
	ref := driver.Ref{Kind: driver.Buffer, Handle: b}
	must(t, f.tr.BindSparse(f.queue, []driver.SparseBind{
		{Resource: ref, ResourceOffset: 0, Size: 2048, Memory: f.memory, MemoryOffset: 0},
		{Resource: ref, ResourceOffset: 1024, Size: 512, Memory: second, MemoryOffset: 512},
	}))
	rec := f.record(driver.Buffer, b)
	bs := rec.State.(*tracker.BufferState)
	mem := f.record(driver.DeviceMemory, f.memory).ID
	sec := f.record(driver.DeviceMemory, second).ID
	assert.For(ctx, "sparse").That(bs.Sparse).DeepEquals(tracker.SparseList{
		{ResourceOffset: 0, Size: 1024, Memory: mem, MemoryOffset: 0},
		{ResourceOffset: 1024, Size: 512, Memory: sec, MemoryOffset: 512},
		{ResourceOffset: 1536, Size: 512, Memory: mem, MemoryOffset: 1536},
	})
	overlaps, err := f.tr.ResolveAliasing(f.memory, interval.U64Span{Start: 0, End: 4096})
	assert.For(ctx, "resolve").ThatError(err).Succeeded()
	assert.For(ctx, "split occupancy").ThatInteger(len(overlaps)).Equals(2)
	assert.For(ctx, "first").That(overlaps[0].Span).Equals(interval.U64Span{Start: 0, End: 1024})
	assert.For(ctx, "second").That(overlaps[1].Span).Equals(interval.U64Span{Start: 1536, End: 2048})
}

// noAddress is a table that cannot report buffer device addresses.
type noAddress struct{ driver.Table }

func (noAddress) BufferDeviceAddress(device, buffer driver.Handle) (uint64, error) {
	return 0, driver.ErrUnsupported
}

func TestBindSurvivesAddressFailure(t *testing.T) {
	ctx := log.Testing(t)
	tr := tracker.New(ctx, noAddress{soft.New(soft.Options{})}, config.Default(), nil)
	instance, err := tr.Create(0, &driver.InstanceInfo{Application: "test"})
	must(t, err)
	device, err := tr.Create(instance, &driver.DeviceInfo{})
	must(t, err)
	memory, err := tr.Create(device, &driver.MemoryInfo{Size: 4096, DeviceAddress: true})
	must(t, err)
	b, err := tr.Create(device, &driver.BufferInfo{Size: 256, Usage: driver.BufferUsageDeviceAddress})
	must(t, err)

	assert.For(ctx, "bind").ThatError(tr.BindBufferMemory(device, b, memory, 0)).Succeeded()
	rec, err := tr.Registry().Lookup(driver.Buffer, b)
	must(t, err)
	mem, err := tr.Registry().Lookup(driver.DeviceMemory, memory)
	must(t, err)
	bs := rec.State.(*tracker.BufferState)
	assert.For(ctx, "bound").That(bs.Dense.Memory).Equals(mem.ID)
	assert.For(ctx, "address").That(bs.Address).Equals(uint64(0))
}
