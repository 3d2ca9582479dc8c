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

package rebuild

import (
	"sort"

	"github.com/google/substate/config"
	"github.com/google/substate/core/log"
	"github.com/google/substate/core/math/interval"
	"github.com/google/substate/driver"
	"github.com/google/substate/tracker"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

const (
	// blockSize is the granularity of host-visible memory reads.
	blockSize = 64 << 10
	// blockCacheSize is the number of blocks kept in the read cache.
	blockCacheSize = 256
	// stagingAlign is the alignment of each item in a staging buffer.
	stagingAlign = 16
)

// item is one unit of content read back through a staging buffer: a range
// of a buffer or one subresource of an image.
type item struct {
	rec    *tracker.Record
	image  *tracker.ImageState
	offset uint64
	size   uint64
	mip    uint32
	layer  uint32
	// staging is the offset of the item in the staging buffer.
	staging uint64
}

func (it *item) subresource() driver.Subresources {
	return driver.Subresources{BaseMip: it.mip, Mips: 1, BaseLayer: it.layer, Layers: 1}
}

func (it *item) slice() tracker.Slice {
	return it.image.Slices[it.image.Info.Subresource(it.mip, it.layer)]
}

// episode is a set of items that share one staging buffer.
type episode struct {
	items []*item
	size  uint64
}

type blockKey struct {
	memory tracker.ID
	block  uint64
}

type block struct {
	start uint64
	data  []byte
}

// content restores the bytes of buffers and images and the layouts of
// images.
type content struct {
	b      *builder
	blocks *lru.Cache
	// items and transitions are keyed by device.
	items       map[tracker.ID][]*item
	transitions map[tracker.ID][]driver.ImageBarrier
}

func (b *builder) contents() error {
	blocks, err := lru.New(blockCacheSize)
	if err != nil {
		return err
	}
	c := &content{
		b:           b,
		blocks:      blocks,
		items:       map[tracker.ID][]*item{},
		transitions: map[tracker.ID][]driver.ImageBarrier{},
	}
	if b.cfg.RestoreBuffers != config.BuffersNone {
		for _, rec := range b.reg.Live(driver.Buffer) {
			if err := c.buffer(rec); err != nil {
				return err
			}
		}
	}
	for _, rec := range b.reg.Live(driver.Image) {
		if err := c.image(rec); err != nil {
			return err
		}
	}
	for _, device := range sortedKeys(c.items) {
		if err := c.readback(device, c.items[device]); err != nil {
			return err
		}
	}
	for _, device := range sortedKeys(c.transitions) {
		cmds := []driver.Command{&driver.PipelineBarrier{Images: c.transitions[device]}}
		if err := b.report(b.submit(device, "restore layouts", cmds)); err != nil {
			return err
		}
	}
	return nil
}

// memory returns the live, recreated memory of a binding, or nil.
func (c *content) memory(id tracker.ID) (*tracker.Record, *tracker.MemoryState) {
	m := c.b.reg.Get(id)
	if m == nil || !m.Live() || !c.b.created[id] {
		return nil, nil
	}
	return m, m.State.(*tracker.MemoryState)
}

func (c *content) buffer(rec *tracker.Record) error {
	b := c.b
	st := rec.State.(*tracker.BufferState)
	if !st.Defined || !b.created[rec.ID] {
		return nil
	}
	for _, p := range st.Pieces() {
		m, ms := c.memory(p.Memory)
		if m == nil {
			err := omission(rec, errors.Wrapf(ErrMissingDependency, "content bound to %v", p.Memory))
			if err := b.report(err); err != nil {
				return err
			}
			continue
		}
		if !ms.HostVisible && b.cfg.RestoreBuffers == config.BuffersHostVisible {
			continue
		}
		for _, s := range ms.Aliasing.Owned(rec.ID, p.MemorySpan()) {
			at := p.ResourceOffset + (s.Start - p.MemoryOffset)
			if !ms.HostVisible {
				c.stage(rec, at, s.Size())
				continue
			}
			window := readable(ms)
			if in, ok := s.Clip(window); ok {
				if err := c.write(rec, m, in, at+(in.Start-s.Start)); err != nil {
					return err
				}
			}
			if s.Start < window.Start {
				end := min(s.End, window.Start)
				c.stage(rec, at, end-s.Start)
			}
			if s.End > window.End {
				start := max(s.Start, window.End)
				c.stage(rec, at+(start-s.Start), s.End-start)
			}
		}
	}
	return nil
}

// readable returns the range of memory that can be read from the host.
// Memory the application has mapped is only readable within the mapping.
func readable(ms *tracker.MemoryState) interval.U64Span {
	if ms.Mapping != nil {
		return ms.Mapping.Span()
	}
	return interval.U64Span{End: ms.Size}
}

// stage queues [offset, offset+size) of a buffer for readback, in pieces
// that fit the staging budget.
func (c *content) stage(rec *tracker.Record, offset, size uint64) {
	budget := c.b.cfg.StagingBudgetBytes
	for size > 0 {
		n := min(size, budget)
		c.items[rec.Parent] = append(c.items[rec.Parent], &item{rec: rec, offset: offset, size: n})
		offset, size = offset+n, size-n
	}
}

// write emits the host-visible span of memory m as direct memory writes.
// at is the offset of span in the buffer.
func (c *content) write(rec, m *tracker.Record, span interval.U64Span, at uint64) error {
	b := c.b
	for start := span.Start; start < span.End; {
		index := start / blockSize
		end := min(span.End, (index+1)*blockSize)
		blk, err := c.block(m, index)
		if err != nil {
			return fatal(m, err)
		}
		data := blk.data[start-blk.start : end-blk.start]
		b.plan.add(&WriteMemoryOp{Device: m.Parent, Memory: m.ID, Offset: start, Size: end - start, Blob: b.plan.addBlob(data)})
		b.restored[rec.ID] = append(b.restored[rec.ID], chunk{offset: at + (start - span.Start), data: data})
		start = end
	}
	return nil
}

// block returns the readable part of one block of host-visible memory.
func (c *content) block(m *tracker.Record, index uint64) (*block, error) {
	key := blockKey{m.ID, index}
	if v, ok := c.blocks.Get(key); ok {
		return v.(*block), nil
	}
	ms := m.State.(*tracker.MemoryState)
	span := interval.U64Span{Start: index * blockSize, End: min((index+1)*blockSize, ms.Size)}
	span, ok := span.Clip(readable(ms))
	if !ok {
		return nil, errors.Wrapf(tracker.ErrOutOfRange, "block %d of %v", index, m)
	}
	data, err := c.b.f.ReadMemory(m.ID, span)
	if err != nil {
		return nil, err
	}
	blk := &block{start: span.Start, data: data}
	c.blocks.Add(key, blk)
	return blk, nil
}

func (c *content) image(rec *tracker.Record) error {
	b := c.b
	st := rec.State.(*tracker.ImageState)
	if !b.created[rec.ID] || !st.HasDefinedLayout() {
		return nil
	}
	info := st.Info
	restore := b.cfg.RestoreImages && st.Bound()
	if info.Multisampled() {
		log.D(b.ctx, "%v is multisampled, restoring layouts only", rec)
		restore = false
	}
	var err error
	info.All().Each(func(mip, layer uint32) {
		sl := st.Slices[info.Subresource(mip, layer)]
		if sl.Layout == driver.LayoutUndefined || err != nil {
			return
		}
		offset, size := info.SubresourceOffset(mip, layer), info.SubresourceSize(mip)
		if restore && c.owned(rec, &st.Resource, offset, offset+size) {
			if size <= b.cfg.StagingBudgetBytes {
				c.items[rec.Parent] = append(c.items[rec.Parent], &item{rec: rec, image: st, offset: offset, size: size, mip: mip, layer: layer})
				return
			}
			err = b.report(omission(rec, errors.Errorf("mip %d layer %d is larger than the staging budget", mip, layer)))
		}
		c.transitions[rec.Parent] = append(c.transitions[rec.Parent], driver.ImageBarrier{
			Image:     driver.Handle(rec.ID),
			Range:     driver.Subresources{BaseMip: mip, Mips: 1, BaseLayer: layer, Layers: 1},
			OldLayout: driver.LayoutUndefined,
			NewLayout: sl.Layout,
			DstAccess: sl.Access,
			SrcFamily: driver.QueueFamilyIgnored,
			DstFamily: driver.QueueFamilyIgnored,
		})
	})
	return err
}

// owned returns true if every byte of [start, end) of the resource is bound
// to recreated memory where the resource holds the authoritative bytes.
func (c *content) owned(rec *tracker.Record, rs *tracker.Resource, start, end uint64) bool {
	covered := uint64(0)
	for _, p := range rs.Pieces() {
		lo, hi := max(start, p.ResourceOffset), min(end, p.ResourceOffset+p.Size)
		if lo >= hi {
			continue
		}
		m, ms := c.memory(p.Memory)
		if m == nil {
			return false
		}
		span := interval.U64Span{Start: p.MemoryOffset + (lo - p.ResourceOffset), End: p.MemoryOffset + (hi - p.ResourceOffset)}
		owned := ms.Aliasing.Owned(rec.ID, span)
		if len(owned) != 1 || owned[0] != span {
			return false
		}
		covered += hi - lo
	}
	return covered == end-start
}

// pack places items largest first into the first episode with room.
func pack(items []*item, budget uint64) []*episode {
	sorted := append([]*item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].size > sorted[j].size })
	var out []*episode
	for _, it := range sorted {
		var ep *episode
		for _, e := range out {
			if align(e.size)+it.size <= budget {
				ep = e
				break
			}
		}
		if ep == nil {
			ep = &episode{}
			out = append(out, ep)
		}
		it.staging = align(ep.size)
		ep.size = it.staging + it.size
		ep.items = append(ep.items, it)
	}
	return out
}

func align(v uint64) uint64 { return (v + stagingAlign - 1) &^ (stagingAlign - 1) }

// readback copies the items of a device into staging buffers episode by
// episode and emits the writes that restore them.
func (c *content) readback(device tracker.ID, items []*item) error {
	b := c.b
	dev := b.reg.Get(device)
	q := b.queueFor(device, false)
	if q == nil {
		return b.report(&Error{Class: Omission, Object: device, Kind: driver.Device, Cause: errors.Wrap(ErrNoQueue, "content readback")})
	}
	episodes := pack(items, b.cfg.StagingBudgetBytes)
	log.D(b.ctx, "Reading back %d items in %d episodes from %v", len(items), len(episodes), dev)
	pool, err := NewPool(b.ctx, b.table, PoolOptions{
		Device:      dev.Handle,
		Queue:       q.Handle,
		Family:      q.State.(*tracker.QueueState).Family,
		Depth:       b.cfg.RestorePoolDepth,
		StagingSize: b.cfg.StagingBudgetBytes,
	})
	if err != nil {
		return fatal(dev, err)
	}
	for _, ep := range episodes {
		slot, err := pool.Acquire(b.ctx)
		if err != nil {
			pool.Free(b.ctx)
			return fatal(dev, err)
		}
		ep := ep
		done := func(data []byte) error { return c.emit(device, ep, data) }
		if err := pool.Submit(slot, liveCopies(ep, slot.Buffer), ep.size, done); err != nil {
			pool.Release(slot)
			pool.Free(b.ctx)
			return fatal(dev, err)
		}
	}
	if err := pool.Free(b.ctx); err != nil {
		return fatal(dev, err)
	}
	return nil
}

// liveCopies returns the commands that copy the items of an episode from
// the live resources into staging. Images are moved to TRANSFER_SRC for the
// copy and back to their layouts afterwards.
func liveCopies(ep *episode, staging driver.Handle) []driver.Command {
	var pre, post []driver.ImageBarrier
	var copies []driver.Command
	for _, it := range ep.items {
		if it.image == nil {
			copies = append(copies, &driver.CopyBuffer{
				Src:     it.rec.Handle,
				Dst:     staging,
				Regions: []driver.BufferCopy{{SrcOffset: it.offset, DstOffset: it.staging, Size: it.size}},
			})
			continue
		}
		sl := it.slice()
		pre = append(pre, barrier(it.rec.Handle, it.subresource(), sl.Layout, driver.LayoutTransferSrc, sl.Access, driver.AccessTransferRead))
		copies = append(copies, &driver.CopyImageToBuffer{
			Image:   it.rec.Handle,
			Layout:  driver.LayoutTransferSrc,
			Buffer:  staging,
			Regions: []driver.ImageCopy{{BufferOffset: it.staging, Mip: it.mip, Layer: it.layer}},
		})
		post = append(post, barrier(it.rec.Handle, it.subresource(), driver.LayoutTransferSrc, sl.Layout, driver.AccessTransferRead, sl.Access))
	}
	return withBarriers(pre, copies, post)
}

// emit adds the ops that write the read back bytes of an episode into the
// recreated resources.
func (c *content) emit(device tracker.ID, ep *episode, data []byte) error {
	b := c.b
	mem, buf := b.reg.NewID(), b.reg.NewID()
	b.plan.add(&CreateOp{ID: mem, Parent: device, Info: &driver.MemoryInfo{Size: ep.size, HostVisible: true}, Transient: true})
	b.created[mem] = true
	info := &driver.BufferInfo{Size: ep.size, Usage: driver.BufferUsageTransferSrc | driver.BufferUsageTransferDst}
	b.plan.add(&CreateOp{ID: buf, Parent: device, Info: info, Transient: true})
	b.created[buf] = true
	b.plan.add(&BindMemoryOp{Device: device, Resource: buf, Kind: driver.Buffer, Memory: mem})

	staging := driver.Handle(buf)
	var pre, post []driver.ImageBarrier
	var copies []driver.Command
	for _, it := range ep.items {
		payload := data[it.staging : it.staging+it.size]
		b.plan.add(&WriteMemoryOp{Device: device, Memory: mem, Offset: it.staging, Size: it.size, Blob: b.plan.addBlob(payload)})
		target := driver.Handle(it.rec.ID)
		if it.image == nil {
			copies = append(copies, &driver.CopyBuffer{
				Src:     staging,
				Dst:     target,
				Regions: []driver.BufferCopy{{SrcOffset: it.staging, DstOffset: it.offset, Size: it.size}},
			})
			b.restored[it.rec.ID] = append(b.restored[it.rec.ID], chunk{offset: it.offset, data: payload})
			continue
		}
		sl := it.slice()
		pre = append(pre, barrier(target, it.subresource(), driver.LayoutUndefined, driver.LayoutTransferDst, 0, driver.AccessTransferWrite))
		copies = append(copies, &driver.CopyBufferToImage{
			Buffer:  staging,
			Image:   target,
			Layout:  driver.LayoutTransferDst,
			Regions: []driver.ImageCopy{{BufferOffset: it.staging, Mip: it.mip, Layer: it.layer}},
		})
		post = append(post, barrier(target, it.subresource(), driver.LayoutTransferDst, sl.Layout, driver.AccessTransferWrite, sl.Access))
	}
	if err := b.submit(device, "restore contents", withBarriers(pre, copies, post)); err != nil {
		return err
	}
	b.destroy(buf, device, driver.Buffer)
	b.destroy(mem, device, driver.DeviceMemory)
	return nil
}

func barrier(image driver.Handle, r driver.Subresources, from, to driver.Layout, src, dst driver.Access) driver.ImageBarrier {
	return driver.ImageBarrier{
		Image:     image,
		Range:     r,
		OldLayout: from,
		NewLayout: to,
		SrcAccess: src,
		DstAccess: dst,
		SrcFamily: driver.QueueFamilyIgnored,
		DstFamily: driver.QueueFamilyIgnored,
	}
}

func withBarriers(pre []driver.ImageBarrier, cmds []driver.Command, post []driver.ImageBarrier) []driver.Command {
	out := make([]driver.Command, 0, len(cmds)+2)
	if len(pre) > 0 {
		out = append(out, &driver.PipelineBarrier{Images: pre})
	}
	out = append(out, cmds...)
	if len(post) > 0 {
		out = append(out, &driver.PipelineBarrier{Images: post})
	}
	return out
}
