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

// Package tracker shadows the state of a graphics driver.
//
// A Tracker wraps a driver.Table and implements it: every call is forwarded
// to the wrapped table and, when it succeeds, the object graph, memory
// bindings, mapped memory contents and the effects of recorded command
// buffers are updated to match. The shadow is what a restore pass walks to
// rebuild the same state on another driver.
package tracker

import (
	"context"
	"sync"

	"github.com/google/substate/config"
	"github.com/google/substate/core/log"
	"github.com/google/substate/core/math/interval"
	"github.com/google/substate/driver"
	"github.com/google/substate/record"
	"github.com/pkg/errors"
)

// RecordSink receives the memory update records produced when mapped memory
// is flushed.
type RecordSink interface {
	WriteMemoryUpdate(u *record.MemoryUpdate) error
}

// Tracker is a driver.Table that tracks the state of the table it wraps.
// It is safe for concurrent use.
type Tracker struct {
	ctx   context.Context
	inner driver.Table
	cfg   config.Config
	sink  RecordSink
	reg   *Registry

	// mu guards the State of every record.
	mu    sync.Mutex
	stamp Stamp
}

var (
	_ driver.Table      = (*Tracker)(nil)
	_ driver.HostWriter = (*Tracker)(nil)
)

// New returns a tracker wrapping inner. ctx is used for logging. sink may be
// nil.
func New(ctx context.Context, inner driver.Table, cfg config.Config, sink RecordSink) *Tracker {
	t := &Tracker{
		ctx:   ctx,
		inner: inner,
		cfg:   cfg,
		sink:  sink,
		reg:   NewRegistry(),
	}
	t.reg.onUntrack = t.untracked
	return t
}

// Registry returns the registry of tracked objects.
func (t *Tracker) Registry() *Registry { return t.reg }

// Inner returns the wrapped table.
func (t *Tracker) Inner() driver.Table { return t.inner }

func (t *Tracker) nextStamp() Stamp {
	t.stamp++
	return t.stamp
}

// resolver maps handles to the identities of the live objects they name,
// keeping the first failure.
type resolver struct {
	reg *Registry
	err error
}

func (r *resolver) remap(ref driver.Ref) driver.Handle {
	rec, err := r.reg.Lookup(ref.Kind, ref.Handle)
	if err != nil {
		if r.err == nil {
			r.err = err
		}
		return 0
	}
	return driver.Handle(rec.ID)
}

// get returns the live or retired record named by an identity space handle.
func (t *Tracker) get(h driver.Handle) *Record {
	return t.reg.Get(ID(h))
}

// Create implements driver.Table.
func (t *Tracker) Create(parent driver.Handle, info driver.CreateInfo) (driver.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kind := info.Kind()
	var parentID ID
	if pk := kind.ParentKind(); pk != driver.KindUnknown {
		p, err := t.reg.Lookup(pk, parent)
		if err != nil {
			return 0, errors.Wrapf(err, "Creating %v", kind)
		}
		parentID = p.ID
	}
	r := resolver{reg: t.reg}
	identities := info.Remap(r.remap)
	if r.err != nil {
		return 0, errors.Wrapf(r.err, "Creating %v", kind)
	}
	h, err := t.inner.Create(parent, info)
	if err != nil {
		return 0, err
	}
	state := newState(identities)
	t.reg.Track(t.ctx, h, identities, parentID, state)
	if as, ok := state.(*AccelerationStructureState); ok {
		if as.Address, err = t.inner.AccelerationStructureAddress(parent, h); err != nil {
			return h, errors.Wrap(err, "Querying acceleration structure address")
		}
	}
	return h, nil
}

// Destroy implements driver.Table.
func (t *Tracker) Destroy(parent driver.Handle, kind driver.Kind, h driver.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.reg.Lookup(kind, h); err != nil {
		return errors.Wrap(err, "Destroying")
	}
	if err := t.inner.Destroy(parent, kind, h); err != nil {
		return err
	}
	return t.reg.Untrack(kind, h)
}

// untracked releases the bindings and mappings of a record as it is erased.
func (t *Tracker) untracked(rec *Record, get func(ID) *Record) {
	switch s := rec.State.(type) {
	case *BufferState, *ImageState:
		for _, p := range resource(s).Pieces() {
			if m := get(p.Memory); m != nil {
				if ms, ok := m.State.(*MemoryState); ok {
					ms.Aliasing.RemoveAll(rec.ID)
				}
			}
		}
	case *MemoryState:
		if s.Mapping != nil {
			if err := s.Mapping.dirty.Close(); err != nil {
				log.W(t.ctx, "Releasing the mapping of %v: %v", rec, err)
			}
			s.Mapping = nil
		}
	}
}

func (t *Tracker) memory(h driver.Handle) (*Record, *MemoryState, error) {
	m, err := t.reg.Lookup(driver.DeviceMemory, h)
	if err != nil {
		return nil, nil, err
	}
	return m, m.State.(*MemoryState), nil
}

func (t *Tracker) bind(kind driver.Kind, device, res, mem driver.Handle, offset uint64, call func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.reg.Lookup(kind, res)
	if err != nil {
		return errors.Wrap(err, "Binding memory")
	}
	m, ms, err := t.memory(mem)
	if err != nil {
		return errors.Wrap(err, "Binding memory")
	}
	if err := call(); err != nil {
		return err
	}
	rs := resource(r.State)
	if rs.Dense != nil {
		if old := t.reg.Get(rs.Dense.Memory); old != nil {
			old.State.(*MemoryState).Aliasing.RemoveAll(r.ID)
		}
	}
	rs.Dense = &Binding{Memory: m.ID, Offset: offset, Size: rs.Size}
	ms.Aliasing.Insert(r.ID, interval.U64Span{Start: offset, End: offset + rs.Size}, rs.Stamp)
	if bs, ok := r.State.(*BufferState); ok {
		t.queryAddress(device, r, bs)
	}
	return nil
}

func (t *Tracker) queryAddress(device driver.Handle, r *Record, bs *BufferState) {
	if bs.Usage&driver.BufferUsageDeviceAddress == 0 || bs.Address != 0 {
		return
	}
	addr, err := t.inner.BufferDeviceAddress(device, r.Handle)
	if err != nil {
		log.W(t.ctx, "Querying the device address of %v: %v", r, err)
		return
	}
	bs.Address = addr
}

// BindBufferMemory implements driver.Table.
func (t *Tracker) BindBufferMemory(device, buffer, memory driver.Handle, offset uint64) error {
	return t.bind(driver.Buffer, device, buffer, memory, offset, func() error {
		return t.inner.BindBufferMemory(device, buffer, memory, offset)
	})
}

// BindImageMemory implements driver.Table.
func (t *Tracker) BindImageMemory(device, image, memory driver.Handle, offset uint64) error {
	return t.bind(driver.Image, device, image, memory, offset, func() error {
		return t.inner.BindImageMemory(device, image, memory, offset)
	})
}

// BindSparse implements driver.Table. Later binds truncate or split the
// earlier binds they overlap.
func (t *Tracker) BindSparse(queue driver.Handle, binds []driver.SparseBind) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, err := t.reg.Lookup(driver.Queue, queue)
	if err != nil {
		return errors.Wrap(err, "Binding sparse memory")
	}
	type resolved struct {
		res *Record
		mem *Record
	}
	rs := make([]resolved, len(binds))
	for i, b := range binds {
		if rs[i].res, err = t.reg.Lookup(b.Resource.Kind, b.Resource.Handle); err != nil {
			return errors.Wrap(err, "Binding sparse memory")
		}
		if resource(rs[i].res.State) == nil {
			return errors.Wrapf(ErrWrongKind, "Sparse binding %v", rs[i].res)
		}
		if b.Memory != 0 {
			if rs[i].mem, _, err = t.memory(b.Memory); err != nil {
				return errors.Wrap(err, "Binding sparse memory")
			}
		}
	}
	if err := t.inner.BindSparse(queue, binds); err != nil {
		return err
	}
	device := t.reg.Get(q.Parent)
	for i, b := range binds {
		r := rs[i].res
		res := resource(r.State)
		span := interval.U64Span{Start: b.ResourceOffset, End: b.ResourceOffset + b.Size}
		for _, old := range res.Sparse.Overlapping(span) {
			if m := t.reg.Get(old.Memory); m != nil {
				m.State.(*MemoryState).Aliasing.Remove(r.ID, old.MemorySpan())
			}
		}
		sb := SparseBinding{ResourceOffset: b.ResourceOffset, Size: b.Size, MemoryOffset: b.MemoryOffset}
		if rs[i].mem != nil {
			sb.Memory = rs[i].mem.ID
		}
		if res.Sparse, err = res.Sparse.Add(sb); err != nil {
			return err
		}
		if rs[i].mem != nil {
			rs[i].mem.State.(*MemoryState).Aliasing.Insert(r.ID, sb.MemorySpan(), res.Stamp)
		}
		res.Queue = q.ID
		if bs, ok := r.State.(*BufferState); ok && device != nil {
			t.queryAddress(device.Handle, r, bs)
		}
	}
	return nil
}

// BufferDeviceAddress implements driver.Table.
func (t *Tracker) BufferDeviceAddress(device, buffer driver.Handle) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.reg.Lookup(driver.Buffer, buffer)
	if err != nil {
		return 0, err
	}
	addr, err := t.inner.BufferDeviceAddress(device, buffer)
	if err != nil {
		return 0, err
	}
	r.State.(*BufferState).Address = addr
	return addr, nil
}

// AccelerationStructureAddress implements driver.Table.
func (t *Tracker) AccelerationStructureAddress(device, as driver.Handle) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.reg.Lookup(driver.AccelerationStructure, as)
	if err != nil {
		return 0, err
	}
	addr, err := t.inner.AccelerationStructureAddress(device, as)
	if err != nil {
		return 0, err
	}
	r.State.(*AccelerationStructureState).Address = addr
	return addr, nil
}

// UpdateDescriptorSets implements driver.Table.
func (t *Tracker) UpdateDescriptorSets(device driver.Handle, writes []driver.DescriptorWrite) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := resolver{reg: t.reg}
	identities := make([]driver.DescriptorWrite, len(writes))
	for i, w := range writes {
		identities[i] = w.Remap(r.remap)
	}
	if r.err != nil {
		return errors.Wrap(r.err, "Updating descriptor sets")
	}
	if err := t.inner.UpdateDescriptorSets(device, writes); err != nil {
		return err
	}
	for _, w := range identities {
		set := t.get(w.Set).State.(*DescriptorSetState)
		set.Writes[Slot{w.Binding, w.Element}] = w
	}
	return nil
}

// SetEvent implements driver.Table.
func (t *Tracker) SetEvent(device, event driver.Handle, set bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.reg.Lookup(driver.Event, event)
	if err != nil {
		return err
	}
	if err := t.inner.SetEvent(device, event, set); err != nil {
		return err
	}
	s := r.State.(*EventState)
	s.Set, s.Used = set, true
	return nil
}

// ResolveAliasing returns the pieces of span of a memory object together
// with the resources occupying them and the most recently written one.
func (t *Tracker) ResolveAliasing(memory driver.Handle, span interval.U64Span) ([]Overlap, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ms, err := t.memory(memory)
	if err != nil {
		return nil, err
	}
	return ms.Aliasing.Resolve(span), nil
}

// touch marks a resource as written at stamp by queue.
func (t *Tracker) touch(rec *Record, stamp Stamp, queue ID) {
	rs := resource(rec.State)
	if rs == nil {
		return
	}
	rs.Stamp, rs.Defined = stamp, true
	if queue != 0 {
		rs.Queue = queue
	}
	for _, p := range rs.Pieces() {
		if m := t.reg.Get(p.Memory); m != nil {
			m.State.(*MemoryState).Aliasing.Touch(rec.ID, stamp)
		}
	}
}
