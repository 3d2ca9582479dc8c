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

// Package soft is an in-process implementation of driver.Table.
//
// Objects live in host memory. Commands recorded into command buffers are
// executed when submitted; shaders are never run, so draws and dispatches
// have no effect on memory. Fences can complete immediately or be left
// pending until SignalFence is called, which lets tests control exactly when
// submitted work becomes visible.
package soft

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/substate/core/math/interval"
	"github.com/google/substate/driver"
	"github.com/pkg/errors"
)

// Options controls the behaviour of a Driver.
type Options struct {
	// ManualFences leaves fences unsignaled after submission until
	// SignalFence or QueueWaitIdle is called.
	ManualFences bool
	// ReuseHandles hands out the most recently freed handle first.
	ReuseHandles bool
}

// Driver is a software driver.Table.
type Driver struct {
	opts Options

	mu          sync.Mutex
	nextHandle  driver.Handle
	free        []driver.Handle
	nextAddress uint64
	objects     map[driver.Handle]*object
}

// instances gives every driver a distinct device address space.
var instances uint64

// New returns a new software driver.
func New(opts Options) *Driver {
	n := atomic.AddUint64(&instances, 1)
	return &Driver{
		opts:        opts,
		nextHandle:  0x1000,
		nextAddress: n << 40,
		objects:     map[driver.Handle]*object{},
	}
}

type object struct {
	kind   driver.Kind
	parent driver.Handle
	info   driver.CreateInfo

	mem    *memory
	res    *resource
	cb     *commandBuffer
	fence  *fence
	queue  *queue
	set    bool // event
	query  []QueryStatus
	as     uint64 // acceleration structure address
	writes map[[2]uint32]driver.Descriptor
}

type memory struct {
	info   *driver.MemoryInfo
	data   []byte
	mapped bool
}

// segment locates resource bytes in memory: the memory offset of resource
// offset o is o+Delta.
type segment struct {
	Memory driver.Handle
	Delta  int64
}

type resource struct {
	size    uint64
	bound   interval.ValueSpanList[segment]
	address uint64
	layouts []driver.Layout
}

type commandBuffer struct {
	level     driver.CommandBufferLevel
	recording bool
	ready     bool
	oneTime   bool
	cmds      []driver.Command
}

type fence struct {
	signaled bool
	done     chan struct{}
}

func newFence(signaled bool) *fence {
	f := &fence{done: make(chan struct{})}
	if signaled {
		f.signal()
	}
	return f
}

func (f *fence) signal() {
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

func (f *fence) reset() {
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
}

type queue struct {
	pending []driver.Handle
}

// QueryStatus is the state of one query.
type QueryStatus int

const (
	QueryUnavailable QueryStatus = iota
	QueryActive
	QueryAvailable
)

func (d *Driver) newHandle() driver.Handle {
	if d.opts.ReuseHandles && len(d.free) > 0 {
		h := d.free[len(d.free)-1]
		d.free = d.free[:len(d.free)-1]
		return h
	}
	d.nextHandle++
	return d.nextHandle
}

func (d *Driver) allocAddress(size uint64) uint64 {
	addr := d.nextAddress
	d.nextAddress += (size + 0xff) &^ 0xff
	if size == 0 {
		d.nextAddress += 0x100
	}
	return addr
}

func (d *Driver) get(kind driver.Kind, h driver.Handle) (*object, error) {
	o, ok := d.objects[h]
	if !ok || o.kind != kind {
		return nil, errors.Wrapf(driver.ErrInvalidHandle, "%v %#x", kind, h)
	}
	return o, nil
}

// Create implements driver.Table.
func (d *Driver) Create(parent driver.Handle, info driver.CreateInfo) (driver.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kind := info.Kind()
	if pk := kind.ParentKind(); pk != driver.KindUnknown {
		if _, err := d.get(pk, parent); err != nil {
			return 0, errors.Wrapf(err, "Creating %v", kind)
		}
	}
	for _, dep := range info.Deps() {
		if _, err := d.get(dep.Kind, dep.Handle); err != nil {
			return 0, errors.Wrapf(err, "Creating %v", kind)
		}
	}

	o := &object{kind: kind, parent: parent, info: info.Remap(func(r driver.Ref) driver.Handle { return r.Handle })}
	switch i := info.(type) {
	case *driver.MemoryInfo:
		o.mem = &memory{info: i, data: make([]byte, i.Size)}
	case *driver.BufferInfo:
		o.res = &resource{size: i.Size}
		if i.Usage&driver.BufferUsageDeviceAddress != 0 {
			o.res.address = d.allocAddress(i.Size)
		}
	case *driver.ImageInfo:
		if i.Mips == 0 || i.Layers == 0 || i.Format.TexelSize() == 0 {
			return 0, errors.Wrap(driver.ErrUnsupported, "Creating image")
		}
		o.res = &resource{size: i.Size(), layouts: make([]driver.Layout, i.Mips*i.Layers)}
	case *driver.AccelerationStructureInfo:
		o.as = d.allocAddress(i.Size)
	case *driver.CommandBufferInfo:
		o.cb = &commandBuffer{level: i.Level}
	case *driver.FenceInfo:
		o.fence = newFence(i.Signaled)
	case *driver.QueueInfo:
		o.queue = &queue{}
	case *driver.QueryPoolInfo:
		o.query = make([]QueryStatus, i.Count)
	case *driver.DescriptorSetInfo:
		o.writes = map[[2]uint32]driver.Descriptor{}
	}
	h := d.newHandle()
	d.objects[h] = o
	return h, nil
}

// Destroy implements driver.Table. Destroying a pool frees the objects
// allocated from it.
func (d *Driver) Destroy(parent driver.Handle, kind driver.Kind, h driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(kind, h)
	if err != nil {
		return err
	}
	if o.parent != parent {
		return errors.Wrapf(driver.ErrInvalidHandle, "%v %#x not owned by %#x", kind, h, parent)
	}
	if kind == driver.CommandPool || kind == driver.DescriptorPool {
		for child, c := range d.objects {
			if c.parent == h && c.kind.ParentKind() == kind {
				d.release(child)
			}
		}
	}
	d.release(h)
	return nil
}

func (d *Driver) release(h driver.Handle) {
	delete(d.objects, h)
	if d.opts.ReuseHandles {
		d.free = append(d.free, h)
	}
}

func (d *Driver) bind(kind driver.Kind, res, mem driver.Handle, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(kind, res)
	if err != nil {
		return err
	}
	m, err := d.get(driver.DeviceMemory, mem)
	if err != nil {
		return err
	}
	if offset+o.res.size > uint64(len(m.mem.data)) {
		return errors.Wrapf(driver.ErrOutOfRange, "Binding %v %#x at %d", kind, res, offset)
	}
	seg := segment{Memory: mem, Delta: int64(offset)}
	interval.Update(&o.res.bound, interval.U64Span{End: o.res.size}, func(segment, bool) (segment, bool) {
		return seg, true
	})
	return nil
}

// BindBufferMemory implements driver.Table.
func (d *Driver) BindBufferMemory(device, buffer, memory driver.Handle, offset uint64) error {
	return d.bind(driver.Buffer, buffer, memory, offset)
}

// BindImageMemory implements driver.Table.
func (d *Driver) BindImageMemory(device, image, memory driver.Handle, offset uint64) error {
	return d.bind(driver.Image, image, memory, offset)
}

// BindSparse implements driver.Table.
func (d *Driver) BindSparse(q driver.Handle, binds []driver.SparseBind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.get(driver.Queue, q); err != nil {
		return err
	}
	for _, b := range binds {
		o, err := d.get(b.Resource.Kind, b.Resource.Handle)
		if err != nil || o.res == nil {
			return errors.Wrap(driver.ErrInvalidHandle, "Sparse binding")
		}
		span := interval.U64Span{Start: b.ResourceOffset, End: b.ResourceOffset + b.Size}
		if span.End > o.res.size {
			return errors.Wrap(driver.ErrOutOfRange, "Sparse binding")
		}
		if b.Memory == 0 {
			interval.Update(&o.res.bound, span, func(segment, bool) (segment, bool) { return segment{}, false })
			continue
		}
		m, err := d.get(driver.DeviceMemory, b.Memory)
		if err != nil {
			return err
		}
		if b.MemoryOffset+b.Size > uint64(len(m.mem.data)) {
			return errors.Wrap(driver.ErrOutOfRange, "Sparse binding")
		}
		seg := segment{Memory: b.Memory, Delta: int64(b.MemoryOffset) - int64(b.ResourceOffset)}
		interval.Update(&o.res.bound, span, func(segment, bool) (segment, bool) { return seg, true })
	}
	return nil
}

// MapMemory implements driver.Table. The returned slice aliases the memory.
func (d *Driver) MapMemory(device, mem driver.Handle, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.DeviceMemory, mem)
	if err != nil {
		return nil, err
	}
	if !o.mem.info.HostVisible {
		return nil, driver.ErrNotHostVisible
	}
	if o.mem.mapped {
		return nil, driver.ErrAlreadyMapped
	}
	if size == driver.WholeSize {
		size = uint64(len(o.mem.data)) - offset
	}
	if offset+size > uint64(len(o.mem.data)) {
		return nil, driver.ErrOutOfRange
	}
	o.mem.mapped = true
	return o.mem.data[offset : offset+size : offset+size], nil
}

// UnmapMemory implements driver.Table.
func (d *Driver) UnmapMemory(device, mem driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.DeviceMemory, mem)
	if err != nil {
		return err
	}
	if !o.mem.mapped {
		return driver.ErrNotMapped
	}
	o.mem.mapped = false
	return nil
}

// FlushMappedRanges implements driver.Table. Mapped views alias the memory
// so a flush only validates the ranges.
func (d *Driver) FlushMappedRanges(device driver.Handle, ranges []driver.MappedRange) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range ranges {
		o, err := d.get(driver.DeviceMemory, r.Memory)
		if err != nil {
			return err
		}
		if !o.mem.mapped {
			return driver.ErrNotMapped
		}
	}
	return nil
}

// BufferDeviceAddress implements driver.Table.
func (d *Driver) BufferDeviceAddress(device, buffer driver.Handle) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.Buffer, buffer)
	if err != nil {
		return 0, err
	}
	if o.res.address == 0 {
		return 0, errors.Wrap(driver.ErrUnsupported, "Buffer created without device address usage")
	}
	return o.res.address, nil
}

// AccelerationStructureAddress implements driver.Table.
func (d *Driver) AccelerationStructureAddress(device, as driver.Handle) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.AccelerationStructure, as)
	if err != nil {
		return 0, err
	}
	return o.as, nil
}

// UpdateDescriptorSets implements driver.Table.
func (d *Driver) UpdateDescriptorSets(device driver.Handle, writes []driver.DescriptorWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		for _, r := range w.Refs() {
			if _, err := d.get(r.Kind, r.Handle); err != nil {
				return errors.Wrap(err, "Updating descriptor set")
			}
		}
		o, _ := d.get(driver.DescriptorSet, w.Set)
		o.writes[[2]uint32{w.Binding, w.Element}] = w.Descriptor
	}
	return nil
}

// BeginCommandBuffer implements driver.Table.
func (d *Driver) BeginCommandBuffer(cb driver.Handle, info driver.BeginInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.CommandBuffer, cb)
	if err != nil {
		return err
	}
	*o.cb = commandBuffer{level: o.cb.level, recording: true, oneTime: info.OneTimeSubmit}
	return nil
}

// EndCommandBuffer implements driver.Table.
func (d *Driver) EndCommandBuffer(cb driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.CommandBuffer, cb)
	if err != nil {
		return err
	}
	if !o.cb.recording {
		return driver.ErrBadState
	}
	o.cb.recording, o.cb.ready = false, true
	return nil
}

// ResetCommandBuffer implements driver.Table.
func (d *Driver) ResetCommandBuffer(cb driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.CommandBuffer, cb)
	if err != nil {
		return err
	}
	*o.cb = commandBuffer{level: o.cb.level}
	return nil
}

// Record implements driver.Table.
func (d *Driver) Record(cb driver.Handle, cmd driver.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.CommandBuffer, cb)
	if err != nil {
		return err
	}
	if !o.cb.recording {
		return errors.Wrapf(driver.ErrBadState, "Recording %v into %#x", cmd.Name(), cb)
	}
	for _, r := range cmd.Refs() {
		if _, err := d.get(r.Kind, r.Handle); err != nil {
			return errors.Wrapf(err, "Recording %v", cmd.Name())
		}
	}
	o.cb.cmds = append(o.cb.cmds, cmd.Remap(func(r driver.Ref) driver.Handle { return r.Handle }))
	return nil
}

// QueueSubmit implements driver.Table. The submitted command buffers are
// executed before QueueSubmit returns.
func (d *Driver) QueueSubmit(q driver.Handle, submits []driver.Submit, f driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	qo, err := d.get(driver.Queue, q)
	if err != nil {
		return err
	}
	var fo *object
	if f != 0 {
		if fo, err = d.get(driver.Fence, f); err != nil {
			return err
		}
		if fo.fence.signaled {
			return errors.Wrap(driver.ErrBadState, "Submitting with a signaled fence")
		}
	}
	for _, s := range submits {
		for _, sem := range s.Waits {
			o, err := d.get(driver.Semaphore, sem)
			if err != nil {
				return err
			}
			o.set = false
		}
		for _, cb := range s.CommandBuffers {
			o, err := d.get(driver.CommandBuffer, cb)
			if err != nil {
				return err
			}
			if !o.cb.ready || o.cb.level != driver.LevelPrimary {
				return errors.Wrapf(driver.ErrBadState, "Submitting command buffer %#x", cb)
			}
			if err := d.execute(o.cb); err != nil {
				return errors.Wrapf(err, "Executing command buffer %#x", cb)
			}
			if o.cb.oneTime {
				o.cb.ready = false
			}
		}
		for _, sem := range s.Signals {
			o, err := d.get(driver.Semaphore, sem)
			if err != nil {
				return err
			}
			o.set = true
		}
	}
	if fo != nil {
		if d.opts.ManualFences {
			qo.queue.pending = append(qo.queue.pending, f)
		} else {
			fo.fence.signal()
		}
	}
	return nil
}

// QueueWaitIdle implements driver.Table.
func (d *Driver) QueueWaitIdle(q driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	qo, err := d.get(driver.Queue, q)
	if err != nil {
		return err
	}
	for _, f := range qo.queue.pending {
		if fo, err := d.get(driver.Fence, f); err == nil {
			fo.fence.signal()
		}
	}
	qo.queue.pending = nil
	return nil
}

// WaitForFences implements driver.Table, waiting for all fences.
func (d *Driver) WaitForFences(device driver.Handle, fences []driver.Handle, timeout time.Duration) error {
	d.mu.Lock()
	waits := make([]chan struct{}, 0, len(fences))
	for _, f := range fences {
		o, err := d.get(driver.Fence, f)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		waits = append(waits, o.fence.done)
	}
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, w := range waits {
		select {
		case <-w:
			continue
		default:
		}
		select {
		case <-w:
		case <-timer.C:
			return driver.ErrTimeout
		}
	}
	return nil
}

// FenceStatus implements driver.Table.
func (d *Driver) FenceStatus(device, f driver.Handle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.Fence, f)
	if err != nil {
		return false, err
	}
	return o.fence.signaled, nil
}

// ResetFences implements driver.Table.
func (d *Driver) ResetFences(device driver.Handle, fences []driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range fences {
		o, err := d.get(driver.Fence, f)
		if err != nil {
			return err
		}
		o.fence.reset()
	}
	return nil
}

// SetEvent implements driver.Table.
func (d *Driver) SetEvent(device, event driver.Handle, set bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.Event, event)
	if err != nil {
		return err
	}
	o.set = set
	return nil
}

// SignalFence completes the pending submission guarded by fence f.
func (d *Driver) SignalFence(f driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.Fence, f)
	if err != nil {
		return err
	}
	o.fence.signal()
	for _, q := range d.objects {
		if q.queue == nil {
			continue
		}
		for i, p := range q.queue.pending {
			if p == f {
				q.queue.pending = append(q.queue.pending[:i], q.queue.pending[i+1:]...)
				break
			}
		}
	}
	return nil
}

var _ driver.Table = (*Driver)(nil)
