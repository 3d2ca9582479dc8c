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
	"context"

	"github.com/google/substate/core/log"
	"github.com/google/substate/driver"
	"github.com/google/substate/tracker"
	"github.com/pkg/errors"
)

// Result is the outcome of replaying a plan.
type Result struct {
	// Handles maps the identity of every object that is still alive at the
	// end of the plan to its handle on the replaying table.
	Handles map[tracker.ID]driver.Handle
}

type view struct {
	offset uint64
	data   []byte
}

type replayer struct {
	ctx     context.Context
	table   driver.Table
	plan    *Plan
	handles map[tracker.ID]driver.Handle
	maps    map[tracker.ID]view
	err     error
}

// Replay executes every op of the plan against table. Any failure is fatal.
func Replay(ctx context.Context, plan *Plan, table driver.Table) (*Result, error) {
	ctx = log.Enter(ctx, "Replay")
	r := &replayer{
		ctx:     ctx,
		table:   table,
		plan:    plan,
		handles: map[tracker.ID]driver.Handle{},
		maps:    map[tracker.ID]view{},
	}
	for i, op := range plan.Ops {
		if err := r.op(op); err != nil {
			return nil, &Error{Class: Fatal, Cause: errors.Wrapf(err, "op %d (%v)", i, op)}
		}
	}
	log.I(ctx, "Replayed %d ops, %d objects alive", len(plan.Ops), len(r.handles))
	return &Result{Handles: r.handles}, nil
}

// handle returns the handle of a created identity. 0 stays null.
func (r *replayer) handle(id tracker.ID) driver.Handle {
	if id == 0 {
		return 0
	}
	h, ok := r.handles[id]
	if !ok && r.err == nil {
		r.err = errors.Wrapf(ErrUseBeforeCreate, "%v", id)
	}
	return h
}

func (r *replayer) remap(ref driver.Ref) driver.Handle {
	return r.handle(tracker.ID(ref.Handle))
}

// check returns the first failed identity lookup.
func (r *replayer) check() error {
	err := r.err
	r.err = nil
	return err
}

func (r *replayer) op(op Op) error {
	t := r.table
	switch op := op.(type) {
	case *CreateOp:
		parent, info := r.handle(op.Parent), op.Info.Remap(r.remap)
		if err := r.check(); err != nil {
			return err
		}
		h, err := t.Create(parent, info)
		if err != nil {
			return err
		}
		r.handles[op.ID] = h
	case *DestroyOp:
		parent, h := r.handle(op.Parent), r.handle(op.ID)
		if err := r.check(); err != nil {
			return err
		}
		delete(r.handles, op.ID)
		delete(r.maps, op.ID)
		return t.Destroy(parent, op.Kind, h)
	case *BindMemoryOp:
		device, res, mem := r.handle(op.Device), r.handle(op.Resource), r.handle(op.Memory)
		if err := r.check(); err != nil {
			return err
		}
		if op.Kind == driver.Image {
			return t.BindImageMemory(device, res, mem, op.Offset)
		}
		return t.BindBufferMemory(device, res, mem, op.Offset)
	case *BindSparseOp:
		binds := make([]driver.SparseBind, len(op.Binds))
		for i, b := range op.Binds {
			b.Resource.Handle = r.remap(b.Resource)
			b.Memory = r.handle(tracker.ID(b.Memory))
			binds[i] = b
		}
		queue := r.handle(op.Queue)
		if err := r.check(); err != nil {
			return err
		}
		return t.BindSparse(queue, binds)
	case *MapMemoryOp:
		device, mem := r.handle(op.Device), r.handle(op.Memory)
		if err := r.check(); err != nil {
			return err
		}
		data, err := t.MapMemory(device, mem, op.Offset, op.Size)
		if err != nil {
			return err
		}
		r.maps[op.Memory] = view{op.Offset, data}
	case *WriteMemoryOp:
		return r.write(op)
	case *UpdateDescriptorsOp:
		writes := make([]driver.DescriptorWrite, len(op.Writes))
		for i, w := range op.Writes {
			writes[i] = w.Remap(r.remap)
		}
		device := r.handle(op.Device)
		if err := r.check(); err != nil {
			return err
		}
		return t.UpdateDescriptorSets(device, writes)
	case *RecordCommandsOp:
		cb := r.handle(op.CommandBuffer)
		cmds := r.commands(op.Commands)
		if err := r.check(); err != nil {
			return err
		}
		if err := t.BeginCommandBuffer(cb, op.Begin); err != nil {
			return err
		}
		for _, c := range cmds {
			if err := t.Record(cb, c); err != nil {
				return err
			}
		}
		if op.End {
			return t.EndCommandBuffer(cb)
		}
	case *SubmitOp:
		return r.oneShot(op.Queue, op.Pool, r.commands(op.Commands))
	case *SignalOp:
		device, queue, obj := r.handle(op.Device), r.handle(op.Queue), r.handle(op.Object)
		if err := r.check(); err != nil {
			return err
		}
		if op.Kind == driver.Event {
			return t.SetEvent(device, obj, true)
		}
		if err := t.QueueSubmit(queue, []driver.Submit{{Signals: []driver.Handle{obj}}}, 0); err != nil {
			return err
		}
		return t.QueueWaitIdle(queue)
	case *PatchAddressesOp:
		return r.patch(op)
	default:
		return errors.Errorf("Unknown op %T", op)
	}
	return nil
}

func (r *replayer) commands(cmds []driver.Command) []driver.Command {
	out := make([]driver.Command, len(cmds))
	for i, c := range cmds {
		out[i] = c.Remap(r.remap)
	}
	return out
}

// write copies a payload into memory. Memory that is mapped is written
// through its mapping, otherwise it is mapped for the write.
func (r *replayer) write(op *WriteMemoryOp) error {
	t := r.table
	data, ok := r.plan.Blobs[op.Blob]
	if !ok || uint64(len(data)) != op.Size {
		return errors.Wrapf(ErrMissingBlob, "%v", op.Blob)
	}
	device, mem := r.handle(op.Device), r.handle(op.Memory)
	if err := r.check(); err != nil {
		return err
	}
	v, mapped := r.maps[op.Memory]
	if mapped && (op.Offset < v.offset || op.Offset+op.Size > v.offset+uint64(len(v.data))) {
		// Outside the mapping: write through a temporary one, then restore.
		if err := t.UnmapMemory(device, mem); err != nil {
			return err
		}
		if err := r.mapWrite(device, mem, op.Offset, data); err != nil {
			return err
		}
		remapped, err := t.MapMemory(device, mem, v.offset, uint64(len(v.data)))
		if err != nil {
			return err
		}
		r.maps[op.Memory] = view{v.offset, remapped}
		return nil
	}
	if mapped {
		if err := r.store(device, mem, v, op.Offset, data); err != nil {
			return err
		}
		return t.FlushMappedRanges(device, []driver.MappedRange{{Memory: mem, Offset: op.Offset, Size: op.Size}})
	}
	return r.mapWrite(device, mem, op.Offset, data)
}

func (r *replayer) mapWrite(device, mem driver.Handle, offset uint64, data []byte) error {
	t := r.table
	m, err := t.MapMemory(device, mem, offset, uint64(len(data)))
	if err != nil {
		return err
	}
	if err := r.store(device, mem, view{offset, m}, offset, data); err != nil {
		return err
	}
	if err := t.FlushMappedRanges(device, []driver.MappedRange{{Memory: mem, Offset: offset, Size: uint64(len(data))}}); err != nil {
		return err
	}
	return t.UnmapMemory(device, mem)
}

// store writes data at offset of a mapped view, through the table when it
// requires it.
func (r *replayer) store(device, mem driver.Handle, v view, offset uint64, data []byte) error {
	if w, ok := r.table.(driver.HostWriter); ok {
		return w.WriteMapped(device, mem, offset-v.offset, data)
	}
	copy(v.data[offset-v.offset:], data)
	return nil
}

// oneShot records cmds into a new command buffer of pool, submits it to
// queue and waits for the queue to idle.
func (r *replayer) oneShot(queue, pool tracker.ID, cmds []driver.Command) error {
	t := r.table
	q, p := r.handle(queue), r.handle(pool)
	if err := r.check(); err != nil {
		return err
	}
	cb, err := t.Create(p, &driver.CommandBufferInfo{Level: driver.LevelPrimary})
	if err != nil {
		return err
	}
	run := func() error {
		if err := t.BeginCommandBuffer(cb, driver.BeginInfo{OneTimeSubmit: true}); err != nil {
			return err
		}
		for _, c := range cmds {
			if err := t.Record(cb, c); err != nil {
				return err
			}
		}
		if err := t.EndCommandBuffer(cb); err != nil {
			return err
		}
		if err := t.QueueSubmit(q, []driver.Submit{{CommandBuffers: []driver.Handle{cb}}}, 0); err != nil {
			return err
		}
		return t.QueueWaitIdle(q)
	}
	err = run()
	if derr := t.Destroy(p, driver.CommandBuffer, cb); err == nil {
		err = derr
	}
	return err
}

// patch resolves the new address of every patched resource and rewrites
// the target on the device.
func (r *replayer) patch(op *PatchAddressesOp) error {
	t := r.table
	device, target := r.handle(op.Device), r.handle(op.Target)
	if err := r.check(); err != nil {
		return err
	}
	table := make([]driver.AddressPatch, len(op.Table))
	for i, p := range op.Table {
		h := r.handle(p.Resource)
		if err := r.check(); err != nil {
			return err
		}
		var addr uint64
		var err error
		if p.Kind == driver.AccelerationStructure {
			addr, err = t.AccelerationStructureAddress(device, h)
		} else {
			addr, err = t.BufferDeviceAddress(device, h)
		}
		if err != nil {
			return errors.Wrapf(err, "Resolving address of %v", p.Resource)
		}
		table[i] = driver.AddressPatch{OldBase: p.OldBase, Size: p.Size, NewBase: addr}
	}
	cmd := &driver.PatchAddresses{Target: target, Locations: op.Locations, Table: table}
	return r.oneShot(op.Queue, op.Pool, []driver.Command{cmd})
}
