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

	"github.com/google/substate/driver"
	"github.com/google/substate/tracker"
	"github.com/pkg/errors"
)

func resourceOf(rec *tracker.Record) *tracker.Resource {
	switch s := rec.State.(type) {
	case *tracker.BufferState:
		return &s.Resource
	case *tracker.ImageState:
		return &s.Resource
	}
	return nil
}

// mapMemory restores the mappings the application holds.
func (b *builder) mapMemory() error {
	for _, rec := range b.reg.Live(driver.DeviceMemory) {
		if !b.created[rec.ID] {
			continue
		}
		if m := rec.State.(*tracker.MemoryState).Mapping; m != nil {
			b.plan.add(&MapMemoryOp{Device: rec.Parent, Memory: rec.ID, Offset: m.Offset, Size: m.Size})
		}
	}
	return nil
}

// bindMemory restores the dense and sparse bindings of every buffer and
// image.
func (b *builder) bindMemory() error {
	for _, k := range []driver.Kind{driver.Buffer, driver.Image} {
		for _, rec := range b.reg.Live(k) {
			if !b.created[rec.ID] {
				continue
			}
			if err := b.report(b.bind(rec)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) bind(rec *tracker.Record) error {
	rs := resourceOf(rec)
	if d := rs.Dense; d != nil {
		if !b.created[d.Memory] {
			return omission(rec, errors.Wrapf(ErrMissingDependency, "bound memory %v", d.Memory))
		}
		b.plan.add(&BindMemoryOp{Device: rec.Parent, Resource: rec.ID, Kind: rec.Kind, Memory: d.Memory, Offset: d.Offset})
		return nil
	}
	if len(rs.Sparse) == 0 {
		return nil
	}
	queue := rs.Queue
	if !b.created[queue] {
		q := b.queueFor(rec.Parent, true)
		if q == nil {
			return omission(rec, ErrNoQueue)
		}
		queue = q.ID
	}
	op := &BindSparseOp{Queue: queue}
	var lost []tracker.ID
	for _, p := range rs.Sparse {
		if !b.created[p.Memory] {
			lost = append(lost, p.Memory)
			continue
		}
		op.Binds = append(op.Binds, driver.SparseBind{
			Resource:       rec.Ref(),
			ResourceOffset: p.ResourceOffset,
			Size:           p.Size,
			Memory:         driver.Handle(p.Memory),
			MemoryOffset:   p.MemoryOffset,
		})
	}
	if len(op.Binds) > 0 {
		b.plan.add(op)
	}
	if len(lost) > 0 {
		return omission(rec, errors.Wrapf(ErrMissingDependency, "sparse ranges bound to %v", lost))
	}
	return nil
}

// descriptorWrites restores the contents of every descriptor set. Writes
// that reference objects that no longer exist are skipped one by one.
func (b *builder) descriptorWrites() error {
	writes := map[tracker.ID][]driver.DescriptorWrite{}
	for _, set := range b.reg.Live(driver.DescriptorSet) {
		if !b.created[set.ID] {
			continue
		}
		pool := b.reg.Get(set.Parent)
		if pool == nil {
			continue
		}
		st := set.State.(*tracker.DescriptorSetState)
		slots := make([]tracker.Slot, 0, len(st.Writes))
		for s := range st.Writes {
			slots = append(slots, s)
		}
		sort.Slice(slots, func(i, j int) bool {
			if slots[i].Binding != slots[j].Binding {
				return slots[i].Binding < slots[j].Binding
			}
			return slots[i].Element < slots[j].Element
		})
		for _, s := range slots {
			w := st.Writes[s]
			if id := b.missing(ids(w.Refs())); id != 0 {
				err := omission(set, errors.Wrapf(ErrMissingDependency, "binding %d element %d references %v", s.Binding, s.Element, id))
				if err := b.report(err); err != nil {
					return err
				}
				continue
			}
			writes[pool.Parent] = append(writes[pool.Parent], w)
		}
	}
	for _, device := range sortedKeys(writes) {
		b.plan.add(&UpdateDescriptorsOp{Device: device, Writes: writes[device]})
	}
	return nil
}

// syncState signals the semaphores and sets the events that were signaled
// or set. Fences get their state from their creation parameters.
func (b *builder) syncState() error {
	for _, rec := range b.reg.Live(driver.Semaphore) {
		if !b.created[rec.ID] || !rec.State.(*tracker.SemaphoreState).Signaled {
			continue
		}
		q := b.queueFor(rec.Parent, false)
		if q == nil {
			if err := b.report(omission(rec, ErrNoQueue)); err != nil {
				return err
			}
			continue
		}
		b.plan.add(&SignalOp{Device: rec.Parent, Queue: q.ID, Object: rec.ID, Kind: driver.Semaphore})
	}
	for _, rec := range b.reg.Live(driver.Event) {
		if b.created[rec.ID] && rec.State.(*tracker.EventState).Set {
			b.plan.add(&SignalOp{Device: rec.Parent, Object: rec.ID, Kind: driver.Event})
		}
	}
	return nil
}

// commandBuffers creates every command buffer, secondaries first, and
// records the commands of those that are recording or executable.
func (b *builder) commandBuffers() error {
	all := b.reg.Live(driver.CommandBuffer)
	for _, level := range []driver.CommandBufferLevel{driver.LevelSecondary, driver.LevelPrimary} {
		for _, rec := range all {
			st := rec.State.(*tracker.CommandBufferState)
			if st.Level != level {
				continue
			}
			if err := b.object(rec); err != nil {
				return err
			}
			if !b.created[rec.ID] {
				continue
			}
			if err := b.report(b.recordCommands(rec, st)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) recordCommands(rec *tracker.Record, st *tracker.CommandBufferState) error {
	if st.Status == tracker.Initial || st.Status == tracker.Invalid {
		// A one-time command buffer that was submitted can only be reset.
		b.unrecorded[rec.ID] = true
		return nil
	}
	for _, c := range st.Commands {
		for _, ref := range c.Refs() {
			id := tracker.ID(ref.Handle)
			if !b.created[id] {
				b.unrecorded[rec.ID] = true
				return omission(rec, errors.Wrapf(ErrMissingDependency, "%v references %v%v", c.Name(), ref.Kind, id))
			}
			if ref.Kind == driver.CommandBuffer && b.unrecorded[id] {
				b.unrecorded[rec.ID] = true
				return omission(rec, errors.Wrapf(ErrMissingDependency, "%v executes unrecorded %v", c.Name(), id))
			}
		}
	}
	b.plan.add(&RecordCommandsOp{
		CommandBuffer: rec.ID,
		Begin:         st.Begin,
		Commands:      st.Commands,
		End:           st.Status == tracker.Executable,
	})
	return nil
}

// queries resets every query pool and replays the begin and end of the
// queries that were active or complete.
func (b *builder) queries() error {
	for _, rec := range b.reg.Live(driver.QueryPool) {
		if !b.created[rec.ID] {
			continue
		}
		st := rec.State.(*tracker.QueryPoolState)
		pool := driver.Handle(rec.ID)
		cmds := []driver.Command{&driver.ResetQueryPool{Pool: pool, Count: uint32(len(st.Status))}}
		for i, s := range st.Status {
			q := uint32(i)
			switch s {
			case tracker.QueryActive:
				cmds = append(cmds, &driver.BeginQuery{Pool: pool, Query: q})
			case tracker.QueryComplete:
				cmds = append(cmds, &driver.BeginQuery{Pool: pool, Query: q}, &driver.EndQuery{Pool: pool, Query: q})
			}
		}
		if err := b.report(b.submit(rec.Parent, "restore queries", cmds)); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[tracker.ID]V) []tracker.ID {
	out := make([]tracker.ID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
