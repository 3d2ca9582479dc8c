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

package tracker

import (
	"github.com/google/substate/core/math/interval"
	"github.com/google/substate/driver"
	"github.com/google/substate/record"
	"github.com/pkg/errors"
)

// Mapping is a host mapping of a range of memory.
type Mapping struct {
	Memory ID
	Offset uint64
	Size   uint64

	dirty DirtyTracker
}

// Span returns the range of memory that is mapped.
func (m *Mapping) Span() interval.U64Span {
	return interval.U64Span{Start: m.Offset, End: m.Offset + m.Size}
}

// MapMemory implements driver.Table. The returned view is tracked with the
// configured dirty tracking strategy. With page protection only writes made
// through WriteMapped are trapped: the view is mapped read-only and a direct
// store to it faults the process.
func (t *Tracker) MapMemory(device, memory driver.Handle, offset, size uint64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ms, err := t.memory(memory)
	if err != nil {
		return nil, errors.Wrap(err, "Mapping memory")
	}
	target, err := t.inner.MapMemory(device, memory, offset, size)
	if err != nil {
		return nil, err
	}
	dirty, err := NewDirtyTracker(t.cfg.DirtyTrackingStrategy, target)
	if err != nil {
		t.inner.UnmapMemory(device, memory)
		return nil, err
	}
	ms.Mapping = &Mapping{
		Memory: m.ID,
		Offset: offset,
		Size:   uint64(len(target)),
		dirty:  dirty,
	}
	return dirty.View(), nil
}

func (t *Tracker) mapping(memory driver.Handle) (*Record, *Mapping, error) {
	m, ms, err := t.memory(memory)
	if err != nil {
		return nil, nil, err
	}
	if ms.Mapping == nil {
		return nil, nil, errors.Wrapf(ErrNotMapped, "%v", m)
	}
	return m, ms.Mapping, nil
}

// WriteMapped implements driver.HostWriter. offset is relative to the start
// of the mapping.
func (t *Tracker) WriteMapped(device, memory driver.Handle, offset uint64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, mp, err := t.mapping(memory)
	if err != nil {
		return err
	}
	return mp.dirty.Write(offset, data)
}

// ReadMapped returns size bytes of the application's view of a mapping.
func (t *Tracker) ReadMapped(memory driver.Handle, offset, size uint64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, mp, err := t.mapping(memory)
	if err != nil {
		return nil, err
	}
	return mp.dirty.Read(offset, size)
}

// UnmapMemory implements driver.Table. Pending writes are flushed first.
func (t *Tracker) UnmapMemory(device, memory driver.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, mp, err := t.mapping(memory)
	if err != nil {
		return err
	}
	if err := t.flush(m); err != nil {
		return err
	}
	if err := t.inner.UnmapMemory(device, memory); err != nil {
		return err
	}
	m.State.(*MemoryState).Mapping = nil
	return mp.dirty.Close()
}

// FlushMappedRanges implements driver.Table.
func (t *Tracker) FlushMappedRanges(device driver.Handle, ranges []driver.MappedRange) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range ranges {
		m, _, err := t.mapping(r.Memory)
		if err != nil {
			return err
		}
		if err := t.flush(m); err != nil {
			return err
		}
	}
	return t.inner.FlushMappedRanges(device, ranges)
}

// flushAll flushes every live mapping.
func (t *Tracker) flushAll() error {
	for _, m := range t.reg.Live(driver.DeviceMemory) {
		if m.State.(*MemoryState).Mapping != nil {
			if err := t.flush(m); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush forwards the application's changes to a mapping to the driver,
// marks every resource bound to the changed bytes as written and emits a
// memory update record.
func (t *Tracker) flush(m *Record) error {
	ms := m.State.(*MemoryState)
	mp := ms.Mapping
	offset, length, err := mp.dirty.Flush()
	if err != nil {
		return errors.Wrapf(err, "Flushing %v", m)
	}
	if length == 0 {
		return nil
	}
	span := interval.U64Span{Start: mp.Offset + offset, End: mp.Offset + offset + length}
	stamp := t.nextStamp()
	touched := map[ID]bool{}
	for _, o := range ms.Aliasing.Resolve(span) {
		for _, id := range o.Occupants {
			if !touched[id] {
				touched[id] = true
				if r := t.reg.Get(id); r != nil {
					t.touch(r, stamp, 0)
				}
			}
		}
	}
	if t.sink == nil {
		return nil
	}
	payload, err := mp.dirty.Read(offset, length)
	if err != nil {
		return err
	}
	return t.sink.WriteMemoryUpdate(&record.MemoryUpdate{
		Device:  uint64(m.Parent),
		Memory:  uint64(m.ID),
		Offset:  span.Start,
		Length:  length,
		Payload: payload,
	})
}
