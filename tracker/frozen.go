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
	"context"

	"github.com/google/substate/core/log"
	"github.com/google/substate/core/math/interval"
	"github.com/google/substate/driver"
	"github.com/pkg/errors"
)

// Frozen is a tracker held still for a restore pass. Every queue has been
// drained and every mapping flushed, and no intercepted call can change the
// state until Release is called.
type Frozen struct {
	t *Tracker
}

// Freeze drains every queue, flushes every mapping and locks the tracker.
func (t *Tracker) Freeze(ctx context.Context) (*Frozen, error) {
	t.mu.Lock()
	for _, q := range t.reg.Live(driver.Queue) {
		if err := t.inner.QueueWaitIdle(q.Handle); err != nil {
			t.mu.Unlock()
			return nil, errors.Wrapf(err, "Draining %v", q)
		}
		t.idle(q)
	}
	if err := t.flushAll(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	log.D(ctx, "Froze %d tracked objects", t.reg.Len())
	return &Frozen{t: t}, nil
}

// Release unlocks the tracker.
func (f *Frozen) Release() {
	if f.t != nil {
		f.t.mu.Unlock()
		f.t = nil
	}
}

// Registry returns the registry of tracked objects.
func (f *Frozen) Registry() *Registry { return f.t.reg }

// Table returns the wrapped driver table. Objects created through it are
// not tracked.
func (f *Frozen) Table() driver.Table { return f.t.inner }

// ReadMemory returns the bytes of a host-visible memory object. Memory the
// application has mapped can only be read within its mapping.
func (f *Frozen) ReadMemory(memory ID, span interval.U64Span) ([]byte, error) {
	m := f.t.reg.Get(memory)
	if m == nil || !m.Live() {
		return nil, errors.Wrapf(ErrNotTracked, "memory %v", memory)
	}
	ms := m.State.(*MemoryState)
	if span.End > ms.Size || span.Start > span.End {
		return nil, errors.Wrapf(ErrOutOfRange, "[%d, %d) of %v", span.Start, span.End, m)
	}
	if mp := ms.Mapping; mp != nil {
		if span.Start < mp.Offset || span.End > mp.Offset+mp.Size {
			return nil, errors.Wrapf(ErrOutOfRange, "[%d, %d) outside of the mapping of %v", span.Start, span.End, m)
		}
		return mp.dirty.Read(span.Start-mp.Offset, span.Size())
	}
	device := f.t.reg.Get(m.Parent)
	if device == nil {
		return nil, errors.Wrapf(ErrNotTracked, "device of %v", m)
	}
	view, err := f.t.inner.MapMemory(device.Handle, m.Handle, span.Start, span.Size())
	if err != nil {
		return nil, errors.Wrapf(err, "Mapping %v", m)
	}
	out := append([]byte(nil), view...)
	return out, f.t.inner.UnmapMemory(device.Handle, m.Handle)
}
