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
	"github.com/google/substate/driver"
	"github.com/google/substate/tracker"
	"github.com/pkg/errors"
)

// transients recreates destroyed objects that live objects still depend
// on. Each is created once per pass, the first time it is needed, and is
// destroyed after the last of its dependents has been created, or destroyed
// when that dependent is itself transient.
type transients struct {
	b *builder
	// pending counts the dependents of each retired object that have not
	// been created yet.
	pending map[tracker.ID]int
	// memory maps a transient resource to its dedicated memory.
	memory map[tracker.ID]tracker.ID
	// alive lists the transient objects in creation order.
	alive []*tracker.Record
}

func newTransients(b *builder) *transients {
	return &transients{
		b:       b,
		pending: map[tracker.ID]int{},
		memory:  map[tracker.ID]tracker.ID{},
	}
}

// count tallies the dependents of every retired object reachable from a
// live one.
func (t *transients) count() {
	seen := map[tracker.ID]bool{}
	var visit func(rec *tracker.Record)
	visit = func(rec *tracker.Record) {
		for _, dep := range rec.Deps() {
			d := t.b.reg.Get(dep)
			if d == nil || d.Live() {
				continue
			}
			t.pending[dep]++
			if !seen[dep] {
				seen[dep] = true
				visit(d)
			}
		}
	}
	for _, k := range driver.Kinds() {
		for _, rec := range t.b.reg.Live(k) {
			visit(rec)
		}
	}
}

// ensure creates the retired object rec.
func (t *transients) ensure(rec *tracker.Record) error {
	b := t.b
	if b.created[rec.ID] || b.failed[rec.ID] {
		return nil
	}
	err := &Error{Class: InvariantViolation, Object: rec.ID, Kind: rec.Kind, Cause: errors.Errorf("destroyed %v is still referenced", rec)}
	if err := b.report(err); err != nil {
		return err
	}
	if err := b.create(rec, true); err != nil {
		b.failed[rec.ID] = true
		return b.report(err)
	}
	t.alive = append(t.alive, rec)
	if rs := resourceOf(rec); rs != nil && rs.Dense != nil {
		t.bindDedicated(rec, rs)
	}
	return nil
}

// bindDedicated backs a transient resource with memory of its own, of the
// same type as the memory it was bound to.
func (t *transients) bindDedicated(rec *tracker.Record, rs *tracker.Resource) {
	b := t.b
	info := &driver.MemoryInfo{Size: rs.Size}
	if m := b.reg.Get(rs.Dense.Memory); m != nil {
		ms := m.State.(*tracker.MemoryState)
		info.TypeIndex, info.HostVisible, info.DeviceAddress = ms.TypeIndex, ms.HostVisible, ms.DeviceAddress
	}
	mem := b.reg.NewID()
	b.plan.add(&CreateOp{ID: mem, Parent: rec.Parent, Info: info, Transient: true})
	b.created[mem] = true
	b.plan.add(&BindMemoryOp{Device: rec.Parent, Resource: rec.ID, Kind: rec.Kind, Memory: mem})
	t.memory[rec.ID] = mem
}

// consumed is called after the creation of rec. Retired dependencies with
// no dependents left to create are destroyed. The dependencies of a
// transient are held until the transient itself is destroyed.
func (t *transients) consumed(rec *tracker.Record, transient bool) {
	if !transient {
		t.release(rec)
	}
}

// release drops one dependent from each retired dependency of rec.
func (t *transients) release(rec *tracker.Record) {
	for _, dep := range rec.Deps() {
		n, ok := t.pending[dep]
		if !ok {
			continue
		}
		if n--; n > 0 {
			t.pending[dep] = n
			continue
		}
		delete(t.pending, dep)
		if d := t.b.reg.Get(dep); d != nil {
			t.destroy(d)
		}
	}
}

// destroy destroys the transient rec and its dedicated memory, then
// releases its own dependencies. Objects that are not alive transients are
// ignored.
func (t *transients) destroy(rec *tracker.Record) {
	found := false
	for i, r := range t.alive {
		if r == rec {
			t.alive = append(t.alive[:i], t.alive[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}
	t.b.destroy(rec.ID, rec.Parent, rec.Kind)
	if mem, ok := t.memory[rec.ID]; ok {
		t.b.destroy(mem, rec.Parent, driver.DeviceMemory)
		delete(t.memory, rec.ID)
	}
	t.release(rec)
}

// finish destroys the transient objects whose dependents were skipped,
// most recent first.
func (t *transients) finish() {
	for len(t.alive) > 0 {
		t.destroy(t.alive[len(t.alive)-1])
	}
}
