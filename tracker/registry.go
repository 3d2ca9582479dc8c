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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/substate/core/log"
	"github.com/google/substate/driver"
	"github.com/pkg/errors"
)

// Registry maps every live native object to its Record.
//
// Records of destroyed objects that are still referenced by the creation
// parameters of another record are retired rather than erased: Get keeps
// returning them until their last dependent is erased, so that a restore
// pass can recreate them from their description.
type Registry struct {
	mu      sync.RWMutex
	next    uint64
	// live is keyed by handle alone: handles of every kind share one space
	// and Lookup checks the kind.
	live    map[driver.Handle]*Record
	records map[ID]*Record
	// onUntrack is called with the lock held for every record as it stops
	// being live. get looks up records without taking the lock.
	onUntrack func(rec *Record, get func(ID) *Record)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		live:    map[driver.Handle]*Record{},
		records: map[ID]*Record{},
	}
}

// NewID issues an identity that is not bound to any record. Restore passes
// use these for the temporary objects they create.
func (r *Registry) NewID() ID {
	return ID(atomic.AddUint64(&r.next, 1))
}

// Track records a newly created object. info must already be in identity
// space and parent is the identity of the object it was created from.
// Tracking a handle that is still live replaces the stale record.
func (r *Registry) Track(ctx context.Context, h driver.Handle, info driver.CreateInfo, parent ID, state State) ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.live[h]; ok {
		log.W(ctx, "Handle %#x of %v reused while still live, dropping the stale record", uint64(h), old)
		r.untrack(old)
	}
	rec := &Record{
		ID:     r.NewID(),
		Kind:   info.Kind(),
		Handle: h,
		Parent: parent,
		Info:   info,
		State:  state,
		live:   true,
	}
	for _, dep := range rec.Deps() {
		if d, ok := r.records[dep]; ok {
			d.dependents++
		}
	}
	if p, ok := r.records[parent]; ok && parent != 0 {
		p.children = append(p.children, rec.ID)
	}
	r.live[h] = rec
	r.records[rec.ID] = rec
	return rec.ID
}

// Lookup returns the live record for the handle. It returns ErrNotTracked if
// there is none and ErrWrongKind if the handle names another kind of object.
func (r *Registry) Lookup(kind driver.Kind, h driver.Handle) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(kind, h)
}

func (r *Registry) lookup(kind driver.Kind, h driver.Handle) (*Record, error) {
	rec, ok := r.live[h]
	if !ok {
		return nil, errors.Wrapf(ErrNotTracked, "%v %#x", kind, uint64(h))
	}
	if rec.Kind != kind {
		return nil, errors.Wrapf(ErrWrongKind, "%#x is %v, not %v", uint64(h), rec.Kind, kind)
	}
	return rec, nil
}

// Probe returns the live record for the handle, or nil.
func (r *Registry) Probe(kind driver.Kind, h driver.Handle) *Record {
	rec, _ := r.Lookup(kind, h)
	return rec
}

// Get returns the live or retired record with the identity, or nil.
func (r *Registry) Get(id ID) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[id]
}

// Untrack erases the live record for the handle. Objects created from it are
// untracked first, deepest first and most recently created first.
func (r *Registry) Untrack(kind driver.Kind, h driver.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.lookup(kind, h)
	if err != nil {
		return err
	}
	r.untrack(rec)
	return nil
}

func (r *Registry) untrack(rec *Record) {
	children := append([]ID(nil), rec.children...)
	for i := len(children) - 1; i >= 0; i-- {
		if c, ok := r.records[children[i]]; ok && c.live {
			r.untrack(c)
		}
	}
	rec.children = nil
	rec.live = false
	if r.live[rec.Handle] == rec {
		delete(r.live, rec.Handle)
	}
	if p, ok := r.records[rec.Parent]; ok {
		p.children = removeID(p.children, rec.ID)
	}
	if r.onUntrack != nil {
		r.onUntrack(rec, func(id ID) *Record { return r.records[id] })
	}
	r.release(rec)
}

// release erases a dead record once nothing depends on it, then releases
// its own dependencies.
func (r *Registry) release(rec *Record) {
	if rec.live || rec.dependents > 0 {
		return
	}
	delete(r.records, rec.ID)
	for _, dep := range rec.Deps() {
		if d, ok := r.records[dep]; ok {
			d.dependents--
			r.release(d)
		}
	}
}

// Live returns the live records of the given kind sorted by identity.
func (r *Registry) Live(kind driver.Kind) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*Record{}
	for _, rec := range r.live {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Retired returns the records of destroyed objects that are kept alive by
// their dependents, sorted by identity.
func (r *Registry) Retired() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*Record{}
	for _, rec := range r.records {
		if !rec.live {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Children returns the identities of the live objects created from id, in
// creation order.
func (r *Registry) Children(id ID) []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.records[id]; ok {
		return append([]ID(nil), rec.children...)
	}
	return nil
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

func removeID(ids []ID, id ID) []ID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
