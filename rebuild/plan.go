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
	"github.com/google/substate/core/data/id"
	"github.com/google/substate/tracker"
	"github.com/pkg/errors"
)

// Plan is an ordered list of operations that recreates tracked state on a
// fresh driver. Payloads are stored once per content id.
type Plan struct {
	Ops   []Op
	Blobs map[id.ID][]byte
	// Errors lists the recoverable errors met while building: skipped units
	// and stale identities that were recreated transiently.
	Errors []*Error
}

func newPlan() *Plan {
	return &Plan{Blobs: map[id.ID][]byte{}}
}

func (p *Plan) add(op Op) { p.Ops = append(p.Ops, op) }

// addBlob stores data and returns its content id.
func (p *Plan) addBlob(data []byte) id.ID {
	key := id.OfBytes(data)
	if _, ok := p.Blobs[key]; !ok {
		p.Blobs[key] = append([]byte(nil), data...)
	}
	return key
}

// PayloadBytes returns the total size of the stored payloads.
func (p *Plan) PayloadBytes() uint64 {
	n := uint64(0)
	for _, b := range p.Blobs {
		n += uint64(len(b))
	}
	return n
}

// Count returns the number of ops of each type, keyed by type name.
func (p *Plan) Count() map[string]int {
	out := map[string]int{}
	for _, op := range p.Ops {
		out[opName(op)]++
	}
	return out
}

func opName(op Op) string {
	switch op.(type) {
	case *CreateOp:
		return "create"
	case *DestroyOp:
		return "destroy"
	case *BindMemoryOp:
		return "bind"
	case *BindSparseOp:
		return "bind-sparse"
	case *MapMemoryOp:
		return "map"
	case *WriteMemoryOp:
		return "write"
	case *UpdateDescriptorsOp:
		return "update-descriptors"
	case *RecordCommandsOp:
		return "record"
	case *SubmitOp:
		return "submit"
	case *SignalOp:
		return "signal"
	case *PatchAddressesOp:
		return "patch"
	}
	return "unknown"
}

// Validate checks that no op references an identity before the op that
// creates it or after the op that destroys it, that no identity is created
// twice, and that every payload is present.
func (p *Plan) Validate() error {
	live := map[tracker.ID]bool{}
	seen := map[tracker.ID]bool{}
	for i, op := range p.Ops {
		for _, u := range op.Uses() {
			if !live[u] {
				return errors.Wrapf(ErrUseBeforeCreate, "op %d (%v) uses %v", i, op, u)
			}
		}
		for _, d := range op.Defines() {
			if seen[d] {
				return errors.Wrapf(ErrRedefined, "op %d (%v) creates %v", i, op, d)
			}
			seen[d], live[d] = true, true
		}
		switch op := op.(type) {
		case *DestroyOp:
			delete(live, op.ID)
		case *WriteMemoryOp:
			if b, ok := p.Blobs[op.Blob]; !ok || uint64(len(b)) != op.Size {
				return errors.Wrapf(ErrMissingBlob, "op %d (%v)", i, op)
			}
		}
	}
	return nil
}
