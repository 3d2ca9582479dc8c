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
	"fmt"

	"github.com/google/substate/driver"
)

// ID is the logical identity of a tracked object. Identities are issued in
// strictly increasing order and never reused, unlike native handles.
type ID uint64

// Stamp orders writes to resources. A higher stamp is a more recent write.
type Stamp uint64

func (id ID) String() string { return fmt.Sprintf("#%d", uint64(id)) }

// Record is the shadow of one native object.
type Record struct {
	ID     ID
	Kind   driver.Kind
	Handle driver.Handle
	// Parent is the identity of the object this one was created from, or 0.
	Parent ID
	// Info holds the creation parameters with every referenced handle
	// replaced by the identity of the object it named.
	Info driver.CreateInfo
	// State holds the kind specific mutable state. Its fields are guarded by
	// the owning Tracker.
	State State

	live       bool
	children   []ID
	dependents int
}

// Live returns false once the object has been destroyed.
func (r *Record) Live() bool { return r.live }

// Deps returns the identities referenced by the creation parameters.
func (r *Record) Deps() []ID {
	refs := r.Info.Deps()
	out := make([]ID, len(refs))
	for i, ref := range refs {
		out[i] = ID(ref.Handle)
	}
	return out
}

// Ref returns the kind and identity of the record as an identity space
// reference.
func (r *Record) Ref() driver.Ref { return driver.Ref{Kind: r.Kind, Handle: driver.Handle(r.ID)} }

func (r *Record) String() string {
	return fmt.Sprintf("%v%v(%#x)", r.Kind, r.ID, uint64(r.Handle))
}
