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

import "github.com/google/substate/core/fault"

const (
	// ErrNotTracked is returned when a handle does not name a live tracked
	// object.
	ErrNotTracked = fault.Const("Object not tracked")
	// ErrWrongKind is returned when a handle names a tracked object of a
	// different kind than expected.
	ErrWrongKind = fault.Const("Object of wrong kind")
	// ErrNotMapped is returned when writing or flushing memory that the
	// application has not mapped.
	ErrNotMapped = fault.Const("Memory not mapped")
	// ErrOutOfRange is returned for accesses beyond a mapping or resource.
	ErrOutOfRange = fault.Const("Range out of bounds")
	// ErrBadState is returned when a command buffer is used in the wrong
	// recording state.
	ErrBadState = fault.Const("Command buffer in wrong state")
)
