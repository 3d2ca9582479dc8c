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
	"fmt"

	"github.com/google/substate/core/fault"
	"github.com/google/substate/driver"
	"github.com/google/substate/tracker"
)

const (
	// ErrUseBeforeCreate is reported by Validate for an op that references
	// an identity that no earlier op created, or that was destroyed.
	ErrUseBeforeCreate = fault.Const("Identity used before it is created")
	// ErrRedefined is reported by Validate for an identity created twice.
	ErrRedefined = fault.Const("Identity created twice")
	// ErrMissingBlob is reported for a write whose payload is not in the plan.
	ErrMissingBlob = fault.Const("Missing payload")
	// ErrMissingDependency is reported when an object a unit depends on no
	// longer exists.
	ErrMissingDependency = fault.Const("Dependency no longer exists")
	// ErrNoQueue is reported when a device has no queue to restore through.
	ErrNoQueue = fault.Const("Device has no queue")
)

// Class is the severity of a restore error.
type Class int

const (
	// Fatal errors abort the restore pass.
	Fatal Class = iota
	// Omission errors skip one dependent unit, such as a descriptor write
	// or a command buffer's commands.
	Omission
	// InvariantViolation errors name a stale identity. The object is
	// recreated transiently for its dependents.
	InvariantViolation
)

func (c Class) String() string {
	switch c {
	case Fatal:
		return "Fatal"
	case Omission:
		return "Omission"
	case InvariantViolation:
		return "InvariantViolation"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Error is an error raised while building or replaying a plan.
type Error struct {
	Class  Class
	Object tracker.ID
	Kind   driver.Kind
	Cause  error
}

func (e *Error) Error() string {
	if e.Object == 0 {
		return fmt.Sprintf("%v: %v", e.Class, e.Cause)
	}
	return fmt.Sprintf("%v: %v%v: %v", e.Class, e.Kind, e.Object, e.Cause)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Cause }

func fatal(rec *tracker.Record, cause error) *Error {
	e := &Error{Class: Fatal, Cause: cause}
	if rec != nil {
		e.Object, e.Kind = rec.ID, rec.Kind
	}
	return e
}
