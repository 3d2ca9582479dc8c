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

	"github.com/google/substate/core/data/id"
	"github.com/google/substate/driver"
	"github.com/google/substate/tracker"
)

// Op is one operation of a plan. Every handle an op holds, including those
// inside creation infos and commands, is a tracker.ID.
type Op interface {
	// Defines returns the identities the op creates.
	Defines() []tracker.ID
	// Uses returns the identities the op references. Each must have been
	// created by an earlier op and not destroyed since.
	Uses() []tracker.ID
	String() string
}

// CreateOp creates an object from its parent.
type CreateOp struct {
	ID     tracker.ID
	Parent tracker.ID
	Info   driver.CreateInfo
	// Transient objects are destroyed later in the same plan.
	Transient bool
}

// DestroyOp destroys a transient object.
type DestroyOp struct {
	ID     tracker.ID
	Parent tracker.ID
	Kind   driver.Kind
}

// BindMemoryOp binds the whole of a buffer or image to memory.
type BindMemoryOp struct {
	Device   tracker.ID
	Resource tracker.ID
	Kind     driver.Kind
	Memory   tracker.ID
	Offset   uint64
}

// BindSparseOp binds ranges of sparse resources on a queue.
type BindSparseOp struct {
	Queue tracker.ID
	Binds []driver.SparseBind
}

// MapMemoryOp maps a range of memory and leaves it mapped.
type MapMemoryOp struct {
	Device tracker.ID
	Memory tracker.ID
	Offset uint64
	Size   uint64
}

// WriteMemoryOp writes a payload to host-visible memory.
type WriteMemoryOp struct {
	Device tracker.ID
	Memory tracker.ID
	Offset uint64
	Size   uint64
	Blob   id.ID
}

// UpdateDescriptorsOp writes descriptors.
type UpdateDescriptorsOp struct {
	Device tracker.ID
	Writes []driver.DescriptorWrite
}

// RecordCommandsOp records commands into a command buffer. The command
// buffer is ended when End is set and left recording otherwise.
type RecordCommandsOp struct {
	CommandBuffer tracker.ID
	Begin         driver.BeginInfo
	Commands      []driver.Command
	End           bool
}

// SubmitOp records commands into a one-shot command buffer allocated from
// Pool, submits it to Queue and waits for the queue to idle.
type SubmitOp struct {
	Queue    tracker.ID
	Pool     tracker.ID
	Label    string
	Commands []driver.Command
}

// SignalOp signals a semaphore through Queue or sets an event.
type SignalOp struct {
	Device tracker.ID
	Queue  tracker.ID
	Object tracker.ID
	Kind   driver.Kind
}

// Patch relocates the device addresses in [OldBase, OldBase+Size) to the
// address of Resource on the replaying driver.
type Patch struct {
	OldBase  uint64
	Size     uint64
	Resource tracker.ID
	Kind     driver.Kind
}

// PatchAddressesOp rewrites the device addresses stored at Locations of
// Target. Table is sorted by OldBase.
type PatchAddressesOp struct {
	Device    tracker.ID
	Queue     tracker.ID
	Pool      tracker.ID
	Target    tracker.ID
	Locations []uint64
	Table     []Patch
}

func ids(refs []driver.Ref) []tracker.ID {
	out := make([]tracker.ID, len(refs))
	for i, r := range refs {
		out[i] = tracker.ID(r.Handle)
	}
	return out
}

func commandIDs(cmds []driver.Command) []tracker.ID {
	var out []tracker.ID
	for _, c := range cmds {
		out = append(out, ids(c.Refs())...)
	}
	return out
}

func nonZero(in ...tracker.ID) []tracker.ID {
	out := make([]tracker.ID, 0, len(in))
	for _, id := range in {
		if id != 0 {
			out = append(out, id)
		}
	}
	return out
}

func (o *CreateOp) Defines() []tracker.ID { return []tracker.ID{o.ID} }
func (o *CreateOp) Uses() []tracker.ID {
	return append(nonZero(o.Parent), ids(o.Info.Deps())...)
}
func (o *CreateOp) String() string {
	s := fmt.Sprintf("create %v%v", o.Info.Kind(), o.ID)
	if o.Parent != 0 {
		s += fmt.Sprintf(" from %v", o.Parent)
	}
	if o.Transient {
		s += " (transient)"
	}
	return s
}

func (o *DestroyOp) Defines() []tracker.ID { return nil }
func (o *DestroyOp) Uses() []tracker.ID    { return nonZero(o.ID, o.Parent) }
func (o *DestroyOp) String() string        { return fmt.Sprintf("destroy %v%v", o.Kind, o.ID) }

func (o *BindMemoryOp) Defines() []tracker.ID { return nil }
func (o *BindMemoryOp) Uses() []tracker.ID    { return nonZero(o.Device, o.Resource, o.Memory) }
func (o *BindMemoryOp) String() string {
	return fmt.Sprintf("bind %v%v to %v+%d", o.Kind, o.Resource, o.Memory, o.Offset)
}

func (o *BindSparseOp) Defines() []tracker.ID { return nil }
func (o *BindSparseOp) Uses() []tracker.ID {
	out := nonZero(o.Queue)
	for _, b := range o.Binds {
		out = append(out, nonZero(tracker.ID(b.Resource.Handle), tracker.ID(b.Memory))...)
	}
	return out
}
func (o *BindSparseOp) String() string {
	return fmt.Sprintf("bind %d sparse ranges on %v", len(o.Binds), o.Queue)
}

func (o *MapMemoryOp) Defines() []tracker.ID { return nil }
func (o *MapMemoryOp) Uses() []tracker.ID    { return nonZero(o.Device, o.Memory) }
func (o *MapMemoryOp) String() string {
	return fmt.Sprintf("map %v [%d, %d)", o.Memory, o.Offset, o.Offset+o.Size)
}

func (o *WriteMemoryOp) Defines() []tracker.ID { return nil }
func (o *WriteMemoryOp) Uses() []tracker.ID    { return nonZero(o.Device, o.Memory) }
func (o *WriteMemoryOp) String() string {
	return fmt.Sprintf("write %v [%d, %d) <- %v", o.Memory, o.Offset, o.Offset+o.Size, o.Blob.Short())
}

func (o *UpdateDescriptorsOp) Defines() []tracker.ID { return nil }
func (o *UpdateDescriptorsOp) Uses() []tracker.ID {
	out := nonZero(o.Device)
	for _, w := range o.Writes {
		out = append(out, ids(w.Refs())...)
	}
	return out
}
func (o *UpdateDescriptorsOp) String() string {
	return fmt.Sprintf("update %d descriptors", len(o.Writes))
}

func (o *RecordCommandsOp) Defines() []tracker.ID { return nil }
func (o *RecordCommandsOp) Uses() []tracker.ID {
	return append(nonZero(o.CommandBuffer), commandIDs(o.Commands)...)
}
func (o *RecordCommandsOp) String() string {
	return fmt.Sprintf("record %d commands into %v", len(o.Commands), o.CommandBuffer)
}

func (o *SubmitOp) Defines() []tracker.ID { return nil }
func (o *SubmitOp) Uses() []tracker.ID {
	return append(nonZero(o.Queue, o.Pool), commandIDs(o.Commands)...)
}
func (o *SubmitOp) String() string {
	return fmt.Sprintf("submit %d commands on %v (%s)", len(o.Commands), o.Queue, o.Label)
}

func (o *SignalOp) Defines() []tracker.ID { return nil }
func (o *SignalOp) Uses() []tracker.ID    { return nonZero(o.Device, o.Queue, o.Object) }
func (o *SignalOp) String() string        { return fmt.Sprintf("signal %v%v", o.Kind, o.Object) }

func (o *PatchAddressesOp) Defines() []tracker.ID { return nil }
func (o *PatchAddressesOp) Uses() []tracker.ID {
	out := nonZero(o.Device, o.Queue, o.Pool, o.Target)
	for _, p := range o.Table {
		out = append(out, p.Resource)
	}
	return out
}
func (o *PatchAddressesOp) String() string {
	return fmt.Sprintf("patch %d addresses in %v", len(o.Locations), o.Target)
}
