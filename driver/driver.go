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

// Package driver defines the table of native graphics entry points that the
// state tracker intercepts and the restore plan is replayed against.
//
// Every object is named by an opaque Handle. Creation parameters are carried
// by CreateInfo values and recorded work by Command values; both can report
// the handles they reference and produce copies with those handles remapped,
// which is how a plan expressed in logical identities is bound to the handles
// of a fresh driver instance.
package driver

import (
	"time"

	"github.com/google/substate/core/fault"
)

const (
	// ErrInvalidHandle is returned when a handle does not name a live object
	// of the expected kind.
	ErrInvalidHandle = fault.Const("Invalid handle")
	// ErrNotBound is returned when a resource is used before memory is bound.
	ErrNotBound = fault.Const("Resource has no memory bound")
	// ErrNotMapped is returned when unmapping or flushing unmapped memory.
	ErrNotMapped = fault.Const("Memory is not mapped")
	// ErrAlreadyMapped is returned when mapping memory that is mapped.
	ErrAlreadyMapped = fault.Const("Memory is already mapped")
	// ErrNotHostVisible is returned when mapping device-local memory.
	ErrNotHostVisible = fault.Const("Memory is not host visible")
	// ErrOutOfRange is returned for offsets or sizes beyond an object.
	ErrOutOfRange = fault.Const("Range out of bounds")
	// ErrTimeout is returned when a wait does not complete in time.
	ErrTimeout = fault.Const("Timeout")
	// ErrUnsupported is returned for operations the object cannot perform.
	ErrUnsupported = fault.Const("Unsupported operation")
	// ErrBadState is returned when an object is used in the wrong state.
	ErrBadState = fault.Const("Object in wrong state")
)

// Handle is an opaque native object name. The zero Handle is null.
type Handle uint64

// WholeSize maps or flushes from the offset to the end of the memory.
const WholeSize = ^uint64(0)

// Ref is a handle together with the kind of object it names.
type Ref struct {
	Kind   Kind
	Handle Handle
}

// Remapper rewrites a referenced handle.
type Remapper func(Ref) Handle

// CreateInfo is the immutable set of creation parameters of an object.
type CreateInfo interface {
	// Kind returns the kind of object the info creates.
	Kind() Kind
	// Deps returns every non-null object the parameters reference, not
	// including the parent the object is created from.
	Deps() []Ref
	// Remap returns a copy of the info with every dependency rewritten.
	Remap(f Remapper) CreateInfo
}

// Command is a single command recorded into a command buffer.
type Command interface {
	// Name returns the entry point name of the command.
	Name() string
	// Refs returns every non-null object the command references.
	Refs() []Ref
	// Remap returns a copy of the command with every reference rewritten.
	Remap(f Remapper) Command
}

// SparseBind binds a range of a sparse resource to memory. A null Memory
// unbinds the range.
type SparseBind struct {
	Resource       Ref
	ResourceOffset uint64
	Size           uint64
	Memory         Handle
	MemoryOffset   uint64
}

// MappedRange is a range of mapped memory to flush.
type MappedRange struct {
	Memory Handle
	Offset uint64
	Size   uint64
}

// Submit is one batch of a queue submission.
type Submit struct {
	Waits          []Handle
	CommandBuffers []Handle
	Signals        []Handle
}

// BeginInfo is the parameter block of BeginCommandBuffer.
type BeginInfo struct {
	OneTimeSubmit bool
	// RenderPassContinue marks a secondary that executes inside a render pass.
	RenderPassContinue bool
}

// Table is the set of native entry points.
type Table interface {
	// Create creates an object from parent. Instances have no parent,
	// devices are created from an instance, command buffers and descriptor
	// sets from their pool, every other object from its device.
	Create(parent Handle, info CreateInfo) (Handle, error)
	// Destroy destroys an object created from parent.
	Destroy(parent Handle, kind Kind, h Handle) error

	BindBufferMemory(device, buffer, memory Handle, offset uint64) error
	BindImageMemory(device, image, memory Handle, offset uint64) error
	BindSparse(queue Handle, binds []SparseBind) error

	// MapMemory returns a host view of the range of memory.
	MapMemory(device, memory Handle, offset, size uint64) ([]byte, error)
	UnmapMemory(device, memory Handle) error
	FlushMappedRanges(device Handle, ranges []MappedRange) error

	BufferDeviceAddress(device, buffer Handle) (uint64, error)
	AccelerationStructureAddress(device, as Handle) (uint64, error)

	UpdateDescriptorSets(device Handle, writes []DescriptorWrite) error

	BeginCommandBuffer(cb Handle, info BeginInfo) error
	EndCommandBuffer(cb Handle) error
	ResetCommandBuffer(cb Handle) error
	Record(cb Handle, cmd Command) error

	QueueSubmit(queue Handle, submits []Submit, fence Handle) error
	QueueWaitIdle(queue Handle) error
	WaitForFences(device Handle, fences []Handle, timeout time.Duration) error
	FenceStatus(device, fence Handle) (bool, error)
	ResetFences(device Handle, fences []Handle) error
	SetEvent(device, event Handle, set bool) error
}

// HostWriter is implemented by tables whose mapped views must be written
// through a call rather than directly. offset is relative to the start of
// the mapping.
type HostWriter interface {
	WriteMapped(device, memory Handle, offset uint64, data []byte) error
}

func refs(kind Kind, hs ...Handle) []Ref {
	out := make([]Ref, 0, len(hs))
	for _, h := range hs {
		if h != 0 {
			out = append(out, Ref{kind, h})
		}
	}
	return out
}

func remapAll(kind Kind, hs []Handle, f Remapper) []Handle {
	if hs == nil {
		return nil
	}
	out := make([]Handle, len(hs))
	for i, h := range hs {
		out[i] = remap(kind, h, f)
	}
	return out
}

func remap(kind Kind, h Handle, f Remapper) Handle {
	if h == 0 {
		return 0
	}
	return f(Ref{kind, h})
}
