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
	"github.com/google/substate/core/data/id"
	"github.com/google/substate/driver"
)

// State is the kind specific mutable part of a Record.
type State interface {
	isState()
}

// BasicState is the state of kinds without mutable fields.
type BasicState struct{}

// MemoryState is the state of a DeviceMemory.
type MemoryState struct {
	Size          uint64
	TypeIndex     uint32
	HostVisible   bool
	DeviceAddress bool
	// Mapping is the current host mapping, or nil.
	Mapping  *Mapping
	Aliasing *Aliasing
}

// Binding binds the whole of a resource to a range of memory.
type Binding struct {
	Memory ID
	Offset uint64
	Size   uint64
}

// Resource is the state shared by buffers and images.
type Resource struct {
	Size uint64
	// Dense is the non-sparse binding, or nil.
	Dense *Binding
	// Sparse lists the sparse bindings sorted by resource offset.
	Sparse SparseList
	// Stamp is the stamp of the last write to the resource.
	Stamp Stamp
	// Defined is true once the resource holds content written by the device
	// or the host.
	Defined bool
	// Queue is the last queue that used the resource.
	Queue ID
}

// Pieces returns the bound ranges of the resource sorted by resource offset.
func (r *Resource) Pieces() []SparseBinding {
	if r.Dense != nil {
		return []SparseBinding{{ResourceOffset: 0, Size: r.Dense.Size, Memory: r.Dense.Memory, MemoryOffset: r.Dense.Offset}}
	}
	return append([]SparseBinding(nil), r.Sparse...)
}

// Bound returns true if any part of the resource is bound to memory.
func (r *Resource) Bound() bool { return r.Dense != nil || len(r.Sparse) > 0 }

// BufferState is the state of a Buffer.
type BufferState struct {
	Resource
	Usage driver.BufferUsage
	// Address is the device address of the buffer, or 0.
	Address uint64
	// AddressTable is set when the buffer has been used as the instance input
	// of an acceleration structure build, and so holds device addresses.
	AddressTable bool
}

// Slice is the state of one (mip, layer) of an image.
type Slice struct {
	Layout driver.Layout
	Access driver.Access
	Family uint32
}

// ImageState is the state of an Image.
type ImageState struct {
	Resource
	Info *driver.ImageInfo
	// Slices is indexed by ImageInfo.Subresource.
	Slices []Slice
}

// HasDefinedLayout returns true if any subresource has left UNDEFINED.
func (s *ImageState) HasDefinedLayout() bool {
	for _, sl := range s.Slices {
		if sl.Layout != driver.LayoutUndefined {
			return true
		}
	}
	return false
}

// Slot addresses one element of one binding of a descriptor set.
type Slot struct {
	Binding, Element uint32
}

// DescriptorSetState is the state of a DescriptorSet.
type DescriptorSetState struct {
	// Writes holds the last write to each element, in identity space.
	Writes map[Slot]driver.DescriptorWrite
}

// FenceState is the state of a Fence.
type FenceState struct {
	Signaled bool
	Used     bool
	// Polls counts the remaining status queries that report the fence as
	// unsignaled after the driver signals it.
	Polls int
}

// SemaphoreState is the state of a Semaphore.
type SemaphoreState struct {
	Signaled bool
	Used     bool
}

// EventState is the state of an Event.
type EventState struct {
	Set  bool
	Used bool
}

// QueryStatus is the state of one query.
type QueryStatus int

const (
	QueryInactive QueryStatus = iota
	QueryActive
	QueryComplete
)

// QueryPoolState is the state of a QueryPool.
type QueryPoolState struct {
	Status []QueryStatus
}

// CommandBufferStatus is the recording status of a command buffer.
type CommandBufferStatus int

const (
	Initial CommandBufferStatus = iota
	Recording
	Executable
	// Invalid command buffers were submitted with OneTimeSubmit.
	Invalid
)

// CommandBufferState is the state of a CommandBuffer.
type CommandBufferState struct {
	Level  driver.CommandBufferLevel
	Status CommandBufferStatus
	Begin  driver.BeginInfo
	// Commands holds the recorded commands in identity space.
	Commands []driver.Command
	// Pending holds the effects of the recorded commands, applied on submit.
	Pending *RecordState
}

// ShaderModuleState is the state of a ShaderModule.
type ShaderModuleState struct {
	Hash id.ID
}

// AccelerationStructureState is the state of an AccelerationStructure.
type AccelerationStructureState struct {
	Buffer  ID
	Offset  uint64
	Size    uint64
	Address uint64
	Built   bool
}

// Submission is one queue submission that has not been observed complete.
type Submission struct {
	Fence          ID
	CommandBuffers []ID
}

// QueueState is the state of a Queue.
type QueueState struct {
	Family   uint32
	Index    uint32
	Sparse   bool
	InFlight []Submission
}

func (*BasicState) isState()                 {}
func (*MemoryState) isState()                {}
func (*BufferState) isState()                {}
func (*ImageState) isState()                 {}
func (*DescriptorSetState) isState()         {}
func (*FenceState) isState()                 {}
func (*SemaphoreState) isState()             {}
func (*EventState) isState()                 {}
func (*QueryPoolState) isState()             {}
func (*CommandBufferState) isState()         {}
func (*ShaderModuleState) isState()          {}
func (*AccelerationStructureState) isState() {}
func (*QueueState) isState()                 {}

// resource returns the shared resource state of a buffer or image record.
func resource(s State) *Resource {
	switch s := s.(type) {
	case *BufferState:
		return &s.Resource
	case *ImageState:
		return &s.Resource
	}
	return nil
}

// newState builds the initial state for an object created from info.
func newState(info driver.CreateInfo) State {
	switch i := info.(type) {
	case *driver.MemoryInfo:
		return &MemoryState{
			Size:          i.Size,
			TypeIndex:     i.TypeIndex,
			HostVisible:   i.HostVisible,
			DeviceAddress: i.DeviceAddress,
			Aliasing:      NewAliasing(),
		}
	case *driver.BufferInfo:
		return &BufferState{Resource: Resource{Size: i.Size}, Usage: i.Usage}
	case *driver.ImageInfo:
		slices := make([]Slice, i.Mips*i.Layers)
		for j := range slices {
			slices[j].Family = driver.QueueFamilyIgnored
		}
		return &ImageState{Resource: Resource{Size: i.Size()}, Info: i, Slices: slices}
	case *driver.DescriptorSetInfo:
		return &DescriptorSetState{Writes: map[Slot]driver.DescriptorWrite{}}
	case *driver.FenceInfo:
		return &FenceState{Signaled: i.Signaled}
	case *driver.SemaphoreInfo:
		return &SemaphoreState{}
	case *driver.EventInfo:
		return &EventState{}
	case *driver.QueryPoolInfo:
		return &QueryPoolState{Status: make([]QueryStatus, i.Count)}
	case *driver.CommandBufferInfo:
		return &CommandBufferState{Level: i.Level, Pending: newRecordState()}
	case *driver.ShaderModuleInfo:
		return &ShaderModuleState{Hash: id.OfBytes(i.Code)}
	case *driver.AccelerationStructureInfo:
		return &AccelerationStructureState{Buffer: ID(i.Buffer), Offset: i.Offset, Size: i.Size}
	case *driver.QueueInfo:
		return &QueueState{Family: i.Family, Index: i.Index, Sparse: i.Sparse}
	}
	return &BasicState{}
}
