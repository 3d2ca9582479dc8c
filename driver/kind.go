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

package driver

// Kind is the kind of a native object.
type Kind uint8

const (
	KindUnknown Kind = iota
	Instance
	Device
	Queue
	CommandPool
	DescriptorPool
	QueryPool
	Sampler
	DeviceMemory
	Buffer
	Image
	BufferView
	ImageView
	AccelerationStructure
	DescriptorSetLayout
	PipelineLayout
	DescriptorUpdateTemplate
	PipelineCache
	ShaderModule
	RenderPass
	Pipeline
	Framebuffer
	DescriptorSet
	Fence
	Semaphore
	Event
	CommandBuffer
	kindCount
)

var kindNames = [...]string{
	"Unknown",
	"Instance",
	"Device",
	"Queue",
	"CommandPool",
	"DescriptorPool",
	"QueryPool",
	"Sampler",
	"DeviceMemory",
	"Buffer",
	"Image",
	"BufferView",
	"ImageView",
	"AccelerationStructure",
	"DescriptorSetLayout",
	"PipelineLayout",
	"DescriptorUpdateTemplate",
	"PipelineCache",
	"ShaderModule",
	"RenderPass",
	"Pipeline",
	"Framebuffer",
	"DescriptorSet",
	"Fence",
	"Semaphore",
	"Event",
	"CommandBuffer",
}

func (k Kind) String() string {
	if k >= kindCount {
		return "Kind(?)"
	}
	return kindNames[k]
}

// Kinds returns every valid kind.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := Instance; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// ParentKind returns the kind of object that objects of kind k are created
// from, or KindUnknown for instances.
func (k Kind) ParentKind() Kind {
	switch k {
	case Instance:
		return KindUnknown
	case Device:
		return Instance
	case CommandBuffer:
		return CommandPool
	case DescriptorSet:
		return DescriptorPool
	default:
		return Device
	}
}

// IsResource returns true for kinds that are bound to memory.
func (k Kind) IsResource() bool {
	return k == Buffer || k == Image
}
