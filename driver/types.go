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

// Layout is the layout of an image subresource.
type Layout uint32

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPreinitialized
	LayoutPresentSrc
)

var layoutNames = [...]string{
	"UNDEFINED",
	"GENERAL",
	"COLOR_ATTACHMENT",
	"DEPTH_STENCIL_ATTACHMENT",
	"SHADER_READ_ONLY",
	"TRANSFER_SRC",
	"TRANSFER_DST",
	"PREINITIALIZED",
	"PRESENT_SRC",
}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return "LAYOUT(?)"
}

// Access is a set of memory access types.
type Access uint32

const (
	AccessTransferRead Access = 1 << iota
	AccessTransferWrite
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentWrite
	AccessHostWrite
)

// QueueFamilyIgnored marks a barrier without an ownership transfer.
const QueueFamilyIgnored = ^uint32(0)

// Format is a texel format.
type Format uint32

const (
	FormatUndefined Format = iota
	FormatR8Unorm
	FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm
	FormatR16G16B16A16Float
	FormatR32Float
	FormatR32G32B32A32Float
	FormatD32Float
)

// TexelSize returns the size in bytes of one texel.
func (f Format) TexelSize() uint64 {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatR8G8B8A8Unorm, FormatB8G8R8A8Unorm, FormatR32Float, FormatD32Float:
		return 4
	case FormatR16G16B16A16Float:
		return 8
	case FormatR32G32B32A32Float:
		return 16
	}
	return 0
}

// BufferUsage is a set of buffer usage flags.
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageIndirect
	BufferUsageDeviceAddress
	BufferUsageAccelerationStructureStorage
	BufferUsageAccelerationStructureInput
)

// ImageUsage is a set of image usage flags.
type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
)

// DescriptorType is the type of a descriptor binding.
type DescriptorType uint32

const (
	DescriptorSampler DescriptorType = iota
	DescriptorCombinedImageSampler
	DescriptorSampledImage
	DescriptorStorageImage
	DescriptorUniformTexelBuffer
	DescriptorStorageTexelBuffer
	DescriptorUniformBuffer
	DescriptorStorageBuffer
	DescriptorAccelerationStructure
)

// Writes returns true if shaders may write through descriptors of type t.
func (t DescriptorType) Writes() bool {
	switch t {
	case DescriptorStorageImage, DescriptorStorageTexelBuffer, DescriptorStorageBuffer:
		return true
	}
	return false
}

// PipelineBindPoint is the kind of work a pipeline performs.
type PipelineBindPoint uint32

const (
	BindGraphics PipelineBindPoint = iota
	BindCompute
	BindRayTracing
)

// CommandBufferLevel is primary or secondary.
type CommandBufferLevel uint32

const (
	LevelPrimary CommandBufferLevel = iota
	LevelSecondary
)

// QueryType is the type of queries in a query pool.
type QueryType uint32

const (
	QueryOcclusion QueryType = iota
	QueryTimestamp
	QueryPipelineStatistics
)

// AccelerationStructureType is top or bottom level.
type AccelerationStructureType uint32

const (
	TopLevel AccelerationStructureType = iota
	BottomLevel
)

// Subresources is a range of image mip levels and array layers.
type Subresources struct {
	BaseMip, Mips     uint32
	BaseLayer, Layers uint32
}

// Each calls f for every (mip, layer) in the range.
func (r Subresources) Each(f func(mip, layer uint32)) {
	for m := r.BaseMip; m < r.BaseMip+r.Mips; m++ {
		for l := r.BaseLayer; l < r.BaseLayer+r.Layers; l++ {
			f(m, l)
		}
	}
}

// Descriptor is the content of one descriptor array element. Which fields
// are meaningful depends on the descriptor type.
type Descriptor struct {
	Buffer                Handle
	Offset, Range         uint64
	Sampler               Handle
	View                  Handle
	Layout                Layout
	TexelView             Handle
	AccelerationStructure Handle
}

// Refs returns the objects referenced by the descriptor.
func (d Descriptor) Refs() []Ref {
	var out []Ref
	out = append(out, refs(Buffer, d.Buffer)...)
	out = append(out, refs(Sampler, d.Sampler)...)
	out = append(out, refs(ImageView, d.View)...)
	out = append(out, refs(BufferView, d.TexelView)...)
	out = append(out, refs(AccelerationStructure, d.AccelerationStructure)...)
	return out
}

// Remap returns a copy of the descriptor with every reference rewritten.
func (d Descriptor) Remap(f Remapper) Descriptor {
	d.Buffer = remap(Buffer, d.Buffer, f)
	d.Sampler = remap(Sampler, d.Sampler, f)
	d.View = remap(ImageView, d.View, f)
	d.TexelView = remap(BufferView, d.TexelView, f)
	d.AccelerationStructure = remap(AccelerationStructure, d.AccelerationStructure, f)
	return d
}

// DescriptorWrite writes one element of one binding of a descriptor set.
type DescriptorWrite struct {
	Set        Handle
	Binding    uint32
	Element    uint32
	Type       DescriptorType
	Descriptor Descriptor
}

// Refs returns the objects referenced by the write, including its set.
func (w DescriptorWrite) Refs() []Ref {
	return append(refs(DescriptorSet, w.Set), w.Descriptor.Refs()...)
}

// Remap returns a copy of the write with every reference rewritten.
func (w DescriptorWrite) Remap(f Remapper) DescriptorWrite {
	w.Set = remap(DescriptorSet, w.Set, f)
	w.Descriptor = w.Descriptor.Remap(f)
	return w
}
