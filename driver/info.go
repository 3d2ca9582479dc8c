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

// InstanceInfo creates an Instance.
type InstanceInfo struct {
	Application string
}

// DeviceInfo creates a Device from an instance.
type DeviceInfo struct {
	PhysicalDevice uint32
	// Features lists the optional features the device is created with.
	Features []string
}

// QueueInfo retrieves a queue of a device.
type QueueInfo struct {
	Family uint32
	Index  uint32
	Sparse bool
}

// CommandPoolInfo creates a CommandPool.
type CommandPoolInfo struct {
	Family uint32
}

// DescriptorPoolInfo creates a DescriptorPool.
type DescriptorPoolInfo struct {
	MaxSets uint32
}

// QueryPoolInfo creates a QueryPool.
type QueryPoolInfo struct {
	Type  QueryType
	Count uint32
}

// SamplerInfo creates a Sampler.
type SamplerInfo struct {
	MagFilter, MinFilter uint32
	AddressMode          uint32
}

// MemoryInfo allocates DeviceMemory.
type MemoryInfo struct {
	Size          uint64
	TypeIndex     uint32
	HostVisible   bool
	DeviceAddress bool
}

// BufferInfo creates a Buffer.
type BufferInfo struct {
	Size   uint64
	Usage  BufferUsage
	Sparse bool
}

// ImageInfo creates an Image. Texels are laid out linearly, mip level by mip
// level, each level holding every array layer in turn.
type ImageInfo struct {
	Format                Format
	Width, Height, Depth  uint32
	Mips, Layers, Samples uint32
	Usage                 ImageUsage
	Sparse                bool
}

// BufferViewInfo creates a BufferView.
type BufferViewInfo struct {
	Buffer        Handle
	Format        Format
	Offset, Range uint64
}

// ImageViewInfo creates an ImageView.
type ImageViewInfo struct {
	Image  Handle
	Format Format
	Range  Subresources
}

// AccelerationStructureInfo creates an AccelerationStructure backed by a
// range of a buffer.
type AccelerationStructureInfo struct {
	Type         AccelerationStructureType
	Buffer       Handle
	Offset, Size uint64
}

// LayoutBinding is one binding of a DescriptorSetLayout.
type LayoutBinding struct {
	Binding           uint32
	Type              DescriptorType
	Count             uint32
	ImmutableSamplers []Handle
}

// DescriptorSetLayoutInfo creates a DescriptorSetLayout.
type DescriptorSetLayoutInfo struct {
	Bindings []LayoutBinding
}

// PipelineLayoutInfo creates a PipelineLayout.
type PipelineLayoutInfo struct {
	SetLayouts       []Handle
	PushConstantSize uint32
}

// TemplateEntry is one entry of a DescriptorUpdateTemplate.
type TemplateEntry struct {
	Binding, Element, Count uint32
	Type                    DescriptorType
	Offset, Stride          uint64
}

// DescriptorUpdateTemplateInfo creates a DescriptorUpdateTemplate.
type DescriptorUpdateTemplateInfo struct {
	SetLayout Handle
	Entries   []TemplateEntry
}

// PipelineCacheInfo creates a PipelineCache.
type PipelineCacheInfo struct {
	InitialData []byte
}

// ShaderModuleInfo creates a ShaderModule.
type ShaderModuleInfo struct {
	Code []byte
}

// Attachment describes one render pass attachment.
type Attachment struct {
	Format                     Format
	Samples                    uint32
	InitialLayout, FinalLayout Layout
}

// RenderPassInfo creates a RenderPass.
type RenderPassInfo struct {
	Attachments []Attachment
	Subpasses   uint32
}

// PipelineInfo creates a Pipeline. Base names a pipeline this one derives
// from.
type PipelineInfo struct {
	BindPoint  PipelineBindPoint
	Layout     Handle
	Stages     []Handle
	RenderPass Handle
	Subpass    uint32
	Cache      Handle
	Base       Handle
}

// FramebufferInfo creates a Framebuffer.
type FramebufferInfo struct {
	RenderPass            Handle
	Attachments           []Handle
	Width, Height, Layers uint32
}

// DescriptorSetInfo allocates a DescriptorSet from a pool.
type DescriptorSetInfo struct {
	Layout Handle
}

// FenceInfo creates a Fence.
type FenceInfo struct {
	Signaled bool
}

// SemaphoreInfo creates a Semaphore.
type SemaphoreInfo struct{}

// EventInfo creates an Event.
type EventInfo struct{}

// CommandBufferInfo allocates a CommandBuffer from a pool.
type CommandBufferInfo struct {
	Level CommandBufferLevel
}

func (*InstanceInfo) Kind() Kind                 { return Instance }
func (*DeviceInfo) Kind() Kind                   { return Device }
func (*QueueInfo) Kind() Kind                    { return Queue }
func (*CommandPoolInfo) Kind() Kind              { return CommandPool }
func (*DescriptorPoolInfo) Kind() Kind           { return DescriptorPool }
func (*QueryPoolInfo) Kind() Kind                { return QueryPool }
func (*SamplerInfo) Kind() Kind                  { return Sampler }
func (*MemoryInfo) Kind() Kind                   { return DeviceMemory }
func (*BufferInfo) Kind() Kind                   { return Buffer }
func (*ImageInfo) Kind() Kind                    { return Image }
func (*BufferViewInfo) Kind() Kind               { return BufferView }
func (*ImageViewInfo) Kind() Kind                { return ImageView }
func (*AccelerationStructureInfo) Kind() Kind    { return AccelerationStructure }
func (*DescriptorSetLayoutInfo) Kind() Kind      { return DescriptorSetLayout }
func (*PipelineLayoutInfo) Kind() Kind           { return PipelineLayout }
func (*DescriptorUpdateTemplateInfo) Kind() Kind { return DescriptorUpdateTemplate }
func (*PipelineCacheInfo) Kind() Kind            { return PipelineCache }
func (*ShaderModuleInfo) Kind() Kind             { return ShaderModule }
func (*RenderPassInfo) Kind() Kind               { return RenderPass }
func (*PipelineInfo) Kind() Kind                 { return Pipeline }
func (*FramebufferInfo) Kind() Kind              { return Framebuffer }
func (*DescriptorSetInfo) Kind() Kind            { return DescriptorSet }
func (*FenceInfo) Kind() Kind                    { return Fence }
func (*SemaphoreInfo) Kind() Kind                { return Semaphore }
func (*EventInfo) Kind() Kind                    { return Event }
func (*CommandBufferInfo) Kind() Kind            { return CommandBuffer }

func (*InstanceInfo) Deps() []Ref       { return nil }
func (*DeviceInfo) Deps() []Ref         { return nil }
func (*QueueInfo) Deps() []Ref          { return nil }
func (*CommandPoolInfo) Deps() []Ref    { return nil }
func (*DescriptorPoolInfo) Deps() []Ref { return nil }
func (*QueryPoolInfo) Deps() []Ref      { return nil }
func (*SamplerInfo) Deps() []Ref        { return nil }
func (*MemoryInfo) Deps() []Ref         { return nil }
func (*BufferInfo) Deps() []Ref         { return nil }
func (*ImageInfo) Deps() []Ref          { return nil }
func (*PipelineCacheInfo) Deps() []Ref  { return nil }
func (*ShaderModuleInfo) Deps() []Ref   { return nil }
func (*RenderPassInfo) Deps() []Ref     { return nil }
func (*FenceInfo) Deps() []Ref          { return nil }
func (*SemaphoreInfo) Deps() []Ref      { return nil }
func (*EventInfo) Deps() []Ref          { return nil }
func (*CommandBufferInfo) Deps() []Ref  { return nil }

func (i *BufferViewInfo) Deps() []Ref { return refs(Buffer, i.Buffer) }
func (i *ImageViewInfo) Deps() []Ref  { return refs(Image, i.Image) }
func (i *AccelerationStructureInfo) Deps() []Ref {
	return refs(Buffer, i.Buffer)
}
func (i *DescriptorSetLayoutInfo) Deps() []Ref {
	var out []Ref
	for _, b := range i.Bindings {
		out = append(out, refs(Sampler, b.ImmutableSamplers...)...)
	}
	return out
}
func (i *PipelineLayoutInfo) Deps() []Ref { return refs(DescriptorSetLayout, i.SetLayouts...) }
func (i *DescriptorUpdateTemplateInfo) Deps() []Ref {
	return refs(DescriptorSetLayout, i.SetLayout)
}
func (i *PipelineInfo) Deps() []Ref {
	out := refs(PipelineLayout, i.Layout)
	out = append(out, refs(ShaderModule, i.Stages...)...)
	out = append(out, refs(RenderPass, i.RenderPass)...)
	out = append(out, refs(PipelineCache, i.Cache)...)
	return append(out, refs(Pipeline, i.Base)...)
}
func (i *FramebufferInfo) Deps() []Ref {
	return append(refs(RenderPass, i.RenderPass), refs(ImageView, i.Attachments...)...)
}
func (i *DescriptorSetInfo) Deps() []Ref { return refs(DescriptorSetLayout, i.Layout) }

func (i *InstanceInfo) Remap(Remapper) CreateInfo       { c := *i; return &c }
func (i *QueueInfo) Remap(Remapper) CreateInfo          { c := *i; return &c }
func (i *CommandPoolInfo) Remap(Remapper) CreateInfo    { c := *i; return &c }
func (i *DescriptorPoolInfo) Remap(Remapper) CreateInfo { c := *i; return &c }
func (i *QueryPoolInfo) Remap(Remapper) CreateInfo      { c := *i; return &c }
func (i *SamplerInfo) Remap(Remapper) CreateInfo        { c := *i; return &c }
func (i *MemoryInfo) Remap(Remapper) CreateInfo         { c := *i; return &c }
func (i *BufferInfo) Remap(Remapper) CreateInfo         { c := *i; return &c }
func (i *ImageInfo) Remap(Remapper) CreateInfo          { c := *i; return &c }
func (i *PipelineCacheInfo) Remap(Remapper) CreateInfo  { c := *i; return &c }
func (i *ShaderModuleInfo) Remap(Remapper) CreateInfo   { c := *i; return &c }
func (i *FenceInfo) Remap(Remapper) CreateInfo          { c := *i; return &c }
func (i *SemaphoreInfo) Remap(Remapper) CreateInfo      { c := *i; return &c }
func (i *EventInfo) Remap(Remapper) CreateInfo          { c := *i; return &c }
func (i *CommandBufferInfo) Remap(Remapper) CreateInfo  { c := *i; return &c }

func (i *DeviceInfo) Remap(Remapper) CreateInfo {
	c := *i
	c.Features = append([]string(nil), i.Features...)
	return &c
}

func (i *RenderPassInfo) Remap(Remapper) CreateInfo {
	c := *i
	c.Attachments = append([]Attachment(nil), i.Attachments...)
	return &c
}

func (i *BufferViewInfo) Remap(f Remapper) CreateInfo {
	c := *i
	c.Buffer = remap(Buffer, i.Buffer, f)
	return &c
}

func (i *ImageViewInfo) Remap(f Remapper) CreateInfo {
	c := *i
	c.Image = remap(Image, i.Image, f)
	return &c
}

func (i *AccelerationStructureInfo) Remap(f Remapper) CreateInfo {
	c := *i
	c.Buffer = remap(Buffer, i.Buffer, f)
	return &c
}

func (i *DescriptorSetLayoutInfo) Remap(f Remapper) CreateInfo {
	c := DescriptorSetLayoutInfo{Bindings: make([]LayoutBinding, len(i.Bindings))}
	for j, b := range i.Bindings {
		b.ImmutableSamplers = remapAll(Sampler, b.ImmutableSamplers, f)
		c.Bindings[j] = b
	}
	return &c
}

func (i *PipelineLayoutInfo) Remap(f Remapper) CreateInfo {
	c := *i
	c.SetLayouts = remapAll(DescriptorSetLayout, i.SetLayouts, f)
	return &c
}

func (i *DescriptorUpdateTemplateInfo) Remap(f Remapper) CreateInfo {
	c := *i
	c.SetLayout = remap(DescriptorSetLayout, i.SetLayout, f)
	c.Entries = append([]TemplateEntry(nil), i.Entries...)
	return &c
}

func (i *PipelineInfo) Remap(f Remapper) CreateInfo {
	c := *i
	c.Layout = remap(PipelineLayout, i.Layout, f)
	c.Stages = remapAll(ShaderModule, i.Stages, f)
	c.RenderPass = remap(RenderPass, i.RenderPass, f)
	c.Cache = remap(PipelineCache, i.Cache, f)
	c.Base = remap(Pipeline, i.Base, f)
	return &c
}

func (i *FramebufferInfo) Remap(f Remapper) CreateInfo {
	c := *i
	c.RenderPass = remap(RenderPass, i.RenderPass, f)
	c.Attachments = remapAll(ImageView, i.Attachments, f)
	return &c
}

func (i *DescriptorSetInfo) Remap(f Remapper) CreateInfo {
	c := *i
	c.Layout = remap(DescriptorSetLayout, i.Layout, f)
	return &c
}

// MipExtent returns the dimensions of mip level mip.
func (i *ImageInfo) MipExtent(mip uint32) (w, h, d uint32) {
	w, h, d = i.Width>>mip, i.Height>>mip, i.Depth>>mip
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	if d == 0 {
		d = 1
	}
	return w, h, d
}

// SubresourceSize returns the size in bytes of one layer of mip level mip.
func (i *ImageInfo) SubresourceSize(mip uint32) uint64 {
	w, h, d := i.MipExtent(mip)
	samples := uint64(i.Samples)
	if samples == 0 {
		samples = 1
	}
	return uint64(w) * uint64(h) * uint64(d) * i.Format.TexelSize() * samples
}

// SubresourceOffset returns the byte offset of (mip, layer) in the image.
func (i *ImageInfo) SubresourceOffset(mip, layer uint32) uint64 {
	offset := uint64(0)
	for m := uint32(0); m < mip; m++ {
		offset += i.SubresourceSize(m) * uint64(i.Layers)
	}
	return offset + i.SubresourceSize(mip)*uint64(layer)
}

// Size returns the size in bytes of the whole image.
func (i *ImageInfo) Size() uint64 {
	return i.SubresourceOffset(i.Mips, 0)
}

// All returns the range covering every subresource of the image.
func (i *ImageInfo) All() Subresources {
	return Subresources{Mips: i.Mips, Layers: i.Layers}
}

// Subresource returns the index of (mip, layer) in a per-subresource array.
func (i *ImageInfo) Subresource(mip, layer uint32) int {
	return int(mip*i.Layers + layer)
}

// Multisampled returns true if the image has more than one sample per texel.
func (i *ImageInfo) Multisampled() bool { return i.Samples > 1 }

// RequiredSize returns the number of bytes of memory a resource created from
// info needs, or 0 for non-resources.
func RequiredSize(info CreateInfo) uint64 {
	switch i := info.(type) {
	case *BufferInfo:
		return i.Size
	case *ImageInfo:
		return i.Size()
	}
	return 0
}
