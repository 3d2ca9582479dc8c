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

// BufferCopy is one region of a buffer to buffer copy.
type BufferCopy struct {
	SrcOffset, DstOffset, Size uint64
}

// ImageCopy copies one whole subresource to or from a tightly packed range of
// a buffer.
type ImageCopy struct {
	BufferOffset uint64
	Mip, Layer   uint32
}

// ImageBarrier transitions a range of image subresources.
type ImageBarrier struct {
	Image                Handle
	Range                Subresources
	OldLayout, NewLayout Layout
	SrcAccess, DstAccess Access
	SrcFamily, DstFamily uint32
}

// AddressPatch maps the original range [OldBase, OldBase+Size) of device
// addresses to NewBase.
type AddressPatch struct {
	OldBase, Size, NewBase uint64
}

// InstanceStride is the size of one acceleration structure instance record.
const InstanceStride = 64

// InstanceAddressOffset is the offset of the referenced acceleration
// structure address within an instance record.
const InstanceAddressOffset = 56

type (
	// CopyBuffer copies regions between buffers.
	CopyBuffer struct {
		Src, Dst Handle
		Regions  []BufferCopy
	}
	// CopyImageToBuffer copies image subresources into a buffer.
	CopyImageToBuffer struct {
		Image   Handle
		Layout  Layout
		Buffer  Handle
		Regions []ImageCopy
	}
	// CopyBufferToImage copies a buffer into image subresources.
	CopyBufferToImage struct {
		Buffer  Handle
		Image   Handle
		Layout  Layout
		Regions []ImageCopy
	}
	// PipelineBarrier records image layout transitions.
	PipelineBarrier struct {
		Images []ImageBarrier
	}
	// BindPipeline binds a pipeline.
	BindPipeline struct {
		BindPoint PipelineBindPoint
		Pipeline  Handle
	}
	// BindDescriptorSets binds descriptor sets starting at set First.
	BindDescriptorSets struct {
		BindPoint PipelineBindPoint
		Layout    Handle
		First     uint32
		Sets      []Handle
	}
	// ResetQueryPool resets a range of queries.
	ResetQueryPool struct {
		Pool         Handle
		First, Count uint32
	}
	// BeginQuery begins a query.
	BeginQuery struct {
		Pool  Handle
		Query uint32
	}
	// EndQuery ends a query.
	EndQuery struct {
		Pool  Handle
		Query uint32
	}
	// FillBuffer fills a range of a buffer with a repeated word.
	FillBuffer struct {
		Buffer       Handle
		Offset, Size uint64
		Data         uint32
	}
	// UpdateBuffer writes inline data into a buffer.
	UpdateBuffer struct {
		Buffer Handle
		Offset uint64
		Data   []byte
	}
	// ClearColorImage fills image subresources with a repeated texel.
	ClearColorImage struct {
		Image  Handle
		Layout Layout
		Texel  []byte
		Range  Subresources
	}
	// BeginRenderPass begins a render pass instance.
	BeginRenderPass struct {
		RenderPass  Handle
		Framebuffer Handle
	}
	// EndRenderPass ends the current render pass instance.
	EndRenderPass struct{}
	// Draw draws primitives with the bound graphics state.
	Draw struct {
		VertexCount, InstanceCount uint32
	}
	// Dispatch dispatches compute work with the bound compute state.
	Dispatch struct {
		X, Y, Z uint32
	}
	// ExecuteCommands executes secondary command buffers.
	ExecuteCommands struct {
		CommandBuffers []Handle
	}
	// SetEvent sets an event from the device.
	SetEvent struct {
		Event Handle
	}
	// ResetEvent resets an event from the device.
	ResetEvent struct {
		Event Handle
	}
	// BuildAccelerationStructure builds a top level acceleration structure
	// from InstanceCount instance records read from a buffer.
	BuildAccelerationStructure struct {
		Dst            Handle
		Instances      Handle
		InstanceOffset uint64
		InstanceCount  uint32
	}
	// PatchAddresses rewrites device addresses stored in a buffer. The
	// 8-byte value at every location is looked up in Table, sorted by
	// OldBase, and replaced with its relocated address.
	PatchAddresses struct {
		Target    Handle
		Locations []uint64
		Table     []AddressPatch
	}
)

func (*CopyBuffer) Name() string                 { return "vkCmdCopyBuffer" }
func (*CopyImageToBuffer) Name() string          { return "vkCmdCopyImageToBuffer" }
func (*CopyBufferToImage) Name() string          { return "vkCmdCopyBufferToImage" }
func (*PipelineBarrier) Name() string            { return "vkCmdPipelineBarrier" }
func (*BindPipeline) Name() string               { return "vkCmdBindPipeline" }
func (*BindDescriptorSets) Name() string         { return "vkCmdBindDescriptorSets" }
func (*ResetQueryPool) Name() string             { return "vkCmdResetQueryPool" }
func (*BeginQuery) Name() string                 { return "vkCmdBeginQuery" }
func (*EndQuery) Name() string                   { return "vkCmdEndQuery" }
func (*FillBuffer) Name() string                 { return "vkCmdFillBuffer" }
func (*UpdateBuffer) Name() string               { return "vkCmdUpdateBuffer" }
func (*ClearColorImage) Name() string            { return "vkCmdClearColorImage" }
func (*BeginRenderPass) Name() string            { return "vkCmdBeginRenderPass" }
func (*EndRenderPass) Name() string              { return "vkCmdEndRenderPass" }
func (*Draw) Name() string                       { return "vkCmdDraw" }
func (*Dispatch) Name() string                   { return "vkCmdDispatch" }
func (*ExecuteCommands) Name() string            { return "vkCmdExecuteCommands" }
func (*SetEvent) Name() string                   { return "vkCmdSetEvent" }
func (*ResetEvent) Name() string                 { return "vkCmdResetEvent" }
func (*BuildAccelerationStructure) Name() string { return "vkCmdBuildAccelerationStructures" }
func (*PatchAddresses) Name() string             { return "patchDeviceAddresses" }

func (c *CopyBuffer) Refs() []Ref        { return append(refs(Buffer, c.Src), refs(Buffer, c.Dst)...) }
func (c *CopyImageToBuffer) Refs() []Ref { return append(refs(Image, c.Image), refs(Buffer, c.Buffer)...) }
func (c *CopyBufferToImage) Refs() []Ref { return append(refs(Buffer, c.Buffer), refs(Image, c.Image)...) }
func (c *PipelineBarrier) Refs() []Ref {
	var out []Ref
	for _, b := range c.Images {
		out = append(out, refs(Image, b.Image)...)
	}
	return out
}
func (c *BindPipeline) Refs() []Ref { return refs(Pipeline, c.Pipeline) }
func (c *BindDescriptorSets) Refs() []Ref {
	return append(refs(PipelineLayout, c.Layout), refs(DescriptorSet, c.Sets...)...)
}
func (c *ResetQueryPool) Refs() []Ref  { return refs(QueryPool, c.Pool) }
func (c *BeginQuery) Refs() []Ref      { return refs(QueryPool, c.Pool) }
func (c *EndQuery) Refs() []Ref        { return refs(QueryPool, c.Pool) }
func (c *FillBuffer) Refs() []Ref      { return refs(Buffer, c.Buffer) }
func (c *UpdateBuffer) Refs() []Ref    { return refs(Buffer, c.Buffer) }
func (c *ClearColorImage) Refs() []Ref { return refs(Image, c.Image) }
func (c *BeginRenderPass) Refs() []Ref {
	return append(refs(RenderPass, c.RenderPass), refs(Framebuffer, c.Framebuffer)...)
}
func (*EndRenderPass) Refs() []Ref     { return nil }
func (*Draw) Refs() []Ref              { return nil }
func (*Dispatch) Refs() []Ref          { return nil }
func (c *ExecuteCommands) Refs() []Ref { return refs(CommandBuffer, c.CommandBuffers...) }
func (c *SetEvent) Refs() []Ref        { return refs(Event, c.Event) }
func (c *ResetEvent) Refs() []Ref      { return refs(Event, c.Event) }
func (c *BuildAccelerationStructure) Refs() []Ref {
	return append(refs(AccelerationStructure, c.Dst), refs(Buffer, c.Instances)...)
}
func (c *PatchAddresses) Refs() []Ref { return refs(Buffer, c.Target) }

func (c *CopyBuffer) Remap(f Remapper) Command {
	o := *c
	o.Src, o.Dst = remap(Buffer, c.Src, f), remap(Buffer, c.Dst, f)
	o.Regions = append([]BufferCopy(nil), c.Regions...)
	return &o
}

func (c *CopyImageToBuffer) Remap(f Remapper) Command {
	o := *c
	o.Image, o.Buffer = remap(Image, c.Image, f), remap(Buffer, c.Buffer, f)
	o.Regions = append([]ImageCopy(nil), c.Regions...)
	return &o
}

func (c *CopyBufferToImage) Remap(f Remapper) Command {
	o := *c
	o.Buffer, o.Image = remap(Buffer, c.Buffer, f), remap(Image, c.Image, f)
	o.Regions = append([]ImageCopy(nil), c.Regions...)
	return &o
}

func (c *PipelineBarrier) Remap(f Remapper) Command {
	o := PipelineBarrier{Images: make([]ImageBarrier, len(c.Images))}
	for i, b := range c.Images {
		b.Image = remap(Image, b.Image, f)
		o.Images[i] = b
	}
	return &o
}

func (c *BindPipeline) Remap(f Remapper) Command {
	o := *c
	o.Pipeline = remap(Pipeline, c.Pipeline, f)
	return &o
}

func (c *BindDescriptorSets) Remap(f Remapper) Command {
	o := *c
	o.Layout = remap(PipelineLayout, c.Layout, f)
	o.Sets = remapAll(DescriptorSet, c.Sets, f)
	return &o
}

func (c *ResetQueryPool) Remap(f Remapper) Command {
	o := *c
	o.Pool = remap(QueryPool, c.Pool, f)
	return &o
}

func (c *BeginQuery) Remap(f Remapper) Command {
	o := *c
	o.Pool = remap(QueryPool, c.Pool, f)
	return &o
}

func (c *EndQuery) Remap(f Remapper) Command {
	o := *c
	o.Pool = remap(QueryPool, c.Pool, f)
	return &o
}

func (c *FillBuffer) Remap(f Remapper) Command {
	o := *c
	o.Buffer = remap(Buffer, c.Buffer, f)
	return &o
}

func (c *UpdateBuffer) Remap(f Remapper) Command {
	o := *c
	o.Buffer = remap(Buffer, c.Buffer, f)
	o.Data = append([]byte(nil), c.Data...)
	return &o
}

func (c *ClearColorImage) Remap(f Remapper) Command {
	o := *c
	o.Image = remap(Image, c.Image, f)
	o.Texel = append([]byte(nil), c.Texel...)
	return &o
}

func (c *BeginRenderPass) Remap(f Remapper) Command {
	o := *c
	o.RenderPass = remap(RenderPass, c.RenderPass, f)
	o.Framebuffer = remap(Framebuffer, c.Framebuffer, f)
	return &o
}

func (c *EndRenderPass) Remap(Remapper) Command { return &EndRenderPass{} }
func (c *Draw) Remap(Remapper) Command          { o := *c; return &o }
func (c *Dispatch) Remap(Remapper) Command      { o := *c; return &o }

func (c *ExecuteCommands) Remap(f Remapper) Command {
	return &ExecuteCommands{CommandBuffers: remapAll(CommandBuffer, c.CommandBuffers, f)}
}

func (c *SetEvent) Remap(f Remapper) Command {
	return &SetEvent{Event: remap(Event, c.Event, f)}
}

func (c *ResetEvent) Remap(f Remapper) Command {
	return &ResetEvent{Event: remap(Event, c.Event, f)}
}

func (c *BuildAccelerationStructure) Remap(f Remapper) Command {
	o := *c
	o.Dst = remap(AccelerationStructure, c.Dst, f)
	o.Instances = remap(Buffer, c.Instances, f)
	return &o
}

func (c *PatchAddresses) Remap(f Remapper) Command {
	o := *c
	o.Target = remap(Buffer, c.Target, f)
	o.Locations = append([]uint64(nil), c.Locations...)
	o.Table = append([]AddressPatch(nil), c.Table...)
	return &o
}
