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

package soft

import (
	"encoding/binary"
	"sort"

	"github.com/google/substate/core/math/interval"
	"github.com/google/substate/driver"
	"github.com/pkg/errors"
)

type execution struct {
	renderPass  *object
	framebuffer *object
}

func (d *Driver) execute(cb *commandBuffer) error {
	return d.run(cb, &execution{})
}

func (d *Driver) run(cb *commandBuffer, x *execution) error {
	for _, cmd := range cb.cmds {
		if err := d.exec(cmd, x); err != nil {
			return errors.Wrap(err, cmd.Name())
		}
	}
	return nil
}

func (d *Driver) exec(cmd driver.Command, x *execution) error {
	switch c := cmd.(type) {
	case *driver.CopyBuffer:
		for _, r := range c.Regions {
			data, err := d.read(driver.Buffer, c.Src, r.SrcOffset, r.Size)
			if err != nil {
				return err
			}
			if err := d.write(driver.Buffer, c.Dst, r.DstOffset, data); err != nil {
				return err
			}
		}
	case *driver.CopyImageToBuffer:
		info, err := d.imageInfo(c.Image)
		if err != nil {
			return err
		}
		if info.Multisampled() {
			return errors.Wrap(driver.ErrUnsupported, "Copying a multisampled image")
		}
		for _, r := range c.Regions {
			data, err := d.read(driver.Image, c.Image, info.SubresourceOffset(r.Mip, r.Layer), info.SubresourceSize(r.Mip))
			if err != nil {
				return err
			}
			if err := d.write(driver.Buffer, c.Buffer, r.BufferOffset, data); err != nil {
				return err
			}
		}
	case *driver.CopyBufferToImage:
		info, err := d.imageInfo(c.Image)
		if err != nil {
			return err
		}
		if info.Multisampled() {
			return errors.Wrap(driver.ErrUnsupported, "Copying to a multisampled image")
		}
		for _, r := range c.Regions {
			data, err := d.read(driver.Buffer, c.Buffer, r.BufferOffset, info.SubresourceSize(r.Mip))
			if err != nil {
				return err
			}
			if err := d.write(driver.Image, c.Image, info.SubresourceOffset(r.Mip, r.Layer), data); err != nil {
				return err
			}
		}
	case *driver.PipelineBarrier:
		for _, b := range c.Images {
			if err := d.setLayout(b.Image, b.Range, b.NewLayout); err != nil {
				return err
			}
		}
	case *driver.FillBuffer:
		size := c.Size
		if size == driver.WholeSize {
			o, err := d.get(driver.Buffer, c.Buffer)
			if err != nil {
				return err
			}
			size = (o.res.size - c.Offset) &^ 3
		}
		data := make([]byte, size)
		for i := uint64(0); i+4 <= size; i += 4 {
			binary.LittleEndian.PutUint32(data[i:], c.Data)
		}
		return d.write(driver.Buffer, c.Buffer, c.Offset, data)
	case *driver.UpdateBuffer:
		return d.write(driver.Buffer, c.Buffer, c.Offset, c.Data)
	case *driver.ClearColorImage:
		info, err := d.imageInfo(c.Image)
		if err != nil {
			return err
		}
		if len(c.Texel) != int(info.Format.TexelSize()) {
			return errors.Wrap(driver.ErrOutOfRange, "Clear texel size")
		}
		var werr error
		c.Range.Each(func(mip, layer uint32) {
			size := info.SubresourceSize(mip)
			data := make([]byte, size)
			for i := uint64(0); i < size; i += uint64(len(c.Texel)) {
				copy(data[i:], c.Texel)
			}
			if err := d.write(driver.Image, c.Image, info.SubresourceOffset(mip, layer), data); err != nil && werr == nil {
				werr = err
			}
		})
		return werr
	case *driver.BeginRenderPass:
		rp, err := d.get(driver.RenderPass, c.RenderPass)
		if err != nil {
			return err
		}
		fb, err := d.get(driver.Framebuffer, c.Framebuffer)
		if err != nil {
			return err
		}
		x.renderPass, x.framebuffer = rp, fb
	case *driver.EndRenderPass:
		if x.renderPass == nil {
			return errors.Wrap(driver.ErrBadState, "No render pass")
		}
		rp := x.renderPass.info.(*driver.RenderPassInfo)
		fb := x.framebuffer.info.(*driver.FramebufferInfo)
		for i, view := range fb.Attachments {
			if i >= len(rp.Attachments) {
				break
			}
			vo, err := d.get(driver.ImageView, view)
			if err != nil {
				return err
			}
			vi := vo.info.(*driver.ImageViewInfo)
			if err := d.setLayout(vi.Image, vi.Range, rp.Attachments[i].FinalLayout); err != nil {
				return err
			}
		}
		x.renderPass, x.framebuffer = nil, nil
	case *driver.ExecuteCommands:
		for _, h := range c.CommandBuffers {
			o, err := d.get(driver.CommandBuffer, h)
			if err != nil {
				return err
			}
			if !o.cb.ready || o.cb.level != driver.LevelSecondary {
				return errors.Wrapf(driver.ErrBadState, "Executing command buffer %#x", h)
			}
			if err := d.run(o.cb, x); err != nil {
				return err
			}
		}
	case *driver.SetEvent:
		o, err := d.get(driver.Event, c.Event)
		if err != nil {
			return err
		}
		o.set = true
	case *driver.ResetEvent:
		o, err := d.get(driver.Event, c.Event)
		if err != nil {
			return err
		}
		o.set = false
	case *driver.ResetQueryPool:
		return d.setQueries(c.Pool, c.First, c.Count, QueryUnavailable)
	case *driver.BeginQuery:
		return d.setQueries(c.Pool, c.Query, 1, QueryActive)
	case *driver.EndQuery:
		return d.setQueries(c.Pool, c.Query, 1, QueryAvailable)
	case *driver.PatchAddresses:
		return d.patch(c)
	case *driver.BindPipeline, *driver.BindDescriptorSets, *driver.Draw, *driver.Dispatch,
		*driver.BuildAccelerationStructure:
		// No memory side effects without shader execution.
	default:
		return errors.Wrapf(driver.ErrUnsupported, "Command %T", cmd)
	}
	return nil
}

func (d *Driver) imageInfo(h driver.Handle) (*driver.ImageInfo, error) {
	o, err := d.get(driver.Image, h)
	if err != nil {
		return nil, err
	}
	return o.info.(*driver.ImageInfo), nil
}

func (d *Driver) setLayout(image driver.Handle, r driver.Subresources, layout driver.Layout) error {
	o, err := d.get(driver.Image, image)
	if err != nil {
		return err
	}
	info := o.info.(*driver.ImageInfo)
	r.Each(func(mip, layer uint32) {
		if mip < info.Mips && layer < info.Layers {
			o.res.layouts[info.Subresource(mip, layer)] = layout
		}
	})
	return nil
}

func (d *Driver) setQueries(pool driver.Handle, first, count uint32, status QueryStatus) error {
	o, err := d.get(driver.QueryPool, pool)
	if err != nil {
		return err
	}
	if uint64(first)+uint64(count) > uint64(len(o.query)) {
		return driver.ErrOutOfRange
	}
	for i := first; i < first+count; i++ {
		o.query[i] = status
	}
	return nil
}

// access calls f for every bound piece of [offset, offset+size) of the
// resource, with the matching slice of memory and its position in the range.
func (d *Driver) access(kind driver.Kind, h driver.Handle, offset, size uint64, f func(mem []byte, at uint64)) error {
	o, err := d.get(kind, h)
	if err != nil {
		return err
	}
	if offset+size > o.res.size {
		return errors.Wrapf(driver.ErrOutOfRange, "%v %#x [%d, %d)", kind, h, offset, offset+size)
	}
	if o.res.bound.Length() == 0 {
		return errors.Wrapf(driver.ErrNotBound, "%v %#x", kind, h)
	}
	span := interval.U64Span{Start: offset, End: offset + size}
	o.res.bound.Each(span, func(s interval.U64Span, seg segment) {
		m, ok := d.objects[seg.Memory]
		if !ok || m.mem == nil {
			return
		}
		start := uint64(int64(s.Start) + seg.Delta)
		f(m.mem.data[start:start+s.Size()], s.Start-offset)
	})
	return nil
}

func (d *Driver) read(kind driver.Kind, h driver.Handle, offset, size uint64) ([]byte, error) {
	out := make([]byte, size)
	err := d.access(kind, h, offset, size, func(mem []byte, at uint64) { copy(out[at:], mem) })
	return out, err
}

func (d *Driver) write(kind driver.Kind, h driver.Handle, offset uint64, data []byte) error {
	return d.access(kind, h, offset, uint64(len(data)), func(mem []byte, at uint64) { copy(mem, data[at:]) })
}

func (d *Driver) patch(c *driver.PatchAddresses) error {
	table := c.Table
	if !sort.SliceIsSorted(table, func(i, j int) bool { return table[i].OldBase < table[j].OldBase }) {
		return errors.Wrap(driver.ErrBadState, "Patch table not sorted")
	}
	for _, loc := range c.Locations {
		data, err := d.read(driver.Buffer, c.Target, loc, 8)
		if err != nil {
			return err
		}
		v := binary.LittleEndian.Uint64(data)
		i := sort.Search(len(table), func(i int) bool { return table[i].OldBase > v }) - 1
		if i < 0 || v >= table[i].OldBase+table[i].Size {
			continue
		}
		binary.LittleEndian.PutUint64(data, table[i].NewBase+(v-table[i].OldBase))
		if err := d.write(driver.Buffer, c.Target, loc, data); err != nil {
			return err
		}
	}
	return nil
}
