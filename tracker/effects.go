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

import "github.com/google/substate/driver"

// effects adds the effects of one identity space command to s.
func (t *Tracker) effects(s *RecordState, cmd driver.Command) {
	switch c := cmd.(type) {
	case *driver.CopyBuffer:
		s.read(ID(c.Src))
		s.write(ID(c.Dst))
	case *driver.CopyImageToBuffer:
		s.read(ID(c.Image))
		s.write(ID(c.Buffer))
	case *driver.CopyBufferToImage:
		s.read(ID(c.Buffer))
		s.write(ID(c.Image))
	case *driver.PipelineBarrier:
		for _, b := range c.Images {
			s.Transitions = append(s.Transitions, Transition{
				Image:  ID(b.Image),
				Range:  b.Range,
				Layout: b.NewLayout,
				Access: b.DstAccess,
				Family: b.DstFamily,
			})
		}
	case *driver.BindPipeline:
		s.BoundPipeline[c.BindPoint] = ID(c.Pipeline)
	case *driver.BindDescriptorSets:
		sets := s.BoundSets[c.BindPoint]
		if sets == nil {
			sets = map[uint32]ID{}
			s.BoundSets[c.BindPoint] = sets
		}
		for i, set := range c.Sets {
			sets[c.First+uint32(i)] = ID(set)
		}
	case *driver.ResetQueryPool:
		s.Queries = append(s.Queries, QueryOp{ID(c.Pool), c.First, c.Count, QueryInactive})
	case *driver.BeginQuery:
		s.Queries = append(s.Queries, QueryOp{ID(c.Pool), c.Query, 1, QueryActive})
	case *driver.EndQuery:
		s.Queries = append(s.Queries, QueryOp{ID(c.Pool), c.Query, 1, QueryComplete})
	case *driver.FillBuffer:
		s.write(ID(c.Buffer))
	case *driver.UpdateBuffer:
		s.write(ID(c.Buffer))
	case *driver.ClearColorImage:
		s.write(ID(c.Image))
	case *driver.BeginRenderPass:
		s.renderPass, s.framebuffer = ID(c.RenderPass), ID(c.Framebuffer)
	case *driver.EndRenderPass:
		t.endRenderPass(s)
	case *driver.Draw:
		t.useSets(s, driver.BindGraphics)
		if s.framebuffer != 0 {
			t.attachments(s.framebuffer, func(image ID, _ driver.Subresources, _ int) { s.write(image) })
		} else {
			s.drew = true
		}
	case *driver.Dispatch:
		t.useSets(s, driver.BindCompute)
	case *driver.ExecuteCommands:
		for _, h := range c.CommandBuffers {
			sec := t.get(h)
			if sec == nil {
				continue
			}
			ss := sec.State.(*CommandBufferState)
			s.merge(ss.Pending)
			s.Secondaries = append(s.Secondaries, sec.ID)
			if ss.Pending.drew && s.framebuffer != 0 {
				t.attachments(s.framebuffer, func(image ID, _ driver.Subresources, _ int) { s.write(image) })
			}
		}
	case *driver.SetEvent:
		s.Events = append(s.Events, EventOp{ID(c.Event), true})
	case *driver.ResetEvent:
		s.Events = append(s.Events, EventOp{ID(c.Event), false})
	case *driver.BuildAccelerationStructure:
		s.read(ID(c.Instances))
		s.AddressTables = append(s.AddressTables, ID(c.Instances))
		s.Builds = append(s.Builds, ID(c.Dst))
		if as := t.get(c.Dst); as != nil {
			s.write(as.State.(*AccelerationStructureState).Buffer)
		}
	case *driver.PatchAddresses:
		s.write(ID(c.Target))
	}
}

// endRenderPass moves every attachment to its final layout.
func (t *Tracker) endRenderPass(s *RecordState) {
	defer func() { s.renderPass, s.framebuffer = 0, 0 }()
	rp := t.get(driver.Handle(s.renderPass))
	if rp == nil || s.framebuffer == 0 {
		return
	}
	info := rp.Info.(*driver.RenderPassInfo)
	t.attachments(s.framebuffer, func(image ID, r driver.Subresources, i int) {
		if i >= len(info.Attachments) {
			return
		}
		s.Transitions = append(s.Transitions, Transition{
			Image:  image,
			Range:  r,
			Layout: info.Attachments[i].FinalLayout,
			Access: driver.AccessColorAttachmentWrite,
			Family: driver.QueueFamilyIgnored,
		})
		s.write(image)
	})
}

// attachments calls f with the image and range behind every attachment of
// a framebuffer.
func (t *Tracker) attachments(fb ID, f func(image ID, r driver.Subresources, index int)) {
	rec := t.get(driver.Handle(fb))
	if rec == nil {
		return
	}
	for i, v := range rec.Info.(*driver.FramebufferInfo).Attachments {
		if view := t.get(v); view != nil {
			info := view.Info.(*driver.ImageViewInfo)
			f(ID(info.Image), info.Range, i)
		}
	}
}

// useSets adds the resources behind the descriptors of every set bound at
// bp to the read and write sets.
func (t *Tracker) useSets(s *RecordState, bp driver.PipelineBindPoint) {
	for _, set := range s.BoundSets[bp] {
		rec := t.get(driver.Handle(set))
		if rec == nil {
			continue
		}
		for _, w := range rec.State.(*DescriptorSetState).Writes {
			use := s.read
			if w.Type.Writes() {
				use = func(id ID) { s.read(id); s.write(id) }
			}
			d := w.Descriptor
			use(ID(d.Buffer))
			if v := t.get(d.View); d.View != 0 && v != nil {
				use(ID(v.Info.(*driver.ImageViewInfo).Image))
			}
			if v := t.get(d.TexelView); d.TexelView != 0 && v != nil {
				use(ID(v.Info.(*driver.BufferViewInfo).Buffer))
			}
			if as := t.get(d.AccelerationStructure); d.AccelerationStructure != 0 && as != nil {
				s.read(as.State.(*AccelerationStructureState).Buffer)
			}
		}
	}
}
