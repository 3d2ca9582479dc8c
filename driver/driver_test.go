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

package driver_test

import (
	"testing"

	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/log"
	"github.com/google/substate/driver"
)

func shift(r driver.Ref) driver.Handle { return r.Handle + 100 }

func TestCreateInfoRemap(t *testing.T) {
	ctx := log.Testing(t)
	info := &driver.PipelineInfo{
		Layout:     1,
		Stages:     []driver.Handle{2, 3},
		RenderPass: 4,
		Base:       5,
	}
	assert.For(ctx, "deps").ThatSlice(info.Deps()).Equals([]driver.Ref{
		{Kind: driver.PipelineLayout, Handle: 1},
		{Kind: driver.ShaderModule, Handle: 2},
		{Kind: driver.ShaderModule, Handle: 3},
		{Kind: driver.RenderPass, Handle: 4},
		{Kind: driver.Pipeline, Handle: 5},
	})
	got := info.Remap(shift).(*driver.PipelineInfo)
	assert.For(ctx, "layout").That(got.Layout).Equals(driver.Handle(101))
	assert.For(ctx, "stages").ThatSlice(got.Stages).Equals([]driver.Handle{102, 103})
	assert.For(ctx, "null cache").That(got.Cache).Equals(driver.Handle(0))
	assert.For(ctx, "original untouched").That(info.Stages[0]).Equals(driver.Handle(2))
}

func TestCommandRemap(t *testing.T) {
	ctx := log.Testing(t)
	cmd := &driver.CopyBufferToImage{Buffer: 7, Image: 8, Regions: []driver.ImageCopy{{Mip: 1}}}
	assert.For(ctx, "refs").ThatSlice(cmd.Refs()).Equals([]driver.Ref{
		{Kind: driver.Buffer, Handle: 7},
		{Kind: driver.Image, Handle: 8},
	})
	got := cmd.Remap(shift).(*driver.CopyBufferToImage)
	assert.For(ctx, "buffer").That(got.Buffer).Equals(driver.Handle(107))
	assert.For(ctx, "image").That(got.Image).Equals(driver.Handle(108))
	assert.For(ctx, "regions").ThatSlice(got.Regions).Equals(cmd.Regions)
}

func TestImageLayout(t *testing.T) {
	ctx := log.Testing(t)
	info := &driver.ImageInfo{
		Format: driver.FormatR8G8B8A8Unorm,
		Width:  4, Height: 4, Depth: 1,
		Mips: 3, Layers: 2, Samples: 1,
	}
	assert.For(ctx, "mip0").That(info.SubresourceSize(0)).Equals(uint64(64))
	assert.For(ctx, "mip1").That(info.SubresourceSize(1)).Equals(uint64(16))
	assert.For(ctx, "mip2").That(info.SubresourceSize(2)).Equals(uint64(4))
	assert.For(ctx, "offset(1,1)").That(info.SubresourceOffset(1, 1)).Equals(uint64(128 + 16))
	assert.For(ctx, "size").That(info.Size()).Equals(uint64(2 * (64 + 16 + 4)))
	assert.For(ctx, "index").ThatInteger(info.Subresource(2, 1)).Equals(5)
}

func TestKindParents(t *testing.T) {
	ctx := log.Testing(t)
	assert.For(ctx, "instance").That(driver.Instance.ParentKind()).Equals(driver.KindUnknown)
	assert.For(ctx, "device").That(driver.Device.ParentKind()).Equals(driver.Instance)
	assert.For(ctx, "cb").That(driver.CommandBuffer.ParentKind()).Equals(driver.CommandPool)
	assert.For(ctx, "set").That(driver.DescriptorSet.ParentKind()).Equals(driver.DescriptorPool)
	assert.For(ctx, "buffer").That(driver.Buffer.ParentKind()).Equals(driver.Device)
	assert.For(ctx, "names").ThatString(driver.ImageView.String()).Equals("ImageView")
}
