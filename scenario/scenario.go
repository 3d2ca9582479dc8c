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

// Package scenario drives a scripted workload through a tracked driver table
// and checks that a replayed restore plan reproduces its state.
package scenario

import (
	"context"
	"math/rand"

	"github.com/google/substate/core/fault"
	"github.com/google/substate/core/log"
	"github.com/google/substate/driver"
	"github.com/google/substate/tracker"
	"github.com/pkg/errors"
)

const (
	bufferSize  = 4096
	imageExtent = 16
	stagingSize = 16 << 10
)

// Options controls the shape of the workload.
type Options struct {
	// Seed seeds the generated contents.
	Seed int64
	// Buffers is the number of device-local storage buffers.
	Buffers int
	// Images is the number of sampled images.
	Images int
}

// DefaultOptions returns a small workload.
func DefaultOptions() Options { return Options{Seed: 1, Buffers: 4, Images: 2} }

// Workload holds the handles of the objects created by Run.
type Workload struct {
	Instance, Device, Queue, Pool driver.Handle
	Host, Local                   driver.Handle
	Staging                       driver.Handle
	Buffers                       []driver.Handle
	Images                        []driver.Handle
	Set                           driver.Handle
	Fence, Semaphore, Event       driver.Handle
	Queries                       driver.Handle
	// Reusable is an executable command buffer that is never submitted.
	Reusable driver.Handle
}

// runner stops issuing calls after the first failure.
type runner struct {
	t   *tracker.Tracker
	err fault.One
}

func (r *runner) create(parent driver.Handle, info driver.CreateInfo) driver.Handle {
	if r.err.First() != nil {
		return 0
	}
	h, err := r.t.Create(parent, info)
	if err != nil {
		r.err.Collect(errors.Wrapf(err, "Creating %v", info.Kind()))
	}
	return h
}

func (r *runner) do(what string, f func() error) {
	if r.err.First() == nil {
		if err := f(); err != nil {
			r.err.Collect(errors.Wrap(err, what))
		}
	}
}

func whole(img driver.Handle, from, to driver.Layout, src, dst driver.Access) driver.ImageBarrier {
	return driver.ImageBarrier{
		Image:     img,
		Range:     driver.Subresources{Mips: 1, Layers: 1},
		OldLayout: from,
		NewLayout: to,
		SrcAccess: src,
		DstAccess: dst,
		SrcFamily: driver.QueueFamilyIgnored,
		DstFamily: driver.QueueFamilyIgnored,
	}
}

// Run creates a workload through t: it uploads random contents through a
// mapped staging buffer into device-local buffers and images, binds the
// buffers to a descriptor set and leaves synchronization objects signaled.
func Run(ctx context.Context, t *tracker.Tracker, opts Options) (*Workload, error) {
	ctx = log.Enter(ctx, "Scenario")
	rng := rand.New(rand.NewSource(opts.Seed))
	r := &runner{t: t}
	w := &Workload{}

	w.Instance = r.create(0, &driver.InstanceInfo{Application: "scenario"})
	w.Device = r.create(w.Instance, &driver.DeviceInfo{})
	w.Queue = r.create(w.Device, &driver.QueueInfo{})
	w.Pool = r.create(w.Device, &driver.CommandPoolInfo{})
	w.Host = r.create(w.Device, &driver.MemoryInfo{Size: 4 * stagingSize, HostVisible: true})
	imageSize := uint64(imageExtent * imageExtent * 4)
	w.Local = r.create(w.Device, &driver.MemoryInfo{
		Size: uint64(opts.Buffers)*bufferSize + uint64(opts.Images)*imageSize + bufferSize,
	})

	w.Staging = r.create(w.Device, &driver.BufferInfo{Size: stagingSize, Usage: driver.BufferUsageTransferSrc})
	r.do("Binding staging", func() error { return t.BindBufferMemory(w.Device, w.Staging, w.Host, 0) })
	r.do("Mapping staging", func() error {
		_, err := t.MapMemory(w.Device, w.Host, 0, driver.WholeSize)
		return err
	})
	payload := make([]byte, stagingSize)
	rng.Read(payload)
	r.do("Writing staging", func() error { return t.WriteMapped(w.Device, w.Host, 0, payload) })
	r.do("Flushing staging", func() error {
		return t.FlushMappedRanges(w.Device, []driver.MappedRange{{Memory: w.Host, Size: driver.WholeSize}})
	})

	var cmds []driver.Command
	offset := uint64(0)
	for i := 0; i < opts.Buffers; i++ {
		b := r.create(w.Device, &driver.BufferInfo{
			Size:  bufferSize,
			Usage: driver.BufferUsageTransferDst | driver.BufferUsageTransferSrc | driver.BufferUsageStorage,
		})
		at := offset
		r.do("Binding buffer", func() error { return t.BindBufferMemory(w.Device, b, w.Local, at) })
		offset += bufferSize
		src := uint64(rng.Intn(stagingSize/bufferSize)) * bufferSize
		cmds = append(cmds, &driver.CopyBuffer{Src: w.Staging, Dst: b, Regions: []driver.BufferCopy{{SrcOffset: src, Size: bufferSize}}})
		w.Buffers = append(w.Buffers, b)
	}
	var pre, post []driver.ImageBarrier
	for i := 0; i < opts.Images; i++ {
		img := r.create(w.Device, &driver.ImageInfo{
			Format: driver.FormatR8G8B8A8Unorm,
			Width:  imageExtent, Height: imageExtent, Depth: 1,
			Mips: 1, Layers: 1, Samples: 1,
			Usage: driver.ImageUsageTransferDst | driver.ImageUsageTransferSrc | driver.ImageUsageSampled,
		})
		at := offset
		r.do("Binding image", func() error { return t.BindImageMemory(w.Device, img, w.Local, at) })
		offset += imageSize
		src := uint64(rng.Intn(int(stagingSize/imageSize))) * imageSize
		pre = append(pre, whole(img, driver.LayoutUndefined, driver.LayoutTransferDst, 0, driver.AccessTransferWrite))
		cmds = append(cmds, &driver.CopyBufferToImage{
			Buffer: w.Staging, Image: img, Layout: driver.LayoutTransferDst,
			Regions: []driver.ImageCopy{{BufferOffset: src}},
		})
		post = append(post, whole(img, driver.LayoutTransferDst, driver.LayoutShaderReadOnly, driver.AccessTransferWrite, driver.AccessShaderRead))
		w.Images = append(w.Images, img)
	}
	if len(pre) > 0 {
		cmds = append([]driver.Command{&driver.PipelineBarrier{Images: pre}}, cmds...)
		cmds = append(cmds, &driver.PipelineBarrier{Images: post})
	}

	w.Queries = r.create(w.Device, &driver.QueryPoolInfo{Type: driver.QueryOcclusion, Count: 2})
	cmds = append(cmds,
		&driver.ResetQueryPool{Pool: w.Queries, Count: 2},
		&driver.BeginQuery{Pool: w.Queries, Query: 0},
		&driver.EndQuery{Pool: w.Queries, Query: 0},
	)

	w.Fence = r.create(w.Device, &driver.FenceInfo{})
	w.Semaphore = r.create(w.Device, &driver.SemaphoreInfo{})
	w.Event = r.create(w.Device, &driver.EventInfo{})
	upload := r.create(w.Pool, &driver.CommandBufferInfo{Level: driver.LevelPrimary})
	r.do("Beginning upload", func() error { return t.BeginCommandBuffer(upload, driver.BeginInfo{OneTimeSubmit: true}) })
	for _, c := range cmds {
		c := c
		r.do("Recording "+c.Name(), func() error { return t.Record(upload, c) })
	}
	r.do("Ending upload", func() error { return t.EndCommandBuffer(upload) })
	r.do("Submitting upload", func() error {
		return t.QueueSubmit(w.Queue, []driver.Submit{{
			CommandBuffers: []driver.Handle{upload},
			Signals:        []driver.Handle{w.Semaphore},
		}}, w.Fence)
	})
	r.do("Waiting for upload", func() error { return t.QueueWaitIdle(w.Queue) })
	r.do("Setting event", func() error { return t.SetEvent(w.Device, w.Event, true) })

	if opts.Buffers > 0 {
		layout := r.create(w.Device, &driver.DescriptorSetLayoutInfo{Bindings: []driver.LayoutBinding{{
			Binding: 0, Type: driver.DescriptorStorageBuffer, Count: uint32(opts.Buffers),
		}}})
		pool := r.create(w.Device, &driver.DescriptorPoolInfo{MaxSets: 1})
		w.Set = r.create(pool, &driver.DescriptorSetInfo{Layout: layout})
		writes := make([]driver.DescriptorWrite, len(w.Buffers))
		for i, b := range w.Buffers {
			writes[i] = driver.DescriptorWrite{
				Set: w.Set, Element: uint32(i), Type: driver.DescriptorStorageBuffer,
				Descriptor: driver.Descriptor{Buffer: b, Range: bufferSize},
			}
		}
		r.do("Writing descriptors", func() error { return t.UpdateDescriptorSets(w.Device, writes) })

		w.Reusable = r.create(w.Pool, &driver.CommandBufferInfo{Level: driver.LevelPrimary})
		r.do("Beginning reusable", func() error { return t.BeginCommandBuffer(w.Reusable, driver.BeginInfo{}) })
		r.do("Recording fill", func() error {
			return t.Record(w.Reusable, &driver.FillBuffer{Buffer: w.Buffers[0], Size: bufferSize, Data: 0xdeadbeef})
		})
		r.do("Ending reusable", func() error { return t.EndCommandBuffer(w.Reusable) })
	}
	if err := r.err.First(); err != nil {
		return nil, err
	}
	log.I(ctx, "Created %d buffers and %d images", len(w.Buffers), len(w.Images))
	return w, nil
}
