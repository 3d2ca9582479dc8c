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

package rebuild

import (
	"context"
	"sync"
	"time"

	"github.com/google/substate/core/fault"
	"github.com/google/substate/core/log"
	"github.com/google/substate/driver"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// fenceTimeout bounds the wait for one in-flight readback.
const fenceTimeout = time.Minute

// PoolOptions configures a Pool.
type PoolOptions struct {
	Device driver.Handle
	Queue  driver.Handle
	Family uint32
	// Depth is the number of slots that may be in flight at once.
	Depth int
	// StagingSize is the size of the staging buffer of each slot.
	StagingSize uint64
}

// Slot is a command buffer with its fence and host-visible staging buffer.
type Slot struct {
	CommandBuffer driver.Handle
	Fence         driver.Handle
	Buffer        driver.Handle
	Memory        driver.Handle

	size uint64
	done func(data []byte) error
}

// Pool is a ring of slots used to read device contents back to the host.
// Slots are reused once their fence has signaled and their staging buffer
// has been read. All objects are created on the wrapped table and are not
// tracked.
type Pool struct {
	table driver.Table
	opts  PoolOptions
	pool  driver.Handle
	sem   *semaphore.Weighted

	mu       sync.Mutex
	free     []*Slot
	inFlight []*Slot
	all      []*Slot
}

// NewPool creates the command pool of a Pool. Slots are created on demand.
func NewPool(ctx context.Context, table driver.Table, opts PoolOptions) (*Pool, error) {
	if opts.Depth <= 0 {
		opts.Depth = 1
	}
	pool, err := table.Create(opts.Device, &driver.CommandPoolInfo{Family: opts.Family})
	if err != nil {
		return nil, errors.Wrap(err, "Creating restore command pool")
	}
	log.D(ctx, "Restore pool: depth %d, staging %d bytes", opts.Depth, opts.StagingSize)
	return &Pool{
		table: table,
		opts:  opts,
		pool:  pool,
		sem:   semaphore.NewWeighted(int64(opts.Depth)),
	}, nil
}

// Acquire returns a free slot. When every slot is in flight, the oldest
// one is waited for and completed first.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	if !p.sem.TryAcquire(1) {
		if err := p.retireOldest(ctx); err != nil {
			return nil, err
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		return s, nil
	}
	s, err := p.newSlot()
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.all = append(p.all, s)
	return s, nil
}

func (p *Pool) newSlot() (*Slot, error) {
	t, d := p.table, p.opts.Device
	s := &Slot{}
	var err error
	if s.CommandBuffer, err = t.Create(p.pool, &driver.CommandBufferInfo{Level: driver.LevelPrimary}); err != nil {
		return nil, errors.Wrap(err, "Creating restore command buffer")
	}
	if s.Fence, err = t.Create(d, &driver.FenceInfo{}); err != nil {
		return nil, errors.Wrap(err, "Creating restore fence")
	}
	if s.Memory, err = t.Create(d, &driver.MemoryInfo{Size: p.opts.StagingSize, HostVisible: true}); err != nil {
		return nil, errors.Wrap(err, "Allocating staging memory")
	}
	info := &driver.BufferInfo{Size: p.opts.StagingSize, Usage: driver.BufferUsageTransferDst | driver.BufferUsageTransferSrc}
	if s.Buffer, err = t.Create(d, info); err != nil {
		return nil, errors.Wrap(err, "Creating staging buffer")
	}
	if err := t.BindBufferMemory(d, s.Buffer, s.Memory, 0); err != nil {
		return nil, errors.Wrap(err, "Binding staging buffer")
	}
	return s, nil
}

// Submit records cmds into the slot and submits them. Once the fence has
// signaled, done is called with the first size bytes of the staging buffer.
func (p *Pool) Submit(s *Slot, cmds []driver.Command, size uint64, done func(data []byte) error) error {
	if size > p.opts.StagingSize {
		return errors.Wrapf(driver.ErrOutOfRange, "Readback of %d bytes", size)
	}
	t := p.table
	if err := t.BeginCommandBuffer(s.CommandBuffer, driver.BeginInfo{OneTimeSubmit: true}); err != nil {
		return err
	}
	for _, c := range cmds {
		if err := t.Record(s.CommandBuffer, c); err != nil {
			return err
		}
	}
	if err := t.EndCommandBuffer(s.CommandBuffer); err != nil {
		return err
	}
	submit := driver.Submit{CommandBuffers: []driver.Handle{s.CommandBuffer}}
	if err := t.QueueSubmit(p.opts.Queue, []driver.Submit{submit}, s.Fence); err != nil {
		return errors.Wrap(err, "Submitting readback")
	}
	s.size, s.done = size, done
	p.mu.Lock()
	p.inFlight = append(p.inFlight, s)
	p.mu.Unlock()
	return nil
}

// Release returns an unsubmitted slot to the pool.
func (p *Pool) Release(s *Slot) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
	p.sem.Release(1)
}

func (p *Pool) retireOldest(ctx context.Context) error {
	p.mu.Lock()
	if len(p.inFlight) == 0 {
		p.mu.Unlock()
		return nil
	}
	s := p.inFlight[0]
	p.inFlight = p.inFlight[1:]
	p.mu.Unlock()
	return p.retire(ctx, s)
}

// retire waits for the slot, reads its staging buffer and frees it.
func (p *Pool) retire(ctx context.Context, s *Slot) error {
	t, d := p.table, p.opts.Device
	if err := t.WaitForFences(d, []driver.Handle{s.Fence}, fenceTimeout); err != nil {
		return errors.Wrap(err, "Waiting for readback")
	}
	var data []byte
	if s.size > 0 {
		view, err := t.MapMemory(d, s.Memory, 0, s.size)
		if err != nil {
			return errors.Wrap(err, "Mapping staging memory")
		}
		data = append([]byte(nil), view...)
		if err := t.UnmapMemory(d, s.Memory); err != nil {
			return err
		}
	}
	if err := t.ResetFences(d, []driver.Handle{s.Fence}); err != nil {
		return err
	}
	done := s.done
	s.size, s.done = 0, nil
	p.Release(s)
	if done != nil {
		return done(data)
	}
	return nil
}

// Drain completes every in-flight slot, oldest first.
func (p *Pool) Drain(ctx context.Context) error {
	for {
		p.mu.Lock()
		n := len(p.inFlight)
		p.mu.Unlock()
		if n == 0 {
			return nil
		}
		if err := p.retireOldest(ctx); err != nil {
			return err
		}
	}
}

// Free destroys every slot and the command pool. In-flight slots are
// drained first. Every failure is reported.
func (p *Pool) Free(ctx context.Context) error {
	var errs fault.List
	errs.Collect(p.Drain(ctx))
	t, d := p.table, p.opts.Device
	for _, s := range p.all {
		for _, o := range []struct {
			parent driver.Handle
			kind   driver.Kind
			h      driver.Handle
		}{
			{p.pool, driver.CommandBuffer, s.CommandBuffer},
			{d, driver.Buffer, s.Buffer},
			{d, driver.DeviceMemory, s.Memory},
			{d, driver.Fence, s.Fence},
		} {
			if o.h == 0 {
				continue
			}
			errs.Collect(t.Destroy(o.parent, o.kind, o.h))
		}
	}
	errs.Collect(t.Destroy(d, driver.CommandPool, p.pool))
	p.all, p.free = nil, nil
	return errs.Err()
}

// Len returns the number of slots created so far.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}
