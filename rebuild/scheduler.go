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
	"sort"

	"github.com/google/substate/config"
	"github.com/google/substate/core/log"
	"github.com/google/substate/driver"
	"github.com/google/substate/tracker"
	"github.com/pkg/errors"
)

// phase is one step of the restore walk. Objects of the listed kinds are
// created in identity order, then after is run.
type phase struct {
	name  string
	kinds []driver.Kind
	after func(*builder) error
}

var phases = []phase{
	{"instances", []driver.Kind{driver.Instance}, nil},
	{"devices", []driver.Kind{driver.Device}, nil},
	{"queues", []driver.Kind{driver.Queue}, nil},
	{"pools and memory", []driver.Kind{
		driver.CommandPool,
		driver.DescriptorPool,
		driver.QueryPool,
		driver.Sampler,
		driver.DeviceMemory,
	}, (*builder).mapMemory},
	{"resources", []driver.Kind{driver.Buffer, driver.Image}, (*builder).bindMemory},
	{"views", []driver.Kind{driver.BufferView, driver.ImageView, driver.AccelerationStructure}, nil},
	{"layouts", []driver.Kind{
		driver.DescriptorSetLayout,
		driver.PipelineLayout,
		driver.DescriptorUpdateTemplate,
		driver.PipelineCache,
	}, nil},
	{"shaders", []driver.Kind{driver.ShaderModule, driver.RenderPass}, nil},
	{"pipelines", []driver.Kind{driver.Pipeline}, nil},
	{"framebuffers", []driver.Kind{driver.Framebuffer}, nil},
	{"descriptor sets", []driver.Kind{driver.DescriptorSet}, (*builder).descriptorWrites},
	{"synchronization", []driver.Kind{driver.Fence, driver.Semaphore, driver.Event}, (*builder).syncState},
	{"command buffers", nil, (*builder).commandBuffers},
	{"contents", nil, (*builder).contents},
	{"queries", nil, (*builder).queries},
	{"addresses", nil, (*builder).patchAddresses},
}

// builder holds the state of one restore pass.
type builder struct {
	ctx   context.Context
	f     *tracker.Frozen
	reg   *tracker.Registry
	table driver.Table
	cfg   config.Config
	plan  *Plan
	trans *transients

	// created holds the identities that exist at the current end of the plan.
	created map[tracker.ID]bool
	// failed holds the objects that were skipped.
	failed map[tracker.ID]bool
	// unrecorded holds the command buffers whose commands were skipped.
	unrecorded map[tracker.ID]bool
	// pools maps a device to the transient command pool of its submits.
	pools map[tracker.ID]tracker.ID
	// restored holds the content written to each buffer, for patching.
	restored map[tracker.ID][]chunk
}

// chunk is a restored range of a buffer.
type chunk struct {
	offset uint64
	data   []byte
}

// Build freezes the tracker and walks its state, returning a plan that
// recreates every live object with its bindings, descriptor contents,
// synchronization state, recorded commands, memory contents, image layouts
// and query state. Contents that only live on the device are read back
// through the table the tracker wraps.
func Build(ctx context.Context, t *tracker.Tracker, cfg config.Config) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx = log.Enter(ctx, "Build")
	f, err := t.Freeze(ctx)
	if err != nil {
		return nil, err
	}
	defer f.Release()

	b := &builder{
		ctx:        ctx,
		f:          f,
		reg:        f.Registry(),
		table:      f.Table(),
		cfg:        cfg,
		plan:       newPlan(),
		created:    map[tracker.ID]bool{},
		failed:     map[tracker.ID]bool{},
		unrecorded: map[tracker.ID]bool{},
		pools:      map[tracker.ID]tracker.ID{},
		restored:   map[tracker.ID][]chunk{},
	}
	b.trans = newTransients(b)
	if err := b.run(); err != nil {
		return nil, err
	}
	log.I(ctx, "Restore plan: %d ops, %d payloads (%d bytes), %d recoverable errors",
		len(b.plan.Ops), len(b.plan.Blobs), b.plan.PayloadBytes(), len(b.plan.Errors))
	return b.plan, nil
}

func (b *builder) run() error {
	b.trans.count()
	for _, p := range phases {
		log.D(b.ctx, "Restoring %s", p.name)
		for _, k := range p.kinds {
			for _, rec := range b.reg.Live(k) {
				if err := b.object(rec); err != nil {
					return err
				}
			}
		}
		if p.after != nil {
			if err := p.after(b); err != nil {
				return errors.Wrapf(err, "Restoring %s", p.name)
			}
		}
	}
	b.finish()
	return nil
}

// object creates a live object unless it was already created or skipped.
func (b *builder) object(rec *tracker.Record) error {
	if b.created[rec.ID] || b.failed[rec.ID] {
		return nil
	}
	if err := b.create(rec, false); err != nil {
		b.failed[rec.ID] = true
		return b.report(err)
	}
	return nil
}

// create emits the creation of rec after its parent and dependencies.
func (b *builder) create(rec *tracker.Record, transient bool) error {
	if rec.Parent != 0 && !b.created[rec.Parent] {
		return omission(rec, errors.Wrapf(ErrMissingDependency, "parent %v", rec.Parent))
	}
	for _, dep := range rec.Deps() {
		if b.created[dep] {
			continue
		}
		d := b.reg.Get(dep)
		switch {
		case d == nil:
			return omission(rec, errors.Wrapf(ErrMissingDependency, "%v", dep))
		case d.Live():
			if err := b.object(d); err != nil {
				return err
			}
		default:
			if err := b.trans.ensure(d); err != nil {
				return err
			}
		}
		if !b.created[dep] {
			return omission(rec, errors.Wrapf(ErrMissingDependency, "%v was skipped", dep))
		}
	}
	b.plan.add(&CreateOp{ID: rec.ID, Parent: rec.Parent, Info: createInfo(rec), Transient: transient})
	b.created[rec.ID] = true
	b.trans.consumed(rec, transient)
	return nil
}

// createInfo returns the creation parameters that give the object its
// tracked state at creation.
func createInfo(rec *tracker.Record) driver.CreateInfo {
	if s, ok := rec.State.(*tracker.FenceState); ok {
		info := *rec.Info.(*driver.FenceInfo)
		info.Signaled = s.Signaled
		return &info
	}
	return rec.Info
}

// report records a recoverable error, or returns the error if it is fatal.
func (b *builder) report(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) || e.Class == Fatal {
		return err
	}
	if e.Class == InvariantViolation {
		log.W(b.ctx, "Recreating transiently: %v", e)
	} else {
		log.W(b.ctx, "Skipping: %v", e)
	}
	b.plan.Errors = append(b.plan.Errors, e)
	return nil
}

func omission(rec *tracker.Record, cause error) *Error {
	return &Error{Class: Omission, Object: rec.ID, Kind: rec.Kind, Cause: cause}
}

// missing returns the first identity that does not exist at the end of the
// plan, or 0.
func (b *builder) missing(ids []tracker.ID) tracker.ID {
	for _, id := range ids {
		if !b.created[id] {
			return id
		}
	}
	return 0
}

// queueFor returns a created queue of device, preferring one that supports
// sparse binding when sparse is set.
func (b *builder) queueFor(device tracker.ID, sparse bool) *tracker.Record {
	var first *tracker.Record
	for _, id := range b.reg.Children(device) {
		q := b.reg.Get(id)
		if q == nil || q.Kind != driver.Queue || !b.created[id] {
			continue
		}
		if !sparse || q.State.(*tracker.QueueState).Sparse {
			return q
		}
		if first == nil {
			first = q
		}
	}
	return first
}

// commandPool returns the transient command pool used for the submits of
// device, creating it on first use.
func (b *builder) commandPool(device tracker.ID, queue *tracker.Record) tracker.ID {
	if id, ok := b.pools[device]; ok {
		return id
	}
	id := b.reg.NewID()
	family := queue.State.(*tracker.QueueState).Family
	b.plan.add(&CreateOp{ID: id, Parent: device, Info: &driver.CommandPoolInfo{Family: family}, Transient: true})
	b.created[id] = true
	b.pools[device] = id
	return id
}

// submit emits a one-shot submission of cmds on a queue of device.
func (b *builder) submit(device tracker.ID, label string, cmds []driver.Command) error {
	q := b.queueFor(device, false)
	if q == nil {
		return &Error{Class: Omission, Object: device, Kind: driver.Device, Cause: errors.Wrap(ErrNoQueue, label)}
	}
	b.plan.add(&SubmitOp{Queue: q.ID, Pool: b.commandPool(device, q), Label: label, Commands: cmds})
	return nil
}

// finish destroys the transient objects that are still alive.
func (b *builder) finish() {
	b.trans.finish()
	devices := make([]tracker.ID, 0, len(b.pools))
	for d := range b.pools {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })
	for _, d := range devices {
		b.destroy(b.pools[d], d, driver.CommandPool)
	}
}

func (b *builder) destroy(id, parent tracker.ID, kind driver.Kind) {
	b.plan.add(&DestroyOp{ID: id, Parent: parent, Kind: kind})
	delete(b.created, id)
}
