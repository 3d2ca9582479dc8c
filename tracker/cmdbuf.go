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

import (
	"github.com/google/substate/driver"
	"github.com/pkg/errors"
)

// Transition is a pending layout change of a range of image subresources.
type Transition struct {
	Image  ID
	Range  driver.Subresources
	Layout driver.Layout
	Access driver.Access
	// Family is the queue family that owns the range afterwards, or
	// driver.QueueFamilyIgnored if ownership does not change.
	Family uint32
}

// QueryOp is a pending status change of a range of queries.
type QueryOp struct {
	Pool         ID
	First, Count uint32
	Status       QueryStatus
}

// EventOp is a pending set or reset of an event.
type EventOp struct {
	Event ID
	Set   bool
}

// RecordState holds the effects of the commands recorded into a command
// buffer. None of them are applied until the command buffer is submitted.
type RecordState struct {
	Transitions []Transition
	Queries     []QueryOp
	Events      []EventOp
	// Reads and Writes list resources in order of first use.
	Reads  []ID
	Writes []ID
	// BoundPipeline and BoundSets hold the current bindings per bind point.
	BoundPipeline map[driver.PipelineBindPoint]ID
	BoundSets     map[driver.PipelineBindPoint]map[uint32]ID
	Secondaries   []ID
	// AddressTables lists buffers read as acceleration structure instances.
	AddressTables []ID
	// Builds lists acceleration structures built.
	Builds []ID

	renderPass  ID
	framebuffer ID
	// drew is set when a draw was recorded outside of a known render pass.
	drew   bool
	reads  map[ID]bool
	writes map[ID]bool
}

func newRecordState() *RecordState {
	return &RecordState{
		BoundPipeline: map[driver.PipelineBindPoint]ID{},
		BoundSets:     map[driver.PipelineBindPoint]map[uint32]ID{},
		reads:         map[ID]bool{},
		writes:        map[ID]bool{},
	}
}

func (s *RecordState) read(id ID) {
	if id != 0 && !s.reads[id] {
		s.reads[id] = true
		s.Reads = append(s.Reads, id)
	}
}

func (s *RecordState) write(id ID) {
	if id != 0 && !s.writes[id] {
		s.writes[id] = true
		s.Writes = append(s.Writes, id)
	}
}

// merge appends the effects of an executed secondary command buffer.
func (s *RecordState) merge(o *RecordState) {
	s.Transitions = append(s.Transitions, o.Transitions...)
	s.Queries = append(s.Queries, o.Queries...)
	s.Events = append(s.Events, o.Events...)
	for _, id := range o.Reads {
		s.read(id)
	}
	for _, id := range o.Writes {
		s.write(id)
	}
	s.Secondaries = append(s.Secondaries, o.Secondaries...)
	s.AddressTables = append(s.AddressTables, o.AddressTables...)
	s.Builds = append(s.Builds, o.Builds...)
}

func (t *Tracker) commandBuffer(cb driver.Handle) (*Record, *CommandBufferState, error) {
	r, err := t.reg.Lookup(driver.CommandBuffer, cb)
	if err != nil {
		return nil, nil, err
	}
	return r, r.State.(*CommandBufferState), nil
}

// BeginCommandBuffer implements driver.Table. Any previously recorded
// commands and their pending effects are discarded.
func (t *Tracker) BeginCommandBuffer(cb driver.Handle, info driver.BeginInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, s, err := t.commandBuffer(cb)
	if err != nil {
		return err
	}
	if err := t.inner.BeginCommandBuffer(cb, info); err != nil {
		return err
	}
	s.Status, s.Begin = Recording, info
	s.Commands, s.Pending = nil, newRecordState()
	return nil
}

// EndCommandBuffer implements driver.Table.
func (t *Tracker) EndCommandBuffer(cb driver.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, s, err := t.commandBuffer(cb)
	if err != nil {
		return err
	}
	if s.Status != Recording {
		return errors.Wrapf(ErrBadState, "Ending %v", r)
	}
	if err := t.inner.EndCommandBuffer(cb); err != nil {
		return err
	}
	s.Status = Executable
	return nil
}

// ResetCommandBuffer implements driver.Table.
func (t *Tracker) ResetCommandBuffer(cb driver.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, s, err := t.commandBuffer(cb)
	if err != nil {
		return err
	}
	if err := t.inner.ResetCommandBuffer(cb); err != nil {
		return err
	}
	s.Status, s.Begin = Initial, driver.BeginInfo{}
	s.Commands, s.Pending = nil, newRecordState()
	return nil
}

// Record implements driver.Table. The command is kept, in identity space,
// for re-recording and its effects are added to the pending state.
func (t *Tracker) Record(cb driver.Handle, cmd driver.Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, s, err := t.commandBuffer(cb)
	if err != nil {
		return err
	}
	if s.Status != Recording {
		return errors.Wrapf(ErrBadState, "Recording %v into %v", cmd.Name(), r)
	}
	res := resolver{reg: t.reg}
	identities := cmd.Remap(res.remap)
	if res.err != nil {
		return errors.Wrapf(res.err, "Recording %v", cmd.Name())
	}
	if err := t.inner.Record(cb, cmd); err != nil {
		return err
	}
	s.Commands = append(s.Commands, identities)
	t.effects(s.Pending, identities)
	return nil
}
