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
	"time"

	"github.com/google/substate/driver"
	"github.com/pkg/errors"
)

// QueueSubmit implements driver.Table. Mapped memory is flushed before the
// submission, and the pending effects of every submitted command buffer are
// committed in submission order once the driver accepts it.
func (t *Tracker) QueueSubmit(queue driver.Handle, submits []driver.Submit, fence driver.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, err := t.reg.Lookup(driver.Queue, queue)
	if err != nil {
		return errors.Wrap(err, "Submitting")
	}
	var f *Record
	if fence != 0 {
		if f, err = t.reg.Lookup(driver.Fence, fence); err != nil {
			return errors.Wrap(err, "Submitting")
		}
	}
	type batch struct {
		waits, cbs, signals []*Record
	}
	batches := make([]batch, len(submits))
	for i, s := range submits {
		for _, h := range s.Waits {
			r, err := t.reg.Lookup(driver.Semaphore, h)
			if err != nil {
				return errors.Wrap(err, "Submitting")
			}
			batches[i].waits = append(batches[i].waits, r)
		}
		for _, h := range s.CommandBuffers {
			r, cb, err := t.commandBuffer(h)
			if err != nil {
				return errors.Wrap(err, "Submitting")
			}
			if cb.Status != Executable {
				return errors.Wrapf(ErrBadState, "Submitting %v", r)
			}
			batches[i].cbs = append(batches[i].cbs, r)
		}
		for _, h := range s.Signals {
			r, err := t.reg.Lookup(driver.Semaphore, h)
			if err != nil {
				return errors.Wrap(err, "Submitting")
			}
			batches[i].signals = append(batches[i].signals, r)
		}
	}
	if err := t.flushAll(); err != nil {
		return err
	}
	if err := t.inner.QueueSubmit(queue, submits, fence); err != nil {
		return err
	}

	sub := Submission{}
	for _, b := range batches {
		for _, r := range b.waits {
			s := r.State.(*SemaphoreState)
			s.Signaled, s.Used = false, true
		}
		for _, r := range b.cbs {
			cb := r.State.(*CommandBufferState)
			t.commit(cb.Pending, q.ID)
			if cb.Begin.OneTimeSubmit {
				cb.Status = Invalid
			}
			sub.CommandBuffers = append(sub.CommandBuffers, r.ID)
		}
		for _, r := range b.signals {
			s := r.State.(*SemaphoreState)
			s.Signaled, s.Used = true, true
		}
	}
	if f != nil {
		fs := f.State.(*FenceState)
		fs.Used, fs.Polls = true, t.cfg.DelayedFenceVisibilityPolls
		sub.Fence = f.ID
	}
	qs := q.State.(*QueueState)
	qs.InFlight = append(qs.InFlight, sub)
	return nil
}

// commit applies the pending effects of a submitted command buffer.
func (t *Tracker) commit(s *RecordState, queue ID) {
	for _, tr := range s.Transitions {
		img := t.reg.Get(tr.Image)
		if img == nil || !img.Live() {
			continue
		}
		st := img.State.(*ImageState)
		tr.Range.Each(func(mip, layer uint32) {
			if mip >= st.Info.Mips || layer >= st.Info.Layers {
				return
			}
			sl := &st.Slices[st.Info.Subresource(mip, layer)]
			sl.Layout, sl.Access = tr.Layout, tr.Access
			if tr.Family != driver.QueueFamilyIgnored {
				sl.Family = tr.Family
			}
		})
		st.Queue = queue
	}
	for _, op := range s.Queries {
		if pool := t.reg.Get(op.Pool); pool != nil && pool.Live() {
			ps := pool.State.(*QueryPoolState)
			for i := op.First; i < op.First+op.Count && int(i) < len(ps.Status); i++ {
				ps.Status[i] = op.Status
			}
		}
	}
	for _, op := range s.Events {
		if ev := t.reg.Get(op.Event); ev != nil && ev.Live() {
			es := ev.State.(*EventState)
			es.Set, es.Used = op.Set, true
		}
	}
	for _, id := range s.Reads {
		if r := t.reg.Get(id); r != nil && r.Live() {
			if rs := resource(r.State); rs != nil {
				rs.Queue = queue
			}
		}
	}
	for _, id := range s.Writes {
		if r := t.reg.Get(id); r != nil && r.Live() {
			t.touch(r, t.nextStamp(), queue)
		}
	}
	for _, id := range s.AddressTables {
		if r := t.reg.Get(id); r != nil && r.Live() {
			r.State.(*BufferState).AddressTable = true
		}
	}
	for _, id := range s.Builds {
		if r := t.reg.Get(id); r != nil && r.Live() {
			r.State.(*AccelerationStructureState).Built = true
		}
	}
}

// retire drops the submissions guarded by a fence from every queue.
func (t *Tracker) retire(fence ID) {
	for _, q := range t.reg.Live(driver.Queue) {
		qs := q.State.(*QueueState)
		kept := qs.InFlight[:0]
		for _, s := range qs.InFlight {
			if s.Fence != fence {
				kept = append(kept, s)
			}
		}
		qs.InFlight = kept
	}
}

// idle marks every submission of a queue complete.
func (t *Tracker) idle(q *Record) {
	qs := q.State.(*QueueState)
	for _, s := range qs.InFlight {
		if f := t.reg.Get(s.Fence); s.Fence != 0 && f != nil {
			fs := f.State.(*FenceState)
			fs.Signaled, fs.Polls = true, 0
		}
	}
	qs.InFlight = nil
}

// QueueWaitIdle implements driver.Table.
func (t *Tracker) QueueWaitIdle(queue driver.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, err := t.reg.Lookup(driver.Queue, queue)
	if err != nil {
		return err
	}
	if err := t.inner.QueueWaitIdle(queue); err != nil {
		return err
	}
	t.idle(q)
	return nil
}

// WaitForFences implements driver.Table. The tracker is not locked while
// waiting.
func (t *Tracker) WaitForFences(device driver.Handle, fences []driver.Handle, timeout time.Duration) error {
	t.mu.Lock()
	recs := make([]*Record, len(fences))
	for i, h := range fences {
		r, err := t.reg.Lookup(driver.Fence, h)
		if err != nil {
			t.mu.Unlock()
			return err
		}
		recs[i] = r
	}
	t.mu.Unlock()

	if err := t.inner.WaitForFences(device, fences, timeout); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range recs {
		if !r.Live() {
			continue
		}
		fs := r.State.(*FenceState)
		fs.Signaled, fs.Polls = true, 0
		t.retire(r.ID)
	}
	return nil
}

// FenceStatus implements driver.Table. A fence the driver reports signaled
// is reported unsignaled for the configured number of further polls.
func (t *Tracker) FenceStatus(device, fence driver.Handle) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.reg.Lookup(driver.Fence, fence)
	if err != nil {
		return false, err
	}
	signaled, err := t.inner.FenceStatus(device, fence)
	if err != nil || !signaled {
		return false, err
	}
	fs := r.State.(*FenceState)
	if fs.Polls > 0 {
		fs.Polls--
		return false, nil
	}
	fs.Signaled = true
	t.retire(r.ID)
	return true, nil
}

// ResetFences implements driver.Table.
func (t *Tracker) ResetFences(device driver.Handle, fences []driver.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	recs := make([]*Record, len(fences))
	for i, h := range fences {
		r, err := t.reg.Lookup(driver.Fence, h)
		if err != nil {
			return err
		}
		recs[i] = r
	}
	if err := t.inner.ResetFences(device, fences); err != nil {
		return err
	}
	for _, r := range recs {
		fs := r.State.(*FenceState)
		fs.Signaled, fs.Polls = false, 0
	}
	return nil
}
