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

package scenario

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/substate/config"
	"github.com/google/substate/core/log"
	"github.com/google/substate/core/math/interval"
	"github.com/google/substate/driver"
	"github.com/google/substate/driver/soft"
	"github.com/google/substate/rebuild"
	"github.com/google/substate/tracker"
)

// Mismatch is a difference between the tracked and the replayed state.
type Mismatch struct {
	Object string
	Detail string
}

func (m Mismatch) String() string { return fmt.Sprintf("%s: %s", m.Object, m.Detail) }

type verifier struct {
	ctx      context.Context
	reg      *tracker.Registry
	cfg      config.Config
	original *soft.Driver
	replayed *soft.Driver
	handles  map[tracker.ID]driver.Handle
	out      []Mismatch
}

// Verify compares the live buffers and images tracked by t, whose inner
// table is original, with their counterparts on replayed. Only the bytes a
// restore under cfg is expected to reproduce are compared.
func Verify(ctx context.Context, t *tracker.Tracker, cfg config.Config, original, replayed *soft.Driver, res *rebuild.Result) ([]Mismatch, error) {
	ctx = log.Enter(ctx, "Verify")
	frozen, err := t.Freeze(ctx)
	if err != nil {
		return nil, err
	}
	defer frozen.Release()
	v := &verifier{
		ctx:      ctx,
		reg:      frozen.Registry(),
		cfg:      cfg,
		original: original,
		replayed: replayed,
		handles:  res.Handles,
	}
	for _, rec := range v.reg.Live(driver.Buffer) {
		if err := v.buffer(rec); err != nil {
			return nil, err
		}
	}
	for _, rec := range v.reg.Live(driver.Image) {
		if err := v.image(rec); err != nil {
			return nil, err
		}
	}
	log.D(ctx, "%d mismatches", len(v.out))
	return v.out, nil
}

func (v *verifier) report(rec *tracker.Record, format string, args ...interface{}) {
	v.out = append(v.out, Mismatch{Object: rec.String(), Detail: fmt.Sprintf(format, args...)})
}

func (v *verifier) memory(id tracker.ID) *tracker.MemoryState {
	m := v.reg.Get(id)
	if m == nil || !m.Live() {
		return nil
	}
	return m.State.(*tracker.MemoryState)
}

// owned returns the ranges of [start, end) of the resource where it holds
// the authoritative bytes of its memory.
func (v *verifier) owned(rec *tracker.Record, rs *tracker.Resource, start, end uint64) []interval.U64Span {
	var out []interval.U64Span
	for _, p := range rs.Pieces() {
		lo, hi := max(start, p.ResourceOffset), min(end, p.ResourceOffset+p.Size)
		if lo >= hi {
			continue
		}
		ms := v.memory(p.Memory)
		if ms == nil {
			continue
		}
		span := interval.U64Span{Start: p.MemoryOffset + (lo - p.ResourceOffset), End: p.MemoryOffset + (hi - p.ResourceOffset)}
		for _, s := range ms.Aliasing.Owned(rec.ID, span) {
			at := p.ResourceOffset + (s.Start - p.MemoryOffset)
			out = append(out, interval.U64Span{Start: at, End: at + s.Size()})
		}
	}
	return out
}

func (v *verifier) hostVisible(rs *tracker.Resource) bool {
	for _, p := range rs.Pieces() {
		if ms := v.memory(p.Memory); ms == nil || !ms.HostVisible {
			return false
		}
	}
	return true
}

func (v *verifier) buffer(rec *tracker.Record) error {
	bs := rec.State.(*tracker.BufferState)
	switch {
	case !bs.Defined, v.cfg.RestoreBuffers == config.BuffersNone:
		return nil
	case v.cfg.RestoreBuffers == config.BuffersHostVisible && !v.hostVisible(&bs.Resource):
		return nil
	}
	h, ok := v.handles[rec.ID]
	if !ok {
		v.report(rec, "not replayed")
		return nil
	}
	want, err := v.original.ReadBuffer(rec.Handle)
	if err != nil {
		return err
	}
	got, err := v.replayed.ReadBuffer(h)
	if err != nil {
		return err
	}
	for _, s := range v.owned(rec, &bs.Resource, 0, bs.Size) {
		if at, differ := compare(want[s.Start:s.End], got[s.Start:s.End]); differ {
			v.report(rec, "contents differ at offset %d", s.Start+at)
			return nil
		}
	}
	return nil
}

func (v *verifier) image(rec *tracker.Record) error {
	is := rec.State.(*tracker.ImageState)
	h, ok := v.handles[rec.ID]
	if !ok {
		v.report(rec, "not replayed")
		return nil
	}
	info := is.Info
	for mip := uint32(0); mip < info.Mips; mip++ {
		for layer := uint32(0); layer < info.Layers; layer++ {
			want := is.Slices[info.Subresource(mip, layer)].Layout
			got, err := v.replayed.ImageLayout(h, mip, layer)
			if err != nil {
				return err
			}
			if got != want {
				v.report(rec, "mip %d layer %d is %v, want %v", mip, layer, got, want)
				continue
			}
			if !v.cfg.RestoreImages || info.Multisampled() || want == driver.LayoutUndefined {
				continue
			}
			size := info.SubresourceSize(mip)
			if size > v.cfg.StagingBudgetBytes {
				continue
			}
			start := info.SubresourceOffset(mip, layer)
			owned := v.owned(rec, &is.Resource, start, start+size)
			if len(owned) != 1 || owned[0] != (interval.U64Span{Start: start, End: start + size}) {
				continue
			}
			a, err := v.original.ReadImage(rec.Handle, mip, layer)
			if err != nil {
				return err
			}
			b, err := v.replayed.ReadImage(h, mip, layer)
			if err != nil {
				return err
			}
			if at, differ := compare(a, b); differ {
				v.report(rec, "mip %d layer %d texels differ at offset %d", mip, layer, at)
			}
		}
	}
	return nil
}

func compare(want, got []byte) (uint64, bool) {
	if bytes.Equal(want, got) {
		return 0, false
	}
	for i := range want {
		if i >= len(got) || want[i] != got[i] {
			return uint64(i), true
		}
	}
	return uint64(len(want)), true
}
