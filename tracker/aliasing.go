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
	"sort"
	"strconv"
	"strings"

	"github.com/google/substate/core/math/interval"
)

// occupancy is an interned, sorted set of resources.
type occupancy struct {
	ids []ID
}

// Overlap is one range of memory together with every resource bound to it
// and the one whose bytes are authoritative.
type Overlap struct {
	Span      interval.U64Span
	Occupants []ID
	// Winner is the most recently written occupant. Ties go to the most
	// recently created resource.
	Winner ID
}

// Aliasing tracks which resources occupy each byte range of one memory
// object. Ranges may be occupied by several resources at once; which of them
// owns the bytes is decided by their stamps when asked.
type Aliasing struct {
	spans  interval.ValueSpanList[*occupancy]
	sets   map[string]*occupancy
	stamps map[ID]Stamp
}

// NewAliasing returns an empty tracker.
func NewAliasing() *Aliasing {
	return &Aliasing{sets: map[string]*occupancy{}, stamps: map[ID]Stamp{}}
}

func (a *Aliasing) intern(ids []ID) *occupancy {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(strconv.FormatUint(uint64(id), 36))
		sb.WriteByte(',')
	}
	key := sb.String()
	if o, ok := a.sets[key]; ok {
		return o
	}
	o := &occupancy{ids: ids}
	a.sets[key] = o
	return o
}

// Insert marks span as occupied by res, last written at stamp.
func (a *Aliasing) Insert(res ID, span interval.U64Span, stamp Stamp) {
	if span.Start >= span.End {
		return
	}
	interval.Update(&a.spans, span, func(o *occupancy, ok bool) (*occupancy, bool) {
		var ids []ID
		if ok {
			ids = o.ids
		}
		i := sort.Search(len(ids), func(i int) bool { return ids[i] >= res })
		if i < len(ids) && ids[i] == res {
			return o, true
		}
		out := make([]ID, 0, len(ids)+1)
		out = append(out, ids[:i]...)
		out = append(out, res)
		out = append(out, ids[i:]...)
		return a.intern(out), true
	})
	a.stamps[res] = stamp
}

// Remove stops res occupying span.
func (a *Aliasing) Remove(res ID, span interval.U64Span) {
	if span.Start >= span.End {
		return
	}
	interval.Update(&a.spans, span, func(o *occupancy, ok bool) (*occupancy, bool) {
		if !ok {
			return nil, false
		}
		out := make([]ID, 0, len(o.ids))
		for _, id := range o.ids {
			if id != res {
				out = append(out, id)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		if len(out) == len(o.ids) {
			return o, true
		}
		return a.intern(out), true
	})
	for _, e := range a.spans {
		for _, id := range e.Value.ids {
			if id == res {
				return
			}
		}
	}
	delete(a.stamps, res)
}

// RemoveAll stops res occupying any range.
func (a *Aliasing) RemoveAll(res ID) {
	if _, ok := a.stamps[res]; !ok {
		return
	}
	if n := len(a.spans); n > 0 {
		a.Remove(res, interval.U64Span{Start: a.spans[0].Span.Start, End: a.spans[n-1].Span.End})
	}
}

// Touch records that res was written at stamp.
func (a *Aliasing) Touch(res ID, stamp Stamp) {
	if _, ok := a.stamps[res]; ok {
		a.stamps[res] = stamp
	}
}

// Stamp returns the stamp of res, and false if res occupies nothing.
func (a *Aliasing) Stamp(res ID) (Stamp, bool) {
	s, ok := a.stamps[res]
	return s, ok
}

func (a *Aliasing) winner(ids []ID) ID {
	var best ID
	var bestStamp Stamp
	for i, id := range ids {
		s := a.stamps[id]
		if i == 0 || s > bestStamp || (s == bestStamp && id > best) {
			best, bestStamp = id, s
		}
	}
	return best
}

// Resolve returns the occupied pieces of span in order.
func (a *Aliasing) Resolve(span interval.U64Span) []Overlap {
	out := []Overlap{}
	a.spans.Each(span, func(s interval.U64Span, o *occupancy) {
		out = append(out, Overlap{
			Span:      s,
			Occupants: append([]ID(nil), o.ids...),
			Winner:    a.winner(o.ids),
		})
	})
	return out
}

// Owned returns the parts of span where res holds the authoritative bytes,
// with adjacent parts joined.
func (a *Aliasing) Owned(res ID, span interval.U64Span) []interval.U64Span {
	out := []interval.U64Span{}
	for _, o := range a.Resolve(span) {
		if o.Winner != res {
			continue
		}
		if n := len(out); n > 0 && out[n-1].End == o.Span.Start {
			out[n-1].End = o.Span.End
			continue
		}
		out = append(out, o.Span)
	}
	return out
}
