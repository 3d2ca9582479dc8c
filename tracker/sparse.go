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
	"fmt"

	"github.com/google/substate/core/math/interval"
	"github.com/pkg/errors"
)

// SparseBinding binds a range of a sparse resource to a range of memory.
type SparseBinding struct {
	ResourceOffset uint64
	Size           uint64
	Memory         ID
	MemoryOffset   uint64
}

func (b SparseBinding) span() interval.U64Span {
	return interval.U64Span{Start: b.ResourceOffset, End: b.ResourceOffset + b.Size}
}

// MemorySpan returns the range of memory the binding covers.
func (b SparseBinding) MemorySpan() interval.U64Span {
	return interval.U64Span{Start: b.MemoryOffset, End: b.MemoryOffset + b.Size}
}

func (b SparseBinding) String() string {
	return fmt.Sprintf("[%d, %d) -> %v+%d", b.ResourceOffset, b.ResourceOffset+b.Size, b.Memory, b.MemoryOffset)
}

// SparseList is a list of non-overlapping sparse bindings sorted by resource
// offset.
type SparseList []SparseBinding

// Length implements interval.List.
func (l SparseList) Length() int { return len(l) }

// GetSpan implements interval.List.
func (l SparseList) GetSpan(index int) interval.U64Span { return l[index].span() }

// SetSpan implements interval.MutableList. The memory range moves with the
// start of the resource range.
func (l SparseList) SetSpan(index int, span interval.U64Span) {
	b := &l[index]
	b.MemoryOffset = b.MemoryOffset + span.Start - b.ResourceOffset
	b.ResourceOffset, b.Size = span.Start, span.Size()
}

// New implements interval.MutableList.
func (l SparseList) New(index int, span interval.U64Span) {
	l[index] = SparseBinding{ResourceOffset: span.Start, Size: span.Size()}
}

// Copy implements interval.MutableList.
func (l SparseList) Copy(to, from, count int) { copy(l[to:to+count], l[from:from+count]) }

// Resize implements interval.MutableList.
func (l *SparseList) Resize(length int) {
	if cap(*l) >= length {
		*l = (*l)[:length]
		return
	}
	*l = append(*l, make(SparseList, length-len(*l))...)
}

// Add returns a new list with b bound. Existing bindings that b overlaps are
// truncated, or split in two when b lies strictly inside them. A binding
// with a zero Memory only unbinds its range.
func (l SparseList) Add(b SparseBinding) (SparseList, error) {
	bs := b.span()
	if bs.End < bs.Start {
		return nil, errors.Wrapf(ErrOutOfRange, "sparse binding %v", b)
	}
	if bs.Start == bs.End {
		return l, nil
	}
	out := append(SparseList(nil), l...)
	if b.Memory == 0 {
		interval.Remove(&out, bs)
		return out, nil
	}
	out[interval.Replace(&out, bs)] = b
	return out, nil
}

// Overlapping returns the parts of the bindings that lie in the resource
// range span.
func (l SparseList) Overlapping(span interval.U64Span) []SparseBinding {
	first, count := interval.Intersect(l, span)
	out := make([]SparseBinding, 0, count)
	for _, e := range l[first : first+count] {
		s, _ := e.span().Clip(span)
		out = append(out, e)
		SparseList(out).SetSpan(len(out)-1, s)
	}
	return out
}
