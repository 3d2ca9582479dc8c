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

// Package interval provides sorted, non-overlapping half-open span lists and
// the algorithms that maintain them.
package interval

// List is the interface to an object that can be used as an interval list by
// the algorithms in this package.
type List interface {
	// Length returns the number of intervals in the list.
	Length() int
	// GetSpan returns the span for the interval at index.
	GetSpan(index int) U64Span
}

// MutableList is a List that can be modified.
type MutableList interface {
	List
	// SetSpan sets the span of the interval at index.
	SetSpan(index int, span U64Span)
	// New creates a new interval at index with the given span.
	New(index int, span U64Span)
	// Copy moves count intervals from the from index to the to index.
	Copy(to, from, count int)
	// Resize adjusts the length of the list.
	Resize(length int)
}

// Predicate is used as the condition for a Search.
type Predicate func(test U64Span) bool

// Search finds the first interval in the list that the predicate returns
// true for, or the list length if none match.
func Search(l List, t Predicate) int {
	return search(l, t)
}

// Intersect finds the intervals from the list that overlap with the specified
// span, returning the first index and the count.
func Intersect(l List, span U64Span) (first, count int) {
	s := intersection{}
	s.intersect(l, span)
	return s.lowIndex, s.overlap
}

// Replace cuts the span out of any existing intervals, and then adds a new
// interval, returning its index.
func Replace(l MutableList, span U64Span) int {
	index, span := cut(l, span, true)
	l.New(index, span)
	return index
}

// Remove strips the specified span from the list, cutting it from any
// overlapping intervals.
func Remove(l MutableList, span U64Span) {
	cut(l, span, false)
}
