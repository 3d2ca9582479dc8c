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

package interval

// ValueSpan is a span with an associated value.
type ValueSpan[T comparable] struct {
	Span  U64Span
	Value T
}

// ValueSpanList is a sorted list of non-overlapping spans each carrying a
// value. Adjacent spans with equal values are kept merged by Update.
type ValueSpanList[T comparable] []ValueSpan[T]

// Length returns the number of elements in the list
// Implements `List.Length`
func (l *ValueSpanList[T]) Length() int {
	return len(*l)
}

// GetSpan returns the span for the element at index in the list
// Implements `List.GetSpan`
func (l *ValueSpanList[T]) GetSpan(index int) U64Span {
	return (*l)[index].Span
}

// SetSpan sets the span for the element at index in the list
// Implements `MutableList.SetSpan`
func (l *ValueSpanList[T]) SetSpan(index int, span U64Span) {
	(*l)[index].Span = span
}

// New creates a new element at the specifed index with the specified span
// Implements `MutableList.New`
func (l *ValueSpanList[T]) New(index int, span U64Span) {
	var zero T
	(*l)[index] = ValueSpan[T]{Span: span, Value: zero}
}

// Copy count list entries
// Implements `MutableList.Copy`
func (l *ValueSpanList[T]) Copy(to, from, count int) {
	copy((*l)[to:to+count], (*l)[from:from+count])
}

// Resize adjusts the length of the array
// Implements `MutableList.Resize`
func (l *ValueSpanList[T]) Resize(length int) {
	if cap(*l) > length {
		*l = (*l)[:length]
	} else {
		old := *l
		capacity := cap(*l) * 2
		if capacity < length {
			capacity = length
		}
		*l = make(ValueSpanList[T], length, capacity)
		copy(*l, old)
	}
}

func (l *ValueSpanList[T]) insert(index int, count int) {
	*l = append(*l, make(ValueSpanList[T], count)...)
	if index+count < len(*l) {
		copy((*l)[index+count:], (*l)[index:])
	}
}

func (l *ValueSpanList[T]) delete(index int, count int) {
	if index+count < len(*l) {
		copy((*l)[index:], (*l)[index+count:])
	}
	*l = (*l)[:len(*l)-count]
}

// Each calls f for every part of span covered by the list, clipped to span.
func (l *ValueSpanList[T]) Each(span U64Span, f func(U64Span, T)) {
	first, count := Intersect(l, span)
	for i := first; i < first+count; i++ {
		e := (*l)[i]
		if s, ok := e.Span.Clip(span); ok {
			f(s, e.Value)
		}
	}
}

// Update modifies the values in `span` by applying the function `f`.
//   - f is called with ok set to false for parts of `span` not covered by
//     the list.
//   - If `f` returns false, the corresponding span is removed.
//   - Adjacent intervals with the same value are merged.
func Update[T comparable](l *ValueSpanList[T], span U64Span, f func(v T, ok bool) (T, bool)) {
	k := Search(l, func(test U64Span) bool {
		return span.Start < test.End
	})
	elems := []ValueSpan[T]{}

	add := func(val T, keep bool, start uint64, end uint64) {
		if start >= end {
			return
		}
		if !keep {
			span.Start = end
			return
		}
		if len(elems) > 0 {
			e := &elems[len(elems)-1]
			if e.Value == val && e.Span.End == start {
				e.Span.End = end
				span.Start = end
				return
			}
		}
		elems = append(elems, ValueSpan[T]{U64Span{start, end}, val})
		span.Start = end
	}
	absent := func() (T, bool) {
		var zero T
		return f(zero, false)
	}

	i := k

	if i < len(*l) {
		// Only the first overlapping element can start before span.
		add((*l)[i].Value, true, (*l)[i].Span.Start, span.Start)
	}

	for ; i < len(*l); i++ {
		iSpan := (*l)[i].Span
		if iSpan.Start >= span.End {
			break
		}

		v, ok := absent()
		add(v, ok, span.Start, iSpan.Start)

		v, ok = f((*l)[i].Value, true)
		add(v, ok, span.Start, min(iSpan.End, span.End))

		if iSpan.End > span.End {
			add((*l)[i].Value, true, span.End, iSpan.End)
		}
	}

	v, ok := absent()
	add(v, ok, span.Start, span.End)

	if k > 0 && len(elems) > 0 {
		prev := &(*l)[k-1]
		e := elems[0]
		if prev.Span.End == e.Span.Start && prev.Value == e.Value {
			prev.Span.End = e.Span.End
			elems = elems[1:]
		}
	}

	if i < len(*l) && len(elems) > 0 {
		next := &(*l)[i]
		e := elems[len(elems)-1]
		if next.Span.Start == e.Span.End && next.Value == e.Value {
			next.Span.Start = e.Span.Start
			elems = elems[:len(elems)-1]
		}
	}
	if len(elems) == 0 && 0 < k && i < len(*l) {
		prev, next := &(*l)[k-1], (*l)[i]
		if prev.Span.End == next.Span.Start && prev.Value == next.Value {
			prev.Span.End = next.Span.End
			i++
		}
	}

	// Elements [k,i) are replaced by elems.
	if len(elems) > i-k {
		l.insert(k, len(elems)-(i-k))
	} else if len(elems) < i-k {
		l.delete(k, i-k-len(elems))
	}
	for j, e := range elems {
		(*l)[k+j] = e
	}
}
