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

// U64Span is the base interval type understood by the algorithms in this package.
// It is a half open interval that includes the lower bound, but not the upper.
type U64Span struct {
	Start uint64 // the value at which the interval begins
	End   uint64 // the next value not included in the interval.
}

// Clip returns the part of a that lies inside b, and whether it is non-empty.
func (a U64Span) Clip(b U64Span) (U64Span, bool) {
	if a.Start < b.Start {
		a.Start = b.Start
	}
	if a.End > b.End {
		a.End = b.End
	}
	return a, a.Start < a.End
}

// Overlaps returns true if the spans share at least one value.
func (a U64Span) Overlaps(b U64Span) bool {
	return a.Start < b.End && b.Start < a.End
}

// Size returns the number of values in the span.
func (a U64Span) Size() uint64 { return a.End - a.Start }
