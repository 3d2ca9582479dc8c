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

import (
	"testing"

	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/log"
)

func TestUpdate(t *testing.T) {
	ctx := log.Testing(t)
	add1 := func(x int, ok bool) (int, bool) {
		if !ok {
			return 0, true
		}
		return x + 1, true
	}
	const1 := func(int, bool) (int, bool) {
		return 1, true
	}
	for _, test := range []struct {
		name     string
		list     ValueSpanList[int]
		span     U64Span
		f        func(int, bool) (int, bool)
		expected ValueSpanList[int]
	}{
		{"Empty",
			ValueSpanList[int]{},
			U64Span{0, 10},
			add1,
			ValueSpanList[int]{ValueSpan[int]{U64Span{0, 10}, 0}},
		},
		{"match",
			ValueSpanList[int]{ValueSpan[int]{U64Span{0, 10}, 1}},
			U64Span{0, 10},
			add1,
			ValueSpanList[int]{ValueSpan[int]{U64Span{0, 10}, 2}},
		},
		{"split",
			ValueSpanList[int]{ValueSpan[int]{U64Span{5, 25}, 1}},
			U64Span{15, 20},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 15}, 1},
				ValueSpan[int]{U64Span{15, 20}, 2},
				ValueSpan[int]{U64Span{20, 25}, 1},
			},
		},
		{"split match front",
			ValueSpanList[int]{ValueSpan[int]{U64Span{5, 25}, 1}},
			U64Span{5, 20},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 20}, 2},
				ValueSpan[int]{U64Span{20, 25}, 1},
			},
		},
		{"split match end",
			ValueSpanList[int]{ValueSpan[int]{U64Span{5, 25}, 1}},
			U64Span{15, 25},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 15}, 1},
				ValueSpan[int]{U64Span{15, 25}, 2},
			},
		},
		{"split front",
			ValueSpanList[int]{ValueSpan[int]{U64Span{15, 25}, 1}},
			U64Span{10, 20},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{10, 15}, 0},
				ValueSpan[int]{U64Span{15, 20}, 2},
				ValueSpan[int]{U64Span{20, 25}, 1},
			},
		},
		{"split front match front",
			ValueSpanList[int]{ValueSpan[int]{U64Span{15, 25}, 1}},
			U64Span{10, 15},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{10, 15}, 0},
				ValueSpan[int]{U64Span{15, 25}, 1},
			},
		},
		{"split front match end",
			ValueSpanList[int]{ValueSpan[int]{U64Span{15, 25}, 1}},
			U64Span{10, 25},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{10, 15}, 0},
				ValueSpan[int]{U64Span{15, 25}, 2},
			},
		},
		{"split end",
			ValueSpanList[int]{ValueSpan[int]{U64Span{5, 15}, 1}},
			U64Span{10, 20},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 10}, 1},
				ValueSpan[int]{U64Span{10, 15}, 2},
				ValueSpan[int]{U64Span{15, 20}, 0},
			},
		},
		{"split end match front",
			ValueSpanList[int]{ValueSpan[int]{U64Span{5, 15}, 1}},
			U64Span{15, 20},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 15}, 1},
				ValueSpan[int]{U64Span{15, 20}, 0},
			},
		},
		{"split end match end",
			ValueSpanList[int]{ValueSpan[int]{U64Span{5, 15}, 1}},
			U64Span{5, 20},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 15}, 2},
				ValueSpan[int]{U64Span{15, 20}, 0},
			},
		},
		{"between",
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 10}, 1},
				ValueSpan[int]{U64Span{25, 30}, 2},
			},
			U64Span{15, 20},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 10}, 1},
				ValueSpan[int]{U64Span{15, 20}, 0},
				ValueSpan[int]{U64Span{25, 30}, 2},
			},
		},
		{"between match",
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 10}, 1},
				ValueSpan[int]{U64Span{25, 30}, 2},
			},
			U64Span{10, 25},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 10}, 1},
				ValueSpan[int]{U64Span{10, 25}, 0},
				ValueSpan[int]{U64Span{25, 30}, 2},
			},
		},
		{"merge intersection",
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 15}, 2},
				ValueSpan[int]{U64Span{20, 30}, 2},
			},
			U64Span{10, 25},
			const1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 10}, 2},
				ValueSpan[int]{U64Span{10, 25}, 1},
				ValueSpan[int]{U64Span{25, 30}, 2},
			},
		},
		{"merge front",
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 15}, 1},
				ValueSpan[int]{U64Span{20, 30}, 2},
			},
			U64Span{10, 25},
			const1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 25}, 1},
				ValueSpan[int]{U64Span{25, 30}, 2},
			},
		},
		{"merge front match front",
			ValueSpanList[int]{ValueSpan[int]{U64Span{15, 25}, 0}},
			U64Span{10, 15},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{10, 25}, 0},
			},
		},
		{"merge end",
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 15}, 2},
				ValueSpan[int]{U64Span{20, 30}, 1},
			},
			U64Span{10, 25},
			const1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 10}, 2},
				ValueSpan[int]{U64Span{10, 30}, 1},
			},
		},
		{"merge end match front",
			ValueSpanList[int]{ValueSpan[int]{U64Span{5, 15}, 0}},
			U64Span{15, 20},
			add1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 20}, 0},
			},
		},
		{"merge union",
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 15}, 1},
				ValueSpan[int]{U64Span{20, 30}, 1},
			},
			U64Span{10, 25},
			const1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 30}, 1},
			},
		},
		{"merge union match front",
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 15}, 1},
				ValueSpan[int]{U64Span{20, 30}, 1},
			},
			U64Span{15, 25},
			const1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 30}, 1},
			},
		},
		{"merge union match end",
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 15}, 1},
				ValueSpan[int]{U64Span{20, 30}, 1},
			},
			U64Span{10, 20},
			const1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 30}, 1},
			},
		},
		{"merge union match both",
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 15}, 1},
				ValueSpan[int]{U64Span{20, 30}, 1},
			},
			U64Span{15, 20},
			const1,
			ValueSpanList[int]{
				ValueSpan[int]{U64Span{5, 30}, 1},
			},
		},
	} {
		ctx := log.Enter(ctx, test.name)
		Update(&test.list, test.span, test.f)
		assert.For(ctx, "list").ThatSlice(test.list).Equals(test.expected)
	}
}

func TestUpdateRemove(t *testing.T) {
	ctx := log.Testing(t)
	drop := func(int, bool) (int, bool) { return 0, false }
	l := ValueSpanList[int]{
		ValueSpan[int]{U64Span{0, 10}, 1},
		ValueSpan[int]{U64Span{10, 20}, 2},
		ValueSpan[int]{U64Span{20, 30}, 3},
	}
	Update(&l, U64Span{5, 25}, drop)
	assert.For(ctx, "list").ThatSlice(l).Equals(ValueSpanList[int]{
		ValueSpan[int]{U64Span{0, 5}, 1},
		ValueSpan[int]{U64Span{25, 30}, 3},
	})

	onlyPresent := func(x int, ok bool) (int, bool) { return x * 10, ok }
	Update(&l, U64Span{0, 30}, onlyPresent)
	assert.For(ctx, "scaled").ThatSlice(l).Equals(ValueSpanList[int]{
		ValueSpan[int]{U64Span{0, 5}, 10},
		ValueSpan[int]{U64Span{25, 30}, 30},
	})
}

func TestEach(t *testing.T) {
	ctx := log.Testing(t)
	l := ValueSpanList[string]{
		ValueSpan[string]{U64Span{0, 10}, "a"},
		ValueSpan[string]{U64Span{20, 30}, "b"},
	}
	got := []ValueSpan[string]{}
	l.Each(U64Span{5, 25}, func(s U64Span, v string) {
		got = append(got, ValueSpan[string]{s, v})
	})
	assert.For(ctx, "pieces").ThatSlice(got).Equals([]ValueSpan[string]{
		{U64Span{5, 10}, "a"},
		{U64Span{20, 25}, "b"},
	})
}
