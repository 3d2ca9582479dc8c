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

package tracker_test

import (
	"testing"

	"github.com/google/substate/config"
	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/log"
	"github.com/google/substate/core/math/interval"
	"github.com/google/substate/tracker"
)

func TestDirtyStrategiesAgree(t *testing.T) {
	ctx := log.Testing(t)
	for _, strategy := range []config.DirtyStrategy{config.PageProtect, config.ShadowCopy, config.SegmentDiff} {
		target := make([]byte, 4096)
		d, err := tracker.NewDirtyTracker(strategy, target)
		assert.For(ctx, "%v create", strategy).ThatError(err).Succeeded()

		changed := make([]byte, 100)
		for i := range changed {
			changed[i] = byte(i + 1)
		}
		assert.For(ctx, "%v write", strategy).ThatError(d.Write(100, changed)).Succeeded()
		offset, length, err := d.Flush()
		assert.For(ctx, "%v flush", strategy).ThatError(err).Succeeded()
		assert.For(ctx, "%v offset", strategy).That(offset).Equals(uint64(100))
		assert.For(ctx, "%v length", strategy).That(length).Equals(uint64(100))
		assert.For(ctx, "%v target", strategy).ThatSlice(target[100:200]).Equals(changed)

		_, length, err = d.Flush()
		assert.For(ctx, "%v second flush", strategy).ThatError(err).Succeeded()
		assert.For(ctx, "%v nothing changed", strategy).That(length).Equals(uint64(0))

		// Rewriting identical bytes is not a change.
		assert.For(ctx, "%v rewrite", strategy).ThatError(d.Write(150, changed[50:60])).Succeeded()
		_, length, _ = d.Flush()
		assert.For(ctx, "%v identical", strategy).That(length).Equals(uint64(0))

		assert.For(ctx, "%v out of range", strategy).ThatError(d.Write(4090, changed[:10])).Is(tracker.ErrOutOfRange)
		assert.For(ctx, "%v close", strategy).ThatError(d.Close()).Succeeded()
	}
}

func TestPageProtectViewShowsWrites(t *testing.T) {
	ctx := log.Testing(t)
	target := make([]byte, 8192)
	d, err := tracker.NewDirtyTracker(config.PageProtect, target)
	must(t, err)
	defer d.Close()
	data := []byte{1, 2, 3, 4}
	must(t, d.Write(4094, data))
	assert.For(ctx, "view").ThatSlice(d.View()[4094:4098]).Equals(data)
	assert.For(ctx, "target before flush").ThatSlice(target[4094:4098]).Equals([]byte{0, 0, 0, 0})
	offset, length, err := d.Flush()
	must(t, err)
	assert.For(ctx, "flushed").That([]uint64{offset, length}).DeepEquals([]uint64{4094, 4})
	assert.For(ctx, "target").ThatSlice(target[4094:4098]).Equals(data)
}

func TestDirtyAcrossPages(t *testing.T) {
	ctx := log.Testing(t)
	for _, strategy := range []config.DirtyStrategy{config.PageProtect, config.ShadowCopy, config.SegmentDiff} {
		target := make([]byte, 64<<10)
		d, err := tracker.NewDirtyTracker(strategy, target)
		assert.For(ctx, "%v create", strategy).ThatError(err).Succeeded()
		d.Write(10, []byte{1})
		d.Write(40000, []byte{2, 3})
		offset, length, err := d.Flush()
		assert.For(ctx, "%v flush", strategy).ThatError(err).Succeeded()
		assert.For(ctx, "%v offset", strategy).That(offset).Equals(uint64(10))
		assert.For(ctx, "%v length", strategy).That(length).Equals(uint64(40002 - 10))
		assert.For(ctx, "%v target", strategy).ThatSlice(target[40000:40002]).Equals([]byte{2, 3})
		d.Close()
	}
}

func TestAliasingWinner(t *testing.T) {
	ctx := log.Testing(t)
	const a, b = tracker.ID(1), tracker.ID(2)
	al := tracker.NewAliasing()
	al.Insert(a, interval.U64Span{Start: 0, End: 1024}, 5)
	al.Insert(b, interval.U64Span{Start: 512, End: 1536}, 9)

	got := al.Resolve(interval.U64Span{Start: 512, End: 1024})
	assert.For(ctx, "pieces").ThatSlice(got).IsLength(1)
	assert.For(ctx, "occupants").ThatSlice(got[0].Occupants).Equals([]tracker.ID{a, b})
	assert.For(ctx, "winner").That(got[0].Winner).Equals(b)

	assert.For(ctx, "b owns").ThatSlice(al.Owned(b, interval.U64Span{Start: 0, End: 2048})).Equals(
		[]interval.U64Span{{Start: 512, End: 1536}})
	assert.For(ctx, "a owns").ThatSlice(al.Owned(a, interval.U64Span{Start: 0, End: 2048})).Equals(
		[]interval.U64Span{{Start: 0, End: 512}})

	al.Touch(a, 10)
	assert.For(ctx, "a owns after write").ThatSlice(al.Owned(a, interval.U64Span{Start: 0, End: 2048})).Equals(
		[]interval.U64Span{{Start: 0, End: 1024}})

	al.RemoveAll(a)
	got = al.Resolve(interval.U64Span{Start: 0, End: 2048})
	assert.For(ctx, "after remove").ThatSlice(got).IsLength(1)
	assert.For(ctx, "span").That(got[0].Span).Equals(interval.U64Span{Start: 512, End: 1536})
	_, ok := al.Stamp(a)
	assert.For(ctx, "stamp dropped").ThatBoolean(ok).IsFalse()
}

func TestAliasingTieGoesToNewest(t *testing.T) {
	ctx := log.Testing(t)
	al := tracker.NewAliasing()
	al.Insert(3, interval.U64Span{Start: 0, End: 16}, 0)
	al.Insert(8, interval.U64Span{Start: 0, End: 16}, 0)
	got := al.Resolve(interval.U64Span{Start: 0, End: 16})
	assert.For(ctx, "winner").That(got[0].Winner).Equals(tracker.ID(8))
}

func TestSparseTruncateAndSplit(t *testing.T) {
	ctx := log.Testing(t)
	bind := func(offset, size uint64, mem tracker.ID, memOffset uint64) tracker.SparseBinding {
		return tracker.SparseBinding{ResourceOffset: offset, Size: size, Memory: mem, MemoryOffset: memOffset}
	}
	for _, test := range []struct {
		name     string
		incoming []tracker.SparseBinding
		expected tracker.SparseList
	}{
		{"empty", nil, nil},
		{"single", []tracker.SparseBinding{bind(0, 512, 1, 10)}, tracker.SparseList{bind(0, 512, 1, 10)}},
		{"order", []tracker.SparseBinding{
			bind(2048, 1024, 3, 0),
			bind(1024, 1024, 2, 0),
			bind(0, 1024, 1, 0),
		}, tracker.SparseList{
			bind(0, 1024, 1, 0),
			bind(1024, 1024, 2, 0),
			bind(2048, 1024, 3, 0),
		}},
		{"truncate tail and head", []tracker.SparseBinding{
			bind(0, 1024, 1, 0),
			bind(1024, 1024, 2, 0),
			bind(512, 1024, 3, 100),
		}, tracker.SparseList{
			bind(0, 512, 1, 0),
			bind(512, 1024, 3, 100),
			bind(1536, 512, 2, 512),
		}},
		{"split", []tracker.SparseBinding{
			bind(0, 4096, 1, 0),
			bind(1024, 1024, 2, 0),
		}, tracker.SparseList{
			bind(0, 1024, 1, 0),
			bind(1024, 1024, 2, 0),
			bind(2048, 2048, 1, 2048),
		}},
		{"replace", []tracker.SparseBinding{
			bind(1024, 1024, 1, 0),
			bind(0, 4096, 2, 0),
		}, tracker.SparseList{
			bind(0, 4096, 2, 0),
		}},
		{"unbind middle", []tracker.SparseBinding{
			bind(0, 3072, 1, 0),
			bind(1024, 1024, 0, 0),
		}, tracker.SparseList{
			bind(0, 1024, 1, 0),
			bind(2048, 1024, 1, 2048),
		}},
	} {
		var l tracker.SparseList
		for _, b := range test.incoming {
			var err error
			l, err = l.Add(b)
			assert.For(ctx, "%v add", test.name).ThatError(err).Succeeded()
		}
		assert.For(ctx, test.name).That(l).DeepEquals(test.expected)
	}
}

func TestSparseAddKeepsReceiver(t *testing.T) {
	ctx := log.Testing(t)
	before := tracker.SparseList{{ResourceOffset: 0, Size: 4096, Memory: 1}}
	after, err := before.Add(tracker.SparseBinding{ResourceOffset: 1024, Size: 1024, Memory: 2})
	assert.For(ctx, "add").ThatError(err).Succeeded()
	assert.For(ctx, "after").ThatSlice(after).IsLength(3)
	assert.For(ctx, "before").That(before).DeepEquals(tracker.SparseList{{ResourceOffset: 0, Size: 4096, Memory: 1}})

	after, err = after.Add(tracker.SparseBinding{ResourceOffset: 0, Size: 8192})
	assert.For(ctx, "unbind all").ThatError(err).Succeeded()
	assert.For(ctx, "unbound").ThatSlice(after).IsEmpty()

	_, err = before.Add(tracker.SparseBinding{ResourceOffset: 1, Size: ^uint64(0), Memory: 1})
	assert.For(ctx, "overflow").ThatError(err).Is(tracker.ErrOutOfRange)

	parts := tracker.SparseList{{ResourceOffset: 1024, Size: 2048, Memory: 1, MemoryOffset: 64}}.Overlapping(interval.U64Span{Start: 2048, End: 8192})
	assert.For(ctx, "overlapping").That(parts).DeepEquals([]tracker.SparseBinding{
		{ResourceOffset: 2048, Size: 1024, Memory: 1, MemoryOffset: 1088},
	})
}
