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

package scenario_test

import (
	"context"
	"testing"

	"github.com/google/substate/config"
	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/log"
	"github.com/google/substate/driver"
	"github.com/google/substate/driver/soft"
	"github.com/google/substate/rebuild"
	"github.com/google/substate/scenario"
	"github.com/google/substate/tracker"
)

func capture(ctx context.Context, t *testing.T, cfg config.Config) (*tracker.Tracker, *soft.Driver, *scenario.Workload) {
	d := soft.New(soft.Options{})
	tr := tracker.New(ctx, d, cfg, nil)
	w, err := scenario.Run(ctx, tr, scenario.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	return tr, d, w
}

func replay(ctx context.Context, t *testing.T, tr *tracker.Tracker, cfg config.Config) (*soft.Driver, *rebuild.Result) {
	p, err := rebuild.Build(ctx, tr, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	d := soft.New(soft.Options{})
	res, err := rebuild.Replay(ctx, p, d)
	if err != nil {
		t.Fatal(err)
	}
	return d, res
}

func TestRoundTrip(t *testing.T) {
	for _, strategy := range []config.DirtyStrategy{config.ShadowCopy, config.SegmentDiff, config.PageProtect} {
		t.Run(string(strategy), func(t *testing.T) {
			ctx := log.Testing(t)
			cfg := config.Default()
			cfg.DirtyTrackingStrategy = strategy
			tr, original, w := capture(ctx, t, cfg)
			assert.For(ctx, "buffers").ThatSlice(w.Buffers).IsLength(4)
			assert.For(ctx, "images").ThatSlice(w.Images).IsLength(2)

			replayed, res := replay(ctx, t, tr, cfg)
			mismatches, err := scenario.Verify(ctx, tr, cfg, original, replayed, res)
			assert.For(ctx, "verify").ThatError(err).Succeeded()
			assert.For(ctx, "mismatches").ThatSlice(mismatches).IsEmpty()
			assert.For(ctx, "images").ThatInteger(replayed.Count(driver.Image)).Equals(2)
		})
	}
}

func TestVerifyReportsMissingContents(t *testing.T) {
	ctx := log.Testing(t)
	none := config.Default()
	none.RestoreBuffers = config.BuffersNone
	none.RestoreImages = false
	tr, original, _ := capture(ctx, t, none)
	replayed, res := replay(ctx, t, tr, none)

	mismatches, err := scenario.Verify(ctx, tr, none, original, replayed, res)
	assert.For(ctx, "verify none").ThatError(err).Succeeded()
	assert.For(ctx, "none").ThatSlice(mismatches).IsEmpty()

	mismatches, err = scenario.Verify(ctx, tr, config.Default(), original, replayed, res)
	assert.For(ctx, "verify all").ThatError(err).Succeeded()
	assert.For(ctx, "all").ThatInteger(len(mismatches)).IsAtLeast(4 + 2)
}
