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

package config_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/substate/config"
	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/log"
	"github.com/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	ctx := log.Testing(t)
	assert.For(ctx, "validate").ThatError(config.Default().Validate()).Succeeded()
}

func TestParse(t *testing.T) {
	ctx := log.Testing(t)
	c, err := config.Parse([]byte(`
dirtyTrackingStrategy: segment-diff
restoreBuffers: host-visible-only
restorePoolDepth: 2
stagingBudgetBytes: 1024
`))
	assert.For(ctx, "err").ThatError(err).Succeeded()
	assert.For(ctx, "strategy").That(c.DirtyTrackingStrategy).Equals(config.SegmentDiff)
	assert.For(ctx, "buffers").That(c.RestoreBuffers).Equals(config.BuffersHostVisible)
	assert.For(ctx, "depth").ThatInteger(c.RestorePoolDepth).Equals(2)
	assert.For(ctx, "budget").That(c.StagingBudgetBytes).Equals(uint64(1024))
	assert.For(ctx, "unset keeps default").ThatInteger(c.MaxChunkSize).Equals(config.Default().MaxChunkSize)
}

func TestParseEmpty(t *testing.T) {
	ctx := log.Testing(t)
	c, err := config.Parse(nil)
	assert.For(ctx, "err").ThatError(err).Succeeded()
	assert.For(ctx, "config").That(c).Equals(config.Default())
}

func TestParseRejects(t *testing.T) {
	ctx := log.Testing(t)
	for _, test := range []struct {
		name string
		yaml string
	}{
		{"unknown key", "bogus: 1"},
		{"strategy", "dirtyTrackingStrategy: magic"},
		{"buffers", "restoreBuffers: some"},
		{"depth", "restorePoolDepth: 0"},
		{"chunk", "maxChunkSize: 0"},
		{"polls", "delayedFenceVisibilityPolls: -1"},
	} {
		ctx := log.Enter(ctx, test.name)
		_, err := config.Parse([]byte(test.yaml))
		assert.For(ctx, "err").ThatError(err).Failed()
	}
	_, err := config.Parse([]byte("restorePoolDepth: 0"))
	assert.For(ctx, "cause").ThatError(errors.Cause(err)).Equals(config.ErrInvalid)
}

func TestLoad(t *testing.T) {
	ctx := log.Testing(t)
	path := filepath.Join(t.TempDir(), "substate.yaml")
	assert.For(ctx, "write").ThatError(os.WriteFile(path, []byte("restoreImages: false\n"), 0666)).Succeeded()
	c, err := config.Load(path)
	assert.For(ctx, "err").ThatError(err).Succeeded()
	assert.For(ctx, "images").ThatBoolean(c.RestoreImages).IsFalse()

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.For(ctx, "missing").ThatError(err).Failed()
}

func TestMarshalRoundTrip(t *testing.T) {
	ctx := log.Testing(t)
	c := config.Default()
	c.DirtyTrackingStrategy = config.PageProtect
	data, err := c.Marshal()
	assert.For(ctx, "marshal").ThatError(err).Succeeded()
	got, err := config.Parse(data)
	assert.For(ctx, "parse").ThatError(err).Succeeded()
	assert.For(ctx, "config").That(got).Equals(c)
}

func TestBind(t *testing.T) {
	ctx := log.Testing(t)
	c := config.Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.Bind(fs)
	err := fs.Parse([]string{"-dirty-tracking", "page-protect", "-restore-buffers", "none", "-pool-depth", "3", "-fence-delay", "2"})
	assert.For(ctx, "parse").ThatError(err).Succeeded()
	assert.For(ctx, "strategy").That(c.DirtyTrackingStrategy).Equals(config.PageProtect)
	assert.For(ctx, "buffers").That(c.RestoreBuffers).Equals(config.BuffersNone)
	assert.For(ctx, "depth").ThatInteger(c.RestorePoolDepth).Equals(3)
	assert.For(ctx, "polls").ThatInteger(c.DelayedFenceVisibilityPolls).Equals(2)

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(nopWriter{})
	c.Bind(fs)
	assert.For(ctx, "bad strategy").ThatError(fs.Parse([]string{"-dirty-tracking", "magic"})).Failed()
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
