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

package app

import (
	"context"
	"flag"
	"testing"

	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/log"
	"github.com/pkg/errors"
)

type countVerb struct {
	n    int
	args []string
	runs int
}

func (c *countVerb) Bind(fs *flag.FlagSet) { fs.IntVar(&c.n, "n", 1, "count") }

func (c *countVerb) Run(ctx context.Context, fs *flag.FlagSet) error {
	c.runs++
	c.args = fs.Args()
	return nil
}

func TestInvoke(t *testing.T) {
	ctx := log.Testing(t)
	root := &Verb{Name: "tool"}
	plan, play := &countVerb{}, &countVerb{}
	root.Add(&Verb{Name: "plan", Action: plan})
	root.Add(&Verb{Name: "play", Action: play})

	err := root.Invoke(ctx, []string{"plan", "-n", "3", "file"})
	assert.For(ctx, "plan").ThatError(err).Succeeded()
	assert.For(ctx, "runs").ThatInteger(plan.runs).Equals(1)
	assert.For(ctx, "flag").ThatInteger(plan.n).Equals(3)
	assert.For(ctx, "args").ThatSlice(plan.args).Equals([]string{"file"})

	err = root.Invoke(ctx, []string{"pla"})
	var u usageError
	assert.For(ctx, "ambiguous").ThatBoolean(errors.As(err, &u)).IsTrue()
	err = root.Invoke(ctx, []string{"x"})
	assert.For(ctx, "unknown").ThatBoolean(errors.As(err, &u)).IsTrue()
	err = root.Invoke(ctx, []string{"pl"})
	assert.For(ctx, "prefix").ThatBoolean(errors.As(err, &u)).IsTrue()
	err = root.Invoke(ctx, []string{"pla", "y"})
	assert.For(ctx, "still ambiguous").ThatBoolean(errors.As(err, &u)).IsTrue()
	err = root.Invoke(ctx, []string{"play"})
	assert.For(ctx, "exact").ThatError(err).Succeeded()
	assert.For(ctx, "play runs").ThatInteger(play.runs).Equals(1)
}

func TestDuplicateVerb(t *testing.T) {
	ctx := log.Testing(t)
	root := &Verb{Name: "tool"}
	root.Add(&Verb{Name: "a", Action: &countVerb{}})
	defer func() {
		assert.For(ctx, "panic").That(recover()).IsNotNil()
	}()
	root.Add(&Verb{Name: "a", Action: &countVerb{}})
}
