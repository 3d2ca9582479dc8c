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

package main

import (
	"context"
	"flag"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/substate/core/app"
	"github.com/google/substate/core/fault"
	"github.com/google/substate/core/log"
	"github.com/google/substate/driver/soft"
	"github.com/google/substate/rebuild"
	"github.com/google/substate/scenario"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrMismatch is returned when a replayed plan does not reproduce the state.
const ErrMismatch = fault.Const("Replayed state differs from the capture")

type verifyVerb struct {
	CaptureFlags
	Runs int
}

func init() {
	app.AddVerb(&app.Verb{
		Name:      "verify",
		ShortHelp: "Captures workloads, replays their plans on fresh drivers and compares the state",
		Action:    &verifyVerb{},
	})
}

func (verb *verifyVerb) Bind(fs *flag.FlagSet) {
	verb.CaptureFlags.Bind(fs)
	fs.IntVar(&verb.Runs, "runs", 1, "number of workloads, seeded consecutively")
}

func (verb *verifyVerb) Run(ctx context.Context, flags *flag.FlagSet) error {
	cfg, err := verb.load(flags)
	if err != nil {
		return err
	}
	var mu sync.Mutex
	failed := 0
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < verb.Runs; i++ {
		opts := verb.Scenario
		opts.Seed += int64(i)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ctx := log.PutTag(ctx, fmt.Sprintf("seed %d", opts.Seed))
			s, err := captureWith(ctx, cfg, opts, soft.Options{ReuseHandles: verb.SoftReuse}, nil)
			if err != nil {
				return err
			}
			p, err := s.plan(ctx)
			if err != nil {
				return err
			}
			replayed := soft.New(soft.Options{ReuseHandles: verb.SoftReuse})
			res, err := rebuild.Replay(ctx, p, replayed)
			if err != nil {
				return err
			}
			mismatches, err := scenario.Verify(ctx, s.tracker, cfg, s.soft, replayed, res)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, m := range mismatches {
				fmt.Printf("seed %d: %v\n", opts.Seed, m)
			}
			if len(mismatches) > 0 {
				failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if failed > 0 {
		return errors.Wrapf(ErrMismatch, "%d of %d runs", failed, verb.Runs)
	}
	fmt.Printf("%d runs verified\n", verb.Runs)
	return nil
}
