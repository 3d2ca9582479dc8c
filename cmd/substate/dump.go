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

	"github.com/google/substate/core/app"
)

type dumpVerb struct{ CaptureFlags }

func init() {
	app.AddVerb(&app.Verb{
		Name:      "dump",
		ShortHelp: "Captures the workload and prints every op of its restore plan",
		Action:    &dumpVerb{},
	})
}

func (verb *dumpVerb) Run(ctx context.Context, flags *flag.FlagSet) error {
	s, err := capture(ctx, &verb.CaptureFlags, flags, nil)
	if err != nil {
		return err
	}
	p, err := s.plan(ctx)
	if err != nil {
		return err
	}
	for i, op := range p.Ops {
		fmt.Printf("%4d %v\n", i, op)
	}
	return nil
}
