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
	"io"
	"os"

	"github.com/google/substate/core/app"
	"github.com/google/substate/emit"
	"github.com/pkg/errors"
)

type emitVerb struct {
	CaptureFlags
	Out string
}

func init() {
	app.AddVerb(&app.Verb{
		Name:      "emit",
		ShortHelp: "Captures the workload and writes its restore plan as source code",
		Action:    &emitVerb{},
	})
}

func (verb *emitVerb) Bind(fs *flag.FlagSet) {
	verb.CaptureFlags.Bind(fs)
	fs.StringVar(&verb.Out, "out", "", "the file to write, stdout if empty")
}

func (verb *emitVerb) Run(ctx context.Context, flags *flag.FlagSet) (err error) {
	s, err := capture(ctx, &verb.CaptureFlags, flags, nil)
	if err != nil {
		return err
	}
	p, err := s.plan(ctx)
	if err != nil {
		return err
	}
	var w io.Writer = os.Stdout
	if verb.Out != "" {
		f, err := os.Create(verb.Out)
		if err != nil {
			return errors.Wrap(err, "Creating output")
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}
	return emit.Write(w, p, s.cfg.MaxChunkSize)
}
