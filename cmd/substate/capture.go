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
	"os"

	"github.com/google/substate/config"
	"github.com/google/substate/core/log"
	"github.com/google/substate/driver/soft"
	"github.com/google/substate/rebuild"
	"github.com/google/substate/record"
	"github.com/google/substate/scenario"
	"github.com/google/substate/tracker"
	"github.com/pkg/errors"
)

// session is one captured workload.
type session struct {
	cfg      config.Config
	soft     *soft.Driver
	tracker  *tracker.Tracker
	workload *scenario.Workload
}

// capture runs the workload selected by flags on a fresh software driver.
// Memory updates are streamed to sink when it is not nil.
func capture(ctx context.Context, flags *CaptureFlags, fs *flag.FlagSet, sink tracker.RecordSink) (*session, error) {
	cfg, err := flags.load(fs)
	if err != nil {
		return nil, err
	}
	return captureWith(ctx, cfg, flags.Scenario, soft.Options{ReuseHandles: flags.SoftReuse}, sink)
}

func captureWith(ctx context.Context, cfg config.Config, opts scenario.Options, softOpts soft.Options, sink tracker.RecordSink) (*session, error) {
	s := &session{cfg: cfg, soft: soft.New(softOpts)}
	s.tracker = tracker.New(ctx, s.soft, cfg, sink)
	w, err := scenario.Run(ctx, s.tracker, opts)
	if err != nil {
		return nil, log.Err(ctx, err, "Running the workload")
	}
	s.workload = w
	return s, nil
}

// plan builds and validates the restore plan of the session.
func (s *session) plan(ctx context.Context) (*rebuild.Plan, error) {
	p, err := rebuild.Build(ctx, s.tracker, s.cfg)
	if err != nil {
		return nil, log.Err(ctx, err, "Building the plan")
	}
	if err := p.Validate(); err != nil {
		return nil, log.Err(ctx, err, "Validating the plan")
	}
	for _, e := range p.Errors {
		log.W(ctx, "%v", e)
	}
	return p, nil
}

// recordFile is a record stream written to a file.
type recordFile struct {
	f *os.File
	*record.Writer
}

func createRecords(path string, compress bool) (*recordFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "Creating record stream")
	}
	w, err := record.NewWriter(f, compress)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &recordFile{f, w}, nil
}

func (r *recordFile) Close() error {
	err := r.Writer.Close()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
