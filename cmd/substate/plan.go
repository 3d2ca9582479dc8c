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
	"sort"

	"github.com/google/substate/core/app"
	"github.com/google/substate/core/log"
	"github.com/google/substate/tracker"
)

type planVerb struct {
	CaptureFlags
	Records  string
	Compress bool
}

func init() {
	app.AddVerb(&app.Verb{
		Name:      "plan",
		ShortHelp: "Captures the workload and prints a summary of its restore plan",
		Action:    &planVerb{},
	})
}

func (verb *planVerb) Bind(fs *flag.FlagSet) {
	verb.CaptureFlags.Bind(fs)
	fs.StringVar(&verb.Records, "records", "", "write the memory update records of the capture to this file")
	fs.BoolVar(&verb.Compress, "zstd", true, "compress the record stream")
}

func (verb *planVerb) Run(ctx context.Context, flags *flag.FlagSet) error {
	var sink tracker.RecordSink
	if verb.Records != "" {
		records, err := createRecords(verb.Records, verb.Compress)
		if err != nil {
			return err
		}
		defer func() {
			if err := records.Close(); err != nil {
				log.W(ctx, "Closing %v: %v", verb.Records, err)
			}
		}()
		sink = records
	}
	s, err := capture(ctx, &verb.CaptureFlags, flags, sink)
	if err != nil {
		return err
	}
	p, err := s.plan(ctx)
	if err != nil {
		return err
	}
	counts := p.Count()
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("%d ops, %d payload bytes, %d errors\n", len(p.Ops), p.PayloadBytes(), len(p.Errors))
	for _, name := range names {
		fmt.Printf("  %-20s %d\n", name, counts[name])
	}
	for _, e := range p.Errors {
		fmt.Printf("  %v\n", e)
	}
	return nil
}
