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
	"os"

	"github.com/google/substate/core/app"
	"github.com/google/substate/record"
	"github.com/pkg/errors"
)

type recordsVerb struct {
	Batch bool
}

func init() {
	app.AddVerb(&app.Verb{
		Name:       "records",
		ShortHelp:  "Prints the memory update records of a record stream",
		ShortUsage: "<file>",
		Action:     &recordsVerb{},
	})
}

func (verb *recordsVerb) Bind(fs *flag.FlagSet) {
	fs.BoolVar(&verb.Batch, "batch", false, "group the updates by memory")
}

func (verb *recordsVerb) Run(ctx context.Context, flags *flag.FlagSet) error {
	if flags.NArg() != 1 {
		return errors.Wrapf(app.ErrUsage, "Exactly one record stream expected, got %d", flags.NArg())
	}
	f, err := os.Open(flags.Arg(0))
	if err != nil {
		return errors.Wrap(err, "Opening record stream")
	}
	defer f.Close()
	r, err := record.NewReader(f)
	if err != nil {
		return err
	}
	defer r.Close()
	all, err := r.ReadAll()
	if err != nil {
		return err
	}
	var updates []*record.MemoryUpdate
	for _, rec := range all {
		switch rec := rec.(type) {
		case *record.MemoryUpdate:
			if verb.Batch {
				updates = append(updates, rec)
				continue
			}
			fmt.Printf("memory %#x: [%d, %d)\n", rec.Memory, rec.Offset, rec.Offset+rec.Length)
		case *record.BatchedMemoryUpdate:
			printBatch(rec)
		}
	}
	for _, b := range record.Batch(updates) {
		printBatch(b)
	}
	return nil
}

func printBatch(b *record.BatchedMemoryUpdate) {
	fmt.Printf("memory %#x: %d ranges\n", b.Memory, b.Count())
	for i := range b.Offsets {
		fmt.Printf("  [%d, %d)\n", b.Offsets[i], b.Offsets[i]+b.Lengths[i])
	}
}
