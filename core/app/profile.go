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
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/google/substate/core/log"
	"github.com/pkg/errors"
)

// ProfileFlags controls profiling of the application.
type ProfileFlags struct {
	CPU string
	Mem string
}

// Bind registers the profiling flags.
func (f *ProfileFlags) Bind(fs *flag.FlagSet) {
	fs.StringVar(&f.CPU, "cpuprofile", "", "write a cpu profile to this file")
	fs.StringVar(&f.Mem, "memprofile", "", "write a heap profile to this file on exit")
}

func applyProfiler(ctx context.Context, flags *ProfileFlags) (func(), error) {
	closers := []func(){}
	stop := func() {
		for _, closer := range closers {
			closer()
		}
	}
	if flags.CPU != "" {
		f, err := os.Create(flags.CPU)
		if err != nil {
			return stop, errors.Wrap(err, "Starting CPU profile")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return stop, errors.Wrap(err, "Starting CPU profile")
		}
		log.D(ctx, "CPU profiling enabled")
		closers = append(closers, func() {
			pprof.StopCPUProfile()
			f.Close()
			log.I(ctx, "CPU profile written to %s", flags.CPU)
		})
	}
	if flags.Mem != "" {
		f, err := os.Create(flags.Mem)
		if err != nil {
			return stop, errors.Wrap(err, "Starting heap profile")
		}
		closers = append(closers, func() {
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.W(ctx, "Failed to write heap profile: %v", err)
			}
			f.Close()
			log.I(ctx, "Heap profile written to %s", flags.Mem)
		})
	}
	return stop, nil
}
