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
	"flag"

	"github.com/google/substate/config"
	"github.com/google/substate/scenario"
)

// CaptureFlags selects the configuration and the workload to capture.
type CaptureFlags struct {
	ConfigPath string
	Config     config.Config
	Scenario   scenario.Options
	// SoftReuse makes the software driver hand out freed handles again.
	SoftReuse bool
}

// Bind registers the capture flags.
func (f *CaptureFlags) Bind(fs *flag.FlagSet) {
	f.Config = config.Default()
	f.Scenario = scenario.DefaultOptions()
	fs.StringVar(&f.ConfigPath, "config", "", "YAML configuration file, overridden by flags")
	f.Config.Bind(fs)
	fs.Int64Var(&f.Scenario.Seed, "seed", f.Scenario.Seed, "seed of the generated contents")
	fs.IntVar(&f.Scenario.Buffers, "buffers", f.Scenario.Buffers, "number of storage buffers in the workload")
	fs.IntVar(&f.Scenario.Images, "images", f.Scenario.Images, "number of sampled images in the workload")
	fs.BoolVar(&f.SoftReuse, "reuse-handles", false, "reuse freed handles in the software driver")
}

// load returns the effective configuration: the file named by -config, if
// any, with every explicitly set configuration flag applied over it.
func (f *CaptureFlags) load(fs *flag.FlagSet) (config.Config, error) {
	if f.ConfigPath == "" {
		return f.Config, f.Config.Validate()
	}
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	overrides := flag.NewFlagSet("config", flag.ContinueOnError)
	cfg.Bind(overrides)
	fs.Visit(func(fl *flag.Flag) {
		if o := overrides.Lookup(fl.Name); o != nil && err == nil {
			err = o.Value.Set(fl.Value.String())
		}
	})
	if err != nil {
		return config.Config{}, err
	}
	return cfg, cfg.Validate()
}
