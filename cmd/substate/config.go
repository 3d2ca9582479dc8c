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

	"github.com/google/substate/core/app"
)

type configVerb struct{ CaptureFlags }

func init() {
	app.AddVerb(&app.Verb{
		Name:      "config",
		ShortHelp: "Prints the effective configuration as YAML",
		Action:    &configVerb{},
	})
}

func (verb *configVerb) Run(ctx context.Context, flags *flag.FlagSet) error {
	cfg, err := verb.load(flags)
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
