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

	"github.com/google/substate/core/log"
)

// LogFlags controls the logging of the application.
type LogFlags struct {
	Level log.Severity
	Style log.Style
}

func logDefaults() LogFlags {
	return LogFlags{Level: log.Info, Style: log.TerminalStyle(os.Stderr)}
}

// Bind registers the logging flags.
func (f *LogFlags) Bind(fs *flag.FlagSet) {
	fs.Func("log-level", "the severity to log at: Verbose, Debug, Info, Warning, Error", func(s string) error {
		l, ok := log.ParseSeverity(s)
		if !ok {
			return errUnknown("log level", s)
		}
		f.Level = l
		return nil
	})
	fs.Func("log-style", "the log style: Raw, Brief, Normal, Detailed, Coloured", func(s string) error {
		st, ok := log.StyleByName(s)
		if !ok {
			return errUnknown("log style", s)
		}
		f.Style = st
		return nil
	})
}

func prepareContext(ctx context.Context, flags *LogFlags) (context.Context, log.Handler) {
	handler := flags.Style.Handler(log.To(os.Stderr))
	ctx = log.PutHandler(ctx, handler)
	ctx = log.PutFilter(ctx, log.SeverityFilter(flags.Level))
	return log.PutTag(ctx, Name), handler
}
