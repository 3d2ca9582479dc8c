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

// Package app runs command line applications made of verbs.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/substate/core/fault"
	"github.com/pkg/errors"
)

var (
	// Name is the name of the application.
	Name = strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))
	// ShortHelp is the purpose of the application, printed in its usage.
	ShortHelp = ""
	// ExitFuncForTesting can be set to change the behaviour on exit.
	// It defaults to os.Exit.
	ExitFuncForTesting = os.Exit
	// ErrUsage is returned by Execute when the command line is invalid.
	ErrUsage = fault.Const("Invalid command line")
)

// AppFlags are the flags every application accepts before its verb.
type AppFlags struct {
	Log     LogFlags
	Profile ProfileFlags
}

// Run parses the command line, runs the verb it names and exits. The
// context handed to the verb is cancelled on interrupt.
func Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Execute(ctx, os.Args[1:])
	stop()
	switch {
	case err == nil:
		ExitFuncForTesting(0)
	case errors.Is(err, ErrUsage):
		if err != ErrUsage {
			fmt.Fprintf(os.Stderr, "%s: %v\n", Name, err)
		}
		ExitFuncForTesting(2)
	default:
		fmt.Fprintf(os.Stderr, "%s: %v\n", Name, err)
		ExitFuncForTesting(1)
	}
}

// Execute runs the verb named by args with the application flags parsed
// from the arguments before it.
func Execute(ctx context.Context, args []string) error {
	globalVerbs.Name, globalVerbs.ShortHelp = Name, ShortHelp
	flags := AppFlags{Log: logDefaults()}
	fs := globalVerbs.Flags()
	flags.Log.Bind(fs)
	flags.Profile.Bind(fs)
	if err := fs.Parse(args); err != nil {
		usage(os.Stderr, globalVerbs, err.Error())
		return ErrUsage
	}
	ctx, handler := prepareContext(ctx, &flags.Log)
	defer handler.Close()
	stopProfile, err := applyProfiler(ctx, &flags.Profile)
	defer stopProfile()
	if err != nil {
		return err
	}
	err = globalVerbs.Invoke(ctx, fs.Args())
	var u usageError
	if errors.As(err, &u) {
		usage(os.Stderr, globalVerbs, u.message)
		if u.message == "" {
			return nil
		}
		return ErrUsage
	}
	return err
}

func errUnknown(what, value string) error {
	return errors.Errorf("Unknown %s %q", what, value)
}
