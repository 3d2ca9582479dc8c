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
	"fmt"
	"io"
	"strings"
)

// Action is the behaviour of a verb. An Action that also implements
// Binder has its flags bound when the verb is added.
type Action interface {
	// Run performs the verb with its parsed flags.
	Run(ctx context.Context, flags *flag.FlagSet) error
}

// Binder is implemented by actions that accept command line flags.
type Binder interface {
	Bind(flags *flag.FlagSet)
}

// Verb holds information about a runnable command.
type Verb struct {
	Name       string // The name of the command
	ShortHelp  string // Help for the purpose of the command
	ShortUsage string // Help for how to use the command
	Action     Action // The action for the command
	flags      *flag.FlagSet
	verbs      []*Verb
	selected   *Verb
}

var globalVerbs = &Verb{}

// Flags returns the flag set of the verb.
func (v *Verb) Flags() *flag.FlagSet {
	if v.flags == nil {
		v.flags = flag.NewFlagSet(v.Name, flag.ContinueOnError)
		v.flags.SetOutput(io.Discard)
	}
	return v.flags
}

// Add adds a new verb to the supported set, it will panic if a duplicate
// name is encountered.
func (v *Verb) Add(child *Verb) {
	if b, ok := child.Action.(Binder); ok {
		b.Bind(child.Flags())
	}
	for _, c := range v.verbs {
		if c.Name == child.Name {
			panic(fmt.Errorf("Duplicate verb name %s", child.Name))
		}
	}
	v.verbs = append(v.verbs, child)
}

// Filter returns the verbs whose names start with prefix. An exact match
// is returned alone.
func (v *Verb) Filter(prefix string) (result []*Verb) {
	for _, child := range v.verbs {
		if child.Name == prefix {
			return []*Verb{child}
		}
		if strings.HasPrefix(child.Name, prefix) {
			result = append(result, child)
		}
	}
	return result
}

// Invoke runs the verb named by the first argument, handing it the rest.
func (v *Verb) Invoke(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usageError{v, fmt.Sprintf("Must supply a verb to %s", v.Name)}
	}
	name := args[0]
	if name == "help" {
		return usageError{v, ""}
	}
	matches := v.Filter(name)
	switch len(matches) {
	case 0:
		return usageError{v, fmt.Sprintf("Verb '%s' is unknown", name)}
	case 1:
	default:
		return usageError{v, fmt.Sprintf("Verb '%s' is ambiguous", name)}
	}
	v.selected = matches[0]
	fs := v.selected.Flags()
	if err := fs.Parse(args[1:]); err != nil {
		return usageError{v, err.Error()}
	}
	if v.selected.Action == nil {
		return v.selected.Invoke(ctx, fs.Args())
	}
	return v.selected.Action.Run(ctx, fs)
}

// AddVerb adds a new verb to the application.
func AddVerb(v *Verb) { globalVerbs.Add(v) }

// FilterVerbs returns the application verbs whose names match prefix.
func FilterVerbs(prefix string) []*Verb { return globalVerbs.Filter(prefix) }
