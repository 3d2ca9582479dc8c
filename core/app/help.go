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
	"flag"
	"fmt"
	"io"
	"strings"
)

// usageError is returned when the command line cannot be handled. It
// prints the usage of the verb being invoked.
type usageError struct {
	verb    *Verb
	message string
}

func (e usageError) Error() string {
	if e.message == "" {
		return "help requested"
	}
	return e.message
}

// usage writes the usage of root, or of the verb selected under it.
func usage(w io.Writer, root *Verb, message string) {
	if message != "" {
		fmt.Fprintf(w, "%s\n\n", message)
	}
	path := []*Verb{root}
	for v := root; v.selected != nil; v = v.selected {
		path = append(path, v.selected)
	}
	last := path[len(path)-1]
	if last.ShortHelp != "" {
		fmt.Fprintf(w, "%s: %s\n", last.Name, last.ShortHelp)
	}
	names := make([]string, len(path))
	for i, v := range path {
		names[i] = v.Name
		if hasFlags(v.Flags()) {
			names[i] += fmt.Sprintf(" [%s-flags]", v.Name)
		}
	}
	fmt.Fprintf(w, "Usage: %s", strings.Join(names, " "))
	switch {
	case last.ShortUsage != "":
		fmt.Fprintf(w, " %s", last.ShortUsage)
	case len(last.verbs) > 0:
		fmt.Fprint(w, " verb [args]")
	}
	fmt.Fprintln(w)
	for _, v := range path {
		if hasFlags(v.Flags()) {
			fmt.Fprintf(w, "%s-flags:\n", v.Name)
			v.Flags().SetOutput(w)
			v.Flags().PrintDefaults()
			v.Flags().SetOutput(io.Discard)
		}
	}
	if len(last.verbs) > 0 {
		fmt.Fprintf(w, "%s verbs:\n", last.Name)
		longest := 0
		for _, child := range last.verbs {
			if longest < len(child.Name) {
				longest = len(child.Name)
			}
		}
		for _, child := range last.verbs {
			fmt.Fprintf(w, "    %-*s - %s\n", longest, child.Name, child.ShortHelp)
		}
	}
}

func hasFlags(fs *flag.FlagSet) bool {
	found := false
	fs.VisitAll(func(*flag.Flag) { found = true })
	return found
}
