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

package log

import (
	"os"

	"github.com/mattn/go-isatty"
)

var (
	// Raw is a style that only prints the text of the message.
	Raw = Style{
		Name:     "raw",
		Severity: NoSeverity,
		Values:   NoValues,
	}

	// Brief is a style that only prints the text and short severity of the
	// message.
	Brief = Style{
		Name:     "brief",
		Severity: SeverityShort,
		Values:   NoValues,
	}

	// Normal is a style that prints the timestamp, tag, trace and short
	// severity.
	Normal = Style{
		Name:      "normal",
		Timestamp: true,
		Tag:       true,
		Trace:     true,
		Severity:  SeverityShort,
		Values:    ValuesSingleLine,
	}

	// Detailed is a style that prints the timestamp, tag, trace, long
	// severity and multi-line values.
	Detailed = Style{
		Name:      "detailed",
		Timestamp: true,
		Tag:       true,
		Trace:     true,
		Severity:  SeverityLong,
		Values:    ValuesMultiLine,
	}

	// Coloured is Normal with ANSI coloured severities.
	Coloured = Style{
		Name:      "coloured",
		Timestamp: true,
		Tag:       true,
		Trace:     true,
		Severity:  SeverityShort,
		Values:    ValuesSingleLine,
		Colours:   true,
	}
)

// Styles lists the known styles by name.
var Styles = []Style{Raw, Brief, Normal, Detailed, Coloured}

// StyleByName returns the style with the given name.
func StyleByName(name string) (Style, bool) {
	for _, s := range Styles {
		if s.Name == name {
			return s, true
		}
	}
	return Normal, false
}

// TerminalStyle returns Coloured if f is a terminal, otherwise Normal.
func TerminalStyle(f *os.File) Style {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return Coloured
	}
	return Normal
}
