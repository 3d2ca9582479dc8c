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

// Severity defines the severity of a logging message.
type Severity int

// The values must be identical to values in gapis/service/service.proto
const (
	// Verbose indicates extremely verbose level messages.
	Verbose Severity = iota
	// Debug indicates debug-level messages.
	Debug
	// Info indicates minor informational messages that should generally be ignored.
	Info
	// Warning indicates issues that might affect performance or compatibility, but could be ignored.
	Warning
	// Error indicates non terminal failure conditions that may have an effect on results.
	Error
	// Fatal indicates a fatal error.
	Fatal
)

var severityNames = [...]string{"Verbose", "Debug", "Info", "Warning", "Error", "Fatal"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "?"
	}
	return severityNames[s]
}

// Short returns the severity string with a single character.
func (s Severity) Short() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "?"
	}
	return severityNames[s][:1]
}

// ParseSeverity returns the severity with the given name, ignoring case of
// the first letter.
func ParseSeverity(name string) (Severity, bool) {
	for i, n := range severityNames {
		if n == name || (len(name) > 0 && n[1:] == name[1:] && (n[0]|0x20) == (name[0]|0x20)) {
			return Severity(i), true
		}
	}
	return Info, false
}
