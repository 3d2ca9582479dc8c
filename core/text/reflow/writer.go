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

// Package reflow provides an io.Writer that indents the text passing
// through it, driven by markup runes embedded in the text.
package reflow

import (
	"io"
	"strings"
	"unicode/utf8"
)

const (
	Indent   = '»' // increases the current indent level by 1
	Unindent = '«' // decreases the current indent level by 1
	EOL      = '¶' // outputs a line break
)

// Writer is an io.Writer that indents every line by its current depth.
// Blank lines are written without indentation.
type Writer struct {
	// Depth is the current indentation depth.
	Depth int
	// Indent is the string repeated once per level of depth.
	Indent  string
	To      io.Writer
	newline bool
	runeBuf [4]byte
}

// New constructs a Writer with the default indent of 2 spaces.
func New(to io.Writer) *Writer {
	return &Writer{To: to, Indent: "  ", newline: true}
}

// Write implements io.Writer with the indentation logic.
func (w *Writer) Write(data []byte) (int, error) {
	for _, r := range string(data) {
		if err := w.PushRune(r); err != nil {
			return len(data), err
		}
	}
	return len(data), nil
}

// PushRune pushes a rune through the writer.
func (w *Writer) PushRune(r rune) error {
	switch r {
	case Indent:
		w.Depth++
		return nil
	case Unindent:
		if w.Depth > 0 {
			w.Depth--
		}
		return nil
	case '\n', EOL:
		w.newline = true
		return w.writeRune('\n')
	}
	if w.newline {
		w.newline = false
		if w.Depth > 0 {
			if _, err := io.WriteString(w.To, strings.Repeat(w.Indent, w.Depth)); err != nil {
				return err
			}
		}
	}
	return w.writeRune(r)
}

func (w *Writer) writeRune(r rune) error {
	n := utf8.EncodeRune(w.runeBuf[:], r)
	_, err := w.To.Write(w.runeBuf[:n])
	return err
}
