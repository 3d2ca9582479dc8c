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

package reflow_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/log"
	"github.com/google/substate/core/text/reflow"
)

func TestWriter(t *testing.T) {
	ctx := log.Testing(t)
	for _, test := range []struct {
		name   string
		input  string
		expect string
	}{
		{"plain", "a\nb", "a\nb"},
		{"indent", "a {»\nb\n«}", "a {\n  b\n}"},
		{"nested", "»a\n»b\n««c", "  a\n    b\nc"},
		{"blank", "»a\n\nb", "  a\n\n  b"},
		{"eol", "a¶b", "a\nb"},
		{"underflow", "««a", "a"},
	} {
		buf := &bytes.Buffer{}
		fmt.Fprint(reflow.New(buf), test.input)
		assert.For(ctx, test.name).ThatString(buf.String()).Equals(test.expect)
	}
}
