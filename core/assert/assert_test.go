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

package assert_test

import (
	"strings"
	"testing"

	"github.com/google/substate/core/assert"
	"github.com/pkg/errors"
)

type capture struct {
	fatals, errors, logs []string
}

func (c *capture) Fatal(args ...interface{}) { c.fatals = append(c.fatals, args[0].(string)) }
func (c *capture) Error(args ...interface{}) { c.errors = append(c.errors, args[0].(string)) }
func (c *capture) Log(args ...interface{})   { c.logs = append(c.logs, args[0].(string)) }

func TestPassingAssertionsAreSilent(t *testing.T) {
	c := &capture{}
	a := assert.To(c)
	a.For("value").That(3).Equals(3)
	a.For("nil").That((*int)(nil)).IsNil()
	a.For("int").ThatInteger(4).IsBetween(1, 5)
	a.For("bool").ThatBoolean(true).IsTrue()
	a.For("string").ThatString("sub-capture").HasPrefix("sub")
	a.For("slice").ThatSlice([]uint64{1, 2}).Equals([]uint64{1, 2})
	a.For("deep").That([]byte{1, 2}).DeepEquals([]byte{1, 2})
	a.For("map").ThatMap(map[string]int{"a": 1}).Equals(map[string]int{"a": 1})
	a.For("error").ThatError(nil).Succeeded()
	if len(c.errors)+len(c.fatals) != 0 {
		t.Errorf("Unexpected failures: %v %v", c.errors, c.fatals)
	}
}

func TestFailingAssertionReports(t *testing.T) {
	c := &capture{}
	assert.To(c).For("A message").That(false).Equals(true)
	if len(c.errors) != 1 {
		t.Fatalf("Expected one error, got %v", c.errors)
	}
	msg := c.errors[0]
	for _, want := range []string{"Error:A message", "Got", "false", "Expect", "true"} {
		if !strings.Contains(msg, want) {
			t.Errorf("%q does not contain %q", msg, want)
		}
	}
}

func TestCriticalIsFatal(t *testing.T) {
	c := &capture{}
	assert.To(c).For("stop").Critical().ThatSlice([]int{1}).IsEmpty()
	if len(c.fatals) != 1 || len(c.errors) != 0 {
		t.Errorf("Expected one fatal, got %v %v", c.fatals, c.errors)
	}
}

func TestErrorCause(t *testing.T) {
	c := &capture{}
	root := errors.New("root")
	wrapped := errors.Wrap(root, "outer")
	a := assert.To(c)
	a.For("cause").ThatError(wrapped).HasCause(root)
	a.For("is").ThatError(wrapped).Is(root)
	a.For("failed").ThatError(wrapped).Failed()
	a.For("message").ThatError(wrapped).HasMessage("outer: root")
	if len(c.errors) != 0 {
		t.Errorf("Unexpected failures: %v", c.errors)
	}
	a.For("cause mismatch").ThatError(wrapped).HasCause(wrapped)
	if len(c.errors) != 1 {
		t.Errorf("Expected a failure for the mismatched cause")
	}
}
