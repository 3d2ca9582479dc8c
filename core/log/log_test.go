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

package log_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/substate/core/log"
)

type recorder struct {
	fatal, errors, logs []string
}

func (r *recorder) Fatal(args ...interface{}) { r.fatal = append(r.fatal, args[0].(string)) }
func (r *recorder) Error(args ...interface{}) { r.errors = append(r.errors, args[0].(string)) }
func (r *recorder) Log(args ...interface{})   { r.logs = append(r.logs, args[0].(string)) }

func TestTestHandlerRoutesBySeverity(t *testing.T) {
	r := &recorder{}
	ctx := log.PutClock(log.Testing(r), log.NoClock)
	log.I(ctx, "hello %d", 1)
	log.W(ctx, "careful")
	log.E(ctx, "broken")
	if len(r.logs) != 2 || len(r.errors) != 1 || len(r.fatal) != 0 {
		t.Fatalf("unexpected routing: %+v", r)
	}
	if r.logs[0] != "I: hello 1" {
		t.Errorf("got %q", r.logs[0])
	}
}

func TestFilter(t *testing.T) {
	w, buf := log.Buffer()
	ctx := log.PutHandler(context.Background(), log.Brief.Handler(w))
	ctx = log.PutFilter(ctx, log.SeverityFilter(log.Warning))
	log.D(ctx, "dropped")
	log.I(ctx, "dropped")
	log.W(ctx, "kept")
	if got := buf.String(); got != "W: kept" {
		t.Errorf("got %q", got)
	}
}

func TestValuesTagAndTrace(t *testing.T) {
	w, buf := log.Buffer()
	ctx := log.PutHandler(context.Background(), log.Normal.Handler(w))
	ctx = log.PutClock(ctx, log.FixedClock(time.Date(2017, 1, 2, 3, 4, 5, 6e6, time.UTC)))
	ctx = log.PutTag(ctx, "restore")
	ctx = log.Enter(ctx, "content")
	ctx = log.V{"episode": 3}.Bind(ctx)
	log.I(ctx, "done")
	got := buf.String()
	for _, want := range []string{"03:04:05.006", "I:", "[restore]", "[content]", "done", "(episode: 3)"} {
		if !strings.Contains(got, want) {
			t.Errorf("%q does not contain %q", got, want)
		}
	}
}

func TestErr(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("device lost")
	err := log.Errf(ctx, cause, "Submitting episode %d", 2)
	if got := err.Error(); got != "Submitting episode 2\n   Cause: device lost" {
		t.Errorf("got %q", got)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is did not find the cause")
	}
	if got := log.Err(ctx, nil, "plain").Error(); got != "plain" {
		t.Errorf("got %q", got)
	}
}

func TestParseSeverity(t *testing.T) {
	for _, test := range []struct {
		name   string
		expect log.Severity
		ok     bool
	}{
		{"Warning", log.Warning, true},
		{"warning", log.Warning, true},
		{"debug", log.Debug, true},
		{"nope", log.Info, false},
	} {
		got, ok := log.ParseSeverity(test.name)
		if got != test.expect || ok != test.ok {
			t.Errorf("ParseSeverity(%q) = %v, %v", test.name, got, ok)
		}
	}
}
