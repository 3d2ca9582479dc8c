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

package rebuild_test

import (
	"testing"

	"github.com/google/substate/core/assert"
	"github.com/google/substate/core/data/id"
	"github.com/google/substate/core/log"
	"github.com/google/substate/driver"
	"github.com/google/substate/rebuild"
)

func TestValidate(t *testing.T) {
	ctx := log.Testing(t)
	payload := []byte{1, 2, 3, 4}
	blob := id.OfBytes(payload)
	instance := &rebuild.CreateOp{ID: 1, Info: &driver.InstanceInfo{}}
	device := &rebuild.CreateOp{ID: 2, Parent: 1, Info: &driver.DeviceInfo{}}
	memory := &rebuild.CreateOp{ID: 3, Parent: 2, Info: &driver.MemoryInfo{Size: 16, HostVisible: true}}
	for _, test := range []struct {
		name   string
		ops    []rebuild.Op
		expect error
	}{
		{"ordered", []rebuild.Op{
			instance, device, memory,
			&rebuild.WriteMemoryOp{Device: 2, Memory: 3, Size: 4, Blob: blob},
		}, nil},
		{"use before create", []rebuild.Op{device, instance}, rebuild.ErrUseBeforeCreate},
		{"created twice", []rebuild.Op{instance, instance}, rebuild.ErrRedefined},
		{"use after destroy", []rebuild.Op{
			instance, device,
			&rebuild.DestroyOp{ID: 2, Parent: 1, Kind: driver.Device},
			&rebuild.CreateOp{ID: 4, Parent: 2, Info: &driver.QueueInfo{}},
		}, rebuild.ErrUseBeforeCreate},
		{"dependency before create", []rebuild.Op{
			instance, device,
			&rebuild.CreateOp{ID: 5, Parent: 2, Info: &driver.BufferViewInfo{Buffer: 6}},
		}, rebuild.ErrUseBeforeCreate},
		{"missing payload", []rebuild.Op{
			instance, device, memory,
			&rebuild.WriteMemoryOp{Device: 2, Memory: 3, Size: 4, Blob: id.OfBytes([]byte{9})},
		}, rebuild.ErrMissingBlob},
		{"payload size", []rebuild.Op{
			instance, device, memory,
			&rebuild.WriteMemoryOp{Device: 2, Memory: 3, Size: 8, Blob: blob},
		}, rebuild.ErrMissingBlob},
	} {
		p := &rebuild.Plan{Ops: test.ops, Blobs: map[id.ID][]byte{blob: payload}}
		err := p.Validate()
		if test.expect == nil {
			assert.For(ctx, test.name).ThatError(err).Succeeded()
		} else {
			assert.For(ctx, test.name).ThatError(err).Is(test.expect)
		}
	}
}

func TestErrorClass(t *testing.T) {
	ctx := log.Testing(t)
	err := &rebuild.Error{Class: rebuild.Omission, Object: 7, Kind: driver.Buffer, Cause: rebuild.ErrMissingDependency}
	assert.For(ctx, "is").ThatError(err).Is(rebuild.ErrMissingDependency)
	assert.For(ctx, "message").ThatString(err.Error()).Equals("Omission: Buffer#7: Dependency no longer exists")
	assert.For(ctx, "class").ThatString(rebuild.InvariantViolation.String()).Equals("InvariantViolation")
}
