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

package tracker

import (
	"github.com/google/substate/config"
	"github.com/pkg/errors"
)

// DirtyTracker detects the bytes of a mapping that the application changed
// and forwards them to the driver's view of the mapping, the target.
//
// All implementations report the same range for the same writes.
type DirtyTracker interface {
	// View returns the application's view of the mapping. Page protected
	// views only see stores made with Write. On unix the view is read-only
	// and a direct store faults; elsewhere a direct store is missed.
	View() []byte
	// Write writes data to the application's view at offset.
	Write(offset uint64, data []byte) error
	// Read returns a copy of size bytes of the application's view at offset.
	Read(offset, size uint64) ([]byte, error)
	// Flush copies the bytes changed since the last flush to the target and
	// returns the smallest range that holds all of them. length is 0 if
	// nothing changed.
	Flush() (offset, length uint64, err error)
	// Close releases the tracker. Unflushed changes are lost.
	Close() error
}

// NewDirtyTracker returns a tracker for the mapping target using strategy.
func NewDirtyTracker(strategy config.DirtyStrategy, target []byte) (DirtyTracker, error) {
	switch strategy {
	case config.PageProtect:
		return newPageGuard(target)
	case config.ShadowCopy:
		return &shadowCopy{target: target, shadow: append([]byte(nil), target...)}, nil
	case config.SegmentDiff:
		return &segmentDiff{target: target, snapshot: append([]byte(nil), target...)}, nil
	}
	return nil, errors.Wrapf(config.ErrInvalid, "dirty tracking strategy %q", strategy)
}

// diff returns the smallest range outside of which a and b are equal.
func diff(a, b []byte) (offset, length uint64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	if i == n {
		return 0, 0
	}
	j := n
	for j > i && a[j-1] == b[j-1] {
		j--
	}
	return uint64(i), uint64(j - i)
}

func checkRange(size int, offset, length uint64) error {
	if offset > uint64(size) || length > uint64(size)-offset {
		return errors.Wrapf(ErrOutOfRange, "[%d, %d) of %d bytes", offset, offset+length, size)
	}
	return nil
}

// shadowCopy gives the application a second buffer and diffs it against
// the target on flush.
type shadowCopy struct {
	target []byte
	shadow []byte
}

func (s *shadowCopy) View() []byte { return s.shadow }

func (s *shadowCopy) Write(offset uint64, data []byte) error {
	if err := checkRange(len(s.shadow), offset, uint64(len(data))); err != nil {
		return err
	}
	copy(s.shadow[offset:], data)
	return nil
}

func (s *shadowCopy) Read(offset, size uint64) ([]byte, error) {
	if err := checkRange(len(s.shadow), offset, size); err != nil {
		return nil, err
	}
	return append([]byte(nil), s.shadow[offset:offset+size]...), nil
}

func (s *shadowCopy) Flush() (uint64, uint64, error) {
	offset, length := diff(s.shadow, s.target)
	copy(s.target[offset:offset+length], s.shadow[offset:])
	return offset, length, nil
}

func (s *shadowCopy) Close() error {
	s.shadow = nil
	return nil
}

// segmentDiff lets the application write the target directly and compares
// it against a retained snapshot on flush.
type segmentDiff struct {
	target   []byte
	snapshot []byte
}

func (s *segmentDiff) View() []byte { return s.target }

func (s *segmentDiff) Write(offset uint64, data []byte) error {
	if err := checkRange(len(s.target), offset, uint64(len(data))); err != nil {
		return err
	}
	copy(s.target[offset:], data)
	return nil
}

func (s *segmentDiff) Read(offset, size uint64) ([]byte, error) {
	if err := checkRange(len(s.target), offset, size); err != nil {
		return nil, err
	}
	return append([]byte(nil), s.target[offset:offset+size]...), nil
}

func (s *segmentDiff) Flush() (uint64, uint64, error) {
	offset, length := diff(s.target, s.snapshot)
	copy(s.snapshot[offset:offset+length], s.target[offset:])
	return offset, length, nil
}

func (s *segmentDiff) Close() error {
	s.snapshot = nil
	return nil
}

// pageDiff merges the changes of every dirty page against its pristine copy
// into a single range.
func pageDiff(mem []byte, size, pageSize int, pristine map[int][]byte) (offset, length uint64) {
	lo, hi := uint64(size), uint64(0)
	for page, orig := range pristine {
		start := page * pageSize
		end := start + pageSize
		if end > size {
			end = size
		}
		if start >= end {
			continue
		}
		o, l := diff(mem[start:end], orig)
		if l == 0 {
			continue
		}
		if s := uint64(start) + o; s < lo {
			lo = s
		}
		if e := uint64(start) + o + l; e > hi {
			hi = e
		}
	}
	if hi <= lo {
		return 0, 0
	}
	return lo, hi - lo
}
