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

//go:build !unix

package tracker

// pageGuard tracks dirty pages in software where memory protection is not
// available. Pages are marked and their pristine bytes saved on the first
// Write that touches them.
type pageGuard struct {
	target   []byte
	mem      []byte
	size     int
	pageSize int
	pristine map[int][]byte
}

const softPageSize = 4096

func newPageGuard(target []byte) (*pageGuard, error) {
	n := (len(target) + softPageSize - 1) / softPageSize * softPageSize
	mem := make([]byte, n)
	copy(mem, target)
	return &pageGuard{
		target:   target,
		mem:      mem,
		size:     len(target),
		pageSize: softPageSize,
		pristine: map[int][]byte{},
	}, nil
}

func (p *pageGuard) View() []byte { return p.mem[:p.size] }

func (p *pageGuard) Write(offset uint64, data []byte) error {
	if err := checkRange(p.size, offset, uint64(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	first := int(offset) / p.pageSize
	last := (int(offset) + len(data) - 1) / p.pageSize
	for i := first; i <= last; i++ {
		if _, ok := p.pristine[i]; !ok {
			p.pristine[i] = append([]byte(nil), p.mem[i*p.pageSize:(i+1)*p.pageSize]...)
		}
	}
	copy(p.mem[offset:], data)
	return nil
}

func (p *pageGuard) Read(offset, size uint64) ([]byte, error) {
	if err := checkRange(p.size, offset, size); err != nil {
		return nil, err
	}
	return append([]byte(nil), p.mem[offset:offset+size]...), nil
}

func (p *pageGuard) Flush() (uint64, uint64, error) {
	offset, length := pageDiff(p.mem, p.size, p.pageSize, p.pristine)
	copy(p.target[offset:offset+length], p.mem[offset:])
	p.pristine = map[int][]byte{}
	return offset, length, nil
}

func (p *pageGuard) Close() error {
	p.mem = nil
	return nil
}
