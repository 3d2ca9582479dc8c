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

//go:build unix

package tracker

import (
	"runtime/debug"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pageGuard keeps the application's view in read-only anonymous memory.
// The first write to a page faults; the fault is recovered, the page's
// pristine bytes saved and the page made writable. Flush diffs only the
// pages that faulted and protects them again.
type pageGuard struct {
	target   []byte
	mem      []byte
	size     int
	pageSize int
	pristine map[int][]byte
}

func newPageGuard(target []byte) (*pageGuard, error) {
	pageSize := unix.Getpagesize()
	n := (len(target) + pageSize - 1) / pageSize * pageSize
	if n == 0 {
		n = pageSize
	}
	mem, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "Mapping page guard")
	}
	copy(mem, target)
	if err := unix.Mprotect(mem, unix.PROT_READ); err != nil {
		unix.Munmap(mem)
		return nil, errors.Wrap(err, "Protecting page guard")
	}
	return &pageGuard{
		target:   target,
		mem:      mem,
		size:     len(target),
		pageSize: pageSize,
		pristine: map[int][]byte{},
	}, nil
}

func (p *pageGuard) View() []byte { return p.mem[:p.size] }

func (p *pageGuard) Write(offset uint64, data []byte) error {
	if err := checkRange(p.size, offset, uint64(len(data))); err != nil {
		return err
	}
	for {
		page, faulted := p.tryWrite(offset, data)
		if !faulted {
			return nil
		}
		if err := p.unprotect(page); err != nil {
			return err
		}
	}
}

// tryWrite copies data into the view, returning the page of the first
// protection fault.
func (p *pageGuard) tryWrite(offset uint64, data []byte) (page int, faulted bool) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		f, ok := r.(interface{ Addr() uintptr })
		if !ok {
			panic(r)
		}
		base := uintptr(unsafe.Pointer(&p.mem[0]))
		addr := f.Addr()
		if addr < base || addr >= base+uintptr(len(p.mem)) {
			panic(r)
		}
		page, faulted = int(addr-base)/p.pageSize, true
	}()
	copy(p.mem[offset:], data)
	return 0, false
}

func (p *pageGuard) page(i int) []byte {
	return p.mem[i*p.pageSize : (i+1)*p.pageSize]
}

func (p *pageGuard) unprotect(i int) error {
	if _, ok := p.pristine[i]; ok {
		return errors.Errorf("Fault on unprotected page %d", i)
	}
	p.pristine[i] = append([]byte(nil), p.page(i)...)
	return errors.Wrap(unix.Mprotect(p.page(i), unix.PROT_READ|unix.PROT_WRITE), "Unprotecting page")
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
	for i := range p.pristine {
		if err := unix.Mprotect(p.page(i), unix.PROT_READ); err != nil {
			return offset, length, errors.Wrap(err, "Protecting page")
		}
	}
	p.pristine = map[int][]byte{}
	return offset, length, nil
}

func (p *pageGuard) Close() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return errors.Wrap(err, "Unmapping page guard")
}
