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

package soft

import "github.com/google/substate/driver"

// ReadBuffer returns a copy of the bytes of a buffer.
func (d *Driver) ReadBuffer(h driver.Handle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.Buffer, h)
	if err != nil {
		return nil, err
	}
	return d.read(driver.Buffer, h, 0, o.res.size)
}

// ReadImage returns a copy of the bytes of one image subresource.
func (d *Driver) ReadImage(h driver.Handle, mip, layer uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, err := d.imageInfo(h)
	if err != nil {
		return nil, err
	}
	return d.read(driver.Image, h, info.SubresourceOffset(mip, layer), info.SubresourceSize(mip))
}

// ReadMemory returns a copy of the bytes of a memory allocation.
func (d *Driver) ReadMemory(h driver.Handle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.DeviceMemory, h)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), o.mem.data...), nil
}

// ImageLayout returns the current layout of one image subresource.
func (d *Driver) ImageLayout(h driver.Handle, mip, layer uint32) (driver.Layout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.Image, h)
	if err != nil {
		return 0, err
	}
	info := o.info.(*driver.ImageInfo)
	return o.res.layouts[info.Subresource(mip, layer)], nil
}

// EventSet returns true if the event is set.
func (d *Driver) EventSet(h driver.Handle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.Event, h)
	if err != nil {
		return false, err
	}
	return o.set, nil
}

// SemaphoreSignaled returns true if the semaphore is signaled.
func (d *Driver) SemaphoreSignaled(h driver.Handle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.Semaphore, h)
	if err != nil {
		return false, err
	}
	return o.set, nil
}

// Query returns the status of one query.
func (d *Driver) Query(pool driver.Handle, query uint32) (QueryStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.QueryPool, pool)
	if err != nil {
		return 0, err
	}
	if int(query) >= len(o.query) {
		return 0, driver.ErrOutOfRange
	}
	return o.query[query], nil
}

// Descriptor returns the content of one descriptor set element.
func (d *Driver) Descriptor(set driver.Handle, binding, element uint32) (driver.Descriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(driver.DescriptorSet, set)
	if err != nil {
		return driver.Descriptor{}, false
	}
	desc, ok := o.writes[[2]uint32{binding, element}]
	return desc, ok
}

// Info returns the creation parameters of an object.
func (d *Driver) Info(kind driver.Kind, h driver.Handle) (driver.CreateInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.get(kind, h)
	if err != nil {
		return nil, err
	}
	return o.info, nil
}

// Count returns the number of live objects of the given kind.
func (d *Driver) Count(kind driver.Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, o := range d.objects {
		if o.kind == kind {
			n++
		}
	}
	return n
}

// Pending returns the number of submissions waiting for SignalFence.
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, o := range d.objects {
		if o.queue != nil {
			n += len(o.queue.pending)
		}
	}
	return n
}
