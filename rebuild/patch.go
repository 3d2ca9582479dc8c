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

package rebuild

import (
	"encoding/binary"
	"sort"

	"github.com/google/substate/driver"
	"github.com/google/substate/tracker"
)

// ScanAddresses returns the offsets, relative to base, of every 8-byte
// aligned little-endian value of data that lies inside one of ranges,
// together with the ranges that were hit, sorted by OldBase. base is the
// offset of data in its buffer and ranges must be sorted by OldBase and
// must not overlap.
func ScanAddresses(data []byte, base uint64, ranges []Patch) (locations []uint64, used []Patch) {
	hit := make([]bool, len(ranges))
	for i := (8 - base%8) % 8; i+8 <= uint64(len(data)); i += 8 {
		v := binary.LittleEndian.Uint64(data[i:])
		j := sort.Search(len(ranges), func(j int) bool { return ranges[j].OldBase > v }) - 1
		if j < 0 || v >= ranges[j].OldBase+ranges[j].Size {
			continue
		}
		locations = append(locations, base+i)
		hit[j] = true
	}
	for j, h := range hit {
		if h {
			used = append(used, ranges[j])
		}
	}
	return locations, used
}

// addressRanges returns the device address ranges of the recreated buffers
// and acceleration structures of device, sorted by address.
func (b *builder) addressRanges(device tracker.ID) []Patch {
	var out []Patch
	for _, rec := range b.reg.Live(driver.Buffer) {
		st := rec.State.(*tracker.BufferState)
		if rec.Parent == device && b.created[rec.ID] && st.Address != 0 {
			out = append(out, Patch{OldBase: st.Address, Size: st.Size, Resource: rec.ID, Kind: driver.Buffer})
		}
	}
	for _, rec := range b.reg.Live(driver.AccelerationStructure) {
		st := rec.State.(*tracker.AccelerationStructureState)
		if rec.Parent == device && b.created[rec.ID] && st.Address != 0 {
			out = append(out, Patch{OldBase: st.Address, Size: st.Size, Resource: rec.ID, Kind: driver.AccelerationStructure})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OldBase < out[j].OldBase })
	return out
}

// patchAddresses rewrites the device addresses held in the restored
// contents of address tables and device-address buffers, since the
// recreated objects get new addresses.
func (b *builder) patchAddresses() error {
	ranges := map[tracker.ID][]Patch{}
	for _, id := range sortedKeys(b.restored) {
		rec := b.reg.Get(id)
		st := rec.State.(*tracker.BufferState)
		if !st.AddressTable && st.Usage&driver.BufferUsageDeviceAddress == 0 {
			continue
		}
		device := rec.Parent
		if _, ok := ranges[device]; !ok {
			ranges[device] = b.addressRanges(device)
		}
		var locations []uint64
		used := map[tracker.ID]Patch{}
		for _, c := range b.restored[id] {
			l, u := ScanAddresses(c.data, c.offset, ranges[device])
			locations = append(locations, l...)
			for _, p := range u {
				used[p.Resource] = p
			}
		}
		if len(locations) == 0 {
			continue
		}
		sort.Slice(locations, func(i, j int) bool { return locations[i] < locations[j] })
		table := make([]Patch, 0, len(used))
		for _, p := range used {
			table = append(table, p)
		}
		sort.Slice(table, func(i, j int) bool { return table[i].OldBase < table[j].OldBase })
		q := b.queueFor(device, false)
		if q == nil {
			if err := b.report(omission(rec, ErrNoQueue)); err != nil {
				return err
			}
			continue
		}
		b.plan.add(&PatchAddressesOp{
			Device:    device,
			Queue:     q.ID,
			Pool:      b.commandPool(device, q),
			Target:    id,
			Locations: locations,
			Table:     table,
		})
	}
	return nil
}
