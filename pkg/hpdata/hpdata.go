// Copyright 2024 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hpdata tracks the state of a pageslab, a hugepage-sized and
// hugepage-aligned region carved into pages.
//
// Every page of a pageslab is either active (handed out), dirty (touched
// since the last purge but not active), or retained (untouched, no backing
// memory). A pageslab also carries the flags the huge page aware allocator
// uses to decide which pageslabs may serve allocations, be purged or be
// hugified, and the flags marking an OS operation in flight.
//
// While a pageslab is in a set, it may only be mutated inside an update
// bracket of that set. Violations are logic errors and panic.
package hpdata

import (
	"fmt"
	"unsafe"

	"github.com/intel/hpalloc/pkg/pages"
)

// MetadataSize is the metadata charge of a single pageslab.
const MetadataSize = unsafe.Sizeof(Pageslab{})

// Pageslab is the metadata of a single pageslab.
type Pageslab struct {
	addr   uintptr
	npages int
	age    uint64

	huge          bool
	allocAllowed  bool
	purgeAllowed  bool
	hugifyAllowed bool
	midPurge      bool
	midHugify     bool

	inSet    bool
	updating bool

	nactive     int
	ntouched    int
	longestFree int
	active      bitmap
	touched     bitmap
}

// New creates metadata for an empty, fully retained pageslab.
func New(addr uintptr, npages int, age uint64) *Pageslab {
	return &Pageslab{
		addr:         addr,
		npages:       npages,
		age:          age,
		allocAllowed: true,
		longestFree:  npages,
		active:       newBitmap(npages),
		touched:      newBitmap(npages),
	}
}

func (ps *Pageslab) String() string {
	return fmt.Sprintf("pageslab %#x (age %d, %d active, %d dirty, huge: %v)",
		ps.addr, ps.age, ps.nactive, ps.Ndirty(), ps.huge)
}

func (ps *Pageslab) assertMutable() {
	if ps.inSet && !ps.updating {
		panic(fmt.Sprintf("%s mutated outside of an update", ps))
	}
}

// Addr returns the base address of the pageslab.
func (ps *Pageslab) Addr() uintptr { return ps.addr }

// Npages returns the number of pages in the pageslab.
func (ps *Pageslab) Npages() int { return ps.npages }

// Age returns the age stamp of the pageslab. Lower is older.
func (ps *Pageslab) Age() uint64 { return ps.age }

// SetAge restamps the pageslab.
func (ps *Pageslab) SetAge(age uint64) {
	ps.assertMutable()
	ps.age = age
}

func (ps *Pageslab) Nactive() int          { return ps.nactive }
func (ps *Pageslab) Ntouched() int         { return ps.ntouched }
func (ps *Pageslab) Ndirty() int           { return ps.ntouched - ps.nactive }
func (ps *Pageslab) Nretained() int        { return ps.npages - ps.ntouched }
func (ps *Pageslab) LongestFreeRange() int { return ps.longestFree }
func (ps *Pageslab) Empty() bool           { return ps.nactive == 0 }
func (ps *Pageslab) Full() bool            { return ps.nactive == ps.npages }
func (ps *Pageslab) Huge() bool            { return ps.huge }

func (ps *Pageslab) AllocAllowed() bool  { return ps.allocAllowed }
func (ps *Pageslab) PurgeAllowed() bool  { return ps.purgeAllowed }
func (ps *Pageslab) HugifyAllowed() bool { return ps.hugifyAllowed }
func (ps *Pageslab) MidPurge() bool      { return ps.midPurge }
func (ps *Pageslab) MidHugify() bool     { return ps.midHugify }

// ChangingState returns true while an OS operation is in flight on the pageslab.
func (ps *Pageslab) ChangingState() bool { return ps.midPurge || ps.midHugify }

func (ps *Pageslab) SetAllocAllowed(v bool) {
	ps.assertMutable()
	ps.allocAllowed = v
}

func (ps *Pageslab) SetPurgeAllowed(v bool) {
	ps.assertMutable()
	ps.purgeAllowed = v
}

func (ps *Pageslab) SetHugifyAllowed(v bool) {
	ps.assertMutable()
	ps.hugifyAllowed = v
}

func (ps *Pageslab) SetMidPurge(v bool) {
	ps.assertMutable()
	ps.midPurge = v
}

func (ps *Pageslab) SetMidHugify(v bool) {
	ps.assertMutable()
	ps.midHugify = v
}

// InSet returns true if the pageslab is in a set.
func (ps *Pageslab) InSet() bool { return ps.inSet }

// Updating returns true inside an update bracket.
func (ps *Pageslab) Updating() bool { return ps.updating }

// SetInSet and SetUpdating are for pageslab sets to track membership.
func (ps *Pageslab) SetInSet(v bool)    { ps.inSet = v }
func (ps *Pageslab) SetUpdating(v bool) { ps.updating = v }

// Reserve marks the first free run of size bytes active and returns its
// address. The caller must have checked LongestFreeRange.
func (ps *Pageslab) Reserve(size uintptr) uintptr {
	ps.assertMutable()

	n := int(size >> pages.Shift)
	if n == 0 || n > ps.longestFree {
		panic(fmt.Sprintf("%s: can't reserve %d pages, longest free range %d",
			ps, n, ps.longestFree))
	}

	start := -1
	for i := 0; i < ps.npages; {
		free := ps.active.nextClear(i, ps.npages)
		used := ps.active.nextSet(free, ps.npages)
		if used-free >= n {
			start = free
			break
		}
		i = used
	}
	if start < 0 {
		panic(fmt.Sprintf("%s: longest free range out of sync", ps))
	}

	ps.active.setRange(start, n)
	ps.nactive += n
	ps.ntouched += n - ps.touched.countRange(start, n)
	ps.touched.setRange(start, n)
	ps.longestFree = ps.computeLongestFree()

	return ps.addr + uintptr(start)<<pages.Shift
}

// Unreserve marks [addr, addr+size) inactive. The pages stay touched.
func (ps *Pageslab) Unreserve(addr, size uintptr) {
	ps.assertMutable()

	start := int((addr - ps.addr) >> pages.Shift)
	n := int(size >> pages.Shift)
	if addr < ps.addr || start+n > ps.npages || ps.active.countRange(start, n) != n {
		panic(fmt.Sprintf("%s: bad unreserve of %#x+%d", ps, addr, size))
	}

	ps.active.clearRange(start, n)
	ps.nactive -= n
	ps.longestFree = ps.computeLongestFree()
}

func (ps *Pageslab) computeLongestFree() int {
	longest := 0
	for i := 0; i < ps.npages; {
		free := ps.active.nextClear(i, ps.npages)
		used := ps.active.nextSet(free, ps.npages)
		if used-free > longest {
			longest = used - free
		}
		i = used
	}
	return longest
}

// Hugify marks the pageslab as backed by a huge page. Every page of it now
// has backing memory, so every page counts as touched.
func (ps *Pageslab) Hugify() {
	ps.assertMutable()
	ps.huge = true
	ps.touched.fill(ps.npages)
	ps.ntouched = ps.npages
}

// Dehugify marks the pageslab as no longer backed by a huge page.
func (ps *Pageslab) Dehugify() {
	ps.assertMutable()
	ps.huge = false
}

// Consistent checks internal invariants of the pageslab.
func (ps *Pageslab) Consistent() error {
	if n := ps.active.count(); n != ps.nactive {
		return fmt.Errorf("%s: %d active pages in bitmap", ps, n)
	}
	if n := ps.touched.count(); n != ps.ntouched {
		return fmt.Errorf("%s: %d touched pages in bitmap", ps, n)
	}
	for i := 0; i < ps.npages; i++ {
		if ps.active.get(i) && !ps.touched.get(i) {
			return fmt.Errorf("%s: page %d active but untouched", ps, i)
		}
	}
	if n := ps.computeLongestFree(); n != ps.longestFree {
		return fmt.Errorf("%s: longest free range %d, cached %d", ps, n, ps.longestFree)
	}
	if ps.midPurge && ps.allocAllowed {
		return fmt.Errorf("%s: allocation allowed while purging", ps)
	}
	if ps.ChangingState() && (ps.purgeAllowed || ps.hugifyAllowed) {
		return fmt.Errorf("%s: eligible for deferred work while changing state", ps)
	}
	return nil
}
