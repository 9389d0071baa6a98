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

package extent

import (
	"fmt"
	"unsafe"

	"github.com/intel/hpalloc/pkg/hpdata"
	"github.com/intel/hpalloc/pkg/pages"
)

// Source identifies the page allocator an extent came from.
type Source uint8

const (
	// SourceNone marks a descriptor that is not describing live memory.
	SourceNone Source = iota
	// SourceFallback marks extents served by the fallback page allocator.
	SourceFallback
	// SourceHPA marks extents served by a huge page aware shard.
	SourceHPA
)

// NoSizeClass is the size class index of extents without one.
const NoSizeClass = -1

// DescriptorSize is the metadata charge of a single descriptor.
const DescriptorSize = unsafe.Sizeof(Extent{})

func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceFallback:
		return "fallback"
	case SourceHPA:
		return "hpa"
	}
	return fmt.Sprintf("<unknown source %d>", s)
}

// Extent describes a contiguous, page-aligned run of virtual memory handed
// out by a page allocator.
type Extent struct {
	addr      uintptr
	size      uintptr
	source    Source
	ps        *hpdata.Pageslab
	committed bool
	zeroed    bool
	szind     int
	slab      bool
	serial    uint64
}

// Init (re)initializes the descriptor to describe [addr, addr+size).
func (e *Extent) Init(addr, size uintptr, source Source, serial uint64, zeroed, committed bool) {
	*e = Extent{
		addr:      addr,
		size:      size,
		source:    source,
		committed: committed,
		zeroed:    zeroed,
		szind:     NoSizeClass,
		serial:    serial,
	}
}

// Reset clears the descriptor.
func (e *Extent) Reset() {
	*e = Extent{szind: NoSizeClass}
}

// Addr returns the address of the extent. It may carry an in-page offset.
func (e *Extent) Addr() uintptr { return e.addr }

// SetAddr sets the address of the extent.
func (e *Extent) SetAddr(addr uintptr) { e.addr = addr }

// Base returns the page-aligned address of the extent.
func (e *Extent) Base() uintptr { return e.addr &^ (pages.Size - 1) }

// Normalize drops any in-page offset from the address.
func (e *Extent) Normalize() { e.addr = e.Base() }

// Size returns the size of the extent in bytes.
func (e *Extent) Size() uintptr { return e.size }

// SetSize sets the size of the extent.
func (e *Extent) SetSize(size uintptr) { e.size = size }

// End returns the first address past the extent.
func (e *Extent) End() uintptr { return e.Base() + e.size }

// Npages returns the number of pages spanned by the extent.
func (e *Extent) Npages() uintptr { return e.size >> pages.Shift }

func (e *Extent) Source() Source             { return e.source }
func (e *Extent) Pageslab() *hpdata.Pageslab { return e.ps }
func (e *Extent) Committed() bool            { return e.committed }
func (e *Extent) Zeroed() bool               { return e.zeroed }
func (e *Extent) SzInd() int                 { return e.szind }
func (e *Extent) Slab() bool                 { return e.slab }
func (e *Extent) Serial() uint64             { return e.serial }

func (e *Extent) SetPageslab(ps *hpdata.Pageslab) { e.ps = ps }
func (e *Extent) SetSzInd(szind int)              { e.szind = szind }
func (e *Extent) SetSlab(slab bool)               { e.slab = slab }
func (e *Extent) SetZeroed(zeroed bool)           { e.zeroed = zeroed }

func (e *Extent) String() string {
	return fmt.Sprintf("extent{%#x+%d, %s}", e.addr, e.size, e.source)
}
