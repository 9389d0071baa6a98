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

package pages

import (
	"github.com/pkg/errors"

	logger "github.com/intel/hpalloc/pkg/log"
)

const (
	// Shift is log2 of the allocator page size.
	Shift = 12
	// Size is the allocator page size.
	Size uintptr = 1 << Shift
)

// ErrUnsupported is returned by providers lacking a primitive.
var ErrUnsupported = errors.New("pages: operation not supported")

var log = logger.NewLogger("pages")

// Provider is the set of OS paging primitives page allocators build on.
// Map and Unmap failures mean the address space is exhausted. Purge makes
// the given range read back as zeroes and releases its backing memory.
// Hugify and Dehugify are advisory; callers tolerate their failures.
type Provider interface {
	// PageSize returns the OS page size.
	PageSize() uintptr
	// HugepageSize returns the transparent huge page size, or 0 if unknown.
	HugepageSize() uintptr
	// HugepageSupported returns true if transparent huge pages are usable.
	HugepageSupported() bool
	// Map maps size bytes of fresh address space aligned to alignment.
	Map(size, alignment uintptr) (uintptr, error)
	// Unmap releases [addr, addr+size).
	Unmap(addr, size uintptr) error
	// Purge discards the contents of [addr, addr+size).
	Purge(addr, size uintptr) error
	// Hugify requests huge page backing for [addr, addr+size).
	Hugify(addr, size uintptr) error
	// Dehugify withdraws a huge page backing request for [addr, addr+size).
	Dehugify(addr, size uintptr) error
}

// PageAlign rounds size up to a page multiple.
func PageAlign(size uintptr) uintptr {
	return (size + Size - 1) &^ (Size - 1)
}

// IsAligned returns true if addr is a multiple of alignment, a power of 2.
func IsAligned(addr, alignment uintptr) bool {
	return addr&(alignment-1) == 0
}

// AlignUp rounds addr up to a multiple of alignment, a power of 2.
func AlignUp(addr, alignment uintptr) uintptr {
	return (addr + alignment - 1) &^ (alignment - 1)
}
