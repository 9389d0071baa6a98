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

// Package base accounts for allocator metadata. Every descriptor, pageslab
// header and registry leaf the allocator creates is charged against a base
// allocator, which may carry a byte budget. Exhausting the budget is the
// metadata flavor of out-of-memory.
package base

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrOOM is returned when a metadata charge would exceed the budget.
var ErrOOM = errors.New("base: metadata budget exhausted")

// Stats is a snapshot of base allocator usage.
type Stats struct {
	Limit     uintptr
	Allocated uintptr
	Nallocs   uint64
	Nfailed   uint64
}

// Base is a metadata allocator with an optional byte budget.
type Base struct {
	sync.Mutex
	limit     uintptr
	allocated uintptr
	nallocs   uint64
	nfailed   uint64
}

// New creates a base allocator. A zero limit means unlimited.
func New(limit uintptr) *Base {
	return &Base{limit: limit}
}

// Alloc charges size bytes of metadata.
func (b *Base) Alloc(size uintptr) error {
	b.Lock()
	defer b.Unlock()

	if b.limit != 0 && (b.allocated+size > b.limit || b.allocated+size < b.allocated) {
		b.nfailed++
		return errors.Wrapf(ErrOOM, "charge of %d bytes (%d/%d in use)", size, b.allocated, b.limit)
	}
	b.allocated += size
	b.nallocs++
	return nil
}

// SetLimit changes the budget. Lowering it below current usage makes every
// further charge fail but does not reclaim anything.
func (b *Base) SetLimit(limit uintptr) {
	b.Lock()
	defer b.Unlock()
	b.limit = limit
}

// Stats returns a snapshot of usage.
func (b *Base) Stats() Stats {
	b.Lock()
	defer b.Unlock()
	return Stats{
		Limit:     b.limit,
		Allocated: b.allocated,
		Nallocs:   b.nallocs,
		Nfailed:   b.nfailed,
	}
}
