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

// Package emap maps addresses to the extents covering them.
//
// An extent is registered by its boundary pages, its first and last one.
// Slabs that need every page resolvable additionally register their
// interior. Registration needs a registry leaf for every address region
// it touches. Leaves are metadata charged against a base allocator, which
// makes boundary registration fallible.
package emap

import (
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/intel/hpalloc/pkg/base"
	"github.com/intel/hpalloc/pkg/extent"
	logger "github.com/intel/hpalloc/pkg/log"
	"github.com/intel/hpalloc/pkg/pages"
)

const (
	// LeafShift is log2 of the address span covered by a registry leaf.
	LeafShift = 21
	// LeafSize is the metadata charge of a registry leaf.
	LeafSize = (1 << (LeafShift - pages.Shift)) * 8

	btreeDegree = 16
)

// ErrOverlap is returned when registering an extent over a live one.
var ErrOverlap = errors.New("emap: overlapping registration")

var log = logger.NewLogger("emap")

type mapping struct {
	start    uintptr
	end      uintptr
	e        *extent.Extent
	szind    int
	slab     bool
	interior bool
}

// Map is an address registry.
type Map struct {
	sync.RWMutex
	base   *base.Base
	ranges *btree.BTreeG[*mapping]
	leaves map[uintptr]struct{}
}

// New creates a registry charging its leaves to the given base allocator.
func New(b *base.Base) *Map {
	return &Map{
		base: b,
		ranges: btree.NewG(btreeDegree, func(x, y *mapping) bool {
			return x.start < y.start
		}),
		leaves: make(map[uintptr]struct{}),
	}
}

// floor returns the mapping with the highest start at or below addr.
func (m *Map) floor(addr uintptr) *mapping {
	var found *mapping
	m.ranges.DescendLessOrEqual(&mapping{start: addr}, func(mp *mapping) bool {
		found = mp
		return false
	})
	return found
}

// covering returns the mapping containing addr.
func (m *Map) covering(addr uintptr) *mapping {
	if mp := m.floor(addr); mp != nil && addr < mp.end {
		return mp
	}
	return nil
}

func (m *Map) exact(e *extent.Extent) *mapping {
	mp, ok := m.ranges.Get(&mapping{start: e.Base()})
	if !ok || mp.e != e {
		log.Panic("%s is not registered", e)
	}
	return mp
}

// ensureLeaf makes sure a leaf covering addr exists.
func (m *Map) ensureLeaf(addr uintptr) error {
	leaf := addr >> LeafShift
	if _, ok := m.leaves[leaf]; ok {
		return nil
	}
	if err := m.base.Alloc(LeafSize); err != nil {
		return errors.Wrapf(err, "failed to allocate registry leaf for %#x", addr)
	}
	m.leaves[leaf] = struct{}{}
	return nil
}

// RegisterBoundary registers e. It fails, with nothing registered, if e
// overlaps a registered extent or a registry leaf can't be allocated.
// Leaves allocated before a failure are kept for later registrations.
func (m *Map) RegisterBoundary(e *extent.Extent) error {
	start, end := e.Base(), e.Base()+e.Size()
	if end <= start {
		return errors.Errorf("emap: can't register empty %s", e)
	}

	m.Lock()
	defer m.Unlock()

	if mp := m.floor(end - 1); mp != nil && mp.end > start {
		return errors.Wrapf(ErrOverlap, "%s overlaps %s", e, mp.e)
	}
	if err := m.ensureLeaf(start); err != nil {
		return err
	}
	if err := m.ensureLeaf(end - 1); err != nil {
		return err
	}

	m.ranges.ReplaceOrInsert(&mapping{
		start: start,
		end:   end,
		e:     e,
		szind: extent.NoSizeClass,
	})

	if log.DebugEnabled() {
		log.Debug("registered %s", e)
	}

	return nil
}

// DeregisterBoundary removes the registration of e.
func (m *Map) DeregisterBoundary(e *extent.Extent) {
	m.Lock()
	defer m.Unlock()
	m.ranges.Delete(m.exact(e))
}

// RegisterInterior makes every page of e resolvable and tags it with szind.
func (m *Map) RegisterInterior(e *extent.Extent, szind int) {
	m.Lock()
	defer m.Unlock()
	mp := m.exact(e)
	mp.interior = true
	mp.szind = szind
}

// DeregisterInterior makes the interior pages of e unresolvable.
func (m *Map) DeregisterInterior(e *extent.Extent) {
	m.Lock()
	defer m.Unlock()
	m.exact(e).interior = false
}

// Remap updates the size class and slab tags of e.
func (m *Map) Remap(e *extent.Extent, szind int, slab bool) {
	m.Lock()
	defer m.Unlock()
	mp := m.exact(e)
	mp.szind = szind
	mp.slab = slab
}

// Lookup returns the extent covering addr. Interior pages resolve only for
// extents with a registered interior.
func (m *Map) Lookup(addr uintptr) (*extent.Extent, bool) {
	mp, ok := m.lookup(addr)
	if !ok {
		return nil, false
	}
	return mp.e, true
}

// LookupTags returns the size class and slab tags of the extent covering addr.
func (m *Map) LookupTags(addr uintptr) (int, bool, bool) {
	mp, ok := m.lookup(addr)
	if !ok {
		return extent.NoSizeClass, false, false
	}
	return mp.szind, mp.slab, true
}

func (m *Map) lookup(addr uintptr) (mapping, bool) {
	m.RLock()
	defer m.RUnlock()

	mp := m.covering(addr)
	if mp == nil {
		return mapping{}, false
	}
	page := addr &^ (pages.Size - 1)
	if !mp.interior && page != mp.start && page != mp.end-pages.Size {
		return mapping{}, false
	}
	return *mp, true
}

// Len returns the number of registered extents.
func (m *Map) Len() int {
	m.RLock()
	defer m.RUnlock()
	return m.ranges.Len()
}

// Leaves returns the number of registry leaves allocated.
func (m *Map) Leaves() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.leaves)
}

// ForEach calls fn with every registered extent in address order until fn
// returns false.
func (m *Map) ForEach(fn func(*extent.Extent) bool) {
	m.RLock()
	defer m.RUnlock()
	m.ranges.Ascend(func(mp *mapping) bool {
		return fn(mp.e)
	})
}
