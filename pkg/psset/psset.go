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

// Package psset implements a set of pageslabs ordered for allocation,
// purging and hugification. A set is not synchronized; its owner must
// serialize access.
package psset

import (
	"fmt"

	"github.com/google/btree"

	"github.com/intel/hpalloc/pkg/hpdata"
	logger "github.com/intel/hpalloc/pkg/log"
)

const btreeDegree = 8

var log = logger.NewLogger("psset")

// Set is a set of pageslabs.
type Set struct {
	npages            int
	dehugifyThreshold int

	all    *btree.BTreeG[*hpdata.Pageslab]
	alloc  *btree.BTreeG[*hpdata.Pageslab]
	empty  *btree.BTreeG[*hpdata.Pageslab]
	purge  *btree.BTreeG[*hpdata.Pageslab]
	hugify *btree.BTreeG[*hpdata.Pageslab]

	pivots []*hpdata.Pageslab

	stats     Stats
	nactive   int
	ndirty    int
	nretained int
}

// New creates a set of pageslabs of npages pages each. Huge pageslabs with
// fewer than dehugifyThreshold active pages are purged as eagerly as
// non-huge ones.
func New(npages, dehugifyThreshold int) *Set {
	s := &Set{
		npages:            npages,
		dehugifyThreshold: dehugifyThreshold,
		pivots:            make([]*hpdata.Pageslab, npages+1),
	}
	s.all = btree.NewG(btreeDegree, byAddr)
	s.alloc = btree.NewG(btreeDegree, byFit)
	s.empty = btree.NewG(btreeDegree, byAge)
	s.purge = btree.NewG(btreeDegree, s.byPurgePriority)
	s.hugify = btree.NewG(btreeDegree, byAge)
	return s
}

func byAddr(a, b *hpdata.Pageslab) bool {
	return a.Addr() < b.Addr()
}

func byAge(a, b *hpdata.Pageslab) bool {
	if a.Age() != b.Age() {
		return a.Age() < b.Age()
	}
	return a.Addr() < b.Addr()
}

// byFit orders by longest free range, then by age.
func byFit(a, b *hpdata.Pageslab) bool {
	if a.LongestFreeRange() != b.LongestFreeRange() {
		return a.LongestFreeRange() < b.LongestFreeRange()
	}
	return byAge(a, b)
}

// purgeClass ranks empty huge pageslabs first, then empty non-huge ones,
// then everything else.
func purgeClass(ps *hpdata.Pageslab) int {
	switch {
	case ps.Empty() && ps.Huge():
		return 0
	case ps.Empty():
		return 1
	}
	return 2
}

// purgeHuge returns true if the pageslab ranks as huge for purging.
func (s *Set) purgeHuge(ps *hpdata.Pageslab) bool {
	return ps.Huge() && ps.Nactive() >= s.dehugifyThreshold
}

func (s *Set) byPurgePriority(a, b *hpdata.Pageslab) bool {
	if ca, cb := purgeClass(a), purgeClass(b); ca != cb {
		return ca < cb
	}
	if a.Ndirty() != b.Ndirty() {
		return a.Ndirty() > b.Ndirty()
	}
	if ha, hb := s.purgeHuge(a), s.purgeHuge(b); ha != hb {
		return !ha
	}
	return byAge(a, b)
}

func (s *Set) insertContainers(ps *hpdata.Pageslab) {
	if ps.AllocAllowed() {
		if ps.Empty() {
			s.empty.ReplaceOrInsert(ps)
		} else if !ps.Full() {
			s.alloc.ReplaceOrInsert(ps)
		}
	}
	if ps.PurgeAllowed() {
		s.purge.ReplaceOrInsert(ps)
	}
	if ps.HugifyAllowed() {
		s.hugify.ReplaceOrInsert(ps)
	}
}

func (s *Set) removeContainers(ps *hpdata.Pageslab) {
	if ps.AllocAllowed() {
		if ps.Empty() {
			s.mustDelete(s.empty, ps, "empty")
		} else if !ps.Full() {
			s.mustDelete(s.alloc, ps, "alloc")
		}
	}
	if ps.PurgeAllowed() {
		s.mustDelete(s.purge, ps, "purge")
	}
	if ps.HugifyAllowed() {
		s.mustDelete(s.hugify, ps, "hugify")
	}
}

func (s *Set) mustDelete(t *btree.BTreeG[*hpdata.Pageslab], ps *hpdata.Pageslab, name string) {
	if _, ok := t.Delete(ps); !ok {
		log.Panic("%s missing from %s container", ps, name)
	}
}

// Insert adds a pageslab to the set.
func (s *Set) Insert(ps *hpdata.Pageslab) {
	if ps.InSet() {
		log.Panic("%s already in a set", ps)
	}
	ps.SetInSet(true)
	s.all.ReplaceOrInsert(ps)
	s.statsAdd(ps)
	s.insertContainers(ps)
}

// Remove removes a pageslab from the set.
func (s *Set) Remove(ps *hpdata.Pageslab) {
	if !ps.InSet() || ps.Updating() {
		log.Panic("can't remove %s (in set: %v, updating: %v)", ps, ps.InSet(), ps.Updating())
	}
	s.removeContainers(ps)
	s.statsRemove(ps)
	s.all.Delete(ps)
	ps.SetInSet(false)
}

// UpdateBegin opens an update bracket, taking the pageslab out of every
// container so that it may be mutated.
func (s *Set) UpdateBegin(ps *hpdata.Pageslab) {
	if !ps.InSet() || ps.Updating() {
		log.Panic("can't begin update of %s (in set: %v, updating: %v)",
			ps, ps.InSet(), ps.Updating())
	}
	s.removeContainers(ps)
	s.statsRemove(ps)
	ps.SetUpdating(true)
}

// UpdateEnd closes an update bracket, putting the pageslab back into the
// containers its new state qualifies for.
func (s *Set) UpdateEnd(ps *hpdata.Pageslab) {
	if !ps.Updating() {
		log.Panic("can't end update of %s: not updating", ps)
	}
	ps.SetUpdating(false)
	s.statsAdd(ps)
	s.insertContainers(ps)
}

// PickAlloc returns the pageslab to serve an allocation of npages pages,
// or nil if there is none. Among non-empty pageslabs the one with the
// smallest sufficient free range wins, the oldest one on ties. Empty
// pageslabs are used only if no non-empty one fits, the oldest one first.
func (s *Set) PickAlloc(npages int) *hpdata.Pageslab {
	if npages <= 0 || npages > s.npages {
		return nil
	}
	var found *hpdata.Pageslab
	s.alloc.AscendGreaterOrEqual(s.pivot(npages), func(ps *hpdata.Pageslab) bool {
		found = ps
		return false
	})
	if found != nil {
		return found
	}
	found, _ = s.empty.Min()
	return found
}

// pivot returns a pageslab ordered before every pageslab with a free range
// of at least npages pages.
func (s *Set) pivot(npages int) *hpdata.Pageslab {
	if s.pivots[npages] == nil {
		s.pivots[npages] = hpdata.New(0, npages, 0)
	}
	return s.pivots[npages]
}

// PickPurge returns the pageslab to purge next, or nil.
func (s *Set) PickPurge() *hpdata.Pageslab {
	ps, _ := s.purge.Min()
	return ps
}

// PickHugify returns the pageslab to hugify next, or nil.
func (s *Set) PickHugify() *hpdata.Pageslab {
	ps, _ := s.hugify.Min()
	return ps
}

// Len returns the number of pageslabs in the set.
func (s *Set) Len() int {
	return s.all.Len()
}

// ForEach calls fn for every pageslab in address order until fn returns false.
func (s *Set) ForEach(fn func(*hpdata.Pageslab) bool) {
	s.all.Ascend(fn)
}

func (s *Set) String() string {
	return fmt.Sprintf("psset{%d pageslabs, %d active, %d dirty, %d retained}",
		s.Len(), s.nactive, s.ndirty, s.nretained)
}
