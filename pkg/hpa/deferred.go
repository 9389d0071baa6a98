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

package hpa

import (
	"math"

	"github.com/intel/hpalloc/pkg/fxp"
)

// DoDeferredWork runs a pass of deferred work, for callers that want to
// purge and hugify without allocating, like a background ticker.
func (s *Shard) DoDeferredWork() {
	s.mtx.Lock()
	s.doDeferredWorkLocked()
	s.unlock()
}

// doDeferredWorkLocked hugifies and purges until neither makes progress,
// for at most MaxDeferredOps rounds. The main lock must be held; it is
// released and reacquired around OS calls.
func (s *Shard) doDeferredWorkLocked() {
	for i := 0; i < MaxDeferredOps; i++ {
		hugified := s.tryHugify()
		purged := false
		if s.shouldPurge() {
			purged = s.tryPurge()
		}
		if !hugified && !purged {
			return
		}
	}
}

// adjustedNdirty returns the number of dirty pages not already being purged.
func (s *Shard) adjustedNdirty() int {
	return s.mtx.psset.Ndirty() - s.mtx.npendingPurge
}

// ndirtyMax returns the number of dirty pages we tolerate.
func (s *Shard) ndirtyMax() int {
	if s.opts.DirtyMult == fxp.Disabled {
		return math.MaxInt
	}
	return int(s.opts.DirtyMult.MulFrac(uint64(s.mtx.psset.Nactive())))
}

// hugifyBlockedByNdirty returns true if hugifying the best candidate would
// take us over the dirty page limit, since all of its untouched pages
// become touched.
func (s *Shard) hugifyBlockedByNdirty() bool {
	ps := s.mtx.psset.PickHugify()
	if ps == nil {
		return false
	}
	return s.adjustedNdirty()+ps.Nretained() > s.ndirtyMax()
}

func (s *Shard) shouldPurge() bool {
	if s.adjustedNdirty() > s.ndirtyMax() {
		return true
	}
	return s.hugifyBlockedByNdirty()
}

// tryHugify hugifies the best candidate pageslab, if there is one and the
// dirty page limit allows it.
func (s *Shard) tryHugify() bool {
	if s.hugifyBlockedByNdirty() {
		return false
	}
	ps := s.mtx.psset.PickHugify()
	if ps == nil {
		return false
	}

	s.mtx.psset.UpdateBegin(ps)
	ps.SetMidHugify(true)
	s.updateEligibility(ps)
	s.mtx.psset.UpdateEnd(ps)

	s.mtx.Unlock()
	// There is nothing to do about a failure here. The pageslab is marked
	// huge anyway and the failure only shows up in statistics.
	err := s.pages.Hugify(ps.Addr(), s.hugepage)
	s.mtx.Lock()

	s.mtx.stats.Nhugifies++
	if err != nil {
		s.mtx.stats.NhugifyFailures++
		s.warn.Warn("failed to hugify pageslab: %v", err)
	}

	s.mtx.psset.UpdateBegin(ps)
	ps.Hugify()
	ps.SetMidHugify(false)
	s.updateEligibility(ps)
	s.mtx.psset.UpdateEnd(ps)

	s.mtx.events = append(s.mtx.events, &HugifyEvent{Addr: ps.Addr(), Err: err})

	return true
}

// tryPurge purges the best candidate pageslab, if there is one.
func (s *Shard) tryPurge() bool {
	ps := s.mtx.psset.PickPurge()
	if ps == nil {
		return false
	}

	s.mtx.psset.UpdateBegin(ps)
	ps.SetMidPurge(true)
	// Allocating from a pageslab being purged could hand out memory that
	// is then purged from under its owner.
	ps.SetAllocAllowed(false)
	s.updateEligibility(ps)
	dehugify := ps.Huge()
	st, npurge := ps.PurgeBegin()
	s.mtx.psset.UpdateEnd(ps)

	s.mtx.npendingPurge += npurge

	s.mtx.Unlock()
	if dehugify {
		if err := s.pages.Dehugify(ps.Addr(), s.hugepage); err != nil {
			s.warn.Warn("failed to dehugify pageslab: %v", err)
		}
	}
	nranges := 0
	for addr, size, ok := st.Next(); ok; addr, size, ok = st.Next() {
		if err := s.pages.Purge(addr, size); err != nil {
			s.warn.Warn("failed to purge pages: %v", err)
		}
		nranges++
	}
	s.mtx.Lock()

	s.mtx.npendingPurge -= npurge
	s.mtx.stats.NpurgePasses++
	s.mtx.stats.Npurges += uint64(nranges)
	if dehugify {
		s.mtx.stats.Ndehugifies++
	}

	s.mtx.psset.UpdateBegin(ps)
	if dehugify {
		ps.Dehugify()
	}
	ps.PurgeEnd(st)
	ps.SetMidPurge(false)
	ps.SetAllocAllowed(true)
	s.updateEligibility(ps)
	s.mtx.psset.UpdateEnd(ps)

	s.mtx.events = append(s.mtx.events, &PurgeEvent{
		Addr:       ps.Addr(),
		Npages:     npurge,
		Nranges:    nranges,
		Dehugified: dehugify,
	})

	return true
}
