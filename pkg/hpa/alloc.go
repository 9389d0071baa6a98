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
	"github.com/pkg/errors"

	"github.com/intel/hpalloc/pkg/extent"
	"github.com/intel/hpalloc/pkg/hpdata"
	"github.com/intel/hpalloc/pkg/pages"
	"github.com/intel/hpalloc/pkg/pai"
)

// allocResult is the outcome of a single allocation attempt without growing.
type allocResult int

const (
	allocOK allocResult = iota
	// no pageslab has room, growing may help
	allocNotFound
	// out of descriptors
	allocOOM
	// registering the extent failed, shard state is unchanged
	allocRegisterOOM
)

func (r allocResult) oom() bool {
	return r == allocOOM || r == allocRegisterOOM
}

// refuses returns true if size is outside what the shard serves.
func (s *Shard) refuses(size uintptr) bool {
	return size == 0 || size > s.opts.SlabMaxAlloc || !pages.IsAligned(size, pages.Size)
}

// Alloc allocates size bytes. Only page alignment is supported and memory
// is never zeroed; other requests are refused.
func (s *Shard) Alloc(size, alignment uintptr, zero bool) (*extent.Extent, error) {
	if alignment > pages.Size || zero {
		return nil, errors.Wrapf(pai.ErrRefused, "alignment %d, zero %v", alignment, zero)
	}
	if s.refuses(size) {
		return nil, errors.Wrapf(pai.ErrRefused, "size %d", size)
	}

	var buf [1]*extent.Extent
	if results := s.AllocBatch(size, 1, buf[:0]); len(results) == 1 {
		return results[0], nil
	}
	return nil, pai.ErrOOM
}

// AllocBatch appends at most nallocs extents of size bytes to results.
// Refused requests leave results untouched.
func (s *Shard) AllocBatch(size uintptr, nallocs int, results []*extent.Extent) []*extent.Extent {
	if nallocs <= 0 || s.refuses(size) {
		return results
	}

	start := len(results)
	results, res := s.allocBatchPsset(size, nallocs, results)
	if len(results)-start == nallocs || res.oom() {
		return results
	}

	s.grow.Lock()
	defer s.grow.Unlock()

	// somebody else may have grown while we weren't holding any lock
	results, res = s.allocBatchPsset(size, nallocs-(len(results)-start), results)
	if len(results)-start == nallocs || res.oom() {
		return results
	}

	ps, err := s.growLocked()
	if err != nil {
		log.Debug("failed to grow: %v", err)
		return results
	}

	s.mtx.Lock()
	s.mtx.psset.Insert(ps)
	s.unlock()

	results, _ = s.allocBatchPsset(size, nallocs-(len(results)-start), results)
	return results
}

// allocBatchPsset allocates out of existing pageslabs, then runs deferred work.
func (s *Shard) allocBatchPsset(size uintptr, nallocs int, results []*extent.Extent) ([]*extent.Extent, allocResult) {
	var (
		res      = allocOK
		nsuccess = 0
		e        *extent.Extent
	)

	s.mtx.Lock()
	defer s.unlock()

	for nsuccess < nallocs {
		if e, res = s.tryAllocOneNoGrow(size); res != allocOK {
			break
		}
		results = append(results, e)
		nsuccess++
	}

	// a failed registration with nothing allocated left no trace to act on
	if res != allocRegisterOOM || nsuccess > 0 {
		s.doDeferredWorkLocked()
	}

	return results, res
}

// tryAllocOneNoGrow allocates size bytes from an existing pageslab. The
// main lock must be held.
func (s *Shard) tryAllocOneNoGrow(size uintptr) (*extent.Extent, allocResult) {
	e := s.mtx.extents.Get()
	if e == nil {
		return nil, allocOOM
	}

	ps := s.mtx.psset.PickAlloc(int(size >> pages.Shift))
	if ps == nil {
		s.mtx.extents.Put(e)
		return nil, allocNotFound
	}

	s.mtx.psset.UpdateBegin(ps)
	if ps.Empty() {
		ps.SetAge(s.age.Add(1) - 1)
	}

	addr := ps.Reserve(size)
	s.mtx.nserial++
	e.Init(addr, size, extent.SourceHPA, s.mtx.nserial, false, true)
	e.SetPageslab(ps)

	if err := s.registry.RegisterBoundary(e); err != nil {
		log.Debug("failed to register %s: %v", e, err)
		ps.Unreserve(addr, size)
		s.updateEligibility(ps)
		s.mtx.psset.UpdateEnd(ps)
		s.mtx.extents.Put(e)
		return nil, allocRegisterOOM
	}

	s.updateEligibility(ps)
	s.mtx.psset.UpdateEnd(ps)

	return e, allocOK
}

// updateEligibility recomputes whether the pageslab may be purged or
// hugified. It must be called inside an update bracket.
func (s *Shard) updateEligibility(ps *hpdata.Pageslab) {
	if ps.ChangingState() {
		ps.SetPurgeAllowed(false)
		ps.SetHugifyAllowed(false)
		return
	}
	ps.SetPurgeAllowed(ps.Ndirty() > 0)
	ps.SetHugifyAllowed(!ps.Huge() && s.goodHugifyCandidate(ps))
}

func (s *Shard) goodHugifyCandidate(ps *hpdata.Pageslab) bool {
	return uintptr(ps.Nactive())<<pages.Shift >= s.opts.HugificationThreshold
}

// Expand is not supported.
func (s *Shard) Expand(e *extent.Extent, oldSize, newSize uintptr, zero bool) error {
	return pai.ErrUnsupported
}

// Shrink is not supported.
func (s *Shard) Shrink(e *extent.Extent, oldSize, newSize uintptr) error {
	return pai.ErrUnsupported
}
