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
	"github.com/intel/hpalloc/pkg/extent"
)

// Dalloc releases an extent allocated from the shard.
func (s *Shard) Dalloc(e *extent.Extent) {
	list := []*extent.Extent{e}
	s.DallocBatch(&list)
}

// DallocBatch releases every extent in *list and empties it.
func (s *Shard) DallocBatch(list *[]*extent.Extent) {
	if len(*list) == 0 {
		return
	}

	// no other thread may touch a live extent, so this needs no lock
	for _, e := range *list {
		s.dallocPrepare(e)
	}

	s.mtx.Lock()
	for i, e := range *list {
		s.dallocLocked(e)
		(*list)[i] = nil
	}
	s.doDeferredWorkLocked()
	s.unlock()

	*list = (*list)[:0]
}

func (s *Shard) dallocPrepare(e *extent.Extent) {
	if e.Source() != extent.SourceHPA || e.Pageslab() == nil {
		log.Panic("can't free %s: not allocated by this shard", e)
	}
	e.Normalize()
	s.registry.DeregisterBoundary(e)
}

func (s *Shard) dallocLocked(e *extent.Extent) {
	ps, addr, size := e.Pageslab(), e.Addr(), e.Size()
	s.mtx.extents.Put(e)

	s.mtx.psset.UpdateBegin(ps)
	ps.Unreserve(addr, size)
	s.updateEligibility(ps)
	s.mtx.psset.UpdateEnd(ps)
}
