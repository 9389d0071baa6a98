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

package hpdata

import (
	"github.com/intel/hpalloc/pkg/pages"
)

// PurgeState is a snapshot of the ranges of a pageslab to purge. It does
// not refer back to the pageslab, so it can be walked without locks.
type PurgeState struct {
	addr    uintptr
	npages  int
	next    int
	ndirty  int
	toPurge bitmap
}

// PurgeBegin snapshots the dirty pages of the pageslab and returns them
// with their count. Retained pages between two dirty ones, with no active
// page in between, are included so that fewer, larger ranges are purged.
func (ps *Pageslab) PurgeBegin() (*PurgeState, int) {
	st := &PurgeState{
		addr:    ps.addr,
		npages:  ps.npages,
		ndirty:  ps.Ndirty(),
		toPurge: newBitmap(ps.npages),
	}

	dirty := newBitmap(ps.npages)
	dirty.copyFrom(ps.touched)
	dirty.andNot(ps.active)

	for i := 0; i < ps.npages; {
		firstDirty := dirty.nextSet(i, ps.npages)
		if firstDirty == ps.npages {
			break
		}
		nextActive := ps.active.nextSet(firstDirty, ps.npages)
		lastDirty := nextActive - 1
		for !dirty.get(lastDirty) {
			lastDirty--
		}
		st.toPurge.setRange(firstDirty, lastDirty-firstDirty+1)
		i = nextActive + 1
	}

	return st, st.ndirty
}

// Next returns the next range to purge.
func (st *PurgeState) Next() (uintptr, uintptr, bool) {
	start := st.toPurge.nextSet(st.next, st.npages)
	if start == st.npages {
		st.next = st.npages
		return 0, 0, false
	}
	end := st.toPurge.nextClear(start, st.npages)
	st.next = end
	return st.addr + uintptr(start)<<pages.Shift, uintptr(end-start) << pages.Shift, true
}

// Npages returns the number of dirty pages the purge covers.
func (st *PurgeState) Npages() int {
	return st.ndirty
}

// PurgeEnd marks the purged pages untouched.
func (ps *Pageslab) PurgeEnd(st *PurgeState) {
	ps.assertMutable()
	ps.touched.andNot(st.toPurge)
	ps.ntouched = ps.touched.count()
}
