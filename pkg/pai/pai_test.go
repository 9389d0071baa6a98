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

package pai

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/hpalloc/pkg/extent"
	"github.com/intel/hpalloc/pkg/pages"
)

// countingPai hands out a limited number of synthetic extents.
type countingPai struct {
	next   uintptr
	limit  int
	live   map[*extent.Extent]struct{}
	nfreed int
}

func newCountingPai(limit int) *countingPai {
	return &countingPai{
		next:  1 << 40,
		limit: limit,
		live:  make(map[*extent.Extent]struct{}),
	}
}

func (p *countingPai) Alloc(size, alignment uintptr, zero bool) (*extent.Extent, error) {
	if len(p.live) == p.limit {
		return nil, ErrOOM
	}
	e := &extent.Extent{}
	e.Init(p.next, size, SourceFallback, 0, zero, true)
	p.next += size
	p.live[e] = struct{}{}
	return e, nil
}

func (p *countingPai) AllocBatch(size uintptr, nallocs int, results []*extent.Extent) []*extent.Extent {
	return AllocBatchDefault(p, size, nallocs, results)
}

func (p *countingPai) Expand(e *extent.Extent, oldSize, newSize uintptr, zero bool) error {
	return ErrUnsupported
}

func (p *countingPai) Shrink(e *extent.Extent, oldSize, newSize uintptr) error {
	return ErrUnsupported
}

func (p *countingPai) Dalloc(e *extent.Extent) {
	delete(p.live, e)
	p.nfreed++
}

func (p *countingPai) DallocBatch(list *[]*extent.Extent) {
	DallocBatchDefault(p, list)
}

func TestBatchDefaults(t *testing.T) {
	tcases := []struct {
		name     string
		limit    int
		nallocs  int
		expected int
	}{
		{name: "all", limit: 10, nallocs: 4, expected: 4},
		{name: "short", limit: 3, nallocs: 4, expected: 3},
		{name: "none", limit: 0, nallocs: 4, expected: 0},
		{name: "nothing requested", limit: 10, nallocs: 0, expected: 0},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var p Interface = newCountingPai(tc.limit)
			prefix := &extent.Extent{}

			results := p.AllocBatch(2*pages.Size, tc.nallocs, []*extent.Extent{prefix})
			require.Len(t, results, tc.expected+1)
			require.Same(t, prefix, results[0])
			for _, e := range results[1:] {
				require.Equal(t, 2*pages.Size, e.Size())
				require.Equal(t, SourceFallback, e.Source())
			}

			batch := results[1:]
			p.DallocBatch(&batch)
			require.Empty(t, batch)
			require.Equal(t, tc.expected, p.(*countingPai).nfreed)
			require.Empty(t, p.(*countingPai).live)
		})
	}
}
