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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/hpalloc/pkg/pages"
)

const (
	testAddr   = uintptr(0x40000000)
	testNpages = 16
	pg         = pages.Size
)

type purgeRange struct {
	addr, size uintptr
}

func purgeAll(t *testing.T, ps *Pageslab) []purgeRange {
	st, n := ps.PurgeBegin()
	require.Equal(t, ps.Ndirty(), n)
	ranges := []purgeRange{}
	for {
		addr, size, ok := st.Next()
		if !ok {
			break
		}
		ranges = append(ranges, purgeRange{addr, size})
	}
	ps.PurgeEnd(st)
	require.Equal(t, 0, ps.Ndirty())
	require.NoError(t, ps.Consistent())
	return ranges
}

func TestReserveFirstFit(t *testing.T) {
	ps := New(testAddr, testNpages, 0)
	require.True(t, ps.Empty())
	require.Equal(t, testNpages, ps.LongestFreeRange())
	require.Equal(t, testNpages, ps.Nretained())

	a := ps.Reserve(4 * pg)
	b := ps.Reserve(2 * pg)
	c := ps.Reserve(4 * pg)
	require.Equal(t, testAddr, a)
	require.Equal(t, testAddr+4*pg, b)
	require.Equal(t, testAddr+6*pg, c)
	require.Equal(t, 10, ps.Nactive())
	require.Equal(t, 6, ps.LongestFreeRange())

	ps.Unreserve(a, 4*pg)
	require.Equal(t, 6, ps.Nactive())
	require.Equal(t, 4, ps.Ndirty())
	require.Equal(t, 6, ps.Nretained())

	// the freed hole is found first when it is large enough
	d := ps.Reserve(3 * pg)
	require.Equal(t, testAddr, d)
	// ...and skipped when it is not
	e := ps.Reserve(2 * pg)
	require.Equal(t, testAddr+10*pg, e)
	require.Equal(t, 1, ps.Ndirty())
	require.NoError(t, ps.Consistent())
}

func TestFullAndPanics(t *testing.T) {
	ps := New(testAddr, testNpages, 0)
	ps.Reserve(testNpages * pg)
	require.True(t, ps.Full())
	require.Equal(t, 0, ps.LongestFreeRange())
	require.Panics(t, func() { ps.Reserve(pg) })
	require.Panics(t, func() { ps.Unreserve(testAddr+testNpages*pg, pg) })

	ps.Unreserve(testAddr+pg, pg)
	require.Panics(t, func() { ps.Unreserve(testAddr+pg, pg) }, "double unreserve")
}

func TestMutationOutsideUpdate(t *testing.T) {
	ps := New(testAddr, testNpages, 0)
	ps.SetInSet(true)
	require.Panics(t, func() { ps.Reserve(pg) })
	require.Panics(t, func() { ps.SetPurgeAllowed(true) })

	ps.SetUpdating(true)
	require.NotPanics(t, func() { ps.Reserve(pg) })
	ps.SetUpdating(false)
	ps.SetInSet(false)
	require.NotPanics(t, func() { ps.SetAge(42) })
	require.Equal(t, uint64(42), ps.Age())
}

func TestPurgeRanges(t *testing.T) {
	ps := New(testAddr, testNpages, 0)
	a := ps.Reserve(4 * pg)
	ps.Reserve(2 * pg)
	c := ps.Reserve(4 * pg)
	ps.Unreserve(a, 4*pg)
	ps.Unreserve(c, 4*pg)
	require.Equal(t, 8, ps.Ndirty())

	ranges := purgeAll(t, ps)
	require.Equal(t, []purgeRange{
		{testAddr, 4 * pg},
		{testAddr + 6*pg, 4 * pg},
	}, ranges)
	require.Equal(t, 2, ps.Nactive())
	require.Equal(t, testNpages-2, ps.Nretained())
}

func TestPurgeMergesRetainedGaps(t *testing.T) {
	ps := New(testAddr, testNpages, 0)
	a := ps.Reserve(pg)
	b := ps.Reserve(pg)
	c := ps.Reserve(pg)
	ps.Reserve(pg)

	ps.Unreserve(b, pg)
	require.Equal(t, []purgeRange{{b, pg}}, purgeAll(t, ps))

	// dirty, retained, dirty, active
	ps.Unreserve(a, pg)
	ps.Unreserve(c, pg)
	require.Equal(t, 2, ps.Ndirty())
	require.Equal(t, []purgeRange{{a, 3 * pg}}, purgeAll(t, ps))
	require.Equal(t, 1, ps.Ntouched())
}

func TestPurgeStateIsASnapshot(t *testing.T) {
	ps := New(testAddr, testNpages, 0)
	a := ps.Reserve(2 * pg)
	b := ps.Reserve(2 * pg)
	ps.Unreserve(a, 2*pg)

	st, n := ps.PurgeBegin()
	require.Equal(t, 2, n)
	// pages freed while a purge is in flight stay dirty
	ps.Unreserve(b, 2*pg)
	ps.PurgeEnd(st)
	require.Equal(t, 2, ps.Ndirty())
	require.True(t, ps.Empty())
	require.NoError(t, ps.Consistent())
}

func TestHugify(t *testing.T) {
	ps := New(testAddr, testNpages, 0)
	ps.Reserve(3 * pg)
	ps.Hugify()
	require.True(t, ps.Huge())
	require.Equal(t, 0, ps.Nretained())
	require.Equal(t, testNpages-3, ps.Ndirty())

	ranges := purgeAll(t, ps)
	require.Equal(t, []purgeRange{{testAddr + 3*pg, (testNpages - 3) * pg}}, ranges)
	ps.Dehugify()
	require.False(t, ps.Huge())
}

func TestConsistent(t *testing.T) {
	ps := New(testAddr, testNpages, 0)
	ps.Reserve(pg)
	require.NoError(t, ps.Consistent())

	ps.SetMidPurge(true)
	require.Error(t, ps.Consistent(), "alloc allowed while purging")
	ps.SetAllocAllowed(false)
	require.NoError(t, ps.Consistent())
	ps.SetHugifyAllowed(true)
	require.Error(t, ps.Consistent())
}

func TestBitmap(t *testing.T) {
	const nbits = 130
	b := newBitmap(nbits)
	require.Equal(t, nbits, b.nextSet(0, nbits))
	require.Equal(t, 0, b.nextClear(0, nbits))

	b.setRange(60, 10)
	require.Equal(t, 60, b.nextSet(0, nbits))
	require.Equal(t, 70, b.nextClear(60, nbits))
	require.Equal(t, 10, b.count())
	require.Equal(t, 5, b.countRange(65, 20))

	b.fill(nbits)
	require.Equal(t, nbits, b.nextClear(0, nbits))
	b.clearRange(128, 2)
	require.Equal(t, 128, b.nextClear(0, nbits))
}
