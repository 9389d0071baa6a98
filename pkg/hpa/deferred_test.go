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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/hpalloc/pkg/extent"
	"github.com/intel/hpalloc/pkg/fxp"
	"github.com/intel/hpalloc/pkg/hpdata"
	"github.com/intel/hpalloc/pkg/pages"
)

// recorder is an Observer collecting events.
type recorder struct {
	sync.Mutex
	shard   *Shard
	purges  []PurgeEvent
	hugifys []HugifyEvent
	stats   []Stats
}

func (r *recorder) PurgeDone(ev PurgeEvent) {
	var st Stats
	if r.shard != nil {
		st = r.shard.Stats()
	}
	r.Lock()
	defer r.Unlock()
	r.purges = append(r.purges, ev)
	r.stats = append(r.stats, st)
}

func (r *recorder) HugifyDone(ev HugifyEvent) {
	var st Stats
	if r.shard != nil {
		st = r.shard.Stats()
	}
	r.Lock()
	defer r.Unlock()
	r.hugifys = append(r.hugifys, ev)
	r.stats = append(r.stats, st)
}

func newObservedEnv(t *testing.T, opts Options) (*testEnv, *recorder) {
	env := newTestEnv(t, opts)
	r := &recorder{shard: env.Shard}
	env.observer = r
	return env, r
}

func TestUpdateEligibility(t *testing.T) {
	opts := testOptions()
	opts.HugificationThreshold = 8 * pg
	env := newTestEnv(t, opts)

	tcases := []struct {
		name   string
		setup  func(ps *hpdata.Pageslab)
		purge  bool
		hugify bool
	}{
		{
			name:  "empty",
			setup: func(ps *hpdata.Pageslab) {},
		},
		{
			name:  "below threshold",
			setup: func(ps *hpdata.Pageslab) { ps.Reserve(7 * pg) },
		},
		{
			name:   "at threshold",
			setup:  func(ps *hpdata.Pageslab) { ps.Reserve(8 * pg) },
			hugify: true,
		},
		{
			name: "dirty",
			setup: func(ps *hpdata.Pageslab) {
				addr := ps.Reserve(2 * pg)
				ps.Unreserve(addr, pg)
			},
			purge: true,
		},
		{
			name: "huge",
			setup: func(ps *hpdata.Pageslab) {
				ps.Reserve(16 * pg)
				ps.Hugify()
			},
			purge: true,
		},
		{
			name: "mid purge",
			setup: func(ps *hpdata.Pageslab) {
				addr := ps.Reserve(16 * pg)
				ps.Unreserve(addr, pg)
				ps.SetMidPurge(true)
			},
		},
		{
			name: "mid hugify",
			setup: func(ps *hpdata.Pageslab) {
				ps.Reserve(16 * pg)
				ps.SetMidHugify(true)
			},
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ps := hpdata.New(1<<40, slabPgs, 0)
			tc.setup(ps)
			for i := 0; i < 2; i++ {
				env.updateEligibility(ps)
				require.Equal(t, tc.purge, ps.PurgeAllowed(), "purge allowed")
				require.Equal(t, tc.hugify, ps.HugifyAllowed(), "hugify allowed")
			}
		})
	}
}

func TestHugifyAndDehugify(t *testing.T) {
	opts := testOptions()
	opts.HugificationThreshold = 8 * pg
	opts.DirtyMult = fxp.One
	env, r := newObservedEnv(t, opts)

	size := 16 * pg
	live := []*extent.Extent{}
	for i := 0; i < slabPgs/16; i++ {
		e, err := env.Alloc(size, pg, false)
		require.NoError(t, err)
		live = append(live, e)

		// hugifying touches every retained page, which is only
		// allowed once they fit under the dirty limit
		nactive := (i + 1) * 16
		expected := uint64(0)
		if slabPgs-nactive <= nactive {
			expected = 1
		}
		require.Equal(t, expected, env.Stats().Nhugifies, "after %d pages", nactive)
	}

	st := env.Stats()
	require.Equal(t, 1, st.Psset.Full[1].Npageslabs)
	require.Zero(t, st.Ndirty)
	require.Zero(t, st.NpurgePasses)

	env.DallocBatch(&live)

	st = env.Stats()
	require.Equal(t, uint64(1), st.Nhugifies)
	require.Zero(t, st.NhugifyFailures)
	require.Equal(t, uint64(1), st.Ndehugifies)
	require.Equal(t, uint64(1), st.NpurgePasses)
	require.Zero(t, st.Ndirty)
	require.Equal(t, slabPgs, st.Nretained)
	require.Equal(t, 1, st.Psset.Empty[0].Npageslabs)

	fst := env.fake.Stats()
	require.Equal(t, uint64(1), fst.Calls[pages.OpHugify])
	require.Equal(t, uint64(1), fst.Calls[pages.OpDehugify])
	require.Equal(t, uint64(hugepage), fst.Bytes[pages.OpPurge])

	require.Len(t, r.hugifys, 1)
	require.NoError(t, r.hugifys[0].Err)
	require.Len(t, r.purges, 1)
	require.Equal(t, PurgeEvent{
		Addr:       r.hugifys[0].Addr,
		Npages:     slabPgs,
		Nranges:    1,
		Dehugified: true,
	}, r.purges[0])

	require.NoError(t, env.Destroy())
}

func TestHugifyFailure(t *testing.T) {
	opts := testOptions()
	opts.HugificationThreshold = 8 * pg
	opts.DirtyMult = fxp.Disabled
	env, r := newObservedEnv(t, opts)
	env.fake.Fail(pages.OpHugify, pages.ErrInjected)

	e, err := env.Alloc(8*pg, pg, false)
	require.NoError(t, err)

	st := env.Stats()
	require.Equal(t, uint64(1), st.Nhugifies)
	require.Equal(t, uint64(1), st.NhugifyFailures)
	require.Equal(t, 1, st.Psset.Nonfull[1].Npageslabs, "marked huge anyway")
	require.Len(t, r.hugifys, 1)
	require.ErrorIs(t, r.hugifys[0].Err, pages.ErrInjected)

	env.Dalloc(e)
	st = env.Stats()
	require.Zero(t, st.NpurgePasses, "no dirty limit")
	require.Equal(t, slabPgs, st.Ndirty)
}

func TestPurgeOverDirtyLimit(t *testing.T) {
	env, r := newObservedEnv(t, testOptions())

	live := env.AllocBatch(pg, 32, nil)
	require.Len(t, live, 32)
	slab := live[0].Pageslab().Addr()

	// 8 dirty pages over 24 active ones is above the 0.25 limit
	freed := append([]*extent.Extent{}, live[:8]...)
	live = live[8:]
	env.DallocBatch(&freed)

	require.Equal(t, []PurgeEvent{{Addr: slab, Npages: 8, Nranges: 1}}, r.purges)
	st := env.Stats()
	require.Zero(t, st.Ndirty)
	require.Equal(t, uint64(1), st.Npurges)
	require.Equal(t, st, r.stats[0], "stats from the callback")

	// 4 dirty pages over 20 active is within the limit
	freed = append(freed, live[:4]...)
	live = live[4:]
	env.DallocBatch(&freed)
	require.Len(t, r.purges, 1)
	require.Equal(t, 4, env.Stats().Ndirty)

	env.check(t, live...)
}

func TestNoAllocationFromSlabBeingPurged(t *testing.T) {
	opts := testOptions()
	opts.DirtyMult = fxp.Percent(0)
	env := newTestEnv(t, opts)

	live := env.AllocBatch(pg, 2, nil)
	require.Len(t, live, 2)
	purged := live[0].Pageslab()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	env.fake.SetHook(pages.OpPurge, func(addr, size uintptr) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.Dalloc(live[0])
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("purge did not start")
	}
	require.Equal(t, 1, env.Stats().PendingPurge)

	allocated := make(chan *extent.Extent, 1)
	go func() {
		e, err := env.Alloc(pg, pg, false)
		if err != nil {
			e = nil
		}
		allocated <- e
	}()

	var e *extent.Extent
	select {
	case e = <-allocated:
	case <-time.After(5 * time.Second):
		t.Fatal("allocation blocked by purge")
	}
	require.NotNil(t, e)
	require.NotSame(t, purged, e.Pageslab())

	close(release)
	<-done

	st := env.Stats()
	require.Zero(t, st.PendingPurge)
	require.Equal(t, uint64(1), st.NpurgePasses)
	env.check(t, live[1], e)

	live = []*extent.Extent{live[1], e}
	env.DallocBatch(&live)
	require.NoError(t, env.Destroy())
}

func TestDeferredWorkBounded(t *testing.T) {
	opts := testOptions()
	opts.DirtyMult = fxp.Disabled
	opts.EdenHugepages = MaxDeferredOps + 10
	env := newTestEnv(t, opts)

	// leave dirty pages behind in more pageslabs than a pass can purge
	nslabs := MaxDeferredOps + 5
	keep, freed := []*extent.Extent{}, []*extent.Extent{}
	for i := 0; i < nslabs; i++ {
		live := env.AllocBatch(64<<10, slabPgs/16, nil)
		require.Len(t, live, slabPgs/16)
		keep = append(keep, live[0])
		freed = append(freed, live[1:]...)
	}
	env.DallocBatch(&freed)
	require.Equal(t, nslabs, env.Stats().Nslabs)
	require.Equal(t, nslabs*(slabPgs-16), env.Stats().Ndirty)
	require.Zero(t, env.Stats().NpurgePasses)

	env.opts.DirtyMult = fxp.Percent(0)
	env.DoDeferredWork()
	require.Equal(t, uint64(MaxDeferredOps), env.Stats().NpurgePasses)
	env.DoDeferredWork()
	require.Equal(t, uint64(nslabs), env.Stats().NpurgePasses)
	require.Zero(t, env.Stats().Ndirty)

	env.check(t, keep...)
}
