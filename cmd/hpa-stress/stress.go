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

package main

import (
	"context"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/sync/errgroup"

	"github.com/intel/hpalloc/pkg/base"
	"github.com/intel/hpalloc/pkg/emap"
	"github.com/intel/hpalloc/pkg/extent"
	"github.com/intel/hpalloc/pkg/hpa"
	"github.com/intel/hpalloc/pkg/metrics"
	"github.com/intel/hpalloc/pkg/pa"
	"github.com/intel/hpalloc/pkg/pages"
	"github.com/intel/hpalloc/pkg/pai"
)

const (
	fakeHugepage = 2 << 20
	shardName    = "stress"
)

// stress runs a randomized workload against a page allocator shard.
type stress struct {
	cfg      Config
	provider pages.Provider
	base     *base.Base
	direct   *pa.Direct
	shard    *pa.Shard
	events   *eventCounter
	nallocs  atomic.Uint64
	noom     atomic.Uint64
	nfrees   atomic.Uint64
}

// eventCounter counts the deferred work done by the huge page aware shard.
type eventCounter struct {
	npurged   atomic.Uint64
	nhugified atomic.Uint64
}

func (c *eventCounter) PurgeDone(ev hpa.PurgeEvent) {
	c.npurged.Add(uint64(ev.Npages))
	if log.DebugEnabled() {
		log.Debug("purged %d pages in %d ranges of pageslab %#x", ev.Npages, ev.Nranges, ev.Addr)
	}
}

func (c *eventCounter) HugifyDone(ev hpa.HugifyEvent) {
	c.nhugified.Add(1)
	if log.DebugEnabled() {
		log.Debug("hugified pageslab %#x (error: %v)", ev.Addr, ev.Err)
	}
}

func newProvider(name string) pages.Provider {
	if name == providerFake {
		return pages.NewFake(fakeHugepage)
	}
	return pages.NewSystem()
}

func newStress(c Config) (*stress, error) {
	s := &stress{
		cfg:      c,
		provider: newProvider(c.Provider),
		events:   &eventCounter{},
	}

	paCfg := pa.Configured()
	s.base = base.New(uintptr(paCfg.MetadataLimit))
	extents := extent.NewCache(s.base)
	registry := emap.New(s.base)
	s.direct = pa.NewDirect(s.provider, registry, extents)

	shard, err := pa.New(pa.Deps{
		Fallback: s.direct,
		Registry: registry,
		Base:     s.base,
		Extents:  extents,
	})
	if err != nil {
		return nil, err
	}
	s.shard = shard

	switch {
	case !paCfg.UseHPA:
		log.Info("huge page aware allocation disabled by configuration")
	case !hpa.Supported(s.provider):
		log.Warn("huge pages not supported, using the fallback allocator only")
	default:
		opts := hpa.ConfiguredOptions(s.provider.HugepageSize())
		if err := shard.EnableHPA(opts, s.provider, s.events); err != nil {
			log.Warn("%v, using the fallback allocator only", err)
		}
	}

	if err := s.registerCollectors(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *stress) registerCollectors() error {
	err := metrics.RegisterCollector("pa", func() (prometheus.Collector, error) {
		return pa.NewCollector(shardName, s.shard), nil
	})
	if err != nil {
		return err
	}
	if h := s.shard.HPA(); h != nil {
		return metrics.RegisterCollector("hpa", func() (prometheus.Collector, error) {
			return hpa.NewCollector(shardName, h), nil
		})
	}
	return nil
}

// run runs the workers until they are done or ctx is canceled.
func (s *stress) run(ctx context.Context) error {
	var (
		bg   errgroup.Group
		stop = make(chan struct{})
	)

	if interval := time.Duration(s.cfg.DeferredInterval); interval > 0 {
		bg.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return nil
				case <-ticker.C:
					s.shard.DoDeferredWork()
				}
			}
		})
	}

	log.Info("running %d workers, %d operations each...", s.cfg.Workers, s.cfg.Ops)
	start := time.Now()

	workers, wctx := errgroup.WithContext(ctx)
	for id := 0; id < s.cfg.Workers; id++ {
		id := id
		workers.Go(func() error {
			return s.worker(wctx, id)
		})
	}
	err := workers.Wait()

	close(stop)
	_ = bg.Wait()

	log.Info("workload finished in %s", time.Since(start))

	return err
}

// worker allocates and frees random extents, and frees whatever it has
// left when done.
func (s *stress) worker(ctx context.Context, id int) error {
	rnd := rand.New(rand.NewSource(s.cfg.Seed + int64(id)))
	live := make([]*extent.Extent, 0, s.cfg.MaxLive)

	defer func() {
		for _, e := range live {
			s.shard.Dalloc(e)
		}
		s.nfrees.Add(uint64(len(live)))
	}()

	for i := 0; i < s.cfg.Ops; i++ {
		if ctx.Err() != nil {
			return nil
		}

		if len(live) == s.cfg.MaxLive || (len(live) > 0 && rnd.Intn(2) == 0) {
			j := rnd.Intn(len(live))
			s.shard.Dalloc(live[j])
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			s.nfrees.Add(1)
			continue
		}

		npages := 1 + rnd.Intn(s.cfg.MaxPages)
		slab := rnd.Intn(100) < s.cfg.SlabPercent
		e, err := s.shard.Alloc(uintptr(npages)*pages.Size, pages.Size, slab, npages-1, false)
		if err != nil {
			if errors.Is(err, pai.ErrOOM) {
				s.noom.Add(1)
				continue
			}
			return errors.Wrapf(err, "worker #%d", id)
		}
		live = append(live, e)
		s.nallocs.Add(1)
	}

	return nil
}

// report logs a summary of the run.
func (s *stress) report() {
	log.Info("%d allocations, %d frees, %d out of memory", s.nallocs.Load(), s.nfrees.Load(), s.noom.Load())
	log.Info("%d pages active, %d bytes mapped by the fallback allocator", s.shard.Nactive(), s.direct.Mapped())

	bst := s.base.Stats()
	log.Info("metadata: %d bytes in %d allocations, %d failed", bst.Allocated, bst.Nallocs, bst.Nfailed)

	h := s.shard.HPA()
	if h == nil {
		return
	}
	st := h.Stats()
	log.InfoBlock("  ", `huge page aware shard:
pageslabs: %d, eden %d bytes
pages: %d active, %d dirty, %d retained
purges: %d pageslabs, %d ranges, %d pages reported
hugifications: %d (%d failed, %d reported), %d dehugifications`,
		st.Nslabs, st.EdenBytes,
		st.Nactive, st.Ndirty, st.Nretained,
		st.NpurgePasses, st.Npurges, s.events.npurged.Load(),
		st.Nhugifies, st.NhugifyFailures, s.events.nhugified.Load(), st.Ndehugifies)

	if err := h.Consistent(); err != nil {
		log.Error("inconsistent shard: %v", err)
	}
}

// dumpMetrics writes gathered metrics in text format.
func dumpMetrics(w io.Writer) error {
	g, err := metrics.NewMetricGatherer()
	if err != nil {
		return err
	}
	families, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "failed to gather metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "failed to format metrics")
		}
	}
	return nil
}

// destroy releases all address space of the shard.
func (s *stress) destroy() error {
	return s.shard.Destroy()
}
