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

// Package hpa implements a huge page aware page allocator shard.
//
// The shard serves requests of up to SlabMaxAlloc bytes out of pageslabs,
// hugepage-sized and hugepage-aligned regions of address space. After
// every allocation or deallocation batch it runs a bounded amount of
// deferred work: promoting busy pageslabs to transparent huge pages
// (hugify) and returning unused but touched pages to the OS (purge).
//
// The shard has two locks. The grow lock protects eden, the unused tail
// of the last mapping. The main lock protects everything else. When both
// are needed the grow lock is taken first. OS calls made for deferred
// work are done with the main lock released; a pageslab being hugified
// or purged is protected by its mid-hugify and mid-purge flags instead.
package hpa

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/intel/hpalloc/pkg/base"
	"github.com/intel/hpalloc/pkg/extent"
	logger "github.com/intel/hpalloc/pkg/log"
	"github.com/intel/hpalloc/pkg/pages"
	"github.com/intel/hpalloc/pkg/pai"
	"github.com/intel/hpalloc/pkg/psset"
)

// ErrUnsupported is returned when huge pages can't be used on this system.
var ErrUnsupported = errors.New("hpa: huge pages not supported")

// Registry tracks the address ranges of live extents.
type Registry interface {
	// RegisterBoundary registers e. On error nothing is registered.
	RegisterBoundary(e *extent.Extent) error
	// DeregisterBoundary removes the registration of e.
	DeregisterBoundary(e *extent.Extent)
}

// Deps are the collaborators of a Shard.
type Deps struct {
	// Pages provides address space and paging primitives.
	Pages pages.Provider
	// Registry is where allocated extents get registered.
	Registry Registry
	// Base is charged for pageslab metadata.
	Base *base.Base
	// Extents is the shared extent descriptor cache.
	Extents *extent.Cache
	// Observer, if set, is notified about completed deferred work.
	Observer Observer
}

// Shard is a huge page aware page allocator. It implements pai.Interface.
type Shard struct {
	pages    pages.Provider
	registry Registry
	base     *base.Base
	observer Observer
	opts     Options
	hugepage uintptr
	npages   int
	age      atomic.Uint64
	edenSize atomic.Uintptr
	grow     growState
	mtx      mainState
	warn     logger.Logger
}

// growState is protected by the grow lock.
type growState struct {
	sync.Mutex
	eden    uintptr
	edenLen uintptr
}

// mainState is protected by the main lock.
type mainState struct {
	sync.Mutex
	psset         *psset.Set
	extents       *extent.SmallCache
	npendingPurge int
	nserial       uint64
	stats         Nonderived
	events        []event
}

var _ pai.Interface = &Shard{}

var log = logger.NewLogger("hpa")

// Supported returns true if the shard can be used with the given provider.
func Supported(p pages.Provider) bool {
	if !p.HugepageSupported() || strconv.IntSize != 64 {
		return false
	}
	hp := p.HugepageSize()
	return p.PageSize() == pages.Size && hp != 0 && hp%pages.Size == 0
}

// New creates a new shard.
func New(opts Options, deps Deps) (*Shard, error) {
	s := &Shard{}
	if err := s.Init(opts, deps); err != nil {
		return nil, err
	}
	return s, nil
}

// Init initializes a zero Shard, for owners embedding one by value.
func (s *Shard) Init(opts Options, deps Deps) error {
	if deps.Pages == nil || deps.Registry == nil || deps.Base == nil || deps.Extents == nil {
		return errors.New("hpa: incomplete dependencies")
	}
	if !Supported(deps.Pages) {
		return ErrUnsupported
	}
	hugepage := deps.Pages.HugepageSize()
	if err := opts.Validate(hugepage); err != nil {
		return err
	}

	s.pages = deps.Pages
	s.registry = deps.Registry
	s.base = deps.Base
	s.observer = deps.Observer
	s.opts = opts
	s.hugepage = hugepage
	s.npages = int(hugepage >> pages.Shift)
	s.age.Store(0)
	s.edenSize.Store(0)
	s.grow.eden, s.grow.edenLen = 0, 0
	s.mtx.psset = psset.New(s.npages, int(opts.DehugificationThreshold>>pages.Shift))
	s.mtx.extents = extent.NewSmallCache(deps.Extents, 0)
	s.mtx.npendingPurge = 0
	s.mtx.nserial = 0
	s.mtx.stats = Nonderived{}
	s.mtx.events = nil
	s.warn = logger.RateLimit(log, logger.Interval(10*time.Second))

	log.Info("shard created: hugepage %d, %s", hugepage, opts)

	return nil
}

// Options returns the options of the shard.
func (s *Shard) Options() Options {
	return s.opts
}

// HugepageSize returns the pageslab size of the shard.
func (s *Shard) HugepageSize() uintptr {
	return s.hugepage
}

// unlock releases the main lock and delivers the events queued under it.
func (s *Shard) unlock() {
	events := s.mtx.events
	s.mtx.events = nil
	s.mtx.Unlock()

	if s.observer != nil {
		for _, ev := range events {
			ev.deliver(s.observer)
		}
	}
}

// Disable flushes the descriptor cache of the shard, turning it into a
// pass-through to the shared cache.
func (s *Shard) Disable() {
	s.mtx.Lock()
	s.mtx.extents.Disable()
	s.unlock()
}
