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

// Package pa implements the page allocator shard of an arena. It routes
// requests to a huge page aware shard when that is enabled and to a
// fallback page allocator otherwise, keeps the address registry tags of
// the extents it hands out and counts their pages.
package pa

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/intel/hpalloc/pkg/base"
	"github.com/intel/hpalloc/pkg/emap"
	"github.com/intel/hpalloc/pkg/extent"
	"github.com/intel/hpalloc/pkg/hpa"
	logger "github.com/intel/hpalloc/pkg/log"
	"github.com/intel/hpalloc/pkg/pages"
	"github.com/intel/hpalloc/pkg/pai"
)

// Deps are the collaborators of a Shard.
type Deps struct {
	// Fallback serves whatever the huge page aware shard doesn't. It is
	// shared, not owned, by the shard.
	Fallback pai.Interface
	// Registry is the address registry shared by both page allocators.
	Registry *emap.Map
	// Base is charged for metadata.
	Base *base.Base
	// Extents is the shared extent descriptor cache.
	Extents *extent.Cache
}

// Shard routes page allocations between its page allocators.
type Shard struct {
	// nactive is read by code that must not block on the shard.
	nactive     atomic.Uintptr
	useHPA      atomic.Bool
	everUsedHPA bool
	hpa         hpa.Shard
	fallback    pai.Interface
	emap        *emap.Map
	base        *base.Base
	extents     *extent.Cache
}

var log = logger.NewLogger("pa")

// New creates a shard serving everything from the fallback allocator
// until EnableHPA is called.
func New(deps Deps) (*Shard, error) {
	if deps.Fallback == nil || deps.Registry == nil || deps.Base == nil || deps.Extents == nil {
		return nil, errors.New("pa: incomplete dependencies")
	}
	return &Shard{
		fallback: deps.Fallback,
		emap:     deps.Registry,
		base:     deps.Base,
		extents:  deps.Extents,
	}, nil
}

// EnableHPA sets up the huge page aware shard and starts routing to it.
// It must be called before the shard is shared with other goroutines.
func (s *Shard) EnableHPA(opts hpa.Options, provider pages.Provider, observer hpa.Observer) error {
	if s.everUsedHPA {
		return errors.New("pa: huge page aware allocation already enabled")
	}
	err := s.hpa.Init(opts, hpa.Deps{
		Pages:    provider,
		Registry: s.emap,
		Base:     s.base,
		Extents:  s.extents,
		Observer: observer,
	})
	if err != nil {
		return errors.Wrap(err, "pa: failed to enable huge page aware allocation")
	}
	s.everUsedHPA = true
	s.useHPA.Store(true)

	log.Info("huge page aware allocation enabled")

	return nil
}

// DisableHPA stops routing new requests to the huge page aware shard.
// Extents it has handed out are still returned to it.
func (s *Shard) DisableHPA() {
	if !s.useHPA.Swap(false) {
		return
	}
	s.hpa.Disable()
	log.Info("huge page aware allocation disabled")
}

// HPAEnabled returns true if requests are routed to the huge page aware shard.
func (s *Shard) HPAEnabled() bool {
	return s.useHPA.Load()
}

// HPA returns the huge page aware shard, or nil if it was never enabled.
func (s *Shard) HPA() *hpa.Shard {
	if !s.everUsedHPA {
		return nil
	}
	return &s.hpa
}

// Nactive returns the number of pages handed out.
func (s *Shard) Nactive() uintptr {
	return s.nactive.Load()
}

func (s *Shard) addActive(npages uintptr) {
	s.nactive.Add(npages)
}

func (s *Shard) subActive(npages uintptr) {
	s.nactive.Add(^(npages - 1))
}

// source returns the page allocator owning e.
func (s *Shard) source(e *extent.Extent) pai.Interface {
	if e.Source() == pai.SourceHPA {
		return &s.hpa
	}
	return s.fallback
}

// Alloc allocates size bytes, tagging the extent with szind and slab. Slabs
// of more than two pages get their interior registered.
func (s *Shard) Alloc(size, alignment uintptr, slab bool, szind int, zero bool) (*extent.Extent, error) {
	var (
		e   *extent.Extent
		err error
	)

	if s.useHPA.Load() {
		e, err = s.hpa.Alloc(size, alignment, zero)
		if err != nil && log.DebugEnabled() {
			log.Debug("falling back for %d bytes: %v", size, err)
		}
	}
	if e == nil {
		if e, err = s.fallback.Alloc(size, alignment, zero); err != nil {
			return nil, err
		}
	}

	s.addActive(size >> pages.Shift)
	s.emap.Remap(e, szind, slab)
	e.SetSzInd(szind)
	e.SetSlab(slab)
	if slab && size > 2*pages.Size {
		s.emap.RegisterInterior(e, szind)
	}

	return e, nil
}

// Expand grows e in place by the allocator owning it. Slabs can't be
// resized.
func (s *Shard) Expand(e *extent.Extent, oldSize, newSize uintptr, szind int, zero bool) error {
	if e.Slab() {
		return errors.Wrapf(pai.ErrRefused, "can't expand slab %s", e)
	}
	if err := s.source(e).Expand(e, oldSize, newSize, zero); err != nil {
		return err
	}
	s.addActive((newSize - oldSize) >> pages.Shift)
	e.SetSzInd(szind)
	s.emap.Remap(e, szind, false)
	return nil
}

// Shrink shrinks e in place by the allocator owning it. It returns true if
// the pages released are left dirty for the caller's decay policy, which
// is only the case for the fallback allocator. Slabs can't be resized.
func (s *Shard) Shrink(e *extent.Extent, oldSize, newSize uintptr, szind int) (bool, error) {
	if e.Slab() {
		return false, errors.Wrapf(pai.ErrRefused, "can't shrink slab %s", e)
	}
	src := e.Source()
	if err := s.source(e).Shrink(e, oldSize, newSize); err != nil {
		return false, err
	}
	s.subActive((oldSize - newSize) >> pages.Shift)
	e.SetSzInd(szind)
	s.emap.Remap(e, szind, false)
	return src == pai.SourceFallback, nil
}

// Dalloc releases e. It returns true if the pages released are left dirty
// for the caller's decay policy.
func (s *Shard) Dalloc(e *extent.Extent) bool {
	s.emap.Remap(e, extent.NoSizeClass, false)
	if e.Slab() {
		s.emap.DeregisterInterior(e)
		e.SetSlab(false)
	}
	e.Normalize()
	e.SetSzInd(extent.NoSizeClass)
	s.subActive(e.Size() >> pages.Shift)

	src := e.Source()
	s.source(e).Dalloc(e)

	return src == pai.SourceFallback
}

// DoDeferredWork runs the deferred work of the huge page aware shard.
func (s *Shard) DoDeferredWork() {
	if s.everUsedHPA {
		s.hpa.DoDeferredWork()
	}
}

// Destroy releases the address space of the huge page aware shard. Every
// extent from it must have been freed.
func (s *Shard) Destroy() error {
	if n := s.Nactive(); n != 0 {
		log.Warn("destroying shard with %d active pages", n)
	}
	if !s.everUsedHPA {
		return nil
	}
	s.useHPA.Store(false)
	return s.hpa.Destroy()
}
