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

package pa

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/intel/hpalloc/pkg/extent"
	"github.com/intel/hpalloc/pkg/hpa"
	"github.com/intel/hpalloc/pkg/pages"
	"github.com/intel/hpalloc/pkg/pai"
)

// Direct is a minimal fallback page allocator which maps every request
// separately and unmaps it when freed.
type Direct struct {
	pages    pages.Provider
	registry hpa.Registry
	extents  *extent.Cache
	nserial  atomic.Uint64
	mapped   atomic.Uintptr
}

var _ pai.Interface = &Direct{}

// NewDirect creates a direct-mapping page allocator.
func NewDirect(provider pages.Provider, registry hpa.Registry, extents *extent.Cache) *Direct {
	return &Direct{
		pages:    provider,
		registry: registry,
		extents:  extents,
	}
}

// Mapped returns the number of bytes currently mapped.
func (d *Direct) Mapped() uintptr {
	return d.mapped.Load()
}

// Alloc maps size bytes aligned to alignment. Fresh mappings are zeroed.
func (d *Direct) Alloc(size, alignment uintptr, zero bool) (*extent.Extent, error) {
	if size == 0 || !pages.IsAligned(size, pages.Size) {
		return nil, errors.Wrapf(pai.ErrRefused, "size %d", size)
	}

	e := d.extents.Get()
	if e == nil {
		return nil, errors.Wrap(pai.ErrOOM, "out of extent descriptors")
	}

	addr, err := d.pages.Map(size, alignment)
	if err != nil {
		d.extents.Put(e)
		return nil, errors.Wrapf(pai.ErrOOM, "failed to map %d bytes: %v", size, err)
	}

	e.Init(addr, size, extent.SourceFallback, d.nserial.Add(1), true, true)
	if err := d.registry.RegisterBoundary(e); err != nil {
		d.unmap(addr, size)
		d.extents.Put(e)
		return nil, errors.Wrapf(pai.ErrOOM, "failed to register mapping: %v", err)
	}
	d.mapped.Add(size)

	return e, nil
}

// AllocBatch allocates one extent at a time.
func (d *Direct) AllocBatch(size uintptr, nallocs int, results []*extent.Extent) []*extent.Extent {
	return pai.AllocBatchDefault(d, size, nallocs, results)
}

// Expand is not supported, mappings are never grown in place.
func (d *Direct) Expand(e *extent.Extent, oldSize, newSize uintptr, zero bool) error {
	return pai.ErrUnsupported
}

// Shrink unmaps the tail of e. Slabs are refused, their interior
// registration would not survive re-registering the shrunk extent.
func (d *Direct) Shrink(e *extent.Extent, oldSize, newSize uintptr) error {
	if e.Slab() {
		return errors.Wrapf(pai.ErrRefused, "can't shrink slab %s", e)
	}
	if newSize == 0 || newSize >= oldSize || !pages.IsAligned(newSize, pages.Size) {
		return errors.Errorf("pa: can't shrink %s from %d to %d bytes", e, oldSize, newSize)
	}

	d.registry.DeregisterBoundary(e)
	e.SetSize(newSize)
	if err := d.registry.RegisterBoundary(e); err != nil {
		// the old registration has every leaf it needs
		e.SetSize(oldSize)
		if rerr := d.registry.RegisterBoundary(e); rerr != nil {
			log.Panic("failed to restore registration of %s: %v", e, rerr)
		}
		return errors.Wrapf(pai.ErrOOM, "failed to register shrunk mapping: %v", err)
	}

	d.unmap(e.Base()+newSize, oldSize-newSize)
	d.mapped.Add(^(oldSize - newSize - 1))

	return nil
}

// Dalloc unmaps e.
func (d *Direct) Dalloc(e *extent.Extent) {
	d.registry.DeregisterBoundary(e)
	d.unmap(e.Base(), e.Size())
	d.mapped.Add(^(e.Size() - 1))
	d.extents.Put(e)
}

// DallocBatch unmaps every extent in *list and empties it.
func (d *Direct) DallocBatch(list *[]*extent.Extent) {
	pai.DallocBatchDefault(d, list)
}

func (d *Direct) unmap(addr, size uintptr) {
	if err := d.pages.Unmap(addr, size); err != nil {
		log.Error("failed to unmap %#x+%d: %v", addr, size, err)
	}
}
