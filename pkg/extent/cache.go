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

package extent

import (
	"sync"

	"github.com/intel/hpalloc/pkg/base"
)

// DefaultSmallCacheMax is the default capacity of a SmallCache.
const DefaultSmallCacheMax = 16

// smallCacheFill is the number of descriptors a SmallCache pulls at a time.
const smallCacheFill = 4

// Cache is a shared, thread-safe cache of extent descriptors. New
// descriptors are charged against a base allocator.
type Cache struct {
	sync.Mutex
	base    *base.Base
	free    []*Extent
	ncreate uint64
}

// NewCache creates a descriptor cache backed by the given base allocator.
func NewCache(b *base.Base) *Cache {
	return &Cache{base: b}
}

// Get returns a descriptor, or nil if metadata is exhausted.
func (c *Cache) Get() *Extent {
	c.Lock()
	defer c.Unlock()
	return c.getLocked()
}

func (c *Cache) getLocked() *Extent {
	if n := len(c.free); n > 0 {
		e := c.free[n-1]
		c.free[n-1] = nil
		c.free = c.free[:n-1]
		return e
	}
	if err := c.base.Alloc(DescriptorSize); err != nil {
		return nil
	}
	c.ncreate++
	e := &Extent{}
	e.Reset()
	return e
}

// Put returns a descriptor to the cache.
func (c *Cache) Put(e *Extent) {
	e.Reset()
	c.Lock()
	c.free = append(c.free, e)
	c.Unlock()
}

// Len returns the number of idle descriptors in the cache.
func (c *Cache) Len() int {
	c.Lock()
	defer c.Unlock()
	return len(c.free)
}

// Created returns the number of descriptors ever charged to base.
func (c *Cache) Created() uint64 {
	c.Lock()
	defer c.Unlock()
	return c.ncreate
}

// SmallCache is a bounded front cache in front of a shared Cache. It is not
// synchronized; the owner must serialize access with its own lock.
type SmallCache struct {
	fallback *Cache
	free     []*Extent
	max      int
	disabled bool
}

// NewSmallCache creates a front cache holding at most max descriptors.
func NewSmallCache(fallback *Cache, max int) *SmallCache {
	if max <= 0 {
		max = DefaultSmallCacheMax
	}
	return &SmallCache{
		fallback: fallback,
		free:     make([]*Extent, 0, max),
		max:      max,
	}
}

// Get returns a descriptor, or nil if metadata is exhausted.
func (c *SmallCache) Get() *Extent {
	if c.disabled {
		return c.fallback.Get()
	}
	if len(c.free) == 0 {
		c.fill()
	}
	n := len(c.free)
	if n == 0 {
		return nil
	}
	e := c.free[n-1]
	c.free[n-1] = nil
	c.free = c.free[:n-1]
	return e
}

func (c *SmallCache) fill() {
	c.fallback.Lock()
	defer c.fallback.Unlock()
	for i := 0; i < smallCacheFill && len(c.free) < c.max; i++ {
		e := c.fallback.getLocked()
		if e == nil {
			return
		}
		c.free = append(c.free, e)
	}
}

// Put returns a descriptor, spilling to the shared cache when full.
func (c *SmallCache) Put(e *Extent) {
	if c.disabled || len(c.free) == c.max {
		c.fallback.Put(e)
		return
	}
	e.Reset()
	c.free = append(c.free, e)
}

// Flush returns every cached descriptor to the shared cache.
func (c *SmallCache) Flush() {
	for i, e := range c.free {
		c.fallback.Put(e)
		c.free[i] = nil
	}
	c.free = c.free[:0]
}

// Disable flushes the cache and turns it into a pass-through.
func (c *SmallCache) Disable() {
	c.Flush()
	c.disabled = true
}

// Len returns the number of cached descriptors.
func (c *SmallCache) Len() int {
	return len(c.free)
}
