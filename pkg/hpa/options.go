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
	"fmt"

	"github.com/pkg/errors"

	"github.com/intel/hpalloc/pkg/config"
	"github.com/intel/hpalloc/pkg/fxp"
	"github.com/intel/hpalloc/pkg/pages"
)

// MaxDeferredOps caps the number of hugify/purge rounds done in one pass
// of deferred work, bounding the latency it adds to an allocation.
const MaxDeferredOps = 100

const (
	defaultSlabMaxAlloc  = 64 << 10
	defaultHugifyPct     = 95
	defaultDehugifyPct   = 20
	defaultDirtyMultPct  = 25
	defaultEdenHugepages = 128
	configFragment       = "allocator.hpa"
)

// Options are the immutable settings of a shard.
type Options struct {
	// SlabMaxAlloc is the largest request served, larger ones are refused.
	SlabMaxAlloc uintptr
	// HugificationThreshold is the number of active bytes at which a
	// pageslab becomes eligible for hugification.
	HugificationThreshold uintptr
	// DehugificationThreshold is the number of active bytes below which a
	// huge pageslab is purged as eagerly as a non-huge one.
	DehugificationThreshold uintptr
	// DirtyMult is the allowed ratio of dirty to active pages, or
	// fxp.Disabled for no limit.
	DirtyMult fxp.Fxp
	// EdenHugepages is the number of hugepages mapped at a time to grow.
	EdenHugepages int
}

// DefaultOptions returns the default options for the given hugepage size.
func DefaultOptions(hugepage uintptr) Options {
	return Options{
		SlabMaxAlloc:            defaultSlabMaxAlloc,
		HugificationThreshold:   hugepage * defaultHugifyPct / 100,
		DehugificationThreshold: hugepage * defaultDehugifyPct / 100,
		DirtyMult:               fxp.Percent(defaultDirtyMultPct),
		EdenHugepages:           defaultEdenHugepages,
	}
}

// Validate checks the options against the given hugepage size.
func (o Options) Validate(hugepage uintptr) error {
	switch {
	case o.SlabMaxAlloc == 0 || o.SlabMaxAlloc > hugepage:
		return errors.Errorf("hpa: slab max alloc %d out of range (page..%d)", o.SlabMaxAlloc, hugepage)
	case !pages.IsAligned(o.SlabMaxAlloc, pages.Size):
		return errors.Errorf("hpa: slab max alloc %d is not page aligned", o.SlabMaxAlloc)
	case o.HugificationThreshold > hugepage:
		return errors.Errorf("hpa: hugification threshold %d exceeds hugepage", o.HugificationThreshold)
	case o.DehugificationThreshold > hugepage:
		return errors.Errorf("hpa: dehugification threshold %d exceeds hugepage", o.DehugificationThreshold)
	case o.EdenHugepages < 1:
		return errors.Errorf("hpa: invalid number of eden hugepages %d", o.EdenHugepages)
	}
	return nil
}

func (o Options) String() string {
	return fmt.Sprintf("slab max alloc %d, hugify at %d, dehugify below %d, dirty mult %s, eden %d hugepages",
		o.SlabMaxAlloc, o.HugificationThreshold, o.DehugificationThreshold, o.DirtyMult, o.EdenHugepages)
}

// Config is the runtime configuration of shards. Unset sizes take their
// defaults relative to the hugepage size.
type Config struct {
	// SlabMaxAlloc is the largest request served.
	SlabMaxAlloc config.Size `json:"slabMaxAlloc,omitempty"`
	// HugificationThreshold is the active size at which pageslabs get hugified.
	HugificationThreshold config.Size `json:"hugificationThreshold,omitempty"`
	// DehugificationThreshold is the active size below which huge pageslabs
	// are purged eagerly.
	DehugificationThreshold config.Size `json:"dehugificationThreshold,omitempty"`
	// DirtyMult is the allowed ratio of dirty to active pages, or "disabled".
	DirtyMult fxp.Fxp `json:"dirtyMult"`
	// EdenHugepages is the number of hugepages to map at a time.
	EdenHugepages int `json:"edenHugepages,omitempty"`
}

var opt = &Config{}

// Reset resets the configuration to its defaults.
func (c *Config) Reset() {
	*c = Config{
		DirtyMult:     fxp.Percent(defaultDirtyMultPct),
		EdenHugepages: defaultEdenHugepages,
	}
}

// Describe returns help for the configuration.
func (c *Config) Describe() string {
	return `Huge page aware allocator shard.

  allocator:
    hpa:
      # largest request served
      slabMaxAlloc: 64k
      # active size making a pageslab eligible for hugification,
      # 95% of a hugepage by default
      hugificationThreshold: 1944k
      # active size below which huge pageslabs are purged eagerly,
      # 20% of a hugepage by default
      dehugificationThreshold: 408k
      # allowed ratio of dirty to active pages, or "disabled"
      dirtyMult: 0.25
      # number of hugepages mapped at a time when growing
      edenHugepages: 128
`
}

// Validate checks the hugepage independent parts of the configuration.
func (c *Config) Validate() error {
	if c.EdenHugepages < 0 {
		return errors.Errorf("invalid number of eden hugepages %d", c.EdenHugepages)
	}
	for name, size := range map[string]config.Size{
		"slabMaxAlloc":            c.SlabMaxAlloc,
		"hugificationThreshold":   c.HugificationThreshold,
		"dehugificationThreshold": c.DehugificationThreshold,
	} {
		if !pages.IsAligned(uintptr(size), pages.Size) {
			return errors.Errorf("%s %s is not page aligned", name, size)
		}
	}
	return nil
}

// Options returns shard options for the given hugepage size.
func (c *Config) Options(hugepage uintptr) Options {
	o := DefaultOptions(hugepage)
	if c.SlabMaxAlloc != 0 {
		o.SlabMaxAlloc = uintptr(c.SlabMaxAlloc)
	}
	if c.HugificationThreshold != 0 {
		o.HugificationThreshold = uintptr(c.HugificationThreshold)
	}
	if c.DehugificationThreshold != 0 {
		o.DehugificationThreshold = uintptr(c.DehugificationThreshold)
	}
	if c.EdenHugepages != 0 {
		o.EdenHugepages = c.EdenHugepages
	}
	o.DirtyMult = c.DirtyMult
	return o
}

// ConfiguredOptions returns options from the runtime configuration.
func ConfiguredOptions(hugepage uintptr) Options {
	return opt.Options(hugepage)
}

func init() {
	if err := config.Register(configFragment, opt); err != nil {
		log.Error("failed to register configuration: %v", err)
	}
}
