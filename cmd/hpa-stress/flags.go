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
	"flag"
	"time"

	"github.com/pkg/errors"

	"github.com/intel/hpalloc/pkg/config"
)

const (
	// Flag for specifying a configuration file.
	optionConfigFile = "config"
	// Flag for the address to serve metrics on.
	optionMetricsAddr = "metrics-addr"
	// Flag for printing gathered metrics at exit.
	optionPrintMetrics = "print-metrics"
	// Flag for printing configuration help.
	optionConfigHelp = "config-help"
	// Flag for printing the effective configuration.
	optionDumpConfig = "dump-config"

	configFragment = "allocator.stress"

	providerSystem = "system"
	providerFake   = "fake"
)

// options are our command line options.
type options struct {
	configFile   string
	metricsAddr  string
	printMetrics bool
	configHelp   bool
	dumpConfig   bool
}

// Config is the configuration of the workload.
type Config struct {
	// Provider is the paging provider, "system" or "fake".
	Provider string `json:"provider"`
	// Workers is the number of concurrent workers.
	Workers int `json:"workers"`
	// Ops is the number of operations per worker.
	Ops int `json:"ops"`
	// MaxPages is the largest request in pages.
	MaxPages int `json:"maxPages"`
	// MaxLive is the most extents a worker keeps allocated.
	MaxLive int `json:"maxLive"`
	// SlabPercent is the share of requests allocated as slabs.
	SlabPercent int `json:"slabPercent"`
	// DeferredInterval is how often deferred work is run in the background.
	DeferredInterval config.Duration `json:"deferredInterval"`
	// Seed seeds the random generators of the workers.
	Seed int64 `json:"seed"`
}

var (
	opt = options{}
	cfg = &Config{}
)

// Reset resets the configuration to its defaults.
func (c *Config) Reset() {
	*c = Config{
		Provider:         providerSystem,
		Workers:          4,
		Ops:              100000,
		MaxPages:         32,
		MaxLive:          1024,
		SlabPercent:      50,
		DeferredInterval: config.Duration(10 * time.Millisecond),
		Seed:             1,
	}
}

// Describe returns help for the configuration.
func (c *Config) Describe() string {
	return `Allocator stress workload.

  allocator:
    stress:
      # paging provider: system or fake
      provider: system
      workers: 4
      # operations per worker
      ops: 100000
      # requests are 1 to maxPages pages
      maxPages: 32
      # most extents a worker keeps allocated
      maxLive: 1024
      # share of requests allocated as slabs
      slabPercent: 50
      # interval of background deferred work, 0 to disable
      deferredInterval: 10ms
      seed: 1
`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Provider != providerSystem && c.Provider != providerFake:
		return errors.Errorf("invalid provider %q", c.Provider)
	case c.Workers < 1:
		return errors.Errorf("invalid number of workers %d", c.Workers)
	case c.Ops < 0:
		return errors.Errorf("invalid number of operations %d", c.Ops)
	case c.MaxPages < 1:
		return errors.Errorf("invalid request size limit %d", c.MaxPages)
	case c.MaxLive < 1:
		return errors.Errorf("invalid live extent limit %d", c.MaxLive)
	case c.SlabPercent < 0 || c.SlabPercent > 100:
		return errors.Errorf("invalid slab percentage %d", c.SlabPercent)
	case c.DeferredInterval < 0:
		return errors.Errorf("invalid deferred work interval %s", c.DeferredInterval)
	}
	return nil
}

func init() {
	flag.StringVar(&opt.configFile, optionConfigFile, "", "file to read configuration from")
	flag.StringVar(&opt.metricsAddr, optionMetricsAddr, "", "address to serve metrics on, empty to disable")
	flag.BoolVar(&opt.printMetrics, optionPrintMetrics, false, "print gathered metrics at exit")
	flag.BoolVar(&opt.configHelp, optionConfigHelp, false, "print help on configuration and exit")
	flag.BoolVar(&opt.dumpConfig, optionDumpConfig, false, "print the effective configuration")

	if err := config.Register(configFragment, cfg); err != nil {
		log.Fatal("failed to register configuration: %v", err)
	}
}
