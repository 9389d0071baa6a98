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

// Package metrics collects the Prometheus collectors of the allocator
// components and gathers them in a single registry.
package metrics

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/intel/hpalloc/pkg/log"
)

// InitCollector is the type for functions that initialize collectors.
type InitCollector func() (prometheus.Collector, error)

type registry struct {
	sync.Mutex
	builtin     map[string]InitCollector
	initialized map[string]prometheus.Collector
}

var (
	log = logger.NewLogger("metrics")
	reg = &registry{
		builtin:     make(map[string]InitCollector),
		initialized: make(map[string]prometheus.Collector),
	}
)

// RegisterCollector registers the named prometheus.Collector for metrics collection.
func RegisterCollector(name string, init InitCollector) error {
	reg.Lock()
	defer reg.Unlock()

	if _, found := reg.builtin[name]; found {
		return metricsError("collector %s already registered", name)
	}

	log.Info("registering collector %s...", name)
	reg.builtin[name] = init

	return nil
}

// UnregisterCollector forgets the named collector, for components that
// are torn down before the process exits.
func UnregisterCollector(name string) {
	reg.Lock()
	defer reg.Unlock()
	delete(reg.builtin, name)
	delete(reg.initialized, name)
}

// NewMetricGatherer creates a new prometheus.Gatherer with all registered collectors.
func NewMetricGatherer() (prometheus.Gatherer, error) {
	reg.Lock()
	defer reg.Unlock()

	names := make([]string, 0, len(reg.builtin))
	for name := range reg.builtin {
		names = append(names, name)
	}
	sort.Strings(names)

	gatherer := prometheus.NewPedanticRegistry()
	for _, name := range names {
		c, ok := reg.initialized[name]
		if !ok {
			var err error
			if c, err = reg.builtin[name](); err != nil {
				log.Error("failed to initialize collector '%s': %v, skipping it", name, err)
				continue
			}
			reg.initialized[name] = c
		}
		if err := gatherer.Register(c); err != nil {
			return nil, errors.Wrapf(err, "metrics: failed to register collector %s", name)
		}
	}

	return gatherer, nil
}

func metricsError(format string, args ...interface{}) error {
	return errors.Errorf("metrics: "+format, args...)
}
