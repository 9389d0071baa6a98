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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	activePagesDesc = prometheus.NewDesc(
		"pa_active_pages",
		"Pages handed out by the shard.",
		[]string{"shard"}, nil,
	)
	hpaEnabledDesc = prometheus.NewDesc(
		"pa_hpa_enabled",
		"Whether requests are routed to the huge page aware allocator.",
		[]string{"shard"}, nil,
	)
)

type collector struct {
	name  string
	shard *Shard
}

// NewCollector creates a Prometheus collector for the shard.
func NewCollector(name string, s *Shard) prometheus.Collector {
	return &collector{name: name, shard: s}
}

// Describe implements prometheus.Collector interface
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- activePagesDesc
	ch <- hpaEnabledDesc
}

// Collect implements prometheus.Collector interface
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	enabled := 0.0
	if c.shard.HPAEnabled() {
		enabled = 1.0
	}
	ch <- prometheus.MustNewConstMetric(activePagesDesc,
		prometheus.GaugeValue, float64(c.shard.Nactive()), c.name)
	ch <- prometheus.MustNewConstMetric(hpaEnabledDesc,
		prometheus.GaugeValue, enabled, c.name)
}
