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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/hpalloc/pkg/psset"
)

// Prometheus Metric descriptor indices and descriptor table
const (
	pageslabsDesc = iota
	activePagesDesc
	dirtyPagesDesc
	retainedPagesDesc
	pendingPurgeDesc
	edenBytesDesc
	purgePassesDesc
	purgesDesc
	hugifiesDesc
	hugifyFailuresDesc
	dehugifiesDesc
	numDescriptors
)

var descriptors = [numDescriptors]*prometheus.Desc{
	pageslabsDesc: prometheus.NewDesc(
		"hpa_pageslabs",
		"Number of pageslabs by huge and fullness state.",
		[]string{"shard", "huge", "state"}, nil,
	),
	activePagesDesc: prometheus.NewDesc(
		"hpa_active_pages",
		"Pages handed out, by huge and fullness state of their pageslab.",
		[]string{"shard", "huge", "state"}, nil,
	),
	dirtyPagesDesc: prometheus.NewDesc(
		"hpa_dirty_pages",
		"Touched but inactive pages, by huge and fullness state of their pageslab.",
		[]string{"shard", "huge", "state"}, nil,
	),
	retainedPagesDesc: prometheus.NewDesc(
		"hpa_retained_pages",
		"Untouched pages.",
		[]string{"shard"}, nil,
	),
	pendingPurgeDesc: prometheus.NewDesc(
		"hpa_pending_purge_pages",
		"Pages being purged.",
		[]string{"shard"}, nil,
	),
	edenBytesDesc: prometheus.NewDesc(
		"hpa_eden_bytes",
		"Mapped address space not yet carved into pageslabs.",
		[]string{"shard"}, nil,
	),
	purgePassesDesc: prometheus.NewDesc(
		"hpa_purge_passes_total",
		"Number of pageslabs purged.",
		[]string{"shard"}, nil,
	),
	purgesDesc: prometheus.NewDesc(
		"hpa_purges_total",
		"Number of page ranges purged.",
		[]string{"shard"}, nil,
	),
	hugifiesDesc: prometheus.NewDesc(
		"hpa_hugifies_total",
		"Number of pageslabs hugified.",
		[]string{"shard"}, nil,
	),
	hugifyFailuresDesc: prometheus.NewDesc(
		"hpa_hugify_failures_total",
		"Number of hugifications failed by the OS.",
		[]string{"shard"}, nil,
	),
	dehugifiesDesc: prometheus.NewDesc(
		"hpa_dehugifies_total",
		"Number of pageslabs dehugified.",
		[]string{"shard"}, nil,
	),
}

type collector struct {
	name  string
	shard *Shard
}

// NewCollector creates a Prometheus collector for the named shard.
func NewCollector(name string, s *Shard) prometheus.Collector {
	return &collector{name: name, shard: s}
}

// Describe implements prometheus.Collector interface
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector interface
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.shard.Stats()

	bins := []struct {
		state string
		bins  [2]psset.BinStats
	}{
		{"full", st.Psset.Full},
		{"empty", st.Psset.Empty},
		{"nonfull", st.Psset.Nonfull},
	}
	for _, b := range bins {
		for huge, bin := range b.bins {
			labels := []string{c.name, strconv.FormatBool(huge == 1), b.state}
			c.gauge(ch, pageslabsDesc, bin.Npageslabs, labels...)
			c.gauge(ch, activePagesDesc, bin.Nactive, labels...)
			c.gauge(ch, dirtyPagesDesc, bin.Ndirty, labels...)
		}
	}

	c.gauge(ch, retainedPagesDesc, st.Nretained, c.name)
	c.gauge(ch, pendingPurgeDesc, st.PendingPurge, c.name)
	c.gauge(ch, edenBytesDesc, int(st.EdenBytes), c.name)

	for idx, value := range map[int]uint64{
		purgePassesDesc:    st.NpurgePasses,
		purgesDesc:         st.Npurges,
		hugifiesDesc:       st.Nhugifies,
		hugifyFailuresDesc: st.NhugifyFailures,
		dehugifiesDesc:     st.Ndehugifies,
	} {
		ch <- prometheus.MustNewConstMetric(descriptors[idx],
			prometheus.CounterValue, float64(value), c.name)
	}
}

func (c *collector) gauge(ch chan<- prometheus.Metric, idx, value int, labels ...string) {
	ch <- prometheus.MustNewConstMetric(descriptors[idx],
		prometheus.GaugeValue, float64(value), labels...)
}
