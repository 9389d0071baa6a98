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
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/hpalloc/pkg/config"
	"github.com/intel/hpalloc/pkg/metrics"
)

func testConfig() Config {
	c := Config{}
	c.Reset()
	c.Provider = providerFake
	c.Ops = 2000
	c.MaxLive = 64
	c.DeferredInterval = config.Duration(time.Millisecond)
	return c
}

func newTestStress(t *testing.T, c Config) *stress {
	s, err := newStress(c)
	require.NoError(t, err)
	t.Cleanup(func() {
		metrics.UnregisterCollector("pa")
		metrics.UnregisterCollector("hpa")
	})
	return s
}

func TestConfigValidate(t *testing.T) {
	tcases := []struct {
		name   string
		modify func(c *Config)
		valid  bool
	}{
		{name: "defaults", modify: func(c *Config) {}, valid: true},
		{name: "provider", modify: func(c *Config) { c.Provider = "mmap" }},
		{name: "workers", modify: func(c *Config) { c.Workers = 0 }},
		{name: "ops", modify: func(c *Config) { c.Ops = -1 }},
		{name: "max pages", modify: func(c *Config) { c.MaxPages = 0 }},
		{name: "max live", modify: func(c *Config) { c.MaxLive = 0 }},
		{name: "slab percent", modify: func(c *Config) { c.SlabPercent = 101 }},
		{name: "interval", modify: func(c *Config) { c.DeferredInterval = -1 }},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c := testConfig()
			tc.modify(&c)
			if tc.valid {
				require.NoError(t, c.Validate())
			} else {
				require.Error(t, c.Validate())
			}
		})
	}
}

func TestRun(t *testing.T) {
	s := newTestStress(t, testConfig())
	require.NotNil(t, s.shard.HPA(), "fake provider supports huge pages")

	require.NoError(t, s.run(context.Background()))
	require.Zero(t, s.shard.Nactive())
	require.Equal(t, s.nallocs.Load(), s.nfrees.Load())
	require.Zero(t, s.noom.Load())
	require.NoError(t, s.shard.HPA().Consistent())
	s.report()

	buf := &bytes.Buffer{}
	require.NoError(t, dumpMetrics(buf))
	require.Contains(t, buf.String(), `pa_active_pages{shard="stress"} 0`)
	require.Contains(t, buf.String(), "hpa_pageslabs")

	require.NoError(t, s.destroy())
	require.Zero(t, s.direct.Mapped())
}

func TestRunCanceled(t *testing.T) {
	c := testConfig()
	c.Ops = 1 << 30
	s := newTestStress(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.run(ctx))
	require.Zero(t, s.shard.Nactive())
	require.NoError(t, s.destroy())
}
