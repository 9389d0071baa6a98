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
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/intel/hpalloc/pkg/fxp"
)

func TestCollector(t *testing.T) {
	opts := testOptions()
	opts.HugificationThreshold = 8 * pg
	opts.DirtyMult = fxp.Disabled
	env := newTestEnv(t, opts)

	c := NewCollector("test", env.Shard)
	require.Equal(t, 3*2*3+3+5, testutil.CollectAndCount(c))

	e, err := env.Alloc(8*pg, pg, false)
	require.NoError(t, err)

	expected := `
# HELP hpa_hugifies_total Number of pageslabs hugified.
# TYPE hpa_hugifies_total counter
hpa_hugifies_total{shard="test"} 1
# HELP hpa_eden_bytes Mapped address space not yet carved into pageslabs.
# TYPE hpa_eden_bytes gauge
hpa_eden_bytes{shard="test"} 6.291456e+06
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"hpa_hugifies_total", "hpa_eden_bytes"))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	env.Dalloc(e)
}
