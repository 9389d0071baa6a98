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

package psset

import (
	"github.com/intel/hpalloc/pkg/hpdata"
)

// BinStats are the statistics of one class of pageslabs.
type BinStats struct {
	Npageslabs int
	Nactive    int
	Ndirty     int
}

func (b *BinStats) add(o BinStats) {
	b.Npageslabs += o.Npageslabs
	b.Nactive += o.Nactive
	b.Ndirty += o.Ndirty
}

// Stats are the statistics of a set, indexed by huge (1) or not (0).
type Stats struct {
	Full    [2]BinStats
	Empty   [2]BinStats
	Nonfull [2]BinStats
}

// Merged returns the sum of all bins.
func (s Stats) Merged() BinStats {
	m := BinStats{}
	for huge := 0; huge < 2; huge++ {
		m.add(s.Full[huge])
		m.add(s.Empty[huge])
		m.add(s.Nonfull[huge])
	}
	return m
}

func (s *Stats) bin(ps *hpdata.Pageslab) *BinStats {
	huge := 0
	if ps.Huge() {
		huge = 1
	}
	switch {
	case ps.Empty():
		return &s.Empty[huge]
	case ps.Full():
		return &s.Full[huge]
	}
	return &s.Nonfull[huge]
}

func (s *Set) statsAdd(ps *hpdata.Pageslab) {
	b := s.stats.bin(ps)
	b.Npageslabs++
	b.Nactive += ps.Nactive()
	b.Ndirty += ps.Ndirty()
	s.nactive += ps.Nactive()
	s.ndirty += ps.Ndirty()
	s.nretained += ps.Nretained()
}

func (s *Set) statsRemove(ps *hpdata.Pageslab) {
	b := s.stats.bin(ps)
	b.Npageslabs--
	b.Nactive -= ps.Nactive()
	b.Ndirty -= ps.Ndirty()
	s.nactive -= ps.Nactive()
	s.ndirty -= ps.Ndirty()
	s.nretained -= ps.Nretained()
}

// Stats returns a snapshot of the per-class statistics.
func (s *Set) Stats() Stats {
	return s.stats
}

// Nactive returns the number of active pages in the set.
func (s *Set) Nactive() int {
	return s.nactive
}

// Ndirty returns the number of dirty pages in the set.
func (s *Set) Ndirty() int {
	return s.ndirty
}

// Nretained returns the number of retained pages in the set.
func (s *Set) Nretained() int {
	return s.nretained
}
