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
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intel/hpalloc/pkg/hpdata"
	"github.com/intel/hpalloc/pkg/psset"
)

// Nonderived are the statistics of a shard which can't be derived from
// the state of its pageslabs.
type Nonderived struct {
	// NpurgePasses is the number of pageslabs purged.
	NpurgePasses uint64
	// Npurges is the number of ranges purged.
	Npurges uint64
	// Nhugifies is the number of hugifications.
	Nhugifies uint64
	// NhugifyFailures is the number of hugifications the OS failed.
	NhugifyFailures uint64
	// Ndehugifies is the number of dehugifications.
	Ndehugifies uint64
}

// Stats are the statistics of a shard.
type Stats struct {
	Nonderived
	// Psset has pageslab counts and pages by huge and fullness.
	Psset psset.Stats
	// Nslabs is the number of pageslabs.
	Nslabs int
	// Nactive, Ndirty and Nretained are page counts over all pageslabs.
	Nactive   int
	Ndirty    int
	Nretained int
	// PendingPurge is the number of pages being purged.
	PendingPurge int
	// EdenBytes is the size of the unused tail of the last mapping.
	EdenBytes uintptr
}

// Stats returns the current statistics of the shard.
func (s *Shard) Stats() Stats {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return Stats{
		Nonderived:   s.mtx.stats,
		Psset:        s.mtx.psset.Stats(),
		Nslabs:       s.mtx.psset.Len(),
		Nactive:      s.mtx.psset.Nactive(),
		Ndirty:       s.mtx.psset.Ndirty(),
		Nretained:    s.mtx.psset.Nretained(),
		PendingPurge: s.mtx.npendingPurge,
		EdenBytes:    s.edenSize.Load(),
	}
}

// Consistent checks the invariants of the shard and its pageslabs.
func (s *Shard) Consistent() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var result *multierror.Error

	if s.mtx.npendingPurge > s.mtx.psset.Ndirty() {
		result = multierror.Append(result, errors.Errorf("%d pages pending purge, only %d dirty",
			s.mtx.npendingPurge, s.mtx.psset.Ndirty()))
	}
	s.mtx.psset.ForEach(func(ps *hpdata.Pageslab) bool {
		if err := ps.Consistent(); err != nil {
			result = multierror.Append(result, err)
		}
		return true
	})

	return result.ErrorOrNil()
}

// Destroy unmaps all address space of the shard. Every pageslab must be
// empty and no other call may be in progress.
func (s *Shard) Destroy() error {
	s.grow.Lock()
	defer s.grow.Unlock()
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var (
		result *multierror.Error
		slabs  []*hpdata.Pageslab
	)

	s.mtx.psset.ForEach(func(ps *hpdata.Pageslab) bool {
		if !ps.Empty() {
			result = multierror.Append(result, errors.Errorf("%s has %d active pages", ps, ps.Nactive()))
		}
		slabs = append(slabs, ps)
		return true
	})
	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrap(err, "hpa: can't destroy shard")
	}

	for _, ps := range slabs {
		s.mtx.psset.Remove(ps)
		if err := s.pages.Unmap(ps.Addr(), s.hugepage); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.grow.edenLen != 0 {
		if err := s.pages.Unmap(s.grow.eden, s.grow.edenLen); err != nil {
			result = multierror.Append(result, err)
		}
		s.grow.eden, s.grow.edenLen = 0, 0
		s.edenSize.Store(0)
	}
	s.mtx.extents.Flush()

	log.Info("shard destroyed, %d pageslabs unmapped", len(slabs))

	return result.ErrorOrNil()
}
