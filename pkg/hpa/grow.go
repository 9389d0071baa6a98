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
	"github.com/pkg/errors"

	"github.com/intel/hpalloc/pkg/hpdata"
	"github.com/intel/hpalloc/pkg/pai"
)

// growLocked creates a new, empty pageslab, carving it from eden or from
// a fresh mapping. The grow lock must be held. On error nothing is left
// mapped and eden is unchanged.
func (s *Shard) growLocked() (*hpdata.Pageslab, error) {
	var (
		addr    uintptr
		eden    uintptr
		edenLen uintptr
		mapped  uintptr
	)

	switch g := &s.grow; {
	case g.edenLen == s.hugepage:
		addr = g.eden
	case g.edenLen == 0:
		size := uintptr(s.opts.EdenHugepages) * s.hugepage
		m, err := s.pages.Map(size, s.hugepage)
		if err != nil {
			return nil, errors.Wrapf(pai.ErrOOM, "failed to map %d bytes: %v", size, err)
		}
		addr, mapped = m, size
		eden, edenLen = m+s.hugepage, size-s.hugepage
	default:
		addr = g.eden
		eden, edenLen = g.eden+s.hugepage, g.edenLen-s.hugepage
	}

	if err := s.base.Alloc(hpdata.MetadataSize); err != nil {
		if mapped != 0 {
			if uerr := s.pages.Unmap(addr, mapped); uerr != nil {
				log.Error("failed to unmap %#x+%d: %v", addr, mapped, uerr)
			}
		}
		return nil, errors.Wrapf(pai.ErrOOM, "pageslab metadata: %v", err)
	}

	if edenLen == 0 {
		eden = 0
	}
	s.grow.eden, s.grow.edenLen = eden, edenLen
	s.edenSize.Store(edenLen)

	ps := hpdata.New(addr, s.npages, s.age.Add(1)-1)

	if log.DebugEnabled() {
		log.Debug("grew %s, eden %#x+%d", ps, eden, edenLen)
	}

	return ps, nil
}
