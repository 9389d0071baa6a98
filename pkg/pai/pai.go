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

// Package pai defines the interface shared by page allocators.
package pai

import (
	"github.com/pkg/errors"

	"github.com/intel/hpalloc/pkg/extent"
)

var (
	// ErrOOM is returned when address space or metadata is exhausted.
	ErrOOM = errors.New("page allocator: out of memory")
	// ErrRefused is returned when a request is outside what the allocator serves.
	ErrRefused = errors.New("page allocator: request refused")
	// ErrUnsupported is returned for operations the allocator does not implement.
	ErrUnsupported = errors.New("page allocator: operation not supported")
)

// Source tags telling which page allocator an extent belongs to.
const (
	SourceHPA      = extent.SourceHPA
	SourceFallback = extent.SourceFallback
)

// Interface is implemented by page allocators.
type Interface interface {
	// Alloc allocates size bytes aligned to alignment. On failure the extent
	// is nil and the error is ErrOOM or ErrRefused.
	Alloc(size, alignment uintptr, zero bool) (*extent.Extent, error)
	// AllocBatch appends at most nallocs extents of size bytes to results.
	// It is best effort; a short batch is not an error.
	AllocBatch(size uintptr, nallocs int, results []*extent.Extent) []*extent.Extent
	// Expand grows e in place from oldSize to newSize.
	Expand(e *extent.Extent, oldSize, newSize uintptr, zero bool) error
	// Shrink shrinks e in place from oldSize to newSize.
	Shrink(e *extent.Extent, oldSize, newSize uintptr) error
	// Dalloc releases e.
	Dalloc(e *extent.Extent)
	// DallocBatch releases every extent in *list and empties it.
	DallocBatch(list *[]*extent.Extent)
}

// AllocBatchDefault implements AllocBatch on top of Alloc.
func AllocBatchDefault(p Interface, size uintptr, nallocs int, results []*extent.Extent) []*extent.Extent {
	for i := 0; i < nallocs; i++ {
		e, err := p.Alloc(size, 1, false)
		if err != nil {
			break
		}
		results = append(results, e)
	}
	return results
}

// DallocBatchDefault implements DallocBatch on top of Dalloc.
func DallocBatchDefault(p Interface, list *[]*extent.Extent) {
	for i, e := range *list {
		p.Dalloc(e)
		(*list)[i] = nil
	}
	*list = (*list)[:0]
}
