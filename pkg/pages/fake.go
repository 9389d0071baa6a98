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

package pages

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Op identifies a paging primitive of a Fake provider.
type Op int

const (
	OpMap Op = iota
	OpUnmap
	OpPurge
	OpHugify
	OpDehugify
	numOps
)

func (op Op) String() string {
	switch op {
	case OpMap:
		return "map"
	case OpUnmap:
		return "unmap"
	case OpPurge:
		return "purge"
	case OpHugify:
		return "hugify"
	case OpDehugify:
		return "dehugify"
	}
	return fmt.Sprintf("<unknown op %d>", int(op))
}

// ErrInjected is the default error returned by failing Fake primitives.
var ErrInjected = errors.New("pages: injected failure")

// FakeStats counts the primitives invoked on a Fake provider.
type FakeStats struct {
	Calls       [numOps]uint64
	Bytes       [numOps]uint64
	Failures    [numOps]uint64
	MappedBytes uintptr
}

// Fake is a Provider handing out synthetic address space. No memory is
// ever touched, so addresses must not be dereferenced.
type Fake struct {
	sync.Mutex
	hugepage  uintptr
	supported bool
	next      uintptr
	limit     uintptr
	fail      [numOps]error
	hooks     [numOps]func(addr, size uintptr)
	stats     FakeStats
}

// fakeBaseAddr is where synthetic address space starts.
const fakeBaseAddr = uintptr(1) << 40

// NewFake creates a fake provider with the given huge page size.
func NewFake(hugepage uintptr) *Fake {
	return &Fake{
		hugepage:  hugepage,
		supported: hugepage != 0,
		next:      fakeBaseAddr,
	}
}

// SetHugepageSupported overrides huge page support reported by the provider.
func (f *Fake) SetHugepageSupported(supported bool) {
	f.Lock()
	defer f.Unlock()
	f.supported = supported
}

// SetLimit limits the total number of mapped bytes, 0 means unlimited.
func (f *Fake) SetLimit(limit uintptr) {
	f.Lock()
	defer f.Unlock()
	f.limit = limit
}

// Fail makes op fail with err until called again with a nil error.
func (f *Fake) Fail(op Op, err error) {
	f.Lock()
	defer f.Unlock()
	f.fail[op] = err
}

// SetHook installs fn to be called, unlocked, by every op before it returns.
func (f *Fake) SetHook(op Op, fn func(addr, size uintptr)) {
	f.Lock()
	defer f.Unlock()
	f.hooks[op] = fn
}

// Stats returns a snapshot of the call counters.
func (f *Fake) Stats() FakeStats {
	f.Lock()
	defer f.Unlock()
	return f.stats
}

func (f *Fake) PageSize() uintptr {
	return Size
}

func (f *Fake) HugepageSize() uintptr {
	return f.hugepage
}

func (f *Fake) HugepageSupported() bool {
	f.Lock()
	defer f.Unlock()
	return f.supported
}

// call accounts for op and returns its hook or injected error.
func (f *Fake) call(op Op, size uintptr) (func(addr, size uintptr), error) {
	f.stats.Calls[op]++
	if err := f.fail[op]; err != nil {
		f.stats.Failures[op]++
		return nil, err
	}
	f.stats.Bytes[op] += uint64(size)
	return f.hooks[op], nil
}

func (f *Fake) Map(size, alignment uintptr) (uintptr, error) {
	f.Lock()
	hook, err := f.call(OpMap, size)
	if err == nil && f.limit != 0 && f.stats.MappedBytes+size > f.limit {
		f.stats.Failures[OpMap]++
		err = errors.Wrapf(ErrInjected, "mapping limit of %d bytes reached", f.limit)
	}
	if err != nil {
		f.Unlock()
		return 0, err
	}

	if alignment < Size {
		alignment = Size
	}
	addr := AlignUp(f.next, alignment)
	f.next = addr + PageAlign(size)
	f.stats.MappedBytes += size
	f.Unlock()

	if hook != nil {
		hook(addr, size)
	}
	return addr, nil
}

func (f *Fake) Unmap(addr, size uintptr) error {
	return f.simple(OpUnmap, addr, size)
}

func (f *Fake) Purge(addr, size uintptr) error {
	return f.simple(OpPurge, addr, size)
}

func (f *Fake) Hugify(addr, size uintptr) error {
	return f.simple(OpHugify, addr, size)
}

func (f *Fake) Dehugify(addr, size uintptr) error {
	return f.simple(OpDehugify, addr, size)
}

func (f *Fake) simple(op Op, addr, size uintptr) error {
	f.Lock()
	hook, err := f.call(op, size)
	if err == nil && op == OpUnmap {
		f.stats.MappedBytes -= size
	}
	f.Unlock()

	if err != nil {
		return errors.Wrapf(err, "%s of %#x+%d", op, addr, size)
	}
	if hook != nil {
		hook(addr, size)
	}
	return nil
}
