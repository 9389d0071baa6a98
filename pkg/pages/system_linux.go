//go:build linux
// +build linux

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
	"os"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// system is the Provider backed by the running kernel.
type system struct {
	pageSize uintptr
	thp      THPState
}

// NewSystem returns the Provider of the running kernel. Huge page support
// is probed once, from sysfs.
func NewSystem() Provider {
	s := &system{
		pageSize: uintptr(os.Getpagesize()),
	}

	thp, err := ProbeTHP(SysfsTHPDir)
	if err != nil {
		log.Warn("transparent huge pages unavailable: %v", err)
	}
	s.thp = thp

	return s
}

func (s *system) PageSize() uintptr {
	return s.pageSize
}

func (s *system) HugepageSize() uintptr {
	return s.thp.Size
}

func (s *system) HugepageSupported() bool {
	return strconv.IntSize == 64 && s.pageSize <= Size && s.thp.Usable()
}

func (s *system) Map(size, alignment uintptr) (uintptr, error) {
	if alignment <= s.pageSize {
		return s.mmap(size)
	}

	// over-allocate, then trim to the requested alignment
	total := size + alignment - s.pageSize
	if total < size {
		return 0, errors.Errorf("mmap of %d bytes aligned to %d overflows", size, alignment)
	}
	addr, err := s.mmap(total)
	if err != nil {
		return 0, err
	}

	aligned := AlignUp(addr, alignment)
	if lead := aligned - addr; lead > 0 {
		if err := munmap(addr, lead); err != nil {
			log.Error("failed to trim %d leading bytes of mapping %#x: %v", lead, addr, err)
		}
	}
	if trail := addr + total - (aligned + size); trail > 0 {
		if err := munmap(aligned+size, trail); err != nil {
			log.Error("failed to trim %d trailing bytes of mapping %#x: %v", trail, addr, err)
		}
	}

	return aligned, nil
}

func (s *system) mmap(size uintptr) (uintptr, error) {
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE,
		^uintptr(0), 0)
	if errno != 0 {
		return 0, errors.Wrapf(errno, "mmap of %d bytes failed", size)
	}
	return addr, nil
}

func munmap(addr, size uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, size, 0); errno != 0 {
		return errors.Wrapf(errno, "munmap of %#x+%d failed", addr, size)
	}
	return nil
}

func madvise(addr, size uintptr, advice int) error {
	if _, _, errno := unix.Syscall(unix.SYS_MADVISE, addr, size, uintptr(advice)); errno != 0 {
		return errors.Wrapf(errno, "madvise(%#x+%d, %d) failed", addr, size, advice)
	}
	return nil
}

func (s *system) Unmap(addr, size uintptr) error {
	return munmap(addr, size)
}

func (s *system) Purge(addr, size uintptr) error {
	return madvise(addr, size, unix.MADV_DONTNEED)
}

func (s *system) Hugify(addr, size uintptr) error {
	return madvise(addr, size, unix.MADV_HUGEPAGE)
}

func (s *system) Dehugify(addr, size uintptr) error {
	return madvise(addr, size, unix.MADV_NOHUGEPAGE)
}
