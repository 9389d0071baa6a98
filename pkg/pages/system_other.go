//go:build !linux
// +build !linux

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

import "os"

type system struct {
	pageSize uintptr
}

// NewSystem returns a Provider without any usable primitive.
func NewSystem() Provider {
	return &system{pageSize: uintptr(os.Getpagesize())}
}

func (s *system) PageSize() uintptr                            { return s.pageSize }
func (s *system) HugepageSize() uintptr                        { return 0 }
func (s *system) HugepageSupported() bool                      { return false }
func (s *system) Map(size, alignment uintptr) (uintptr, error) { return 0, ErrUnsupported }
func (s *system) Unmap(addr, size uintptr) error               { return ErrUnsupported }
func (s *system) Purge(addr, size uintptr) error               { return ErrUnsupported }
func (s *system) Hugify(addr, size uintptr) error              { return ErrUnsupported }
func (s *system) Dehugify(addr, size uintptr) error            { return ErrUnsupported }
