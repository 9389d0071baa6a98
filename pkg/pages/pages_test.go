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
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestProbeTHP(t *testing.T) {
	tcases := []struct {
		name        string
		size        string
		enabled     string
		expected    THPState
		usable      bool
		expectedErr bool
	}{
		{
			name:     "madvise",
			size:     "2097152\n",
			enabled:  "always [madvise] never\n",
			expected: THPState{Size: 2 << 20, Mode: "madvise"},
			usable:   true,
		},
		{
			name:     "always",
			size:     "2097152\n",
			enabled:  "[always] madvise never\n",
			expected: THPState{Size: 2 << 20, Mode: "always"},
			usable:   true,
		},
		{
			name:     "never",
			size:     "2097152\n",
			enabled:  "always madvise [never]\n",
			expected: THPState{Size: 2 << 20, Mode: "never"},
		},
		{
			name:        "garbage size",
			size:        "two megs\n",
			enabled:     "[always] madvise never\n",
			expectedErr: true,
		},
		{
			name:        "no active mode",
			size:        "2097152\n",
			enabled:     "always madvise never\n",
			expectedErr: true,
		},
		{
			name:        "missing entries",
			expectedErr: true,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if tc.size != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, thpSizeEntry), []byte(tc.size), 0644))
			}
			if tc.enabled != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, thpEnabledEntry), []byte(tc.enabled), 0644))
			}
			state, err := ProbeTHP(dir)
			if tc.expectedErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, state)
			require.Equal(t, tc.usable, state.Usable())
		})
	}
}

func TestFakeMap(t *testing.T) {
	const hugepage = 2 << 20
	f := NewFake(hugepage)
	require.True(t, f.HugepageSupported())

	a, err := f.Map(Size, 0)
	require.NoError(t, err)
	require.True(t, IsAligned(a, Size))

	b, err := f.Map(3*hugepage, hugepage)
	require.NoError(t, err)
	require.True(t, IsAligned(b, hugepage))
	require.True(t, b >= a+Size)

	c, err := f.Map(Size, 0)
	require.NoError(t, err)
	require.True(t, c >= b+3*hugepage, "mappings must not overlap")

	require.NoError(t, f.Unmap(a, Size))
	st := f.Stats()
	require.Equal(t, uint64(3), st.Calls[OpMap])
	require.Equal(t, uint64(1), st.Calls[OpUnmap])
	require.Equal(t, 3*hugepage+Size, st.MappedBytes)
}

func TestFakeFailures(t *testing.T) {
	f := NewFake(2 << 20)

	f.Fail(OpPurge, ErrInjected)
	err := f.Purge(0x1000, Size)
	require.True(t, errors.Is(err, ErrInjected))
	f.Fail(OpPurge, nil)
	require.NoError(t, f.Purge(0x1000, Size))

	f.SetLimit(2 * Size)
	_, err = f.Map(Size, 0)
	require.NoError(t, err)
	_, err = f.Map(2*Size, 0)
	require.Error(t, err)

	st := f.Stats()
	require.Equal(t, uint64(2), st.Calls[OpPurge])
	require.Equal(t, uint64(1), st.Failures[OpPurge])
	require.Equal(t, uint64(1), st.Failures[OpMap])
}

func TestFakeHook(t *testing.T) {
	f := NewFake(2 << 20)
	var seen []uintptr
	f.SetHook(OpHugify, func(addr, size uintptr) {
		seen = append(seen, addr, size)
	})
	require.NoError(t, f.Hugify(0x200000, 0x200000))
	require.Equal(t, []uintptr{0x200000, 0x200000}, seen)
}

func TestSystemProvider(t *testing.T) {
	p := NewSystem()
	if !p.HugepageSupported() {
		t.Skip("transparent huge pages not usable on this host")
	}

	hugepage := p.HugepageSize()
	addr, err := p.Map(2*hugepage, hugepage)
	require.NoError(t, err)
	require.True(t, IsAligned(addr, hugepage))

	require.NoError(t, p.Hugify(addr, hugepage))
	require.NoError(t, p.Purge(addr, hugepage))
	require.NoError(t, p.Dehugify(addr, hugepage))
	require.NoError(t, p.Unmap(addr, 2*hugepage))
}
