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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// SysfsTHPDir is the sysfs directory of transparent huge page controls.
	SysfsTHPDir = "/sys/kernel/mm/transparent_hugepage"

	thpSizeEntry    = "hpage_pmd_size"
	thpEnabledEntry = "enabled"
)

// THPState describes transparent huge page support of the running kernel.
type THPState struct {
	// Size is the PMD-level huge page size, 0 if it could not be read.
	Size uintptr
	// Mode is the active mode: always, madvise, or never.
	Mode string
}

// Usable returns true if huge pages can be requested with madvise.
func (s THPState) Usable() bool {
	return s.Size != 0 && (s.Mode == "always" || s.Mode == "madvise")
}

// ProbeTHP reads transparent huge page settings under dir.
func ProbeTHP(dir string) (THPState, error) {
	state := THPState{}

	buf, err := readSysfsEntry(dir, thpSizeEntry)
	if err != nil {
		return state, err
	}
	size, err := strconv.ParseUint(buf, 10, 64)
	if err != nil {
		return state, errors.Wrapf(err, "invalid %s entry %q", thpSizeEntry, buf)
	}
	state.Size = uintptr(size)

	buf, err = readSysfsEntry(dir, thpEnabledEntry)
	if err != nil {
		return state, err
	}
	state.Mode = parseActiveMode(buf)
	if state.Mode == "" {
		return state, errors.Errorf("no active mode in %s entry %q", thpEnabledEntry, buf)
	}

	return state, nil
}

// readSysfsEntry reads a sysfs entry with trailing newlines trimmed.
func readSysfsEntry(dir, entry string) (string, error) {
	path := filepath.Join(dir, entry)
	blob, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read sysfs entry %s", path)
	}
	return strings.Trim(string(blob), "\n"), nil
}

// parseActiveMode picks the bracketed choice, as in "always [madvise] never".
func parseActiveMode(buf string) string {
	for _, choice := range strings.Fields(buf) {
		if strings.HasPrefix(choice, "[") && strings.HasSuffix(choice, "]") {
			return strings.Trim(choice, "[]")
		}
	}
	return ""
}
