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

package config

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Size is a byte count which unmarshals from a plain number or a string
// with an optional k, M, G or T suffix (powers of 1024).
type Size uint64

var sizeUnits = []struct {
	suffix string
	shift  uint
}{
	{"T", 40},
	{"G", 30},
	{"M", 20},
	{"K", 10},
}

// ParseSize parses a size like "64k", "2M", "1.5G" or "4096".
func ParseSize(s string) (Size, error) {
	str := strings.ToUpper(strings.TrimSpace(s))
	str = strings.TrimSuffix(strings.TrimSuffix(str, "B"), "I")
	shift := uint(0)
	for _, u := range sizeUnits {
		if strings.HasSuffix(str, u.suffix) {
			str, shift = strings.TrimSpace(strings.TrimSuffix(str, u.suffix)), u.shift
			break
		}
	}
	if str == "" {
		return 0, errors.Errorf("invalid size %q", s)
	}
	if n, err := strconv.ParseUint(str, 10, 64); err == nil {
		if shift > 0 && n > (^uint64(0))>>shift {
			return 0, errors.Errorf("size %q overflows", s)
		}
		return Size(n << shift), nil
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil || f < 0 {
		return 0, errors.Errorf("invalid size %q", s)
	}
	v := f * float64(uint64(1)<<shift)
	if v >= float64(^uint64(0)) {
		return 0, errors.Errorf("size %q overflows", s)
	}
	return Size(v), nil
}

// String formats the size using the largest exact unit.
func (s Size) String() string {
	if s == 0 {
		return "0"
	}
	for _, u := range sizeUnits {
		if unit := Size(1) << u.shift; s%unit == 0 {
			return strconv.FormatUint(uint64(s/unit), 10) + strings.ToLower(u.suffix)
		}
	}
	return strconv.FormatUint(uint64(s), 10)
}

// MarshalJSON is the JSON marshaller for Size.
func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON is the JSON unmarshaller for Size.
func (s *Size) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return errors.Errorf("invalid size %s", string(data))
		}
		str = n.String()
	}
	v, err := ParseSize(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Set implements flag.Value.
func (s *Size) Set(value string) error {
	v, err := ParseSize(value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
