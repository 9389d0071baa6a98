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

// Package fxp implements unsigned 16.16 fixed-point ratios.
package fxp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Fxp is an unsigned 16.16 fixed-point number.
type Fxp uint32

const (
	fracBits = 16
	// One is 1.0.
	One Fxp = 1 << fracBits
	// Disabled marks a ratio that is turned off.
	Disabled Fxp = math.MaxUint32
)

// Percent returns pct percent as a fixed-point number.
func Percent(pct uint32) Fxp {
	return Fxp(uint64(pct) * uint64(One) / 100)
}

// MulFrac returns x multiplied by f, rounded down.
func (f Fxp) MulFrac(x uint64) uint64 {
	hi, lo := x>>32, x&math.MaxUint32
	return hi*uint64(f)<<(32-fracBits) + lo*uint64(f)>>fracBits
}

// Parse parses a non-negative decimal ("0.25"), a percentage ("25%"), or
// "disabled" or "-1" for Disabled.
func Parse(s string) (Fxp, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "disabled", "-1":
		return Disabled, nil
	case "":
		return 0, errors.New("empty fixed-point value")
	}

	scale := 1.0
	num := s
	if strings.HasSuffix(s, "%") {
		scale = 100.0
		num = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid fixed-point value %q", s)
	}
	v /= scale
	if v < 0 || v*float64(One) >= float64(Disabled) {
		return 0, errors.Errorf("fixed-point value %q out of range", s)
	}
	return Fxp(math.Round(v * float64(One))), nil
}

// String formats the number as a decimal, or "disabled".
func (f Fxp) String() string {
	if f == Disabled {
		return "disabled"
	}
	return strconv.FormatFloat(float64(f)/float64(One), 'f', -1, 64)
}

// MarshalJSON implements json.Marshaler.
func (f Fxp) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON implements json.Unmarshaler. Both strings and numbers are
// accepted.
func (f *Fxp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return errors.Wrapf(err, "invalid fixed-point value %s", string(data))
		}
		s = n.String()
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}
