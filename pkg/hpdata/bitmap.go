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

package hpdata

import "math/bits"

// bitmap is a fixed-size set of page indices.
type bitmap []uint64

func newBitmap(nbits int) bitmap {
	return make(bitmap, (nbits+63)/64)
}

func (b bitmap) get(i int) bool {
	return b[i/64]&(1<<(uint(i)%64)) != 0
}

// setRange sets bits [start, start+n).
func (b bitmap) setRange(start, n int) {
	for i := start; i < start+n; i++ {
		b[i/64] |= 1 << (uint(i) % 64)
	}
}

// clearRange clears bits [start, start+n).
func (b bitmap) clearRange(start, n int) {
	for i := start; i < start+n; i++ {
		b[i/64] &^= 1 << (uint(i) % 64)
	}
}

// countRange returns the number of set bits in [start, start+n).
func (b bitmap) countRange(start, n int) int {
	cnt := 0
	for i := start; i < start+n; i++ {
		if b.get(i) {
			cnt++
		}
	}
	return cnt
}

// count returns the number of set bits.
func (b bitmap) count() int {
	cnt := 0
	for _, w := range b {
		cnt += bits.OnesCount64(w)
	}
	return cnt
}

// nextSet returns the first set bit at or after start, or nbits.
func (b bitmap) nextSet(start, nbits int) int {
	for i := start; i < nbits; {
		w := b[i/64] >> (uint(i) % 64)
		if w != 0 {
			if n := i + bits.TrailingZeros64(w); n < nbits {
				return n
			}
			return nbits
		}
		i = (i/64 + 1) * 64
	}
	return nbits
}

// nextClear returns the first clear bit at or after start, or nbits.
func (b bitmap) nextClear(start, nbits int) int {
	for i := start; i < nbits; {
		w := ^b[i/64] >> (uint(i) % 64)
		if w != 0 {
			if n := i + bits.TrailingZeros64(w); n < nbits {
				return n
			}
			return nbits
		}
		i = (i/64 + 1) * 64
	}
	return nbits
}

func (b bitmap) copyFrom(o bitmap) {
	copy(b, o)
}

// andNot clears in b every bit set in o.
func (b bitmap) andNot(o bitmap) {
	for i := range b {
		b[i] &^= o[i]
	}
}

func (b bitmap) fill(nbits int) {
	b.setRange(0, nbits)
}
