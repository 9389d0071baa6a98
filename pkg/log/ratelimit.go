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

package log

import (
	"sync"
	"time"

	goxrate "golang.org/x/time/rate"
)

// Rate specifies the maximum logging rate per message format.
type Rate struct {
	// rate limit
	Limit goxrate.Limit
	// allowed bursts
	Burst int
	// optional message window size
	Window int
}

// ratelimited implements rate-limited logging.
type ratelimited struct {
	Logger
	sync.Mutex
	rate   Rate
	window []string
	limits map[string]*goxrate.Limiter
}

const (
	// DefaultWindow is the default message window size for rate limiting.
	DefaultWindow = 256
	// MinimumWindow is the smallest message window size for rate limiting.
	MinimumWindow = 32
)

// Every defines a rate limit for the given interval.
func Every(interval time.Duration) goxrate.Limit {
	return goxrate.Every(interval)
}

// Interval returns a Rate for the given interval.
func Interval(interval time.Duration) Rate {
	return Rate{Limit: Every(interval), Burst: 1}
}

// RateLimit returns a ratelimited version of the given logger. Messages
// are limited per format string, so repeated failures of the same kind
// are suppressed regardless of their arguments. Only the most recently
// seen Window formats are tracked.
func RateLimit(log Logger, rate Rate) Logger {
	switch {
	case rate.Window == 0:
		rate.Window = DefaultWindow
	case rate.Window < MinimumWindow:
		rate.Window = MinimumWindow
	}
	if rate.Burst < 1 {
		rate.Burst = 1
	}
	return &ratelimited{
		Logger: log,
		rate:   rate,
		limits: make(map[string]*goxrate.Limiter),
		window: make([]string, 0, rate.Window),
	}
}

func (rl *ratelimited) Debug(format string, args ...interface{}) {
	if rl.Logger.DebugEnabled() && rl.allow(format) {
		rl.Logger.Debug(format, args...)
	}
}

func (rl *ratelimited) Info(format string, args ...interface{}) {
	if rl.allow(format) {
		rl.Logger.Info(format, args...)
	}
}

func (rl *ratelimited) Warn(format string, args ...interface{}) {
	if rl.allow(format) {
		rl.Logger.Warn(format, args...)
	}
}

func (rl *ratelimited) Error(format string, args ...interface{}) {
	if rl.allow(format) {
		rl.Logger.Error(format, args...)
	}
}

func (rl *ratelimited) allow(format string) bool {
	rl.Lock()
	defer rl.Unlock()
	return rl.getMessageLimit(format).Allow()
}

// getMessageLimit returns the limiter for key, evicting the oldest one if
// the window is full.
func (rl *ratelimited) getMessageLimit(key string) *goxrate.Limiter {
	if lim, ok := rl.limits[key]; ok {
		return lim
	}
	if len(rl.window) == rl.rate.Window {
		delete(rl.limits, rl.window[0])
		rl.window = append(rl.window[:0], rl.window[1:]...)
	}
	lim := goxrate.NewLimiter(rl.rate.Limit, rl.rate.Burst)
	rl.limits[key] = lim
	rl.window = append(rl.window, key)
	return lim
}
