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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	goxrate "golang.org/x/time/rate"
)

func TestRateLimitWindow(t *testing.T) {
	ratelimit := RateLimit(Default(), Rate{Window: MinimumWindow, Limit: Every(time.Second)})
	rl := ratelimit.(*ratelimited)

	limiters := make(map[string]*goxrate.Limiter)

	// fill message window, store limiters for checking
	messages := make([]string, 0, MinimumWindow)
	for idx := 0; idx < cap(messages); idx++ {
		msg := fmt.Sprintf("message #%d", idx)
		messages = append(messages, msg)
		limiters[msg] = rl.getMessageLimit(msg)
	}
	for msg, limiter := range limiters {
		require.Same(t, limiter, rl.getMessageLimit(msg), "limiter for %s", msg)
	}

	// push the oldest messages out of the window
	recent := make([]string, 0, MinimumWindow/4)
	for i := 0; i < cap(recent); i++ {
		msg := fmt.Sprintf("message #%d", len(messages)+i)
		recent = append(recent, msg)
		limiters[msg] = rl.getMessageLimit(msg)
	}
	require.Len(t, rl.limits, MinimumWindow)
	require.Len(t, rl.window, MinimumWindow)

	for _, msg := range recent {
		require.Same(t, limiters[msg], rl.getMessageLimit(msg), "recent %s", msg)
	}
	for _, msg := range messages[len(recent):] {
		require.Same(t, limiters[msg], rl.getMessageLimit(msg), "in-window %s", msg)
	}
	for _, msg := range messages[:len(recent)] {
		_, tracked := rl.limits[msg]
		require.False(t, tracked, "evicted %s", msg)
	}
}

func TestRateLimitSuppression(t *testing.T) {
	tb := setup(t)
	defer tb.restore()

	rl := RateLimit(NewLogger("ratelimit-test"), Interval(time.Hour))
	for i := 0; i < 10; i++ {
		rl.Warn("failure #%d", i)
		rl.Error("other failure #%d", i)
	}

	require.Equal(t, []string{
		"W: [ratelimit-test] failure #0",
		"E: [ratelimit-test] other failure #0",
	}, tb.messages("ratelimit-test"))
}
