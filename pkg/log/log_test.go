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
	"flag"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/hpalloc/pkg/config"
)

const testBackendName = "test"

// testBackend records emitted messages for verification.
type testBackend struct {
	sync.Mutex
	recorded []string
	prev     Backend
}

func (*testBackend) Name() string { return testBackendName }
func (*testBackend) Sync()        {}

func (b *testBackend) Log(level Level, source, message string) {
	b.Lock()
	defer b.Unlock()
	b.recorded = append(b.recorded,
		fmtTags[level]+" ["+strings.Trim(source, "[] ")+"] "+message)
}

// messages returns the recorded messages of source.
func (b *testBackend) messages(source string) []string {
	b.Lock()
	defer b.Unlock()
	tag := " [" + source + "] "
	msgs := []string{}
	for _, msg := range b.recorded {
		if strings.Contains(msg, tag) {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func (b *testBackend) restore() {
	log.Lock()
	defaults = newOptions()
	log.Unlock()
	log.configure(newOptions())

	log.Lock()
	log.active = b.prev
	log.Unlock()
}

func setup(t *testing.T) *testBackend {
	log.RLock()
	b := &testBackend{prev: log.active}
	log.RUnlock()

	RegisterBackend(b)
	require.NoError(t, SetBackend(testBackendName))
	return b
}

func TestSeverityFiltering(t *testing.T) {
	tb := setup(t)
	defer tb.restore()

	test := NewLogger("severity")
	emit := func(threshold Level) {
		SetLevel(threshold)
		test.Debug("debug at %s", threshold)
		test.Info("info at %s", threshold)
		test.Warn("warning at %s", threshold)
		test.Error("error at %s", threshold)
	}

	test.EnableDebug(true)
	for _, threshold := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		emit(threshold)
	}
	test.EnableDebug(false)
	emit(LevelDebug)

	require.Equal(t, []string{
		"D: [severity] debug at debug",
		"I: [severity] info at debug",
		"W: [severity] warning at debug",
		"E: [severity] error at debug",
		"D: [severity] debug at info",
		"I: [severity] info at info",
		"W: [severity] warning at info",
		"E: [severity] error at info",
		"D: [severity] debug at warning",
		"W: [severity] warning at warning",
		"E: [severity] error at warning",
		"D: [severity] debug at error",
		"E: [severity] error at error",
		"I: [severity] info at debug",
		"W: [severity] warning at debug",
		"E: [severity] error at debug",
	}, tb.messages("severity"))
}

func TestSourceFlags(t *testing.T) {
	tb := setup(t)
	defer tb.restore()

	loud, quiet := NewLogger("loud"), NewLogger("quiet")

	require.NoError(t, flag.Set(optEnable, "on:*,off:quiet"))
	require.NoError(t, flag.Set(optDebug, "on:loud"))
	require.True(t, loud.DebugEnabled())
	require.False(t, quiet.DebugEnabled())

	loud.Info("hello")
	loud.Debug("details")
	quiet.Info("hello")
	quiet.Error("failure")

	require.Equal(t, []string{"I: [loud] hello", "D: [loud] details"}, tb.messages("loud"))
	require.Empty(t, tb.messages("quiet"))

	// loggers created later pick up the settings
	late := NewLogger("late-quiet")
	require.NoError(t, flag.Set(optEnable, "off:late-quiet"))
	late.Warn("dropped")
	require.Empty(t, tb.messages("late-quiet"))

	require.Error(t, flag.Set(optEnable, "maybe:loud"))
	require.Error(t, flag.Set(optLevel, "loud"))
	require.Error(t, flag.Set(optBackend, "no-such-backend"))
}

func TestConfigFragment(t *testing.T) {
	tb := setup(t)
	defer tb.restore()

	test := NewLogger("configured")

	require.NoError(t, config.SetYAML([]byte(`
logger:
  level: warning
  backend: test
  debug: on:configured
`)))
	require.True(t, test.DebugEnabled())

	test.Info("filtered")
	test.Warn("passed")
	test.Debug("debug passed")

	require.Equal(t, []string{
		"W: [configured] passed",
		"D: [configured] debug passed",
	}, tb.messages("configured"))

	frag, ok := config.GetConfig(configFragment)
	require.True(t, ok)
	require.Equal(t, LevelWarn, frag.(*options).Level)

	require.Error(t, config.SetYAML([]byte(`
logger:
  backend: no-such-backend
`)))
	require.Equal(t, LevelWarn, cfgopt.Level, "rejected update must not leak")

	require.NoError(t, config.SetYAML([]byte(`
logger:
  backend: test
  debug:
    configured: off
`)))
	require.False(t, test.DebugEnabled())
}

func TestBlockAndPanic(t *testing.T) {
	tb := setup(t)
	defer tb.restore()

	test := NewLogger("block")
	test.InfoBlock("  ", "line 1\nline 2")
	require.Equal(t, []string{
		"I: [block]   line 1",
		"I: [block]   line 2",
	}, tb.messages("block"))

	require.PanicsWithValue(t, "broken invariant 42", func() {
		test.Panic("broken invariant %d", 42)
	})
	require.Contains(t, tb.messages("block"), "E: [block] broken invariant 42")
}

func TestGetReturnsSameLogger(t *testing.T) {
	a := NewLogger("same")
	b := Get("[same]")
	require.Same(t, a, b)
	require.Equal(t, "same", b.Source())
}

func TestParseSources(t *testing.T) {
	tcases := []struct {
		spec     string
		expected srcmap
		invalid  bool
	}{
		{spec: "a,b", expected: srcmap{"a": true, "b": true}},
		{spec: "off:a,b,on:c", expected: srcmap{"a": false, "b": false, "c": true}},
		{spec: "all", expected: srcmap{"*": true}},
		{spec: "disable:x", expected: srcmap{"x": false}},
		{spec: "a:b:c", invalid: true},
		{spec: "perhaps:a", invalid: true},
	}
	for _, tc := range tcases {
		t.Run(tc.spec, func(t *testing.T) {
			m := srcmap{}
			err := m.parse(tc.spec)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, m)
		})
	}
	require.Equal(t, "on:a,off:b", fmt.Sprint(srcmap{"a": true, "b": false}))
}
