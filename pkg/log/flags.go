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
	"encoding/json"
	"flag"
	"sort"
	"strconv"
	"strings"

	"github.com/intel/hpalloc/pkg/config"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// command-line argument prefix.
	optPrefix = "logger"
	// Flag for enabling/disabling normal non-debug logging for sources.
	optEnable = optPrefix + "-sources"
	// Flag for enabling/disabling debug logging for sources.
	optDebug = optPrefix + "-debug"
	// Flag for selecting logging level.
	optLevel = optPrefix + "-level"
	// Flag for selecting logging backend.
	optBackend = optPrefix
	// configFragment is our path in the runtime configuration.
	configFragment = optPrefix
)

// options are the logger options configurable on the command line or
// with pkg/config.
type options struct {
	// Level is the lowest severity level to pass through.
	Level Level `json:"level,omitempty"`
	// Enable enables/disables normal logging for sources.
	Enable srcmap `json:"sources,omitempty"`
	// Debug enables/disables debug logging for sources.
	Debug srcmap `json:"debug,omitempty"`
	// Backend is the name of the backend to use.
	Backend string `json:"backend,omitempty"`
}

// srcmap tracks logging or debugging settings for sources.
type srcmap map[string]bool

var (
	// defaults given on the command line
	defaults = newOptions()
	// active options, protected by the log lock
	opt = newOptions()
	// runtime configuration fragment
	cfgopt = &options{}
)

func newOptions() *options {
	return &options{
		Level:   DefaultLevel,
		Enable:  make(srcmap),
		Debug:   make(srcmap),
		Backend: FmtBackendName,
	}
}

func (o *options) clone() *options {
	c := *o
	c.Enable = make(srcmap, len(o.Enable))
	c.Debug = make(srcmap, len(o.Debug))
	c.Enable.copy(o.Enable)
	c.Debug.copy(o.Debug)
	return &c
}

// Reset resets the runtime configuration to the command line defaults.
func (o *options) Reset() {
	log.RLock()
	*o = *defaults.clone()
	log.RUnlock()
}

// Describe returns the help text for the logger configuration.
func (o *options) Describe() string {
	return configHelp
}

// Validate checks the configured backend.
func (o *options) Validate() error {
	log.RLock()
	defer log.RUnlock()
	if _, ok := log.backends[o.Backend]; !ok {
		return loggerError("unknown backend %q", o.Backend)
	}
	return nil
}

// ConfigNotify activates the updated configuration.
func (o *options) ConfigNotify() error {
	log.configure(o.clone())
	deflog.Info("logger configuration updated")
	deflog.Info("*  log level: %v", o.Level)
	deflog.Info("*    logging: %v", o.Enable)
	deflog.Info("*  debugging: %v", o.Debug)
	return nil
}

// configure activates the given options and reconfigures all loggers.
func (s *state) configure(o *options) {
	s.Lock()
	opt = o
	s.Unlock()
	s.update()
}

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warning",
	LevelError: "error",
}

// ParseLevel parses the name of a severity level.
func ParseLevel(name string) (Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warn" {
		return LevelWarn, nil
	}
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return DefaultLevel, loggerError("invalid logging level %q", name)
}

// String returns the name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "level#" + strconv.Itoa(int(l))
}

// MarshalJSON is the JSON marshaller for Level.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON is the JSON unmarshaller for Level.
func (l *Level) UnmarshalJSON(raw []byte) error {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return loggerError("invalid logging level %s", string(raw))
	}
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// enabled returns the setting for source, falling back to "*", then def.
func (m srcmap) enabled(source string, def bool) bool {
	if state, ok := m[source]; ok {
		return state
	}
	if state, ok := m["*"]; ok {
		return state
	}
	return def
}

// parse updates the srcmap from a spec like "on:a,b,off:c". A state
// applies to all sources following it until the next state.
func (m srcmap) parse(value string) error {
	state := "on"
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		src := entry
		if split := strings.Split(entry, ":"); len(split) == 2 {
			state, src = split[0], split[1]
		} else if len(split) > 2 {
			return loggerError("invalid entry %q in source map", entry)
		}
		enabled, err := parseEnabled(state)
		if err != nil {
			return err
		}
		if src == "all" {
			src = "*"
		}
		m[src] = enabled
	}
	return nil
}

// String returns a string representation of the srcmap.
func (m srcmap) String() string {
	on, off := []string{}, []string{}
	for src, state := range m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	switch {
	case len(off) == 0:
		return "on:" + strings.Join(on, ",")
	case len(on) == 0:
		return "off:" + strings.Join(off, ",")
	}
	return "on:" + strings.Join(on, ",") + ",off:" + strings.Join(off, ",")
}

// UnmarshalJSON accepts a "on:a,b,off:c" string or a source to state map.
func (m *srcmap) UnmarshalJSON(raw []byte) error {
	*m = make(srcmap)

	spec := ""
	if err := json.Unmarshal(raw, &spec); err == nil {
		return m.parse(spec)
	}

	states := map[string]interface{}{}
	if err := json.Unmarshal(raw, &states); err != nil {
		return loggerError("invalid source map %s", string(raw))
	}
	for src, state := range states {
		enabled, err := parseEnabled(strings.ToLower(strings.TrimSpace(toString(state))))
		if err != nil {
			return loggerError("source %q: %v", src, err)
		}
		if src == "all" {
			src = "*"
		}
		(*m)[src] = enabled
	}
	return nil
}

func (m srcmap) copy(o srcmap) {
	for src, state := range o {
		m[src] = state
	}
}

func toString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// parseEnabled parses an on/off, enable/disable or boolean string.
func parseEnabled(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "enable", "enabled", "yes":
		return true, nil
	case "off", "disable", "disabled", "no":
		return false, nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, loggerError("invalid state %q", value)
	}
	return enabled, nil
}

// setDefault applies a command line change to defaults and the active options.
func setDefault(fn func(o *options) error) error {
	log.RLock()
	d, o := defaults.clone(), opt.clone()
	log.RUnlock()

	if err := fn(d); err != nil {
		return err
	}
	if err := fn(o); err != nil {
		return err
	}

	log.Lock()
	defaults = d
	log.Unlock()
	log.configure(o)

	return nil
}

// Register us for command line parsing and configuration handling.
func init() {
	cfglog := log.get("config")
	config.SetLogger(config.Logger{
		DebugEnabled: cfglog.DebugEnabled,
		Debug:        cfglog.Debug,
		Info:         cfglog.Info,
		Warn:         cfglog.Warn,
		Error:        cfglog.Error,
	})

	flag.Func(optBackend, "logger backend to use (fmt, klog).",
		func(value string) error {
			return setDefault(func(o *options) error {
				o.Backend = value
				return o.Validate()
			})
		})
	flag.Func(optLevel, "lowest severity level to pass through (debug, info, warning, error).",
		func(value string) error {
			level, err := ParseLevel(value)
			if err != nil {
				return err
			}
			return setDefault(func(o *options) error {
				o.Level = level
				return nil
			})
		})
	flag.Func(optEnable,
		"comma-separated list of source names to enable/disable.\n"+
			"Specify '*' or 'all' to enable all sources, which is also the default.\n"+
			"Prefix a source or list with 'off:' to disable.",
		func(value string) error {
			return setDefault(func(o *options) error { return o.Enable.parse(value) })
		})
	flag.Func(optDebug,
		"comma-separated list of source names to enable debug messages for.\n"+
			"Specify '*' or 'all' to enable all sources.\n"+
			"Prefix a source or list with 'off:' to disable, which is also the default state.",
		func(value string) error {
			return setDefault(func(o *options) error { return o.Debug.parse(value) })
		})

	if err := config.Register(configFragment, cfgopt); err != nil {
		panic(err)
	}
}
