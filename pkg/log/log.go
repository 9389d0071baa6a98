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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// Level describes the severity of log messages.
type Level int32

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})
	// WarnBlock formats and emits a multiline warning message.
	WarnBlock(prefix string, format string, args ...interface{})
	// ErrorBlock formats and emits a multiline error message.
	ErrorBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// logger implements Logger for a single source.
type logger struct {
	source  string
	enabled atomic.Bool
	debug   atomic.Bool
}

// state is our runtime state.
type state struct {
	sync.RWMutex
	level    Level
	active   Backend
	backends map[string]Backend
	loggers  map[string]*logger
	srcalign int
}

var log = &state{
	level:    DefaultLevel,
	active:   &fmtBackend{},
	backends: make(map[string]Backend),
	loggers:  make(map[string]*logger),
}

// NewLogger creates a logger for the given source, or returns the existing one.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Get is an alias for NewLogger.
func Get(source string) Logger {
	return log.get(source)
}

func (s *state) get(source string) *logger {
	source = strings.Trim(source, "[] ")

	s.RLock()
	l, ok := s.loggers[source]
	s.RUnlock()
	if ok {
		return l
	}

	s.Lock()
	defer s.Unlock()

	if l, ok := s.loggers[source]; ok {
		return l
	}
	l = &logger{source: source}
	l.enabled.Store(opt.Enable.enabled(source, true))
	l.debug.Store(opt.Debug.enabled(source, false))
	s.loggers[source] = l
	if len(source) > s.srcalign {
		s.srcalign = len(source)
	}

	return l
}

// update reapplies options to every logger.
func (s *state) update() {
	s.Lock()
	defer s.Unlock()

	s.level = opt.Level
	for source, l := range s.loggers {
		l.enabled.Store(opt.Enable.enabled(source, true))
		l.debug.Store(opt.Debug.enabled(source, false))
	}
	if b, ok := s.backends[opt.Backend]; ok {
		s.active = b
	}
}

func (s *state) emit(level Level, source, message string) {
	s.RLock()
	active, align := s.active, s.srcalign
	s.RUnlock()
	active.Log(level, fmt.Sprintf("[%*s]", align, source), message)
}

func (s *state) passes(level Level) bool {
	s.RLock()
	defer s.RUnlock()
	return level >= s.level
}

// SetLevel sets the lowest severity of messages to pass through.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	opt.Level = level
	log.level = level
}

func (l *logger) Source() string {
	return l.source
}

func (l *logger) EnableDebug(enable bool) bool {
	return l.debug.Swap(enable)
}

func (l *logger) DebugEnabled() bool {
	return l.debug.Load()
}

func (l *logger) Debug(format string, args ...interface{}) {
	if !l.debug.Load() {
		return
	}
	log.emit(LevelDebug, l.source, fmt.Sprintf(format, args...))
}

func (l *logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

func (l *logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

func (l *logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

func (l *logger) Fatal(format string, args ...interface{}) {
	log.emit(LevelError, l.source, fmt.Sprintf(format, args...))
	log.active.Sync()
	os.Exit(1)
}

func (l *logger) Panic(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.emit(LevelError, l.source, msg)
	panic(msg)
}

func (l *logger) log(level Level, format string, args ...interface{}) {
	if !l.enabled.Load() || !log.passes(level) {
		return
	}
	log.emit(level, l.source, fmt.Sprintf(format, args...))
}

func (l *logger) block(fn func(string, ...interface{}), prefix, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		fn("%s%s", prefix, line)
	}
}

func (l *logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if l.debug.Load() {
		l.block(l.Debug, prefix, format, args...)
	}
}

func (l *logger) InfoBlock(prefix string, format string, args ...interface{}) {
	l.block(l.Info, prefix, format, args...)
}

func (l *logger) WarnBlock(prefix string, format string, args ...interface{}) {
	l.block(l.Warn, prefix, format, args...)
}

func (l *logger) ErrorBlock(prefix string, format string, args ...interface{}) {
	l.block(l.Error, prefix, format, args...)
}

// our default logger
var deflog = log.get(filepath.Base(filepath.Clean(os.Args[0])))

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// Info formats and emits an informational message.
func Info(format string, args ...interface{}) {
	deflog.Info(format, args...)
}

// Warn formats and emits a warning message.
func Warn(format string, args ...interface{}) {
	deflog.Warn(format, args...)
}

// Error formats and emits an error message.
func Error(format string, args ...interface{}) {
	deflog.Error(format, args...)
}

// Fatal formats and emits an error message and os.Exit()'s with status 1.
func Fatal(format string, args ...interface{}) {
	deflog.Fatal(format, args...)
}

// Debug formats and emits a debug message.
func Debug(format string, args ...interface{}) {
	deflog.Debug(format, args...)
}
