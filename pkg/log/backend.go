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
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backend can emit log messages.
type Backend interface {
	// Name returns the name of this backend.
	Name() string
	// Log emits a formatted message with the given severity and source.
	Log(level Level, source, message string)
	// Sync waits for all messages to get emitted.
	Sync()
}

const (
	// FmtBackendName is the name of our simple fmt-based logging backend.
	FmtBackendName = "fmt"
	// KlogBackendName is the name of our klog-based logging backend.
	KlogBackendName = "klog"
)

// RegisterBackend registers a logger backend.
func RegisterBackend(b Backend) {
	log.Lock()
	defer log.Unlock()
	log.backends[b.Name()] = b
}

// SetBackend activates the named backend.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()

	b, ok := log.backends[name]
	if !ok {
		return loggerError("unknown backend %q", name)
	}
	log.active = b
	opt.Backend = name
	return nil
}

// severity tags fmtBackend prefixes emitted messages with.
var fmtTags = map[Level]string{
	LevelDebug: "D:",
	LevelInfo:  "I:",
	LevelWarn:  "W:",
	LevelError: "E:",
}

// fmtBackend writes messages to an io.Writer, stderr by default.
type fmtBackend struct {
	sync.Mutex
	w io.Writer
}

func (*fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) Log(level Level, source, message string) {
	f.Lock()
	defer f.Unlock()
	w := f.w
	if w == nil {
		w = os.Stderr
	}
	for _, line := range strings.Split(message, "\n") {
		fmt.Fprintln(w, fmtTags[level], source, line)
	}
}

func (f *fmtBackend) Sync() {}

// klogBackend passes messages on to klog.
type klogBackend struct{}

const klogDepth = 3

func (klogBackend) Name() string {
	return KlogBackendName
}

func (klogBackend) Log(level Level, source, message string) {
	switch level {
	case LevelDebug:
		if klog.V(1).Enabled() {
			klog.InfoDepth(klogDepth, source, " ", message)
		}
	case LevelInfo:
		klog.InfoDepth(klogDepth, source, " ", message)
	case LevelWarn:
		klog.WarningDepth(klogDepth, source, " ", message)
	default:
		klog.ErrorDepth(klogDepth, source, " ", message)
	}
}

func (klogBackend) Sync() {
	klog.Flush()
}

func init() {
	log.backends[FmtBackendName] = log.active
	log.backends[KlogBackendName] = klogBackend{}
}

func loggerError(format string, args ...interface{}) error {
	return errors.Errorf("logger: "+format, args...)
}
