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

// Package config implements runtime configuration for a set of fragments.
//
// A fragment is a pointer to a struct registered under a dotted path, for
// instance "allocator.hpa". Configuration is YAML (or JSON), with the
// data of each fragment found under its path. Setting the configuration
// resets every fragment to its defaults before applying the new data, so
// anything left out of the data reverts to its default value.
package config

import (
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Fragment is a piece of configuration.
type Fragment interface {
	// Reset resets the fragment to its defaults.
	Reset()
	// Describe returns a description of the fragment for help texts.
	Describe() string
}

// Validator is implemented by fragments that check their data after update.
type Validator interface {
	Validate() error
}

// Notifier is implemented by fragments that need to act on a successful
// configuration update.
type Notifier interface {
	ConfigNotify() error
}

type fragment struct {
	path string
	ptr  Fragment
}

type registry struct {
	sync.Mutex
	fragments map[string]*fragment
	folded    map[string]string
	current   Data
}

var (
	cfg       = newRegistry()
	validPath = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)
)

func newRegistry() *registry {
	return &registry{
		fragments: make(map[string]*fragment),
		folded:    make(map[string]string),
	}
}

// ReInitialize forgets all registered fragments.
func ReInitialize() {
	cfg.Lock()
	defer cfg.Unlock()
	cfg.fragments = make(map[string]*fragment)
	cfg.folded = make(map[string]string)
	cfg.current = nil
}

// Register registers a fragment at the given path and resets it to its
// defaults. ptr must be a pointer to a struct implementing Fragment.
func Register(path string, ptr interface{}) error {
	if ptr == nil {
		return errors.Errorf("config: can't register nil at %q", path)
	}
	v := reflect.ValueOf(ptr)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return errors.Errorf("config: %q: %T is not a pointer to struct", path, ptr)
	}
	f, ok := ptr.(Fragment)
	if !ok {
		return errors.Errorf("config: %q: %T does not implement Fragment", path, ptr)
	}
	if !validPath.MatchString(path) {
		return errors.Errorf("config: invalid fragment path %q", path)
	}

	cfg.Lock()
	defer cfg.Unlock()

	key := strings.ToLower(path)
	if prev, ok := cfg.folded[key]; ok {
		return errors.Errorf("config: %q conflicts with registered fragment %q", path, prev)
	}

	f.Reset()
	cfg.fragments[path] = &fragment{path: path, ptr: f}
	cfg.folded[key] = path

	log.Debug("registered fragment %s (%T)", path, ptr)

	return nil
}

// GetConfig returns the fragment registered at path.
func GetConfig(path string) (Fragment, bool) {
	cfg.Lock()
	defer cfg.Unlock()
	f, ok := cfg.fragments[path]
	if !ok {
		return nil, false
	}
	return f.ptr, true
}

// SetYAML sets the configuration from raw YAML or JSON data.
func SetYAML(raw []byte) error {
	data, err := DataFromYAML(raw)
	if err != nil {
		return err
	}
	return Set(data)
}

// SetFile sets the configuration from the given file.
func SetFile(path string) error {
	data, err := DataFromFile(path)
	if err != nil {
		return err
	}
	return Set(data)
}

// Set sets the configuration. Either every fragment gets updated and
// validated, or all of them are restored to their previous state.
func Set(data Data) error {
	cfg.Lock()
	notify, err := cfg.set(data)
	cfg.Unlock()

	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, n := range notify {
		if err := n.ConfigNotify(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (r *registry) set(data Data) ([]Notifier, error) {
	var (
		result  *multierror.Error
		backups = make(map[string]reflect.Value, len(r.fragments))
		notify  []Notifier
	)

	for _, path := range r.sortedPaths() {
		f := r.fragments[path]
		v := reflect.ValueOf(f.ptr).Elem()
		backup := reflect.New(v.Type()).Elem()
		backup.Set(v)
		backups[path] = backup

		sub, err := data.lookup(path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		f.ptr.Reset()
		if sub != nil {
			raw, err := yaml.Marshal(sub)
			if err == nil {
				err = yaml.Unmarshal(raw, f.ptr)
			}
			if err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "config: %s", path))
				continue
			}
		}
		if val, ok := f.ptr.(Validator); ok {
			if err := val.Validate(); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "config: %s", path))
				continue
			}
		}
		if n, ok := f.ptr.(Notifier); ok {
			notify = append(notify, n)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		for path, backup := range backups {
			reflect.ValueOf(r.fragments[path].ptr).Elem().Set(backup)
		}
		log.Error("configuration rejected: %v", err)
		return nil, err
	}

	r.current = data
	return notify, nil
}

// GetYAML returns the current state of all fragments as YAML.
func GetYAML() ([]byte, error) {
	cfg.Lock()
	defer cfg.Unlock()

	all := make(Data)
	paths := cfg.sortedPaths()
	// set children before parents so parents merge them in
	for i := len(paths) - 1; i >= 0; i-- {
		data, err := DataFromObject(cfg.fragments[paths[i]].ptr)
		if err != nil {
			return nil, err
		}
		all.set(paths[i], data)
	}
	return yaml.Marshal(all)
}

// Describe returns the descriptions of all fragments, or the given ones.
func Describe(paths ...string) string {
	cfg.Lock()
	defer cfg.Unlock()

	if len(paths) == 0 {
		paths = cfg.sortedPaths()
	}
	help := &strings.Builder{}
	for _, path := range paths {
		f, ok := cfg.fragments[path]
		if !ok {
			continue
		}
		help.WriteString(path + ":\n")
		for _, line := range strings.Split(strings.TrimSpace(f.ptr.Describe()), "\n") {
			help.WriteString("  " + line + "\n")
		}
	}
	return help.String()
}

func (r *registry) sortedPaths() []string {
	paths := make([]string, 0, len(r.fragments))
	for path := range r.fragments {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
