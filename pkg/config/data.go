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
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Data is our internal representation of configuration data.
type Data map[string]interface{}

// DataFromObject remarshals the given object into configuration data.
func DataFromObject(obj interface{}) (Data, error) {
	raw, err := yaml.Marshal(obj)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %T to config data", obj)
	}
	data := make(Data)
	if err = yaml.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal %T to config data", obj)
	}
	return data, nil
}

// DataFromYAML parses raw YAML (or JSON) into configuration data.
func DataFromYAML(raw []byte) (Data, error) {
	data := make(Data)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	return data, nil
}

// DataFromFile unmarshals the content of the given file into configuration data.
func DataFromFile(path string) (Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file %q", path)
	}
	data, err := DataFromYAML(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %q", path)
	}
	return data, nil
}

// lookup walks a dotted path, returning nil if any part of it is missing.
func (d Data) lookup(path string) (Data, error) {
	data := d
	for _, key := range strings.Split(path, ".") {
		if data == nil {
			return nil, nil
		}
		sub, err := data.pick(key)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
		data = sub
	}
	return data, nil
}

// pick picks data for the given key, including dotted keys prefixed by it.
func (d Data) pick(key string) (Data, error) {
	var data Data

	if obj, ok := d[key]; ok && obj != nil {
		sub, err := DataFromObject(obj)
		if err != nil {
			return nil, err
		}
		data = sub
	}

	for k, v := range d {
		split := strings.SplitN(k, ".", 2)
		if len(split) < 2 || split[0] != key {
			continue
		}
		if data == nil {
			data = make(Data)
		}
		if _, ok := data[split[1]]; ok {
			return nil, errors.Errorf("dotted key %q conflicts with nested key %q", k, split[1])
		}
		data[split[1]] = v
	}

	return data, nil
}

// set stores value under a dotted path, creating intermediate levels.
func (d Data) set(path string, value Data) {
	keys := strings.Split(path, ".")
	data := d
	for _, key := range keys[:len(keys)-1] {
		sub, ok := data[key].(Data)
		if !ok {
			sub = make(Data)
			data[key] = sub
		}
		data = sub
	}
	last := keys[len(keys)-1]
	if prev, ok := data[last].(Data); ok {
		for k, v := range prev {
			value[k] = v
		}
	}
	data[last] = value
}

// String returns configuration data as a string.
func (d Data) String() string {
	raw, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Sprintf("<config.data: failed to marshal: %v>", err)
	}
	return string(raw)
}
