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

package pa

import (
	"github.com/intel/hpalloc/pkg/config"
)

const configFragment = "allocator.pa"

// Config is the runtime configuration of page allocator shards.
type Config struct {
	// UseHPA enables huge page aware allocation where the system supports it.
	UseHPA bool `json:"useHPA"`
	// MetadataLimit caps the metadata charged to the base allocator, 0 means
	// no limit.
	MetadataLimit config.Size `json:"metadataLimit,omitempty"`
}

var opt = &Config{}

// Reset resets the configuration to its defaults.
func (c *Config) Reset() {
	*c = Config{
		UseHPA: true,
	}
}

// Describe returns help for the configuration.
func (c *Config) Describe() string {
	return `Page allocator shard.

  allocator:
    pa:
      # use huge page aware allocation if the system supports it
      useHPA: true
      # limit for allocator metadata, 0 for none
      metadataLimit: 0
`
}

// Configured returns a copy of the runtime configuration.
func Configured() Config {
	return *opt
}

func init() {
	if err := config.Register(configFragment, opt); err != nil {
		log.Error("failed to register configuration: %v", err)
	}
}
