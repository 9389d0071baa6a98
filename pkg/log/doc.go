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

// Package log implements leveled, per-source logging with runtime
// configurable filtering and pluggable backends.
package log

var configHelp = `
Logging and debugging messages.

You can control the lowest severity of messages to pass through, which
log sources are enabled, and which log sources produce debug messages.
The available severity levels are debug, info, warning and error. By
default all sources log at info level and above, and none of them
produce debug messages. For instance, to pass only warnings and errors
and to turn on debugging for the hpa and psset sources use:

  logger:
    level: warning
    debug: hpa,psset

Prefix a source or a list of sources with 'off:' or 'on:' to toggle them.
To turn on debugging for all sources except emap use:

  logger:
    debug: on:*,off:emap

The backend can be either fmt (plain messages to stderr) or klog. The
same settings can be given with the --logger, --logger-level,
--logger-sources and --logger-debug command line options.
`
