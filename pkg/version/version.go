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

// Package version tags binaries with version metadata.
//
// Version and Build are meant to be set by the linker, for instance
//
//	go build -ldflags "-X=github.com/intel/hpalloc/pkg/version.Version=<version> \
//	    -X=github.com/intel/hpalloc/pkg/version.Build=<build-id>"
//
// Without linker flags they are filled in from the build information
// embedded by the Go toolchain, when available. Importing the package
// adds a -version command line option.
package version

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
)

const unknown = "unknown"

var (
	// Version is our version as given by 'git describe'.
	Version = ""
	// Build is the SHA1 of the repository we've been built from.
	Build = ""
)

// fill sets unset metadata from build information.
func fill(info *debug.BuildInfo, ok bool) {
	if Version == "" && ok && info.Main.Version != "" {
		Version = info.Main.Version
	}
	if Build == "" && ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				Build = s.Value
			}
		}
	}
	if Version == "" {
		Version = unknown
	}
	if Build == "" {
		Build = unknown
	}
}

// PrintVersionInfo prints version information about this binary.
func PrintVersionInfo(w io.Writer) {
	fmt.Fprintf(w, "%s version information:\n", filepath.Base(os.Args[0]))
	fmt.Fprintf(w, "  - version: %s\n", Version)
	fmt.Fprintf(w, "  - build:   %s\n", Build)
}

// flagValue hooks printing into parsing the -version flag.
type flagValue struct{}

// IsBoolFlag tells flag that we only have optional arguments.
func (flagValue) IsBoolFlag() bool {
	return true
}

func (flagValue) Set(value string) error {
	print, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	if print {
		PrintVersionInfo(os.Stdout)
		os.Exit(0)
	}
	return nil
}

func (flagValue) String() string {
	return "false"
}

func init() {
	fill(debug.ReadBuildInfo())
	flag.Var(flagValue{}, "version", "print version information and exit")
}
