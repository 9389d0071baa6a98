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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/intel/hpalloc/pkg/config"
	logger "github.com/intel/hpalloc/pkg/log"
	"github.com/intel/hpalloc/pkg/metrics"
	"github.com/intel/hpalloc/pkg/version"
)

var log = logger.NewLogger("hpa-stress")

func main() {
	flag.Parse()

	if len(flag.Args()) != 0 {
		log.Error("unknown command-line arguments: %s", strings.Join(flag.Args(), ","))
		flag.Usage()
		os.Exit(1)
	}

	if opt.configHelp {
		fmt.Print(config.Describe())
		return
	}

	if opt.configFile != "" {
		if err := config.SetFile(opt.configFile); err != nil {
			log.Fatal("failed to load configuration: %v", err)
		}
	}

	if opt.dumpConfig {
		raw, err := config.GetYAML()
		if err != nil {
			log.Fatal("failed to dump configuration: %v", err)
		}
		log.InfoBlock("  ", "effective configuration:\n%s", strings.TrimSpace(string(raw)))
	}

	log.Info("hpa-stress version %s, build %s", version.Version, version.Build)

	s, err := newStress(*cfg)
	if err != nil {
		log.Fatal("failed to set up workload: %v", err)
	}

	server := metrics.NewServer()
	if opt.metricsAddr != "" {
		g, err := metrics.NewMetricGatherer()
		if err != nil {
			log.Fatal("failed to create metrics gatherer: %v", err)
		}
		if err := server.Start(opt.metricsAddr, g); err != nil {
			log.Fatal("failed to start metrics server: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = s.run(ctx)
	cancel()
	if err != nil {
		log.Error("workload failed: %v", err)
	}

	s.report()

	if opt.printMetrics {
		if err := dumpMetrics(os.Stdout); err != nil {
			log.Error("%v", err)
		}
	}

	server.Stop()

	if derr := s.destroy(); derr != nil {
		log.Fatal("failed to destroy shard: %v", derr)
	}
	if err != nil {
		os.Exit(1)
	}
}
