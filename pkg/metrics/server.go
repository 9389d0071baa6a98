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

package metrics

import (
	"net"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsPath is where the server exports metrics.
const MetricsPath = "/metrics"

// Server exports gathered metrics over HTTP.
type Server struct {
	sync.Mutex
	server *http.Server
}

// NewServer creates a new, stopped server.
func NewServer() *Server {
	return &Server{}
}

// Address returns the address the server listens on, or "" if it is stopped.
func (s *Server) Address() string {
	s.Lock()
	defer s.Unlock()
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Start serves metrics from g on the given address. An empty address
// leaves the server disabled.
func (s *Server) Start(addr string, g prometheus.Gatherer) error {
	if addr == "" {
		log.Info("metrics server is disabled")
		return nil
	}

	s.Lock()
	defer s.Unlock()

	if s.server != nil {
		return metricsError("server already running on %s", s.server.Addr)
	}

	mux := http.NewServeMux()
	mux.Handle(MetricsPath, promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "metrics: can't listen on %s", addr)
	}

	// update address if port was autobound
	s.server = &http.Server{Addr: ln.Addr().String(), Handler: mux}
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed: %v", err)
		}
	}(s.server)

	log.Info("serving metrics on http://%s%s", s.server.Addr, MetricsPath)

	return nil
}

// Stop closes the server immediately.
func (s *Server) Stop() {
	s.Lock()
	defer s.Unlock()

	if s.server == nil {
		return
	}
	s.server.Close()
	s.server = nil
}
