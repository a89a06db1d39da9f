// Copyright 2025 The fastgo Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server provides two independent pieces: AdminServer, a
// gorilla/mux sidecar exposing pprof and Prometheus metrics on a
// separate address, and Engine (engine.go), the core HTTP/1.1+HTTP/2
// application accept loop application code is actually served through.
package server

import (
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dicklesworthstone/fastgo/common"
	"github.com/dicklesworthstone/fastgo/confengine"
	"github.com/dicklesworthstone/fastgo/internal/fasttime"
	"github.com/dicklesworthstone/fastgo/logger"
)

// Config configures the admin sidecar: pprof/metrics endpoints served
// off the main application Engine, per §4.F's separation of the
// request-serving accept loop from operational introspection.
type Config struct {
	Enabled bool          `config:"enabled"`
	Address string        `config:"address"`
	Pprof   bool          `config:"pprof"`
	Metrics bool          `config:"metrics"`
	Timeout time.Duration `config:"timeout"`
}

// AdminServer is the pprof/metrics sidecar, deliberately kept separate
// from Engine so profiling and scraping never compete with application
// traffic for the same listener.
type AdminServer struct {
	config Config
	router *mux.Router
	server *http.Server
	engine *Engine
}

// New returns an AdminServer, or a nil pointer (with a nil error) if the
// "server" config section has enabled set to false. Callers must check
// for nil before calling ListenAndServe.
func New(conf *confengine.Config) (*AdminServer, error) {
	var config Config
	if err := conf.UnpackChild("server", &config); err != nil {
		return nil, err
	}
	if !config.Enabled {
		return nil, nil
	}

	router := mux.NewRouter()
	s := &AdminServer{
		config: config,
		router: router,
		server: &http.Server{
			Handler:      router,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
		},
	}
	if config.Pprof {
		s.registerPprofRoutes()
	}
	if config.Metrics {
		s.RegisterGetRoute("/metrics", promhttp.Handler().ServeHTTP)
	}
	return s, nil
}

// ListenAndServe binds and serves the admin sidecar until the listener
// is closed or the process exits.
func (s *AdminServer) ListenAndServe() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	logger.Infof("admin server listening on %s", s.config.Address)
	return s.server.Serve(l)
}

// SetEngine attaches the application Engine whose lifecycle state (per
// engine.go's EventListening/EventDraining/EventClosed) backs the
// sidecar's /healthz endpoint, and registers that route. Safe to call
// even when AdminServer is nil (New returns nil when disabled); callers
// follow the New nil-check convention already documented above.
func (s *AdminServer) SetEngine(e *Engine) {
	if s == nil {
		return
	}
	s.engine = e
	s.RegisterGetRoute("/healthz", s.handleHealthz)
}

func (s *AdminServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := "unknown"
	if s.engine != nil {
		state = s.engine.State()
	}
	uptime := fasttime.UnixTimestamp() - common.Started()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if state != "listening" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	fmt.Fprintf(w, "%s uptime=%ds", state, uptime)
}

// RegisterGetRoute adds a GET route to the admin sidecar's router.
func (s *AdminServer) RegisterGetRoute(path string, f http.HandlerFunc) {
	s.router.Methods(http.MethodGet).Path(path).HandlerFunc(f)
}

// RegisterPostRoute adds a POST route to the admin sidecar's router.
func (s *AdminServer) RegisterPostRoute(path string, f http.HandlerFunc) {
	s.router.Methods(http.MethodPost).Path(path).HandlerFunc(f)
}

func (s *AdminServer) registerPprofRoutes() {
	s.RegisterGetRoute("/debug/pprof/cmdline", pprof.Cmdline)
	s.RegisterGetRoute("/debug/pprof/profile", pprof.Profile)
	s.RegisterGetRoute("/debug/pprof/symbol", pprof.Symbol)
	s.RegisterGetRoute("/debug/pprof/trace", pprof.Trace)
	s.RegisterGetRoute("/debug/pprof/{other}", pprof.Index)
}
