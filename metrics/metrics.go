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

// Package metrics exposes the connection/stream/request gauges and
// counters the server core and h2 engine update as they run. The
// collectors are package-level variables (mirroring how the teacher's
// logger package exposes package-level globals) so handlers deep in the
// call stack don't need a metrics handle threaded through them;
// MustRegister registers them against a caller-supplied Registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ConnectionsActive is the number of currently open TCP connections,
	// labeled by negotiated protocol ("h1" or "h2").
	ConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fastgo",
		Name:      "connections_active",
		Help:      "Currently open connections by negotiated protocol.",
	}, []string{"proto"})

	// StreamsActive is the number of in-flight HTTP/2 streams across all
	// connections.
	StreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fastgo",
		Name:      "h2_streams_active",
		Help:      "Currently open HTTP/2 streams.",
	})

	// RequestsTotal counts completed requests by method, route pattern,
	// and status class ("2xx" through "5xx").
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fastgo",
		Name:      "requests_total",
		Help:      "Completed requests.",
	}, []string{"method", "route", "status"})

	// RequestDuration observes end-to-end handler latency in seconds.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fastgo",
		Name:      "request_duration_seconds",
		Help:      "Request handling latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// DependencyResolutionsTotal counts dependency resolutions, labeled by
	// whether the value came from cache or was freshly computed.
	DependencyResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fastgo",
		Name:      "dependency_resolutions_total",
		Help:      "Dependency resolutions by cache outcome.",
	}, []string{"outcome"})

	// GoAwaysTotal counts HTTP/2 GOAWAY frames sent, by reason.
	GoAwaysTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fastgo",
		Name:      "h2_goaways_total",
		Help:      "GOAWAY frames emitted by this server, labeled by error code.",
	}, []string{"error_code"})
)

// MustRegister registers every collector above against reg. Call once at
// startup; panics (via prometheus's own MustRegister) on a duplicate
// registration, which indicates a programming error rather than a
// runtime condition to recover from.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		ConnectionsActive,
		StreamsActive,
		RequestsTotal,
		RequestDuration,
		DependencyResolutionsTotal,
		GoAwaysTotal,
	)
}
