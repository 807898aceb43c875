// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package metrics exposes registry and HTTP activity as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/oidc-schemes/scheme"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oidc_schemes"

// Metrics implements scheme.Recorder and instruments HTTP handlers.
type Metrics struct {
	gatherer prometheus.Gatherer

	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	lookups          *prometheus.CounterVec
	entries          prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// ensure that Metrics implements the scheme.Recorder interface
var _ scheme.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them with reg. A nil reg uses a
// new prometheus.Registry. Collectors that are already registered are
// tolerated.
func New(reg *prometheus.Registry) (*Metrics, error) {
	const op = "metrics.New"
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_mutations_total",
			Help:      "Registry mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		mutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_mutation_duration_seconds",
			Help:      "Duration of registry mutations, including finalization.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}, []string{"op"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_lookups_total",
			Help:      "Registry lookups by result.",
		}, []string{"result"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_entries",
			Help:      "Live registry entries.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	for _, c := range []prometheus.Collector{
		m.mutations, m.mutationDuration, m.lookups, m.entries, m.httpRequests, m.httpDuration,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return m, nil
}

// ObserveMutation implements scheme.Recorder.
func (m *Metrics) ObserveMutation(op, outcome string, elapsed time.Duration) {
	m.mutations.WithLabelValues(op, outcome).Inc()
	m.mutationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveLookup implements scheme.Recorder.
func (m *Metrics) ObserveLookup(hit bool) {
	if hit {
		m.lookups.WithLabelValues("hit").Inc()
		return
	}
	m.lookups.WithLabelValues("miss").Inc()
}

// SetEntries implements scheme.Recorder.
func (m *Metrics) SetEntries(n int) {
	m.entries.Set(float64(n))
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records the method, chi route pattern and status of every
// request. Routing by pattern keeps each scheme's callback under a single
// "/signin-{key}" label.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// registerCollector registers c with reg, ignoring duplicates.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}
