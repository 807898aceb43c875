// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recorder(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	m, err := New(prometheus.NewRegistry())
	require.NoError(err)

	m.ObserveMutation("Registry.Register", "ok", 10*time.Millisecond)
	m.ObserveMutation("Registry.Register", "ok", 20*time.Millisecond)
	m.ObserveMutation("Registry.Replace", "finalize_failed", time.Second)
	m.ObserveLookup(true)
	m.ObserveLookup(false)
	m.ObserveLookup(false)
	m.SetEntries(3)

	assert.Equal(2.0, testutil.ToFloat64(m.mutations.WithLabelValues("Registry.Register", "ok")))
	assert.Equal(1.0, testutil.ToFloat64(m.mutations.WithLabelValues("Registry.Replace", "finalize_failed")))
	assert.Equal(1.0, testutil.ToFloat64(m.lookups.WithLabelValues("hit")))
	assert.Equal(2.0, testutil.ToFloat64(m.lookups.WithLabelValues("miss")))
	assert.Equal(3.0, testutil.ToFloat64(m.entries))
	assert.Equal(2, testutil.CollectAndCount(m.mutationDuration))
}

func TestNew_alreadyRegistered(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.NoError(t, err)
}

func TestMetrics_Middleware(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	m, err := New(nil)
	require.NoError(err)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Post("/signin-{key}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSeeOther)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", m.Handler().ServeHTTP)

	for _, target := range []string{"/signin-oidc-1", "/signin-oidc-2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, target, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodPost, "/signin-{key}", "303")))
	assert.Equal(1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/healthz", "200")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(strings.Contains(body, "oidc_schemes_http_requests_total"))
	assert.True(strings.Contains(body, `route="/signin-{key}"`))
}
