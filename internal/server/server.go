// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package server assembles the registry, dispatcher and admin API into an
// HTTP server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-schemes/admin"
	"github.com/hashicorp/oidc-schemes/dispatch"
	"github.com/hashicorp/oidc-schemes/internal/config"
	"github.com/hashicorp/oidc-schemes/metrics"
	"github.com/hashicorp/oidc-schemes/scheme"
	"github.com/hashicorp/oidc-schemes/session"
	"github.com/hashicorp/oidc-schemes/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds how long Run waits for requests in flight.
const ShutdownTimeout = 10 * time.Second

// Server serves login, callbacks, the admin API, health and metrics.
type Server struct {
	cfg      *config.Config
	logger   hclog.Logger
	registry *scheme.Registry
	service  *admin.Service
	handler  http.Handler
}

// New builds a Server over st. The registry starts empty; call Load to
// register the stored records.
func New(cfg *config.Config, st store.Store, logger hclog.Logger) (*Server, error) {
	const op = "server.New"
	if cfg == nil || st == nil {
		return nil, fmt.Errorf("%s: config and store are required", op)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(promReg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sessions, err := session.NewManager([]byte(cfg.SessionSigningKey),
		session.WithTTL(cfg.SessionTTL),
		session.WithSecure(cfg.SecureCookies()),
		session.WithIssuer(cfg.PublicURL),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	finalizerOpts := []dispatch.Option{
		dispatch.WithLogger(logger.Named("finalizer")),
		dispatch.WithStateTTL(cfg.StateTTL),
		dispatch.WithProviderCA(cfg.ProviderCAPEM),
		dispatch.WithSecureCookies(cfg.SecureCookies()),
	}
	if alg, ok := cfg.UsesClientSecretJWT(); ok {
		finalizerOpts = append(finalizerOpts, dispatch.WithClientSecretJWT(alg))
	}
	finalizer, err := dispatch.NewFinalizer(cfg.PublicURL, sessions, finalizerOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	registry, err := scheme.NewRegistry(finalizer,
		scheme.WithLogger(logger.Named("registry")),
		scheme.WithFinalizeTimeout(cfg.FinalizeTimeout),
		scheme.WithRecorder(m),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	service, err := admin.NewService(st, registry,
		admin.WithLogger(logger.Named("admin")),
		admin.WithLoadConcurrency(cfg.LoadConcurrency),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	dispatcher, err := dispatch.NewDispatcher(registry, sessions,
		dispatch.WithLogger(logger.Named("dispatcher")),
		dispatch.WithLister(service),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		service:  service,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Mount("/schemes", admin.Router(service))
	dispatcher.Routes(r)
	s.handler = r
	return s, nil
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler { return s.handler }

// Registry returns the server's registry.
func (s *Server) Registry() *scheme.Registry { return s.registry }

// Load registers every stored record. Records that fail to finalize are
// logged and reported together; the rest are live.
func (s *Server) Load(ctx context.Context) error {
	return s.service.Load(ctx)
}

// Run serves until ctx is done, then shuts down gracefully and closes the
// registry.
func (s *Server) Run(ctx context.Context) error {
	const op = "Server.Run"
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", s.cfg.ListenAddr, "public_url", s.cfg.PublicURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	s.registry.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status  string `json:"status"`
		Schemes int    `json:"schemes"`
	}{Status: "ok", Schemes: s.registry.Len()})
}
