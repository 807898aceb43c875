// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/hashicorp/oidc-schemes/internal/config"
	"github.com/hashicorp/oidc-schemes/internal/server"
	"github.com/hashicorp/oidc-schemes/store"
	"github.com/spf13/cobra"
)

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the stored schemes and serve login, callbacks and the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFiles(*envFile)...)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := cfg.Logger()
	logger.Info("oidc-schemes starting", "version", Version, "environment", cfg.Environment)

	st, err := store.OpenBolt(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	srv, err := server.New(cfg, st, logger)
	if err != nil {
		return err
	}
	if err := srv.Load(ctx); err != nil {
		// the server starts anyway; failed schemes can be reloaded through
		// the admin API
		logger.Warn("some schemes failed to load", "error", err)
	}
	return srv.Run(ctx)
}
