// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:          "oidc-schemes",
		Short:        "Serve OIDC login schemes that can be changed at runtime",
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "load variables from this file instead of .env")
	root.AddCommand(newServeCmd(&envFile), newSchemesCmd(&envFile))
	return root
}

func envFiles(envFile string) []string {
	if envFile == "" {
		return nil
	}
	return []string{envFile}
}
