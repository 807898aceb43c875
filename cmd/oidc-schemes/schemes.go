// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/hashicorp/oidc-schemes/internal/config"
	"github.com/hashicorp/oidc-schemes/oidc"
	"github.com/hashicorp/oidc-schemes/store"
	"github.com/spf13/cobra"
)

// newSchemesCmd manages stored records directly. A running server picks up
// the changes at its next start.
func newSchemesCmd(envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemes",
		Short: "Manage stored scheme configurations offline",
		Long: `Manage the stored scheme configurations without a running server.

The store can't be opened while the server holds it, and changes made here
are registered the next time the server starts.`,
	}
	cmd.AddCommand(newSchemesListCmd(envFile), newSchemesAddCmd(envFile), newSchemesRmCmd(envFile))
	return cmd
}

func openStore(envFile string) (*store.BoltStore, error) {
	cfg, err := config.LoadStorage(envFiles(envFile)...)
	if err != nil {
		return nil, err
	}
	st, err := store.OpenBolt(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

func newSchemesListCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored schemes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(*envFile)
			if err != nil {
				return err
			}
			defer st.Close()
			recs, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKEY\tCALLBACK\tAUTHORITY\tCLIENT ID\tVERSION")
			for _, r := range recs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n", r.ID, r.Key(), r.Key().CallbackPath(), r.Authority, r.ClientID, r.Version)
			}
			return w.Flush()
		},
	}
}

func newSchemesAddCmd(envFile *string) *cobra.Command {
	var authority, clientID, clientSecret string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a new scheme",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(*envFile)
			if err != nil {
				return err
			}
			defer st.Close()
			rec, err := st.Create(cmd.Context(), &store.Record{
				Authority:    authority,
				ClientID:     clientID,
				ClientSecret: oidc.ClientSecret(clientSecret),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s (id %d), callback path %s\n", rec.Key(), rec.ID, rec.Key().CallbackPath())
			return nil
		},
	}
	cmd.Flags().StringVar(&authority, "authority", "", "issuer URL of the provider")
	cmd.Flags().StringVar(&clientID, "client-id", "", "client id registered with the provider")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "client secret registered with the provider")
	_ = cmd.MarkFlagRequired("authority")
	_ = cmd.MarkFlagRequired("client-id")
	_ = cmd.MarkFlagRequired("client-secret")
	return cmd
}

func newSchemesRmCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a stored scheme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("%q is not a scheme id", args[0])
			}
			st, err := openStore(*envFile)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted id %d\n", id)
			return nil
		},
	}
}
