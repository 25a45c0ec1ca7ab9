package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/secrets"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store/postgres"
)

var errNoDatabase = errors.New("DATABASE_URL is required")

func newCheckConfigCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate secrets and lifetimes without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			report, _ := secrets.Validate(s.Engine.SecretsInput(), s.Engine.Profile)
			for _, w := range report.Warnings {
				fmt.Fprintln(cmd.OutOrStdout(), "warning:", w.String())
			}
			if err := s.Engine.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok (profile %s)\n", s.Engine.Profile)
			return nil
		},
	}
}

func newGenSecretCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "gen-secret",
		Short: "Print random secrets suitable for JWT and session signing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			for i := 0; i < count; i++ {
				s, err := secrets.GenerateSecret()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 3, "number of secrets")
	return cmd
}

func newMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			if s.DatabaseURL == "" {
				return errNoDatabase
			}
			db, err := postgres.Open(cmd.Context(), s.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := postgres.Migrate(cmd.Context(), db)
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d\n", v)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			return nil
		},
	}
}

func newPurgeAuditCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-audit",
		Short: "Delete audit events past their retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			if s.DatabaseURL == "" {
				return errNoDatabase
			}
			db, err := postgres.Open(cmd.Context(), s.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := postgres.NewAuditRepository(db).PurgeExpired(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("%w: %v", authkernel.ErrStoreUnavailable, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d events\n", n)
			return nil
		},
	}
}
