// Command fitsactl runs schema migrations and account operations against the
// fitsa database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/spf13/cobra"

	"github.com/fitsa/fitsa/internal/repository"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// cliConfig is the part of the server configuration the CLI needs.
type cliConfig struct {
	DatabaseURL   string `env:"DATABASE_URL"`
	FreeAllotment int    `env:"FREE_ALLOTMENT" envDefault:"3"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:          "fitsactl",
		Short:        "Operate a fitsa deployment",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flags win over the environment.
			dbFlag, _ := cmd.Flags().GetString("database-url")
			freeFlag := cmd.Flags().Lookup("free-allotment")
			if err := env.Parse(cfg); err != nil {
				return fmt.Errorf("parse environment: %w", err)
			}
			if dbFlag != "" {
				cfg.DatabaseURL = dbFlag
			}
			if freeFlag != nil && freeFlag.Changed {
				n, _ := cmd.Flags().GetInt("free-allotment")
				cfg.FreeAllotment = n
			}
			return nil
		},
	}
	root.PersistentFlags().String("database-url", "", "Postgres connection string (default $DATABASE_URL)")
	root.PersistentFlags().Int("free-allotment", 3, "free fittings granted to new accounts (default $FREE_ALLOTMENT)")

	root.AddCommand(
		newMigrateCmd(cfg),
		newAccountCmd(cfg),
		newAdminCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "fitsactl %s\n", Version)
			},
		},
	)
	return root
}

// openRepository connects to Postgres using the resolved configuration.
func openRepository(ctx context.Context, cfg *cliConfig) (*repository.Repository, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database url is required: set DATABASE_URL or --database-url")
	}
	return repository.New(ctx, cfg.DatabaseURL)
}
