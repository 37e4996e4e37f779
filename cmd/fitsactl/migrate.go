package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fitsa/fitsa/internal/repository"
	"github.com/fitsa/fitsa/migrations"
)

func newMigrateCmd(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := repository.LoadMigrations(migrations.FS)
			if err != nil {
				return err
			}
			repo, err := openRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			applied, err := repo.MigrateUp(cmd.Context(), ms)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %06d\n", v)
			}
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1, got %d", steps)
			}
			ms, err := repository.LoadMigrations(migrations.FS)
			if err != nil {
				return err
			}
			repo, err := openRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			reverted, err := repo.MigrateDown(cmd.Context(), ms, steps)
			if err != nil {
				return err
			}
			for _, v := range reverted {
				fmt.Fprintf(cmd.OutOrStdout(), "reverted %06d\n", v)
			}
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := repository.LoadMigrations(migrations.FS)
			if err != nil {
				return err
			}
			repo, err := openRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			applied, err := repo.AppliedVersions(cmd.Context())
			if err != nil {
				return err
			}
			done := make(map[int64]bool, len(applied))
			for _, v := range applied {
				done[v] = true
			}
			for _, m := range ms {
				state := "pending"
				if done[m.Version] {
					state = "applied"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%06d_%-20s %s\n", m.Version, m.Name, state)
			}
			return nil
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}
