package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fitsa/fitsa/internal/ledger"
	"github.com/fitsa/fitsa/internal/model"
)

const purchaseListLimit = 10

func newAccountCmd(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect and adjust user quota",
	}

	status := &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show an account with its recent purchases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			accounts := repo.Accounts(cfg.FreeAllotment)
			account, err := accounts.Account(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			purchases, err := accounts.ListPurchases(cmd.Context(), args[0], purchaseListLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				*model.Account
				Purchases []model.Purchase `json:"recent_purchases"`
			}{account, purchases})
		},
	}

	credit := &cobra.Command{
		Use:   "credit <user-id> <amount>",
		Short: "Grant credits outside the payment flow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			repo, err := openRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			balance, err := repo.Accounts(cfg.FreeAllotment).Credit(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			return printJSON(cmd, balance)
		},
	}

	resetFree := &cobra.Command{
		Use:   "reset-free <user-id>",
		Short: "Restore the free allotment of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			balance, err := repo.Accounts(cfg.FreeAllotment).ResetFree(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, balance)
		},
	}

	cmd.AddCommand(status, credit, resetFree)
	return cmd
}

func parseAmount(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not an integer", raw)
	}
	if n <= 0 {
		return 0, ledger.ErrInvalidAmount
	}
	return n, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
