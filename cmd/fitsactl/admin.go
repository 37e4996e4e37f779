package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fitsa/fitsa/internal/auth"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the admin API token",
	}

	genToken := &cobra.Command{
		Use:   "gen-token",
		Short: "Generate an admin token and its ADMIN_TOKEN_HASH",
		Long: `Generate a random admin token and print it together with the
argon2id hash to put in ADMIN_TOKEN_HASH. The token is shown once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token:            %s\n", token)
			fmt.Fprintf(out, "ADMIN_TOKEN_HASH: %s\n", hash)
			return nil
		},
	}

	hashToken := &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Hash an existing token for ADMIN_TOKEN_HASH",
		Long:  "Hash a token given as argument, or read from stdin when omitted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token from stdin: %w", err)
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("token must not be empty")
			}

			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	verify := &cobra.Command{
		Use:   "verify-token <hash> <token>",
		Short: "Check a token against an ADMIN_TOKEN_HASH value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := auth.VerifyToken(args[1], args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("token does not match")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token matches")
			return nil
		},
	}

	cmd.AddCommand(genToken, hashToken, verify)
	return cmd
}
