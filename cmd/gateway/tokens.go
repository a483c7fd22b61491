package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cuemby/kilo-gateway/internal/admission"
	"github.com/cuemby/kilo-gateway/internal/tokenstore"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage admin tokens directly against the token store",
}

var tokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a new admin token",
	Long: `Mint a new admin token against the local token store file.

Run as a local maintenance operation, this bypasses the bootstrap-auth
rule enforced by the HTTP API: direct filesystem access to the store
implies the same trust an operator already has to start the gateway.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openAdmission(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		created, err := svc.Create(true)
		if err != nil {
			return err
		}
		fmt.Printf("id: %d\ntoken: %s\n", created.ID, created.Token)
		fmt.Println("\nSave this token now; it will not be shown again.")
		return nil
	},
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List admin tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openAdmission(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		tokens, err := svc.List(true)
		if err != nil {
			return err
		}
		for _, t := range tokens {
			revoked := "-"
			if t.RevokedAt != nil {
				revoked = t.RevokedAt.Format("2006-01-02T15:04:05Z07:00")
			}
			fmt.Printf("%-6d created=%-25s revoked=%s\n", t.ID, t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), revoked)
		}
		return nil
	},
}

var tokensRevokeCmd = &cobra.Command{
	Use:   "revoke ID",
	Short: "Revoke an admin token by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openAdmission(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid token id %q", args[0])
		}

		info, err := svc.Revoke(id)
		if err != nil {
			return err
		}
		fmt.Printf("revoked token %d at %s\n", info.ID, info.RevokedAt.Format("2006-01-02T15:04:05Z07:00"))
		return nil
	},
}

func init() {
	tokensCmd.PersistentFlags().String("store", ".", "Directory containing the gateway's token store file")
	tokensCmd.AddCommand(tokensCreateCmd, tokensListCmd, tokensRevokeCmd)
}

func openAdmission(cmd *cobra.Command) (*admission.Service, func(), error) {
	dir, _ := cmd.Flags().GetString("store")
	store, err := tokenstore.Open(dir)
	if err != nil {
		return nil, nil, &exitCode{code: 2, err: fmt.Errorf("open token store: %w", err)}
	}
	return admission.New(store), func() { _ = store.Close() }, nil
}
