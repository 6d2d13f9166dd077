package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

func newValidateCmd(a *app) *cobra.Command {
	var cookiesPath, proxyURL string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check whether a cookie export still signs in, without storing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readInput(cmd.InOrStdin(), cookiesPath)
			if err != nil {
				return err
			}
			var proxy *schemas.ProxyDescriptor
			if proxyURL != "" {
				p, err := schemas.ParseProxy(proxyURL)
				if err != nil {
					return err
				}
				proxy = &p
			}

			c, err := a.components(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			res := c.Auth.Validate(cmd.Context(), blob, nil, proxy)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("cookies rejected: %s", res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cookiesPath, "cookies", "", "cookie export file, or - for stdin")
	cmd.Flags().StringVar(&proxyURL, "proxy", "", "proxy URL to validate through")
	_ = cmd.MarkFlagRequired("cookies")
	return cmd
}

// importOutput is printed by "accounts import".
type importOutput struct {
	Account    *schemas.Account         `json:"account,omitempty"`
	Validation schemas.ValidationResult `json:"validation"`
}

func newAccountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage stored accounts",
	}

	var cookiesPath, proxyID string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a cookie export and store it as a new account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readInput(cmd.InOrStdin(), cookiesPath)
			if err != nil {
				return err
			}
			c, err := a.components(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			acc, res, err := c.Auth.ImportAccount(cmd.Context(), blob, proxyID)
			if err != nil {
				return err
			}
			out := importOutput{Validation: res}
			if res.Valid {
				out.Account = &acc
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("cookies rejected: %s", res.Reason)
			}
			return nil
		},
	}
	importCmd.Flags().StringVar(&cookiesPath, "cookies", "", "cookie export file, or - for stdin")
	importCmd.Flags().StringVar(&proxyID, "proxy-id", "", "stored proxy to bind the account to")
	_ = importCmd.MarkFlagRequired("cookies")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored accounts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.components(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			accounts, err := c.Store.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), accounts)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one stored account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.components(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			acc, err := c.Store.GetAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acc)
		},
	}

	recheckCmd := &cobra.Command{
		Use:   "recheck ID",
		Short: "Validate a stored account again and record its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.components(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			res, err := c.Auth.Recheck(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a stored account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.components(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			if err := c.Store.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
		},
	}

	cmd.AddCommand(importCmd, listCmd, showCmd, recheckCmd, deleteCmd)
	return cmd
}
