package cmd

import (
	"github.com/spf13/cobra"
)

func newAdsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ads",
		Short: "Inspect and synchronize an account's ads",
	}

	syncCmd := &cobra.Command{
		Use:   "sync ACCOUNT_ID",
		Short: "Scrape the account's ads and mark vanished ones deleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.components(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			ctx := cmd.Context()
			account, err := c.Store.GetAccount(ctx, args[0])
			if err != nil {
				return err
			}
			merged, err := c.Ads.Sync(ctx, account)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), merged)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list ACCOUNT_ID",
		Short: "List the stored ads of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.components(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			stored, err := c.Store.ListAds(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stored)
		},
	}

	cmd.AddCommand(syncCmd, listCmd)
	return cmd
}
