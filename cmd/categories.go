package cmd

import (
	"github.com/spf13/cobra"
)

func newCategoriesCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Print the category tree, from cache when fresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.components(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			tree, err := c.Categories.GetCategories(cmd.Context(), force)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tree)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the cache and refetch")

	childrenCmd := &cobra.Command{
		Use:   "children ID|URL",
		Short: "Print the subcategories of one category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.components(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			children, err := c.Categories.GetChildren(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), children)
		},
	}

	cmd.AddCommand(childrenCmd)
	return cmd
}
