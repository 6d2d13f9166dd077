package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/store"
)

type publishFlags struct {
	accountID string
	adFile    string
	proxyURL  string
	noProxy   bool
	ad        schemas.AdContent
}

// content returns the ad from --file when given, overlaid with any explicit
// field flags.
func (f *publishFlags) content(cmd *cobra.Command) (schemas.AdContent, error) {
	var ad schemas.AdContent
	if f.adFile != "" {
		raw, err := readInput(cmd.InOrStdin(), f.adFile)
		if err != nil {
			return ad, err
		}
		if err := json.Unmarshal([]byte(raw), &ad); err != nil {
			return ad, fmt.Errorf("failed to decode ad file: %w", err)
		}
	}
	flags := cmd.Flags()
	overlay := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	overlay("title", &ad.Title, f.ad.Title)
	overlay("description", &ad.Description, f.ad.Description)
	overlay("price", &ad.Price, f.ad.Price)
	overlay("postal-code", &ad.PostalCode, f.ad.PostalCode)
	overlay("category-id", &ad.CategoryID, f.ad.CategoryID)
	overlay("category-url", &ad.CategoryURL, f.ad.CategoryURL)
	if flags.Changed("image") {
		ad.ImagePaths = f.ad.ImagePaths
	}
	return ad, nil
}

// proxyFor picks the session proxy: an explicit flag, then the account's
// stored proxy.
func (f *publishFlags) proxyFor(ctx context.Context, st store.Store, account schemas.Account) (*schemas.ProxyDescriptor, error) {
	switch {
	case f.noProxy:
		return nil, nil
	case f.proxyURL != "":
		p, err := schemas.ParseProxy(f.proxyURL)
		if err != nil {
			return nil, err
		}
		return &p, nil
	case account.ProxyID != "":
		p, err := st.GetProxy(ctx, account.ProxyID)
		if err != nil {
			return nil, fmt.Errorf("failed to load proxy %s: %w", account.ProxyID, err)
		}
		return &p.Descriptor, nil
	}
	return nil, nil
}

func newPublishCmd(a *app) *cobra.Command {
	f := &publishFlags{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an ad for a stored account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ad, err := f.content(cmd)
			if err != nil {
				return err
			}

			c, err := a.components(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			ctx := cmd.Context()
			account, err := c.Store.GetAccount(ctx, f.accountID)
			if err != nil {
				return err
			}
			proxy, err := f.proxyFor(ctx, c.Store, account)
			if err != nil {
				return err
			}

			res := c.Publisher.Publish(ctx, account, proxy, ad)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("publish failed: %s", res.Error)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.accountID, "account", "", "stored account ID")
	flags.StringVarP(&f.adFile, "file", "f", "", "ad JSON file, or - for stdin")
	flags.StringVar(&f.proxyURL, "proxy", "", "proxy URL overriding the account's proxy")
	flags.BoolVar(&f.noProxy, "no-proxy", false, "publish without any proxy")
	flags.StringVar(&f.ad.Title, "title", "", "ad title")
	flags.StringVar(&f.ad.Description, "description", "", "ad description")
	flags.StringVar(&f.ad.Price, "price", "", "asking price")
	flags.StringVar(&f.ad.PostalCode, "postal-code", "", "postal code")
	flags.StringVar(&f.ad.CategoryID, "category-id", "", "numeric category ID")
	flags.StringVar(&f.ad.CategoryURL, "category-url", "", "category page URL")
	flags.StringSliceVar(&f.ad.ImagePaths, "image", nil, "image file (repeatable)")
	_ = cmd.MarkFlagRequired("account")
	cmd.MarkFlagsMutuallyExclusive("proxy", "no-proxy")
	return cmd
}
