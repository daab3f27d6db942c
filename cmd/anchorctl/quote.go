package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/marwen-abid/anchor-remit-go/sdk"
)

func newQuoteCmd(a *app) *cobra.Command {
	var (
		req        sdk.QuoteRequest
		indicative bool
	)

	cmd := &cobra.Command{
		Use:   "quote <domain>",
		Short: "Request a firm SEP-38 quote, or indicative prices with --indicative",
		Long: `Request a firm SEP-38 quote for selling --amount of --sell in exchange for --buy.

Assets use SEP-38 identifiers: stellar:CODE:ISSUER or iso4217:CCY.

Examples:
  anchorctl quote testanchor.stellar.org --sell iso4217:USD --buy stellar:USDC:G... --amount 100 --sell-method WIRE
  anchorctl quote testanchor.stellar.org --sell iso4217:USD --amount 100 --indicative`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := a.signer()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			stop := a.spin("Requesting quote...")
			defer stop()
			info, err := a.client.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			token, err := a.client.Login(ctx, info, signer.PublicKey(), signer)
			if err != nil {
				return err
			}

			if indicative {
				prices, err := a.client.Quotes().Prices(ctx, info, token, req.SellAsset, req.SellAmount)
				if err != nil {
					return err
				}
				stop()
				views := newPriceViews(prices)
				return a.render(views, func(w io.Writer) { printPrices(w, views) })
			}

			quote, err := a.client.Quotes().GetQuote(ctx, info, token, req)
			if err != nil {
				return err
			}
			stop()
			view := newQuoteView(quote)
			return a.render(view, view.print)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.SellAsset, "sell", "", "Asset to sell (SEP-38 identifier)")
	flags.StringVar(&req.BuyAsset, "buy", "", "Asset to buy (SEP-38 identifier)")
	flags.StringVar(&req.SellAmount, "amount", "", "Amount of --sell to sell")
	flags.StringVar(&req.SellDeliveryMethod, "sell-method", "", "Off-chain delivery method of the sold asset")
	flags.StringVar(&req.BuyDeliveryMethod, "buy-method", "", "Off-chain delivery method of the bought asset")
	flags.StringVar(&req.CountryCode, "country", "", "ISO 3166-1 alpha-3 country code")
	flags.BoolVar(&indicative, "indicative", false, "List indicative prices instead of a firm quote")
	_ = cmd.MarkFlagRequired("sell")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
