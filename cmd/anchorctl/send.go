package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/marwen-abid/anchor-remit-go/sdk"
)

func newSendCmd(a *app) *cobra.Command {
	var (
		req      sdk.SendRequest
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <domain>",
		Short: "Quote and initiate a SEP-31 cross-border payment",
		Long: `Resolve the anchor, authenticate, request a firm quote when the anchor runs a
quote server, and create the SEP-31 transaction.

The sender and receiver must already be registered with the anchor (SEP-12).
Anchor-specific transaction fields are passed with repeated --field key=value.

Examples:
  anchorctl send testanchor.stellar.org --amount 100 --sell iso4217:USD --buy stellar:USDC:G... \
    --method WIRE --sender-id 1b2c --receiver-id 9f3e \
    --field routing_number=121000358 --field account_number=000123456789
  anchorctl send testanchor.stellar.org ... --watch --interval 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := a.signer()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			req.Domain = args[0]
			req.Signer = signer

			stop := a.spin("Sending payment...")
			record, err := a.client.Send(ctx, req)
			stop()
			if record != nil {
				view := newPaymentView(record)
				if rerr := a.render(view, view.print); rerr != nil {
					return rerr
				}
			}
			if err != nil {
				return err
			}

			if !watch {
				return nil
			}
			return a.watch(ctx, a.client.Track("", signer, record), interval)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Amount, "amount", "", "Amount of --sell to send")
	flags.StringVar(&req.SellAsset, "sell", "", "Asset the sender pays with (SEP-38 identifier)")
	flags.StringVar(&req.BuyAsset, "buy", "", "Asset the anchor receives (SEP-38 identifier)")
	flags.StringVar(&req.DeliveryMethod, "method", "", "Off-chain delivery method of the fiat side")
	flags.StringVar(&req.CountryCode, "country", "", "ISO 3166-1 alpha-3 country code")
	flags.StringVar(&req.Recipient.SenderID, "sender-id", "", "SEP-12 customer id of the sender")
	flags.StringVar(&req.Recipient.ReceiverID, "receiver-id", "", "SEP-12 customer id of the receiver")
	flags.StringToStringVar(&req.Recipient.Fields, "field", nil, "Anchor transaction field as key=value (repeatable)")
	flags.BoolVarP(&watch, "watch", "w", false, "Follow the payment until it settles")
	flags.DurationVar(&interval, "interval", 5*time.Second, "Polling interval when watching")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("sell")
	_ = cmd.MarkFlagRequired("buy")
	return cmd
}
