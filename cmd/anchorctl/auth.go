package main

import (
	"github.com/spf13/cobra"
)

func newAuthCmd(a *app) *cobra.Command {
	var showToken bool

	cmd := &cobra.Command{
		Use:   "auth <domain>",
		Short: "Authenticate the configured account with the anchor (SEP-10)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := a.signer()
			if err != nil {
				return err
			}

			stop := a.spin("Authenticating...")
			defer stop()
			info, err := a.client.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			token, err := a.client.Login(cmd.Context(), info, signer.PublicKey(), signer)
			if err != nil {
				return err
			}
			stop()

			view := tokenView{Domain: token.HomeDomain, Account: token.Account, ExpiresAt: token.ExpiresAt}
			if showToken {
				view.JWT = token.JWT
			}
			return a.render(view, view.print)
		},
	}

	cmd.Flags().BoolVar(&showToken, "show-token", false, "Print the bearer token")
	return cmd
}
