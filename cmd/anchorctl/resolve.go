package main

import (
	"github.com/spf13/cobra"
)

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <domain>",
		Short: "Show the endpoints an anchor publishes in its stellar.toml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stop := a.spin("Fetching stellar.toml...")
			info, err := a.client.Resolve(cmd.Context(), args[0])
			stop()
			if err != nil {
				return err
			}
			view := newAnchorView(info)
			return a.render(view, view.print)
		},
	}
}
