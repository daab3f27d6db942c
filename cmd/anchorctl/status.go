package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
	"github.com/marwen-abid/anchor-remit-go/errors"
	"github.com/marwen-abid/anchor-remit-go/observer"
	"github.com/marwen-abid/anchor-remit-go/sdk"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		watch      bool
		interval   time.Duration
		settlement bool
	)

	cmd := &cobra.Command{
		Use:   "status <domain> <transaction-id>",
		Short: "Check the status of a SEP-31 payment",
		Long: `Ask the anchor for the current status of a SEP-31 transaction.

With --settlement the sender's on-chain payment to the anchor is looked up on
Horizon (horizon_url, defaulting to the SDF instance of the configured network).

Examples:
  anchorctl status testanchor.stellar.org 5c3e0b2a-...
  anchorctl status testanchor.stellar.org 5c3e0b2a-... --watch --interval 10s`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := a.signer()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			tracker := a.client.Track("", signer, &stellarconnect.PaymentRecord{
				TransactionID: args[1],
				Domain:        toml.NormalizeDomain(args[0]),
				Account:       signer.PublicKey(),
			})

			stop := a.spin("Checking payment status...")
			record, err := tracker.Poll(ctx)
			stop()
			if err != nil {
				return err
			}

			view := newPaymentView(record)
			if settlement {
				s, err := a.findSettlement(ctx, record)
				if err != nil && !errors.IsCode(err, errors.SETTLEMENT_NOT_FOUND) {
					return err
				}
				if s != nil {
					view.Settlement = newSettlementView(s)
				}
			}
			if err := a.render(view, view.print); err != nil {
				return err
			}

			if !watch {
				return nil
			}
			return a.watch(ctx, tracker, interval)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&watch, "watch", "w", false, "Watch status updates until the payment settles")
	flags.DurationVar(&interval, "interval", 5*time.Second, "Polling interval when watching")
	flags.BoolVar(&settlement, "settlement", false, "Look up the on-chain payment on Horizon")
	return cmd
}

func (a *app) findSettlement(ctx context.Context, record *stellarconnect.PaymentRecord) (*observer.Settlement, error) {
	obs := observer.NewHorizonSettlementObserver(a.cfg.Horizon(), observer.WithLogger(a.logger))
	stop := a.spin("Searching Horizon...")
	defer stop()
	return obs.FindSettlement(ctx, record)
}

// watch polls the tracker every interval and prints each status change until
// the payment reaches a terminal status. Transient failures are reported and
// the next tick tries again.
func (a *app) watch(ctx context.Context, tracker *sdk.Tracker, interval time.Duration) error {
	if a.machineOutput() {
		return errors.New(errors.StageClient, errors.CONFIG_INVALID, "watch mode is not supported with --json or --yaml", nil)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	last := tracker.Record()
	fmt.Fprintf(a.out, "\nWatching payment %s\n", color.CyanString(last.TransactionID))
	fmt.Fprintf(a.out, "Checking every %s. Press Ctrl+C to stop.\n\n", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !tracker.Done() {
		select {
		case <-ctx.Done():
			return errors.Propagate(errors.StagePoll, "watch stopped", ctx.Err())
		case <-ticker.C:
		}

		record, err := tracker.Poll(ctx)
		if err != nil {
			if !errors.Retryable(err) {
				return err
			}
			fmt.Fprintln(a.errOut, color.RedString("Error: %v", err))
			continue
		}
		if record.Status != last.Status {
			fmt.Fprintf(a.out, "  %s  %s\n", record.UpdatedAt.Local().Format(time.TimeOnly), coloredStatus(record.Status))
			last = record
		}
	}

	newPaymentView(tracker.Record()).print(a.out)
	return nil
}
