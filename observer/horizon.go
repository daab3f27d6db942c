package observer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	"github.com/stellar/go-stellar-sdk/protocols/horizon/base"
	"github.com/stellar/go-stellar-sdk/protocols/horizon/operations"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/core/logging"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

// PaymentsClient is the part of the Horizon client the observer reads from.
// *horizonclient.Client satisfies it.
type PaymentsClient interface {
	Payments(request horizonclient.OperationRequest) (operations.OperationsPage, error)
}

const (
	defaultPageLimit = 200
	defaultMaxPages  = 5
)

// SettlementObserver looks up the on-chain payment that settles a SEP-31
// transaction. It pages backwards through the receiving account's payments,
// newest first, and stops at the first match.
type SettlementObserver struct {
	horizon   PaymentsClient
	logger    *slog.Logger
	pageLimit uint
	maxPages  int
}

// ObserverOption configures a SettlementObserver.
type ObserverOption func(*SettlementObserver)

// WithPageLimit sets how many operations are requested per Horizon page.
func WithPageLimit(limit uint) ObserverOption {
	return func(o *SettlementObserver) {
		o.pageLimit = limit
	}
}

// WithMaxPages bounds how far back a lookup searches.
func WithMaxPages(pages int) ObserverOption {
	return func(o *SettlementObserver) {
		o.maxPages = pages
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ObserverOption {
	return func(o *SettlementObserver) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewSettlementObserver creates an observer reading from horizon.
func NewSettlementObserver(horizon PaymentsClient, opts ...ObserverOption) *SettlementObserver {
	obs := &SettlementObserver{
		horizon:   horizon,
		logger:    logging.Discard(),
		pageLimit: defaultPageLimit,
		maxPages:  defaultMaxPages,
	}
	for _, opt := range opts {
		opt(obs)
	}
	return obs
}

// NewHorizonSettlementObserver creates an observer for the Horizon server at horizonURL.
func NewHorizonSettlementObserver(horizonURL string, opts ...ObserverOption) *SettlementObserver {
	return NewSettlementObserver(&horizonclient.Client{HorizonURL: horizonURL}, opts...)
}

// FindSettlement returns the successful payment to the record's
// stellar_account_id that carries its memo, asset and amount. It fails with
// SETTLEMENT_NOT_FOUND when no such payment is within reach.
func (o *SettlementObserver) FindSettlement(ctx context.Context, record *stellarconnect.PaymentRecord) (*Settlement, error) {
	if record == nil || record.StellarAccountID == "" {
		return nil, errors.New(errors.StageSettlement, errors.CONFIG_INVALID, "record has no stellar_account_id to watch", nil)
	}

	matchers := []Matcher{WithDestination(record.StellarAccountID)}
	if record.StellarMemo != "" {
		matchers = append(matchers, WithMemo(record.StellarMemo))
	}
	if record.AssetCode != "" {
		matchers = append(matchers, WithAssetCode(record.AssetCode, ""))
	}
	if record.Amount != "" {
		matchers = append(matchers, WithAmount(record.Amount))
	}
	if record.Account != "" {
		matchers = append(matchers, WithSource(record.Account))
	}

	request := horizonclient.OperationRequest{
		ForAccount: record.StellarAccountID,
		Order:      horizonclient.OrderDesc,
		Limit:      o.pageLimit,
		Join:       "transactions",
	}

	for page := 0; page < o.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Propagate(errors.StageSettlement, "settlement lookup aborted", err)
		}

		ops, err := o.horizon.Payments(request)
		if err != nil {
			return nil, errors.New(errors.StageSettlement, errors.UNREACHABLE, "failed to list payments from Horizon", err)
		}
		records := ops.Embedded.Records
		for _, op := range records {
			s, ok := toSettlement(op)
			if !ok || !MatchAll(*s, matchers...) {
				continue
			}
			o.logger.Info("settlement found",
				"transaction_id", record.TransactionID,
				"stellar_transaction", s.TransactionHash,
				"amount", s.Amount+" "+s.Asset,
			)
			return s, nil
		}
		if len(records) < int(o.pageLimit) {
			break
		}
		request.Cursor = records[len(records)-1].PagingToken()
	}

	return nil, errors.New(errors.StageSettlement, errors.SETTLEMENT_NOT_FOUND,
		fmt.Sprintf("no payment to %s with memo %q", record.StellarAccountID, record.StellarMemo), nil).
		With("transaction_id", record.TransactionID)
}

// toSettlement converts a successful payment operation. Other operation
// types cannot settle a SEP-31 transaction.
func toSettlement(op operations.Operation) (*Settlement, bool) {
	payment, ok := op.(operations.Payment)
	if !ok || !payment.TransactionSuccessful {
		return nil, false
	}

	s := &Settlement{
		OperationID:     payment.ID,
		From:            payment.From,
		To:              payment.To,
		Asset:           formatAsset(payment.Asset),
		Amount:          payment.Amount,
		Cursor:          payment.PT,
		TransactionHash: payment.TransactionHash,
		LedgerCloseTime: payment.LedgerCloseTime,
	}
	if payment.Transaction != nil {
		s.Memo = payment.Transaction.Memo
		s.MemoType = payment.Transaction.MemoType
	}
	return s, true
}

// formatAsset returns "native" for XLM and "CODE:ISSUER" for issued assets.
func formatAsset(asset base.Asset) string {
	if asset.Type == "native" {
		return "native"
	}
	return fmt.Sprintf("%s:%s", asset.Code, asset.Issuer)
}
