// Package observer confirms on-chain settlement of SEP-31 payments.
//
// After Send returns, the sender pays the anchor's stellar_account_id with
// the given memo. The observer looks that payment up on Horizon so a caller
// can tell "the anchor has not seen it yet" from "it was never sent". It only
// reads; it never builds or submits transactions.
//
// Example usage:
//
//	obs := observer.NewHorizonSettlementObserver("https://horizon-testnet.stellar.org")
//	settlement, err := obs.FindSettlement(ctx, record)
//	if errors.IsCode(err, errors.SETTLEMENT_NOT_FOUND) {
//	    // not paid yet
//	}
package observer

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Settlement is a Stellar payment operation that pays a SEP-31 transaction.
type Settlement struct {
	// OperationID is the unique operation ID from Horizon
	OperationID string

	// From is the account that sent the payment
	From string

	// To is the anchor's receiving account
	To string

	// Asset is "native" for XLM or "CODE:ISSUER" for issued assets
	Asset string

	// Amount is the payment amount as a string (e.g., "81.9700000")
	Amount string

	Memo     string
	MemoType string

	// Cursor is the paging_token of the operation
	Cursor string

	TransactionHash string
	LedgerCloseTime time.Time
}

// Matcher decides whether a payment settles a given transaction.
type Matcher func(Settlement) bool

// MatchAll returns true if every matcher accepts s.
func MatchAll(s Settlement, matchers ...Matcher) bool {
	for _, m := range matchers {
		if !m(s) {
			return false
		}
	}
	return true
}

// WithAssetCode matches payments of an asset with the given code. An issuer,
// when given, must match too.
func WithAssetCode(code, issuer string) Matcher {
	return func(s Settlement) bool {
		gotCode, gotIssuer, _ := strings.Cut(s.Asset, ":")
		if !strings.EqualFold(gotCode, code) {
			return false
		}
		return issuer == "" || gotIssuer == issuer
	}
}

// WithAmount matches payments of exactly amount, compared as decimals.
func WithAmount(amount string) Matcher {
	want, err := decimal.NewFromString(amount)
	return func(s Settlement) bool {
		if err != nil {
			return false
		}
		got, err := decimal.NewFromString(s.Amount)
		return err == nil && got.Equal(want)
	}
}

// WithMemo matches payments whose transaction carries memo.
func WithMemo(memo string) Matcher {
	return func(s Settlement) bool {
		return s.Memo == memo
	}
}

// WithDestination matches payments sent to a specific account.
func WithDestination(accountID string) Matcher {
	return func(s Settlement) bool {
		return s.To == accountID
	}
}

// WithSource matches payments sent from a specific account.
func WithSource(accountID string) Matcher {
	return func(s Settlement) bool {
		return s.From == accountID
	}
}
