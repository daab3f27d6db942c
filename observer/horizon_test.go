package observer

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	hProtocol "github.com/stellar/go-stellar-sdk/protocols/horizon"
	"github.com/stellar/go-stellar-sdk/protocols/horizon/base"
	"github.com/stellar/go-stellar-sdk/protocols/horizon/operations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

const (
	anchorAccount = "GANCHOR"
	senderAccount = "GSENDER"
	usdcIssuer    = "GISSUER"
)

type fakeHorizon struct {
	pages    map[string][]operations.Operation
	requests []horizonclient.OperationRequest
	err      error
}

func (f *fakeHorizon) Payments(request horizonclient.OperationRequest) (operations.OperationsPage, error) {
	f.requests = append(f.requests, request)
	var page operations.OperationsPage
	if f.err != nil {
		return page, f.err
	}
	page.Embedded.Records = f.pages[request.Cursor]
	return page, nil
}

func payment(id, to, code, amount, memo string, ok bool) operations.Payment {
	p := operations.Payment{
		Base: operations.Base{
			ID:                    id,
			PT:                    "pt-" + id,
			TransactionSuccessful: ok,
			Type:                  "payment",
			TransactionHash:       "hash-" + id,
			Transaction:           &hProtocol.Transaction{Memo: memo, MemoType: "text"},
		},
		Asset:  base.Asset{Type: "credit_alphanum4", Code: code, Issuer: usdcIssuer},
		From:   senderAccount,
		To:     to,
		Amount: amount,
	}
	return p
}

func pendingRecord() *stellarconnect.PaymentRecord {
	return &stellarconnect.PaymentRecord{
		TransactionID:    "tx-1",
		Account:          senderAccount,
		Amount:           "81.97",
		AssetCode:        "USDC",
		StellarAccountID: anchorAccount,
		StellarMemo:      "memo-1",
		StellarMemoType:  "text",
	}
}

func TestFindSettlementMatchesMemoAssetAndAmount(t *testing.T) {
	horizon := &fakeHorizon{pages: map[string][]operations.Operation{
		"": {
			payment("1", anchorAccount, "USDC", "81.9700000", "other-memo", true),
			payment("2", anchorAccount, "EURC", "81.9700000", "memo-1", true),
			payment("3", anchorAccount, "USDC", "81.9700000", "memo-1", false),
			payment("4", anchorAccount, "USDC", "81.9700000", "memo-1", true),
		},
	}}

	s, err := NewSettlementObserver(horizon).FindSettlement(context.Background(), pendingRecord())
	require.NoError(t, err)

	assert.Equal(t, "4", s.OperationID)
	assert.Equal(t, "hash-4", s.TransactionHash)
	assert.Equal(t, "USDC:"+usdcIssuer, s.Asset)
	assert.Equal(t, "memo-1", s.Memo)

	require.Len(t, horizon.requests, 1)
	assert.Equal(t, anchorAccount, horizon.requests[0].ForAccount)
	assert.Equal(t, "transactions", horizon.requests[0].Join)
	assert.Equal(t, horizonclient.OrderDesc, horizon.requests[0].Order)
}

func TestFindSettlementPagesBackwards(t *testing.T) {
	horizon := &fakeHorizon{pages: map[string][]operations.Operation{
		"": {
			payment("1", anchorAccount, "USDC", "1", "x", true),
			payment("2", anchorAccount, "USDC", "2", "y", true),
		},
		"pt-2": {
			payment("3", anchorAccount, "USDC", "81.97", "memo-1", true),
		},
	}}

	s, err := NewSettlementObserver(horizon, WithPageLimit(2)).FindSettlement(context.Background(), pendingRecord())
	require.NoError(t, err)
	assert.Equal(t, "3", s.OperationID)
	assert.Len(t, horizon.requests, 2)
}

func TestFindSettlementNotFound(t *testing.T) {
	pages := map[string][]operations.Operation{}
	cursor := ""
	for i := 0; i < 10; i++ {
		id := fmt.Sprint(i)
		pages[cursor] = []operations.Operation{payment(id, anchorAccount, "USDC", "1", "x", true)}
		cursor = "pt-" + id
	}
	horizon := &fakeHorizon{pages: pages}

	_, err := NewSettlementObserver(horizon, WithPageLimit(1), WithMaxPages(3)).FindSettlement(context.Background(), pendingRecord())
	assert.True(t, errors.IsCode(err, errors.SETTLEMENT_NOT_FOUND))
	assert.Len(t, horizon.requests, 3)
}

func TestFindSettlementErrors(t *testing.T) {
	_, err := NewSettlementObserver(&fakeHorizon{}).FindSettlement(context.Background(), &stellarconnect.PaymentRecord{})
	assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID))

	_, err = NewSettlementObserver(&fakeHorizon{err: stderrors.New("503")}).FindSettlement(context.Background(), pendingRecord())
	assert.True(t, errors.IsCode(err, errors.UNREACHABLE))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSettlementObserver(&fakeHorizon{}).FindSettlement(ctx, pendingRecord())
	assert.True(t, errors.IsCode(err, errors.CANCELLED))
}

func TestMatchers(t *testing.T) {
	s := Settlement{From: senderAccount, To: anchorAccount, Asset: "USDC:" + usdcIssuer, Amount: "10.5000000", Memo: "m"}

	assert.True(t, MatchAll(s, WithAssetCode("usdc", ""), WithAmount("10.5"), WithMemo("m"), WithSource(senderAccount), WithDestination(anchorAccount)))
	assert.False(t, WithAssetCode("USDC", "GOTHER")(s))
	assert.False(t, WithAmount("10.51")(s))
	assert.False(t, WithAmount("not-a-number")(s))
	assert.True(t, MatchAll(s))
}
