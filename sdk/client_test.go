package sdk

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/anchortest"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

func sendRequest(a *anchortest.Anchor, signer stellarconnect.Signer) SendRequest {
	return SendRequest{
		Domain:         a.Domain(),
		Signer:         signer,
		Amount:         "100",
		SellAsset:      anchortest.FiatAsset,
		BuyAsset:       a.StellarAsset(),
		DeliveryMethod: "WIRE",
		CountryCode:    "US",
		Recipient: Recipient{
			SenderID:   "sender-1",
			ReceiverID: "receiver-1",
			Fields:     routing(),
		},
	}
}

func TestSendEndToEnd(t *testing.T) {
	a := anchortest.New(t)
	client := newTestClient(a)
	kp, signer := newSigner()
	ctx := context.Background()

	record, err := client.Send(ctx, sendRequest(a, signer))
	require.NoError(t, err)

	assert.Equal(t, stellarconnect.StatusPendingSender, record.Status)
	assert.Equal(t, kp.Address(), record.Account)
	assert.Equal(t, "81.97", record.Amount)
	assert.Equal(t, a.AssetCode(), record.AssetCode)
	assert.NotEmpty(t, record.QuoteID)

	tracker := client.Track("", signer, record)
	var seen []stellarconnect.PaymentStatus
	for r, err := range tracker.Statuses(ctx) {
		require.NoError(t, err)
		seen = append(seen, r.Status)
	}
	assert.Equal(t, []stellarconnect.PaymentStatus{
		stellarconnect.StatusPendingAnchor,
		stellarconnect.StatusPendingStellar,
		stellarconnect.StatusCompleted,
	}, seen)
	assert.True(t, tracker.Done())

	again, err := tracker.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, tracker.Record(), again)
	assert.Len(t, again.StatusHistory, 4)
	assert.Equal(t, 3, a.Calls(anchortest.EndpointGetTransaction))

	stored, err := client.Status(ctx, a.Domain(), "", signer, record.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, stellarconnect.StatusCompleted, stored.Status)
	assert.Equal(t, 3, a.Calls(anchortest.EndpointGetTransaction))

	// One SEP-10 exchange served the whole flow.
	assert.Equal(t, 2, a.AuthCalls())
	assert.Equal(t, 1, a.Calls(anchortest.EndpointTOML))
}

func TestStatusRefusesOtherAccount(t *testing.T) {
	a := anchortest.New(t)
	client := newTestClient(a)
	_, signer := newSigner()
	ctx := context.Background()

	record, err := client.Send(ctx, sendRequest(a, signer))
	require.NoError(t, err)
	authCalls := a.AuthCalls()

	other, otherSigner := newSigner()
	_, err = client.Status(ctx, a.Domain(), other.Address(), otherSigner, record.TransactionID)
	assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID), "got %v", err)

	_, err = client.Track(other.Address(), otherSigner, record).Poll(ctx)
	assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID), "got %v", err)

	assert.Equal(t, authCalls, a.AuthCalls())
	assert.Equal(t, 0, a.Calls(anchortest.EndpointGetTransaction))
}

func TestSendWithoutSigningKeyNeverAuthenticates(t *testing.T) {
	a := anchortest.New(t, anchortest.WithoutSigningKey())
	metrics := NewMetrics(nil)
	client := newTestClient(a, WithMetrics(metrics))
	_, signer := newSigner()

	_, err := client.Send(context.Background(), sendRequest(a, signer))
	require.True(t, errors.IsCode(err, errors.MALFORMED_DESCRIPTOR), "got %v", err)

	var sc *errors.StellarConnectError
	require.True(t, errors.As(err, &sc))
	assert.Equal(t, errors.StageResolve, sc.Stage)
	assert.Equal(t, 0, a.AuthCalls())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Sends().WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Failures().WithLabelValues("resolve", "MALFORMED_DESCRIPTOR")))
}

func TestSendReauthenticatesOnce(t *testing.T) {
	a := anchortest.New(t)
	metrics := NewMetrics(nil)
	client := newTestClient(a, WithMetrics(metrics))
	_, signer := newSigner()

	_, err := client.Send(context.Background(), sendRequest(a, signer))
	require.NoError(t, err)
	require.Equal(t, 2, a.AuthCalls())

	a.RevokeTokens()

	record, err := client.Send(context.Background(), sendRequest(a, signer))
	require.NoError(t, err)
	assert.Equal(t, stellarconnect.StatusPendingSender, record.Status)
	assert.Equal(t, 4, a.AuthCalls())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reauths))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Sends().WithLabelValues("ok")))
}

func TestSendDirectPaymentWithoutQuoteServer(t *testing.T) {
	a := anchortest.New(t, anchortest.WithoutQuoteServer())
	client := newTestClient(a)
	_, signer := newSigner()

	record, err := client.Send(context.Background(), sendRequest(a, signer))
	require.NoError(t, err)

	assert.Empty(t, record.QuoteID)
	assert.Equal(t, "100", record.Amount)
	assert.Equal(t, 0, a.Calls(anchortest.EndpointQuote))
	assert.Equal(t, 1, a.Calls(anchortest.EndpointCreateTransaction))
}

func TestSendTagsFailuresWithStage(t *testing.T) {
	a := anchortest.New(t)
	client := newTestClient(a)
	_, signer := newSigner()

	req := sendRequest(a, signer)
	req.Recipient.Fields = map[string]string{"account_number": "000123456789"}

	_, err := client.Send(context.Background(), req)
	require.True(t, errors.IsCode(err, errors.FIELDS_MISSING))
	assert.Equal(t, []string{"routing_number"}, errors.MissingFields(err))

	var sc *errors.StellarConnectError
	require.True(t, errors.As(err, &sc))
	assert.Equal(t, errors.StageSubmit, sc.Stage)
	assert.Equal(t, 1, a.Calls(anchortest.EndpointQuote))
	assert.Equal(t, 0, a.Calls(anchortest.EndpointCreateTransaction))
}

func TestSendUnsupportedPairStopsAtQuote(t *testing.T) {
	a := anchortest.New(t)
	client := newTestClient(a)
	_, signer := newSigner()

	req := sendRequest(a, signer)
	req.DeliveryMethod = "CASH"

	_, err := client.Send(context.Background(), req)
	require.True(t, errors.IsCode(err, errors.ASSET_PAIR_UNSUPPORTED))
	var sc *errors.StellarConnectError
	require.True(t, errors.As(err, &sc))
	assert.Equal(t, errors.StageQuote, sc.Stage)
	assert.Equal(t, 0, a.PaymentCalls())
}

func TestSendRequiresSigner(t *testing.T) {
	a := anchortest.New(t)
	_, err := newTestClient(a).Send(context.Background(), SendRequest{Domain: a.Domain()})
	assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID))
	assert.Equal(t, 0, a.Calls(anchortest.EndpointTOML))
}

func TestRetryOnlyRetriesTransientFailures(t *testing.T) {
	a := anchortest.New(t)
	client := newTestClient(a, WithStageRetries(3, time.Millisecond))

	var attempts atomic.Int32
	err := client.retry(context.Background(), errors.StageResolve, func() error {
		if attempts.Add(1) < 3 {
			return errors.NewTransportError(errors.UNREACHABLE, "connection refused", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())

	attempts.Store(0)
	err = client.retry(context.Background(), errors.StageAuthenticate, func() error {
		attempts.Add(1)
		return errors.NewAuthError(errors.CHALLENGE_REJECTED, "bad challenge", nil)
	})
	assert.True(t, errors.IsCode(err, errors.CHALLENGE_REJECTED))
	assert.Equal(t, int32(1), attempts.Load())

	attempts.Store(0)
	err = client.retry(context.Background(), errors.StageResolve, func() error {
		attempts.Add(1)
		return errors.NewTransportError(errors.TIMEOUT, "slow", nil)
	})
	assert.True(t, errors.IsCode(err, errors.TIMEOUT))
	assert.Equal(t, int32(4), attempts.Load())
}

func TestRetryStopsOnCancellation(t *testing.T) {
	a := anchortest.New(t)
	client := newTestClient(a, WithStageRetries(5, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int32
	err := client.retry(ctx, errors.StageResolve, func() error {
		attempts.Add(1)
		cancel()
		return errors.NewTransportError(errors.UNREACHABLE, "connection refused", nil)
	})
	assert.True(t, errors.IsCode(err, errors.CANCELLED), "got %v", err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestPaymentRequestPicksStellarSide(t *testing.T) {
	quote := &stellarconnect.Quote{
		ID:         "q1",
		SellAsset:  "iso4217:USD",
		SellAmount: "100",
		BuyAsset:   "stellar:USDC:GISSUER",
		BuyAmount:  "81.97",
	}
	req := SendRequest{Amount: "100", SellAsset: quote.SellAsset, BuyAsset: quote.BuyAsset}

	pr, err := paymentRequest(req, quote)
	require.NoError(t, err)
	assert.Equal(t, "USDC", pr.AssetCode)
	assert.Equal(t, "GISSUER", pr.AssetIssuer)
	assert.Equal(t, "81.97", pr.Amount)

	_, err = paymentRequest(SendRequest{Amount: "1", SellAsset: "iso4217:USD", BuyAsset: "iso4217:MXN"}, nil)
	assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID))
}
