// Package sdk is the client side of a Stellar cross-border payment.
//
// The components can be used on their own: AuthSession runs SEP-10,
// QuoteNegotiator talks SEP-38 and PaymentInitiator talks SEP-31. Client
// composes them with the anchor directory behind a single Send call.
package sdk

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/core/net"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

// Client is the entry point for sending payments through Stellar anchors.
// It discovers anchor endpoints via stellar.toml (SEP-1), keeps SEP-10 tokens
// per (domain, account), and runs the quote and payment stages.
type Client struct {
	networkPassphrase string
	httpClient        *net.Client
	resolver          *toml.Resolver
	auth              *AuthSession
	quotes            *QuoteNegotiator
	payments          *PaymentInitiator

	logger        *slog.Logger
	metrics       *Metrics
	stageRetries  int
	retryInterval time.Duration
}

// Recipient identifies who receives the payment and how the receiving anchor
// routes it off-chain.
type Recipient struct {
	// SenderID and ReceiverID are SEP-12 customer ids registered beforehand.
	SenderID   string
	ReceiverID string
	// Fields are the anchor-specific transaction fields.
	Fields map[string]string
}

// SendRequest describes one cross-border payment.
type SendRequest struct {
	Domain string
	// Account defaults to Signer.PublicKey().
	Account string
	Signer  stellarconnect.Signer

	// Amount is what the sender sells, as a decimal string.
	Amount    string
	SellAsset string
	BuyAsset  string
	// DeliveryMethod is the off-chain rail for the fiat side of the quote.
	DeliveryMethod string
	CountryCode    string

	Recipient Recipient
}

// NewClient creates a new client for the network identified by
// networkPassphrase (e.g. "Test SDF Network ; September 2015").
func NewClient(networkPassphrase string, opts ...Option) *Client {
	o := newOptions(opts)

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = net.NewClient(net.WithLogger(o.logger))
	}
	resolver := o.resolver
	if resolver == nil {
		resolver = toml.NewResolver(httpClient, toml.WithClock(o.now), toml.WithLogger(o.logger))
	}

	// Components must share the stores resolved above.
	shared := append(append([]Option(nil), opts...), WithTokenStore(o.tokens), WithPaymentStore(o.payments))

	return &Client{
		networkPassphrase: networkPassphrase,
		httpClient:        httpClient,
		resolver:          resolver,
		auth:              NewAuthSession(httpClient, networkPassphrase, shared...),
		quotes:            NewQuoteNegotiator(httpClient, shared...),
		payments:          NewPaymentInitiator(httpClient, shared...),
		logger:            o.logger,
		metrics:           o.metrics,
		stageRetries:      o.stageRetries,
		retryInterval:     o.retryInterval,
	}
}

// NetworkPassphrase returns the network the client was created for.
func (c *Client) NetworkPassphrase() string { return c.networkPassphrase }

// Resolver returns the anchor directory.
func (c *Client) Resolver() *toml.Resolver { return c.resolver }

// Auth returns the SEP-10 session.
func (c *Client) Auth() *AuthSession { return c.auth }

// Quotes returns the SEP-38 negotiator.
func (c *Client) Quotes() *QuoteNegotiator { return c.quotes }

// Payments returns the SEP-31 initiator.
func (c *Client) Payments() *PaymentInitiator { return c.payments }

// Resolve returns the anchor's descriptor, retrying transient failures.
func (c *Client) Resolve(ctx context.Context, domain string) (*toml.AnchorInfo, error) {
	var info *toml.AnchorInfo
	err := c.retry(ctx, errors.StageResolve, func() error {
		var err error
		info, err = c.resolver.Resolve(ctx, domain)
		return err
	})
	return info, err
}

// Login returns a valid token for (domain, account), retrying transient failures.
func (c *Client) Login(ctx context.Context, info *toml.AnchorInfo, account string, signer stellarconnect.Signer) (*stellarconnect.AuthToken, error) {
	var token *stellarconnect.AuthToken
	err := c.retry(ctx, errors.StageAuthenticate, func() error {
		var err error
		token, err = c.auth.Token(ctx, info, account, signer)
		return err
	})
	return token, err
}

func (c *Client) reauthenticate(ctx context.Context, info *toml.AnchorInfo, account string, signer stellarconnect.Signer) (*stellarconnect.AuthToken, error) {
	c.metrics.reauth()
	if err := c.auth.Invalidate(ctx, info.Domain, account); err != nil {
		return nil, err
	}
	var token *stellarconnect.AuthToken
	err := c.retry(ctx, errors.StageAuthenticate, func() error {
		var err error
		token, err = c.auth.Authenticate(ctx, info, account, signer)
		return err
	})
	return token, err
}

// Send resolves the anchor, authenticates, obtains a firm quote when the
// anchor runs a quote server, and submits the payment. The first failing
// stage ends the pipeline; its error names the stage. Nothing is undone.
func (c *Client) Send(ctx context.Context, req SendRequest) (record *stellarconnect.PaymentRecord, err error) {
	requestID := net.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = net.ContextWithRequestID(ctx, requestID)
	}
	logger := c.logger.With("request_id", requestID, "domain", req.Domain)

	defer func() {
		c.metrics.send(err)
		if err != nil {
			c.observeFailure(logger, err)
		}
	}()

	account, err := sendAccount(req)
	if err != nil {
		return nil, err
	}

	info, err := c.Resolve(ctx, req.Domain)
	if err != nil {
		return nil, err
	}
	token, err := c.Login(ctx, info, account, req.Signer)
	if err != nil {
		return nil, err
	}
	logger.Debug("authenticated", "account", account, "expires_at", token.ExpiresAt)

	var quote *stellarconnect.Quote
	if info.SupportsQuotes() {
		qr, err := quoteRequest(req)
		if err != nil {
			return nil, err
		}
		quote, err = withReauth(ctx, c, info, account, req.Signer, &token, func(tok *stellarconnect.AuthToken) (*stellarconnect.Quote, error) {
			q, err := c.quotes.GetQuote(ctx, info, tok, qr)
			return q, errors.WithStage(errors.StageQuote, err)
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Debug("anchor runs no quote server, paying without a quote")
	}

	payment, err := paymentRequest(req, quote)
	if err != nil {
		return nil, err
	}
	record, err = withReauth(ctx, c, info, account, req.Signer, &token, func(tok *stellarconnect.AuthToken) (*stellarconnect.PaymentRecord, error) {
		r, err := c.payments.Submit(ctx, info, tok, payment)
		return r, errors.WithStage(errors.StageSubmit, err)
	})
	if err != nil {
		return record, err
	}

	logger.Info("payment submitted",
		"transaction_id", record.TransactionID,
		"quote_id", record.QuoteID,
		"amount", record.Amount+" "+record.AssetCode,
	)
	return record, nil
}

// Track returns a Tracker for record. Each poll resolves the anchor and reuses
// the cached token, re-authenticating once if the anchor refuses it.
func (c *Client) Track(account string, signer stellarconnect.Signer, record *stellarconnect.PaymentRecord) *Tracker {
	return NewTracker(record, func(ctx context.Context, r *stellarconnect.PaymentRecord) (*stellarconnect.PaymentRecord, error) {
		return c.poll(ctx, account, signer, r)
	})
}

// Status polls the anchor once for a payment kept in the PaymentStore.
func (c *Client) Status(ctx context.Context, domain, account string, signer stellarconnect.Signer, id string) (*stellarconnect.PaymentRecord, error) {
	record, err := c.payments.Store().FindByID(ctx, toml.NormalizeDomain(domain), id)
	if err != nil {
		return nil, c.storeLookupError(domain, id, err)
	}
	return c.poll(ctx, account, signer, record)
}

func (c *Client) poll(ctx context.Context, account string, signer stellarconnect.Signer, record *stellarconnect.PaymentRecord) (*stellarconnect.PaymentRecord, error) {
	if record != nil && record.Status.Terminal() {
		return record, nil
	}
	if record == nil {
		return nil, errors.New(errors.StagePoll, errors.CONFIG_INVALID, "payment record is required", nil)
	}
	switch {
	case account == "":
		account = record.Account
	case record.Account != "" && account != record.Account:
		return nil, errors.New(errors.StagePoll, errors.CONFIG_INVALID,
			fmt.Sprintf("record %s was created by another account", record.TransactionID), nil).
			With("transaction_id", record.TransactionID)
	}

	info, err := c.Resolve(ctx, record.Domain)
	if err != nil {
		return nil, err
	}
	token, err := c.Login(ctx, info, account, signer)
	if err != nil {
		return nil, err
	}
	return withReauth(ctx, c, info, account, signer, &token, func(tok *stellarconnect.AuthToken) (*stellarconnect.PaymentRecord, error) {
		r, err := c.payments.PollStatus(ctx, info, tok, record)
		return r, errors.WithStage(errors.StagePoll, err)
	})
}

func (c *Client) storeLookupError(domain, id string, err error) error {
	if stderrors.Is(err, stellarconnect.ErrPaymentNotFound) {
		return errors.New(errors.StagePoll, errors.NOT_FOUND, "no stored payment "+id+" for "+domain, err)
	}
	return errors.New(errors.StagePoll, errors.STORE_ERROR, "failed to read payment store", err)
}

// retry runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. Cancellation is never retried.
func (c *Client) retry(ctx context.Context, stage errors.Stage, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	if c.retryInterval > 0 {
		eb.InitialInterval = c.retryInterval
	}
	var policy backoff.BackOff = backoff.WithMaxRetries(eb, uint64(max(c.stageRetries, 0)))
	policy = backoff.WithContext(policy, ctx)

	err := backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !errors.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		c.logger.Warn("retrying stage", "stage", stage, "error", err, "backoff", next)
	})
	if err == nil {
		return nil
	}
	if errors.CodeOf(err) == "" {
		err = errors.Propagate(stage, string(stage)+" aborted", err)
	}
	return errors.WithStage(stage, err)
}

func (c *Client) observeFailure(logger *slog.Logger, err error) {
	var sc *errors.StellarConnectError
	stage := errors.StageClient
	if errors.As(err, &sc) {
		stage = sc.Stage
	}
	c.metrics.failure(stage, err)
	logger.Warn("send failed", "stage", stage, "code", errors.CodeOf(err), "error", err)
}

// withReauth runs call with the current token. If the anchor refuses the
// token, it is replaced once and the call repeated once.
func withReauth[T any](ctx context.Context, c *Client, info *toml.AnchorInfo, account string, signer stellarconnect.Signer, token **stellarconnect.AuthToken, call func(*stellarconnect.AuthToken) (T, error)) (T, error) {
	v, err := call(*token)
	if !errors.IsCode(err, errors.UNAUTHORIZED) {
		return v, err
	}

	c.logger.Info("anchor refused token, authenticating again", "domain", info.Domain, "account", account)
	fresh, aerr := c.reauthenticate(ctx, info, account, signer)
	if aerr != nil {
		var zero T
		return zero, aerr
	}
	*token = fresh
	return call(fresh)
}

func sendAccount(req SendRequest) (string, error) {
	if req.Signer == nil {
		return "", errors.New(errors.StageClient, errors.CONFIG_INVALID, "signer is required", nil)
	}
	if strings.TrimSpace(req.Domain) == "" {
		return "", errors.New(errors.StageClient, errors.CONFIG_INVALID, "anchor domain is required", nil)
	}
	if req.Account != "" {
		return req.Account, nil
	}
	return req.Signer.PublicKey(), nil
}

func quoteRequest(req SendRequest) (QuoteRequest, error) {
	if req.SellAsset == "" || req.BuyAsset == "" {
		return QuoteRequest{}, errors.New(errors.StageQuote, errors.CONFIG_INVALID, "sell and buy asset are required to request a quote", nil)
	}
	qr := QuoteRequest{
		SellAsset:   req.SellAsset,
		BuyAsset:    req.BuyAsset,
		SellAmount:  req.Amount,
		CountryCode: req.CountryCode,
	}
	switch {
	case req.DeliveryMethod == "":
	case !ParseAsset(req.SellAsset).IsStellar():
		qr.SellDeliveryMethod = req.DeliveryMethod
	case !ParseAsset(req.BuyAsset).IsStellar():
		qr.BuyDeliveryMethod = req.DeliveryMethod
	}
	return qr, nil
}

// paymentRequest settles on the Stellar side of the exchange: the payment is
// made in that asset, for the amount the quote assigns to it.
func paymentRequest(req SendRequest, quote *stellarconnect.Quote) (stellarconnect.PaymentRequest, error) {
	type side struct {
		asset  string
		amount string
	}
	sides := []side{{asset: req.BuyAsset}, {asset: req.SellAsset, amount: req.Amount}}
	if quote != nil {
		sides = []side{{quote.BuyAsset, quote.BuyAmount}, {quote.SellAsset, quote.SellAmount}}
	}

	for _, s := range sides {
		if s.asset == "" {
			continue
		}
		asset := ParseAsset(s.asset)
		if !asset.IsStellar() {
			continue
		}
		amount := s.amount
		if amount == "" {
			amount = req.Amount
		}
		return stellarconnect.PaymentRequest{
			Quote:       quote,
			SenderID:    req.Recipient.SenderID,
			ReceiverID:  req.Recipient.ReceiverID,
			Amount:      amount,
			AssetCode:   asset.Code,
			AssetIssuer: asset.Issuer,
			RoutingInfo: req.Recipient.Fields,
		}, nil
	}
	return stellarconnect.PaymentRequest{}, errors.New(errors.StageSubmit, errors.CONFIG_INVALID, "no Stellar asset to pay in", nil)
}
