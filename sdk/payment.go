package sdk

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/core/net"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

// PaymentInfo is the SEP-31 GET /info response.
type PaymentInfo struct {
	Receive map[string]ReceiveAsset `json:"receive"`
}

// ReceiveAsset describes how an anchor accepts payments in one asset.
type ReceiveAsset struct {
	Enabled         *bool            `json:"enabled"`
	QuotesSupported bool             `json:"quotes_supported"`
	QuotesRequired  bool             `json:"quotes_required"`
	FeeFixed        *decimal.Decimal `json:"fee_fixed"`
	FeePercent      *decimal.Decimal `json:"fee_percent"`
	MinAmount       *decimal.Decimal `json:"min_amount"`
	MaxAmount       *decimal.Decimal `json:"max_amount"`
	SEP12           struct {
		Sender   customerTypes `json:"sender"`
		Receiver customerTypes `json:"receiver"`
	} `json:"sep12"`
	Fields struct {
		Transaction map[string]TransactionField `json:"transaction"`
	} `json:"fields"`
}

type customerTypes struct {
	Types map[string]json.RawMessage `json:"types"`
}

// TransactionField describes one anchor-specific transaction field.
type TransactionField struct {
	Description string   `json:"description"`
	Choices     []string `json:"choices"`
	Optional    bool     `json:"optional"`
}

// IsEnabled reports whether the anchor accepts the asset. A missing flag means enabled.
func (r ReceiveAsset) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// RequiredFields lists the non-optional transaction fields, sorted.
func (r ReceiveAsset) RequiredFields() []string {
	var names []string
	for name, f := range r.Fields.Transaction {
		if !f.Optional {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

type createTransactionResponse struct {
	ID               string `json:"id"`
	StellarAccountID string `json:"stellar_account_id"`
	StellarMemoType  string `json:"stellar_memo_type"`
	StellarMemo      string `json:"stellar_memo"`
}

type transactionResponse struct {
	ID                   string `json:"id"`
	Status               string `json:"status"`
	AmountIn             string `json:"amount_in"`
	AmountOut            string `json:"amount_out"`
	AmountFee            string `json:"amount_fee"`
	QuoteID              string `json:"quote_id"`
	StellarAccountID     string `json:"stellar_account_id"`
	StellarMemoType      string `json:"stellar_memo_type"`
	StellarMemo          string `json:"stellar_memo"`
	StellarTransactionID string `json:"stellar_transaction_id"`
	Message              string `json:"message"`
	RequiredInfoMessage  string `json:"required_info_message"`
}

type cachedPaymentInfo struct {
	info      *PaymentInfo
	fetchedAt time.Time
}

// PaymentInitiator submits SEP-31 payments and reads their status.
//
// Submit validates the request against the anchor's advertised schema before
// anything is sent, so a request the anchor is guaranteed to reject never
// leaves the process. PollStatus only records what the anchor reports.
type PaymentInitiator struct {
	client   *net.Client
	payments stellarconnect.PaymentStore
	now      func() time.Time
	logger   *slog.Logger
	infoTTL  time.Duration

	mu     sync.Mutex
	infos  map[string]cachedPaymentInfo
	quotes map[string]struct{}
}

// NewPaymentInitiator creates a PaymentInitiator.
func NewPaymentInitiator(client *net.Client, opts ...Option) *PaymentInitiator {
	o := newOptions(opts)
	return &PaymentInitiator{
		client:   client,
		payments: o.payments,
		now:      o.now,
		logger:   o.logger,
		infoTTL:  o.infoTTL,
		infos:    make(map[string]cachedPaymentInfo),
		quotes:   make(map[string]struct{}),
	}
}

// Store returns the store records are persisted in.
func (p *PaymentInitiator) Store() stellarconnect.PaymentStore {
	return p.payments
}

// Info returns the anchor's SEP-31 receive schema, cached per domain.
func (p *PaymentInitiator) Info(ctx context.Context, info *toml.AnchorInfo, token *stellarconnect.AuthToken) (*PaymentInfo, error) {
	if err := requirePaymentServer(info); err != nil {
		return nil, err
	}

	p.mu.Lock()
	cached, ok := p.infos[info.Domain]
	p.mu.Unlock()
	if ok && p.now().Sub(cached.fetchedAt) < p.infoTTL {
		return cached.info, nil
	}

	var opts []net.RequestOption
	if token != nil && token.HomeDomain == info.Domain && token.Valid(p.now()) {
		opts = append(opts, net.WithBearer(token.JWT))
	}

	resp, err := p.client.Get(ctx, info.DirectPaymentServer+"/info", opts...)
	if err != nil {
		return nil, errors.Propagate(errors.StageSubmit, "failed to fetch payment info", err)
	}
	defer resp.Body.Close()

	if err := anchorStatusError(errors.StageSubmit, resp, errors.ANCHOR_REJECTED); err != nil {
		return nil, err
	}

	var pi PaymentInfo
	if err := resp.DecodeJSON(&pi); err != nil {
		return nil, errors.NewPaymentError(errors.ANCHOR_REJECTED, "failed to decode payment info", err)
	}

	p.mu.Lock()
	p.infos[info.Domain] = cachedPaymentInfo{info: &pi, fetchedAt: p.now()}
	p.mu.Unlock()
	return &pi, nil
}

// Submit creates a SEP-31 transaction. On success the record is in
// pending_sender and has been saved to the PaymentStore. If saving fails the
// created record is returned together with a STORE_ERROR.
//
// A quote backs at most one transaction: submitting a quote that already
// backs a stored record, or one this initiator may already have sent, fails
// with QUOTE_MISMATCH before anything is sent.
func (p *PaymentInitiator) Submit(ctx context.Context, info *toml.AnchorInfo, token *stellarconnect.AuthToken, req stellarconnect.PaymentRequest) (record *stellarconnect.PaymentRecord, err error) {
	now := p.now()

	if req.Quote != nil && req.Quote.Expired(now) {
		return nil, errors.NewPaymentError(
			errors.QUOTE_EXPIRED,
			fmt.Sprintf("quote %s expired at %s", req.Quote.ID, req.Quote.ExpiresAt.Format(time.RFC3339)),
			nil,
		).With("quote_id", req.Quote.ID)
	}
	if err := requirePaymentServer(info); err != nil {
		return nil, err
	}
	if req.Quote != nil {
		if err := checkQuote(info, req); err != nil {
			return nil, err
		}
	}
	amount, err := positiveAmount(errors.StageSubmit, req.Amount)
	if err != nil {
		return nil, err
	}
	if err := checkToken(errors.StageSubmit, info, token, now); err != nil {
		return nil, err
	}

	release, err := p.claimQuote(ctx, info, req.Quote)
	if err != nil {
		return nil, err
	}
	// A refusal the anchor answered created nothing, so the quote stays
	// usable. A transport failure may have reached the anchor.
	sent := false
	defer func() {
		if err != nil && (!sent || refusedByAnchor(err)) {
			release()
		}
	}()

	pi, err := p.Info(ctx, info, token)
	if err != nil {
		return nil, err
	}
	if err := checkSchema(pi, req, amount); err != nil {
		return nil, err
	}

	sent = true
	created, err := p.create(ctx, info, token, req)
	if err != nil {
		return nil, err
	}

	record = &stellarconnect.PaymentRecord{
		TransactionID:    created.ID,
		Domain:           info.Domain,
		Account:          token.Account,
		Amount:           req.Amount,
		AssetCode:        req.AssetCode,
		StellarAccountID: created.StellarAccountID,
		StellarMemo:      created.StellarMemo,
		StellarMemoType:  created.StellarMemoType,
		CreatedAt:        now,
	}
	if req.Quote != nil {
		record.QuoteID = req.Quote.ID
	}
	record.Record(stellarconnect.StatusPendingSender, now)

	p.logger.Info("payment created",
		"domain", info.Domain,
		"transaction_id", record.TransactionID,
		"quote_id", record.QuoteID,
		"sender_id", req.SenderID,
		"receiver_id", req.ReceiverID,
	)

	if err := p.payments.Save(ctx, record); err != nil {
		return record, errors.NewPaymentError(errors.STORE_ERROR, "payment created but could not be saved", err).
			With("transaction_id", record.TransactionID)
	}
	return record.Clone(), nil
}

// claimQuote reserves q for one Submit. The returned func gives the
// reservation back.
func (p *PaymentInitiator) claimQuote(ctx context.Context, info *toml.AnchorInfo, q *stellarconnect.Quote) (func(), error) {
	if q == nil {
		return func() {}, nil
	}
	key := info.Domain + "|" + q.ID
	consumed := func(id string) error {
		e := errors.NewPaymentError(errors.QUOTE_MISMATCH, fmt.Sprintf("quote %s already backs a payment", q.ID), nil).
			With("quote_id", q.ID)
		if id != "" {
			e.With("transaction_id", id)
		}
		return e
	}

	p.mu.Lock()
	if _, ok := p.quotes[key]; ok {
		p.mu.Unlock()
		return nil, consumed("")
	}
	p.quotes[key] = struct{}{}
	p.mu.Unlock()
	release := func() {
		p.mu.Lock()
		delete(p.quotes, key)
		p.mu.Unlock()
	}

	records, err := p.payments.List(ctx, stellarconnect.PaymentFilters{Domain: info.Domain})
	if err != nil {
		release()
		return nil, errors.NewPaymentError(errors.STORE_ERROR, "failed to read payment store", err)
	}
	for _, r := range records {
		if r.QuoteID == q.ID {
			release()
			return nil, consumed(r.TransactionID)
		}
	}
	return release, nil
}

// refusedByAnchor reports whether err carries a non-2xx anchor answer.
func refusedByAnchor(err error) bool {
	var sc *errors.StellarConnectError
	if !errors.As(err, &sc) {
		return false
	}
	_, ok := sc.Context["status_code"]
	return ok
}

func (p *PaymentInitiator) create(ctx context.Context, info *toml.AnchorInfo, token *stellarconnect.AuthToken, req stellarconnect.PaymentRequest) (*createTransactionResponse, error) {
	body := map[string]any{
		"amount":     req.Amount,
		"asset_code": req.AssetCode,
	}
	if req.AssetIssuer != "" {
		body["asset_issuer"] = req.AssetIssuer
	}
	if req.Quote != nil {
		body["quote_id"] = req.Quote.ID
	}
	if req.SenderID != "" {
		body["sender_id"] = req.SenderID
	}
	if req.ReceiverID != "" {
		body["receiver_id"] = req.ReceiverID
	}
	if len(req.RoutingInfo) > 0 {
		body["fields"] = map[string]any{"transaction": req.RoutingInfo}
	}

	resp, err := p.client.PostJSON(ctx, info.DirectPaymentServer+"/transactions", body, net.WithBearer(token.JWT))
	if err != nil {
		return nil, errors.Propagate(errors.StageSubmit, "failed to submit payment", err)
	}
	defer resp.Body.Close()

	if err := anchorStatusError(errors.StageSubmit, resp, errors.ANCHOR_REJECTED); err != nil {
		return nil, err
	}

	var created createTransactionResponse
	if err := resp.DecodeJSON(&created); err != nil {
		return nil, errors.NewPaymentError(errors.ANCHOR_REJECTED, "failed to decode transaction response", err)
	}
	if created.ID == "" {
		return nil, errors.NewPaymentError(errors.ANCHOR_REJECTED, "anchor returned no transaction id", nil)
	}
	return &created, nil
}

// PollStatus reads the anchor's current status for record. A record in a
// terminal status is returned as is, without contacting the anchor. Otherwise
// a new record is returned; its history grows only when the status changed.
func (p *PaymentInitiator) PollStatus(ctx context.Context, info *toml.AnchorInfo, token *stellarconnect.AuthToken, record *stellarconnect.PaymentRecord) (*stellarconnect.PaymentRecord, error) {
	if record == nil {
		return nil, errors.New(errors.StagePoll, errors.CONFIG_INVALID, "payment record is required", nil)
	}
	if record.Status.Terminal() {
		return record, nil
	}
	if err := requirePaymentServer(info); err != nil {
		return nil, errors.WithStage(errors.StagePoll, err)
	}
	if record.Domain != info.Domain {
		return nil, errors.New(errors.StagePoll, errors.CONFIG_INVALID,
			fmt.Sprintf("record %s belongs to %s, not %s", record.TransactionID, record.Domain, info.Domain), nil)
	}
	if err := checkToken(errors.StagePoll, info, token, p.now()); err != nil {
		return nil, err
	}
	if record.Account != "" && token.Account != record.Account {
		return nil, errors.New(errors.StagePoll, errors.CONFIG_INVALID,
			fmt.Sprintf("record %s was created by another account than the token's", record.TransactionID), nil).
			With("transaction_id", record.TransactionID)
	}

	endpoint := info.DirectPaymentServer + "/transactions/" + url.PathEscape(record.TransactionID)
	resp, err := p.client.Get(ctx, endpoint, net.WithBearer(token.JWT))
	if err != nil {
		return nil, errors.Propagate(errors.StagePoll, "failed to fetch transaction status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		msg, _ := resp.AnchorError()
		return nil, errors.New(errors.StagePoll, errors.NOT_FOUND, msg, nil).With("transaction_id", record.TransactionID)
	}
	if err := anchorStatusError(errors.StagePoll, resp, errors.ANCHOR_REJECTED); err != nil {
		return nil, err
	}

	var body struct {
		Transaction transactionResponse `json:"transaction"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, errors.New(errors.StagePoll, errors.ANCHOR_REJECTED, "failed to decode transaction status", err)
	}
	tx := body.Transaction
	if tx.Status == "" {
		return nil, errors.New(errors.StagePoll, errors.ANCHOR_REJECTED, "anchor reported no status", nil)
	}

	now := p.now()
	next := record.Clone()
	changed := applyTransaction(next, &tx)

	status := stellarconnect.PaymentStatus(tx.Status)
	// A record adopted by id alone has no prior status to check against.
	if record.Status != "" {
		if err := stellarconnect.ValidateTransition(record.Status, status); err != nil {
			p.logger.Warn("anchor reported an out-of-order status",
				"domain", info.Domain, "transaction_id", record.TransactionID, "error", err)
		}
	}
	if next.Record(status, now) {
		changed = true
		p.logger.Info("payment status changed",
			"domain", info.Domain, "transaction_id", record.TransactionID,
			"from", record.Status, "to", status)
	}
	if !changed {
		return next, nil
	}

	next.UpdatedAt = now
	if err := p.persist(ctx, next); err != nil {
		return next, err
	}
	return next, nil
}

func (p *PaymentInitiator) persist(ctx context.Context, record *stellarconnect.PaymentRecord) error {
	err := p.payments.Update(ctx, record)
	if stderrors.Is(err, stellarconnect.ErrPaymentNotFound) {
		err = p.payments.Save(ctx, record)
	}
	if err != nil {
		return errors.New(errors.StagePoll, errors.STORE_ERROR, "failed to store payment status", err).
			With("transaction_id", record.TransactionID)
	}
	return nil
}

// Track returns a Tracker polling record with a fixed token.
func (p *PaymentInitiator) Track(info *toml.AnchorInfo, token *stellarconnect.AuthToken, record *stellarconnect.PaymentRecord) *Tracker {
	return NewTracker(record, func(ctx context.Context, r *stellarconnect.PaymentRecord) (*stellarconnect.PaymentRecord, error) {
		return p.PollStatus(ctx, info, token, r)
	})
}

// applyTransaction copies anchor-reported details onto record and reports
// whether anything changed.
func applyTransaction(record *stellarconnect.PaymentRecord, tx *transactionResponse) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&record.AmountIn, tx.AmountIn)
	set(&record.AmountOut, tx.AmountOut)
	set(&record.AmountFee, tx.AmountFee)
	set(&record.StellarAccountID, tx.StellarAccountID)
	set(&record.StellarMemoType, tx.StellarMemoType)
	set(&record.StellarMemo, tx.StellarMemo)
	set(&record.StellarTransactionID, tx.StellarTransactionID)
	message := tx.Message
	if message == "" {
		message = tx.RequiredInfoMessage
	}
	set(&record.Message, message)
	return changed
}

func requirePaymentServer(info *toml.AnchorInfo) error {
	if info == nil {
		return errors.NewPaymentError(errors.CONFIG_INVALID, "anchor descriptor is required", nil)
	}
	if info.DirectPaymentServer == "" {
		return errors.NewPaymentError(errors.NOT_FOUND, fmt.Sprintf("%s publishes no DIRECT_PAYMENT_SERVER", info.Domain), nil)
	}
	return nil
}

// checkQuote enforces that a quote only ever backs a payment on the anchor,
// asset and amount it was issued for.
func checkQuote(info *toml.AnchorInfo, req stellarconnect.PaymentRequest) error {
	q := req.Quote
	mismatch := func(format string, args ...any) error {
		return errors.NewPaymentError(errors.QUOTE_MISMATCH, fmt.Sprintf(format, args...), nil).With("quote_id", q.ID)
	}

	if q.ID == "" {
		return mismatch("quote has no id")
	}
	if q.Domain != info.Domain {
		return mismatch("quote %s was issued by %s, not %s", q.ID, q.Domain, info.Domain)
	}

	var quoted string
	switch {
	case sameAsset(ParseAsset(q.BuyAsset), req.AssetCode, req.AssetIssuer):
		quoted = q.BuyAmount
	case sameAsset(ParseAsset(q.SellAsset), req.AssetCode, req.AssetIssuer):
		quoted = q.SellAmount
	default:
		return mismatch("quote %s (%s -> %s) does not cover asset %s", q.ID, q.SellAsset, q.BuyAsset, req.AssetCode)
	}

	want, err := decimal.NewFromString(quoted)
	if err != nil {
		return mismatch("quote %s carries an unreadable amount %q", q.ID, quoted)
	}
	if got, err := decimal.NewFromString(req.Amount); err == nil && !got.Equal(want) {
		return mismatch("payment amount %s differs from quoted amount %s", req.Amount, quoted)
	}
	return nil
}

func sameAsset(a Asset, code, issuer string) bool {
	if !a.IsStellar() || !strings.EqualFold(a.Code, code) {
		return false
	}
	return a.Issuer == "" || issuer == "" || a.Issuer == issuer
}

func checkSchema(pi *PaymentInfo, req stellarconnect.PaymentRequest, amount decimal.Decimal) error {
	asset, ok := pi.Receive[req.AssetCode]
	if !ok {
		return errors.NewPaymentError(errors.ASSET_PAIR_UNSUPPORTED, fmt.Sprintf("anchor does not receive %s", req.AssetCode), nil)
	}
	if !asset.IsEnabled() {
		return errors.NewPaymentError(errors.ASSET_PAIR_UNSUPPORTED, fmt.Sprintf("anchor has disabled %s", req.AssetCode), nil)
	}

	var missing []string
	if asset.QuotesRequired && req.Quote == nil {
		missing = append(missing, "quote_id")
	}
	if len(asset.SEP12.Sender.Types) > 0 && strings.TrimSpace(req.SenderID) == "" {
		missing = append(missing, "sender_id")
	}
	if len(asset.SEP12.Receiver.Types) > 0 && strings.TrimSpace(req.ReceiverID) == "" {
		missing = append(missing, "receiver_id")
	}
	for _, name := range asset.RequiredFields() {
		if strings.TrimSpace(req.RoutingInfo[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.NewFieldsMissing(missing)
	}

	if asset.MinAmount != nil && amount.LessThan(*asset.MinAmount) {
		return errors.NewPaymentError(errors.AMOUNT_INVALID, fmt.Sprintf("amount %s is below the minimum %s", req.Amount, asset.MinAmount), nil)
	}
	if asset.MaxAmount != nil && !asset.MaxAmount.IsZero() && amount.GreaterThan(*asset.MaxAmount) {
		return errors.NewPaymentError(errors.AMOUNT_INVALID, fmt.Sprintf("amount %s exceeds the maximum %s", req.Amount, asset.MaxAmount), nil)
	}
	return nil
}
