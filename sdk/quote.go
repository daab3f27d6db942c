package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/core/net"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

// QuoteRequest asks for a firm SEP-38 quote selling SellAmount of SellAsset.
type QuoteRequest struct {
	SellAsset          string
	BuyAsset           string
	SellAmount         string
	SellDeliveryMethod string
	BuyDeliveryMethod  string
	CountryCode        string
}

// QuoteInfo is the SEP-38 GET /info response.
type QuoteInfo struct {
	Assets []QuoteAsset `json:"assets"`
}

// QuoteAsset is one asset the quote server trades.
type QuoteAsset struct {
	Asset               string           `json:"asset"`
	SellDeliveryMethods []DeliveryMethod `json:"sell_delivery_methods"`
	BuyDeliveryMethods  []DeliveryMethod `json:"buy_delivery_methods"`
	CountryCodes        []string         `json:"country_codes"`
}

// DeliveryMethod is an off-chain rail for a fiat asset.
type DeliveryMethod struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// IndicativePrice is one entry of a SEP-38 GET /prices response.
type IndicativePrice struct {
	Asset    string `json:"asset"`
	Price    string `json:"price"`
	Decimals int    `json:"decimals"`
}

func (i *QuoteInfo) asset(id string) (*QuoteAsset, bool) {
	for idx := range i.Assets {
		if i.Assets[idx].Asset == id {
			return &i.Assets[idx], true
		}
	}
	return nil, false
}

func hasMethod(methods []DeliveryMethod, name string) bool {
	return slices.ContainsFunc(methods, func(m DeliveryMethod) bool {
		return strings.EqualFold(m.Name, name)
	})
}

type quoteResponse struct {
	ID         string    `json:"id"`
	ExpiresAt  time.Time `json:"expires_at"`
	Price      string    `json:"price"`
	TotalPrice string    `json:"total_price"`
	SellAsset  string    `json:"sell_asset"`
	SellAmount string    `json:"sell_amount"`
	BuyAsset   string    `json:"buy_asset"`
	BuyAmount  string    `json:"buy_amount"`
	Fee        *struct {
		Total string `json:"total"`
		Asset string `json:"asset"`
	} `json:"fee"`
}

type cachedQuoteInfo struct {
	info      *QuoteInfo
	fetchedAt time.Time
}

// QuoteNegotiator requests firm SEP-38 quotes. Prices and amounts are kept as
// the decimal strings the anchor returned; nothing is re-priced or rounded.
type QuoteNegotiator struct {
	client  *net.Client
	now     func() time.Time
	logger  *slog.Logger
	infoTTL time.Duration

	mu    sync.Mutex
	infos map[string]cachedQuoteInfo
}

// NewQuoteNegotiator creates a QuoteNegotiator.
func NewQuoteNegotiator(client *net.Client, opts ...Option) *QuoteNegotiator {
	o := newOptions(opts)
	return &QuoteNegotiator{
		client:  client,
		now:     o.now,
		logger:  o.logger,
		infoTTL: o.infoTTL,
		infos:   make(map[string]cachedQuoteInfo),
	}
}

// Info returns the quote server's supported assets, cached per domain.
func (q *QuoteNegotiator) Info(ctx context.Context, info *toml.AnchorInfo) (*QuoteInfo, error) {
	if info == nil || info.AnchorQuoteServer == "" {
		return nil, errors.NewQuoteError(errors.QUOTE_UNAVAILABLE, "anchor publishes no ANCHOR_QUOTE_SERVER", nil)
	}

	q.mu.Lock()
	cached, ok := q.infos[info.Domain]
	q.mu.Unlock()
	if ok && q.now().Sub(cached.fetchedAt) < q.infoTTL {
		return cached.info, nil
	}

	resp, err := q.client.Get(ctx, info.AnchorQuoteServer+"/info")
	if err != nil {
		return nil, errors.Propagate(errors.StageQuote, "failed to fetch quote server info", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := resp.AnchorError()
		return nil, errors.NewQuoteError(errors.QUOTE_UNAVAILABLE, fmt.Sprintf("quote info returned status %d: %s", resp.StatusCode, msg), nil)
	}

	var qi QuoteInfo
	if err := resp.DecodeJSON(&qi); err != nil {
		return nil, errors.NewQuoteError(errors.QUOTE_UNAVAILABLE, "failed to decode quote info", err)
	}

	q.mu.Lock()
	q.infos[info.Domain] = cachedQuoteInfo{info: &qi, fetchedAt: q.now()}
	q.mu.Unlock()
	return &qi, nil
}

// GetQuote requests a firm quote for a SEP-31 payment.
func (q *QuoteNegotiator) GetQuote(ctx context.Context, info *toml.AnchorInfo, token *stellarconnect.AuthToken, req QuoteRequest) (*stellarconnect.Quote, error) {
	if err := checkToken(errors.StageQuote, info, token, q.now()); err != nil {
		return nil, err
	}
	amount, err := positiveAmount(errors.StageQuote, req.SellAmount)
	if err != nil {
		return nil, err
	}

	qi, err := q.Info(ctx, info)
	if err != nil {
		return nil, err
	}
	if err := checkPair(qi, req); err != nil {
		return nil, err
	}

	body := map[string]string{
		"sell_asset":  req.SellAsset,
		"sell_amount": req.SellAmount,
		"buy_asset":   req.BuyAsset,
		"context":     "sep31",
	}
	if req.SellDeliveryMethod != "" {
		body["sell_delivery_method"] = req.SellDeliveryMethod
	}
	if req.BuyDeliveryMethod != "" {
		body["buy_delivery_method"] = req.BuyDeliveryMethod
	}
	if req.CountryCode != "" {
		body["country_code"] = req.CountryCode
	}

	resp, err := q.client.PostJSON(ctx, info.AnchorQuoteServer+"/quote", body, net.WithBearer(token.JWT))
	if err != nil {
		return nil, errors.Propagate(errors.StageQuote, "failed to request quote", err)
	}
	defer resp.Body.Close()

	if err := anchorStatusError(errors.StageQuote, resp, errors.QUOTE_UNAVAILABLE); err != nil {
		return nil, err
	}

	var qr quoteResponse
	if err := resp.DecodeJSON(&qr); err != nil {
		return nil, errors.NewQuoteError(errors.QUOTE_UNAVAILABLE, "failed to decode quote response", err)
	}

	quote, err := q.toQuote(info, req, amount, &qr)
	if err != nil {
		return nil, err
	}

	q.logger.Info("quote received",
		"domain", info.Domain,
		"quote_id", quote.ID,
		"sell", quote.SellAmount+" "+quote.SellAsset,
		"buy", quote.BuyAmount+" "+quote.BuyAsset,
		"expires_at", quote.ExpiresAt,
	)
	return quote, nil
}

func (q *QuoteNegotiator) toQuote(info *toml.AnchorInfo, req QuoteRequest, amount decimal.Decimal, qr *quoteResponse) (*stellarconnect.Quote, error) {
	if qr.ID == "" || qr.BuyAmount == "" || qr.ExpiresAt.IsZero() {
		return nil, errors.NewQuoteError(errors.QUOTE_UNAVAILABLE, "quote response is missing id, buy_amount or expires_at", nil)
	}
	if qr.SellAsset != req.SellAsset || qr.BuyAsset != req.BuyAsset {
		return nil, errors.NewQuoteError(
			errors.QUOTE_UNAVAILABLE,
			fmt.Sprintf("anchor quoted %s -> %s, requested %s -> %s", qr.SellAsset, qr.BuyAsset, req.SellAsset, req.BuyAsset),
			nil,
		)
	}
	if quoted, err := decimal.NewFromString(qr.SellAmount); err != nil || !quoted.Equal(amount) {
		return nil, errors.NewQuoteError(
			errors.QUOTE_UNAVAILABLE,
			fmt.Sprintf("anchor quoted sell_amount %q, requested %s", qr.SellAmount, req.SellAmount),
			err,
		)
	}
	if !q.now().Before(qr.ExpiresAt) {
		return nil, errors.NewQuoteError(errors.QUOTE_EXPIRED, fmt.Sprintf("quote %s expired at %s", qr.ID, qr.ExpiresAt.Format(time.RFC3339)), nil).
			With("quote_id", qr.ID)
	}

	quote := &stellarconnect.Quote{
		ID:         qr.ID,
		Domain:     info.Domain,
		Price:      qr.Price,
		TotalPrice: qr.TotalPrice,
		SellAsset:  qr.SellAsset,
		BuyAsset:   qr.BuyAsset,
		SellAmount: qr.SellAmount,
		BuyAmount:  qr.BuyAmount,
		ExpiresAt:  qr.ExpiresAt,
	}
	if qr.Fee != nil {
		quote.Fee = &stellarconnect.QuoteFee{Total: qr.Fee.Total, Asset: qr.Fee.Asset}
	}
	return quote, nil
}

// Prices returns indicative prices for selling sellAmount of sellAsset.
// Indicative prices are not firm and cannot back a payment.
func (q *QuoteNegotiator) Prices(ctx context.Context, info *toml.AnchorInfo, token *stellarconnect.AuthToken, sellAsset, sellAmount string) ([]IndicativePrice, error) {
	if info == nil || info.AnchorQuoteServer == "" {
		return nil, errors.NewQuoteError(errors.QUOTE_UNAVAILABLE, "anchor publishes no ANCHOR_QUOTE_SERVER", nil)
	}
	if _, err := positiveAmount(errors.StageQuote, sellAmount); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("sell_asset", sellAsset)
	params.Set("sell_amount", sellAmount)

	var opts []net.RequestOption
	if token != nil && token.HomeDomain == info.Domain && token.Valid(q.now()) {
		opts = append(opts, net.WithBearer(token.JWT))
	}

	resp, err := q.client.Get(ctx, info.AnchorQuoteServer+"/prices?"+params.Encode(), opts...)
	if err != nil {
		return nil, errors.Propagate(errors.StageQuote, "failed to fetch prices", err)
	}
	defer resp.Body.Close()

	if err := anchorStatusError(errors.StageQuote, resp, errors.QUOTE_UNAVAILABLE); err != nil {
		return nil, err
	}

	var body struct {
		BuyAssets []IndicativePrice `json:"buy_assets"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, errors.NewQuoteError(errors.QUOTE_UNAVAILABLE, "failed to decode prices", err)
	}
	return body.BuyAssets, nil
}

func checkPair(qi *QuoteInfo, req QuoteRequest) error {
	unsupported := func(format string, args ...any) error {
		return errors.NewQuoteError(errors.ASSET_PAIR_UNSUPPORTED, fmt.Sprintf(format, args...), nil).
			With("sell_asset", req.SellAsset).
			With("buy_asset", req.BuyAsset)
	}

	sell, ok := qi.asset(req.SellAsset)
	if !ok {
		return unsupported("anchor does not trade %s", req.SellAsset)
	}
	buy, ok := qi.asset(req.BuyAsset)
	if !ok {
		return unsupported("anchor does not trade %s", req.BuyAsset)
	}
	if req.SellAsset == req.BuyAsset {
		return unsupported("sell and buy asset are both %s", req.SellAsset)
	}
	if req.SellDeliveryMethod != "" && !hasMethod(sell.SellDeliveryMethods, req.SellDeliveryMethod) {
		return unsupported("%s cannot be sold via %s", req.SellAsset, req.SellDeliveryMethod)
	}
	if req.BuyDeliveryMethod != "" && !hasMethod(buy.BuyDeliveryMethods, req.BuyDeliveryMethod) {
		return unsupported("%s cannot be bought via %s", req.BuyAsset, req.BuyDeliveryMethod)
	}
	if req.CountryCode != "" && len(sell.CountryCodes) > 0 && !slices.Contains(sell.CountryCodes, req.CountryCode) {
		return unsupported("%s is not offered in %s", req.SellAsset, req.CountryCode)
	}
	return nil
}
