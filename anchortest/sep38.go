package anchortest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type deliveryMethod struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type quoteAsset struct {
	Asset               string           `json:"asset"`
	SellDeliveryMethods []deliveryMethod `json:"sell_delivery_methods,omitempty"`
	BuyDeliveryMethods  []deliveryMethod `json:"buy_delivery_methods,omitempty"`
	CountryCodes        []string         `json:"country_codes,omitempty"`
}

type quote struct {
	ID         string    `json:"id"`
	ExpiresAt  time.Time `json:"expires_at"`
	Price      string    `json:"price"`
	TotalPrice string    `json:"total_price"`
	SellAsset  string    `json:"sell_asset"`
	SellAmount string    `json:"sell_amount"`
	BuyAsset   string    `json:"buy_asset"`
	BuyAmount  string    `json:"buy_amount"`
	Fee        quoteFee  `json:"fee"`
}

type quoteFee struct {
	Total string `json:"total"`
	Asset string `json:"asset"`
}

func (a *Anchor) quoteAssets() []quoteAsset {
	return []quoteAsset{
		{
			Asset: FiatAsset,
			SellDeliveryMethods: []deliveryMethod{
				{Name: "WIRE", Description: "Send USD by wire transfer"},
				{Name: "ACH", Description: "Send USD by ACH"},
			},
			CountryCodes: []string{"US"},
		},
		{Asset: a.StellarAsset()},
	}
}

func (a *Anchor) handleQuoteInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"assets": a.quoteAssets()})
}

func (a *Anchor) handlePrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("sell_asset") != FiatAsset {
		writeError(w, http.StatusBadRequest, "unsupported sell_asset")
		return
	}
	sell, err := decimal.NewFromString(q.Get("sell_amount"))
	if err != nil || !sell.IsPositive() {
		writeError(w, http.StatusBadRequest, "invalid sell_amount")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"buy_assets": []map[string]any{{
			"asset":    a.StellarAsset(),
			"price":    a.cfg.price.String(),
			"decimals": 2,
		}},
	})
}

func (a *Anchor) handleQuote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SellAsset          string `json:"sell_asset"`
		SellAmount         string `json:"sell_amount"`
		SellDeliveryMethod string `json:"sell_delivery_method"`
		BuyAsset           string `json:"buy_asset"`
		BuyDeliveryMethod  string `json:"buy_delivery_method"`
		CountryCode        string `json:"country_code"`
		Context            string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Context != "sep31" {
		writeError(w, http.StatusBadRequest, "unsupported context")
		return
	}
	if body.SellAsset != FiatAsset || body.BuyAsset != a.StellarAsset() {
		writeError(w, http.StatusBadRequest, "unsupported asset pair")
		return
	}
	sell, err := decimal.NewFromString(body.SellAmount)
	if err != nil || !sell.IsPositive() {
		writeError(w, http.StatusBadRequest, "invalid sell_amount")
		return
	}

	q := &quote{
		ID:         uuid.NewString(),
		ExpiresAt:  time.Now().Add(a.cfg.quoteTTL).UTC(),
		Price:      a.cfg.price.String(),
		TotalPrice: a.cfg.price.String(),
		SellAsset:  body.SellAsset,
		SellAmount: body.SellAmount,
		BuyAsset:   body.BuyAsset,
		BuyAmount:  sell.Div(a.cfg.price).Round(2).StringFixed(2),
		Fee:        quoteFee{Total: "0.00", Asset: FiatAsset},
	}

	a.mu.Lock()
	a.quotes[q.ID] = q
	a.mu.Unlock()

	writeJSON(w, http.StatusCreated, q)
}
