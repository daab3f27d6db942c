package anchortest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
)

type transaction struct {
	id       string
	account  string
	status   stellarconnect.PaymentStatus
	polls    int
	amount   string
	quoteID  string
	memo     string
	fields   map[string]string
	started  time.Time
	senderID string
}

// validateScript rejects status scripts no real anchor could produce.
func validateScript(script []stellarconnect.PaymentStatus) error {
	from := stellarconnect.StatusPendingSender
	for _, to := range script {
		if err := stellarconnect.ValidateTransition(from, to); err != nil {
			return fmt.Errorf("status script: %w", err)
		}
		from = to
	}
	return nil
}

func (a *Anchor) handlePaymentInfo(w http.ResponseWriter, r *http.Request) {
	fields := make(map[string]any, len(a.cfg.fields))
	for _, f := range a.cfg.fields {
		fields[f.Name] = map[string]any{
			"description": f.Description,
			"optional":    f.Optional,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receive": map[string]any{
			a.AssetCode(): map[string]any{
				"enabled":          true,
				"quotes_supported": true,
				"quotes_required":  a.cfg.quotesRequired,
				"fee_fixed":        0,
				"min_amount":       json.Number(a.cfg.minAmount.String()),
				"max_amount":       json.Number(a.cfg.maxAmount.String()),
				"sep12": map[string]any{
					"sender":   map[string]any{"types": map[string]any{"sep31-sender": map[string]string{"description": "U.S. citizens"}}},
					"receiver": map[string]any{"types": map[string]any{"sep31-receiver": map[string]string{"description": "bank account holders"}}},
				},
				"fields": map[string]any{"transaction": fields},
			},
		},
	})
}

func (a *Anchor) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount      string `json:"amount"`
		AssetCode   string `json:"asset_code"`
		AssetIssuer string `json:"asset_issuer"`
		QuoteID     string `json:"quote_id"`
		SenderID    string `json:"sender_id"`
		ReceiverID  string `json:"receiver_id"`
		Fields      struct {
			Transaction map[string]string `json:"transaction"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if a.cfg.rejectMessage != "" {
		writeError(w, a.cfg.rejectStatus, a.cfg.rejectMessage)
		return
	}
	if body.AssetCode != a.AssetCode() || (body.AssetIssuer != "" && body.AssetIssuer != a.AssetIssuer()) {
		writeError(w, http.StatusBadRequest, "asset not supported")
		return
	}
	if body.SenderID == "" || body.ReceiverID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "customer_info_needed", "type": "customer_info_needed"})
		return
	}
	for _, f := range a.cfg.fields {
		if !f.Optional && body.Fields.Transaction[f.Name] == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "transaction_info_needed", "type": "transaction_info_needed"})
			return
		}
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil || amount.LessThan(a.cfg.minAmount) || amount.GreaterThan(a.cfg.maxAmount) {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if body.QuoteID != "" {
		q, ok := a.quotes[body.QuoteID]
		switch {
		case !ok:
			writeError(w, http.StatusBadRequest, "quote not found")
			return
		case time.Now().After(q.ExpiresAt):
			writeError(w, http.StatusBadRequest, "quote expired")
			return
		}
	} else if a.cfg.quotesRequired {
		writeError(w, http.StatusBadRequest, "quote_id is required")
		return
	}

	tx := &transaction{
		id:       uuid.NewString(),
		account:  accountFromContext(r.Context()),
		status:   stellarconnect.StatusPendingSender,
		amount:   body.Amount,
		quoteID:  body.QuoteID,
		memo:     uuid.NewString()[:8],
		fields:   body.Fields.Transaction,
		started:  time.Now().UTC(),
		senderID: body.SenderID,
	}
	a.transactions[tx.id] = tx

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":                 tx.id,
		"stellar_account_id": a.receiving.Address(),
		"stellar_memo_type":  "text",
		"stellar_memo":       tx.memo,
	})
}

func (a *Anchor) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	a.mu.Lock()
	tx, ok := a.transactions[id]
	if !ok || tx.account != accountFromContext(r.Context()) {
		a.mu.Unlock()
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if len(a.cfg.script) > 0 {
		step := min(tx.polls, len(a.cfg.script)-1)
		tx.status = a.cfg.script[step]
	}
	tx.polls++

	amountIn := decimal.RequireFromString(tx.amount)
	body := map[string]any{
		"id":                 tx.id,
		"status":             string(tx.status),
		"amount_in":          amountIn.StringFixed(2),
		"amount_in_asset":    "stellar:" + a.AssetCode() + ":" + a.AssetIssuer(),
		"amount_out":         amountIn.StringFixed(2),
		"amount_out_asset":   FiatAsset,
		"amount_fee":         "0.00",
		"quote_id":           tx.quoteID,
		"stellar_account_id": a.receiving.Address(),
		"stellar_memo_type":  "text",
		"stellar_memo":       tx.memo,
		"started_at":         tx.started.Format(time.RFC3339),
	}
	if tx.status == stellarconnect.StatusCompleted {
		body["stellar_transaction_id"] = strings.ReplaceAll(tx.id, "-", "")
		body["completed_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	a.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"transaction": body})
}
