// Package stellarconnect provides a Go client for sending cross-border payments
// through Stellar anchors. It discovers anchor endpoints (SEP-1), authenticates
// accounts with SEP-10, negotiates firm quotes with SEP-38 and initiates and
// tracks SEP-31 payments, while delegating key signing, persistence and retry
// cadence to the caller.
package stellarconnect

import (
	"context"
	"errors"
	"time"
)

// Store errors returned by PaymentStore implementations.
var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrPaymentExists   = errors.New("payment already exists")
)

// Signer is the minimal contract for proving identity and authorizing actions.
// The client does not manage keys, wallet connections, or signing infrastructure.
// The caller provides a Signer; the client uses it.
type Signer interface {
	// PublicKey returns the Stellar address (G...) identifying this signer.
	PublicKey() string

	// SignTransaction signs a Stellar transaction envelope (base64 XDR).
	// The networkPassphrase is required for computing the correct transaction hash.
	// Returns the signed envelope as base64 XDR.
	SignTransaction(ctx context.Context, xdr string, networkPassphrase string) (string, error)
}

// AuthToken is a SEP-10 bearer token bound to exactly one (domain, account) pair.
type AuthToken struct {
	HomeDomain string
	Account    string
	JWT        string
	ExpiresAt  time.Time
}

// tokenExpirySkew keeps a token from being attached to a request that would
// reach the anchor after it expired.
const tokenExpirySkew = 10 * time.Second

// Valid reports whether the token can still be attached to a request at now.
func (t *AuthToken) Valid(now time.Time) bool {
	if t == nil || t.JWT == "" {
		return false
	}
	return now.Add(tokenExpirySkew).Before(t.ExpiresAt)
}

// ScopedTo reports whether the token was issued for the given domain and account.
func (t *AuthToken) ScopedTo(domain, account string) bool {
	return t != nil && t.HomeDomain == domain && t.Account == account
}

// Quote is a firm SEP-38 exchange-rate quote. Amounts and prices are decimal
// strings exactly as returned by the anchor.
type Quote struct {
	ID         string
	Domain     string
	Price      string
	TotalPrice string
	SellAsset  string
	BuyAsset   string
	SellAmount string
	BuyAmount  string
	Fee        *QuoteFee
	ExpiresAt  time.Time
}

// QuoteFee is the fee breakdown attached to a quote.
type QuoteFee struct {
	Total string
	Asset string
}

// Expired reports whether the quote can no longer back a payment at now.
func (q *Quote) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// PaymentRequest describes a SEP-31 payment built by the caller.
type PaymentRequest struct {
	// Quote optionally backs the payment with a firm SEP-38 quote.
	Quote       *Quote
	SenderID    string
	ReceiverID  string
	Amount      string
	AssetCode   string
	AssetIssuer string
	// RoutingInfo holds the anchor-specific transaction fields
	// (e.g. receiver_routing_number, receiver_account_number).
	RoutingInfo map[string]string
}

// PaymentStatus is the anchor-reported SEP-31 transaction status.
type PaymentStatus string

const (
	StatusPendingSender                PaymentStatus = "pending_sender"
	StatusPendingStellar               PaymentStatus = "pending_stellar"
	StatusPendingCustomerInfoUpdate    PaymentStatus = "pending_customer_info_update"
	StatusPendingTransactionInfoUpdate PaymentStatus = "pending_transaction_info_update"
	StatusPendingReceiver              PaymentStatus = "pending_receiver"
	StatusPendingExternal              PaymentStatus = "pending_external"
	StatusPendingAnchor                PaymentStatus = "pending_anchor"

	// StatusCompleted is a terminal state indicating the receiver was paid.
	StatusCompleted PaymentStatus = "completed"

	// StatusError is a terminal state indicating an unrecoverable anchor error.
	StatusError PaymentStatus = "error"

	// StatusRefunded is a terminal state indicating the funds were returned.
	StatusRefunded PaymentStatus = "refunded"

	// StatusExpired is a terminal state indicating the sender never paid in time.
	StatusExpired PaymentStatus = "expired"
)

// Terminal reports whether no further status changes can be reported.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusRefunded, StatusExpired:
		return true
	default:
		return false
	}
}

// StatusChange is one entry of a payment's status history.
type StatusChange struct {
	Status     PaymentStatus
	ObservedAt time.Time
}

// PaymentRecord is the client-side view of a SEP-31 transaction. Status only
// ever reflects what the anchor reported.
type PaymentRecord struct {
	TransactionID string
	Domain        string
	Account       string
	Status        PaymentStatus
	StatusHistory []StatusChange

	QuoteID              string
	Amount               string
	AssetCode            string
	StellarAccountID     string
	StellarMemo          string
	StellarMemoType      string
	AmountIn             string
	AmountOut            string
	AmountFee            string
	StellarTransactionID string
	Message              string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Clone returns a deep copy so callers can keep snapshots.
func (r *PaymentRecord) Clone() *PaymentRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.StatusHistory = append([]StatusChange(nil), r.StatusHistory...)
	return &c
}

// Record appends a status change when status differs from the last one seen.
// It reports whether the record changed.
func (r *PaymentRecord) Record(status PaymentStatus, at time.Time) bool {
	if n := len(r.StatusHistory); n > 0 && r.StatusHistory[n-1].Status == status {
		return false
	}
	r.Status = status
	r.StatusHistory = append(r.StatusHistory, StatusChange{Status: status, ObservedAt: at})
	r.UpdatedAt = at
	return true
}

// TokenStore caches SEP-10 tokens per (domain, account).
type TokenStore interface {
	// Get returns the stored token, or nil if none is stored.
	Get(ctx context.Context, domain, account string) (*AuthToken, error)

	// Put stores a token, replacing any previous token for its (domain, account).
	Put(ctx context.Context, token *AuthToken) error

	// Delete drops the token for (domain, account), if any.
	Delete(ctx context.Context, domain, account string) error
}

// PaymentStore is the persistence interface for payment records.
// Records are never deleted; the anchor is the source of truth.
type PaymentStore interface {
	// Save persists a new payment record.
	Save(ctx context.Context, record *PaymentRecord) error

	// FindByID retrieves a record by anchor domain and transaction id.
	FindByID(ctx context.Context, domain, id string) (*PaymentRecord, error)

	// Update replaces the stored copy of an existing record.
	Update(ctx context.Context, record *PaymentRecord) error

	// List returns records matching the given filters.
	List(ctx context.Context, filters PaymentFilters) ([]*PaymentRecord, error)
}

// PaymentFilters for listing payment records.
type PaymentFilters struct {
	Domain  string
	Account string
	Status  *PaymentStatus
	Limit   int
}
