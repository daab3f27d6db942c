// Package anchortest runs an in-process Stellar anchor for tests. It serves
// stellar.toml, SEP-10 web authentication, SEP-38 quotes and SEP-31 payments
// from an httptest server, counts every call per endpoint and exposes knobs to
// make the anchor misbehave in the ways real anchors do.
//
//	a := anchortest.New(t)
//	client := sdk.NewClient(a.NetworkPassphrase(), sdk.WithResolver(
//	    toml.NewResolver(net.NewClient(), toml.WithScheme("http")),
//	))
//	record, err := client.Send(ctx, sdk.SendRequest{Domain: a.Domain(), ...})
package anchortest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
)

// Endpoint names a route of the fake anchor for call counting.
type Endpoint string

const (
	EndpointTOML              Endpoint = "stellar.toml"
	EndpointChallenge         Endpoint = "GET /auth"
	EndpointToken             Endpoint = "POST /auth"
	EndpointQuoteInfo         Endpoint = "GET /sep38/info"
	EndpointPrices            Endpoint = "GET /sep38/prices"
	EndpointQuote             Endpoint = "POST /sep38/quote"
	EndpointPaymentInfo       Endpoint = "GET /sep31/info"
	EndpointCreateTransaction Endpoint = "POST /sep31/transactions"
	EndpointGetTransaction    Endpoint = "GET /sep31/transactions"
)

var allEndpoints = []Endpoint{
	EndpointTOML, EndpointChallenge, EndpointToken,
	EndpointQuoteInfo, EndpointPrices, EndpointQuote,
	EndpointPaymentInfo, EndpointCreateTransaction, EndpointGetTransaction,
}

// FiatAsset is the SEP-38 identifier of the fiat currency the anchor buys.
const FiatAsset = "iso4217:USD"

// Field describes one SEP-31 transaction field the anchor asks for.
type Field struct {
	Name        string
	Description string
	Optional    bool
}

type config struct {
	networkPassphrase   string
	challengePassphrase string
	challengeSequence   int64
	challengeSigner     *keypair.Full
	challengeDelay      time.Duration
	omitSigningKey      bool
	omitQuoteServer     bool
	tokenTTL            time.Duration
	price               decimal.Decimal
	quoteTTL            time.Duration
	quotesRequired      bool
	minAmount           decimal.Decimal
	maxAmount           decimal.Decimal
	fields              []Field
	script              []stellarconnect.PaymentStatus
	rejectMessage       string
	rejectStatus        int
}

// Option configures the fake anchor.
type Option func(*config)

// WithNetworkPassphrase sets the network the anchor lives on (default: testnet).
func WithNetworkPassphrase(passphrase string) Option {
	return func(c *config) {
		c.networkPassphrase = passphrase
		c.challengePassphrase = passphrase
	}
}

// WithChallengeNetwork builds and signs challenges for a different network
// than the one advertised in stellar.toml.
func WithChallengeNetwork(passphrase string) Option {
	return func(c *config) {
		c.challengePassphrase = passphrase
	}
}

// WithChallengeSequence issues challenges with the given sequence number.
func WithChallengeSequence(seq int64) Option {
	return func(c *config) {
		c.challengeSequence = seq
	}
}

// WithChallengeSignedBy signs challenges with kp instead of the advertised SIGNING_KEY.
func WithChallengeSignedBy(kp *keypair.Full) Option {
	return func(c *config) {
		c.challengeSigner = kp
	}
}

// WithChallengeDelay holds every challenge response for d.
func WithChallengeDelay(d time.Duration) Option {
	return func(c *config) {
		c.challengeDelay = d
	}
}

// WithoutSigningKey omits SIGNING_KEY from stellar.toml.
func WithoutSigningKey() Option {
	return func(c *config) {
		c.omitSigningKey = true
	}
}

// WithoutQuoteServer omits ANCHOR_QUOTE_SERVER from stellar.toml.
func WithoutQuoteServer() Option {
	return func(c *config) {
		c.omitQuoteServer = true
	}
}

// WithTokenTTL sets the lifetime of issued JWTs (default: 24h).
func WithTokenTTL(d time.Duration) Option {
	return func(c *config) {
		c.tokenTTL = d
	}
}

// WithPrice sets the SEP-38 price in fiat per unit of the Stellar asset (default: 1.22).
func WithPrice(price string) Option {
	return func(c *config) {
		c.price = decimal.RequireFromString(price)
	}
}

// WithQuoteTTL sets how long firm quotes stay valid (default: 5m).
// A non-positive TTL issues quotes that are already expired.
func WithQuoteTTL(d time.Duration) Option {
	return func(c *config) {
		c.quoteTTL = d
	}
}

// WithQuotesRequired marks the SEP-31 asset as requiring a quote.
func WithQuotesRequired() Option {
	return func(c *config) {
		c.quotesRequired = true
	}
}

// WithAmountBounds sets the SEP-31 min and max amounts.
func WithAmountBounds(min, max string) Option {
	return func(c *config) {
		c.minAmount = decimal.RequireFromString(min)
		c.maxAmount = decimal.RequireFromString(max)
	}
}

// WithFields replaces the SEP-31 transaction fields the anchor asks for.
func WithFields(fields ...Field) Option {
	return func(c *config) {
		c.fields = fields
	}
}

// WithStatusScript sets the statuses reported by successive transaction polls.
// The last status repeats once the script is exhausted.
func WithStatusScript(statuses ...stellarconnect.PaymentStatus) Option {
	return func(c *config) {
		c.script = statuses
	}
}

// WithRejection makes the anchor refuse every new transaction with message.
func WithRejection(message string) Option {
	return WithRejectionStatus(http.StatusBadRequest, message)
}

// WithRejectionStatus refuses every new transaction with the given HTTP
// status and message, e.g. a 403 compliance hold.
func WithRejectionStatus(status int, message string) Option {
	return func(c *config) {
		c.rejectStatus = status
		c.rejectMessage = message
	}
}

// Anchor is a running fake anchor.
type Anchor struct {
	t      testing.TB
	server *httptest.Server
	cfg    config
	domain string

	signingKey  *keypair.Full
	assetIssuer *keypair.Full
	receiving   *keypair.Full

	nonces *nonceStore
	jwt    *jwtIssuer

	calls map[Endpoint]*atomic.Int64

	mu           sync.Mutex
	quotes       map[string]*quote
	transactions map[string]*transaction
}

// New starts a fake anchor and stops it when the test ends.
func New(t testing.TB, opts ...Option) *Anchor {
	t.Helper()

	cfg := config{
		networkPassphrase:   network.TestNetworkPassphrase,
		challengePassphrase: network.TestNetworkPassphrase,
		tokenTTL:            24 * time.Hour,
		price:               decimal.RequireFromString("1.22"),
		quoteTTL:            5 * time.Minute,
		minAmount:           decimal.RequireFromString("1"),
		maxAmount:           decimal.RequireFromString("10000"),
		fields: []Field{
			{Name: "routing_number", Description: "routing number of the destination bank account"},
			{Name: "account_number", Description: "bank account number of the destination"},
			{Name: "type", Description: "type of deposit to make", Optional: true},
		},
		script: []stellarconnect.PaymentStatus{
			stellarconnect.StatusPendingAnchor,
			stellarconnect.StatusPendingStellar,
			stellarconnect.StatusCompleted,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validateScript(cfg.script); err != nil {
		t.Fatalf("anchortest: %v", err)
	}

	a := &Anchor{
		t:            t,
		cfg:          cfg,
		signingKey:   keypair.MustRandom(),
		assetIssuer:  keypair.MustRandom(),
		receiving:    keypair.MustRandom(),
		nonces:       newNonceStore(),
		calls:        make(map[Endpoint]*atomic.Int64, len(allEndpoints)),
		quotes:       make(map[string]*quote),
		transactions: make(map[string]*transaction),
	}
	for _, e := range allEndpoints {
		a.calls[e] = new(atomic.Int64)
	}
	if cfg.challengeSigner == nil {
		a.cfg.challengeSigner = a.signingKey
	}

	a.server = httptest.NewServer(a.routes())
	a.domain = strings.TrimPrefix(a.server.URL, "http://")
	a.jwt = newJWTIssuer(a.server.URL+"/auth", cfg.tokenTTL)
	t.Cleanup(a.server.Close)
	return a
}

// Domain is the anchor's home domain (host:port of the test server).
func (a *Anchor) Domain() string { return a.domain }

// URL is the base URL of the test server.
func (a *Anchor) URL() string { return a.server.URL }

// NetworkPassphrase is the network advertised in stellar.toml.
func (a *Anchor) NetworkPassphrase() string { return a.cfg.networkPassphrase }

// SigningKey is the anchor's SEP-10 signing key.
func (a *Anchor) SigningKey() *keypair.Full { return a.signingKey }

// ReceivingAccount is the account senders pay on-chain.
func (a *Anchor) ReceivingAccount() string { return a.receiving.Address() }

// AssetCode is the Stellar asset the anchor receives.
func (a *Anchor) AssetCode() string { return "USDC" }

// AssetIssuer is the issuer of the Stellar asset.
func (a *Anchor) AssetIssuer() string { return a.assetIssuer.Address() }

// StellarAsset is the SEP-38 identifier of the Stellar asset.
func (a *Anchor) StellarAsset() string {
	return "stellar:" + a.AssetCode() + ":" + a.AssetIssuer()
}

// Info is the descriptor the anchor publishes.
func (a *Anchor) Info() *toml.AnchorInfo {
	info := &toml.AnchorInfo{
		NetworkPassphrase:   a.cfg.networkPassphrase,
		WebAuthEndpoint:     a.server.URL + "/auth",
		DirectPaymentServer: a.server.URL + "/sep31",
		AnchorQuoteServer:   a.server.URL + "/sep38",
		Currencies: []toml.CurrencyInfo{{
			Code:            a.AssetCode(),
			Issuer:          a.AssetIssuer(),
			Status:          "test",
			DisplayDecimals: 2,
			AnchorAssetType: "fiat",
			IsAssetAnchored: true,
		}},
	}
	if !a.cfg.omitSigningKey {
		info.SigningKey = a.signingKey.Address()
	}
	if a.cfg.omitQuoteServer {
		info.AnchorQuoteServer = ""
	}
	return info
}

// Calls returns how many requests endpoint has served.
func (a *Anchor) Calls(endpoint Endpoint) int {
	return int(a.calls[endpoint].Load())
}

// AuthCalls is the number of SEP-10 requests of either kind.
func (a *Anchor) AuthCalls() int {
	return a.Calls(EndpointChallenge) + a.Calls(EndpointToken)
}

// PaymentCalls is the number of SEP-31 requests of any kind.
func (a *Anchor) PaymentCalls() int {
	return a.Calls(EndpointPaymentInfo) + a.Calls(EndpointCreateTransaction) + a.Calls(EndpointGetTransaction)
}

// RevokeTokens invalidates every JWT issued so far.
func (a *Anchor) RevokeTokens() {
	a.jwt.rotate()
}

// Transaction returns the anchor-side view of a transaction.
func (a *Anchor) Transaction(id string) (status stellarconnect.PaymentStatus, fields map[string]string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tx, ok := a.transactions[id]
	if !ok {
		return "", nil, false
	}
	return tx.status, tx.fields, true
}

func (a *Anchor) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/stellar.toml", a.count(EndpointTOML, func(w http.ResponseWriter, r *http.Request) {
		toml.NewPublisher(a.Info()).Handler()(w, r)
	}))
	mux.HandleFunc("GET /auth", a.count(EndpointChallenge, a.handleChallenge))
	mux.HandleFunc("POST /auth", a.count(EndpointToken, a.handleToken))
	mux.HandleFunc("GET /sep38/info", a.count(EndpointQuoteInfo, a.handleQuoteInfo))
	mux.HandleFunc("GET /sep38/prices", a.count(EndpointPrices, a.handlePrices))
	mux.HandleFunc("POST /sep38/quote", a.count(EndpointQuote, a.requireAuth(a.handleQuote)))
	mux.HandleFunc("GET /sep31/info", a.count(EndpointPaymentInfo, a.handlePaymentInfo))
	mux.HandleFunc("POST /sep31/transactions", a.count(EndpointCreateTransaction, a.requireAuth(a.handleCreateTransaction)))
	mux.HandleFunc("GET /sep31/transactions/{id}", a.count(EndpointGetTransaction, a.requireAuth(a.handleGetTransaction)))
	return mux
}

func (a *Anchor) count(e Endpoint, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.calls[e].Add(1)
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
