package sdk

import (
	"log/slog"
	"time"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/core/logging"
	"github.com/marwen-abid/anchor-remit-go/core/net"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
	"github.com/marwen-abid/anchor-remit-go/store/memory"
)

const (
	defaultInfoTTL       = 5 * time.Minute
	defaultStageRetries  = 3
	defaultRetryInterval = 250 * time.Millisecond
	defaultExchangeLimit = 2 * time.Minute
)

// options holds the settings shared by every component in this package.
// Each constructor reads the fields it needs and ignores the rest.
type options struct {
	httpClient    *net.Client
	resolver      *toml.Resolver
	tokens        stellarconnect.TokenStore
	payments      stellarconnect.PaymentStore
	now           func() time.Time
	logger        *slog.Logger
	infoTTL       time.Duration
	stageRetries  int
	retryInterval time.Duration
	metrics       *Metrics
	exchangeLimit time.Duration
}

// Option configures a Client or one of its components.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		now:           time.Now,
		logger:        logging.Discard(),
		infoTTL:       defaultInfoTTL,
		stageRetries:  defaultStageRetries,
		retryInterval: defaultRetryInterval,
		exchangeLimit: defaultExchangeLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tokens == nil {
		o.tokens = memory.NewTokenStore()
	}
	if o.payments == nil {
		o.payments = memory.NewPaymentStore()
	}
	return o
}

// WithHTTPClient sets the underlying HTTP client for network requests.
func WithHTTPClient(client *net.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithResolver sets the anchor directory used by the Client.
func WithResolver(r *toml.Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithTokenStore sets where SEP-10 tokens are cached (default: in memory).
func WithTokenStore(s stellarconnect.TokenStore) Option {
	return func(o *options) {
		o.tokens = s
	}
}

// WithPaymentStore sets where payment records are kept (default: in memory).
func WithPaymentStore(s stellarconnect.PaymentStore) Option {
	return func(o *options) {
		o.payments = s
	}
}

// WithClock sets the time source used for expiry checks and status history.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger. Identifiers and tokens should be passed through
// a logging.SanitizingHandler.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithInfoTTL sets how long SEP-38 and SEP-31 /info responses are cached.
func WithInfoTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.infoTTL = ttl
	}
}

// WithStageRetries sets how often the Client retries a transient failure in
// the resolve and authenticate stages, and the first backoff interval.
// Zero retries disables retrying.
func WithStageRetries(retries int, initialInterval time.Duration) Option {
	return func(o *options) {
		o.stageRetries = retries
		o.retryInterval = initialInterval
	}
}

// WithMetrics records per-stage outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithExchangeLimit bounds a shared SEP-10 exchange, signing included, when
// the caller that started it set no earlier deadline. Zero leaves only the
// caller's deadline.
func WithExchangeLimit(d time.Duration) Option {
	return func(o *options) {
		o.exchangeLimit = d
	}
}
