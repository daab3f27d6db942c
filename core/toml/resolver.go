package toml

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gotoml "github.com/pelletier/go-toml/v2"
	"github.com/stellar/go/keypair"
	"golang.org/x/sync/singleflight"

	"github.com/marwen-abid/anchor-remit-go/core/logging"
	"github.com/marwen-abid/anchor-remit-go/core/net"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

const (
	defaultCacheTTL   = 5 * time.Minute
	defaultFetchLimit = 30 * time.Second
	wellKnownPath     = "/.well-known/stellar.toml"
	maxCurrencyArrays = 100
	maxTomlSize       = 1024 * 1024
)

type cacheEntry struct {
	info      *AnchorInfo
	fetchedAt time.Time
}

// Resolver is the anchor directory: it fetches, validates and caches
// stellar.toml descriptors per domain.
type Resolver struct {
	client   *net.Client
	scheme   string
	cacheTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
	// fetchLimit bounds a shared fetch that no caller deadline limits.
	fetchLimit time.Duration

	mu    sync.RWMutex
	cache map[string]*cacheEntry
	group singleflight.Group
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCacheTTL sets how long a descriptor is served from cache (default: 5m).
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cacheTTL = ttl
	}
}

// WithFetchLimit bounds how long a shared fetch may run when the caller
// that started it has no earlier deadline (default: 30s).
func WithFetchLimit(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.fetchLimit = d
	}
}

// WithScheme overrides the URL scheme, e.g. "http" for local test anchors.
func WithScheme(scheme string) ResolverOption {
	return func(r *Resolver) {
		r.scheme = scheme
	}
}

// WithClock sets the time source used for cache expiry.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewResolver(client *net.Client, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client:     client,
		scheme:     "https",
		cacheTTL:   defaultCacheTTL,
		fetchLimit: defaultFetchLimit,
		now:        time.Now,
		logger:     logging.Discard(),
		cache:      make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the descriptor for domain, from cache when fresh.
// Concurrent misses for the same domain share a single fetch; a caller whose
// ctx ends while waiting gets CANCELLED or TIMEOUT without affecting the others.
func (r *Resolver) Resolve(ctx context.Context, domain string) (*AnchorInfo, error) {
	key := NormalizeDomain(domain)
	if key == "" {
		return nil, errors.NewResolveError(errors.CONFIG_INVALID, "domain is empty", nil)
	}

	if info := r.cached(key); info != nil {
		return info, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Propagate(errors.StageResolve, fmt.Sprintf("resolving %s", key), err)
	}

	// The shared fetch survives a caller giving up but not the deadline of
	// the caller that started it.
	ch := r.group.DoChan(key, func() (any, error) {
		if info := r.cached(key); info != nil {
			return info, nil
		}
		fetchCtx, cancel := net.Detach(ctx, r.fetchLimit)
		defer cancel()
		info, err := r.fetch(fetchCtx, key)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = &cacheEntry{info: info, fetchedAt: r.now()}
		r.mu.Unlock()
		return info, nil
	})

	select {
	case <-ctx.Done():
		return nil, errors.Propagate(errors.StageResolve, fmt.Sprintf("resolving %s", key), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*AnchorInfo).clone(), nil
	}
}

// Invalidate drops the cached descriptor for domain.
func (r *Resolver) Invalidate(domain string) {
	r.mu.Lock()
	delete(r.cache, NormalizeDomain(domain))
	r.mu.Unlock()
}

// Purge drops every cached descriptor.
func (r *Resolver) Purge() {
	r.mu.Lock()
	r.cache = make(map[string]*cacheEntry)
	r.mu.Unlock()
}

func (r *Resolver) cached(key string) *AnchorInfo {
	r.mu.RLock()
	entry, exists := r.cache[key]
	r.mu.RUnlock()

	if exists && r.now().Sub(entry.fetchedAt) < r.cacheTTL {
		return entry.info.clone()
	}
	return nil
}

func (r *Resolver) fetch(ctx context.Context, domain string) (*AnchorInfo, error) {
	url := r.scheme + "://" + domain + wellKnownPath

	resp, err := r.client.Get(ctx, url)
	if err != nil {
		return nil, errors.Propagate(errors.StageResolve, fmt.Sprintf("failed to fetch stellar.toml from %s", domain), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, errors.NewResolveError(errors.NOT_FOUND, fmt.Sprintf("%s publishes no stellar.toml", domain), nil).
			With("status_code", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.NewResolveError(errors.NOT_FOUND, fmt.Sprintf("stellar.toml fetch returned status %d", resp.StatusCode), nil).
			With("status_code", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTomlSize+1))
	if err != nil {
		return nil, errors.Propagate(errors.StageResolve, "failed to read stellar.toml response", err)
	}
	if len(body) > maxTomlSize {
		return nil, errors.NewResolveError(errors.MALFORMED_DESCRIPTOR, "stellar.toml exceeds 1MiB", nil)
	}

	info, err := Parse(body)
	if err != nil {
		return nil, err
	}
	info.Domain = domain

	r.logger.Debug("resolved stellar.toml",
		"domain", domain,
		"quote_server", info.AnchorQuoteServer != "",
		"payment_server", info.DirectPaymentServer != "",
	)
	return info, nil
}

// Parse decodes and validates stellar.toml content.
func Parse(content []byte) (*AnchorInfo, error) {
	var doc stellarTOML
	if err := gotoml.Unmarshal(content, &doc); err != nil {
		return nil, errors.NewResolveError(errors.MALFORMED_DESCRIPTOR, "stellar.toml is not valid TOML", err)
	}

	if len(doc.Currencies) > maxCurrencyArrays {
		doc.Currencies = doc.Currencies[:maxCurrencyArrays]
	}

	info := &AnchorInfo{
		NetworkPassphrase:   strings.TrimSpace(doc.NetworkPassphrase),
		SigningKey:          strings.TrimSpace(doc.SigningKey),
		WebAuthEndpoint:     strings.TrimSpace(doc.WebAuthEndpoint),
		DirectPaymentServer: strings.TrimRight(strings.TrimSpace(doc.DirectPaymentServer), "/"),
		AnchorQuoteServer:   strings.TrimRight(strings.TrimSpace(doc.AnchorQuoteServer), "/"),
		KYCServer:           strings.TrimRight(strings.TrimSpace(doc.KYCServer), "/"),
		Currencies:          doc.Currencies,
	}

	if err := validate(info); err != nil {
		return nil, err
	}
	return info, nil
}

func validate(info *AnchorInfo) error {
	if info.SigningKey == "" {
		return malformed("SIGNING_KEY is missing")
	}
	if _, err := keypair.ParseAddress(info.SigningKey); err != nil || !strings.HasPrefix(info.SigningKey, "G") {
		return malformed(fmt.Sprintf("invalid SIGNING_KEY format: %s", info.SigningKey))
	}
	if info.WebAuthEndpoint == "" {
		return malformed("WEB_AUTH_ENDPOINT is missing")
	}
	if info.DirectPaymentServer == "" && info.AnchorQuoteServer == "" {
		return malformed("neither DIRECT_PAYMENT_SERVER nor ANCHOR_QUOTE_SERVER is published")
	}

	endpoints := map[string]string{
		"WEB_AUTH_ENDPOINT":     info.WebAuthEndpoint,
		"DIRECT_PAYMENT_SERVER": info.DirectPaymentServer,
		"ANCHOR_QUOTE_SERVER":   info.AnchorQuoteServer,
		"KYC_SERVER":            info.KYCServer,
	}
	for name, raw := range endpoints {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return malformed(fmt.Sprintf("%s is not an absolute http(s) URL: %q", name, raw))
		}
	}
	return nil
}

func malformed(msg string) error {
	return errors.NewResolveError(errors.MALFORMED_DESCRIPTOR, msg, nil)
}

// NormalizeDomain lowercases domain and strips any scheme, path and trailing slash.
func NormalizeDomain(domain string) string {
	d := strings.TrimSpace(strings.ToLower(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return d
}
