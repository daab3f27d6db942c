package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"golang.org/x/sync/singleflight"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/core/crypto"
	"github.com/marwen-abid/anchor-remit-go/core/net"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

// defaultTokenLifetime applies when the anchor's JWT carries no exp claim.
const defaultTokenLifetime = 24 * time.Hour

// AuthSession obtains SEP-10 bearer tokens for (domain, account) pairs.
//
// Every challenge is validated before it reaches the signer: a challenge on
// the wrong network, with a nonzero sequence number, not issued by the
// anchor's SIGNING_KEY or not bound to the requested account is refused with
// CHALLENGE_REJECTED and never signed.
//
// Tokens are cached in a TokenStore. Concurrent requests for the same
// (domain, account) share a single challenge-response exchange.
type AuthSession struct {
	client            *net.Client
	networkPassphrase string
	tokens            stellarconnect.TokenStore
	now               func() time.Time
	logger            *slog.Logger
	exchangeLimit     time.Duration
	group             singleflight.Group
}

// NewAuthSession creates an AuthSession for the given network.
func NewAuthSession(client *net.Client, networkPassphrase string, opts ...Option) *AuthSession {
	o := newOptions(opts)
	return &AuthSession{
		client:            client,
		networkPassphrase: networkPassphrase,
		tokens:            o.tokens,
		now:               o.now,
		logger:            o.logger,
		exchangeLimit:     o.exchangeLimit,
	}
}

type challengeResponse struct {
	Transaction       string `json:"transaction"`
	NetworkPassphrase string `json:"network_passphrase"`
}

// Token returns a cached valid token for (info.Domain, account), authenticating
// when there is none.
func (s *AuthSession) Token(ctx context.Context, info *toml.AnchorInfo, account string, signer stellarconnect.Signer) (*stellarconnect.AuthToken, error) {
	if err := s.checkInputs(info, account, signer); err != nil {
		return nil, err
	}

	cached, err := s.cachedToken(ctx, info, account)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	return s.authenticate(ctx, info, account, signer, true)
}

// cachedToken returns the stored token for (info.Domain, account) when it is
// still valid, nil otherwise.
func (s *AuthSession) cachedToken(ctx context.Context, info *toml.AnchorInfo, account string) (*stellarconnect.AuthToken, error) {
	cached, err := s.tokens.Get(ctx, info.Domain, account)
	if err != nil {
		return nil, errors.NewAuthError(errors.STORE_ERROR, "failed to read token store", err)
	}
	if cached.Valid(s.now()) && cached.ScopedTo(info.Domain, account) {
		return cached, nil
	}
	return nil, nil
}

// Invalidate drops the cached token for (domain, account), e.g. after the
// anchor answered 401.
func (s *AuthSession) Invalidate(ctx context.Context, domain, account string) error {
	if err := s.tokens.Delete(ctx, domain, account); err != nil {
		return errors.NewAuthError(errors.STORE_ERROR, "failed to drop cached token", err)
	}
	return nil
}

// Authenticate performs a SEP-10 challenge-response exchange and caches the
// resulting token. A caller arriving while an exchange for the same
// (domain, account) is in flight waits for it and receives the same token.
func (s *AuthSession) Authenticate(ctx context.Context, info *toml.AnchorInfo, account string, signer stellarconnect.Signer) (*stellarconnect.AuthToken, error) {
	if err := s.checkInputs(info, account, signer); err != nil {
		return nil, err
	}
	return s.authenticate(ctx, info, account, signer, false)
}

// authenticate runs the shared exchange. With reuseCached set, a valid token
// stored after the caller's cache miss is returned without an exchange.
func (s *AuthSession) authenticate(ctx context.Context, info *toml.AnchorInfo, account string, signer stellarconnect.Signer, reuseCached bool) (*stellarconnect.AuthToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Propagate(errors.StageAuthenticate, "authentication aborted", err)
	}

	// The exchange survives a caller giving up but not the deadline of the
	// caller that started it.
	ch := s.group.DoChan(info.Domain+"|"+account, func() (any, error) {
		exchangeCtx, cancel := net.Detach(ctx, s.exchangeLimit)
		defer cancel()

		if reuseCached {
			cached, err := s.cachedToken(exchangeCtx, info, account)
			if err != nil {
				return nil, err
			}
			if cached != nil {
				return cached, nil
			}
		}

		token, err := s.exchange(exchangeCtx, info, account, signer)
		if err != nil {
			return nil, err
		}
		if err := s.tokens.Put(exchangeCtx, token); err != nil {
			return nil, errors.NewAuthError(errors.STORE_ERROR, "failed to cache token", err)
		}
		return token, nil
	})

	select {
	case <-ctx.Done():
		return nil, errors.Propagate(errors.StageAuthenticate, "authentication aborted", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		token := *res.Val.(*stellarconnect.AuthToken)
		return &token, nil
	}
}

func (s *AuthSession) checkInputs(info *toml.AnchorInfo, account string, signer stellarconnect.Signer) error {
	switch {
	case info == nil || info.Domain == "":
		return errors.NewAuthError(errors.CONFIG_INVALID, "anchor descriptor is required", nil)
	case signer == nil:
		return errors.NewAuthError(errors.CONFIG_INVALID, "signer is required", nil)
	case info.SigningKey == "":
		return errors.NewAuthError(errors.MALFORMED_DESCRIPTOR, fmt.Sprintf("%s publishes no SIGNING_KEY", info.Domain), nil)
	case info.WebAuthEndpoint == "":
		return errors.NewAuthError(errors.MALFORMED_DESCRIPTOR, fmt.Sprintf("%s publishes no WEB_AUTH_ENDPOINT", info.Domain), nil)
	}
	if _, err := keypair.ParseAddress(account); err != nil {
		return errors.NewAuthError(errors.CONFIG_INVALID, "account is not a valid Stellar address", err)
	}
	if info.NetworkPassphrase != "" && info.NetworkPassphrase != s.networkPassphrase {
		return errors.NewAuthError(
			errors.CHALLENGE_REJECTED,
			fmt.Sprintf("%s is on network %q, client is configured for %q", info.Domain, info.NetworkPassphrase, s.networkPassphrase),
			nil,
		)
	}
	return nil
}

func (s *AuthSession) exchange(ctx context.Context, info *toml.AnchorInfo, account string, signer stellarconnect.Signer) (*stellarconnect.AuthToken, error) {
	if signer.PublicKey() == info.SigningKey {
		return nil, errors.NewAuthError(errors.SIGNATURE_INVALID, "refusing to sign a challenge with the anchor's own key", nil)
	}

	challenge, err := s.fetchChallenge(ctx, info, account)
	if err != nil {
		return nil, err
	}

	tx, err := s.validateChallenge(info, account, challenge)
	if err != nil {
		s.logger.Warn("challenge rejected", "domain", info.Domain, "error", err)
		return nil, err
	}

	signedXDR, err := s.sign(ctx, tx, challenge.Transaction, signer)
	if err != nil {
		return nil, err
	}

	raw, err := s.submit(ctx, info, signedXDR)
	if err != nil {
		return nil, err
	}

	token, err := s.tokenFromJWT(info, account, raw)
	if err != nil {
		return nil, err
	}

	s.logger.Info("authenticated", "domain", info.Domain, "account", account, "expires_at", token.ExpiresAt)
	return token, nil
}

func (s *AuthSession) fetchChallenge(ctx context.Context, info *toml.AnchorInfo, account string) (*challengeResponse, error) {
	u, err := url.Parse(info.WebAuthEndpoint)
	if err != nil {
		return nil, errors.NewAuthError(errors.MALFORMED_DESCRIPTOR, "invalid WEB_AUTH_ENDPOINT", err)
	}
	q := u.Query()
	q.Set("account", account)
	q.Set("home_domain", info.Domain)
	u.RawQuery = q.Encode()

	resp, err := s.client.Get(ctx, u.String())
	if err != nil {
		return nil, errors.Propagate(errors.StageAuthenticate, fmt.Sprintf("failed to fetch challenge from %s", info.Domain), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		msg, _ := resp.AnchorError()
		return nil, errors.NewAuthError(
			errors.CHALLENGE_REJECTED,
			fmt.Sprintf("challenge request returned status %d: %s", resp.StatusCode, msg),
			nil,
		).With("status_code", resp.StatusCode)
	}

	var challenge challengeResponse
	if err := resp.DecodeJSON(&challenge); err != nil {
		return nil, errors.NewAuthError(errors.CHALLENGE_REJECTED, "failed to decode challenge response JSON", err)
	}
	return &challenge, nil
}

// sign hands the validated challenge to the signer and checks that what comes
// back is the same transaction carrying a valid signature by the signer.
func (s *AuthSession) sign(ctx context.Context, tx *txnbuild.Transaction, xdr string, signer stellarconnect.Signer) (string, error) {
	signedXDR, err := signer.SignTransaction(ctx, xdr, s.networkPassphrase)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Propagate(errors.StageAuthenticate, "signing aborted", ctx.Err())
		}
		return "", errors.NewAuthError(errors.SIGNATURE_INVALID, "signer failed to sign challenge", err)
	}

	parsed, err := txnbuild.TransactionFromXDR(signedXDR)
	if err != nil {
		return "", errors.NewAuthError(errors.SIGNATURE_INVALID, "signer returned an undecodable envelope", err)
	}
	signed, ok := parsed.Transaction()
	if !ok {
		return "", errors.NewAuthError(errors.SIGNATURE_INVALID, "signer returned a fee bump envelope", nil)
	}

	same, err := crypto.SameHash(tx, signed, s.networkPassphrase)
	if err != nil || !same {
		return "", errors.NewAuthError(errors.SIGNATURE_INVALID, "signer altered the challenge transaction", err)
	}
	if err := crypto.VerifyTransactionSignature(signed, s.networkPassphrase, signer.PublicKey()); err != nil {
		return "", errors.NewAuthError(errors.SIGNATURE_INVALID, "signed challenge carries no valid signature by the signer", err)
	}
	return signedXDR, nil
}

func (s *AuthSession) submit(ctx context.Context, info *toml.AnchorInfo, signedXDR string) (string, error) {
	resp, err := s.client.PostJSON(ctx, info.WebAuthEndpoint, map[string]string{"transaction": signedXDR})
	if err != nil {
		return "", errors.Propagate(errors.StageAuthenticate, "failed to submit signed challenge", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := resp.AnchorError()
		return "", errors.NewAuthError(
			errors.SIGNATURE_INVALID,
			fmt.Sprintf("anchor rejected signed challenge: %s", msg),
			nil,
		).With("status_code", resp.StatusCode)
	}
	if resp.StatusCode != 200 {
		return "", errors.NewAuthError(
			errors.CHALLENGE_REJECTED,
			fmt.Sprintf("auth submission returned status %d", resp.StatusCode),
			nil,
		)
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := resp.DecodeJSON(&tokenResp); err != nil || strings.TrimSpace(tokenResp.Token) == "" {
		return "", errors.NewAuthError(errors.CHALLENGE_REJECTED, "anchor returned no token", err)
	}
	return tokenResp.Token, nil
}

// tokenFromJWT reads exp and sub without verifying the signature; only the
// anchor can verify its own tokens.
func (s *AuthSession) tokenFromJWT(info *toml.AnchorInfo, account, raw string) (*stellarconnect.AuthToken, error) {
	now := s.now()
	token := &stellarconnect.AuthToken{
		HomeDomain: info.Domain,
		Account:    account,
		JWT:        raw,
		ExpiresAt:  now.Add(defaultTokenLifetime),
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		s.logger.Debug("token is not a JWT, using default lifetime", "domain", info.Domain)
		return token, nil
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" && sub != account && !strings.HasPrefix(sub, account+":") {
		return nil, errors.NewAuthError(
			errors.CHALLENGE_REJECTED,
			fmt.Sprintf("token subject %s does not match account %s", sub, account),
			nil,
		)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		token.ExpiresAt = exp.Time
	}
	if !token.Valid(now) {
		return nil, errors.NewAuthError(errors.CHALLENGE_REJECTED, "anchor issued an expired or expiring token", nil).
			With("expires_at", token.ExpiresAt)
	}
	return token, nil
}
