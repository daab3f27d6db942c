package anchortest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	"github.com/marwen-abid/anchor-remit-go/core/crypto"
)

const (
	challengeNonceLength = 48
	challengeTimeout     = 5 * time.Minute
	challengeBaseFee     = int64(100)
)

type claimsContextKey struct{}

func (a *Anchor) handleChallenge(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	if _, err := keypair.ParseAddress(account); err != nil {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	if hd := r.URL.Query().Get("home_domain"); hd != "" && hd != a.domain {
		writeError(w, http.StatusBadRequest, "home_domain is not supported")
		return
	}

	if a.cfg.challengeDelay > 0 {
		select {
		case <-time.After(a.cfg.challengeDelay):
		case <-r.Context().Done():
			return
		}
	}

	xdr, err := a.createChallenge(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"transaction":        xdr,
		"network_passphrase": a.cfg.challengePassphrase,
	})
}

func (a *Anchor) createChallenge(account string) (string, error) {
	nonce, err := crypto.GenerateNonce(challengeNonceLength)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	maxTime := now.Add(challengeTimeout)
	a.nonces.add(nonce, maxTime)

	serverAccount := a.signingKey.Address()
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: serverAccount, Sequence: a.cfg.challengeSequence},
		IncrementSequenceNum: false,
		Operations: []txnbuild.Operation{
			&txnbuild.ManageData{Name: a.domain + " auth", Value: []byte(nonce), SourceAccount: account},
			&txnbuild.ManageData{Name: "web_auth_domain", Value: []byte(a.domain), SourceAccount: serverAccount},
		},
		BaseFee: challengeBaseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimebounds(now.Unix(), maxTime.Unix()),
		},
	})
	if err != nil {
		return "", err
	}

	signed, err := tx.Sign(a.cfg.challengePassphrase, a.cfg.challengeSigner)
	if err != nil {
		return "", err
	}
	return signed.Base64()
}

func (a *Anchor) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Transaction string `json:"transaction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Transaction) == "" {
		writeError(w, http.StatusBadRequest, "transaction is required")
		return
	}

	account, err := a.verifyChallenge(body.Transaction)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	token, err := a.jwt.issue(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue JWT")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type challengeError string

func (e challengeError) Error() string { return string(e) }

// verifyChallenge checks a signed challenge and returns the client account.
// Only the account's master key is accepted as a client signer.
func (a *Anchor) verifyChallenge(challengeXDR string) (string, error) {
	parsed, err := txnbuild.TransactionFromXDR(challengeXDR)
	if err != nil {
		return "", challengeError("failed to parse challenge transaction")
	}
	tx, ok := parsed.Transaction()
	if !ok {
		return "", challengeError("challenge transaction must not be fee bump")
	}

	operations := tx.Operations()
	if len(operations) < 2 {
		return "", challengeError("challenge transaction must have at least two operations")
	}
	firstOp, ok := operations[0].(*txnbuild.ManageData)
	if !ok || firstOp.Name != a.domain+" auth" || firstOp.Value == nil {
		return "", challengeError("invalid challenge operation")
	}
	if tx.SourceAccount().AccountID != a.signingKey.Address() {
		return "", challengeError("challenge transaction source account must be the server signing key")
	}
	secondOp, ok := operations[1].(*txnbuild.ManageData)
	if !ok || secondOp.Name != "web_auth_domain" || !bytes.Equal(secondOp.Value, []byte(a.domain)) {
		return "", challengeError("web_auth_domain mismatch")
	}

	account := firstOp.SourceAccount
	if strings.TrimSpace(account) == "" {
		return "", challengeError("first operation missing source account")
	}
	if err := crypto.VerifyTransactionSignature(tx, a.cfg.challengePassphrase, a.signingKey.Address()); err != nil {
		return "", challengeError("challenge transaction not signed by server")
	}
	if err := crypto.VerifyTransactionSignature(tx, a.cfg.challengePassphrase, account); err != nil {
		return "", challengeError("challenge transaction not signed by client")
	}
	if !a.nonces.consume(string(firstOp.Value)) {
		return "", challengeError("nonce already used or expired")
	}
	return account, nil
}

func (a *Anchor) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if header == "" || token == "" || token == header {
			writeJSON(w, http.StatusForbidden, map[string]string{"type": "authentication_required"})
			return
		}
		account, err := a.jwt.verify(token)
		if err != nil {
			writeJSON(w, http.StatusForbidden, map[string]string{"type": "authentication_required"})
			return
		}
		ctx := context.WithValue(r.Context(), claimsContextKey{}, account)
		next(w, r.WithContext(ctx))
	}
}

func accountFromContext(ctx context.Context) string {
	account, _ := ctx.Value(claimsContextKey{}).(string)
	return account
}

// nonceStore tracks outstanding challenge nonces. Each nonce verifies once.
type nonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

func newNonceStore() *nonceStore {
	return &nonceStore{nonces: make(map[string]time.Time)}
}

func (s *nonceStore) add(nonce string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[nonce] = expiresAt
}

func (s *nonceStore) consume(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.nonces[nonce]
	if !ok {
		return false
	}
	delete(s.nonces, nonce)
	return time.Now().Before(expiresAt)
}
