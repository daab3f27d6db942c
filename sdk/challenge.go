package sdk

import (
	"fmt"
	"net/url"
	"time"

	"github.com/stellar/go/txnbuild"

	"github.com/marwen-abid/anchor-remit-go/core/crypto"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

const (
	// challengeGracePeriod tolerates clock drift against the challenge time bounds.
	challengeGracePeriod = 5 * time.Minute
	// challengeNonceLength is 48 random bytes, base64 encoded.
	challengeNonceLength = 64
	webAuthDomainKey     = "web_auth_domain"
)

func rejectChallenge(format string, args ...any) error {
	return errors.NewAuthError(errors.CHALLENGE_REJECTED, fmt.Sprintf(format, args...), nil)
}

// validateChallenge enforces the SEP-10 challenge rules. It runs before the
// signer ever sees the transaction.
func (s *AuthSession) validateChallenge(info *toml.AnchorInfo, account string, challenge *challengeResponse) (*txnbuild.Transaction, error) {
	if challenge.NetworkPassphrase != "" && challenge.NetworkPassphrase != s.networkPassphrase {
		return nil, rejectChallenge("challenge is for network %q, expected %q", challenge.NetworkPassphrase, s.networkPassphrase)
	}
	if challenge.Transaction == "" {
		return nil, rejectChallenge("challenge response carries no transaction")
	}

	parsed, err := txnbuild.TransactionFromXDR(challenge.Transaction)
	if err != nil {
		return nil, errors.NewAuthError(errors.CHALLENGE_REJECTED, "failed to parse challenge transaction", err)
	}
	tx, ok := parsed.Transaction()
	if !ok {
		return nil, rejectChallenge("challenge transaction must not be fee bump")
	}

	source := tx.SourceAccount()
	if source.Sequence != 0 {
		return nil, rejectChallenge("challenge sequence number is %d, expected 0", source.Sequence)
	}
	if source.AccountID != info.SigningKey {
		return nil, rejectChallenge("challenge source account %s is not the anchor's SIGNING_KEY", source.AccountID)
	}

	operations := tx.Operations()
	if len(operations) == 0 {
		return nil, rejectChallenge("challenge transaction has no operations")
	}
	first, ok := operations[0].(*txnbuild.ManageData)
	if !ok {
		return nil, rejectChallenge("first operation must be manage_data")
	}
	if first.Name != info.Domain+" auth" {
		return nil, rejectChallenge("first operation is %q, expected %q", first.Name, info.Domain+" auth")
	}
	if first.SourceAccount != account {
		return nil, rejectChallenge("first operation is not bound to account %s", account)
	}
	if len(first.Value) != challengeNonceLength {
		return nil, rejectChallenge("challenge nonce must be %d bytes, got %d", challengeNonceLength, len(first.Value))
	}

	authHost := ""
	if u, err := url.Parse(info.WebAuthEndpoint); err == nil {
		authHost = u.Host
	}
	for i, op := range operations[1:] {
		md, ok := op.(*txnbuild.ManageData)
		if !ok {
			return nil, rejectChallenge("operation %d is not manage_data", i+1)
		}
		if md.SourceAccount == account {
			return nil, rejectChallenge("operation %q must not be sourced by the client account", md.Name)
		}
		if md.Name == webAuthDomainKey {
			if md.SourceAccount != info.SigningKey {
				return nil, rejectChallenge("web_auth_domain operation must be sourced by the anchor")
			}
			if string(md.Value) != authHost {
				return nil, rejectChallenge("web_auth_domain %q does not match auth endpoint host %q", md.Value, authHost)
			}
		}
	}

	bounds := tx.Timebounds()
	if bounds.MaxTime == 0 {
		return nil, rejectChallenge("challenge transaction has no time bounds")
	}
	now := s.now()
	minTime := time.Unix(bounds.MinTime, 0).Add(-challengeGracePeriod)
	maxTime := time.Unix(bounds.MaxTime, 0).Add(challengeGracePeriod)
	if now.Before(minTime) || now.After(maxTime) {
		return nil, rejectChallenge("challenge transaction is outside its time bounds")
	}

	if err := crypto.VerifyTransactionSignature(tx, s.networkPassphrase, info.SigningKey); err != nil {
		return nil, errors.NewAuthError(errors.CHALLENGE_REJECTED, "challenge is not signed by the anchor's SIGNING_KEY", err)
	}

	return tx, nil
}
