// Package crypto holds the signature and nonce helpers shared by the SEP-10
// client and the in-process test anchor.
package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
)

// GenerateNonce generates a cryptographically secure random nonce and returns it as a base64-encoded string.
// The length parameter specifies the number of random bytes to generate.
// For SEP-10 compatibility, use 48 bytes which encodes to 64 characters in base64.
func GenerateNonce(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("nonce length must be positive, got %d", length)
	}

	nonce := make([]byte, length)
	_, err := rand.Read(nonce)
	if err != nil {
		return "", fmt.Errorf("failed to generate random nonce: %w", err)
	}

	encodedNonce := base64.StdEncoding.EncodeToString(nonce)
	return encodedNonce, nil
}

// ErrSignatureMissing is returned when no signature on a transaction verifies
// for the requested key.
var ErrSignatureMissing = errors.New("no valid signature for key")

// VerifyTransactionSignature checks that tx carries a signature by address over
// its hash on the given network.
func VerifyTransactionSignature(tx *txnbuild.Transaction, networkPassphrase, address string) error {
	kp, err := keypair.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	hash, err := tx.Hash(networkPassphrase)
	if err != nil {
		return fmt.Errorf("failed to hash transaction: %w", err)
	}

	hint := kp.Hint()
	for _, sig := range tx.Signatures() {
		if !bytes.Equal(sig.Hint[:], hint[:]) {
			continue
		}
		if kp.Verify(hash[:], sig.Signature) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w %s", ErrSignatureMissing, address)
}

// SameHash reports whether two transactions hash identically on the network,
// i.e. a signer changed nothing but the signatures.
func SameHash(a, b *txnbuild.Transaction, networkPassphrase string) (bool, error) {
	ha, err := a.Hash(networkPassphrase)
	if err != nil {
		return false, err
	}
	hb, err := b.Hash(networkPassphrase)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}
