package signers

import (
	"context"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

type keypairSigner struct {
	kp *keypair.Full
}

// FromSecret creates a Signer from a Stellar secret seed (S...). The seed is
// never included in the returned error.
func FromSecret(secret string) (stellarconnect.Signer, error) {
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return nil, errors.New(errors.StageClient, errors.CONFIG_INVALID, "secret is not a valid Stellar secret seed", nil)
	}
	return FromKeypair(kp), nil
}

// FromKeypair creates a Signer from an already parsed keypair.
func FromKeypair(kp *keypair.Full) stellarconnect.Signer {
	return &keypairSigner{kp: kp}
}

func (s *keypairSigner) PublicKey() string {
	return s.kp.Address()
}

// SignTransaction adds a signature over the envelope's hash on networkPassphrase.
// Fee-bump envelopes are refused: a SEP-10 challenge is always a plain transaction.
func (s *keypairSigner) SignTransaction(ctx context.Context, xdr string, networkPassphrase string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Propagate(errors.StageAuthenticate, "signing cancelled", err)
	}

	parsed, err := txnbuild.TransactionFromXDR(xdr)
	if err != nil {
		return "", errors.NewAuthError(errors.SIGNATURE_INVALID, "envelope is not valid transaction XDR", err)
	}
	tx, ok := parsed.Transaction()
	if !ok {
		return "", errors.NewAuthError(errors.SIGNATURE_INVALID, "refusing to sign a fee-bump envelope", nil)
	}

	signed, err := tx.Sign(networkPassphrase, s.kp)
	if err != nil {
		return "", errors.NewAuthError(errors.SIGNATURE_INVALID, "failed to sign envelope", err)
	}
	return signed.Base64()
}
