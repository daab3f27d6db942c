package signers

import (
	"context"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/anchor-remit-go/core/crypto"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

func challengeXDR(t *testing.T, source string) string {
	t.Helper()
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{AccountID: source, Sequence: -1},
		Operations:    []txnbuild.Operation{&txnbuild.ManageData{Name: "anchor.test auth", Value: []byte("nonce")}},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
	})
	require.NoError(t, err)
	out, err := tx.Base64()
	require.NoError(t, err)
	return out
}

func TestFromSecretSigns(t *testing.T) {
	kp := keypair.MustRandom()
	signer, err := FromSecret(kp.Seed())
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), signer.PublicKey())

	signed, err := signer.SignTransaction(context.Background(), challengeXDR(t, keypair.MustRandom().Address()), network.TestNetworkPassphrase)
	require.NoError(t, err)

	parsed, err := txnbuild.TransactionFromXDR(signed)
	require.NoError(t, err)
	tx, ok := parsed.Transaction()
	require.True(t, ok)
	assert.NoError(t, crypto.VerifyTransactionSignature(tx, network.TestNetworkPassphrase, kp.Address()))
}

func TestFromSecretRejectsInvalidSecret(t *testing.T) {
	_, err := FromSecret("SNOTASECRET")
	assert.Error(t, err)
	_, err = FromSecret(keypair.MustRandom().Address())
	assert.Error(t, err)
}

func TestKeypairSignerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FromKeypair(keypair.MustRandom()).SignTransaction(ctx, "AAAA", network.TestNetworkPassphrase)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromCallbackDelegates(t *testing.T) {
	var gotPassphrase string
	signer := FromCallback("GABC", func(ctx context.Context, xdr, passphrase string) (string, error) {
		gotPassphrase = passphrase
		return xdr + "-signed", nil
	})
	assert.Equal(t, "GABC", signer.PublicKey())

	out, err := signer.SignTransaction(context.Background(), "envelope", network.PublicNetworkPassphrase)
	require.NoError(t, err)
	assert.Equal(t, "envelope-signed", out)
	assert.Equal(t, network.PublicNetworkPassphrase, gotPassphrase)
}

func TestFromSecretDoesNotLeakSeed(t *testing.T) {
	_, err := FromSecret("SNOTASECRET")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SNOTASECRET")
}

func TestKeypairSignerRejectsGarbage(t *testing.T) {
	_, err := FromKeypair(keypair.MustRandom()).SignTransaction(context.Background(), "not-xdr", network.TestNetworkPassphrase)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.SIGNATURE_INVALID))
}
