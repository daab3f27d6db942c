package signers

import (
	"context"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
)

// SignFunc signs a base64 XDR envelope for the given network and returns the
// signed envelope.
type SignFunc func(ctx context.Context, xdr string, networkPassphrase string) (string, error)

// callbackSigner wraps a custom signing function for external signing services.
type callbackSigner struct {
	publicKey string
	signFunc  SignFunc
}

// FromCallback creates a Signer from a public key and an arbitrary signing function.
// Intended for wrapping HSMs, custodial APIs, or any external signing service.
func FromCallback(publicKey string, signFunc SignFunc) stellarconnect.Signer {
	return &callbackSigner{
		publicKey: publicKey,
		signFunc:  signFunc,
	}
}

// PublicKey returns the Stellar address (G...) for this signer.
func (s *callbackSigner) PublicKey() string {
	return s.publicKey
}

// SignTransaction delegates to the callback function.
func (s *callbackSigner) SignTransaction(ctx context.Context, xdr string, networkPassphrase string) (string, error) {
	return s.signFunc(ctx, xdr, networkPassphrase)
}
