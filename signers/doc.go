// Package signers adapts key material to the client's Signer capability.
//
// FromSecret and FromKeypair sign SEP-10 challenges locally with a
// stellar/go keypair, which suits backends that already hold the sender's
// seed. FromCallback hands the envelope to caller code instead (an HSM, a
// custodial API, a wallet prompt), so the client never sees a private key.
//
// The client verifies every envelope a Signer returns: it must hash to the
// challenge it was given and carry a signature valid for PublicKey.
package signers
