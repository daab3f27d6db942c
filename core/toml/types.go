// Package toml provides functionality for fetching, parsing, and generating
// stellar.toml files as specified in SEP-1.
//
// The Resolver fetches and caches stellar.toml files from anchor domains and
// acts as the client's anchor directory, while the Publisher renders
// stellar.toml content for anchor servers and test fixtures.
package toml

import "strings"

// AnchorInfo represents the parsed contents of a stellar.toml file: the
// endpoints and signing key a client needs to talk to an anchor.
// Values returned by the Resolver are copies and must be treated as read-only.
type AnchorInfo struct {
	// Domain is the home domain the descriptor was fetched from.
	Domain string

	// NETWORK_PASSPHRASE identifies the Stellar network (testnet/mainnet).
	NetworkPassphrase string

	// SIGNING_KEY is the anchor's public key used for SEP-10 authentication.
	SigningKey string

	// WEB_AUTH_ENDPOINT is the URL for SEP-10 Stellar Web Authentication.
	WebAuthEndpoint string

	// DIRECT_PAYMENT_SERVER is the URL for SEP-31 cross-border payments.
	DirectPaymentServer string

	// ANCHOR_QUOTE_SERVER is the URL for SEP-38 quotes.
	AnchorQuoteServer string

	// KYC_SERVER is the URL for SEP-12 customer records (optional).
	KYCServer string

	// Currencies lists assets supported by the anchor.
	Currencies []CurrencyInfo
}

// CurrencyInfo describes a Stellar asset supported by an anchor.
type CurrencyInfo struct {
	// Code is the asset code (e.g., "USDC", "BTC").
	Code string `toml:"code"`

	// Issuer is the Stellar public key of the asset issuer.
	Issuer string `toml:"issuer"`

	// Status indicates if the asset is live, test, or disabled (optional).
	Status string `toml:"status"`

	// DisplayDecimals indicates the number of decimals to display (optional).
	DisplayDecimals int `toml:"display_decimals"`

	// AnchorAssetType indicates the asset type (e.g., "crypto", "fiat") (optional).
	AnchorAssetType string `toml:"anchor_asset_type"`

	// IsAssetAnchored indicates whether the asset is anchored to a real-world asset.
	IsAssetAnchored bool `toml:"is_asset_anchored"`

	// Desc is a short description of the asset.
	Desc string `toml:"desc"`
}

// SupportsPayments reports whether the anchor advertises a SEP-31 server.
func (a *AnchorInfo) SupportsPayments() bool {
	return a.DirectPaymentServer != ""
}

// SupportsQuotes reports whether the anchor advertises a SEP-38 server.
func (a *AnchorInfo) SupportsQuotes() bool {
	return a.AnchorQuoteServer != ""
}

// Currency returns the advertised currency with the given code, if any.
func (a *AnchorInfo) Currency(code string) (CurrencyInfo, bool) {
	for _, c := range a.Currencies {
		if strings.EqualFold(c.Code, code) {
			return c, true
		}
	}
	return CurrencyInfo{}, false
}

func (a *AnchorInfo) clone() *AnchorInfo {
	c := *a
	c.Currencies = append([]CurrencyInfo(nil), a.Currencies...)
	return &c
}

// stellarTOML is the wire shape of the fields this client reads.
type stellarTOML struct {
	NetworkPassphrase   string         `toml:"NETWORK_PASSPHRASE"`
	SigningKey          string         `toml:"SIGNING_KEY"`
	WebAuthEndpoint     string         `toml:"WEB_AUTH_ENDPOINT"`
	DirectPaymentServer string         `toml:"DIRECT_PAYMENT_SERVER"`
	AnchorQuoteServer   string         `toml:"ANCHOR_QUOTE_SERVER"`
	KYCServer           string         `toml:"KYC_SERVER"`
	Currencies          []CurrencyInfo `toml:"CURRENCIES"`
}
