package sdk

import "strings"

// Asset is a parsed SEP-38 asset identifier such as "iso4217:USD" or
// "stellar:USDC:G...". Bare codes ("USDC", "USDC:G...") are read as Stellar assets.
type Asset struct {
	Scheme string
	Code   string
	Issuer string
}

const (
	schemeStellar = "stellar"
	schemeISO4217 = "iso4217"
)

// ParseAsset parses an asset identifier. It never fails; unknown shapes end
// up in Code.
func ParseAsset(s string) Asset {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	switch {
	case len(parts) >= 2 && strings.EqualFold(parts[0], schemeISO4217):
		return Asset{Scheme: schemeISO4217, Code: parts[1]}
	case len(parts) == 3 && strings.EqualFold(parts[0], schemeStellar):
		return Asset{Scheme: schemeStellar, Code: parts[1], Issuer: parts[2]}
	case len(parts) == 2 && strings.EqualFold(parts[0], schemeStellar):
		return Asset{Scheme: schemeStellar, Code: parts[1]}
	case len(parts) == 2:
		return Asset{Scheme: schemeStellar, Code: parts[0], Issuer: parts[1]}
	default:
		return Asset{Scheme: schemeStellar, Code: s}
	}
}

// IsStellar reports whether the asset lives on the Stellar network.
func (a Asset) IsStellar() bool {
	return a.Scheme == schemeStellar
}

// String renders the SEP-38 identifier.
func (a Asset) String() string {
	if a.Issuer != "" {
		return a.Scheme + ":" + a.Code + ":" + a.Issuer
	}
	return a.Scheme + ":" + a.Code
}
