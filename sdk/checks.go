package sdk

import (
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/core/net"
	"github.com/marwen-abid/anchor-remit-go/core/toml"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

// checkToken refuses to attach a token to a request for another anchor or
// after it expired.
func checkToken(stage errors.Stage, info *toml.AnchorInfo, token *stellarconnect.AuthToken, now time.Time) error {
	switch {
	case info == nil:
		return errors.New(stage, errors.CONFIG_INVALID, "anchor descriptor is required", nil)
	case token == nil:
		return errors.New(stage, errors.UNAUTHORIZED, "no auth token", nil)
	case token.HomeDomain != info.Domain:
		return errors.New(stage, errors.UNAUTHORIZED, fmt.Sprintf("token was issued by %s, not %s", token.HomeDomain, info.Domain), nil)
	case !token.Valid(now):
		return errors.New(stage, errors.UNAUTHORIZED, "auth token expired", nil).With("expired_at", token.ExpiresAt)
	}
	return nil
}

// positiveAmount parses a decimal amount without going through floating point.
func positiveAmount(stage errors.Stage, amount string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, errors.New(stage, errors.AMOUNT_INVALID, fmt.Sprintf("amount %q is not a decimal number", amount), err)
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.New(stage, errors.AMOUNT_INVALID, fmt.Sprintf("amount %s must be positive", amount), nil)
	}
	return d, nil
}

// anchorStatusError maps a non-2xx anchor response. A 401, or a 403 typed
// authentication_required, becomes UNAUTHORIZED; any other refusal, a bare
// 403 included, becomes code with the anchor's message verbatim.
func anchorStatusError(stage errors.Stage, resp *net.Response, code errors.Code) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, errType := resp.AnchorError()
	if resp.StatusCode == http.StatusUnauthorized ||
		(resp.StatusCode == http.StatusForbidden && errType == "authentication_required") {
		return errors.New(stage, errors.UNAUTHORIZED, fmt.Sprintf("anchor refused the auth token: %s", msg), nil).
			With("status_code", resp.StatusCode)
	}
	e := errors.New(stage, code, msg, nil).With("status_code", resp.StatusCode)
	if errType != "" {
		e.With("anchor_error_type", errType)
	}
	return e
}
