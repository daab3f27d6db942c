// Package errors defines the error taxonomy for the anchor payment client.
//
// All client errors are represented as StellarConnectError, which provides:
//   - Code: Machine-readable error identifier
//   - Message: Human-readable error description
//   - Stage: Which pipeline stage produced the error (resolve, authenticate, quote, submit, poll)
//   - Cause: Underlying error, if any
//   - Context: Additional error details (missing fields, anchor status code, etc.)
//
// Codes fall into four groups: transport failures that may be retried
// (UNREACHABLE, TIMEOUT, CIRCUIT_OPEN), protocol violations by the anchor or
// the signer (MALFORMED_DESCRIPTOR, CHALLENGE_REJECTED, SIGNATURE_INVALID),
// caller-correctable input (ASSET_PAIR_UNSUPPORTED, QUOTE_EXPIRED, FIELDS_MISSING, ...)
// and anchor business rejections (ANCHOR_REJECTED).
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code is a machine-readable error identifier.
type Code string

// Error codes - discovery
const (
	NOT_FOUND            Code = "NOT_FOUND"
	UNREACHABLE          Code = "UNREACHABLE"
	MALFORMED_DESCRIPTOR Code = "MALFORMED_DESCRIPTOR"
)

// Error codes - authentication
const (
	CHALLENGE_REJECTED Code = "CHALLENGE_REJECTED"
	SIGNATURE_INVALID  Code = "SIGNATURE_INVALID"
	UNAUTHORIZED       Code = "UNAUTHORIZED"
)

// Error codes - quotes and payments
const (
	QUOTE_UNAVAILABLE      Code = "QUOTE_UNAVAILABLE"
	ASSET_PAIR_UNSUPPORTED Code = "ASSET_PAIR_UNSUPPORTED"
	QUOTE_EXPIRED          Code = "QUOTE_EXPIRED"
	QUOTE_MISMATCH         Code = "QUOTE_MISMATCH"
	FIELDS_MISSING         Code = "FIELDS_MISSING"
	AMOUNT_INVALID         Code = "AMOUNT_INVALID"
	ANCHOR_REJECTED        Code = "ANCHOR_REJECTED"
	SETTLEMENT_NOT_FOUND   Code = "SETTLEMENT_NOT_FOUND"
)

// Error codes - caller and local infrastructure
const (
	TIMEOUT        Code = "TIMEOUT"
	CANCELLED      Code = "CANCELLED"
	CIRCUIT_OPEN   Code = "CIRCUIT_OPEN"
	CONFIG_INVALID Code = "CONFIG_INVALID"
	STORE_ERROR    Code = "STORE_ERROR"
)

// Stage names the pipeline step that produced an error.
type Stage string

const (
	StageTransport    Stage = "transport"
	StageResolve      Stage = "resolve"
	StageAuthenticate Stage = "authenticate"
	StageQuote        Stage = "quote"
	StageSubmit       Stage = "submit"
	StagePoll         Stage = "poll"
	StageSettlement   Stage = "settlement"
	StageClient       Stage = "client"
)

// StellarConnectError is the base error type for all client errors.
type StellarConnectError struct {
	Code    Code
	Message string
	Stage   Stage
	Cause   error
	Context map[string]any
}

// Error returns a formatted error string.
func (e *StellarConnectError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Stage, e.Code, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error, enabling error chain inspection.
func (e *StellarConnectError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error is a StellarConnectError with the same code.
func (e *StellarConnectError) Is(target error) bool {
	if target == nil {
		return false
	}
	other, ok := target.(*StellarConnectError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// With attaches a context value and returns the receiver for chaining.
func (e *StellarConnectError) With(key string, value any) *StellarConnectError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates an error for the given stage.
func New(stage Stage, code Code, message string, cause error) *StellarConnectError {
	return &StellarConnectError{
		Code:    code,
		Message: message,
		Stage:   stage,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// Sentinel returns a bare error carrying only a code, for use with errors.Is.
func Sentinel(code Code) error {
	return &StellarConnectError{Code: code}
}

// NewTransportError creates a transport layer error.
func NewTransportError(code Code, message string, cause error) *StellarConnectError {
	return New(StageTransport, code, message, cause)
}

// NewResolveError creates a discovery (SEP-1) error.
func NewResolveError(code Code, message string, cause error) *StellarConnectError {
	return New(StageResolve, code, message, cause)
}

// NewAuthError creates an authentication (SEP-10) error.
func NewAuthError(code Code, message string, cause error) *StellarConnectError {
	return New(StageAuthenticate, code, message, cause)
}

// NewQuoteError creates a quote (SEP-38) error.
func NewQuoteError(code Code, message string, cause error) *StellarConnectError {
	return New(StageQuote, code, message, cause)
}

// NewPaymentError creates a payment submission (SEP-31) error.
func NewPaymentError(code Code, message string, cause error) *StellarConnectError {
	return New(StageSubmit, code, message, cause)
}

// As checks if err, or any error in its chain, is a StellarConnectError and assigns it.
func As(err error, target **StellarConnectError) bool {
	if err == nil {
		return false
	}
	return stderrors.As(err, target)
}

// CodeOf returns the code of the outermost StellarConnectError in the chain,
// or an empty code if there is none.
func CodeOf(err error) Code {
	var sc *StellarConnectError
	if As(err, &sc) {
		return sc.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Retryable reports whether err is a transient transport failure that may be
// retried. Caller-correctable and protocol errors are never retryable.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case UNREACHABLE, TIMEOUT, CIRCUIT_OPEN:
		return true
	default:
		return false
	}
}

// WithStage tags err with the stage that produced it before it crosses the
// facade boundary. The code and context of the underlying error are kept;
// the original error remains reachable through Unwrap.
func WithStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var sc *StellarConnectError
	if !As(err, &sc) {
		return New(stage, codeForForeign(err), "unclassified failure", err)
	}
	if sc.Stage == stage {
		return sc
	}
	tagged := &StellarConnectError{
		Code:    sc.Code,
		Message: fmt.Sprintf("%s failed", stage),
		Stage:   stage,
		Cause:   err,
		Context: make(map[string]any, len(sc.Context)),
	}
	for k, v := range sc.Context {
		tagged.Context[k] = v
	}
	return tagged
}

// MissingFields returns the keys carried by a FIELDS_MISSING error.
func MissingFields(err error) []string {
	var sc *StellarConnectError
	if !As(err, &sc) || sc.Code != FIELDS_MISSING {
		return nil
	}
	missing, _ := sc.Context["missing"].([]string)
	return missing
}

// NewFieldsMissing builds a FIELDS_MISSING error listing the absent keys.
func NewFieldsMissing(keys []string) *StellarConnectError {
	return NewPaymentError(
		FIELDS_MISSING,
		fmt.Sprintf("required fields missing: %s", strings.Join(keys, ", ")),
		nil,
	).With("missing", keys)
}

// Propagate wraps a lower-level failure for stage, keeping its code so that
// retry and cancellation semantics survive the wrapping.
func Propagate(stage Stage, message string, err error) *StellarConnectError {
	code := CodeOf(err)
	if code == "" {
		code = codeForForeign(err)
	}
	return New(stage, code, message, err)
}

func codeForForeign(err error) Code {
	switch {
	case stderrors.Is(err, context.Canceled):
		return CANCELLED
	case stderrors.Is(err, context.DeadlineExceeded):
		return TIMEOUT
	default:
		return UNREACHABLE
	}
}
