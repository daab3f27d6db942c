package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := NewQuoteError(ASSET_PAIR_UNSUPPORTED, "pair not offered", nil)
	wrapped := fmt.Errorf("outer: %w", err)

	assert.True(t, stderrors.Is(wrapped, Sentinel(ASSET_PAIR_UNSUPPORTED)))
	assert.False(t, stderrors.Is(wrapped, Sentinel(QUOTE_EXPIRED)))
}

func TestWithStageKeepsCodeAndContext(t *testing.T) {
	inner := NewFieldsMissing([]string{"receiver_routing_number"})
	tagged := WithStage(StageClient, inner)

	var sc *StellarConnectError
	assert.True(t, As(tagged, &sc))
	assert.Equal(t, StageClient, sc.Stage)
	assert.Equal(t, FIELDS_MISSING, sc.Code)
	assert.Equal(t, []string{"receiver_routing_number"}, MissingFields(tagged))
	assert.ErrorIs(t, tagged, inner)
}

func TestWithStageWrapsForeignErrors(t *testing.T) {
	tagged := WithStage(StageResolve, context.Canceled)

	assert.Equal(t, CANCELLED, CodeOf(tagged))
	assert.Equal(t, TIMEOUT, CodeOf(WithStage(StageResolve, context.DeadlineExceeded)))
	assert.Equal(t, UNREACHABLE, CodeOf(WithStage(StageResolve, stderrors.New("dial tcp: refused"))))
	assert.ErrorIs(t, tagged, context.Canceled)
	assert.Nil(t, WithStage(StageResolve, nil))
}

func TestRetryable(t *testing.T) {
	cases := map[Code]bool{
		UNREACHABLE:       true,
		TIMEOUT:           true,
		CIRCUIT_OPEN:      true,
		CANCELLED:         false,
		ANCHOR_REJECTED:   false,
		SIGNATURE_INVALID: false,
		FIELDS_MISSING:    false,
	}
	for code, want := range cases {
		assert.Equal(t, want, Retryable(New(StageClient, code, "x", nil)), string(code))
	}
	assert.False(t, Retryable(stderrors.New("plain")))
}

func TestPropagateKeepsTransportCode(t *testing.T) {
	transport := NewTransportError(TIMEOUT, "GET timed out", context.DeadlineExceeded)
	err := Propagate(StageResolve, "failed to fetch stellar.toml", transport)

	assert.Equal(t, StageResolve, err.Stage)
	assert.Equal(t, TIMEOUT, err.Code)
	assert.Equal(t, UNREACHABLE, Propagate(StageResolve, "x", stderrors.New("boom")).Code)
}

func TestErrorString(t *testing.T) {
	err := NewAuthError(CHALLENGE_REJECTED, "sequence number must be zero", nil)
	assert.Equal(t, "[authenticate] CHALLENGE_REJECTED: sequence number must be zero", err.Error())
}
