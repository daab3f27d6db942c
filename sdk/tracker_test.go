package sdk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

func scriptedPoll(calls *int, statuses ...stellarconnect.PaymentStatus) PollFunc {
	return func(ctx context.Context, r *stellarconnect.PaymentRecord) (*stellarconnect.PaymentRecord, error) {
		next := r.Clone()
		next.Record(statuses[min(*calls, len(statuses)-1)], time.Now())
		*calls++
		return next, nil
	}
}

func pendingRecord() *stellarconnect.PaymentRecord {
	r := &stellarconnect.PaymentRecord{TransactionID: "tx-1", Domain: "anchor.example"}
	r.Record(stellarconnect.StatusPendingSender, time.Now())
	return r
}

func TestTrackerStopsAtTerminalStatus(t *testing.T) {
	calls := 0
	tracker := NewTracker(pendingRecord(), scriptedPoll(&calls,
		stellarconnect.StatusPendingAnchor,
		stellarconnect.StatusRefunded,
		stellarconnect.StatusCompleted,
	))

	var seen []stellarconnect.PaymentStatus
	for r, err := range tracker.Statuses(context.Background()) {
		require.NoError(t, err)
		seen = append(seen, r.Status)
	}

	assert.Equal(t, []stellarconnect.PaymentStatus{stellarconnect.StatusPendingAnchor, stellarconnect.StatusRefunded}, seen)
	assert.Equal(t, 2, calls)
	assert.True(t, tracker.Done())

	final, err := tracker.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stellarconnect.StatusRefunded, final.Status)
	assert.Equal(t, 2, calls)
}

func TestTrackerPollsOnlyWhenPulled(t *testing.T) {
	calls := 0
	tracker := NewTracker(pendingRecord(), scriptedPoll(&calls, stellarconnect.StatusPendingAnchor))

	for range tracker.Statuses(context.Background()) {
		break
	}
	assert.Equal(t, 1, calls)
	assert.False(t, tracker.Done())
}

func TestTrackerSurfacesErrors(t *testing.T) {
	boom := errors.New(errors.StagePoll, errors.UNREACHABLE, "anchor down", nil)
	tracker := NewTracker(pendingRecord(), func(ctx context.Context, r *stellarconnect.PaymentRecord) (*stellarconnect.PaymentRecord, error) {
		return nil, boom
	})

	var got []error
	for r, err := range tracker.Statuses(context.Background()) {
		got = append(got, err)
		assert.Equal(t, stellarconnect.StatusPendingSender, r.Status)
	}
	require.Len(t, got, 1)
	assert.True(t, errors.IsCode(got[0], errors.UNREACHABLE))
}

func TestTrackerHonoursCancelledContext(t *testing.T) {
	calls := 0
	tracker := NewTracker(pendingRecord(), scriptedPoll(&calls, stellarconnect.StatusPendingAnchor))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range tracker.Statuses(ctx) {
		assert.True(t, errors.IsCode(err, errors.CANCELLED))
	}
	assert.Equal(t, 0, calls)
}

func TestTrackerWithoutRecord(t *testing.T) {
	calls := 0
	tracker := NewTracker(nil, scriptedPoll(&calls, stellarconnect.StatusPendingAnchor))

	assert.False(t, tracker.Done())
	assert.Nil(t, tracker.Record())

	_, err := tracker.Poll(context.Background())
	assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID), "got %v", err)

	for _, err := range tracker.Statuses(context.Background()) {
		assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID), "got %v", err)
	}
	assert.Equal(t, 0, calls)
}

func TestTrackerWithoutPollFunc(t *testing.T) {
	tracker := NewTracker(pendingRecord(), nil)

	record, err := tracker.Poll(context.Background())
	assert.True(t, errors.IsCode(err, errors.CONFIG_INVALID), "got %v", err)
	assert.Equal(t, stellarconnect.StatusPendingSender, record.Status)
}

func TestParseAsset(t *testing.T) {
	tests := []struct {
		in   string
		want Asset
	}{
		{"iso4217:USD", Asset{Scheme: "iso4217", Code: "USD"}},
		{"stellar:USDC:GISSUER", Asset{Scheme: "stellar", Code: "USDC", Issuer: "GISSUER"}},
		{"stellar:native", Asset{Scheme: "stellar", Code: "native"}},
		{"USDC:GISSUER", Asset{Scheme: "stellar", Code: "USDC", Issuer: "GISSUER"}},
		{" USDC ", Asset{Scheme: "stellar", Code: "USDC"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseAsset(tt.in)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "stellar:USDC:GISSUER", ParseAsset("USDC:GISSUER").String())
	assert.False(t, ParseAsset("iso4217:USD").IsStellar())
}
