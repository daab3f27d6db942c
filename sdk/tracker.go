package sdk

import (
	"context"
	"iter"
	"sync"

	stellarconnect "github.com/marwen-abid/anchor-remit-go"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

// PollFunc reads the anchor's current view of record.
type PollFunc func(ctx context.Context, record *stellarconnect.PaymentRecord) (*stellarconnect.PaymentRecord, error)

// Tracker follows one payment. It never polls on its own: each call to Poll,
// and each value pulled from Statuses, performs at most one request. Cadence
// belongs to the caller.
type Tracker struct {
	mu     sync.Mutex
	record *stellarconnect.PaymentRecord
	poll   PollFunc
}

// NewTracker creates a Tracker starting from record. A Tracker without a
// record or poll func fails every Poll with CONFIG_INVALID.
func NewTracker(record *stellarconnect.PaymentRecord, poll PollFunc) *Tracker {
	return &Tracker{record: record.Clone(), poll: poll}
}

// Record returns a copy of the latest known record.
func (t *Tracker) Record() *stellarconnect.PaymentRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.Clone()
}

// Done reports whether the payment reached a terminal status.
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record != nil && t.record.Status.Terminal()
}

// Poll asks the anchor once for the payment's status. After a terminal status
// it returns the final record without a request.
func (t *Tracker) Poll(ctx context.Context) (*stellarconnect.PaymentRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.record == nil:
		return nil, errors.New(errors.StagePoll, errors.CONFIG_INVALID, "payment record is required", nil)
	case t.poll == nil:
		return t.record.Clone(), errors.New(errors.StagePoll, errors.CONFIG_INVALID, "poll func is required", nil)
	}
	if t.record.Status.Terminal() {
		return t.record.Clone(), nil
	}

	next, err := t.poll(ctx, t.record)
	if next != nil {
		t.record = next
	}
	if err != nil {
		return t.record.Clone(), err
	}
	return t.record.Clone(), nil
}

// Statuses yields the record after every poll. The sequence ends after a
// terminal status, after the first error, or when the consumer stops.
func (t *Tracker) Statuses(ctx context.Context) iter.Seq2[*stellarconnect.PaymentRecord, error] {
	return func(yield func(*stellarconnect.PaymentRecord, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(t.Record(), errors.Propagate(errors.StagePoll, "tracking stopped", err))
				return
			}
			record, err := t.Poll(ctx)
			if !yield(record, err) || err != nil || record.Status.Terminal() {
				return
			}
		}
	}
}
