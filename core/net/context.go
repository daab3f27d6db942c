package net

import (
	"context"
	"time"
)

// Detach returns a context that outlives cancellation of ctx but still ends
// at ctx's deadline or after limit, whichever comes first. It keeps ctx's
// values. A non-positive limit leaves only ctx's deadline.
//
// Work shared between callers runs under a detached context: one caller
// giving up must not fail the others, yet the work must not run unbounded.
func Detach(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		if limit <= 0 || time.Until(deadline) < limit {
			return context.WithDeadline(detached, deadline)
		}
	}
	if limit > 0 {
		return context.WithTimeout(detached, limit)
	}
	return context.WithCancel(detached)
}
