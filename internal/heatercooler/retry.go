package heatercooler

import (
	"context"
	"fmt"
	"time"
)

// Default attempt budgets.
const (
	DefaultReadAttempts  = 10
	DefaultWriteAttempts = 5

	// DefaultRetryUnit is the backoff step; the delay after attempt k is k units.
	DefaultRetryUnit = time.Second
)

// Retrier runs an operation until it succeeds or its attempt budget is spent.
//
// The delay before retry k+1 is k units, so it grows linearly as attempts are
// consumed. There is no delay before the first attempt, no jitter, and no state
// carried between calls.
type Retrier struct {
	unit   time.Duration
	logger Logger
}

// NewRetrier creates a Retrier. A unit of zero selects DefaultRetryUnit.
func NewRetrier(unit time.Duration, logger Logger) *Retrier {
	if unit <= 0 {
		unit = DefaultRetryUnit
	}
	return &Retrier{unit: unit, logger: logger}
}

// Do runs op up to maxAttempts times (at least once).
//
// Parameters:
//   - ctx: Cancels the backoff sleep; op receives it unchanged
//   - name: Describes the operation in logs
//   - maxAttempts: Attempt budget
//   - op: Operation to run
//
// Returns:
//   - error: nil on success, ctx.Err() if cancelled while waiting, otherwise
//     an error wrapping ErrRetriesExhausted and the last failure
func (r *Retrier) Do(ctx context.Context, name string, maxAttempts int, op func(context.Context) error) error {
	maxAttempts = max(maxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		delay := time.Duration(attempt) * r.unit
		r.logDebug("retrying", "operation", name, "attempt", attempt, "max_attempts", maxAttempts,
			"delay", delay.String(), "error", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.logError("giving up", "operation", name, "attempts", maxAttempts, "error", lastErr)
	return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrRetriesExhausted, maxAttempts, lastErr)
}

func (r *Retrier) logDebug(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, keysAndValues...)
	}
}

func (r *Retrier) logError(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Error(msg, keysAndValues...)
	}
}
