package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/logging"
)

// Backoff controls how often and how patiently an operation is retried.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultBackoff is used for Redis and database calls.
var DefaultBackoff = Backoff{Attempts: 3, Initial: 50 * time.Millisecond, Max: time.Second}

// Do runs fn until it succeeds, fails with a non-transient error or the
// attempts run out. Failures are returned as *logging.OperationError.
func Do(ctx context.Context, logger *zap.Logger, b Backoff, operation, sessionID string, fn func() error) error {
	if b.Attempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	delay := b.Initial
	opLogger := logging.WithOperation(logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(delay):
			}
			if next := delay * 2; next <= b.Max {
				delay = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !IsTransient(err) || attempt == b.Attempts-1 {
			opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

// IsTransient reports timeouts and temporary network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
