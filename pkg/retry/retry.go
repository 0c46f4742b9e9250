// Package retry provides a bounded retry loop with linear back-off
package retry

import (
	"context"
	"time"
)

// DefaultMaxAttempts matches the file-release retry policy for package deletes
const DefaultMaxAttempts = 3

// DefaultBaseDelay is multiplied by the attempt number between attempts
const DefaultBaseDelay = 200 * time.Millisecond

// NextDelay returns the wait before the given 1-based attempt is retried
func NextDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}

// Do runs fn up to maxAttempts times, sleeping NextDelay between failures.
// Returns nil on the first success, the last error once attempts are spent,
// or the context error if ctx is cancelled mid-wait.
func Do(ctx context.Context, maxAttempts int, base time.Duration, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(NextDelay(attempt, base)):
		}
	}
	return err
}
