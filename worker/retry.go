// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable reports whether an error is worth another attempt.
	// Nil means every error is retried.
	Retryable func(error) bool
}

// DefaultPolicy is three attempts starting at 100ms.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}

// permanent marks an error as not retryable.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent wraps err so Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

// RetryWithBackoff retries operation up to maxAttempts times, doubling
// baseDelay after each failure. The last error is returned when every
// attempt fails.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	return Retry(ctx, Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}, operation)
}

// Retry runs operation under policy. Errors wrapped with Permanent, or
// rejected by policy.Retryable, stop the loop immediately.
func Retry(ctx context.Context, policy Policy, operation func() error) error {
	if policy.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	delay := policy.BaseDelay
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		var perm permanent
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if policy.Retryable != nil && !policy.Retryable(lastErr) {
			return lastErr
		}

		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", policy.MaxAttempts, "err", lastErr)
		if attempt == policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}
