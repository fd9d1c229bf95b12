// Package retry wraps external calls with bounded exponential backoff and a
// hard per-attempt timeout.
package retry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/abelbrown/jtfnews/internal/logging"
)

// maxRetryAfter caps a server-requested wait.
const maxRetryAfter = 30 * time.Second

// Policy configures Do.
type Policy struct {
	MaxRetries  int           // attempts = MaxRetries + 1
	BaseDelay   time.Duration // delay before retry n is BaseDelay * 2^n
	CallTimeout time.Duration // per attempt; zero means none

	// RetryOn lists the kinds worth retrying. Empty means the transient kinds.
	RetryOn []Kind

	// Sleep waits between attempts. Nil uses a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns three retries at 1s, 2s and 4s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  3,
		BaseDelay:   time.Second,
		CallTimeout: 60 * time.Second,
	}
}

// Delay returns the wait after the given zero-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay << attempt
}

func (p Policy) retryable(k Kind) bool {
	if len(p.RetryOn) == 0 {
		return k.Transient()
	}
	return slices.Contains(p.RetryOn, k)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The last error is returned wrapped with name.
func Do[T any](ctx context.Context, name string, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := p.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		v, err := fn(callCtx)
		cancel()
		if err == nil {
			if attempt > 0 {
				logging.Info("call recovered", "call", name, "attempt", attempt+1)
			}
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", name, ctx.Err())
		}

		lastErr = err
		kind := Classify(err)
		if !p.retryable(kind) {
			logging.Warn("call failed, not retrying", "call", name, "attempt", attempt+1, "kind", kind, "err", err)
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Delay(attempt)
		var re *Error
		if errors.As(err, &re) && re.RetryAfter > delay {
			delay = min(re.RetryAfter, maxRetryAfter)
		}
		logging.Warn("call failed, retrying", "call", name, "attempt", attempt+1, "of", attempts, "kind", kind, "delay", delay, "err", err)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
	}

	logging.Error("call failed after retries", "call", name, "attempts", attempts, "err", lastErr)
	return zero, fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}
