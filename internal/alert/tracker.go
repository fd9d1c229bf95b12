package alert

import (
	"context"
	"fmt"
	"sync"
)

// FailureTracker counts consecutive failures per external service and
// raises an api_failure alert when a service reaches the threshold. The
// count resets after the alert and on any success.
type FailureTracker struct {
	mu        sync.Mutex
	throttler *Throttler
	threshold int
	counts    map[string]int
}

// NewFailureTracker creates a tracker. threshold below 1 is treated as 3.
func NewFailureTracker(t *Throttler, threshold int) *FailureTracker {
	if threshold < 1 {
		threshold = 3
	}
	return &FailureTracker{throttler: t, threshold: threshold, counts: make(map[string]int)}
}

// Success resets the service's count.
func (f *FailureTracker) Success(service string) {
	f.mu.Lock()
	f.counts[service] = 0
	f.mu.Unlock()
}

// Failure increments the service's count and alerts at the threshold.
func (f *FailureTracker) Failure(ctx context.Context, service string, cause error) {
	f.mu.Lock()
	f.counts[service]++
	n := f.counts[service]
	if n < f.threshold {
		f.mu.Unlock()
		return
	}
	f.counts[service] = 0
	f.mu.Unlock()

	msg := fmt.Sprintf("%s API failed %d times in a row", service, n)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	f.throttler.Notify(ctx, APIFailure, msg)
}

// Consecutive returns the current failure count for a service.
func (f *FailureTracker) Consecutive(service string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[service]
}
