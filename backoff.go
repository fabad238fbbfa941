package helploop

import (
	"sync"
	"time"
)

// reconnector schedules reconnect attempts with capped exponential backoff.
// A superseding schedule (or stop) cancels any pending timer, so at most one
// retry is ever in flight.
type reconnector struct {
	base, cap time.Duration

	mu      sync.Mutex
	attempt int
	timer   *time.Timer
}

func newReconnector(base, cap time.Duration) *reconnector {
	return &reconnector{base: base, cap: cap}
}

// delayFor returns the backoff delay for the given zero-based attempt:
// base × 2^attempt, capped. Delays are non-decreasing across consecutive
// failures and never exceed the cap.
func (r *reconnector) delayFor(attempt int) time.Duration {
	d := r.base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= r.cap {
			return r.cap
		}
	}
	if d > r.cap {
		return r.cap
	}
	return d
}

// schedule arranges fn to run after the delay for the current attempt and
// advances the attempt counter. A previously pending retry is cancelled.
// It returns the delay chosen, for state reporting.
func (r *reconnector) schedule(fn func()) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
	delay := r.delayFor(r.attempt)
	r.attempt++
	r.timer = time.AfterFunc(delay, fn)
	return delay
}

// reset clears the attempt counter and cancels any pending retry. Called on
// successful connect.
func (r *reconnector) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt = 0
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// stop cancels any pending retry without clearing the attempt counter.
func (r *reconnector) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *reconnector) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}
