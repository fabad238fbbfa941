package helploop

import (
	"testing"
	"time"
)

func TestBackoffDelays(t *testing.T) {
	r := newReconnector(2*time.Second, 8*time.Second)

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for attempt, w := range want {
		if got := r.delayFor(attempt); got != w {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, w)
		}
	}
}

func TestBackoffNonDecreasing(t *testing.T) {
	r := newReconnector(250*time.Millisecond, 30*time.Second)

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := r.delayFor(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v after %v", attempt, d, prev)
		}
		if d > 30*time.Second {
			t.Fatalf("delay exceeds cap at attempt %d: %v", attempt, d)
		}
		prev = d
	}
}

func TestBackoffScheduleAdvancesAndResets(t *testing.T) {
	r := newReconnector(time.Hour, time.Hour)
	defer r.stop()

	r.schedule(func() {})
	r.schedule(func() {})
	if got := r.attempts(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}

	r.reset()
	if got := r.attempts(); got != 0 {
		t.Fatalf("attempts after reset = %d, want 0", got)
	}
	if got := r.delayFor(r.attempts()); got != time.Hour {
		t.Fatalf("delay after reset = %v, want %v", got, time.Hour)
	}
}

func TestBackoffScheduleCancelsPending(t *testing.T) {
	r := newReconnector(10*time.Millisecond, 10*time.Millisecond)
	defer r.stop()

	fired := make(chan int, 2)
	r.schedule(func() { fired <- 1 })
	r.schedule(func() { fired <- 2 })

	select {
	case got := <-fired:
		if got != 2 {
			t.Fatalf("stale retry fired: %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("retry never fired")
	}

	select {
	case got := <-fired:
		t.Fatalf("second retry fired: %d", got)
	case <-time.After(50 * time.Millisecond):
	}
}
