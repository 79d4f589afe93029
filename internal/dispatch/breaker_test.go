package dispatch

import (
	"testing"
	"time"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	current := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	breaker := NewBreaker(3, time.Minute)
	breaker.now = func() time.Time { return current }

	for i := 0; i < 2; i++ {
		breaker.Failure()
	}
	if breaker.State() != BreakerClosed {
		t.Fatalf("breaker must stay closed under threshold")
	}
	breaker.Failure()
	if breaker.State() != BreakerOpen {
		t.Fatalf("breaker must open at threshold")
	}
	if breaker.Allow() {
		t.Fatalf("open breaker must block")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	current := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	breaker := NewBreaker(1, time.Minute)
	breaker.now = func() time.Time { return current }

	breaker.Failure()
	if breaker.Allow() {
		t.Fatalf("expected block while open")
	}

	current = current.Add(2 * time.Minute)
	if !breaker.Allow() {
		t.Fatalf("expected probe after cooldown")
	}
	if breaker.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open during probe, got %s", breaker.State())
	}
	if breaker.Allow() {
		t.Fatalf("only one probe may fly at a time")
	}

	breaker.Success()
	if breaker.State() != BreakerClosed {
		t.Fatalf("successful probe must close the breaker")
	}
	if !breaker.Allow() {
		t.Fatalf("closed breaker must pass traffic")
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	current := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	breaker := NewBreaker(1, time.Minute)
	breaker.now = func() time.Time { return current }

	breaker.Failure()
	current = current.Add(2 * time.Minute)
	if !breaker.Allow() {
		t.Fatalf("expected probe after cooldown")
	}
	breaker.Failure()
	if breaker.State() != BreakerOpen {
		t.Fatalf("failed probe must reopen, got %s", breaker.State())
	}
	if breaker.Allow() {
		t.Fatalf("reopened breaker must block until the next cooldown")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	breaker := NewBreaker(2, time.Minute)
	breaker.Failure()
	breaker.Success()
	breaker.Failure()
	if breaker.State() != BreakerClosed {
		t.Fatalf("success must reset the consecutive-failure count")
	}
}
