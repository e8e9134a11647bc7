package recovery

import (
	"testing"
	"time"
)

func testBreaker() (*CircuitBreaker, *time.Time) {
	now := time.Now()
	cb := NewCircuitBreaker("proxy-1", CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:      10 * time.Second,
		HalfOpenMax:       2,
	})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_StartsClosedAndAllows(t *testing.T) {
	cb, _ := testBreaker()
	if cb.State() != CBClosed {
		t.Fatalf("initial state = %v, want CBClosed", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() in closed state: %v", err)
	}
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb, _ := testBreaker()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CBClosed {
		t.Fatalf("state after 2 failures = %v, want CBClosed", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != CBOpen {
		t.Fatalf("state after 3 failures = %v, want CBOpen", cb.State())
	}
	if err := cb.Allow(); err == nil {
		t.Fatal("Allow() should reject while open")
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb, now := testBreaker()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()

	*now = now.Add(11 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after reset timeout: %v", err)
	}
	if cb.State() != CBHalfOpen {
		t.Fatalf("state = %v, want CBHalfOpen", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterEnoughSuccesses(t *testing.T) {
	cb, now := testBreaker()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	*now = now.Add(11 * time.Second)
	cb.Allow() // transitions to half-open

	cb.RecordSuccess()
	if cb.State() != CBHalfOpen {
		t.Fatalf("state after 1 success = %v, want CBHalfOpen", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != CBClosed {
		t.Fatalf("state after 2 successes = %v, want CBClosed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := testBreaker()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	*now = now.Add(11 * time.Second)
	cb.Allow()

	cb.RecordFailure()
	if cb.State() != CBOpen {
		t.Fatalf("state after half-open failure = %v, want CBOpen", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := testBreaker()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.Reset()
	if cb.State() != CBClosed {
		t.Fatalf("state after Reset = %v, want CBClosed", cb.State())
	}
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	cb, _ := testBreaker()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	snap := cb.Snapshot()
	if snap.Name != "proxy-1" || snap.TotalTrips != 1 {
		t.Fatalf("Snapshot() = %+v", snap)
	}
}
