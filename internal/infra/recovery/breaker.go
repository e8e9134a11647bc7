// Package recovery implements the captcha/ban/proxy-failure recovery
// subsystem: a circuit breaker gating proxy circuit rotation requests to
// the external control socket, and a quarantine manager escalating
// account swap cool-downs and bans.
package recovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/overwatch-scan/overwatch/internal/domain"
)

// CBState is a circuit breaker state.
type CBState int

const (
	CBClosed   CBState = iota // normal operation — rotation requests pass through
	CBOpen                    // tripped — rotation requests rejected immediately
	CBHalfOpen                // recovery probe — a limited number of requests allowed
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "CLOSED"
	case CBOpen:
		return "OPEN"
	case CBHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive rotation failures to trip (default 5)
	ResetTimeout     time.Duration // time spent OPEN before probing HALF_OPEN (default 30s)
	HalfOpenMax      int           // successful probes required to close (default 3)
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      3,
	}
}

// CircuitBreaker guards a single proxy's outbound control-socket rotation
// requests. When a proxy's control socket keeps failing to produce a new
// circuit, the breaker trips open so the scheduler stops attempting
// rotations against it and can fall back to another proxy.
type CircuitBreaker struct {
	mu          sync.Mutex
	name        string
	config      CircuitBreakerConfig
	state       CBState
	failures    int
	successes   int
	trippedAt   time.Time
	totalTrips  int
	now         func() time.Time
}

// NewCircuitBreaker creates a circuit breaker identified by name (the
// proxy URL).
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{name: name, config: cfg, state: CBClosed, now: time.Now}
}

// Allow reports whether a rotation request should be permitted.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBClosed:
		return nil
	case CBOpen:
		if cb.now().Sub(cb.trippedAt) >= cb.config.ResetTimeout {
			cb.state = CBHalfOpen
			cb.successes = 0
			return nil
		}
		return fmt.Errorf("%s: %w", cb.name, domain.ErrCircuitOpen)
	case CBHalfOpen:
		return nil
	}
	return nil
}

// RecordSuccess records a successful rotation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenMax {
			cb.state = CBClosed
			cb.failures = 0
			cb.successes = 0
		}
	case CBClosed:
		if cb.failures > 0 {
			cb.failures--
		}
	}
}

// RecordFailure records a failed rotation attempt. May trip the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = CBOpen
			cb.trippedAt = cb.now()
			cb.totalTrips++
		}
	case CBHalfOpen:
		cb.state = CBOpen
		cb.trippedAt = cb.now()
		cb.totalTrips++
	}
}

// State returns the current state, auto-transitioning OPEN → HALF_OPEN
// once the reset timeout has elapsed.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CBOpen && cb.now().Sub(cb.trippedAt) >= cb.config.ResetTimeout {
		cb.state = CBHalfOpen
		cb.successes = 0
	}
	return cb.state
}

// BreakerSnapshot is a point-in-time view of a CircuitBreaker.
type BreakerSnapshot struct {
	Name       string
	State      CBState
	Failures   int
	TotalTrips int
	TrippedAt  time.Time
}

// Snapshot returns the current snapshot.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := cb.state
	if st == CBOpen && cb.now().Sub(cb.trippedAt) >= cb.config.ResetTimeout {
		st = CBHalfOpen
		cb.state = CBHalfOpen
		cb.successes = 0
	}
	return BreakerSnapshot{Name: cb.name, State: st, Failures: cb.failures, TotalTrips: cb.totalTrips, TrippedAt: cb.trippedAt}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CBClosed
	cb.failures = 0
	cb.successes = 0
}
