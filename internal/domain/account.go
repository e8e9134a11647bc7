package domain

import "time"

// AccountState records where an account currently stands: assigned to a
// worker, ready for assignment, held for captcha resolution, or banned by
// the upstream service.
type AccountState string

const (
	AccountAssigned AccountState = "assigned"
	AccountReady    AccountState = "ready"
	AccountCaptcha  AccountState = "captcha"
	AccountBanned   AccountState = "banned"
)

// Account is a credential used to authenticate against the upstream
// geospatial API. An account lives in exactly one of AccountState's
// locations at a time.
type Account struct {
	Username    string
	Password    string
	Provider    string
	CaptchaFlag bool
	LastUsed    time.Time
	AuthState   AccountState
	DeviceInfo  string
}

// Proxy is an outbound route. Its latency window and failure counter are
// consulted by the recovery subsystem to decide on circuit rotation.
type Proxy struct {
	URL                    string
	LastRotatedAt          time.Time
	ConsecutiveFailures    int
	LatencyWindow          []time.Duration // bounded to 30 samples, oldest first
}

const proxyLatencyWindowSize = 30

// RecordLatency appends a latency sample, evicting the oldest sample once
// the window exceeds its bound.
func (p *Proxy) RecordLatency(d time.Duration) {
	p.LatencyWindow = append(p.LatencyWindow, d)
	if len(p.LatencyWindow) > proxyLatencyWindowSize {
		p.LatencyWindow = p.LatencyWindow[len(p.LatencyWindow)-proxyLatencyWindowSize:]
	}
}

// AverageLatency returns the mean of the current latency window and the
// sample count backing it.
func (p *Proxy) AverageLatency() (avg time.Duration, samples int) {
	if len(p.LatencyWindow) == 0 {
		return 0, 0
	}
	var total time.Duration
	for _, d := range p.LatencyWindow {
		total += d
	}
	return total / time.Duration(len(p.LatencyWindow)), len(p.LatencyWindow)
}

// NeedsRotation reports whether this proxy has crossed one of the
// rotation triggers: sustained high latency, a streak of empty visits, or
// an explicit IP ban.
func (p *Proxy) NeedsRotation(emptyVisitStreak int, banned bool) bool {
	if banned {
		return true
	}
	if emptyVisitStreak > 20 {
		return true
	}
	avg, samples := p.AverageLatency()
	return samples >= 10 && avg > 10*time.Second
}

// CanRotateNow enforces the 180-second minimum interval between circuit
// rotations for this proxy.
func (p *Proxy) CanRotateNow(now time.Time) bool {
	return now.Sub(p.LastRotatedAt) >= 180*time.Second
}
