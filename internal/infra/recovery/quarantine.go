package recovery

import (
	"sync"
	"time"
)

// QuarantineReason explains why an account was pulled out of rotation.
type QuarantineReason string

const (
	QuarantineEmptyVisits QuarantineReason = "empty_visits" // >20 consecutive empty visits
	QuarantineBadLogin    QuarantineReason = "bad_login"    // auth failure / invalid credentials
	QuarantineBanned      QuarantineReason = "banned"       // explicit account-ban status code
)

// QuarantineRecord tracks one quarantine period for an account.
type QuarantineRecord struct {
	AccountID string
	Reason    QuarantineReason
	StartedAt time.Time
	ExpiresAt time.Time
	Released  bool
}

// IsActive reports whether the quarantine is currently in effect.
func (qr QuarantineRecord) IsActive(now time.Time) bool {
	return !qr.Released && now.Before(qr.ExpiresAt)
}

// QuarantineConfig sets quarantine durations and ban escalation.
type QuarantineConfig struct {
	SwapCooldown     time.Duration // cool-down after a routine account swap (default 10s)
	BadLoginDuration time.Duration // quarantine after bad-credentials (default 1h)
	BanDuration      time.Duration // quarantine after an explicit ban or repeat offenses (default 30d)
	BanWindowDays    int           // rolling window for repeat-offense counting (default 7)
	BanThreshold     int           // quarantines within the window that escalate to a ban (default 3)
	FailureThreshold int           // consecutive empty-visit swaps before quarantine (default 3)
}

// DefaultQuarantineConfig carries the standard 10s swap cool-down and a
// conservative escalation policy for repeat bad-login/ban offenders.
func DefaultQuarantineConfig() QuarantineConfig {
	return QuarantineConfig{
		SwapCooldown:     10 * time.Second,
		BadLoginDuration: 1 * time.Hour,
		BanDuration:      30 * 24 * time.Hour,
		BanWindowDays:    7,
		BanThreshold:     3,
		FailureThreshold: 3,
	}
}

// QuarantineManager tracks per-account quarantine history with escalation:
// repeated bad-login/empty-visit offenses within BanWindowDays promote a
// further quarantine to a full ban.
type QuarantineManager struct {
	mu       sync.Mutex
	config   QuarantineConfig
	records  map[string][]QuarantineRecord
	failures map[string]int
	now      func() time.Time
}

// NewQuarantineManager creates a quarantine manager.
func NewQuarantineManager(cfg QuarantineConfig) *QuarantineManager {
	return &QuarantineManager{
		config:   cfg,
		records:  make(map[string][]QuarantineRecord),
		failures: make(map[string]int),
		now:      time.Now,
	}
}

// RecordEmptyVisitSwap increments the consecutive-empty-visit swap count
// for accountID. Once it reaches FailureThreshold, the account is
// quarantined and the counter resets.
func (qm *QuarantineManager) RecordEmptyVisitSwap(accountID string) *QuarantineRecord {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	qm.failures[accountID]++
	if qm.failures[accountID] >= qm.config.FailureThreshold {
		qm.failures[accountID] = 0
		return qm.quarantineLocked(accountID, QuarantineEmptyVisits, qm.config.BadLoginDuration)
	}
	return nil
}

// RecordBadLogin immediately quarantines an account for bad credentials.
func (qm *QuarantineManager) RecordBadLogin(accountID string) *QuarantineRecord {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.quarantineLocked(accountID, QuarantineBadLogin, qm.config.BadLoginDuration)
}

// RecordBan immediately quarantines an account for an explicit ban
// response, for the full ban duration.
func (qm *QuarantineManager) RecordBan(accountID string) *QuarantineRecord {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.quarantineLocked(accountID, QuarantineBanned, qm.config.BanDuration)
}

// IsQuarantined reports whether accountID is currently quarantined.
func (qm *QuarantineManager) IsQuarantined(accountID string) bool {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	now := qm.now()
	for _, r := range qm.records[accountID] {
		if r.IsActive(now) {
			return true
		}
	}
	return false
}

// ActiveQuarantine returns the active quarantine record for accountID, if any.
func (qm *QuarantineManager) ActiveQuarantine(accountID string) *QuarantineRecord {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	now := qm.now()
	for _, r := range qm.records[accountID] {
		if r.IsActive(now) {
			rec := r
			return &rec
		}
	}
	return nil
}

// Release manually releases accountID from quarantine (e.g. after a
// human reviews a captcha-flagged account).
func (qm *QuarantineManager) Release(accountID string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	for i := range qm.records[accountID] {
		qm.records[accountID][i].Released = true
	}
	qm.failures[accountID] = 0
}

// RecentQuarantineCount returns how many quarantines accountID has
// incurred within the ban window.
func (qm *QuarantineManager) RecentQuarantineCount(accountID string) int {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.recentCountLocked(accountID)
}

func (qm *QuarantineManager) quarantineLocked(accountID string, reason QuarantineReason, duration time.Duration) *QuarantineRecord {
	now := qm.now()

	recentCount := qm.recentCountLocked(accountID)
	if recentCount+1 >= qm.config.BanThreshold {
		duration = qm.config.BanDuration
	}

	record := QuarantineRecord{
		AccountID: accountID,
		Reason:    reason,
		StartedAt: now,
		ExpiresAt: now.Add(duration),
	}
	qm.records[accountID] = append(qm.records[accountID], record)
	return &record
}

func (qm *QuarantineManager) recentCountLocked(accountID string) int {
	now := qm.now()
	windowStart := now.AddDate(0, 0, -qm.config.BanWindowDays)
	count := 0
	for _, r := range qm.records[accountID] {
		if r.StartedAt.After(windowStart) {
			count++
		}
	}
	return count
}
