// Package health runs periodic checks against the engine's own
// dependencies — the database connection, the data directory snapshots
// are written to, and the spawn catalog's freshness — with best-effort
// auto-recovery hooks.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/overwatch-scan/overwatch/internal/infra/metrics"
	"github.com/overwatch-scan/overwatch/internal/infra/sqlite"
)

// Check defines a single health check with an optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// CatalogLenFunc reports the spawn catalog's current size, used by the
// catalog-freshness check.
type CatalogLenFunc func() int

// NewChecker creates a health checker covering the database connection,
// the data directory snapshots and logs are written under, and the spawn
// catalog's freshness.
func NewChecker(db *sqlite.DB, dataDir string, catalogLen CatalogLenFunc) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name:    "sqlite",
				CheckFn: func(ctx context.Context) error { return db.Ping() },
				RecoverFn: func(ctx context.Context) error {
					return nil // SQLite's WAL mode recovers on its own; nothing to retry here
				},
			},
			{
				Name:    "data_dir",
				CheckFn: func(ctx context.Context) error { return checkDataDir(dataDir) },
				RecoverFn: func(ctx context.Context) error {
					return os.MkdirAll(dataDir, 0700)
				},
			},
			{
				Name: "catalog_freshness",
				CheckFn: func(ctx context.Context) error {
					if catalogLen == nil {
						return nil
					}
					if catalogLen() == 0 {
						return fmt.Errorf("spawn catalog is empty — bootstrap or a catalog reload is needed")
					}
					return nil
				},
				RecoverFn: func(ctx context.Context) error {
					return nil // recovery is the launch loop's own mystery-dispatch/bootstrap path
				},
			},
		},
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{Name: check.Name, CheckedAt: time.Now()}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
			if check.RecoverFn != nil {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("data dir %s does not exist", dir)
		}
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
