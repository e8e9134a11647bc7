package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/overwatch-scan/overwatch/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func fullCatalog() int { return 42 }

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	c := NewChecker(db, dataDir, fullCatalog)
	if c == nil {
		t.Fatal("NewChecker() returned nil")
	}
	if len(c.checks) != 3 {
		t.Errorf("checks = %d, want 3", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	c := NewChecker(db, dataDir, fullCatalog)
	ctx := context.Background()
	c.runAll(ctx)

	statuses := c.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Statuses() = %d, want 3", len(statuses))
	}

	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
}

func TestChecker_IsHealthy_AllPass(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	c := NewChecker(db, dataDir, fullCatalog)
	c.runAll(context.Background())

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	c := NewChecker(db, dataDir, fullCatalog)

	// Before any run, there are no statuses — IsHealthy returns true (vacuously)
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_SQLiteCheck(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	c := NewChecker(db, dataDir, fullCatalog)
	c.runAll(context.Background())

	statuses := c.Statuses()
	found := false
	for _, s := range statuses {
		if s.Name == "sqlite" {
			found = true
			if !s.Healthy {
				t.Errorf("sqlite check should be healthy")
			}
		}
	}
	if !found {
		t.Error("sqlite check not found in statuses")
	}
}

func TestChecker_DataDirCheck(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	c := NewChecker(db, dataDir, fullCatalog)
	c.runAll(context.Background())

	statuses := c.Statuses()
	for _, s := range statuses {
		if s.Name == "data_dir" {
			if !s.Healthy {
				t.Errorf("data_dir check should be healthy")
			}
		}
	}
}

func TestChecker_DataDirCheck_Missing(t *testing.T) {
	db := newTestDB(t)
	dataDir := filepath.Join(t.TempDir(), "nonexistent")

	c := NewChecker(db, dataDir, fullCatalog)
	c.runAll(context.Background())

	statuses := c.Statuses()
	for _, s := range statuses {
		if s.Name == "data_dir" {
			if s.Healthy {
				t.Error("data_dir should fail when the directory doesn't exist")
			}
		}
	}
}

func TestChecker_DataDirCheck_FileNotDir(t *testing.T) {
	db := newTestDB(t)
	dataDir := filepath.Join(t.TempDir(), "data")
	os.WriteFile(dataDir, []byte("not a dir"), 0644)

	c := NewChecker(db, dataDir, fullCatalog)
	c.runAll(context.Background())

	statuses := c.Statuses()
	for _, s := range statuses {
		if s.Name == "data_dir" {
			if s.Healthy {
				t.Error("data_dir should fail when path is a file")
			}
		}
	}
}

func TestChecker_CatalogFreshnessCheck_Empty(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	c := NewChecker(db, dataDir, func() int { return 0 })
	c.runAll(context.Background())

	statuses := c.Statuses()
	for _, s := range statuses {
		if s.Name == "catalog_freshness" {
			if s.Healthy {
				t.Error("catalog_freshness should fail when the catalog is empty")
			}
		}
	}
}

func TestChecker_CatalogFreshnessCheck_NilFunc(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	c := NewChecker(db, dataDir, nil)
	c.runAll(context.Background())

	if !c.IsHealthy() {
		t.Error("catalog_freshness should pass (no-op) when no CatalogLenFunc is wired")
	}
}

func TestChecker_CustomCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{
				Name: "always_pass",
				CheckFn: func(ctx context.Context) error {
					return nil
				},
			},
		},
	}

	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if !statuses[0].Healthy {
		t.Error("always_pass check should be healthy")
	}
}

func TestChecker_FailingCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{
				Name: "always_fail",
				CheckFn: func(ctx context.Context) error {
					return os.ErrPermission
				},
			},
		},
	}

	c.runAll(context.Background())

	statuses := c.Statuses()
	if statuses[0].Healthy {
		t.Error("always_fail check should not be healthy")
	}
	if statuses[0].Error == "" {
		t.Error("error message should be populated")
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), fullCatalog)
	c.runAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()

	// Verify it's a copy, not the same slice
	if len(s1) > 0 {
		s1[0].Healthy = false
		if !s2[0].Healthy {
			t.Error("Statuses() should return a copy, not a reference")
		}
	}
}
