package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/overwatch-scan/overwatch/internal/domain"
	"github.com/overwatch-scan/overwatch/internal/geo"
	"github.com/overwatch-scan/overwatch/internal/security"
)

func TestCatalogRoundTrip_Unsigned(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	spawns := []domain.Spawn{{ID: "a", OffsetInHourS: 10, Point: geo.Point{Lat: 1, Lon: 2}}}
	mysteries := []domain.Mystery{{Point: geo.Point{Lat: 3, Lon: 4}}}

	if err := s.SaveCatalog(spawns, mysteries); err != nil {
		t.Fatalf("SaveCatalog() error: %v", err)
	}
	gotSpawns, gotMysteries, ok, err := s.LoadCatalog()
	if err != nil || !ok {
		t.Fatalf("LoadCatalog() = %v, %v, %v, want ok", gotSpawns, ok, err)
	}
	if len(gotSpawns) != 1 || gotSpawns[0].ID != "a" {
		t.Fatalf("LoadCatalog() spawns = %+v", gotSpawns)
	}
	if len(gotMysteries) != 1 {
		t.Fatalf("LoadCatalog() mysteries = %+v", gotMysteries)
	}
}

func TestLoadCatalog_MissingFileIsNotAnError(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	_, _, ok, err := s.LoadCatalog()
	if err != nil || ok {
		t.Fatalf("LoadCatalog() on empty dir = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestAccountsRoundTrip_Signed(t *testing.T) {
	kp, err := security.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	dir := t.TempDir()
	s := NewStore(dir, kp)

	accounts := []domain.Account{{Username: "u1"}, {Username: "u2"}}
	if err := s.SaveAccounts(accounts); err != nil {
		t.Fatalf("SaveAccounts() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "accounts.gob.sig")); err != nil {
		t.Fatalf("signature sidecar should exist: %v", err)
	}

	got, ok, err := s.LoadAccounts()
	if err != nil || !ok || len(got) != 2 {
		t.Fatalf("LoadAccounts() = %+v, %v, %v", got, ok, err)
	}
}

func TestLoadAccounts_TamperedSignatureIsRejected(t *testing.T) {
	kp, _ := security.GenerateKeypair()
	dir := t.TempDir()
	s := NewStore(dir, kp)

	if err := s.SaveAccounts([]domain.Account{{Username: "u1"}}); err != nil {
		t.Fatalf("SaveAccounts() error: %v", err)
	}

	sigPath := filepath.Join(dir, "accounts.gob.sig")
	if err := os.WriteFile(sigPath, []byte("00"), 0600); err != nil {
		t.Fatalf("corrupt signature: %v", err)
	}

	_, _, err := s.LoadAccounts()
	if !errors.Is(err, domain.ErrSnapshotCorrupt) {
		t.Fatalf("LoadAccounts() error = %v, want ErrSnapshotCorrupt", err)
	}
}

func TestLoad_MissingSignatureSidecarIsTolerated(t *testing.T) {
	// A snapshot written by an unsigned Store must still load under a
	// signer, so upgrading an existing install doesn't strand its state.
	dir := t.TempDir()
	unsigned := NewStore(dir, nil)
	if err := unsigned.SaveCatalog([]domain.Spawn{{ID: "a"}}, nil); err != nil {
		t.Fatalf("SaveCatalog() error: %v", err)
	}

	kp, _ := security.GenerateKeypair()
	signed := NewStore(dir, kp)
	spawns, _, ok, err := signed.LoadCatalog()
	if err != nil || !ok || len(spawns) != 1 {
		t.Fatalf("LoadCatalog() = %+v, %v, %v", spawns, ok, err)
	}
}
