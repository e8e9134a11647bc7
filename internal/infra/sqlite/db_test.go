package sqlite

import (
	"testing"

	"github.com/overwatch-scan/overwatch/internal/domain"
	"github.com/overwatch-scan/overwatch/internal/geo"
)

func TestUpsertSighting_DedupByCompositeKey(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	s1 := domain.Sighting{EncounterID: "e1", SpeciesID: 25, ExpireTimestamp: 1_700_000_121, Lat: 0.1, Lon: 0.1}
	s1.NormalizedTimestamp = domain.NormalizeTimestamp(s1.ExpireTimestamp)

	inserted, err := d.UpsertSighting(s1)
	if err != nil {
		t.Fatalf("UpsertSighting: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to succeed")
	}

	s2 := domain.Sighting{EncounterID: "e2", SpeciesID: 25, ExpireTimestamp: 1_700_000_115, Lat: 0.1, Lon: 0.1}
	s2.NormalizedTimestamp = domain.NormalizeTimestamp(s2.ExpireTimestamp)

	inserted, err = d.UpsertSighting(s2)
	if err != nil {
		t.Fatalf("UpsertSighting (dup): %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate to be suppressed by uniqueness constraint")
	}
}

func TestUpsertFortSighting_OnlyReplacesWhenNewer(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	f1 := domain.FortSighting{ExternalID: "fort1", Prestige: 100, LastModified: 1000}
	if _, err := d.UpsertFortSighting(f1); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	stale := domain.FortSighting{ExternalID: "fort1", Prestige: 999, LastModified: 500}
	replaced, err := d.UpsertFortSighting(stale)
	if err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	if replaced {
		t.Fatal("a stale last_modified must not replace the stored row")
	}

	fresh := domain.FortSighting{ExternalID: "fort1", Prestige: 50, LastModified: 2000}
	replaced, err = d.UpsertFortSighting(fresh)
	if err != nil {
		t.Fatalf("fresh upsert: %v", err)
	}
	if !replaced {
		t.Fatal("a newer last_modified must replace the stored row")
	}
}

func TestAccountRoundTrip(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	a := domain.Account{Username: "u1", Password: "p1", Provider: "ptc", AuthState: domain.AccountReady}
	if err := d.UpsertAccount(a); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	got, err := d.ListAccounts()
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(got) != 1 || got[0].Username != "u1" {
		t.Fatalf("ListAccounts = %+v, want one account u1", got)
	}
}

func TestReplaceSpawns_SwapsWholeTable(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	first := []domain.Spawn{{ID: "a", OffsetInHourS: 10, Point: geo.Point{Lat: 1, Lon: 2}}}
	if err := d.ReplaceSpawns(first); err != nil {
		t.Fatalf("ReplaceSpawns: %v", err)
	}
	got, err := d.ListSpawns()
	if err != nil || len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("ListSpawns = %+v, %v, want one spawn a", got, err)
	}

	second := []domain.Spawn{{ID: "b", OffsetInHourS: 20, Point: geo.Point{Lat: 3, Lon: 4}}}
	if err := d.ReplaceSpawns(second); err != nil {
		t.Fatalf("ReplaceSpawns (second): %v", err)
	}
	got, err = d.ListSpawns()
	if err != nil || len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("ListSpawns after replace = %+v, %v, want only spawn b", got, err)
	}
}

func TestNodeInfo_MissingKeyIsNotError(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	_, ok, err := d.GetNodeInfo("missing")
	if err != nil {
		t.Fatalf("GetNodeInfo: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing key")
	}

	if err := d.SetNodeInfo("hour_baseline", "3600"); err != nil {
		t.Fatalf("SetNodeInfo: %v", err)
	}
	v, ok, err := d.GetNodeInfo("hour_baseline")
	if err != nil || !ok || v != "3600" {
		t.Fatalf("GetNodeInfo = (%q, %v, %v), want (3600, true, nil)", v, ok, err)
	}
}
