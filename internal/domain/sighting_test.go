package domain

import "testing"

// ─── Normalization ──────────────────────────────────────────────────────────

func TestNormalizeTimestamp_Idempotent(t *testing.T) {
	tests := []int64{0, 1, 119, 120, 121, 1_700_000_115, 1_700_000_121}
	for _, ts := range tests {
		once := NormalizeTimestamp(ts)
		twice := NormalizeTimestamp(once)
		if once != twice {
			t.Errorf("NormalizeTimestamp not idempotent for %d: once=%d twice=%d", ts, once, twice)
		}
	}
}

func TestNormalizeTimestamp_FloorBounds(t *testing.T) {
	tests := []int64{0, 1, 119, 120, 121, 1_700_000_115, 1_700_000_121}
	for _, ts := range tests {
		norm := NormalizeTimestamp(ts)
		if norm > ts {
			t.Errorf("NormalizeTimestamp(%d) = %d, want <= input", ts, norm)
		}
		if ts >= norm+120 {
			t.Errorf("NormalizeTimestamp(%d) = %d, window exceeded (want < %d)", ts, norm, norm+120)
		}
	}
}

// Two sightings whose expire timestamps fall in the same 120s bucket at
// the same species/point dedup to the same key even though their raw
// expire timestamps differ.
func TestSighting_SharedNormalizedWindowDedups(t *testing.T) {
	first := Sighting{
		SpeciesID:       25,
		ExpireTimestamp: 1_700_000_121,
		Lat:             0.1,
		Lon:             0.1,
	}
	first.NormalizedTimestamp = NormalizeTimestamp(first.ExpireTimestamp)

	second := Sighting{
		SpeciesID:       25,
		ExpireTimestamp: 1_700_000_115,
		Lat:             0.1,
		Lon:             0.1,
	}
	second.NormalizedTimestamp = NormalizeTimestamp(second.ExpireTimestamp)

	const wantNorm = 1_700_000_040
	if first.NormalizedTimestamp != wantNorm {
		t.Fatalf("first.NormalizedTimestamp = %d, want %d", first.NormalizedTimestamp, wantNorm)
	}
	if second.NormalizedTimestamp != wantNorm {
		t.Fatalf("second.NormalizedTimestamp = %d, want %d", second.NormalizedTimestamp, wantNorm)
	}
	if first.DedupKey() != second.DedupKey() {
		t.Errorf("DedupKey() differs between sightings that should collide: %+v vs %+v", first.DedupKey(), second.DedupKey())
	}
}

func TestSighting_DedupKey_DiffersOnAnyComponent(t *testing.T) {
	base := Sighting{SpeciesID: 1, Lat: 1, Lon: 1, NormalizedTimestamp: 100}
	variants := []Sighting{
		{SpeciesID: 2, Lat: 1, Lon: 1, NormalizedTimestamp: 100},
		{SpeciesID: 1, Lat: 2, Lon: 1, NormalizedTimestamp: 100},
		{SpeciesID: 1, Lat: 1, Lon: 2, NormalizedTimestamp: 100},
		{SpeciesID: 1, Lat: 1, Lon: 1, NormalizedTimestamp: 220},
	}
	for i, v := range variants {
		if base.DedupKey() == v.DedupKey() {
			t.Errorf("variant %d: DedupKey() unexpectedly equal to base", i)
		}
	}
}

// ─── Long-spawn classification ──────────────────────────────────────────────

func TestIsLongSpawn_Boundaries(t *testing.T) {
	tests := []struct {
		ms   int
		long bool
	}{
		{0, false},
		{3_600_000, false},
		{1, false},
		{3_600_001, true},
		{-1, true},
		{LongSpawnSentinelSeconds * 1000, false},
	}
	for _, tt := range tests {
		if got := IsLongSpawn(tt.ms); got != tt.long {
			t.Errorf("IsLongSpawn(%d) = %v, want %v", tt.ms, got, tt.long)
		}
	}
}
