package cache

import (
	"testing"
	"time"

	"github.com/overwatch-scan/overwatch/internal/domain"
)

func TestSightingCache_SharedNormalizedWindowCollides(t *testing.T) {
	c := NewSightingCache()

	s1 := domain.Sighting{SpeciesID: 25, ExpireTimestamp: 1_700_000_121, Lat: 0.1, Lon: 0.1}
	s1.NormalizedTimestamp = domain.NormalizeTimestamp(s1.ExpireTimestamp)
	if s1.NormalizedTimestamp != 1_700_000_040 {
		t.Fatalf("normalized_ts = %d, want 1_700_000_040", s1.NormalizedTimestamp)
	}

	key := s1.DedupKey()
	if c.Contains(key) {
		t.Fatal("cache should be empty before first insert")
	}
	c.Add(key, time.Now().Add(time.Hour))
	if !c.Contains(key) {
		t.Fatal("expected cache hit after insert")
	}

	s2 := domain.Sighting{SpeciesID: 25, ExpireTimestamp: 1_700_000_115, Lat: 0.1, Lon: 0.1}
	s2.NormalizedTimestamp = domain.NormalizeTimestamp(s2.ExpireTimestamp)
	if s2.DedupKey() != key {
		t.Fatal("s2 should collide with s1's dedup key — re-insert must be suppressed")
	}
}

func TestSightingCache_CleanExpired(t *testing.T) {
	c := NewSightingCache()
	now := time.Now()
	c.Add(domain.SightingKey{SpeciesID: 1}, now.Add(-time.Minute))
	c.Add(domain.SightingKey{SpeciesID: 2}, now.Add(time.Hour))

	dropped := c.CleanExpired(now)
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestSightingCache_SpawnObserved(t *testing.T) {
	c := NewSightingCache()
	if c.SpawnObserved("sp1") {
		t.Fatal("should not be observed yet")
	}
	c.MarkSpawnObserved("sp1")
	if !c.SpawnObserved("sp1") {
		t.Fatal("expected observed after mark")
	}
	c.ResetHour()
	if c.SpawnObserved("sp1") {
		t.Fatal("expected reset to clear observed set")
	}
}

func TestLongspawnCache_ContainsAndExpire(t *testing.T) {
	c := NewLongspawnCache()
	key := domain.SightingKey{SpeciesID: 7, NormTS: 100}
	c.Add(key, time.Now().Add(time.Hour))
	if !c.Contains(key) {
		t.Fatal("expected contains after add")
	}
	if c.CleanExpired(time.Now().Add(2 * time.Hour)) != 1 {
		t.Fatal("expected entry to be dropped once past expiry")
	}
}
