package domain

// LongSpawnSentinelSeconds is the stand-in lifetime recorded for an
// encounter whose time_till_hidden could not be determined.
const LongSpawnSentinelSeconds = 901

// NormalizeTimestamp buckets an expiry timestamp into 120-second windows.
// Idempotent: NormalizeTimestamp(NormalizeTimestamp(t)) == NormalizeTimestamp(t).
func NormalizeTimestamp(expireTimestamp int64) int64 {
	return (expireTimestamp / 120) * 120
}

// Sighting is a time-bounded observation of a transient entity (a wild
// encounter) at a point.
//
// Invariant: at most one row exists per (SpeciesID, NormalizedTimestamp,
// Lat, Lon) in storage and in the cache.
type Sighting struct {
	EncounterID         string
	SpeciesID           int
	SpawnID             string
	ExpireTimestamp     int64
	NormalizedTimestamp int64
	Lat, Lon            float64
	TimeTillHiddenS     int
}

// DedupKey returns the composite uniqueness key for this sighting.
func (s Sighting) DedupKey() SightingKey {
	return SightingKey{
		SpeciesID: s.SpeciesID,
		NormTS:    s.NormalizedTimestamp,
		Lat:       s.Lat,
		Lon:       s.Lon,
	}
}

// SightingKey is the composite de-dup key for sightings and long-spawns.
type SightingKey struct {
	SpeciesID int
	NormTS    int64
	Lat, Lon  float64
}

// IsLongSpawn reports whether a wild encounter's time-till-hidden falls
// outside the short-lived window [0, 3_600_000] ms, i.e. it should be
// classified as a long-spawn rather than a regular sighting.
func IsLongSpawn(timeTillHiddenMS int) bool {
	return timeTillHiddenMS < 0 || timeTillHiddenMS > 3_600_000
}
