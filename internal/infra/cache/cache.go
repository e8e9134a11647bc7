// Package cache provides the in-memory de-duplication caches used to
// avoid redundant inserts into the persistence pipeline: SightingCache for
// regular wild encounters and LongspawnCache for extended-lifetime ones.
//
// Both are TTL-keyed maps guarded by a mutex; expired entries are swept
// by CleanExpired when the persistence pipeline is told to clean caches.
// Plain expiry is the only eviction: the database's uniqueness
// constraint backstops any cache miss, so no pressure-based policy is
// needed.
package cache

import (
	"sync"
	"time"

	"github.com/overwatch-scan/overwatch/internal/domain"
)

type entry struct {
	expiresAt time.Time
}

// SightingCache de-dups wild encounters by domain.SightingKey and tracks,
// per hour, which spawn IDs have already been observed.
type SightingCache struct {
	mu      sync.Mutex
	entries map[domain.SightingKey]entry
	spawns  map[string]bool // spawn IDs observed this hour
}

// NewSightingCache returns an empty sighting cache.
func NewSightingCache() *SightingCache {
	return &SightingCache{
		entries: make(map[domain.SightingKey]entry),
		spawns:  make(map[string]bool),
	}
}

// Contains reports whether key is present and not yet expired. O(1).
func (c *SightingCache) Contains(key domain.SightingKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	return time.Now().Before(e.expiresAt)
}

// Add records key with the given expiry.
func (c *SightingCache) Add(key domain.SightingKey, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{expiresAt: expiresAt}
}

// MarkSpawnObserved records that spawnID produced a sighting this hour.
func (c *SightingCache) MarkSpawnObserved(spawnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawns[spawnID] = true
}

// SpawnObserved reports whether spawnID has already produced a sighting
// this hour.
func (c *SightingCache) SpawnObserved(spawnID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawns[spawnID]
}

// ResetHour clears the per-hour observed-spawn set. Called by the
// scheduler when the hour baseline advances.
func (c *SightingCache) ResetHour() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawns = make(map[string]bool)
}

// CleanExpired drops entries whose expiry has passed. The pipeline
// consumer invokes it on the supervisory loop's 900s CleanCaches signal.
func (c *SightingCache) CleanExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for k, e := range c.entries {
		if e.expiresAt.Before(now) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live entries, for diagnostics.
func (c *SightingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// LongspawnCache de-dups extended-lifetime encounters, keyed analogously
// to SightingCache but without the per-hour observed-spawn bookkeeping.
type LongspawnCache struct {
	mu      sync.Mutex
	entries map[domain.SightingKey]entry
}

// NewLongspawnCache returns an empty long-spawn cache.
func NewLongspawnCache() *LongspawnCache {
	return &LongspawnCache{entries: make(map[domain.SightingKey]entry)}
}

// Contains reports whether key is present and not yet expired.
func (c *LongspawnCache) Contains(key domain.SightingKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	return time.Now().Before(e.expiresAt)
}

// Add records key with the given expiry.
func (c *LongspawnCache) Add(key domain.SightingKey, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{expiresAt: expiresAt}
}

// CleanExpired drops entries whose expiry has passed.
func (c *LongspawnCache) CleanExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for k, e := range c.entries {
		if e.expiresAt.Before(now) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live entries.
func (c *LongspawnCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
