package domain

import "github.com/overwatch-scan/overwatch/internal/geo"

// Spawn is a geographic point with a known within-hour reactivation offset.
// Immutable after catalog load.
type Spawn struct {
	ID             string
	Point          geo.Point
	OffsetInHourS  int // seconds since the top of the hour this spawn activates
}

// Mystery is a point with no known schedule, visited opportunistically to
// absorb idle worker capacity.
type Mystery struct {
	Point geo.Point
}
