package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// MapClientFactory constructs a MapClient bound to one account for one
// worker. The caller of daemon.New supplies this, since the upstream
// client's wire protocol is an external collaborator consumed only
// through this interface — this repo never implements the protocol
// itself.
type MapClientFactory func(account Account) MapClient

// MapClient abstracts the upstream geospatial API used to scan a point.
// A worker owns exactly one MapClient, bound to one account, for its
// lifetime.
type MapClient interface {
	// SetAuthentication configures the client to authenticate as the given
	// account on the next call requiring a session.
	SetAuthentication(account Account) error

	// SetPosition updates the client's simulated device position.
	SetPosition(lat, lon float64, altitude float64) error

	// SetProxy rebinds the client's outbound connection to a proxy.
	SetProxy(proxy *Proxy) error

	// GetMapObjects fetches nearby spawns and forts around the client's
	// current position. cellIDs are the S2-style cell identifiers covering
	// that position, precomputed off the I/O path and cached by rounded
	// coordinate.
	GetMapObjects(ctx context.Context, cellIDs []uint64) (MapObjects, error)

	// CheckChallenge reports whether the account has been served a
	// captcha challenge and, if so, a URL to solve it.
	CheckChallenge(ctx context.Context) (challengeURL string, needed bool, err error)

	// VerifyChallenge submits a solved captcha response token.
	VerifyChallenge(ctx context.Context, responseToken string) error
}

// MapObjects is the raw result of a single scan call, prior to
// classification into encounters and fort sightings.
type MapObjects struct {
	Encounters []Sighting
	Forts      []FortSighting
	Status     string // upstream status string, compared against known bad statuses
}

// CaptchaSolver abstracts an external (often human-in-the-loop or paid
// third-party) captcha solving service.
type CaptchaSolver interface {
	// Solve submits a challenge URL and blocks until a response token is
	// produced or ctx is cancelled.
	Solve(ctx context.Context, challengeURL string) (responseToken string, err error)
}

// ControlSocket abstracts the proxy manager's circuit-rotation control
// channel (e.g. a Tor control port or VPN provider API).
type ControlSocket interface {
	// RotateCircuit requests a new exit circuit for the given proxy.
	RotateCircuit(ctx context.Context, proxy *Proxy) error
}

// Notifier abstracts the external transport used to publish interesting
// sightings (push notification service, microblogging API, webhook, ...).
type Notifier interface {
	Notify(ctx context.Context, event NotifyEvent) error
}

// SightingStore abstracts persistent storage for scan results.
type SightingStore interface {
	UpsertSighting(s Sighting) (inserted bool, err error)
	UpsertFortSighting(f FortSighting) (inserted bool, err error)
	UpsertLongSpawn(s Sighting) error
	UpsertAccount(a Account) error
	ListAccounts() ([]Account, error)
	UpsertProxy(p Proxy) error
	ListProxies() ([]Proxy, error)
	GetNodeInfo(key string) (string, bool, error)
	SetNodeInfo(key, value string) error
}

// SpawnCatalog abstracts the read side of the known-spawn-point index.
type SpawnCatalog interface {
	Len() int
	IterInOffsetOrder(afterSeconds int) []Spawn
	AfterLast(nowWithinHourS int) bool
	GetMysteries(limit int) []Mystery
	MysteriesCount() int
	ParkMystery(m Mystery)
	GetStartPoint(nowWithinHourS int) (Spawn, bool)
}
