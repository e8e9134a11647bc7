// Package worker implements the account-bound scan agent: one worker binds
// exactly one account and an optional proxy, and performs sequential API
// visits to geographic points under a speed-constrained matcher's
// direction.
//
// The worker is explicit state plus context.Context-gated blocking
// calls: every long wait (login pacing, retry back-off, the network
// call itself) observes cancellation, and the busy lock serializes
// visits per worker.
package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/overwatch-scan/overwatch/internal/domain"
	"github.com/overwatch-scan/overwatch/internal/geo"
	"github.com/overwatch-scan/overwatch/internal/infra/metrics"
	"github.com/overwatch-scan/overwatch/internal/infra/pipeline"
	"golang.org/x/time/rate"
)

// State is one node of the visit state machine:
// INIT -> LOGIN -> READY -> VISITING -> READY, with side branches to
// CAPTCHA, IP_BANNED, BAD_LOGIN, THROTTLE, SWAPPING, and KILLED.
type State string

const (
	StateInit      State = "INIT"
	StateLogin     State = "LOGIN"
	StateReady     State = "READY"
	StateVisiting  State = "VISITING"
	StateCaptcha   State = "CAPTCHA"
	StateIPBanned  State = "IP_BANNED"
	StateBadLogin  State = "BAD_LOGIN"
	StateThrottle  State = "THROTTLE"
	StateSwapping  State = "SWAPPING"
	StateKilled    State = "KILLED"
)

// errorCode maps a State to the single-letter code the status display and
// domain.BadStatuses key off.
func (s State) errorCode() string {
	switch s {
	case StateCaptcha:
		return "C"
	case StateIPBanned:
		return "I"
	case StateBadLogin:
		return "L"
	case StateThrottle:
		return "T"
	case StateKilled:
		return "K"
	default:
		return ""
	}
}

const (
	visitMaxAttemptsDefault = 5
	fastSpeedMinGapS        = 10.0
	matcherSlackRatio       = 1.18
	emptyVisitSwapAt        = 20

	// visitJitterDegrees and visitJitterAltitudeM are the per-visit point
	// jitter applied before every API call when app simulation is on.
	visitJitterDegrees   = 1e-5
	visitJitterAltitudeM = 1.0
)

// LoginGate paces authentication across the whole worker pool: at most
// Limits.SimultaneousLogins may authenticate concurrently, and successive
// logins are spaced by a shared minimum gap. The gap is expressed as a
// token-bucket rate limiter rather than a hand-rolled sleep loop, since a
// limiter is the more direct way to say "at most one login every N
// seconds".
type LoginGate struct {
	limiter *rate.Limiter
	minGap  time.Duration
	sem     chan struct{}
}

// NewLoginGate returns a gate allowing up to simultaneousLogins concurrent
// authentications. Successive grants are spaced by a random gap in
// [minGap, 2*minGap): the limiter enforces the floor and Acquire adds the
// jitter on top.
func NewLoginGate(simultaneousLogins int, minGap time.Duration) *LoginGate {
	if simultaneousLogins < 1 {
		simultaneousLogins = 1
	}
	return &LoginGate{
		limiter: rate.NewLimiter(rate.Every(minGap), 1),
		minGap:  minGap,
		sem:     make(chan struct{}, simultaneousLogins),
	}
}

// Acquire blocks until both the concurrency slot and the pacing limiter
// admit a login attempt, or ctx is cancelled.
func (g *LoginGate) Acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := g.limiter.Wait(ctx); err != nil {
		<-g.sem
		return err
	}
	jitter := time.Duration(rand.Float64() * float64(g.minGap))
	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		<-g.sem
		return ctx.Err()
	}
	return nil
}

// Release frees the concurrency slot.
func (g *LoginGate) Release() { <-g.sem }

// Limits carries the subset of daemon.LimitsConfig the worker consults
// directly, kept as a plain value so this package does not import the
// daemon package (which would invert the dependency order).
type Limits struct {
	SpeedLimit     float64
	GiveUpKnownS   int
	GiveUpUnknownS int

	// MaxRetries bounds retryable attempts per visit; 0 falls back to
	// visitMaxAttemptsDefault.
	MaxRetries int

	// AppSimulation mirrors APP_SIMULATION: when true, each visit's point
	// is jittered before the call to imitate a real device's GPS noise;
	// when false, the exact point is queried.
	AppSimulation bool

	// Longspawn enables persisting extended-lifetime encounters; when
	// false they are classified but dropped.
	Longspawn bool
}

// Deps bundles the collaborators a worker threads visits through.
type Deps struct {
	Client    domain.MapClient
	Solver    domain.CaptchaSolver
	Pipeline  *pipeline.Pipeline
	Notifier  NotifyFunc
	LoginGate *LoginGate
	CellIDs   *CellIDTable
	Limits    Limits

	// NetworkLimiter bounds concurrent in-flight API calls across the
	// whole worker pool (NETWORK_THREADS), independent of each worker's
	// own one-visit-at-a-time busy lock. Nil means unbounded.
	NetworkLimiter *NetworkLimiter
}

// NetworkLimiter is a counting semaphore bounding concurrent upstream API
// calls pool-wide; NETWORK_THREADS sizes it.
type NetworkLimiter struct {
	sem chan struct{}
}

// NewNetworkLimiter returns a limiter admitting up to threads concurrent
// callers; threads <= 0 is treated as unbounded (nil limiter semantics).
func NewNetworkLimiter(threads int) *NetworkLimiter {
	if threads <= 0 {
		return nil
	}
	return &NetworkLimiter{sem: make(chan struct{}, threads)}
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (l *NetworkLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot acquired by Acquire. A no-op on a nil limiter.
func (l *NetworkLimiter) Release() {
	if l == nil {
		return
	}
	<-l.sem
}

// NotifyFunc is invoked once per qualifying encounter; the caller (the
// notifier package's Dedup + FrequencyController) decides whether to
// actually emit.
type NotifyFunc func(ctx context.Context, event domain.NotifyEvent)

// Worker is one account-bound scan agent.
type Worker struct {
	no   int
	deps Deps

	mu          sync.Mutex
	account     domain.Account
	proxy       *domain.Proxy
	state       State
	lastVisit   time.Time
	lastPoint   geo.Point
	everVisited bool
	totalSeen   int
	visits      int
	emptyVisits int
	lastSpeed   float64
	loggedIn    bool
	malformed   int
	afterSpawn  time.Duration // delta between dispatch and the spawn's scheduled activation

	busy   int32 // atomic: 0 = free, 1 = held
	killed int32 // atomic
}

// New returns a worker bound to account, idle and ready for assignment.
func New(no int, account domain.Account, proxy *domain.Proxy, deps Deps) *Worker {
	return &Worker{no: no, account: account, proxy: proxy, deps: deps, state: StateInit}
}

// BusyAcquireNonblocking attempts to claim the busy lock without blocking;
// the matcher must hold this lock for the entire duration of a visit
// before it is allowed to consider this worker a candidate again.
func (w *Worker) BusyAcquireNonblocking() bool {
	return atomic.CompareAndSwapInt32(&w.busy, 0, 1)
}

func (w *Worker) release() {
	atomic.StoreInt32(&w.busy, 0)
}

// Release frees the busy lock without performing a visit, as the matcher
// does when a claimed candidate fails the strict speed check.
func (w *Worker) Release() {
	w.release()
}

// Busy reports the current busy-lock state without acquiring it.
func (w *Worker) Busy() bool {
	return atomic.LoadInt32(&w.busy) == 1
}

// Killed reports whether Kill has been called on this worker.
func (w *Worker) Killed() bool {
	return atomic.LoadInt32(&w.killed) == 1
}

// Kill marks the worker for shutdown; in-flight visits observe this
// before their next retry sleep and return early.
func (w *Worker) Kill() {
	atomic.StoreInt32(&w.killed, 1)
	w.mu.Lock()
	w.state = StateKilled
	w.mu.Unlock()
}

// FastSpeed is the matcher's coarse eligibility check: it rejects a busy
// worker, a captcha-pending worker, or one visited less than
// fastSpeedMinGapS ago, and returns 1 for a worker that has never
// visited (so every idle worker is eligible for the very first spawn).
func (w *Worker) FastSpeed(point geo.Point) (float64, bool) {
	if w.Busy() || w.Killed() {
		return 0, false
	}
	w.mu.Lock()
	state := w.state
	lastVisit := w.lastVisit
	lastPoint := w.lastPoint
	everVisited := w.everVisited
	w.mu.Unlock()

	if state == StateCaptcha {
		return 0, false
	}
	if !everVisited {
		return 1, true
	}
	elapsed := time.Since(lastVisit).Seconds()
	if elapsed < fastSpeedMinGapS {
		return 0, false
	}
	return geo.SpeedMPH(lastPoint, point, elapsed), true
}

// AccurateSpeed recomputes travel speed precisely, called immediately
// after the matcher has acquired the busy lock (time has passed since the
// coarse score was taken). Returns 0 for a worker with no prior visit, and
// +Inf when no time has elapsed since the last visit, which the matcher's
// strict limit will reject.
func (w *Worker) AccurateSpeed(point geo.Point) float64 {
	w.mu.Lock()
	lastVisit := w.lastVisit
	lastPoint := w.lastPoint
	everVisited := w.everVisited
	w.mu.Unlock()

	if !everVisited {
		return 0
	}
	elapsed := time.Since(lastVisit).Seconds()
	if elapsed <= 0 {
		return math.Inf(1)
	}
	return geo.SpeedMPH(lastPoint, point, elapsed)
}

// WithinMatcherLimit reports whether speed is admissible for the coarse
// (fast) check, which tolerates a 18% overshoot of the configured limit.
func (w *Worker) WithinMatcherLimit(speedMPH float64) bool {
	return speedMPH <= w.deps.Limits.SpeedLimit*matcherSlackRatio
}

// WithinStrictLimit reports whether speed is admissible for the accurate
// check.
func (w *Worker) WithinStrictLimit(speedMPH float64) bool {
	return speedMPH <= w.deps.Limits.SpeedLimit
}

// Snapshot returns a read-only view of the worker's current state for the
// status renderer and viewer surface.
func (w *Worker) Snapshot() domain.WorkerSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return domain.WorkerSnapshot{
		WorkerNo:        w.no,
		Username:        w.account.Username,
		Lat:             w.lastPoint.Lat,
		Lon:             w.lastPoint.Lon,
		ErrorCode:       w.state.errorCode(),
		TotalSeen:       w.totalSeen,
		Visits:          w.visits,
		Speed:           w.lastSpeed,
		EmptyVisitCount: w.emptyVisits,
		Busy:            w.Busy(),
		AfterSpawnS:     w.afterSpawn.Seconds(),
	}
}

// SetAfterSpawn records the delta between dispatch time and the spawn's
// scheduled activation; the scheduler calls this immediately after the
// matcher returns and before Visit.
func (w *Worker) SetAfterSpawn(d time.Duration) {
	w.mu.Lock()
	w.afterSpawn = d
	w.mu.Unlock()
}

// Account returns the account currently bound to this worker.
func (w *Worker) Account() domain.Account {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.account
}

// Proxy returns the proxy currently bound to this worker, if any.
func (w *Worker) Proxy() *domain.Proxy {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.proxy
}

// visitOutcome classifies the terminal condition of a single attempt.
type visitOutcome int

const (
	outcomeSuccess visitOutcome = iota
	outcomeRetryable
	outcomeCaptcha
	outcomeBanned
	outcomeIPBanned
	outcomeBadLogin
	outcomeThrottled
	outcomeKilled
)

// Visit performs one scan of point: login if needed, fetch map objects,
// classify and dispatch encounters/forts, and update health counters. It
// requires the caller to have already acquired the busy lock via
// BusyAcquireNonblocking (the matcher's job); Visit releases it on every
// return path.
//
// mustVisit is true for bootstrap dispatches (see BootstrapVisit). Visit
// does not consult it and performs no speed gating of its own; any such
// check is the caller's, made before the busy lock is handed over.
func (w *Worker) Visit(ctx context.Context, point geo.Point, mustVisit bool) bool {
	defer w.release()

	if w.Killed() {
		return false
	}

	w.mu.Lock()
	w.state = StateVisiting
	w.mu.Unlock()

	started := time.Now()
	ok := false
	defer func() {
		metrics.VisitLatency.Observe(time.Since(started).Seconds())
		if ok {
			metrics.VisitsCompleted.WithLabelValues("visit").Inc()
		} else if code := w.State().errorCode(); code != "" {
			metrics.VisitsFailed.WithLabelValues(code).Inc()
		}
	}()

	for attempt := 0; attempt < w.maxAttempts(); attempt++ {
		if w.Killed() {
			return false
		}
		if ctx.Err() != nil {
			return false
		}

		outcome := w.attempt(ctx, point)
		switch outcome {
		case outcomeSuccess:
			ok = true
			return true
		case outcomeKilled:
			return false
		case outcomeCaptcha:
			// Non-retryable within this visit; the scheduler routes the
			// flagged account to the captcha queue on its next pass.
			return false
		case outcomeBanned:
			w.markAccountBanned()
			w.setState(StateSwapping)
			return false
		case outcomeBadLogin:
			w.setState(StateBadLogin)
			return false
		case outcomeIPBanned:
			w.setState(StateIPBanned)
			sleepBetweenAttempts(ctx, outcome)
		case outcomeThrottled:
			w.setState(StateThrottle)
			sleepBetweenAttempts(ctx, outcome)
		case outcomeRetryable:
			sleepBetweenAttempts(ctx, outcome)
		}
	}
	return false
}

// BootstrapVisit is Visit with mustVisit set, used by both bootstrap
// stages. It adds no gating of its own: stage 1 dispatches to each worker
// without consulting the matcher, while stage 2 points reach it through
// the matcher's speed gate with an effectively unlimited give-up deadline.
func (w *Worker) BootstrapVisit(ctx context.Context, point geo.Point) bool {
	return w.Visit(ctx, point, true)
}

// maxAttempts returns the configured retry bound, falling back to
// visitMaxAttemptsDefault when MaxRetries is unset.
func (w *Worker) maxAttempts() int {
	if w.deps.Limits.MaxRetries > 0 {
		return w.deps.Limits.MaxRetries
	}
	return visitMaxAttemptsDefault
}

func (w *Worker) attempt(ctx context.Context, point geo.Point) visitOutcome {
	if !w.ensureLoggedIn(ctx) {
		return outcomeBadLogin
	}

	if w.deps.Limits.AppSimulation {
		point = geo.Jitter(point, visitJitterDegrees, visitJitterAltitudeM)
	}

	if err := w.deps.Client.SetPosition(point.Lat, point.Lon, point.Altitude); err != nil {
		return outcomeRetryable
	}
	if proxy := w.Proxy(); proxy != nil {
		if err := w.deps.Client.SetProxy(proxy); err != nil {
			return outcomeRetryable
		}
	}

	if challengeURL, needed, err := w.deps.Client.CheckChallenge(ctx); err == nil && needed {
		return w.handleChallenge(ctx, challengeURL)
	}

	var cellIDs []uint64
	if w.deps.CellIDs != nil {
		cellIDs = []uint64{w.deps.CellIDs.CellID(point, computeCellID)}
	}

	if err := w.deps.NetworkLimiter.Acquire(ctx); err != nil {
		return outcomeRetryable
	}

	// The network phase has begun: the worker is now "at" point for
	// every subsequent speed calculation, whatever the call's outcome.
	w.mu.Lock()
	if w.everVisited {
		if elapsed := time.Since(w.lastVisit).Seconds(); elapsed > 0 {
			w.lastSpeed = geo.SpeedMPH(w.lastPoint, point, elapsed)
		}
	}
	w.lastVisit = time.Now()
	w.lastPoint = point
	w.everVisited = true
	w.mu.Unlock()

	callStart := time.Now()
	objs, err := w.deps.Client.GetMapObjects(ctx, cellIDs)
	w.deps.NetworkLimiter.Release()
	if proxy := w.Proxy(); proxy != nil {
		proxy.RecordLatency(time.Since(callStart))
	}
	if err != nil {
		if errors.Is(err, domain.ErrMalformedResponse) {
			w.noteMalformed()
		}
		return classifyErr(err)
	}
	if domain.BadStatuses[objs.Status] {
		return classifyStatus(objs.Status)
	}
	w.clearMalformed()

	w.processResult(ctx, point, objs)
	return outcomeSuccess
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) markAccountBanned() {
	w.mu.Lock()
	w.account.AuthState = domain.AccountBanned
	w.mu.Unlock()
}

// noteMalformed counts consecutive malformed responses; the second in a
// row restarts the worker's session so the next attempt re-authenticates
// from scratch.
func (w *Worker) noteMalformed() {
	w.mu.Lock()
	w.malformed++
	if w.malformed >= 2 {
		w.loggedIn = false
		w.malformed = 0
	}
	w.mu.Unlock()
}

func (w *Worker) clearMalformed() {
	w.mu.Lock()
	w.malformed = 0
	w.mu.Unlock()
}

func (w *Worker) ensureLoggedIn(ctx context.Context) bool {
	w.mu.Lock()
	if w.loggedIn {
		w.mu.Unlock()
		return true
	}
	w.state = StateLogin
	w.mu.Unlock()

	if w.deps.LoginGate != nil {
		if err := w.deps.LoginGate.Acquire(ctx); err != nil {
			return false
		}
		defer w.deps.LoginGate.Release()
	}

	if err := w.deps.Client.SetAuthentication(w.Account()); err != nil {
		w.mu.Lock()
		w.state = StateBadLogin
		w.mu.Unlock()
		return false
	}

	w.mu.Lock()
	w.loggedIn = true
	w.state = StateReady
	w.mu.Unlock()
	return true
}

func (w *Worker) handleChallenge(ctx context.Context, challengeURL string) visitOutcome {
	w.mu.Lock()
	w.state = StateCaptcha
	w.mu.Unlock()

	if w.deps.Solver == nil {
		w.flagCaptcha()
		return outcomeCaptcha
	}
	token, err := w.deps.Solver.Solve(ctx, challengeURL)
	if err != nil {
		w.flagCaptcha()
		return outcomeCaptcha
	}
	if err := w.deps.Client.VerifyChallenge(ctx, token); err != nil {
		w.flagCaptcha()
		return outcomeCaptcha
	}
	w.mu.Lock()
	w.state = StateReady
	w.mu.Unlock()
	return outcomeRetryable
}

// flagCaptcha marks the bound account as captcha-blocked so the
// scheduler routes it to the captcha queue on the next swap.
func (w *Worker) flagCaptcha() {
	w.mu.Lock()
	w.account.CaptchaFlag = true
	w.account.AuthState = domain.AccountCaptcha
	w.mu.Unlock()
}

func (w *Worker) processResult(ctx context.Context, point geo.Point, objs domain.MapObjects) {
	seen := 0
	now := time.Now().Unix()
	for _, enc := range objs.Encounters {
		seen++
		s, long := finalizeEncounter(enc, now)
		if long {
			if w.deps.Limits.Longspawn && w.deps.Pipeline != nil {
				w.deps.Pipeline.EnqueueLongSpawn(s)
			}
			continue
		}
		if w.deps.Pipeline != nil {
			w.deps.Pipeline.Enqueue(s)
		}
		if w.deps.Notifier != nil {
			w.deps.Notifier(ctx, domain.NotifyEvent{
				SpeciesID:       s.SpeciesID,
				EncounterID:     s.EncounterID,
				Lat:             s.Lat,
				Lon:             s.Lon,
				TimeTillHiddenS: s.TimeTillHiddenS,
			})
		}
	}
	for _, f := range objs.Forts {
		if f.IsPokestop {
			continue // pokestops are not landmark sightings and are never enqueued
		}
		if w.deps.Pipeline != nil {
			w.deps.Pipeline.EnqueueFort(f)
		}
	}

	w.mu.Lock()
	w.visits++
	w.totalSeen += seen
	if seen == 0 {
		w.emptyVisits++
	} else {
		w.emptyVisits = 0
	}
	w.state = StateReady
	w.mu.Unlock()

	if proxy := w.Proxy(); proxy != nil {
		if seen == 0 {
			proxy.ConsecutiveFailures++
		} else {
			proxy.ConsecutiveFailures = 0
		}
	}
}

// finalizeEncounter fills the derived timestamp fields an upstream
// payload may omit and classifies the encounter. A lifetime outside the
// short-lived window gets the 901s sentinel expiry, since the real
// lifetime is unknowable from this response.
func finalizeEncounter(s domain.Sighting, now int64) (domain.Sighting, bool) {
	long := domain.IsLongSpawn(s.TimeTillHiddenS * 1000)
	if s.ExpireTimestamp == 0 {
		ttl := s.TimeTillHiddenS
		if long {
			ttl = domain.LongSpawnSentinelSeconds
		}
		s.ExpireTimestamp = now + int64(ttl)
	}
	if s.NormalizedTimestamp == 0 {
		s.NormalizedTimestamp = domain.NormalizeTimestamp(s.ExpireTimestamp)
	}
	return s, long
}

// EmptyVisitStreak returns the worker's current consecutive-empty-visit
// count, compared by the scheduler against the swap threshold.
func (w *Worker) EmptyVisitStreak() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.emptyVisits
}

// ShouldSwap reports whether the empty-visit streak has crossed the swap
// threshold.
func (w *Worker) ShouldSwap() bool {
	return w.EmptyVisitStreak() > emptyVisitSwapAt
}

// SwapAccount exchanges the worker's bound account (and resets its
// session state); the caller supplies the replacement, typically drawn
// from the ready pool by the scheduler.
func (w *Worker) SwapAccount(next domain.Account, nextProxy *domain.Proxy) domain.Account {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.account
	w.state = StateSwapping
	w.account = next
	w.proxy = nextProxy
	w.loggedIn = false
	w.emptyVisits = 0
	w.state = StateInit
	return prev
}

// State returns the worker's current state machine node.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func classifyErr(err error) visitOutcome {
	switch {
	case errors.Is(err, domain.ErrBannedResponse):
		return outcomeBanned
	case errors.Is(err, domain.ErrIPBannedResponse):
		return outcomeIPBanned
	case errors.Is(err, domain.ErrBadLoginResponse):
		return outcomeBadLogin
	case errors.Is(err, domain.ErrThrottledResponse):
		return outcomeThrottled
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeKilled
	default:
		return outcomeRetryable
	}
}

func classifyStatus(status string) visitOutcome {
	switch status {
	case "3":
		return outcomeBanned
	case "I":
		return outcomeIPBanned
	case "L":
		return outcomeBadLogin
	case "T":
		return outcomeThrottled
	default:
		return outcomeRetryable
	}
}

// sleepBetweenAttempts honors the retry envelope's category-dependent
// sleep floors: 15-20s for an IP ban, a 10s floor for throttling, 8-12s
// otherwise. Kept as an explicit jittered sleep (rather than a second
// rate limiter) since this is a per-attempt backoff local to one visit,
// not a cross-worker pacing rule.
func sleepBetweenAttempts(ctx context.Context, outcome visitOutcome) {
	var d time.Duration
	switch outcome {
	case outcomeIPBanned:
		d = time.Duration((15 + rand.Float64()*5) * float64(time.Second))
	case outcomeThrottled:
		d = time.Duration((10 + rand.Float64()*2) * float64(time.Second))
	default:
		d = time.Duration((8 + rand.Float64()*4) * float64(time.Second))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// computeCellID derives a stable cell identifier from a point's
// rounded coordinates. The real S2-style covering math lives in the
// upstream client library (an external collaborator); this is the
// off-critical-path placeholder the cache calls on a miss, standing in
// for whatever covering function the real client requires.
func computeCellID(p geo.Point) uint64 {
	key := geo.RoundedKey(p)
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.FormatFloat(key[0], 'f', 5, 64)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatFloat(key[1], 'f', 5, 64)))
	return h.Sum64()
}

// CellIDTable is the process-wide cell-ID cache: same input always
// produces the same output, so concurrent writes are idempotent and a
// duplicate computation on a racing miss is harmless.
type CellIDTable struct {
	mu    sync.RWMutex
	cells map[[2]float64]uint64
}

// NewCellIDTable returns an empty cell-ID table.
func NewCellIDTable() *CellIDTable {
	return &CellIDTable{cells: make(map[[2]float64]uint64)}
}

// CellID returns the cached cell id for point, computing and caching it
// via compute on first reference.
func (t *CellIDTable) CellID(point geo.Point, compute func(geo.Point) uint64) uint64 {
	key := geo.RoundedKey(point)
	t.mu.RLock()
	id, ok := t.cells[key]
	t.mu.RUnlock()
	if ok {
		return id
	}
	id = compute(point)
	t.mu.Lock()
	t.cells[key] = id
	t.mu.Unlock()
	return id
}
