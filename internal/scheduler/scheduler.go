// Package scheduler implements the Overseer: the launch loop that walks
// the spawn catalog in offset order, the best-worker matcher, the
// supervisory loop driving periodic maintenance, and the bootstrap
// coverage sweep. Idle capacity between scheduled spawns is absorbed
// into mystery points so workers are never parked while unscanned
// territory remains.
package scheduler

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/overwatch-scan/overwatch/internal/domain"
	"github.com/overwatch-scan/overwatch/internal/geo"
	"github.com/overwatch-scan/overwatch/internal/infra/cache"
	"github.com/overwatch-scan/overwatch/internal/infra/metrics"
	"github.com/overwatch-scan/overwatch/internal/infra/pipeline"
	"github.com/overwatch-scan/overwatch/internal/infra/pool"
	"github.com/overwatch-scan/overwatch/internal/infra/recovery"
	"github.com/overwatch-scan/overwatch/internal/worker"
)

// Limits bundles the Overseer-relevant subset of daemon.LimitsConfig.
type Limits struct {
	MaxCaptchas    int
	GiveUpKnownS   int
	GiveUpUnknownS int
	ScanDelayS     int
	ShuffleEvery   int
	SkipSpawnS     int
}

// Stats are the Overseer's running counters, surfaced to the status
// renderer and viewer.
type Stats struct {
	Dispatched int
	Redundant  int
	Skipped    int
	Paused     bool
	History    []int // rolling 10-bucket observation-count history
}

// pointJitterDegrees is the per-dispatch point jitter tryPoint applies
// before handing a point to the matcher, distinct from the worker's own
// smaller per-visit jitter.
const pointJitterDegrees = 3.3e-4

// redundantGraceS and skipSpawnDefaultS are the lateness thresholds: a
// spawn more than 5s late that was already observed this hour counts as
// redundant; one that slips past SkipSpawnS counts as skipped regardless
// of observation state.
const (
	redundantGraceS   = 5
	skipSpawnDefaultS = 90
)

// Overseer owns the worker set, the launch loop, the matcher, and the
// supervisory loop. A weighted semaphore of capacity = worker count
// bounds in-flight dispatches.
type Overseer struct {
	log      *slog.Logger
	workers  []*worker.Worker
	sem      *semaphore.Weighted
	catalog  domain.SpawnCatalog
	sight    *cache.SightingCache
	pipeline *pipeline.Pipeline
	accounts *pool.Accounts
	proxies  *pool.Proxies
	limits   Limits

	mu           sync.Mutex
	stats        Stats
	order        []int // matcher candidate order, persists between searches
	hourOffset   int
	hourBaseline int64 // unix seconds, floor of the hour Launch last anchored on

	paused int32 // atomic
	killed int32 // atomic

	shuffleCounter int64 // atomic, for shuffle-every-N matcher re-randomization

	quarantine  *recovery.QuarantineManager
	control     domain.ControlSocket
	breakersMu  sync.Mutex
	breakers    map[string]*recovery.CircuitBreaker

	statusOut io.Writer
	startedAt time.Time

	swapCooldown time.Duration
}

// New returns an Overseer over workers, ready to Launch.
func New(log *slog.Logger, workers []*worker.Worker, catalog domain.SpawnCatalog, sight *cache.SightingCache, pl *pipeline.Pipeline, accounts *pool.Accounts, proxies *pool.Proxies, limits Limits) *Overseer {
	if log == nil {
		log = slog.Default()
	}
	return &Overseer{
		log:          log,
		workers:      workers,
		sem:          semaphore.NewWeighted(int64(len(workers))),
		catalog:      catalog,
		sight:        sight,
		pipeline:     pl,
		accounts:     accounts,
		proxies:      proxies,
		limits:       limits,
		breakers:     make(map[string]*recovery.CircuitBreaker),
		swapCooldown: 10 * time.Second,
	}
}

// WireRecovery attaches the quarantine manager and proxy rotation control
// socket. Both are optional external collaborators — an Overseer with
// neither wired behaves exactly as before, swapping accounts and never
// rotating proxy circuits.
func (o *Overseer) WireRecovery(qm *recovery.QuarantineManager, control domain.ControlSocket) {
	o.quarantine = qm
	o.control = control
}

func (o *Overseer) breakerFor(proxyURL string) *recovery.CircuitBreaker {
	o.breakersMu.Lock()
	defer o.breakersMu.Unlock()
	cb, ok := o.breakers[proxyURL]
	if !ok {
		cb = recovery.NewCircuitBreaker(proxyURL, recovery.DefaultCircuitBreakerConfig())
		o.breakers[proxyURL] = cb
	}
	return cb
}

// Pause sets the back-pressure pause flag (captcha queue over MAX_CAPTCHAS).
func (o *Overseer) Pause()   { atomic.StoreInt32(&o.paused, 1) }
func (o *Overseer) Unpause() { atomic.StoreInt32(&o.paused, 0) }
func (o *Overseer) Paused() bool { return atomic.LoadInt32(&o.paused) == 1 }

// Kill sets the shared kill flag observed by the launch loop, the matcher,
// and every worker's retry sleeps.
func (o *Overseer) Kill() {
	atomic.StoreInt32(&o.killed, 1)
	for _, w := range o.workers {
		w.Kill()
	}
}

func (o *Overseer) killedFlag() bool { return atomic.LoadInt32(&o.killed) == 1 }

// Stats returns a snapshot of the running counters.
func (o *Overseer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Snapshots returns a point-in-time view of every worker, for the status
// renderer and viewer surface.
func (o *Overseer) Snapshots() []domain.WorkerSnapshot {
	out := make([]domain.WorkerSnapshot, 0, len(o.workers))
	for _, w := range o.workers {
		out = append(out, w.Snapshot())
	}
	return out
}

// Launch runs the top-level launch loop until ctx is cancelled or Kill is
// called. It refreshes the catalog pass, dispatches mystery points when
// few spawns are known, resolves the hour baseline, and walks the spawn
// catalog in offset order, pausing when the captcha queue backs up.
func (o *Overseer) Launch(ctx context.Context) {
	resumed := false

	now := time.Now().Unix()
	o.mu.Lock()
	o.hourBaseline = now - now%3600
	o.mu.Unlock()

	for !o.killedFlag() && ctx.Err() == nil {
		if o.catalog.Len() == 0 {
			o.dispatchMysteries(ctx)
			o.sleepScanDelay(ctx)
			continue
		}

		if o.catalog.Len() < 10 {
			o.dispatchMysteries(ctx)
		}

		nowWithinHour := int(time.Now().Unix() % 3600)
		if o.catalog.AfterLast(nowWithinHour) {
			o.mu.Lock()
			o.hourOffset += 3600
			o.mu.Unlock()
			o.sight.ResetHour()
		}

		after := 0
		if !resumed {
			if start, ok := o.catalog.GetStartPoint(nowWithinHour); ok {
				after = start.OffsetInHourS
			}
			resumed = true
		}

		spawns := o.catalog.IterInOffsetOrder(after)
		for _, spawn := range spawns {
			if o.killedFlag() || ctx.Err() != nil {
				return
			}
			if load := o.captchaLoad(); load > o.limits.MaxCaptchas {
				o.log.Warn("overseer: captcha load over limit, pausing", "load", load, "max", o.limits.MaxCaptchas)
				o.Pause()
				o.waitForCaptchaDrain(ctx)
				o.Unpause()
				o.log.Info("overseer: captcha load drained, resuming")
			}

			spawnTime := o.spawnTime(spawn)
			o.waitForSpawnTime(ctx, spawnTime)
			if o.killedFlag() || ctx.Err() != nil {
				return
			}

			lateness := time.Now().Unix() - spawnTime
			if lateness > int64(o.skipThreshold()) {
				o.mu.Lock()
				o.stats.Skipped++
				o.mu.Unlock()
				continue
			}
			if lateness > redundantGraceS && o.sight.SpawnObserved(spawn.ID) {
				o.mu.Lock()
				o.stats.Redundant++
				o.mu.Unlock()
				continue
			}
			if lateness >= 0 && lateness < 1 {
				time.Sleep(time.Second)
			}

			o.tryPoint(ctx, spawn, spawnTime)
		}
	}
}

// spawnTime resolves spawn's absolute activation instant from the current
// hour baseline, the accumulated hour offset (advanced each time the
// catalog wraps past its last offset), and the spawn's own within-hour
// offset.
func (o *Overseer) spawnTime(spawn domain.Spawn) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hourBaseline + int64(o.hourOffset) + int64(spawn.OffsetInHourS)
}

// skipThreshold is SkipSpawnS, defaulting to 90s when unconfigured.
func (o *Overseer) skipThreshold() int {
	if o.limits.SkipSpawnS <= 0 {
		return skipSpawnDefaultS
	}
	return o.limits.SkipSpawnS
}

// waitForSpawnTime absorbs idle capacity into mystery points while the
// clock hasn't yet reached spawnTime, per the idle-capacity filler loop;
// it returns early once mysteries run dry rather than busy-looping.
func (o *Overseer) waitForSpawnTime(ctx context.Context, spawnTime int64) {
	for {
		now := time.Now().Unix()
		if now >= spawnTime || o.killedFlag() || ctx.Err() != nil {
			return
		}
		if o.catalog.MysteriesCount() > 0 {
			o.dispatchMysteries(ctx)
		}

		remaining := time.Duration(spawnTime-now) * time.Second
		if remaining > time.Second {
			remaining = time.Second
		}
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// captchaLoad is the value compared against MAX_CAPTCHAS: accounts
// already parked in the captcha queue plus accounts still bound to a
// worker sitting in captcha state (an account is only ever in one of the
// two places, so the sum never double-counts).
func (o *Overseer) captchaLoad() int {
	n := o.accounts.CaptchaLen()
	for _, w := range o.workers {
		if w.State() == worker.StateCaptcha {
			n++
		}
	}
	return n
}

func (o *Overseer) waitForCaptchaDrain(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for o.captchaLoad() > o.limits.MaxCaptchas {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
		if o.killedFlag() {
			return
		}
	}
}

func (o *Overseer) sleepScanDelay(ctx context.Context) {
	d := time.Duration(o.limits.ScanDelayS) * time.Second
	if d <= 0 {
		d = 10 * time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// dispatchMysteries absorbs idle capacity into the catalog's filler
// points.
func (o *Overseer) dispatchMysteries(ctx context.Context) {
	mysteries := o.catalog.GetMysteries(len(o.workers))
	for _, m := range mysteries {
		if o.killedFlag() || ctx.Err() != nil {
			return
		}
		o.tryMysteryPoint(ctx, m)
	}
}

// tryPoint acquires the concurrency semaphore, finds the best eligible
// worker via the matcher, and dispatches the visit on its own goroutine.
// The dispatched point carries the per-dispatch jitter; the worker
// records its own delta from spawnTime before visiting.
func (o *Overseer) tryPoint(ctx context.Context, spawn domain.Spawn, spawnTime int64) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return
	}

	deadline := time.Duration(o.limits.GiveUpKnownS) * time.Second
	visitCtx, cancel := context.WithTimeout(ctx, deadline)

	point := geo.Jitter(spawn.Point, pointJitterDegrees, 0)
	w := o.bestWorker(visitCtx, point, deadline)
	if w == nil {
		cancel()
		o.sem.Release(1)
		return
	}

	w.SetAfterSpawn(time.Since(time.Unix(spawnTime, 0)))

	metrics.WorkersBusy.Inc()
	go func() {
		defer cancel()
		defer o.sem.Release(1)
		defer metrics.WorkersBusy.Dec()
		ok := w.Visit(visitCtx, point, false)
		o.mu.Lock()
		if ok {
			o.stats.Dispatched++
		}
		o.mu.Unlock()
		o.afterVisit(w)
	}()
}

func (o *Overseer) tryMysteryPoint(ctx context.Context, m domain.Mystery) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return
	}
	deadline := time.Duration(o.limits.GiveUpUnknownS) * time.Second
	visitCtx, cancel := context.WithTimeout(ctx, deadline)

	point := geo.Jitter(m.Point, pointJitterDegrees, 0)
	w := o.bestWorker(visitCtx, point, deadline)
	if w == nil {
		cancel()
		o.sem.Release(1)
		o.catalog.ParkMystery(m)
		return
	}
	metrics.WorkersBusy.Inc()
	go func() {
		defer cancel()
		defer o.sem.Release(1)
		defer metrics.WorkersBusy.Dec()
		w.Visit(visitCtx, point, false)
		o.afterVisit(w)
	}()
}

// swapReason names why an account is being exchanged; it drives the
// quarantine escalation path and the swap metrics label.
type swapReason string

const (
	swapReasonCaptcha         swapReason = "captcha"
	swapReasonBadLogin        swapReason = "bad_login"
	swapReasonBanned          swapReason = "banned"
	swapReasonEmptyVisits     swapReason = "empty_visits"
	swapReasonLeastProductive swapReason = "least_productive"
)

func (o *Overseer) afterVisit(w *worker.Worker) {
	o.maybeRotateProxy(w)
	switch w.State() {
	case worker.StateCaptcha:
		o.swapWorkerAccount(w, swapReasonCaptcha)
	case worker.StateBadLogin:
		o.swapWorkerAccount(w, swapReasonBadLogin)
	case worker.StateSwapping:
		o.swapWorkerAccount(w, swapReasonBanned)
	default:
		if w.ShouldSwap() {
			o.swapWorkerAccount(w, swapReasonEmptyVisits)
		}
	}
}

// swapWorkerAccount exchanges w's account with the head of the ready
// pool, routing the replaced one to the captcha queue when flagged and
// to the tail of the ready queue otherwise. Skips quarantined candidates
// when a quarantine manager is wired, and feeds the replaced account's
// offense into it so repeat offenders escalate.
func (o *Overseer) swapWorkerAccount(w *worker.Worker, reason swapReason) {
	var next domain.Account
	found := false
	for attempts, n := 0, o.accounts.ReadyLen()+1; attempts < n; attempts++ {
		cand, ok := o.accounts.Next()
		if !ok {
			break
		}
		if o.quarantine != nil && o.quarantine.IsQuarantined(cand.Username) {
			o.accounts.Requeue(cand)
			continue
		}
		next, found = cand, true
		break
	}
	if !found {
		// No replacement available. A captcha-blocked account still
		// counts toward captchaLoad while bound to its worker, so the
		// pause back-pressure works even with an empty ready pool.
		return
	}
	prev := w.SwapAccount(next, w.Proxy())
	o.log.Info("overseer: swapped account", "out", prev.Username, "in", next.Username, "reason", string(reason))
	if o.quarantine != nil {
		switch reason {
		case swapReasonBadLogin:
			o.quarantine.RecordBadLogin(prev.Username)
		case swapReasonBanned:
			o.quarantine.RecordBan(prev.Username)
		case swapReasonEmptyVisits:
			o.quarantine.RecordEmptyVisitSwap(prev.Username)
		}
	}
	if prev.AuthState == domain.AccountCaptcha {
		o.accounts.Captcha(prev)
	} else {
		o.accounts.Requeue(prev)
	}
	metrics.AccountSwaps.WithLabelValues(string(reason)).Inc()
	time.Sleep(o.swapCooldown)
}

// maybeRotateProxy asks the recovery circuit breaker to gate a rotation
// request to the external control socket whenever w's bound proxy has
// crossed one of domain.Proxy.NeedsRotation's triggers.
func (o *Overseer) maybeRotateProxy(w *worker.Worker) {
	if o.control == nil {
		return
	}
	proxy := w.Proxy()
	if proxy == nil {
		return
	}
	banned := w.State() == worker.StateIPBanned
	if !proxy.NeedsRotation(w.EmptyVisitStreak(), banned) || !proxy.CanRotateNow(time.Now()) {
		return
	}
	cb := o.breakerFor(proxy.URL)
	if err := cb.Allow(); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.control.RotateCircuit(ctx, proxy); err != nil {
		o.log.Warn("overseer: proxy circuit rotation failed", "proxy", proxy.URL, "err", err)
		cb.RecordFailure()
		return
	}
	cb.RecordSuccess()
	proxy.LastRotatedAt = time.Now()
	metrics.ProxyRotations.Inc()
	o.log.Info("overseer: rotated proxy circuit", "proxy", proxy.URL)
}

// shuffleEvery reports whether the matcher's candidate order should be
// re-randomized on this call, per the shuffle-every-N heuristic (an
// explicit open-question knob per design note 9(a)).
func (o *Overseer) shuffleEvery() bool {
	n := atomic.AddInt64(&o.shuffleCounter, 1)
	every := int64(o.limits.ShuffleEvery)
	if every <= 0 {
		every = 500
	}
	return n%every == 0
}

// candidateOrder returns the worker iteration order, re-shuffled every N
// searches so ties among equal-speed candidates don't always resolve to
// the same worker. The shuffled order persists between searches.
func (o *Overseer) candidateOrder() []int {
	shuffle := o.shuffleEvery()

	o.mu.Lock()
	if len(o.order) != len(o.workers) {
		o.order = make([]int, len(o.workers))
		for i := range o.order {
			o.order[i] = i
		}
	}
	if shuffle {
		rand.Shuffle(len(o.order), func(i, j int) { o.order[i], o.order[j] = o.order[j], o.order[i] })
	}
	out := make([]int, len(o.order))
	copy(out, o.order)
	o.mu.Unlock()
	return out
}
