// Package pipeline implements the single-consumer persistence pipeline:
// one background goroutine drains a producer queue of tagged items and
// writes them to storage, consulting the de-dup caches before each insert.
//
// A single consumer, not a pool of writers: storage writes must stay
// serialized per the single-writer discipline SQLite's WAL mode wants.
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/overwatch-scan/overwatch/internal/domain"
	"github.com/overwatch-scan/overwatch/internal/infra/cache"
	"github.com/overwatch-scan/overwatch/internal/infra/metrics"
)

// Kind tags a queued item's payload type.
type Kind int

const (
	KindSighting Kind = iota
	KindLongSpawn
	KindFort
	KindKill
)

// Item is the tagged-variant unit of work the consumer branches on.
type Item struct {
	Kind    Kind
	Sighting domain.Sighting
	Fort     domain.FortSighting
}

// Stats are the running counters the supervisory loop and viewer surface.
// Enqueue is called concurrently by every worker's goroutine while apply
// runs on the single consumer goroutine, so the backing counters are
// atomics rather than plain ints.
type Stats struct {
	Inserted   int64
	Redundant  int64
	LongSpawns int64
	Forts      int64
	Errors     int64
}

// Pipeline is the single-consumer writer. Queue, commit, and cache-clean
// signals are all channels; Run owns the consumer loop and must be
// launched exactly once per Pipeline.
type Pipeline struct {
	store      domain.SightingStore
	sightings  *cache.SightingCache
	longspawns *cache.LongspawnCache
	log        *slog.Logger

	items      chan Item
	commit     chan struct{}
	cleanCache chan struct{}
	done       chan struct{}

	stats Stats
}

// Config bounds the pipeline's behavior: QueueDepth sizes the buffered
// item queue. Commits happen only when the caller signals Commit.
type Config struct {
	QueueDepth int
}

// DefaultConfig returns the pipeline queue depth used absent overrides.
func DefaultConfig() Config {
	return Config{QueueDepth: 1024}
}

// New returns a Pipeline ready to be started with Run.
func New(store domain.SightingStore, sightings *cache.SightingCache, longspawns *cache.LongspawnCache, log *slog.Logger, cfg Config) *Pipeline {
	if cfg.QueueDepth <= 0 {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:      store,
		sightings:  sightings,
		longspawns: longspawns,
		log:        log,
		items:      make(chan Item, cfg.QueueDepth),
		commit:     make(chan struct{}, 1),
		cleanCache: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Enqueue pushes a sighting for insertion, de-duplicated against
// SightingCache by composite key. The cache is checked here, before the
// item ever reaches the consumer, so a hot cache avoids a channel round
// trip for the common case; the consumer still treats a DB uniqueness
// violation as a no-op rather than an error (the cache miss backstop from
// the component design).
func (p *Pipeline) Enqueue(s domain.Sighting) {
	key := s.DedupKey()
	if p.sightings.Contains(key) {
		atomic.AddInt64(&p.stats.Redundant, 1)
		metrics.SightingsRedundant.Inc()
		return
	}
	p.items <- Item{Kind: KindSighting, Sighting: s}
}

// EnqueueLongSpawn pushes an extended-lifetime encounter for upsert.
func (p *Pipeline) EnqueueLongSpawn(s domain.Sighting) {
	key := s.DedupKey()
	if p.longspawns.Contains(key) {
		atomic.AddInt64(&p.stats.Redundant, 1)
		metrics.SightingsRedundant.Inc()
		return
	}
	p.items <- Item{Kind: KindLongSpawn, Sighting: s}
}

// EnqueueFort pushes a landmark observation for upsert-by-external-id.
func (p *Pipeline) EnqueueFort(f domain.FortSighting) {
	p.items <- Item{Kind: KindFort, Fort: f}
}

// Commit signals the consumer to flush its pending transaction. Driven by
// the scheduler's supervisory loop every 5s; non-blocking, since a commit
// already queued makes a second redundant.
func (p *Pipeline) Commit() {
	select {
	case p.commit <- struct{}{}:
	default:
	}
}

// CleanCaches signals the consumer to sweep expired cache entries on its
// next dequeue. Driven by the scheduler's supervisory loop every 900s.
func (p *Pipeline) CleanCaches() {
	select {
	case p.cleanCache <- struct{}{}:
	default:
	}
}

// Kill enqueues the terminal sentinel. Run drains all items already
// queued ahead of it before returning.
func (p *Pipeline) Kill() {
	p.items <- Item{Kind: KindKill}
}

// Stats returns a snapshot of the running counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Inserted:   atomic.LoadInt64(&p.stats.Inserted),
		Redundant:  atomic.LoadInt64(&p.stats.Redundant),
		LongSpawns: atomic.LoadInt64(&p.stats.LongSpawns),
		Forts:      atomic.LoadInt64(&p.stats.Forts),
		Errors:     atomic.LoadInt64(&p.stats.Errors),
	}
}

// QueueDepth returns the number of items currently pending in the queue.
func (p *Pipeline) QueueDepth() int {
	return len(p.items)
}

// Done reports the channel closed once Run has fully drained and
// returned, for callers awaiting shutdown.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Run is the consumer loop: drain items, branching on tag, until a Kill
// sentinel is observed. Intended to run on its own goroutine for the
// lifetime of the process; ctx cancellation stops acceptance of new work
// but still drains what is already queued before returning.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case item := <-p.items:
			if item.Kind == KindKill {
				return
			}
			p.apply(item)
		case <-p.commit:
			// No-op backstop: modernc.org/sqlite autocommits each
			// statement by default; an explicit transaction batching
			// layer would hook in here if added later.
		case <-p.cleanCache:
			now := time.Now()
			p.sightings.CleanExpired(now)
			p.longspawns.CleanExpired(now)
		case <-ctx.Done():
			p.drainRemaining()
			return
		}
	}
}

// drainRemaining flushes whatever is already queued without blocking on
// further sends, honoring the "await pending tasks" shutdown discipline.
func (p *Pipeline) drainRemaining() {
	for {
		select {
		case item := <-p.items:
			if item.Kind == KindKill {
				return
			}
			p.apply(item)
		default:
			return
		}
	}
}

func (p *Pipeline) apply(item Item) {
	switch item.Kind {
	case KindSighting:
		inserted, err := p.store.UpsertSighting(item.Sighting)
		if err != nil {
			p.log.Info("pipeline: sighting insert skipped", "err", err)
			return
		}
		if inserted {
			atomic.AddInt64(&p.stats.Inserted, 1)
			metrics.SightingsInserted.Inc()
			p.sightings.Add(item.Sighting.DedupKey(), time.Unix(item.Sighting.ExpireTimestamp, 0))
			p.sightings.MarkSpawnObserved(item.Sighting.SpawnID)
		} else {
			atomic.AddInt64(&p.stats.Redundant, 1)
			metrics.SightingsRedundant.Inc()
		}
	case KindLongSpawn:
		if err := p.store.UpsertLongSpawn(item.Sighting); err != nil {
			atomic.AddInt64(&p.stats.Errors, 1)
			p.log.Error("pipeline: longspawn upsert failed", "err", err)
			return
		}
		atomic.AddInt64(&p.stats.LongSpawns, 1)
		metrics.LongSpawnsUpserted.Inc()
		p.longspawns.Add(item.Sighting.DedupKey(), time.Unix(item.Sighting.ExpireTimestamp, 0))
	case KindFort:
		inserted, err := p.store.UpsertFortSighting(item.Fort)
		if err != nil {
			atomic.AddInt64(&p.stats.Errors, 1)
			p.log.Error("pipeline: fort upsert failed", "err", err)
			return
		}
		if inserted {
			atomic.AddInt64(&p.stats.Forts, 1)
			metrics.FortsUpserted.Inc()
		}
	}
}
