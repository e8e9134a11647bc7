// Package notifier wraps the external notification transport
// (domain.Notifier) with idempotence and self-tuning frequency control:
// a bounded FIFO suppresses repeat notifications per encounter, and a
// rolling window of inter-notification intervals steers how far down
// the species popularity ranking notifications are allowed to reach.
package notifier

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/overwatch-scan/overwatch/internal/domain"
	"github.com/overwatch-scan/overwatch/internal/infra/metrics"
)

const (
	dedupWindow = 200

	// notableRank is the fixed floor of the eligible-species window: the
	// single most notable species (rank 1) is always eligible, no matter
	// how the self-tuning controller has narrowed the rest of the band.
	notableRank     = 1
	eligibleMinRank = 20
	eligibleMaxRank = 75
)

// Dedup is a bounded FIFO of recently notified encounter IDs, guaranteeing
// at most one notification per encounter_id within any 200-entry window.
type Dedup struct {
	mu    sync.Mutex
	limit int
	order *list.List
	seen  map[string]*list.Element
}

// NewDedup returns an empty bounded dedup set of the default window size.
func NewDedup() *Dedup {
	return &Dedup{limit: dedupWindow, order: list.New(), seen: make(map[string]*list.Element)}
}

// SeenOrRecord reports whether encounterID was already recorded; if not,
// it records it and evicts the oldest entry once the window is full.
func (d *Dedup) SeenOrRecord(encounterID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[encounterID]; ok {
		return true
	}
	el := d.order.PushBack(encounterID)
	d.seen[encounterID] = el
	if d.order.Len() > d.limit {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
	}
	return false
}

// FrequencyConfig bounds the self-tuning notification rate controller in
// minutes of mean inter-notification interval (matching daemon config's
// desired_frequency_low_min / desired_frequency_high_min keys): a mean
// interval below DesiredLowMinutes means notifications are arriving too
// often, and one above DesiredHighMinutes means they are too sparse.
type FrequencyConfig struct {
	DesiredLowMinutes  float64
	DesiredHighMinutes float64
}

// FrequencyController tracks a trailing window of inter-notification
// intervals and narrows or widens the eligible-species rank window to
// steer the mean interval back between DesiredLowMinutes and
// DesiredHighMinutes (minutes between notifications; narrower rank
// window == fewer eligible species == lower frequency).
type FrequencyController struct {
	mu         sync.Mutex
	cfg        FrequencyConfig
	lastNotify time.Time
	intervals  []time.Duration
	rankHigh   int
	now        func() time.Time
}

const intervalWindowSize = 20

// NewFrequencyController returns a controller starting with the most
// conservative eligible-rank window, [notableRank, eligibleMinRank].
func NewFrequencyController(cfg FrequencyConfig) *FrequencyController {
	return &FrequencyController{
		cfg:      cfg,
		rankHigh: eligibleMinRank,
		now:      time.Now,
	}
}

// RankWindow returns the current eligible rank bounds. The low bound is
// always notableRank: the self-tuning only ever narrows or widens how far
// past the most notable species the window extends.
func (fc *FrequencyController) RankWindow() (low, high int) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return notableRank, fc.rankHigh
}

// Eligible reports whether a species of the given popularity rank (1 =
// most notable) currently falls within the self-tuned window.
func (fc *FrequencyController) Eligible(rank int) bool {
	_, high := fc.RankWindow()
	return rank >= notableRank && rank <= high
}

// RecordNotification feeds one emitted notification's timing into the
// trailing interval window and re-tunes the rank bounds.
func (fc *FrequencyController) RecordNotification() {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	now := fc.now()
	if !fc.lastNotify.IsZero() {
		fc.intervals = append(fc.intervals, now.Sub(fc.lastNotify))
		if len(fc.intervals) > intervalWindowSize {
			fc.intervals = fc.intervals[len(fc.intervals)-intervalWindowSize:]
		}
	}
	fc.lastNotify = now
	fc.retuneLocked()
}

func (fc *FrequencyController) retuneLocked() {
	if len(fc.intervals) == 0 {
		return
	}
	var total time.Duration
	for _, d := range fc.intervals {
		total += d
	}
	meanMinutes := (total.Seconds() / float64(len(fc.intervals))) / 60.0

	switch {
	case meanMinutes < fc.cfg.DesiredLowMinutes && fc.rankHigh > eligibleMinRank:
		fc.rankHigh-- // notifying too often: narrow the eligible set
	case meanMinutes > fc.cfg.DesiredHighMinutes && fc.rankHigh < eligibleMaxRank:
		fc.rankHigh++ // notifying too rarely: widen the eligible set
	}
}

// Notifier wraps a domain.Notifier transport with idempotence and
// frequency-controlled species eligibility.
type Notifier struct {
	transport   domain.Notifier
	dedup       *Dedup
	freq        *FrequencyController
	speciesRank func(speciesID int) int
}

// New returns a Notifier dispatching through transport, gated by dedup and
// the frequency controller. speciesRank maps a species ID to its
// popularity rank (1 = most notable); a nil func treats every species as
// rank 1 (always eligible).
func New(transport domain.Notifier, dedup *Dedup, freq *FrequencyController, speciesRank func(int) int) *Notifier {
	if speciesRank == nil {
		speciesRank = func(int) int { return 1 }
	}
	return &Notifier{transport: transport, dedup: dedup, freq: freq, speciesRank: speciesRank}
}

// Notify emits event through the transport at most once per encounter
// ID, and only when the species falls within the self-tuned eligible
// rank window. Returns whether it notified and, if not, why.
func (n *Notifier) Notify(ctx context.Context, event domain.NotifyEvent) (bool, string) {
	if n.dedup.SeenOrRecord(event.EncounterID) {
		metrics.NotificationsSuppressed.WithLabelValues("duplicate").Inc()
		return false, "already notified for this encounter"
	}
	if !n.freq.Eligible(n.speciesRank(event.SpeciesID)) {
		metrics.NotificationsSuppressed.WithLabelValues("rank_window").Inc()
		return false, "species outside eligible rank window"
	}
	if n.transport == nil {
		metrics.NotificationsSuppressed.WithLabelValues("no_transport").Inc()
		return false, "no notification transport configured"
	}
	if err := n.transport.Notify(ctx, event); err != nil {
		metrics.NotificationsSuppressed.WithLabelValues("transport_error").Inc()
		return false, err.Error()
	}
	n.freq.RecordNotification()
	metrics.NotificationsSent.Inc()
	return true, ""
}
