package scheduler

import (
	"context"
	"time"

	"github.com/overwatch-scan/overwatch/internal/infra/metrics"
)

// Supervise runs the periodic maintenance loop: cache cleaning every
// 900s, pipeline commit every 5s, a least-productive-worker swap every
// 600s (only when the ready pool is non-empty), stats refresh every 5s,
// a rolling 10-bucket observation-count history sampled every 10s, and
// the status render. While paused it only renders status and sleeps, at
// 15s per tick.
func (o *Overseer) Supervise(ctx context.Context) {
	cacheClean := time.NewTicker(900 * time.Second)
	commit := time.NewTicker(5 * time.Second)
	leastProductive := time.NewTicker(600 * time.Second)
	history := time.NewTicker(10 * time.Second)
	gauges := time.NewTicker(5 * time.Second)
	status := time.NewTicker(time.Second)
	defer cacheClean.Stop()
	defer commit.Stop()
	defer leastProductive.Stop()
	defer history.Stop()
	defer gauges.Stop()
	defer status.Stop()

	for {
		if o.Paused() {
			o.renderStatus()
			if !waitTick(ctx, 15*time.Second) {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-cacheClean.C:
			if o.pipeline != nil {
				o.pipeline.CleanCaches()
			}
		case <-commit.C:
			if o.pipeline != nil {
				o.pipeline.Commit()
			}
		case <-leastProductive.C:
			// On its own goroutine so the swap cool-down doesn't stall
			// commits and status ticks.
			go o.swapLeastProductive()
		case <-history.C:
			o.appendHistory()
		case <-gauges.C:
			o.refreshGauges()
		case <-status.C:
			o.renderStatus()
		}
	}
}

// refreshGauges samples the account pool into the viewer's Prometheus
// gauges; the pipeline's own counters are incremented at their source in
// internal/infra/pipeline.
func (o *Overseer) refreshGauges() {
	metrics.CaptchaQueueSize.Set(float64(o.accounts.CaptchaLen()))
	metrics.ExtraQueueSize.Set(float64(o.accounts.ReadyLen()))
	if o.pipeline != nil {
		metrics.PipelineQueueDepth.Set(float64(o.pipeline.QueueDepth()))
	}
}

// swapLeastProductive finds the worker with the fewest total sightings
// seen and swaps its account, provided the ready pool has a replacement.
func (o *Overseer) swapLeastProductive() {
	if o.accounts.ReadyLen() == 0 {
		return
	}
	var worst = -1
	var worstSeen int
	for i, w := range o.workers {
		seen := w.Snapshot().TotalSeen
		if worst == -1 || seen < worstSeen {
			worst = i
			worstSeen = seen
		}
	}
	if worst == -1 {
		return
	}
	o.swapWorkerAccount(o.workers[worst], swapReasonLeastProductive)
}

// appendHistory records the total observation count across all workers
// into a rolling 10-bucket window.
func (o *Overseer) appendHistory() {
	total := 0
	for _, w := range o.workers {
		total += w.Snapshot().TotalSeen
	}
	o.mu.Lock()
	o.stats.History = append(o.stats.History, total)
	if len(o.stats.History) > 10 {
		o.stats.History = o.stats.History[len(o.stats.History)-10:]
	}
	o.mu.Unlock()
}
