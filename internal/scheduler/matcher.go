package scheduler

import (
	"context"
	"time"

	"github.com/overwatch-scan/overwatch/internal/geo"
	"github.com/overwatch-scan/overwatch/internal/worker"
)

// rescanInterval bounds how often bestWorker re-polls worker positions
// when no viable candidate is currently available, and how long it backs
// off after a strict-limit confirmation failure before retrying.
const rescanInterval = 2 * time.Second

// bestWorker is the speed-scored candidate search: among workers passing
// the coarse FastSpeed gate, non-blockingly acquire the busy lock of the
// lowest-speed candidate and confirm it under the strict AccurateSpeed
// limit, re-scoring against the next candidate on a failed confirmation.
// On a tie, the later-encountered candidate wins (iteration order, which
// shuffleEvery periodically randomizes). Returns nil once deadline
// elapses or ctx is cancelled, matching GIVE_UP_KNOWN/GIVE_UP_UNKNOWN.
func (o *Overseer) bestWorker(ctx context.Context, point geo.Point, deadline time.Duration) *worker.Worker {
	giveUp := time.Now().Add(deadline)

	for {
		if ctx.Err() != nil || o.killedFlag() || time.Now().After(giveUp) {
			return nil
		}

		type candidate struct {
			w     *worker.Worker
			speed float64
		}
		var candidates []candidate
		for _, idx := range o.candidateOrder() {
			w := o.workers[idx]
			speed, ok := w.FastSpeed(point)
			if !ok {
				continue
			}
			if !w.WithinMatcherLimit(speed) {
				continue
			}
			candidates = append(candidates, candidate{w: w, speed: speed})
		}
		if len(candidates) == 0 {
			if !waitTick(ctx, rescanInterval) {
				return nil
			}
			continue
		}

		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.speed <= best.speed {
				best = c
			}
		}

		if !best.w.BusyAcquireNonblocking() {
			continue
		}
		accurate := best.w.AccurateSpeed(point)
		if !best.w.WithinStrictLimit(accurate) {
			best.w.Release()
			if !waitTick(ctx, rescanInterval) {
				return nil
			}
			continue
		}
		return best.w
	}
}

func waitTick(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
