package scheduler

import (
	"context"
	"time"

	"github.com/overwatch-scan/overwatch/internal/geo"
	"github.com/overwatch-scan/overwatch/internal/worker"
)

// bootstrapStageGapS is the spacing between successive stage-1 dispatches.
const bootstrapStageGapS = 250 * time.Millisecond

// Bootstrap runs the one-shot coverage sweep. Stage 1 assigns each
// worker the center of its own GRID cell and dispatches exactly
// GRID[0]*GRID[1] visits, evenly spaced; once at least half the workers
// are idle again, stage 2 visits a denser interior point set with
// must_visit semantics: the matcher keeps its speed gate but never gives
// up on the point, so every gap point is eventually covered.
func (o *Overseer) Bootstrap(ctx context.Context, start, end geo.Point, rows, cols int) {
	centers := geo.Grid(start, end, rows, cols)
	for i, p := range centers {
		if o.killedFlag() || ctx.Err() != nil {
			return
		}
		o.dispatchBootstrap(ctx, o.workers[i%len(o.workers)], p)
		waitTick(ctx, bootstrapStageGapS)
	}
	o.waitHalfIdle(ctx)

	interior := geo.Grid(start, end, rows*2, cols*2)
	for _, p := range interior {
		if o.killedFlag() || ctx.Err() != nil {
			return
		}
		o.tryBootstrapPoint(ctx, p, true)
		waitTick(ctx, bootstrapStageGapS)
	}
}

// dispatchBootstrap sends w to point, waiting for w's own busy lock
// rather than consulting the matcher: stage 1's cell assignment is fixed
// per worker.
func (o *Overseer) dispatchBootstrap(ctx context.Context, w *worker.Worker, point geo.Point) {
	for !w.BusyAcquireNonblocking() {
		if o.killedFlag() || !waitTick(ctx, 250*time.Millisecond) {
			return
		}
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		w.Release()
		return
	}
	go func() {
		defer o.sem.Release(1)
		w.BootstrapVisit(ctx, point)
		o.afterVisit(w)
	}()
}

// waitHalfIdle blocks until at least half the workers have released
// their busy locks, the stage-1/stage-2 barrier.
func (o *Overseer) waitHalfIdle(ctx context.Context) {
	for {
		if o.killedFlag() || ctx.Err() != nil {
			return
		}
		idle := 0
		for _, w := range o.workers {
			if !w.Busy() {
				idle++
			}
		}
		if idle*2 >= len(o.workers) {
			return
		}
		if !waitTick(ctx, 250*time.Millisecond) {
			return
		}
	}
}

// mustVisitDeadline stands in for "never give up" on stage-2 points;
// cancellation still cuts it short on shutdown.
const mustVisitDeadline = 24 * time.Hour

func (o *Overseer) tryBootstrapPoint(ctx context.Context, point geo.Point, mustVisit bool) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return
	}

	deadline := time.Duration(o.limits.GiveUpUnknownS) * time.Second
	var visitCtx context.Context
	var cancel context.CancelFunc
	if mustVisit {
		deadline = mustVisitDeadline
		visitCtx, cancel = context.WithCancel(ctx)
	} else {
		visitCtx, cancel = context.WithTimeout(ctx, deadline)
	}

	w := o.bestWorker(visitCtx, point, deadline)
	if w == nil {
		cancel()
		o.sem.Release(1)
		return
	}

	go func() {
		defer cancel()
		defer o.sem.Release(1)
		w.BootstrapVisit(visitCtx, point)
		o.afterVisit(w)
	}()
}
