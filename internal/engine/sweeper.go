package engine

import (
	"context"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/runtime/supervisor"
	logx "crosspost/pkg/logx"
)

// runSweeper owns publish-job recovery for the engine's lifetime. It first
// reconciles every scheduled post regardless of due time (restart pickup),
// then sweeps the upcoming window each interval, arming only posts that have
// no live handle. Store failures back off and retry; the loop only exits on
// cancellation.
func (e *Engine) runSweeper(ctx context.Context, sup *supervisor.Supervisor) error {
	log := e.log.With(logx.String("comp", "engine.sweeper"))

	for {
		n, err := e.reconcile(ctx, sup)
		if err == nil {
			log.Info("reconciled scheduled posts", logx.Int("armed", n))
			break
		}
		if ok, suppressed := e.gate.Allow("sweeper.reconcile"); ok {
			log.Error("reconcile failed, retrying", logx.Err(err), logx.Uint64("suppressed", suppressed))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.config().SweepBackoff):
		}
	}

	wait := e.config().SweepInterval
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		n, err := e.sweepOnce(ctx, sup)
		if err != nil {
			if ok, suppressed := e.gate.Allow("sweeper.sweep"); ok {
				log.Warn("sweep failed, backing off", logx.Err(err), logx.Uint64("suppressed", suppressed))
			}
			wait = e.config().SweepBackoff
			continue
		}
		if n > 0 {
			log.Info("sweep re-armed posts", logx.Int("armed", n))
		}
		wait = e.config().SweepInterval
	}
}

// reconcile arms every scheduled post. It runs once per engine start, when
// the registry is empty, so an already-due record fires through this path
// without waiting for the first sweep.
func (e *Engine) reconcile(ctx context.Context, sup *supervisor.Supervisor) (int, error) {
	posts, err := e.store.GetByStatus(ctx, content.StatusScheduled)
	if err != nil {
		return 0, err
	}
	n := e.armMissing(sup, posts)
	e.metrics.sweepRecovered(n)
	return n, nil
}

// sweepOnce queries scheduled posts due up to one interval ahead and arms the
// ones without a live handle. The window deliberately reaches back to the
// zero time: a past-due record whose handle vanished (cancelled, or lost to
// an engine hiccup) is picked up by the next sweep instead of a restart.
func (e *Engine) sweepOnce(ctx context.Context, sup *supervisor.Supervisor) (int, error) {
	horizon := e.clk.Now().Add(e.config().SweepInterval)
	posts, err := e.store.GetByStatusAndTimeRange(ctx, content.StatusScheduled, time.Time{}, horizon)
	if err != nil {
		return 0, err
	}
	e.metrics.sweep()
	n := e.armMissing(sup, posts)
	e.metrics.sweepRecovered(n)
	return n, nil
}

func (e *Engine) armMissing(sup *supervisor.Supervisor, posts []*content.Post) int {
	n := 0
	for _, p := range posts {
		if p.DueTime == nil {
			if ok, _ := e.gate.Allow("sweeper.nodue." + p.ID); ok {
				e.log.Warn("scheduled post has no due time, skipping", logx.String("post", p.ID))
			}
			continue
		}
		if e.reg.Contains(Key{PostID: p.ID, Kind: JobPublish}) {
			continue
		}
		e.schedulePublish(sup, p.ID, *p.DueTime)
		n++
	}
	return n
}
