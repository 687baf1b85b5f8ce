package engine

import (
	"context"
	"fmt"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/eventbus"
	"crosspost/internal/runtime/supervisor"
	logx "crosspost/pkg/logx"
)

const trackDay = 24 * time.Hour

// trackDelay picks the sleep before the next measurement from the content's
// age. Buckets are strict greater-than, so content exactly 24h old still
// polls at the base interval.
func trackDelay(age, base time.Duration) time.Duration {
	switch {
	case age > 7*trackDay:
		return 12 * time.Hour
	case age > 3*trackDay:
		return 6 * time.Hour
	case age > trackDay:
		return 3 * time.Hour
	default:
		return base
	}
}

// armTracking registers the tracking loop for postID, replacing any loop
// already in the slot.
func (e *Engine) armTracking(sup *supervisor.Supervisor, postID string, platforms []content.Platform) {
	key := Key{PostID: postID, Kind: JobTracking}
	jobCtx, cancel := context.WithCancel(sup.Context())
	gen := e.reg.Register(key, cancel)

	sup.Go0("job.tracking", func(context.Context) {
		defer cancel()
		defer e.reg.Release(key, gen)
		e.runTracking(jobCtx, postID, platforms)
	})

	e.log.Info("tracking started",
		logx.String("post", postID),
		logx.Int("platforms", len(platforms)))
	e.emit(eventbus.TypeTrackingStarted, TrackingEvent{PostID: postID, Platforms: platforms})
}

// runTracking measures first and sleeps after, so a freshly published post
// gets its first snapshot right away. Collector and store errors are
// per-cycle noise, never loop-fatal; only cancellation or the termination
// rule end the loop.
func (e *Engine) runTracking(ctx context.Context, postID string, platforms []content.Platform) {
	log := e.log.With(logx.String("post", postID))
	cycles := 0

	for {
		delay, done := e.trackOnce(ctx, postID, platforms, &cycles)
		if ctx.Err() != nil {
			log.Debug("tracking cancelled", logx.Int("cycles", cycles))
			return
		}
		if done {
			log.Info("tracking finished", logx.Int("cycles", cycles))
			e.emit(eventbus.TypeTrackingFinished, TrackingEvent{PostID: postID, Platforms: platforms, Cycles: cycles})
			return
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Debug("tracking cancelled", logx.Int("cycles", cycles))
			return
		case <-t.C:
		}
	}
}

// trackOnce runs one measurement cycle and reports the next delay, or
// done=true when the loop should end. A failed post load skips the cycle
// without counting it; per-platform errors still count the cycle.
func (e *Engine) trackOnce(ctx context.Context, postID string, platforms []content.Platform, cycles *int) (time.Duration, bool) {
	cfg := e.config()
	io := context.WithoutCancel(ctx)
	log := e.log.With(logx.String("post", postID))

	post, err := e.store.Get(io, postID)
	if err != nil {
		if ok, suppressed := e.gate.Allow("track.load." + postID); ok {
			log.Warn("tracking cycle skipped, load failed", logx.Err(err), logx.Uint64("suppressed", suppressed))
		}
		return cfg.TrackInterval, false
	}
	if post == nil {
		log.Info("tracking stopped, post no longer exists")
		return 0, true
	}
	if post.PublishedTime == nil {
		log.Warn("tracking stopped, post has no published time")
		return 0, true
	}

	for _, pl := range platforms {
		if ctx.Err() != nil {
			return 0, true
		}
		snap, err := e.collect(io, post, pl)
		if err != nil {
			if ok, suppressed := e.gate.Allow("track.fetch." + postID + "." + pl.String()); ok {
				log.Warn("metric fetch failed",
					logx.String("platform", pl.String()),
					logx.Err(err),
					logx.Uint64("suppressed", suppressed))
			}
			continue
		}
		if snap.CollectedAt.IsZero() {
			snap.CollectedAt = e.clk.Now()
		}
		if err := e.store.AppendMetric(io, postID, pl, snap); err != nil {
			if ok, suppressed := e.gate.Allow("track.append." + postID); ok {
				log.Warn("snapshot append failed",
					logx.String("platform", pl.String()),
					logx.Err(err),
					logx.Uint64("suppressed", suppressed))
			}
			continue
		}
		e.metrics.snapshotAppended(pl.String())
		e.emit(eventbus.TypeTrackingSnapshot, TrackingEvent{
			PostID:   postID,
			Platform: pl,
			Cycles:   *cycles + 1,
			Values:   snap.Values,
		})
	}

	*cycles++
	e.metrics.trackingCycle()

	// One age per iteration: the termination rule and the bucket pick must
	// not see different clocks.
	age := e.clk.Now().Sub(*post.PublishedTime)
	if *cycles > cfg.TrackMaxCycles && age > cfg.TrackMaxAge {
		return 0, true
	}
	return trackDelay(age, cfg.TrackInterval), false
}

// collect shields the loop from a panicking collector.
func (e *Engine) collect(ctx context.Context, post *content.Post, platform content.Platform) (snap content.MetricSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collector panicked: %v", r)
		}
	}()
	return e.col.Fetch(ctx, post, platform)
}
