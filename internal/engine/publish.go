package engine

import (
	"context"
	"fmt"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/eventbus"
	"crosspost/internal/runtime/supervisor"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

// schedulePublish arms the one-shot publish job for postID. The prior handle
// for the slot, if any, is cancelled by Register; the replaced job's deferred
// Release is generation-guarded so it cannot evict the new handle.
func (e *Engine) schedulePublish(sup *supervisor.Supervisor, postID string, due time.Time) {
	key := Key{PostID: postID, Kind: JobPublish}
	jobCtx, cancel := context.WithCancel(sup.Context())
	gen := e.reg.Register(key, cancel)

	delay := due.Sub(e.clk.Now())
	if delay < 0 {
		delay = 0
	}

	// The job body always runs on its own goroutine; an already-due post still
	// publishes asynchronously, never inline in the caller.
	sup.Go0("job.publish", func(context.Context) {
		defer cancel()
		defer e.reg.Release(key, gen)
		e.runPublish(jobCtx, postID, delay)
	})

	e.log.Debug("publish armed",
		logx.String("post", postID),
		logx.Time("due", due),
		logx.Duration("delay", delay))
	e.emit(eventbus.TypePostScheduled, PostEvent{PostID: postID, Status: content.StatusScheduled, Due: due})
}

func (e *Engine) runPublish(ctx context.Context, postID string, delay time.Duration) {
	log := e.log.With(logx.String("post", postID))

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Debug("publish job cancelled while waiting")
			return
		case <-t.C:
		}
	}
	if ctx.Err() != nil {
		log.Debug("publish job cancelled while waiting")
		return
	}

	// From here the job finishes its store writes even if the engine shuts
	// down; cancellation is honoured between steps, never mid-call.
	io := context.WithoutCancel(ctx)

	post, err := e.store.Get(io, postID)
	if err != nil {
		log.Error("publish aborted, load failed", logx.Err(err))
		return
	}
	if post == nil {
		log.Info("publish skipped, post no longer exists")
		return
	}
	if post.Status != content.StatusScheduled {
		e.metrics.guardExit()
		log.Info("publish skipped, status changed", logx.String("status", post.Status.String()))
		return
	}
	if ctx.Err() != nil {
		log.Debug("publish job cancelled before commit")
		return
	}

	publishing := content.StatusPublishing
	if err := e.store.Update(io, postID, storage.UpdateFields{Status: &publishing}); err != nil {
		log.Error("publish aborted, status flip failed", logx.Err(err))
		return
	}

	results, perr := e.callPublisher(io, post)
	e.finishPublish(io, post, results, perr, log)
}

// finishPublish aggregates per-platform outcomes into the single terminal
// store update and hands successful platforms off to tracking.
func (e *Engine) finishPublish(ctx context.Context, post *content.Post, results map[content.Platform]content.PlatformResult, perr error, log logx.Logger) {
	var succeeded []content.Platform
	for _, pl := range post.Platforms {
		r, ok := results[pl]
		if !ok {
			continue
		}
		e.metrics.platformResult(pl.String(), r.OK)
		if r.OK {
			succeeded = append(succeeded, pl)
		} else {
			log.Warn("platform publish failed", logx.String("platform", pl.String()), logx.String("error", r.Error))
		}
	}

	final := content.StatusFailed
	fields := storage.UpdateFields{Results: results}
	if perr != nil {
		log.Error("publish failed", logx.Err(perr))
	} else if len(succeeded) > 0 {
		final = content.StatusPublished
		now := e.clk.Now()
		fields.PublishedTime = &now
	}
	fields.Status = &final

	if err := e.store.Update(ctx, post.ID, fields); err != nil {
		// The record stays in publishing; CountByStatus surfaces the residue
		// in /healthz for the operator.
		log.Error("terminal update failed", logx.Err(err), logx.String("status", final.String()))
		return
	}

	ev := PostEvent{PostID: post.ID, Status: final, Platforms: post.Platforms, Results: results}
	if final == content.StatusPublished {
		e.metrics.postPublished()
		log.Info("post published",
			logx.Int("platforms_ok", len(succeeded)),
			logx.Int("platforms_total", len(post.Platforms)))
		e.emit(eventbus.TypePostPublished, ev)

		if sup := e.running(); sup != nil {
			e.armTracking(sup, post.ID, succeeded)
		}
		return
	}

	e.metrics.postFailed()
	log.Warn("post failed", logx.Int("platforms_total", len(post.Platforms)))
	e.emit(eventbus.TypePostFailed, ev)
}

// callPublisher shields the job from a panicking publisher; a panic becomes a
// failed publish, not a crashed goroutine.
func (e *Engine) callPublisher(ctx context.Context, post *content.Post) (results map[content.Platform]content.PlatformResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("publisher panicked: %v", r)
		}
	}()
	return e.pub.Publish(ctx, post.Text, post.Media, post.Platforms), nil
}
