package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"crosspost/internal/clock"
	"crosspost/internal/content"
	"crosspost/internal/eventbus"
	"crosspost/internal/runtime/supervisor"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

var (
	// ErrStopped is returned by scheduling calls while the engine is not running.
	ErrStopped = errors.New("engine stopped")
	// ErrUnknownPost is returned when an operation targets a post that does not exist.
	ErrUnknownPost = errors.New("unknown post")
	// ErrNotSchedulable is returned when a post's status rules out (re)scheduling.
	ErrNotSchedulable = errors.New("post status does not allow scheduling")
)

// Publisher sends one post to a set of platforms and reports per-platform
// outcomes. A failing platform must not abort its siblings; failures are
// values in the returned map, never a shared error.
type Publisher interface {
	Publish(ctx context.Context, text string, media []content.MediaRef, platforms []content.Platform) map[content.Platform]content.PlatformResult
}

// Collector fetches one engagement snapshot for a published post on one
// platform. The post is passed already loaded so collectors can read the
// platform post reference out of its results.
type Collector interface {
	Fetch(ctx context.Context, post *content.Post, platform content.Platform) (content.MetricSnapshot, error)
}

// Config holds the engine knobs. All of them are hot-reloadable via Apply;
// loops pick the new values up on their next iteration.
type Config struct {
	// SweepInterval is the period of the recovery sweep (default 60s).
	SweepInterval time.Duration
	// SweepBackoff is the retry delay after a failed sweep query (default 10s).
	SweepBackoff time.Duration
	// TrackInterval is the base delay between tracking cycles for fresh
	// content (default 1h); older content stretches to 3h/6h/12h buckets.
	TrackInterval time.Duration
	// TrackMaxCycles and TrackMaxAge terminate a tracking loop once BOTH are
	// exceeded (defaults 30 cycles, 7 days).
	TrackMaxCycles int
	TrackMaxAge    time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.SweepBackoff <= 0 {
		c.SweepBackoff = 10 * time.Second
	}
	if c.TrackInterval <= 0 {
		c.TrackInterval = time.Hour
	}
	if c.TrackMaxCycles <= 0 {
		c.TrackMaxCycles = 30
	}
	if c.TrackMaxAge <= 0 {
		c.TrackMaxAge = 7 * 24 * time.Hour
	}
	return c
}

// Engine owns the publish and tracking jobs of all posts: one-shot delayed
// publishes, the recovery sweep that re-arms scheduled posts after a restart,
// and the per-post tracking loops. All state lives in the store; the engine
// keeps only cancel handles in memory.
type Engine struct {
	store storage.Store
	pub   Publisher
	col   Collector

	clk  clock.Clock
	bus  eventbus.Bus
	log  logx.Logger
	gate *logx.Gate

	reg     *Registry
	metrics *metrics

	mu  sync.Mutex
	cfg Config
	sup *supervisor.Supervisor
}

type Option func(*Engine)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) {
		if clk != nil {
			e.clk = clk
		}
	}
}

// WithBus attaches an event bus for post.* and tracking.* announcements.
func WithBus(bus eventbus.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

func WithLogger(log logx.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func New(cfg Config, st storage.Store, pub Publisher, col Collector, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		pub:   pub,
		col:   col,
		clk:   clock.System(),
		cfg:   cfg.withDefaults(),
		reg:   NewRegistry(),
		gate:  logx.NewGate(30 * time.Second),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With(logx.String("comp", "engine"))
	e.metrics = newMetrics(e.reg)
	return e
}

// Gatherer exposes the engine's metric registry for the debug server.
func (e *Engine) Gatherer() prometheus.Gatherer { return e.metrics.reg }

// Apply swaps the engine knobs at runtime. Running loops use the new values
// from their next iteration; already-armed publish timers keep their delay.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.log.Debug("config applied",
		logx.Duration("sweep_interval", cfg.SweepInterval),
		logx.Duration("track_interval", cfg.TrackInterval))
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) running() *supervisor.Supervisor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sup
}

// Start brings up the recovery sweeper and accepts scheduling calls from now
// on. Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.sup != nil {
		e.mu.Unlock()
		return nil
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(e.log))
	e.sup = sup
	e.mu.Unlock()

	sup.GoRestart("engine.sweeper", func(ctx context.Context) error {
		return e.runSweeper(ctx, sup)
	})

	e.log.Info("engine started")
	return nil
}

// Stop cancels every registered job and waits for in-flight work to drain.
// A job that already committed to publishing finishes its store writes first;
// ctx bounds only how long Stop waits, not the jobs themselves.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	sup := e.sup
	e.sup = nil
	e.mu.Unlock()
	if sup == nil {
		return nil
	}

	start := time.Now()
	e.reg.CancelAll()
	sup.Cancel()
	err := sup.Wait(ctx)
	if err != nil {
		e.log.Warn("engine stopped with stragglers", logx.Err(err), logx.Duration("took", time.Since(start)))
		return fmt.Errorf("engine stop: %w", err)
	}
	e.log.Info("engine stopped", logx.Duration("took", time.Since(start)))
	return nil
}

// Schedule arms a one-shot publish job for the post at due. The job always
// runs asynchronously, even when due is already in the past; any previously
// armed publish job for the same post is cancelled and replaced.
//
// Schedule does not touch the store: the record must already be in scheduled
// status, and the job re-checks that when it fires.
func (e *Engine) Schedule(postID string, due time.Time) error {
	if postID == "" {
		return errors.New("empty post id")
	}
	sup := e.running()
	if sup == nil {
		return ErrStopped
	}
	e.schedulePublish(sup, postID, due)
	return nil
}

// Cancel drops the armed publish job for the post, if any. The record itself
// is untouched; cancelling an unknown or already-fired job is a silent no-op.
func (e *Engine) Cancel(postID string) bool {
	ok := e.reg.Cancel(Key{PostID: postID, Kind: JobPublish})
	if ok {
		e.log.Info("publish cancelled", logx.String("post", postID))
		e.emit(eventbus.TypePostCancelled, PostEvent{PostID: postID})
	}
	return ok
}

// Reschedule moves the post's due time and re-arms its publish job. Posts in
// scheduled status keep their status; draft and failed posts are returned to
// scheduled. Posts that are publishing or already published are rejected.
func (e *Engine) Reschedule(ctx context.Context, postID string, due time.Time) error {
	if e.running() == nil {
		return ErrStopped
	}

	post, err := e.store.Get(ctx, postID)
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", postID, err)
	}
	if post == nil {
		return fmt.Errorf("reschedule %s: %w", postID, ErrUnknownPost)
	}

	fields := storage.UpdateFields{DueTime: &due}
	switch post.Status {
	case content.StatusScheduled:
	case content.StatusDraft, content.StatusFailed:
		st := content.StatusScheduled
		fields.Status = &st
	default:
		return fmt.Errorf("reschedule %s (%s): %w", postID, post.Status, ErrNotSchedulable)
	}

	if err := e.store.Update(ctx, postID, fields); err != nil {
		return fmt.Errorf("reschedule %s: %w", postID, err)
	}
	e.log.Info("post rescheduled", logx.String("post", postID), logx.Time("due", due))
	return e.Schedule(postID, due)
}

// StartTracking arms the recurring measurement loop for the post on the given
// platforms, replacing any loop already running for it. The publish job calls
// this on success; it is also the manual path for resuming tracking after a
// restart.
func (e *Engine) StartTracking(postID string, platforms []content.Platform) error {
	if postID == "" {
		return errors.New("empty post id")
	}
	if len(platforms) == 0 {
		return errors.New("no platforms to track")
	}
	sup := e.running()
	if sup == nil {
		return ErrStopped
	}
	e.armTracking(sup, postID, platforms)
	return nil
}

// StopTracking cancels the post's tracking loop, if any.
func (e *Engine) StopTracking(postID string) bool {
	ok := e.reg.Cancel(Key{PostID: postID, Kind: JobTracking})
	if ok {
		e.log.Info("tracking cancelled", logx.String("post", postID))
	}
	return ok
}

// Snapshot is a point-in-time view of the engine for /healthz and digests.
type Snapshot struct {
	Running        bool                `json:"running"`
	PublishJobs    int                 `json:"publish_jobs"`
	TrackingJobs   int                 `json:"tracking_jobs"`
	PostsPublished uint64              `json:"posts_published"`
	PostsFailed    uint64              `json:"posts_failed"`
	GuardExits     uint64              `json:"guard_exits"`
	SweepsRun      uint64              `json:"sweeps_run"`
	SweepRecovered uint64              `json:"sweep_recovered"`
	TrackingCycles uint64              `json:"tracking_cycles"`
	Appended       uint64              `json:"snapshots_appended"`
	Goroutines     supervisor.Snapshot `json:"goroutines"`
}

func (e *Engine) Snapshot() Snapshot {
	sup := e.running()
	counts := e.reg.CountByKind()
	snap := Snapshot{
		Running:        sup != nil,
		PublishJobs:    counts[JobPublish],
		TrackingJobs:   counts[JobTracking],
		PostsPublished: e.metrics.nPublished.Load(),
		PostsFailed:    e.metrics.nFailed.Load(),
		GuardExits:     e.metrics.nGuardExits.Load(),
		SweepsRun:      e.metrics.nSweeps.Load(),
		SweepRecovered: e.metrics.nRecovered.Load(),
		TrackingCycles: e.metrics.nCycles.Load(),
		Appended:       e.metrics.nAppended.Load(),
	}
	if sup != nil {
		snap.Goroutines = sup.Snapshot()
	}
	return snap
}

func (e *Engine) emit(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.clk.Now(), Data: data})
}
