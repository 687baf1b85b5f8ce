package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/eventbus"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

// ---- fakes ----

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type updateCall struct {
	id     string
	fields storage.UpdateFields
}

// memStore is an in-memory storage.Store with failure knobs. Get hands out
// copies so jobs and tests never share a *content.Post.
type memStore struct {
	mu    sync.Mutex
	seq   int
	posts map[string]*content.Post
	snaps map[string][]content.MetricSnapshot

	updates     []updateCall
	statusCalls int
	rangeCalls  int

	getErr          error
	appendErr       error
	failGetByStatus int
	failGetByRange  int
	blockGet        chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		posts: map[string]*content.Post{},
		snaps: map[string][]content.MetricSnapshot{},
	}
}

func clonePost(p *content.Post) *content.Post {
	cp := *p
	if p.DueTime != nil {
		due := *p.DueTime
		cp.DueTime = &due
	}
	if p.PublishedTime != nil {
		pub := *p.PublishedTime
		cp.PublishedTime = &pub
	}
	if p.Results != nil {
		cp.Results = make(map[content.Platform]content.PlatformResult, len(p.Results))
		for k, v := range p.Results {
			cp.Results[k] = v
		}
	}
	return &cp
}

func (s *memStore) Create(_ context.Context, p *content.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		s.seq++
		p.ID = fmt.Sprintf("post-%d", s.seq)
	}
	s.posts[p.ID] = clonePost(p)
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*content.Post, error) {
	s.mu.Lock()
	gate := s.blockGet
	err := s.getErr
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, nil
	}
	return clonePost(p), nil
}

func (s *memStore) GetByStatus(_ context.Context, status content.Status) ([]*content.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls++
	if s.failGetByStatus > 0 {
		s.failGetByStatus--
		return nil, errors.New("store down")
	}
	var out []*content.Post
	for _, p := range s.posts {
		if p.Status == status {
			out = append(out, clonePost(p))
		}
	}
	return out, nil
}

func (s *memStore) GetByStatusAndTimeRange(_ context.Context, status content.Status, from, to time.Time) ([]*content.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rangeCalls++
	if s.failGetByRange > 0 {
		s.failGetByRange--
		return nil, errors.New("store down")
	}
	var out []*content.Post
	for _, p := range s.posts {
		if p.Status != status || p.DueTime == nil {
			continue
		}
		if p.DueTime.Before(from) || p.DueTime.After(to) {
			continue
		}
		out = append(out, clonePost(p))
	}
	return out, nil
}

func (s *memStore) Update(_ context.Context, id string, fields storage.UpdateFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.updates = append(s.updates, updateCall{id: id, fields: fields})
	if fields.Text != nil {
		p.Text = *fields.Text
	}
	if fields.Status != nil {
		p.Status = *fields.Status
	}
	if fields.DueTime != nil {
		due := *fields.DueTime
		p.DueTime = &due
	}
	if fields.PublishedTime != nil {
		pub := *fields.PublishedTime
		p.PublishedTime = &pub
	}
	if fields.Results != nil {
		p.Results = fields.Results
	}
	if fields.Status != nil && *fields.Status == content.StatusPublished && p.PublishedTime == nil {
		now := time.Now()
		p.PublishedTime = &now
	}
	return nil
}

func (s *memStore) AppendMetric(_ context.Context, postID string, platform content.Platform, snap content.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	key := postID + "/" + platform.String()
	s.snaps[key] = append(s.snaps[key], snap)
	return nil
}

func (s *memStore) ListMetrics(_ context.Context, postID string, platform content.Platform) ([]content.MetricSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := postID + "/" + platform.String()
	return append([]content.MetricSnapshot(nil), s.snaps[key]...), nil
}

func (s *memStore) PruneMetrics(_ context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (s *memStore) CountByStatus(_ context.Context) (map[content.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[content.Status]int{}
	for _, p := range s.posts {
		out[p.Status]++
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) put(p *content.Post) {
	s.mu.Lock()
	s.posts[p.ID] = clonePost(p)
	s.mu.Unlock()
}

func (s *memStore) status(id string) content.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.posts[id]; ok {
		return p.Status
	}
	return ""
}

func (s *memStore) post(id string) *content.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.posts[id]; ok {
		return clonePost(p)
	}
	return nil
}

func (s *memStore) getByStatusCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls
}

func (s *memStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *memStore) lastUpdate() (updateCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return updateCall{}, false
	}
	return s.updates[len(s.updates)-1], true
}

func (s *memStore) metricCount(postID string, platform content.Platform) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps[postID+"/"+platform.String()])
}

func (s *memStore) setGetErr(err error) {
	s.mu.Lock()
	s.getErr = err
	s.mu.Unlock()
}

type scriptPublisher struct {
	mu       sync.Mutex
	calls    int
	results  map[content.Platform]content.PlatformResult
	panicMsg string
}

func (p *scriptPublisher) Publish(_ context.Context, text string, _ []content.MediaRef, platforms []content.Platform) map[content.Platform]content.PlatformResult {
	p.mu.Lock()
	p.calls++
	results := p.results
	panicMsg := p.panicMsg
	p.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	if results != nil {
		return results
	}
	out := make(map[content.Platform]content.PlatformResult, len(platforms))
	for _, pl := range platforms {
		out[pl] = content.PlatformResult{OK: true, Ref: "ref-" + pl.String()}
	}
	return out
}

func (p *scriptPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type scriptCollector struct {
	mu    sync.Mutex
	calls []content.Platform
	err   error
}

func (c *scriptCollector) Fetch(_ context.Context, _ *content.Post, platform content.Platform) (content.MetricSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, platform)
	if c.err != nil {
		return content.MetricSnapshot{}, c.err
	}
	return content.MetricSnapshot{Values: map[string]int64{"views": int64(len(c.calls))}}, nil
}

func (c *scriptCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *scriptCollector) platforms() []content.Platform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]content.Platform(nil), c.calls...)
}

// ---- helpers ----

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// startEngine starts an engine over the given fakes and blocks until startup
// reconciliation ran, so tests can mutate the store without racing it.
func startEngine(t *testing.T, cfg Config, st *memStore, pub *scriptPublisher, col *scriptCollector, clk *fakeClock, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(clk), WithLogger(logx.Nop())}, opts...)
	eng := New(cfg, st, pub, col, opts...)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("stop: %v", err)
		}
	})
	waitFor(t, 2*time.Second, func() bool { return st.getByStatusCalls() >= 1 }, "reconciliation never ran")
	return eng
}

func scheduledPost(id string, due time.Time, platforms ...content.Platform) *content.Post {
	if len(platforms) == 0 {
		platforms = []content.Platform{content.PlatformTelegram}
	}
	return &content.Post{
		ID:        id,
		Text:      "text for " + id,
		Platforms: platforms,
		Status:    content.StatusScheduled,
		DueTime:   &due,
	}
}

// ---- tests ----

func TestScheduleRunsAsynchronously(t *testing.T) {
	st := newMemStore()
	pub := &scriptPublisher{}
	clk := newFakeClock(time.Now())

	gate := make(chan struct{})
	eng := startEngine(t, Config{}, st, pub, &scriptCollector{}, clk)

	st.put(scheduledPost("p1", clk.Now().Add(-time.Minute)))
	st.mu.Lock()
	st.blockGet = gate
	st.mu.Unlock()

	// Due in the past: worst case for an inline-publish bug. Schedule must
	// return while the job is still parked on the store read.
	if err := eng.Schedule("p1", clk.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := pub.count(); got != 0 {
		t.Fatalf("publisher called %d times before store read unblocked", got)
	}
	if got := st.status("p1"); got != content.StatusScheduled {
		t.Fatalf("status = %q, want scheduled while job parked", got)
	}

	close(gate)
	waitFor(t, 2*time.Second, func() bool { return st.status("p1") == content.StatusPublished }, "post never published")
	if got := pub.count(); got != 1 {
		t.Fatalf("publisher calls = %d, want 1", got)
	}
}

func TestScheduleReplacesPriorJob(t *testing.T) {
	st := newMemStore()
	pub := &scriptPublisher{}
	clk := newFakeClock(time.Now())

	gate := make(chan struct{})
	eng := startEngine(t, Config{}, st, pub, &scriptCollector{}, clk)

	st.put(scheduledPost("p1", clk.Now().Add(time.Hour)))
	st.mu.Lock()
	st.blockGet = gate
	st.mu.Unlock()

	// First job parks on its one-hour timer, the replacement parks on the
	// store read; only one handle may exist between them.
	if err := eng.Schedule("p1", clk.Now().Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := eng.Schedule("p1", clk.Now().Add(-time.Second)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if got := eng.reg.Len(); got != 1 {
		t.Fatalf("registry len = %d, want 1 after replacement", got)
	}

	close(gate)
	waitFor(t, 2*time.Second, func() bool { return st.status("p1") == content.StatusPublished }, "post never published")
	if got := pub.count(); got != 1 {
		t.Fatalf("publisher calls = %d, want 1 (replaced job must not fire)", got)
	}
	waitFor(t, time.Second, func() bool { return !eng.reg.Contains(Key{PostID: "p1", Kind: JobPublish}) }, "publish handle not released")
}

func TestPublishGuardExit(t *testing.T) {
	st := newMemStore()
	pub := &scriptPublisher{}
	clk := newFakeClock(time.Now())

	gate := make(chan struct{})
	eng := startEngine(t, Config{}, st, pub, &scriptCollector{}, clk)

	st.put(scheduledPost("p1", clk.Now()))
	st.mu.Lock()
	st.blockGet = gate
	st.mu.Unlock()

	if err := eng.Schedule("p1", clk.Now()); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// The post leaves scheduled status while the job is parked; the job must
	// exit without publishing or writing.
	p := st.post("p1")
	p.Status = content.StatusDraft
	st.put(p)
	close(gate)

	waitFor(t, 2*time.Second, func() bool { return eng.Snapshot().GuardExits == 1 }, "guard exit not recorded")
	if got := pub.count(); got != 0 {
		t.Fatalf("publisher calls = %d, want 0", got)
	}
	if got := st.updateCount(); got != 0 {
		t.Fatalf("store updates = %d, want 0", got)
	}
	waitFor(t, time.Second, func() bool { return eng.reg.Len() == 0 }, "job did not remove itself")
}

func TestPublishPartialFailureTracksSucceededOnly(t *testing.T) {
	st := newMemStore()
	clk := newFakeClock(time.Now())
	pub := &scriptPublisher{results: map[content.Platform]content.PlatformResult{
		content.PlatformTelegram: {OK: true, Ref: "42"},
		content.PlatformVK:       {OK: false, Error: "wall is closed"},
	}}
	col := &scriptCollector{}
	eng := startEngine(t, Config{TrackInterval: 5 * time.Millisecond}, st, pub, col, clk)

	st.put(scheduledPost("p1", clk.Now(), content.PlatformTelegram, content.PlatformVK))
	if err := eng.Schedule("p1", clk.Now()); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return st.status("p1") == content.StatusPublished }, "post never published")

	got := st.post("p1")
	if got.PublishedTime == nil || !got.PublishedTime.Equal(clk.Now()) {
		t.Fatalf("published_time = %v, want clock time %v", got.PublishedTime, clk.Now())
	}
	if r := got.Results[content.PlatformTelegram]; !r.OK || r.Ref != "42" {
		t.Fatalf("telegram result = %+v", r)
	}
	if r := got.Results[content.PlatformVK]; r.OK || r.Error == "" {
		t.Fatalf("vk result = %+v", r)
	}

	// Terminal write is one update: status, results and published_time together.
	last, ok := st.lastUpdate()
	if !ok || last.fields.Status == nil || *last.fields.Status != content.StatusPublished ||
		last.fields.Results == nil || last.fields.PublishedTime == nil {
		t.Fatalf("terminal update incomplete: %+v", last.fields)
	}
	if got := st.updateCount(); got != 2 {
		t.Fatalf("store updates = %d, want 2 (publishing flip + terminal)", got)
	}

	waitFor(t, 2*time.Second, func() bool { return col.count() >= 2 }, "tracking never collected")
	for _, pl := range col.platforms() {
		if pl != content.PlatformTelegram {
			t.Fatalf("collector called for %q, want telegram only", pl)
		}
	}
	if !eng.reg.Contains(Key{PostID: "p1", Kind: JobTracking}) {
		t.Fatal("tracking job not registered")
	}
}

func TestPublishAllPlatformsFailed(t *testing.T) {
	st := newMemStore()
	clk := newFakeClock(time.Now())
	pub := &scriptPublisher{results: map[content.Platform]content.PlatformResult{
		content.PlatformTelegram: {OK: false, Error: "chat not found"},
	}}
	eng := startEngine(t, Config{}, st, pub, &scriptCollector{}, clk)

	st.put(scheduledPost("p1", clk.Now()))
	if err := eng.Schedule("p1", clk.Now()); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return st.status("p1") == content.StatusFailed }, "post never failed")

	got := st.post("p1")
	if got.PublishedTime != nil {
		t.Fatalf("published_time = %v, want nil on failure", got.PublishedTime)
	}
	if eng.reg.Contains(Key{PostID: "p1", Kind: JobTracking}) {
		t.Fatal("tracking started for a failed post")
	}
	if snap := eng.Snapshot(); snap.PostsFailed != 1 {
		t.Fatalf("posts failed = %d, want 1", snap.PostsFailed)
	}
}

func TestPublisherPanicBecomesFailedStatus(t *testing.T) {
	st := newMemStore()
	clk := newFakeClock(time.Now())
	pub := &scriptPublisher{panicMsg: "token rotated mid flight"}
	eng := startEngine(t, Config{}, st, pub, &scriptCollector{}, clk)

	st.put(scheduledPost("p1", clk.Now()))
	if err := eng.Schedule("p1", clk.Now()); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return st.status("p1") == content.StatusFailed }, "panic not converted to failed status")
	waitFor(t, time.Second, func() bool { return eng.reg.Len() == 0 }, "job did not remove itself after panic")
}

func TestCancelUnknownIsNoop(t *testing.T) {
	st := newMemStore()
	clk := newFakeClock(time.Now())
	eng := startEngine(t, Config{}, st, &scriptPublisher{}, &scriptCollector{}, clk)

	if eng.Cancel("ghost") {
		t.Fatal("Cancel(ghost) = true, want false")
	}
	if eng.StopTracking("ghost") {
		t.Fatal("StopTracking(ghost) = true, want false")
	}
}

func TestCancelPreventsPublish(t *testing.T) {
	st := newMemStore()
	pub := &scriptPublisher{}
	clk := newFakeClock(time.Now())
	eng := startEngine(t, Config{}, st, pub, &scriptCollector{}, clk)

	st.put(scheduledPost("p1", clk.Now().Add(50*time.Millisecond)))
	if err := eng.Schedule("p1", clk.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !eng.Cancel("p1") {
		t.Fatal("Cancel = false, want true for armed job")
	}

	time.Sleep(120 * time.Millisecond)
	if got := pub.count(); got != 0 {
		t.Fatalf("publisher calls = %d, want 0 after cancel", got)
	}
	if got := st.status("p1"); got != content.StatusScheduled {
		t.Fatalf("status = %q, want scheduled (cancel must not touch the record)", got)
	}
	if got := eng.reg.Len(); got != 0 {
		t.Fatalf("registry len = %d, want 0", got)
	}
}

func TestSurfaceRejectsWhenStopped(t *testing.T) {
	st := newMemStore()
	clk := newFakeClock(time.Now())
	eng := New(Config{}, st, &scriptPublisher{}, &scriptCollector{}, WithClock(clk), WithLogger(logx.Nop()))

	if err := eng.Schedule("p1", clk.Now()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Schedule err = %v, want ErrStopped", err)
	}
	if err := eng.StartTracking("p1", []content.Platform{content.PlatformVK}); !errors.Is(err, ErrStopped) {
		t.Fatalf("StartTracking err = %v, want ErrStopped", err)
	}
	if err := eng.Reschedule(context.Background(), "p1", clk.Now()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Reschedule err = %v, want ErrStopped", err)
	}
}

func TestStopCancelsArmedJobs(t *testing.T) {
	st := newMemStore()
	pub := &scriptPublisher{}
	clk := newFakeClock(time.Now())
	eng := New(Config{}, st, pub, &scriptCollector{}, WithClock(clk), WithLogger(logx.Nop()))
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	waitFor(t, 2*time.Second, func() bool { return st.getByStatusCalls() >= 1 }, "reconciliation never ran")

	st.put(scheduledPost("p1", clk.Now().Add(time.Hour)))
	if err := eng.Schedule("p1", clk.Now().Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := eng.reg.Len(); got != 0 {
		t.Fatalf("registry len = %d after stop, want 0", got)
	}
	if got := pub.count(); got != 0 {
		t.Fatalf("publisher calls = %d, want 0", got)
	}
	if err := eng.Schedule("p1", clk.Now()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Schedule after stop err = %v, want ErrStopped", err)
	}
}

func TestRescheduleUnknownAndTerminalPosts(t *testing.T) {
	st := newMemStore()
	clk := newFakeClock(time.Now())
	eng := startEngine(t, Config{}, st, &scriptPublisher{}, &scriptCollector{}, clk)
	ctx := context.Background()

	if err := eng.Reschedule(ctx, "ghost", clk.Now()); !errors.Is(err, ErrUnknownPost) {
		t.Fatalf("err = %v, want ErrUnknownPost", err)
	}

	pub := clk.Now()
	st.put(&content.Post{
		ID:            "done",
		Status:        content.StatusPublished,
		Platforms:     []content.Platform{content.PlatformVK},
		PublishedTime: &pub,
	})
	if err := eng.Reschedule(ctx, "done", clk.Now().Add(time.Hour)); !errors.Is(err, ErrNotSchedulable) {
		t.Fatalf("err = %v, want ErrNotSchedulable", err)
	}
}

func TestRescheduleFailedPostPublishes(t *testing.T) {
	st := newMemStore()
	pub := &scriptPublisher{}
	clk := newFakeClock(time.Now())
	eng := startEngine(t, Config{}, st, pub, &scriptCollector{}, clk)

	oldDue := clk.Now().Add(-time.Hour)
	st.put(&content.Post{
		ID:        "p1",
		Text:      "second try",
		Status:    content.StatusFailed,
		Platforms: []content.Platform{content.PlatformTelegram},
		DueTime:   &oldDue,
	})

	due := clk.Now().Add(-time.Second)
	if err := eng.Reschedule(context.Background(), "p1", due); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return st.status("p1") == content.StatusPublished }, "rescheduled post never published")
	got := st.post("p1")
	if got.DueTime == nil || !got.DueTime.Equal(due) {
		t.Fatalf("due_time = %v, want %v", got.DueTime, due)
	}
	if pub.count() != 1 {
		t.Fatalf("publisher calls = %d, want 1", pub.count())
	}
}

func TestRescheduleScheduledKeepsStatus(t *testing.T) {
	st := newMemStore()
	clk := newFakeClock(time.Now())
	eng := startEngine(t, Config{}, st, &scriptPublisher{}, &scriptCollector{}, clk)

	st.put(scheduledPost("p1", clk.Now().Add(time.Hour)))
	due := clk.Now().Add(2 * time.Hour)
	if err := eng.Reschedule(context.Background(), "p1", due); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	last, ok := st.lastUpdate()
	if !ok {
		t.Fatal("no store update recorded")
	}
	if last.fields.Status != nil {
		t.Fatalf("status touched on scheduled->scheduled reschedule: %v", *last.fields.Status)
	}
	got := st.post("p1")
	if got.DueTime == nil || !got.DueTime.Equal(due) {
		t.Fatalf("due_time = %v, want %v", got.DueTime, due)
	}
	if !eng.reg.Contains(Key{PostID: "p1", Kind: JobPublish}) {
		t.Fatal("publish job not re-armed")
	}
}

func TestStartTrackingValidation(t *testing.T) {
	st := newMemStore()
	clk := newFakeClock(time.Now())
	eng := startEngine(t, Config{}, st, &scriptPublisher{}, &scriptCollector{}, clk)

	if err := eng.StartTracking("p1", nil); err == nil {
		t.Fatal("StartTracking with no platforms: err = nil, want error")
	}
	if err := eng.StartTracking("", []content.Platform{content.PlatformVK}); err == nil {
		t.Fatal("StartTracking with empty id: err = nil, want error")
	}
}

func TestEngineEvents(t *testing.T) {
	st := newMemStore()
	clk := newFakeClock(time.Now())
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	eng := startEngine(t, Config{TrackInterval: time.Hour}, st, &scriptPublisher{}, &scriptCollector{}, clk, WithBus(bus))

	st.put(scheduledPost("p1", clk.Now()))
	if err := eng.Schedule("p1", clk.Now()); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[eventbus.TypeTrackingStarted] {
		select {
		case ev := <-ch:
			seen[ev.Type] = true
		case <-deadline:
			t.Fatalf("timed out, events seen: %v", seen)
		}
	}
	for _, typ := range []string{eventbus.TypePostScheduled, eventbus.TypePostPublished} {
		if !seen[typ] {
			t.Fatalf("event %s not emitted (seen: %v)", typ, seen)
		}
	}
}
