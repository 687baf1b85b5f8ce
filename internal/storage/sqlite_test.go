package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"crosspost/internal/content"
	logx "crosspost/pkg/logx"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCreateGetRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	due := time.Now().Add(1 * time.Hour).Truncate(time.Millisecond)
	p := &content.Post{
		Text:      "release notes",
		Media:     []content.MediaRef{{Kind: content.MediaPhoto, Ref: "/data/banner.jpg"}},
		Platforms: []content.Platform{content.PlatformTelegram, content.PlatformVK},
		Status:    content.StatusScheduled,
		DueTime:   &due,
	}
	if err := st.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := st.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected post, got nil")
	}
	if got.Text != p.Text {
		t.Fatalf("text = %q, want %q", got.Text, p.Text)
	}
	if got.Status != content.StatusScheduled {
		t.Fatalf("status = %q, want scheduled", got.Status)
	}
	if got.DueTime == nil || !got.DueTime.Equal(due) {
		t.Fatalf("due_time = %v, want %v", got.DueTime, due)
	}
	if got.PublishedTime != nil {
		t.Fatalf("published_time = %v, want nil", got.PublishedTime)
	}
	if len(got.Platforms) != 2 || got.Platforms[0] != content.PlatformTelegram {
		t.Fatalf("platforms = %v", got.Platforms)
	}
	if len(got.Media) != 1 || got.Media[0].Ref != "/data/banner.jpg" {
		t.Fatalf("media = %v", got.Media)
	}
}

func TestGetAbsent(t *testing.T) {
	st := newTestStore(t)

	got, err := st.Get(context.Background(), "no-such-post")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent post, got %+v", got)
	}
}

func TestUpdatePartial(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	due := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	p := &content.Post{
		Text:      "hello",
		Platforms: []content.Platform{content.PlatformVK},
		Status:    content.StatusScheduled,
		DueTime:   &due,
	}
	if err := st.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	publishing := content.StatusPublishing
	if err := st.Update(ctx, p.ID, UpdateFields{Status: &publishing}); err != nil {
		t.Fatalf("update publishing: %v", err)
	}

	got, _ := st.Get(ctx, p.ID)
	if got.Status != content.StatusPublishing {
		t.Fatalf("status = %q, want publishing", got.Status)
	}
	if got.DueTime == nil || !got.DueTime.Equal(due) {
		t.Fatalf("due_time changed by unrelated update: %v", got.DueTime)
	}

	published := content.StatusPublished
	results := map[content.Platform]content.PlatformResult{
		content.PlatformVK: {OK: true, Ref: "-100_42"},
	}
	if err := st.Update(ctx, p.ID, UpdateFields{Status: &published, Results: results}); err != nil {
		t.Fatalf("update published: %v", err)
	}

	got, _ = st.Get(ctx, p.ID)
	if got.Status != content.StatusPublished {
		t.Fatalf("status = %q, want published", got.Status)
	}
	if got.PublishedTime == nil {
		t.Fatal("published_time not stamped on publish")
	}
	if r := got.Results[content.PlatformVK]; !r.OK || r.Ref != "-100_42" {
		t.Fatalf("results = %+v", got.Results)
	}
}

func TestUpdateMissingPost(t *testing.T) {
	st := newTestStore(t)

	s := content.StatusFailed
	err := st.Update(context.Background(), "ghost", UpdateFields{Status: &s})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetByStatusAndTimeRange(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	mkPost := func(offset time.Duration, status content.Status) string {
		due := base.Add(offset)
		p := &content.Post{Platforms: []content.Platform{content.PlatformTelegram}, Status: status, DueTime: &due}
		if err := st.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
		return p.ID
	}

	before := mkPost(-time.Minute, content.StatusScheduled)
	atFrom := mkPost(0, content.StatusScheduled)
	inside := mkPost(30*time.Second, content.StatusScheduled)
	atTo := mkPost(time.Minute, content.StatusScheduled)
	after := mkPost(2*time.Minute, content.StatusScheduled)
	mkPost(15*time.Second, content.StatusDraft) // wrong status, inside window

	got, err := st.GetByStatusAndTimeRange(ctx, content.StatusScheduled, base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	ids := map[string]bool{}
	for _, p := range got {
		ids[p.ID] = true
	}
	// Bounds are inclusive on both ends.
	for _, want := range []string{atFrom, inside, atTo} {
		if !ids[want] {
			t.Fatalf("window missed %s; got %v", want, ids)
		}
	}
	for _, skip := range []string{before, after} {
		if ids[skip] {
			t.Fatalf("window wrongly included %s", skip)
		}
	}

	all, err := st.GetByStatus(ctx, content.StatusScheduled)
	if err != nil {
		t.Fatalf("by status: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("scheduled count = %d, want 5", len(all))
	}
}

func TestMetricsAppendListPrune(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := &content.Post{Platforms: []content.Platform{content.PlatformVK}, Status: content.StatusPublished}
	if err := st.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()
	snaps := []content.MetricSnapshot{
		{Values: map[string]int64{"views": 10, "likes": 1}, CollectedAt: old},
		{Values: map[string]int64{"views": 25, "likes": 4}, CollectedAt: recent},
	}
	for _, sn := range snaps {
		if err := st.AppendMetric(ctx, p.ID, content.PlatformVK, sn); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := st.ListMetrics(ctx, p.ID, content.PlatformVK)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(got))
	}
	if got[0].Values["views"] != 10 || got[1].Values["views"] != 25 {
		t.Fatalf("order/values wrong: %+v", got)
	}

	n, err := st.PruneMetrics(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	got, _ = st.ListMetrics(ctx, p.ID, content.PlatformVK)
	if len(got) != 1 || got[0].Values["views"] != 25 {
		t.Fatalf("after prune: %+v", got)
	}
}

func TestCountByStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, s := range []content.Status{
		content.StatusDraft, content.StatusScheduled, content.StatusScheduled, content.StatusPublished,
	} {
		p := &content.Post{Platforms: []content.Platform{content.PlatformTelegram}, Status: s}
		if err := st.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	want := map[content.Status]int{
		content.StatusDraft:     1,
		content.StatusScheduled: 2,
		content.StatusPublished: 1,
	}
	for s, n := range want {
		if got[s] != n {
			t.Fatalf("count[%s] = %d, want %d", s, got[s], n)
		}
	}
}
