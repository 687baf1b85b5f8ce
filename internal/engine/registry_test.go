package engine

import (
	"context"
	"testing"
)

func TestRegistryRegisterCancelsPrior(t *testing.T) {
	r := NewRegistry()
	key := Key{PostID: "p1", Kind: JobPublish}

	ctx1, cancel1 := context.WithCancel(context.Background())
	gen1 := r.Register(key, cancel1)

	ctx2, cancel2 := context.WithCancel(context.Background())
	gen2 := r.Register(key, cancel2)

	if gen2 <= gen1 {
		t.Fatalf("gen2 = %d, want > %d", gen2, gen1)
	}
	select {
	case <-ctx1.Done():
	default:
		t.Fatal("prior handle not cancelled on re-register")
	}
	select {
	case <-ctx2.Done():
		t.Fatal("new handle cancelled on register")
	default:
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	key := Key{PostID: "p1", Kind: JobPublish}

	ctx, cancel := context.WithCancel(context.Background())
	r.Register(key, cancel)

	if !r.Cancel(key) {
		t.Fatal("Cancel() = false, want true for live handle")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("handle not signalled by Cancel")
	}
	if r.Contains(key) {
		t.Fatal("Contains() = true after Cancel")
	}
	if r.Cancel(key) {
		t.Fatal("Cancel() = true for absent key")
	}
}

func TestRegistryReleaseGenerationGuard(t *testing.T) {
	r := NewRegistry()
	key := Key{PostID: "p1", Kind: JobTracking}

	_, cancel1 := context.WithCancel(context.Background())
	gen1 := r.Register(key, cancel1)

	_, cancel2 := context.WithCancel(context.Background())
	gen2 := r.Register(key, cancel2)

	// Stale job finishing late must not evict its replacement.
	r.Release(key, gen1)
	if !r.Contains(key) {
		t.Fatal("stale Release evicted the live handle")
	}

	r.Release(key, gen2)
	if r.Contains(key) {
		t.Fatal("current Release did not remove the handle")
	}
}

func TestRegistryKindsAreIndependent(t *testing.T) {
	r := NewRegistry()
	_, cancelPub := context.WithCancel(context.Background())
	ctxTrk, cancelTrk := context.WithCancel(context.Background())

	r.Register(Key{PostID: "p1", Kind: JobPublish}, cancelPub)
	r.Register(Key{PostID: "p1", Kind: JobTracking}, cancelTrk)

	if got := r.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	r.Cancel(Key{PostID: "p1", Kind: JobPublish})
	select {
	case <-ctxTrk.Done():
		t.Fatal("cancelling publish slot signalled the tracking slot")
	default:
	}

	counts := r.CountByKind()
	if counts[JobPublish] != 0 || counts[JobTracking] != 1 {
		t.Fatalf("CountByKind() = %v, want publish=0 tracking=1", counts)
	}
}

func TestRegistryCancelAll(t *testing.T) {
	r := NewRegistry()
	ctxs := make([]context.Context, 0, 3)
	for _, id := range []string{"a", "b", "c"} {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs = append(ctxs, ctx)
		r.Register(Key{PostID: id, Kind: JobPublish}, cancel)
	}

	r.CancelAll()

	if got := r.Len(); got != 0 {
		t.Fatalf("Len() = %d after CancelAll, want 0", got)
	}
	for i, ctx := range ctxs {
		select {
		case <-ctx.Done():
		default:
			t.Fatalf("handle %d not signalled by CancelAll", i)
		}
	}
}
