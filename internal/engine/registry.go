package engine

import (
	"context"
	"sync"
)

// JobKind distinguishes the two job slots a post can occupy.
type JobKind string

const (
	JobPublish  JobKind = "publish"
	JobTracking JobKind = "tracking"
)

// Key identifies one job slot: a post may hold at most one live job per kind.
type Key struct {
	PostID string
	Kind   JobKind
}

type handle struct {
	gen    uint64
	cancel context.CancelFunc
}

// Registry tracks the cancel tokens of in-flight jobs.
//
// Invariant: at most one live handle per Key. Register cancels any prior
// handle before storing the new one; a replaced job that later tries to
// remove itself is ignored via the generation stamp, so it can never evict
// its replacement.
//
// All methods are safe under concurrent callers (publish jobs, tracking
// loops, the sweeper, external cancel requests). One mutex is enough for the
// expected cardinality of hundreds to low thousands of jobs.
type Registry struct {
	mu   sync.Mutex
	gen  uint64
	jobs map[Key]handle
}

func NewRegistry() *Registry {
	return &Registry{jobs: map[Key]handle{}}
}

// Register stores cancel under key, cancelling any handle already there.
// It returns the generation stamp the job must present to Release itself.
func (r *Registry) Register(key Key, cancel context.CancelFunc) uint64 {
	r.mu.Lock()
	prev, ok := r.jobs[key]
	r.gen++
	gen := r.gen
	r.jobs[key] = handle{gen: gen, cancel: cancel}
	r.mu.Unlock()

	// Signal outside the lock; cancellation is cooperative and must not block
	// Register.
	if ok && prev.cancel != nil {
		prev.cancel()
	}
	return gen
}

// Cancel signals and removes the handle for key. Cancelling an absent key is
// a no-op; the return value reports whether a live job was actually cancelled.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	h, ok := r.jobs[key]
	if ok {
		delete(r.jobs, key)
	}
	r.mu.Unlock()

	if ok && h.cancel != nil {
		h.cancel()
	}
	return ok
}

// Contains reports whether a live handle exists for key.
func (r *Registry) Contains(key Key) bool {
	r.mu.Lock()
	_, ok := r.jobs[key]
	r.mu.Unlock()
	return ok
}

// Release removes the entry for key only if it still belongs to gen. Jobs
// call it on completion; when the slot was re-registered in the meantime the
// call is a no-op and the replacement stays.
func (r *Registry) Release(key Key, gen uint64) {
	r.mu.Lock()
	if h, ok := r.jobs[key]; ok && h.gen == gen {
		delete(r.jobs, key)
	}
	r.mu.Unlock()
}

// CancelAll signals every registered handle and clears the registry.
// Used on engine shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	hs := make([]handle, 0, len(r.jobs))
	for _, h := range r.jobs {
		hs = append(hs, h)
	}
	r.jobs = map[Key]handle{}
	r.mu.Unlock()

	for _, h := range hs {
		if h.cancel != nil {
			h.cancel()
		}
	}
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	n := len(r.jobs)
	r.mu.Unlock()
	return n
}

// CountByKind reports live handles per job kind, for health output.
func (r *Registry) CountByKind() map[JobKind]int {
	r.mu.Lock()
	out := make(map[JobKind]int, 2)
	for k := range r.jobs {
		out[k.Kind]++
	}
	r.mu.Unlock()
	return out
}
