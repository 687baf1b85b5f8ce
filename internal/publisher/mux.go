package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crosspost/internal/content"
	logx "crosspost/pkg/logx"
)

// Mux fans one publish out to the registered per-platform adapters, one
// goroutine per platform. A platform without an adapter gets a failed
// outcome; a panicking adapter is contained to its own outcome.
type Mux struct {
	log      logx.Logger
	adapters map[content.Platform]PlatformPublisher
}

func NewMux(log logx.Logger) *Mux {
	return &Mux{
		log:      log.With(logx.String("comp", "publisher")),
		adapters: map[content.Platform]PlatformPublisher{},
	}
}

// Register wires an adapter for platform. Registration happens at composition
// time, before any Publish; Mux is not locked for concurrent Register.
func (m *Mux) Register(platform content.Platform, p PlatformPublisher) {
	if p == nil {
		return
	}
	m.adapters[platform] = p
}

// Platforms lists the platforms with a registered adapter.
func (m *Mux) Platforms() []content.Platform {
	out := make([]content.Platform, 0, len(m.adapters))
	for pl := range m.adapters {
		out = append(out, pl)
	}
	return out
}

func (m *Mux) Publish(ctx context.Context, text string, media []content.MediaRef, platforms []content.Platform) map[content.Platform]content.PlatformResult {
	results := make(map[content.Platform]content.PlatformResult, len(platforms))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, pl := range platforms {
		adapter, ok := m.adapters[pl]
		if !ok {
			m.log.Warn("no publisher for platform", logx.String("platform", pl.String()))
			results[pl] = content.PlatformResult{Error: "no publisher configured"}
			continue
		}

		wg.Add(1)
		go func(pl content.Platform, adapter PlatformPublisher) {
			defer wg.Done()
			res := m.publishOne(ctx, adapter, pl, text, media)
			mu.Lock()
			results[pl] = res
			mu.Unlock()
		}(pl, adapter)
	}
	wg.Wait()

	return results
}

func (m *Mux) publishOne(ctx context.Context, adapter PlatformPublisher, pl content.Platform, text string, media []content.MediaRef) (res content.PlatformResult) {
	log := m.log.With(logx.String("platform", pl.String()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("publisher panicked", logx.Any("panic", r))
			res = content.PlatformResult{Error: fmt.Sprintf("publisher panicked: %v", r)}
		}
	}()

	start := time.Now()
	ref, err := adapter.Publish(ctx, text, media)
	if err != nil {
		log.Warn("publish failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return content.PlatformResult{Error: err.Error()}
	}
	log.Info("published", logx.String("ref", ref), logx.Duration("took", time.Since(start)))
	return content.PlatformResult{OK: true, Ref: ref}
}
