package collector

import (
	"context"
	"fmt"

	"crosspost/internal/content"
	logx "crosspost/pkg/logx"
)

// Mux routes metric fetches to the collector registered for the platform.
// Register is composition-time only; Fetch is safe for concurrent use after
// that.
type Mux struct {
	log      logx.Logger
	adapters map[content.Platform]PlatformCollector
}

func NewMux(log logx.Logger) *Mux {
	return &Mux{
		log:      log.With(logx.String("comp", "collector")),
		adapters: make(map[content.Platform]PlatformCollector),
	}
}

func (m *Mux) Register(platform content.Platform, c PlatformCollector) {
	m.adapters[platform] = c
}

// Platforms lists the platforms with a registered collector.
func (m *Mux) Platforms() []content.Platform {
	out := make([]content.Platform, 0, len(m.adapters))
	for p := range m.adapters {
		out = append(out, p)
	}
	return out
}

func (m *Mux) Fetch(ctx context.Context, post *content.Post, platform content.Platform) (content.MetricSnapshot, error) {
	c, ok := m.adapters[platform]
	if !ok {
		return content.MetricSnapshot{}, fmt.Errorf("no collector configured for %s", platform)
	}
	return c.Fetch(ctx, post)
}
