package app

import (
	"context"
	"fmt"
	"time"

	"crosspost/internal/engine"
	"crosspost/internal/runtime/supervisor"
)

type healthPayload struct {
	Status   string              `json:"status"`
	Uptime   string              `json:"uptime"`
	Posts    map[string]int      `json:"posts"`
	Engine   engine.Snapshot     `json:"engine"`
	Notified int                 `json:"notifications_sent"`
	Runtime  supervisor.Snapshot `json:"runtime"`
}

// healthz builds the /healthz body. The store query doubles as the liveness
// probe: when sqlite stops answering, the endpoint goes degraded.
func (a *App) healthz(ctx context.Context) (any, error) {
	counts, err := a.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	// Keys are plain strings so a `publishing` residue row after a crash is
	// visible to operators before the sweeper picks it up.
	posts := make(map[string]int, len(counts))
	for st, n := range counts {
		posts[st.String()] = n
	}

	p := healthPayload{
		Status:   "ok",
		Uptime:   time.Since(a.startedAt).Round(time.Second).String(),
		Posts:    posts,
		Engine:   a.engine.Snapshot(),
		Notified: len(a.notif.Snapshot()),
	}
	if a.sup != nil {
		p.Runtime = a.sup.Snapshot()
	}
	return p, nil
}
