package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate rate-limits repeated log sites.
//
// Long-lived loops (sweep retries, tracking cycles) can emit the same warning
// every few seconds. A Gate lets one line through per key per interval and
// counts the rest, so suppressed volume stays visible in the line that does
// get written.
type Gate struct {
	mu    sync.Mutex
	every time.Duration
	sites map[string]*gateSite
}

type gateSite struct {
	lim        *rate.Limiter
	suppressed uint64
}

// NewGate returns a Gate allowing one event per key per every.
func NewGate(every time.Duration) *Gate {
	if every <= 0 {
		every = 30 * time.Second
	}
	return &Gate{every: every, sites: map[string]*gateSite{}}
}

// Allow reports whether the caller should log now. When it returns true it
// also reports how many events were suppressed since the last allowed one.
func (g *Gate) Allow(key string) (ok bool, suppressed uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.sites[key]
	if st == nil {
		st = &gateSite{lim: rate.NewLimiter(rate.Every(g.every), 1)}
		g.sites[key] = st
	}
	if st.lim.Allow() {
		n := st.suppressed
		st.suppressed = 0
		return true, n
	}
	st.suppressed++
	return false, 0
}
