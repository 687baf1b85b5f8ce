package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"crosspost/internal/content"
	"crosspost/internal/engine"
	"crosspost/internal/eventbus"
	"crosspost/internal/runtime/supervisor"
	"crosspost/pkg/logx"
)

// sender is the slice of telebot the notifier needs, split out so tests can
// script it. Sends are bounded by the bot's HTTP client timeout.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Service forwards post outcomes (published, failed, tracking finished) from
// the event bus to an admin chat.
//
// The bus subscription buffer is the queue: when the notifier falls behind,
// the bus drops events instead of blocking publishers.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bot sender
	bus eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	sup      *supervisor.Supervisor
	unsub    func()
	stopDone chan struct{} // non-nil while stopping

	// In-memory history (for /healthz).
	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, bot sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		bot: bot,
		bus: bus,
		log: log.With(logx.String("comp", "notifier")),
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps chat id and rate at runtime. Enabling or disabling, and queue
// size changes, take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	s.cfg = cfg
	// Burst = rate per sec, so a publish fanout doesn't stall the worker.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start subscribes to the bus and launches the send worker. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.unsub != nil {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled || s.bot == nil || s.bus == nil {
		s.mu.Unlock()
		return
	}

	ch, unsub := s.bus.Subscribe(s.cfg.QueueSize)
	s.unsub = unsub

	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		// Notifications are best-effort; failures must not take down the app.
		supervisor.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("worker", func(c context.Context) error {
		s.workerLoop(c, ch)
		// Clean exits happen on shutdown (unsubscribe closes the channel).
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping {
			return context.Canceled
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("notifier worker exited unexpectedly")
	}, supervisor.WithPublishFirstError(true))
}

// Stop unsubscribes from the bus and drains queued events best-effort until
// ctx expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	unsub := s.unsub
	sup := s.sup
	if unsub == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		unsub() // closes the subscription channel; worker drains and exits
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.unsub = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Snapshot returns recently sent notifications, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, ch <-chan eventbus.Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			text := formatEvent(ev)
			if text == "" {
				continue
			}
			s.send(ctx, text)
		}
	}
}

func (s *Service) send(ctx context.Context, text string) {
	s.mu.Lock()
	lim := s.limiter
	chatID := s.cfg.ChatID
	bot := s.bot
	s.mu.Unlock()

	if bot == nil || chatID == 0 {
		return
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}
	if _, err := bot.Send(&tele.Chat{ID: chatID}, text); err != nil {
		s.log.Warn("notify send failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return
	}
	s.appendHistory(text)
}

// formatEvent renders the events worth telling an operator about. Everything
// else returns "" and is skipped.
func formatEvent(ev eventbus.Event) string {
	switch ev.Type {
	case eventbus.TypePostPublished:
		pe, ok := ev.Data.(engine.PostEvent)
		if !ok {
			return ""
		}
		var b strings.Builder
		fmt.Fprintf(&b, "✅ post %s published", pe.PostID)
		for _, line := range resultLines(pe.Results) {
			b.WriteString("\n")
			b.WriteString(line)
		}
		return b.String()

	case eventbus.TypePostFailed:
		pe, ok := ev.Data.(engine.PostEvent)
		if !ok {
			return ""
		}
		var b strings.Builder
		fmt.Fprintf(&b, "❌ post %s failed", pe.PostID)
		for _, line := range resultLines(pe.Results) {
			b.WriteString("\n")
			b.WriteString(line)
		}
		return b.String()

	case eventbus.TypeTrackingFinished:
		te, ok := ev.Data.(engine.TrackingEvent)
		if !ok {
			return ""
		}
		var b strings.Builder
		fmt.Fprintf(&b, "📊 tracking finished for post %s after %d cycles", te.PostID, te.Cycles)
		for _, k := range sortedKeys(te.Values) {
			fmt.Fprintf(&b, "\n%s: %d", k, te.Values[k])
		}
		return b.String()
	}
	return ""
}

func resultLines(results map[content.Platform]content.PlatformResult) []string {
	platforms := make([]string, 0, len(results))
	for p := range results {
		platforms = append(platforms, string(p))
	}
	sort.Strings(platforms)

	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		r := results[content.Platform(p)]
		if r.OK {
			out = append(out, fmt.Sprintf("%s: ok (%s)", p, r.Ref))
		} else {
			out = append(out, fmt.Sprintf("%s: %s", p, r.Error))
		}
	}
	return out
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
