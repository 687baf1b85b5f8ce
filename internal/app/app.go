package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"crosspost/internal/collector"
	"crosspost/internal/config"
	"crosspost/internal/content"
	"crosspost/internal/engine"
	"crosspost/internal/eventbus"
	"crosspost/internal/notifier"
	"crosspost/internal/observability/debugsrv"
	"crosspost/internal/platform/vk"
	"crosspost/internal/publisher"
	"crosspost/internal/runtime/supervisor"
	"crosspost/internal/storage"
	"crosspost/pkg/logx"
)

// App wires storage, platform publishers/collectors, the scheduling engine,
// the notifier, the debug server, and the maintenance cron, and owns their
// lifecycle plus config hot-reload.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	bot   *tele.Bot

	platforms []content.Platform

	engine *engine.Engine
	notif  *notifier.Service
	debug  *debugsrv.Service
	maint  *maintenance

	startedAt time.Time
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	// From here on, close the store when construction fails.
	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	pub := publisher.NewMux(logSvc.Logger())
	col := collector.NewMux(logSvc.Logger())

	var bot *tele.Bot
	if cfg.Telegram != nil {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fail(fmt.Errorf("telegram.token is empty"))
		}
		bot, err = tele.NewBot(tele.Settings{
			Token:  cfg.Telegram.Token,
			Client: &http.Client{Timeout: 30 * time.Second},
		})
		if err != nil {
			return fail(fmt.Errorf("telegram: %w", err))
		}
		pub.Register(content.PlatformTelegram, publisher.NewTelegram(bot, cfg.Telegram.ChatID, logSvc.Logger()))
		col.Register(content.PlatformTelegram, collector.NewTelegram(bot, cfg.Telegram.ChatID, logSvc.Logger()))
		log.Info("telegram platform enabled", logx.Int64("chat_id", cfg.Telegram.ChatID))
	}

	if cfg.VK != nil {
		if strings.TrimSpace(cfg.VK.Token) == "" {
			return fail(fmt.Errorf("vk.token is empty"))
		}
		timeout, err := config.ParseDurationOrDefault("vk.timeout", cfg.VK.Timeout, 30*time.Second)
		if err != nil {
			return fail(err)
		}
		vkc := vk.New(vk.Config{
			Token:      cfg.VK.Token,
			OwnerID:    cfg.VK.OwnerID,
			APIVersion: cfg.VK.APIVersion,
			Timeout:    timeout,
		}, logSvc.Logger())
		pub.Register(content.PlatformVK, publisher.NewVK(vkc, logSvc.Logger()))
		col.Register(content.PlatformVK, collector.NewVK(vkc, logSvc.Logger()))
		log.Info("vk platform enabled", logx.Int64("owner_id", cfg.VK.OwnerID))
	}

	if len(pub.Platforms()) == 0 {
		log.Warn("no platforms configured; posts will fail until telegram or vk is set up")
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	eng := engine.New(engCfg, store, pub, col,
		engine.WithBus(bus),
		engine.WithLogger(logSvc.Logger()),
	)

	// Pass a literal nil when telegram is off: a nil *tele.Bot stuffed into the
	// interface would look non-nil to the notifier.
	var notif *notifier.Service
	if bot != nil {
		notif = notifier.New(mapNotifierConfig(cfg), bot, bus, logSvc.Logger())
	} else {
		notif = notifier.New(mapNotifierConfig(cfg), nil, bus, logSvc.Logger())
	}

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return fail(err)
	}

	mc, err := mapMaintenanceConfig(cfg)
	if err != nil {
		return fail(err)
	}

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		bot:       bot,
		platforms: pub.Platforms(),
		engine:    eng,
		notif:     notif,
		maint:     newMaintenance(mc, store, logSvc.Logger()),
	}
	a.debug = debugsrv.New(dcfg, a.healthz, eng.Gatherer(), logSvc.Logger())
	return a, nil
}

// Engine exposes the scheduling engine for operational tooling.
func (a *App) Engine() *engine.Engine { return a.engine }

// Store exposes the post store for operational tooling.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		if _, err := mapMaintenanceConfig(cfg); err != nil {
			return err
		}
		if cfg.Telegram != nil && strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is empty")
		}
		if cfg.VK != nil {
			if strings.TrimSpace(cfg.VK.Token) == "" {
				return fmt.Errorf("vk.token is empty")
			}
			if _, err := config.ParseDurationField("vk.timeout", cfg.VK.Timeout); err != nil {
				return err
			}
		}
		return nil
	})

	if err := a.engine.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}
	a.maint.Start(a.sup.Context())

	// Log events for observability/debug (components subscribe themselves for
	// real work).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level to avoid noise on busy schedules.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload config fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				a.applyReload(c, newCfg, sections)

				// Keep the final log line concise and human-friendly (details are in debug logs).
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("platforms", len(a.platforms)),
		logx.Bool("notifier", a.notif.Enabled()),
		logx.Bool("debug", a.debug.Enabled()),
	)
	return nil
}

// applyReload pushes a validated config into the running components. Sections
// that need a restart (storage, platform credentials) only produce a warning.
func (a *App) applyReload(ctx context.Context, cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "telegram", "vk":
			a.log.Warn("platform credentials changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(cfg))

	if engCfg, err := mapEngineConfig(cfg); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(engCfg)
	}

	// Notifier may flip enabled state at runtime.
	prevNotifEnabled := a.notif.Enabled()
	ncfg := mapNotifierConfig(cfg)
	a.notif.Apply(ncfg)
	if prevNotifEnabled && !ncfg.Enabled {
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	} else if !prevNotifEnabled && ncfg.Enabled {
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	if dcfg, err := mapDebugConfig(cfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dcfg)
	}

	if mcfg, err := mapMaintenanceConfig(cfg); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else {
		a.maint.Apply(ctx, mcfg)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Engine first: it stops arming jobs and lets in-flight publishes settle.
	step("engine", 5*time.Second, func(c context.Context) error { return a.engine.Stop(c) })
	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	// Notifier after the engine so final outcome events get drained.
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("debugsrv", 1*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
