package app

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"crosspost/internal/storage"
	"crosspost/pkg/logx"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// maintenance owns the storage hygiene cron: pruning metric snapshots older
// than the retention window.
type maintenance struct {
	mu    sync.Mutex
	log   logx.Logger
	store storage.Store

	cfg maintenanceConfig
	c   *cron.Cron
}

func newMaintenance(cfg maintenanceConfig, store storage.Store, log logx.Logger) *maintenance {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &maintenance{cfg: cfg, store: store, log: log.With(logx.String("comp", "maintenance"))}
}

func (m *maintenance) Start(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil {
		return
	}
	if m.cfg.Retention <= 0 || m.store == nil {
		m.log.Debug("metrics pruning disabled")
		return
	}

	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(m.cfg.Spec, func() { m.runPrune(context.Background()) }); err != nil {
		m.log.Error("prune job not scheduled", logx.String("spec", m.cfg.Spec), logx.Err(err))
		return
	}
	m.c = c
	c.Start()
	m.log.Info("metrics pruning scheduled",
		logx.String("spec", m.cfg.Spec),
		logx.Duration("retention", m.cfg.Retention),
	)
}

func (m *maintenance) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.c
	m.c = nil
	m.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
}

// Apply restarts the cron when the spec or retention changed.
func (m *maintenance) Apply(ctx context.Context, cfg maintenanceConfig) {
	m.mu.Lock()
	changed := cfg != m.cfg
	m.cfg = cfg
	m.mu.Unlock()
	if !changed {
		return
	}
	m.Stop(ctx)
	m.Start(ctx)
}

func (m *maintenance) runPrune(ctx context.Context) {
	m.mu.Lock()
	retention := m.cfg.Retention
	st := m.store
	m.mu.Unlock()
	if retention <= 0 || st == nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cutoff := time.Now().Add(-retention)
	n, err := st.PruneMetrics(cctx, cutoff)
	if err != nil {
		m.log.Warn("metrics prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		m.log.Info("metrics pruned", logx.Int64("rows", n), logx.Time("older_than", cutoff))
	} else {
		m.log.Debug("metrics prune: nothing to do", logx.Time("older_than", cutoff))
	}
}
