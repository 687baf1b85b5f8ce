package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/engine"
	"crosspost/internal/notifier"
	"crosspost/internal/observability/debugsrv"
	"crosspost/internal/storage"
	"crosspost/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	if cfg == nil {
		return logx.Config{Console: true}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := storage.Config{Path: "crosspost.db"}
	if cfg == nil {
		return sc, nil
	}
	if p := strings.TrimSpace(cfg.Storage.Path); p != "" {
		sc.Path = p
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	sc.BusyTimeout = busy
	return sc, nil
}

// mapEngineConfig validates and converts the engine section. Zero values keep
// the engine defaults.
func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	var out engine.Config
	if cfg == nil {
		return out, nil
	}
	ec := cfg.Engine

	var err error
	if out.SweepInterval, err = config.ParseDurationField("engine.sweep_interval", ec.SweepInterval); err != nil {
		return engine.Config{}, err
	}
	if out.SweepBackoff, err = config.ParseDurationField("engine.sweep_backoff", ec.SweepBackoff); err != nil {
		return engine.Config{}, err
	}
	if out.TrackInterval, err = config.ParseDurationField("engine.track_interval", ec.TrackInterval); err != nil {
		return engine.Config{}, err
	}
	if out.TrackMaxAge, err = config.ParseDurationField("engine.track_max_age", ec.TrackMaxAge); err != nil {
		return engine.Config{}, err
	}
	if ec.TrackMaxCycles < 0 {
		return engine.Config{}, fmt.Errorf("engine.track_max_cycles must be >= 0")
	}
	out.TrackMaxCycles = ec.TrackMaxCycles
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	if cfg == nil || cfg.Notifier == nil {
		return notifier.Config{}
	}
	nc := cfg.Notifier
	return notifier.Config{
		Enabled:    nc.Enabled && nc.ChatID != 0,
		ChatID:     nc.ChatID,
		QueueSize:  nc.QueueSize,
		RatePerSec: nc.RatePerSec,
	}
}

// mapDebugConfig validates and converts the debug section. It never starts
// the server.
func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	var out debugsrv.Config
	if cfg == nil {
		return out, nil
	}
	dc := cfg.Debug

	out.Enabled = dc.Enabled
	out.AllowInsecure = dc.AllowInsecure
	out.Token = strings.TrimSpace(dc.Token)
	out.Addr = strings.TrimSpace(dc.Addr)
	if out.Addr == "" {
		out.Addr = "127.0.0.1:6060"
	}

	readTO, err := config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	writeTO, err := config.ParseDurationField("debug.write_timeout", dc.WriteTimeout)
	if err != nil {
		return out, err
	}
	idleTO, err := config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.ReadTimeout = readTO
	out.WriteTimeout = writeTO // default 0 (disabled) so long profile reads work
	out.IdleTimeout = idleTO

	if dc.MutexProfileFraction < 0 {
		return out, fmt.Errorf("debug.mutex_profile_fraction must be >= 0")
	}
	if dc.BlockProfileRate < 0 {
		return out, fmt.Errorf("debug.block_profile_rate must be >= 0")
	}
	if dc.MemProfileRate < 0 {
		return out, fmt.Errorf("debug.mem_profile_rate must be >= 0")
	}
	out.MutexProfileFraction = dc.MutexProfileFraction
	out.BlockProfileRate = dc.BlockProfileRate
	out.MemProfileRate = dc.MemProfileRate

	// Validate addr format if enabled.
	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("debug.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		// Security: refuse public bind without explicit opt-in.
		if !out.AllowInsecure && out.Token == "" && !isLoopbackAddr(out.Addr) {
			return out, fmt.Errorf("debug: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}

	return out, nil
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

type maintenanceConfig struct {
	// Retention of metric snapshots; 0 disables pruning.
	Retention time.Duration
	// Spec is the cron spec of the prune job (seconds field optional).
	Spec string
}

func mapMaintenanceConfig(cfg *config.Config) (maintenanceConfig, error) {
	mc := maintenanceConfig{
		Retention: 90 * 24 * time.Hour,
		Spec:      "0 30 4 * * *",
	}
	if cfg == nil {
		return mc, nil
	}
	if raw := strings.TrimSpace(cfg.Maintenance.MetricsRetention); raw != "" {
		d, err := config.ParseDurationField("maintenance.metrics_retention", raw)
		if err != nil {
			return maintenanceConfig{}, err
		}
		// An explicit zero disables pruning.
		mc.Retention = d
	}
	if spec := strings.TrimSpace(cfg.Maintenance.PruneSpec); spec != "" {
		if _, err := cronParser.Parse(spec); err != nil {
			return maintenanceConfig{}, fmt.Errorf("maintenance.prune_spec: invalid %q: %w", spec, err)
		}
		mc.Spec = spec
	}
	return mc, nil
}
