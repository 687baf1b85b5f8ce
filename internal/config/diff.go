package config

import (
	"sort"
	"strings"

	"crosspost/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage (restart required; surfaced so the reload loop can warn)
	if strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Telegram (never log token; restart required)
	oTG, nTG := derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)
	if (oldCfg.Telegram != nil) != (newCfg.Telegram != nil) ||
		oTG.ChatID != nTG.ChatID ||
		(strings.TrimSpace(oTG.Token) != "") != (strings.TrimSpace(nTG.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.present", newCfg.Telegram != nil),
			logx.Bool("telegram.token_set", strings.TrimSpace(nTG.Token) != ""),
			logx.Int64("telegram.chat_id", nTG.ChatID),
		)
	}

	// VK (never log token; restart required)
	oVK, nVK := derefVK(oldCfg.VK), derefVK(newCfg.VK)
	if (oldCfg.VK != nil) != (newCfg.VK != nil) ||
		oVK.OwnerID != nVK.OwnerID ||
		strings.TrimSpace(oVK.APIVersion) != strings.TrimSpace(nVK.APIVersion) ||
		strings.TrimSpace(oVK.Timeout) != strings.TrimSpace(nVK.Timeout) ||
		(strings.TrimSpace(oVK.Token) != "") != (strings.TrimSpace(nVK.Token) != "") {
		changed = append(changed, "vk")
		attrs = append(attrs,
			logx.Bool("vk.present", newCfg.VK != nil),
			logx.Bool("vk.token_set", strings.TrimSpace(nVK.Token) != ""),
			logx.Int64("vk.owner_id", nVK.OwnerID),
		)
	}

	// Engine
	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.sweep_interval", strings.TrimSpace(newCfg.Engine.SweepInterval)),
			logx.String("engine.sweep_backoff", strings.TrimSpace(newCfg.Engine.SweepBackoff)),
			logx.String("engine.track_interval", strings.TrimSpace(newCfg.Engine.TrackInterval)),
			logx.Int("engine.track_max_cycles", newCfg.Engine.TrackMaxCycles),
			logx.String("engine.track_max_age", strings.TrimSpace(newCfg.Engine.TrackMaxAge)),
		)
	}

	// Notifier. Section may be nil (omitted); nil means disabled.
	oN, nN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if (oldCfg.Notifier != nil) != (newCfg.Notifier != nil) || oN != nN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier != nil && nN.Enabled),
			logx.Int64("notifier.chat_id", nN.ChatID),
			logx.Int("notifier.queue_size", nN.QueueSize),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
		)
	}

	// Debug (never log token)
	oD, nD := oldCfg.Debug, newCfg.Debug
	if oD.Enabled != nD.Enabled ||
		strings.TrimSpace(oD.Addr) != strings.TrimSpace(nD.Addr) ||
		oD.AllowInsecure != nD.AllowInsecure ||
		strings.TrimSpace(oD.ReadTimeout) != strings.TrimSpace(nD.ReadTimeout) ||
		strings.TrimSpace(oD.WriteTimeout) != strings.TrimSpace(nD.WriteTimeout) ||
		strings.TrimSpace(oD.IdleTimeout) != strings.TrimSpace(nD.IdleTimeout) ||
		oD.MutexProfileFraction != nD.MutexProfileFraction ||
		oD.BlockProfileRate != nD.BlockProfileRate ||
		oD.MemProfileRate != nD.MemProfileRate ||
		(strings.TrimSpace(oD.Token) != "") != (strings.TrimSpace(nD.Token) != "") {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nD.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nD.Token) != ""),
			logx.Bool("debug.allow_insecure", nD.AllowInsecure),
		)
	}

	// Maintenance
	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.String("maintenance.metrics_retention", strings.TrimSpace(newCfg.Maintenance.MetricsRetention)),
			logx.String("maintenance.prune_spec", strings.TrimSpace(newCfg.Maintenance.PruneSpec)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTelegram(c *TelegramConfig) TelegramConfig {
	if c == nil {
		return TelegramConfig{}
	}
	return *c
}

func derefVK(c *VKConfig) VKConfig {
	if c == nil {
		return VKConfig{}
	}
	return *c
}

func derefNotifier(c *NotifierConfig) NotifierConfig {
	if c == nil {
		return NotifierConfig{}
	}
	return *c
}
