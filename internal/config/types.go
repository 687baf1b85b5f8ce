package config

// Config is the crosspostd configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Hot-reloadable: logging, engine, notifier, debug, maintenance. Changing
// storage or platform credentials requires a restart; the reload loop warns
// when it sees such a change and keeps the running values.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Platform sections are optional; a post targeting a platform without a
	// configured section fails on that platform only.
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	VK       *VKConfig       `json:"vk,omitempty"`

	Engine      EngineConfig      `json:"engine"`
	Notifier    *NotifierConfig   `json:"notifier,omitempty"`
	Debug       DebugConfig       `json:"debug,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the SQLite post/metrics store.
// Restart required: the database stays open for the process lifetime.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // default "5s"
}

// TelegramConfig configures the Telegram publisher and collector.
// Restart required: the bot session is created once at startup.
type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the channel or chat posts are published to.
	ChatID int64 `json:"chat_id"`
}

// VKConfig configures the VK publisher and collector.
// Restart required: the API client is created once at startup.
type VKConfig struct {
	Token string `json:"token"`
	// OwnerID is the wall to post to; negative values address a community.
	OwnerID    int64  `json:"owner_id"`
	APIVersion string `json:"api_version,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // per-request bound, default "30s"
}

// EngineConfig tunes the scheduling engine.
//
// Defaults (when fields are omitted/zero):
//   - sweep_interval: "60s"
//   - sweep_backoff: "10s"
//   - track_interval: "1h"
//   - track_max_cycles: 30
//   - track_max_age: "168h" (7 days)
type EngineConfig struct {
	SweepInterval  string `json:"sweep_interval,omitempty"`
	SweepBackoff   string `json:"sweep_backoff,omitempty"`
	TrackInterval  string `json:"track_interval,omitempty"`
	TrackMaxCycles int    `json:"track_max_cycles,omitempty"`
	TrackMaxAge    string `json:"track_max_age,omitempty"`
}

// NotifierConfig controls publish/tracking outcome notifications to an admin
// chat. Disabled when the section is omitted or chat_id is 0.
type NotifierConfig struct {
	Enabled bool `json:"enabled"`
	// ChatID is the admin chat that receives the summaries.
	ChatID     int64 `json:"chat_id"`
	QueueSize  int   `json:"queue_size,omitempty"`   // default 64
	RatePerSec int   `json:"rate_per_sec,omitempty"` // default 1
}

// DebugConfig controls the optional debug HTTP server (pprof, /healthz,
// /metrics).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly
//     allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts. WriteTimeout defaults to 0 (disabled) so
	// /debug/pprof/profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// MaintenanceConfig controls storage hygiene.
type MaintenanceConfig struct {
	// MetricsRetention is how long metric snapshots are kept. Empty means the
	// default "2160h" (90 days); an explicit "0" disables pruning.
	MetricsRetention string `json:"metrics_retention,omitempty"`
	// PruneSpec is the cron spec of the prune job (seconds field optional).
	// Default "0 30 4 * * *" (04:30 daily).
	PruneSpec string `json:"prune_spec,omitempty"`
}
