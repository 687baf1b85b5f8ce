package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crosspost/pkg/logx"
)

// attrString renders a single field as a JSON log line for inspection.
func attrString(f logx.Field) string {
	var buf bytes.Buffer
	e := zerolog.New(&buf).Info()
	f(e)
	e.Msg("")
	return buf.String()
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"storage": {"path": "crosspost.db", "busy_timeout": "2s"},
		"telegram": {"token": "123:abc", "chat_id": -100200},
		"engine": {"sweep_interval": "30s", "track_max_cycles": 5}
	}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Storage.Path != "crosspost.db" {
		t.Fatalf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Telegram == nil || cfg.Telegram.ChatID != -100200 {
		t.Fatalf("Telegram section not decoded: %+v", cfg.Telegram)
	}
	if cfg.VK != nil {
		t.Fatalf("VK should be nil when omitted, got %+v", cfg.VK)
	}
	if cfg.Engine.TrackMaxCycles != 5 {
		t.Fatalf("Engine.TrackMaxCycles = %d, want 5", cfg.Engine.TrackMaxCycles)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", strings.Join([]string{
		"logging:",
		"  level: info",
		"  console: true",
		"storage:",
		"  path: /var/lib/crosspost/posts.db",
		"vk:",
		"  token: vk1.a.secret",
		"  owner_id: -42",
		"engine: {}",
	}, "\n"))

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.VK == nil || cfg.VK.OwnerID != -42 {
		t.Fatalf("VK section not decoded: %+v", cfg.VK)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"logging": {"level": "info"}, "storge": {}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"logging": {"level": "info"}, "storage": {}, "engine": {}}{}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{Path: "a.db"},
	}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "debug"},
		Storage:  StorageConfig{Path: "a.db"},
		Telegram: &TelegramConfig{Token: "123:topsecret", ChatID: 7},
		Debug:    DebugConfig{Enabled: true, Token: "hunter2"},
	}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)

	want := []string{"debug", "logging", "telegram"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
	// attrs are safe for logging: secrets must never appear.
	for _, f := range attrs {
		s := attrString(f)
		if strings.Contains(s, "topsecret") || strings.Contains(s, "hunter2") {
			t.Fatalf("attr leaked a secret: %s", s)
		}
	}
}

func TestSummarizeConfigChangeNoChange(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Logging:  LoggingConfig{Level: "info"},
		Notifier: &NotifierConfig{Enabled: true, ChatID: 1},
	}
	changed, _ := SummarizeConfigChange(cfg, cfg)
	if len(changed) != 0 {
		t.Fatalf("changed = %v, want none", changed)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("engine.sweep_interval", " 45s ")
	if err != nil {
		t.Fatalf("ParseDurationField error: %v", err)
	}
	if d != 45*time.Second {
		t.Fatalf("d = %v, want 45s", d)
	}

	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should parse to 0, got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "1m", 5*time.Second)
	if err != nil || d != time.Minute {
		t.Fatalf("explicit value not used: %v, %v", d, err)
	}
}
