package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/storewatch/storewatch/change"
)

func TestParse_Full(t *testing.T) {
	data := []byte(`
url: https://app.example.com/login
storages: [local, sessionStorage]
monitor:
  poll_interval: 250ms
  log_cap: 500
  persist_cap: 50
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/abc
  stealth: false
  resource_blocking: [image]
store:
  driver: sqlite
  path: /tmp/storewatch.db
http:
  addr: ":8088"
sinks:
  - type: stdout
  - type: webhook
    url: https://hooks.example.com/storage
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Monitor.PollInterval != 250*time.Millisecond {
		t.Errorf("poll_interval = %v", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.DurationInterval != time.Second {
		t.Errorf("duration_interval default = %v", cfg.Monitor.DurationInterval)
	}
	if cfg.Browser.StealthEnabled() {
		t.Error("stealth should be disabled")
	}
	got := cfg.StorageTypes()
	if len(got) != 2 || got[0] != change.Local || got[1] != change.Session {
		t.Errorf("StorageTypes = %v", got)
	}
	if cfg.Sinks[1].RetryCount() != 3 || cfg.Sinks[1].Backoff != time.Second {
		t.Errorf("webhook defaults = %+v", cfg.Sinks[1])
	}
}

func TestParse_ZeroRetriesKept(t *testing.T) {
	cfg, err := Parse([]byte(`
url: https://app.example.com
sinks:
  - type: webhook
    url: https://hooks.example.com/a
    retries: 0
  - type: webhook
    url: https://hooks.example.com/b
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.Sinks[0].RetryCount(); got != 0 {
		t.Errorf("explicit retries: 0 = %d, want 0", got)
	}
	if got := cfg.Sinks[1].RetryCount(); got != DefaultRetries {
		t.Errorf("absent retries = %d, want %d", got, DefaultRetries)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default("https://example.com")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("driver = %q, want memory", cfg.Store.Driver)
	}
	if !cfg.Browser.StealthEnabled() {
		t.Error("stealth should default to on")
	}
	if st := cfg.StorageTypes(); len(st) != 1 || st[0] != change.Local {
		t.Errorf("StorageTypes = %v", st)
	}
	if cfg.Monitor.LogCap != 1000 || cfg.Monitor.PersistCap != 100 {
		t.Errorf("caps = %d/%d", cfg.Monitor.LogCap, cfg.Monitor.PersistCap)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing url", `storages: [local]`, "URL"},
		{"bad storage", "url: https://x.example\nstorages: [indexedDB]", "Storages[0]"},
		{"webhook without url", "url: https://x.example\nsinks:\n  - type: webhook", "Sinks[0].URL"},
		{"unknown sink", "url: https://x.example\nsinks:\n  - type: kafka", "Sinks[0].Type"},
		{"sqlite without path", "url: https://x.example\nstore:\n  driver: sqlite", "Store.Path"},
		{"persist above cap", "url: https://x.example\nmonitor:\n  log_cap: 10\n  persist_cap: 20", "PersistCap"},
		{"poll too fast", "url: https://x.example\nmonitor:\n  poll_interval: 1ms", "PollInterval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storewatch.yaml")
	if err := os.WriteFile(path, []byte("url: https://example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.URL != "https://example.com" {
		t.Errorf("URL = %q", cfg.URL)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
