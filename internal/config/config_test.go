package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Storage.Path != "brickradar.db" {
		t.Errorf("Storage.Path = %q, want brickradar.db", cfg.Storage.Path)
	}
	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("Cache.TTL = %v, want 24h", cfg.Cache.TTL)
	}
	if cfg.Cache.ErrorTTL != time.Hour {
		t.Errorf("Cache.ErrorTTL = %v, want 1h", cfg.Cache.ErrorTTL)
	}
	if cfg.History.WindowDays != 7 {
		t.Errorf("History.WindowDays = %d, want 7", cfg.History.WindowDays)
	}
	if cfg.Sources.Timeout != 20*time.Second {
		t.Errorf("Sources.Timeout = %v, want 20s", cfg.Sources.Timeout)
	}
	if cfg.Sources.Currency != "USD" {
		t.Errorf("Sources.Currency = %q, want USD", cfg.Sources.Currency)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("does/not/exist.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.HTTPAddr != ":8080" {
		t.Errorf("App.HTTPAddr = %q, want :8080", cfg.App.HTTPAddr)
	}
}

func TestLoad_FileWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"storage": {"path": "/data/queries.db"}, "history": {"window_days": 14}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Path != "/data/queries.db" {
		t.Errorf("Storage.Path = %q, want /data/queries.db", cfg.Storage.Path)
	}
	if cfg.History.WindowDays != 14 {
		t.Errorf("History.WindowDays = %d, want 14", cfg.History.WindowDays)
	}
	// Unset fields must still pick up defaults.
	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("Cache.TTL = %v, want 24h", cfg.Cache.TTL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QUERY_LOG_DB_PATH", "/tmp/override.db")
	t.Setenv("HISTORY_WINDOW_DAYS", "3")
	t.Setenv("CACHE_ERROR_TTL", "30m")
	t.Setenv("BRICKSET_API_KEY", "bs-key")
	t.Setenv("BRICKECONOMY_CURRENCY", "eur")

	cfg, err := Load("does/not/exist.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Path != "/tmp/override.db" {
		t.Errorf("Storage.Path = %q, want /tmp/override.db", cfg.Storage.Path)
	}
	if cfg.History.WindowDays != 3 {
		t.Errorf("History.WindowDays = %d, want 3", cfg.History.WindowDays)
	}
	if cfg.Cache.ErrorTTL != 30*time.Minute {
		t.Errorf("Cache.ErrorTTL = %v, want 30m", cfg.Cache.ErrorTTL)
	}
	if cfg.Sources.BrickSetAPIKey != "bs-key" {
		t.Errorf("BrickSetAPIKey = %q, want bs-key", cfg.Sources.BrickSetAPIKey)
	}
	if cfg.Sources.Currency != "EUR" {
		t.Errorf("Currency = %q, want EUR", cfg.Sources.Currency)
	}
}

func TestLoad_WindowDaysClamped(t *testing.T) {
	t.Setenv("HISTORY_WINDOW_DAYS", "90")
	cfg, err := Load("does/not/exist.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.History.WindowDays != 30 {
		t.Errorf("WindowDays = %d, want clamped to 30", cfg.History.WindowDays)
	}

	t.Setenv("HISTORY_WINDOW_DAYS", "0")
	cfg, err = Load("does/not/exist.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.History.WindowDays != 7 {
		t.Errorf("WindowDays = %d, want default 7 when env is 0", cfg.History.WindowDays)
	}
}

func TestBrickLinkConfigured(t *testing.T) {
	s := SourcesConfig{}
	if s.BrickLinkConfigured() {
		t.Error("empty credentials should not be configured")
	}
	s.BrickLink = BrickLinkCredentials{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		Token:          "tk",
		TokenSecret:    "ts",
	}
	if !s.BrickLinkConfigured() {
		t.Error("full quad should be configured")
	}
}
