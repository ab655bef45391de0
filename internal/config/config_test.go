package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dork-labs/dorkos/internal/adapter"
)

func writeConfig(t *testing.T, cfg Config) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "relayd.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadRoundTripsDefaults(t *testing.T) {
	cfg := Default()
	cfg.Relay.DataDir = "/tmp/relayd-test"
	path := writeConfig(t, cfg)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Relay.DataDir != "/tmp/relayd-test" {
		t.Fatalf("DataDir = %q, want /tmp/relayd-test", loaded.Relay.DataDir)
	}
	if loaded.Relay.RateLimit.MaxPerWindow == 0 {
		t.Fatalf("expected rate limit defaults to survive round trip")
	}
}

func TestLoadMissingDataDirFails(t *testing.T) {
	cfg := Default()
	cfg.Relay.DataDir = ""
	path := writeConfig(t, cfg)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for missing data_dir")
	}
}

func TestValidateRejectsDuplicateAdapterIDs(t *testing.T) {
	cfg := Default()
	cfg.Adapters = []adapter.ConfigEntry{
		{ID: "tg", Type: "telegram", Builtin: true},
		{ID: "tg", Type: "telegram", Builtin: true},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duplicate adapter id to fail validation")
	}
}

func TestValidateRejectsAdapterWithNoSource(t *testing.T) {
	cfg := Default()
	cfg.Adapters = []adapter.ConfigEntry{{ID: "custom", Type: "custom"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected adapter with neither builtin nor plugin to fail validation")
	}
}

func TestLoadFromEnvAppliesTelegramAdapter(t *testing.T) {
	t.Setenv("RELAYD_DATA_DIR", t.TempDir())
	t.Setenv("RELAYD_TELEGRAM_TOKEN", "test-token")
	t.Setenv("RELAYD_TELEGRAM_ALLOW_FROM", "1,2,3")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if len(cfg.Adapters) != 1 {
		t.Fatalf("expected one adapter from env, got %d", len(cfg.Adapters))
	}
	if cfg.Adapters[0].Config["token"] != "test-token" {
		t.Fatalf("unexpected telegram token in adapter config")
	}
}
