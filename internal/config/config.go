// Package config implements the ambient JSON-file-plus-environment
// configuration loader for relayd: mailbox/index locations, reliability
// knobs, adapter entries, mesh scan roots, and seed access rules.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dork-labs/dorkos/internal/adapter"
	"github.com/dork-labs/dorkos/internal/circuitbreaker"
	"github.com/dork-labs/dorkos/internal/discovery"
	"github.com/dork-labs/dorkos/internal/pipeline"
	"github.com/dork-labs/dorkos/internal/ratelimit"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// Config is relayd's top-level configuration.
type Config struct {
	Relay       RelayConfig          `json:"relay"`
	Mesh        MeshConfig           `json:"mesh"`
	Adapters    []adapter.ConfigEntry `json:"adapters"`
	AccessRules []protocol.AccessRule `json:"access_rules,omitempty"`
	Maintenance MaintenanceConfig    `json:"maintenance"`
}

// RelayConfig holds storage locations and reliability tunables.
type RelayConfig struct {
	DataDir        string                        `json:"data_dir"`
	IndexPath      string                        `json:"index_path,omitempty"`
	Backpressure   pipeline.BackpressureConfig    `json:"backpressure"`
	RateLimit      ratelimit.Config               `json:"rate_limit"`
	CircuitBreaker circuitbreaker.Config          `json:"circuit_breaker"`
}

// MeshConfig holds agent-discovery settings.
type MeshConfig struct {
	ScanRoots       []string          `json:"scan_roots"`
	ScanOptions     discovery.Options `json:"scan_options"`
	HealthActiveMs  int64             `json:"health_active_ms,omitempty"`
	HealthInactiveMs int64            `json:"health_inactive_ms,omitempty"`
}

// MaintenanceConfig tunes the cron-driven sweep jobs.
type MaintenanceConfig struct {
	DLQPurgeSchedule      string `json:"dlq_purge_schedule,omitempty"`
	HealthSweepSchedule   string `json:"health_sweep_schedule,omitempty"`
	MeshRescanSchedule    string `json:"mesh_rescan_schedule,omitempty"`
	DLQRetentionHours     int    `json:"dlq_retention_hours,omitempty"`
}

// Load reads configuration from a JSON file and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config seeded with the reliability defaults every
// component already exposes, so a config file only has to override what
// it cares about.
func Default() Config {
	return Config{
		Relay: RelayConfig{
			DataDir:        "/var/lib/relayd",
			Backpressure:   pipeline.DefaultBackpressureConfig(),
			RateLimit:      ratelimit.DefaultConfig(),
			CircuitBreaker: circuitbreaker.DefaultConfig(),
		},
		Mesh: MeshConfig{
			ScanOptions: discovery.DefaultOptions(),
		},
		Maintenance: MaintenanceConfig{
			DLQPurgeSchedule:    "@every 1h",
			HealthSweepSchedule: "@every 5m",
			MeshRescanSchedule:  "@every 10m",
			DLQRetentionHours:   168,
		},
	}
}

// LoadFromEnv builds a minimal Config from environment variables with a
// RELAYD_ prefix, for container deployments without a mounted config file.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	cfg.Relay.DataDir = getenv("RELAYD_DATA_DIR", cfg.Relay.DataDir)
	cfg.Relay.IndexPath = os.Getenv("RELAYD_INDEX_PATH")

	if v := os.Getenv("RELAYD_RATE_LIMIT_MAX_PER_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: RELAYD_RATE_LIMIT_MAX_PER_WINDOW: %w", err)
		}
		cfg.Relay.RateLimit.MaxPerWindow = n
	}

	if roots := os.Getenv("RELAYD_SCAN_ROOTS"); roots != "" {
		cfg.Mesh.ScanRoots = parseStringList(roots)
	}

	if telegramToken := os.Getenv("RELAYD_TELEGRAM_TOKEN"); telegramToken != "" {
		allowFrom, err := parseInt64List(os.Getenv("RELAYD_TELEGRAM_ALLOW_FROM"))
		if err != nil {
			return nil, fmt.Errorf("config: RELAYD_TELEGRAM_ALLOW_FROM: %w", err)
		}
		cfg.Adapters = append(cfg.Adapters, adapter.ConfigEntry{
			ID: "telegram", Type: "telegram", Enabled: true, Builtin: true,
			Config: map[string]any{
				"token":      telegramToken,
				"allow_from": allowFrom,
			},
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for required fields and internally-consistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.Relay.DataDir == "" {
		errs = append(errs, "relay.data_dir is required")
	}
	if c.Relay.RateLimit.WindowSeconds <= 0 {
		errs = append(errs, "relay.rate_limit.window_seconds must be positive")
	}
	if c.Relay.RateLimit.MaxPerWindow <= 0 {
		errs = append(errs, "relay.rate_limit.max_per_window must be positive")
	}
	if c.Relay.Backpressure.MaxMailboxSize <= 0 {
		errs = append(errs, "relay.backpressure.max_mailbox_size must be positive")
	}

	seen := make(map[string]bool)
	for i, a := range c.Adapters {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("adapters[%d].id is required", i))
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Sprintf("adapters[%d].id %q is duplicated", i, a.ID))
		}
		seen[a.ID] = true
		if !a.Builtin && a.Plugin == nil {
			errs = append(errs, fmt.Sprintf("adapters[%d] (%s) must be builtin or name a plugin", i, a.ID))
		}
	}

	for i, r := range c.AccessRules {
		if r.From == "" || r.To == "" {
			errs = append(errs, fmt.Sprintf("access_rules[%d] requires both from and to", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func parseInt64List(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
