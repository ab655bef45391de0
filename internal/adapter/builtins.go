package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/dork-labs/dorkos/internal/adapter/slack"
	"github.com/dork-labs/dorkos/internal/adapter/telegram"
	"github.com/dork-labs/dorkos/internal/adapter/webhook"
)

// DefaultBuiltins returns the factory map for every adapter type shipped
// with the daemon: "telegram", "slack", "webhook".
func DefaultBuiltins() map[string]Factory {
	return map[string]Factory{
		"telegram": telegramFactory,
		"slack":    slackFactory,
		"webhook":  webhookFactory,
	}
}

// decodeConfig round-trips a raw config map through JSON into a typed
// struct, matching the loose-schema config.Config entries every adapter
// type receives.
func decodeConfig(raw map[string]any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func telegramFactory(raw map[string]any) (Adapter, error) {
	var cfg struct {
		ID            string          `json:"id"`
		SubjectPrefix string          `json:"subject_prefix"`
		Telegram      telegram.Config `json:"telegram"`
	}
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, fmt.Errorf("adapter: decode telegram config: %w", err)
	}
	if cfg.ID == "" {
		cfg.ID = "telegram"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "channel.telegram."
	}
	return telegram.New(cfg.ID, cfg.SubjectPrefix, cfg.Telegram, nil)
}

func slackFactory(raw map[string]any) (Adapter, error) {
	var cfg struct {
		ID            string       `json:"id"`
		SubjectPrefix string       `json:"subject_prefix"`
		Slack         slack.Config `json:"slack"`
	}
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, fmt.Errorf("adapter: decode slack config: %w", err)
	}
	if cfg.ID == "" {
		cfg.ID = "slack"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "channel.slack."
	}
	return slack.New(cfg.ID, cfg.SubjectPrefix, cfg.Slack, nil)
}

func webhookFactory(raw map[string]any) (Adapter, error) {
	var cfg struct {
		ID            string         `json:"id"`
		SubjectPrefix string         `json:"subject_prefix"`
		Webhook       webhook.Config `json:"webhook"`
	}
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, fmt.Errorf("adapter: decode webhook config: %w", err)
	}
	if cfg.ID == "" {
		cfg.ID = "webhook"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "channel.webhook."
	}
	return webhook.New(cfg.ID, cfg.SubjectPrefix, cfg.Webhook, nil)
}
