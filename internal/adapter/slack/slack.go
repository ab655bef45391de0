// Package slack adapts Slack Socket Mode into a Relay adapter.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/dork-labs/dorkos/internal/adapter"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// Config holds Slack adapter configuration.
type Config struct {
	BotToken string   `json:"bot_token"` // xoxb-...
	AppToken string   `json:"app_token"` // xapp-... (Socket Mode)
	Channels []string `json:"channels"`  // optional allow-list; empty means all channels
}

// Adapter implements adapter.Adapter for Slack via Socket Mode.
type Adapter struct {
	id     string
	prefix string
	api    *slack.Client
	socket *socketmode.Client
	config Config
	logger *slog.Logger
	botID  string
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// New creates a Slack adapter and verifies its credentials via AuthTest.
func New(id, subjectPrefix string, cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	auth, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	return &Adapter{
		id: id, prefix: subjectPrefix, api: api, config: cfg, logger: logger,
		botID: auth.UserID, socket: socketmode.New(api),
	}, nil
}

func (a *Adapter) ID() string            { return a.id }
func (a *Adapter) SubjectPrefix() string { return a.prefix }
func (a *Adapter) DisplayName() string   { return "Slack" }

func (a *Adapter) Start(ctx context.Context, pub adapter.Publisher) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go a.handleEvents(ctx, pub)

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	go func() {
		err := a.socket.RunContext(ctx)
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			a.logger.Error("slack socket mode exited", "error", err)
		}
	}()
	return nil
}

func (a *Adapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

func (a *Adapter) Deliver(_ context.Context, subject string, env protocol.Envelope) error {
	chatID := strings.TrimPrefix(subject, a.prefix)
	content, _ := env.Payload.(string)
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if _, _, err := a.api.PostMessage(chatID, slack.MsgOptionText(content, false)); err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func (a *Adapter) GetStatus() adapter.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return adapter.Status{Running: a.running}
}

func (a *Adapter) handleEvents(ctx context.Context, pub adapter.Publisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-a.socket.Events:
			if event.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			eventsAPI, ok := event.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			a.socket.Ack(*event.Request)
			a.handleInnerEvent(ctx, pub, eventsAPI)
		}
	}
}

func (a *Adapter) handleInnerEvent(ctx context.Context, pub adapter.Publisher, eventsAPI slackevents.EventsAPIEvent) {
	switch ev := eventsAPI.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.User == "" || ev.User == a.botID || ev.SubType != "" {
			return
		}
		a.publishInbound(ctx, pub, ev.Channel, ev.ThreadTimeStamp, ev.User, ev.Text)
	case *slackevents.AppMentionEvent:
		if ev.User == a.botID {
			return
		}
		text := stripMention(ev.Text, a.botID)
		a.publishInbound(ctx, pub, ev.Channel, ev.ThreadTimeStamp, ev.User, text)
	}
}

func (a *Adapter) publishInbound(ctx context.Context, pub adapter.Publisher, channel, threadTS, user, text string) {
	if text == "" {
		return
	}
	if len(a.config.Channels) > 0 && !slices.Contains(a.config.Channels, channel) {
		return
	}
	chatID := channel
	if threadTS != "" {
		chatID = channel + ":" + threadTS
	}
	env := protocol.Envelope{
		Subject: a.prefix + chatID,
		From:    fmt.Sprintf("%s:user.%s", a.id, user),
		Payload: text,
	}
	if err := pub.Publish(ctx, env); err != nil {
		a.logger.Error("slack: publish inbound message failed", "error", err)
	}
}

func stripMention(text, botID string) string {
	mention := "<@" + botID + ">"
	return strings.TrimSpace(strings.ReplaceAll(text, mention, ""))
}
