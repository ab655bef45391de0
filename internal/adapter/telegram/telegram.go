// Package telegram adapts the Telegram Bot API into a Relay adapter:
// inbound chat messages are published onto the bus under the adapter's
// subject prefix, and envelopes delivered to that prefix are sent back
// out as chat messages.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dork-labs/dorkos/internal/adapter"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// Config holds Telegram adapter configuration.
type Config struct {
	Token     string  // bot token from @BotFather
	AllowFrom []int64 // allowed Telegram user IDs (empty = allow all)
}

// Adapter implements adapter.Adapter for Telegram.
type Adapter struct {
	id     string
	prefix string
	bot    *tgbotapi.BotAPI
	config Config
	logger *slog.Logger
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// New creates a Telegram adapter. id is typically "telegram"; subjectPrefix
// conventionally "channel.telegram.".
func New(id, subjectPrefix string, cfg Config, logger *slog.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{id: id, prefix: subjectPrefix, bot: bot, config: cfg, logger: logger}, nil
}

func (a *Adapter) ID() string            { return a.id }
func (a *Adapter) SubjectPrefix() string { return a.prefix }
func (a *Adapter) DisplayName() string   { return "Telegram" }

// Start begins long-polling for updates, publishing each inbound
// message onto pub under SubjectPrefix()+chatID. Returns once the
// polling goroutine has been launched; it runs until Stop is called.
func (a *Adapter) Start(ctx context.Context, pub adapter.Publisher) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	go func() {
		a.logger.Info("telegram adapter started", "bot", a.bot.Self.UserName)
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				a.handleUpdate(ctx, pub, update)
			case <-ctx.Done():
				a.bot.StopReceivingUpdates()
				a.mu.Lock()
				a.running = false
				a.mu.Unlock()
				a.logger.Info("telegram adapter stopped")
				return
			}
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

// Deliver sends env as a chat message. subject must carry the chat ID
// as the suffix after SubjectPrefix().
func (a *Adapter) Deliver(_ context.Context, subject string, env protocol.Envelope) error {
	chatIDStr := strings.TrimPrefix(subject, a.prefix)
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id in subject %q: %w", subject, err)
	}

	content, _ := env.Payload.(string)
	if strings.TrimSpace(content) == "" {
		return nil
	}

	html := MarkdownToTelegramHTML(content)
	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := a.bot.Send(msg); err != nil {
		a.logger.Warn("telegram: html send failed, falling back to plain text", "chat_id", chatID, "error", err)
		msg.Text = StripMarkdown(content)
		msg.ParseMode = ""
		if _, err := a.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
	}
	return nil
}

func (a *Adapter) GetStatus() adapter.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return adapter.Status{Running: a.running}
}

func (a *Adapter) handleUpdate(ctx context.Context, pub adapter.Publisher, update tgbotapi.Update) {
	msg := update.Message
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if len(a.config.AllowFrom) > 0 && !contains(a.config.AllowFrom, userID) {
		a.logger.Warn("telegram: unauthorized user", "user_id", userID, "username", msg.From.UserName)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}

	env := protocol.Envelope{
		Subject: fmt.Sprintf("%s%d", a.prefix, chatID),
		From:    fmt.Sprintf("%s:user.%d", a.id, userID),
		Payload: text,
	}
	if err := pub.Publish(ctx, env); err != nil {
		a.logger.Error("telegram: publish inbound message failed", "error", err)
	}
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
