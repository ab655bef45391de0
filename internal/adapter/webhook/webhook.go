// Package webhook adapts inbound HTTP POSTs into a Relay adapter.
// Unlike the Telegram and Slack adapters, its Start binds an HTTP
// listener rather than polling or opening a socket, and it carries no
// outbound Deliver path — webhooks are inbound-only channels.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/dork-labs/dorkos/internal/adapter"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// Config holds webhook adapter configuration.
type Config struct {
	ListenAddr string                    `json:"listen_addr"`
	Endpoints  map[string]EndpointConfig `json:"endpoints"`
}

// EndpointConfig holds per-source webhook auth configuration.
type EndpointConfig struct {
	Secret      string `json:"secret,omitempty"`       // HMAC-SHA256 over the body, X-Hub-Signature-256
	BearerToken string `json:"bearer_token,omitempty"` // used if Secret is empty
}

// inboundPayload is the expected JSON body for webhook requests.
type inboundPayload struct {
	SenderID string         `json:"sender_id"`
	ChatID   string         `json:"chat_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Adapter implements adapter.Adapter for inbound HTTP webhooks.
type Adapter struct {
	id     string
	prefix string
	config Config
	logger *slog.Logger
	server *http.Server

	mu      sync.Mutex
	running bool
}

// New creates a webhook adapter bound to cfg.ListenAddr.
func New(id, subjectPrefix string, cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("webhook: listen_addr is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{id: id, prefix: subjectPrefix, config: cfg, logger: logger}, nil
}

func (a *Adapter) ID() string            { return a.id }
func (a *Adapter) SubjectPrefix() string { return a.prefix }
func (a *Adapter) DisplayName() string   { return "Webhook" }

func (a *Adapter) Start(ctx context.Context, pub adapter.Publisher) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", a.serveHTTP(pub))
	a.server = &http.Server{Addr: a.config.ListenAddr, Handler: mux}

	ln, err := net.Listen("tcp", a.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("webhook: listen %s: %w", a.config.ListenAddr, err)
	}

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("webhook: serve failed", "error", err)
		}
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	go func() {
		<-ctx.Done()
		_ = a.server.Close()
	}()
	return nil
}

func (a *Adapter) Stop() error {
	if a.server == nil {
		return nil
	}
	return a.server.Close()
}

// Deliver is a no-op: webhooks are an inbound-only channel.
func (a *Adapter) Deliver(context.Context, string, protocol.Envelope) error { return nil }

func (a *Adapter) GetStatus() adapter.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return adapter.Status{Running: a.running}
}

func (a *Adapter) serveHTTP(pub adapter.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name := strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/"), "/")
		endpoint, ok := a.config.Endpoints[name]
		if !ok {
			http.Error(w, fmt.Sprintf("unknown webhook endpoint: %s", name), http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		if !authenticate(r, endpoint, body) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var payload inboundPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}
		if payload.Content == "" {
			http.Error(w, "content is required", http.StatusBadRequest)
			return
		}
		if payload.SenderID == "" {
			payload.SenderID = name
		}
		if payload.ChatID == "" {
			payload.ChatID = name
		}

		env := protocol.Envelope{
			Subject: a.prefix + payload.ChatID,
			From:    fmt.Sprintf("%s:%s", a.id, payload.SenderID),
			Payload: payload.Content,
		}
		if len(payload.Metadata) > 0 {
			env.Unknown = map[string]any{"webhook_metadata": payload.Metadata}
		}

		if err := pub.Publish(r.Context(), env); err != nil {
			a.logger.Error("webhook: publish inbound message failed", "endpoint", name, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func authenticate(r *http.Request, endpoint EndpointConfig, body []byte) bool {
	if endpoint.Secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Signature-256")
		}
		return verifyHMAC(body, endpoint.Secret, sig)
	}
	if endpoint.BearerToken != "" {
		return r.Header.Get("Authorization") == "Bearer "+endpoint.BearerToken
	}
	return true
}

// verifyHMAC checks an HMAC-SHA256 signature formatted "sha256=<hex>".
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	sig := strings.TrimPrefix(signature, "sha256=")
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// ComputeSignature generates an HMAC-SHA256 signature, exported for
// tests and external callers that need to sign a request body.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
