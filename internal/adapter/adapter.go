// Package adapter defines the external-channel plugin contract and the
// registry that loads, hot-swaps, and fans delivery out to adapters. See
// spec §4.12.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

// Publisher is the narrow surface an adapter needs from RelayCore to
// inject inbound messages back onto the bus, avoiding a relay<->adapter
// import cycle.
type Publisher interface {
	Publish(ctx context.Context, env protocol.Envelope) error
}

// Status reports an adapter's current health for operator surfaces.
type Status struct {
	Running bool
	Detail  string
}

// Adapter bridges Relay to an external channel (Telegram, Slack, a
// webhook listener, ...). Implementations must be safe to Stop and
// discard even if Start never returned.
type Adapter interface {
	ID() string
	SubjectPrefix() string
	DisplayName() string
	Start(ctx context.Context, pub Publisher) error
	Stop() error
	Deliver(ctx context.Context, subject string, env protocol.Envelope) error
	GetStatus() Status
}

// Manifest is the metadata a dynamically loaded adapter module may
// optionally expose via getManifest(); a missing manifest falls back to
// one synthesised from the instantiated Adapter itself.
type Manifest struct {
	ID            string
	SubjectPrefix string
	DisplayName   string
}

// Factory builds an Adapter from its raw config blob.
type Factory func(config map[string]any) (Adapter, error)

// Registry holds live adapters keyed by ID and routes deliveries by
// subject prefix. Registration follows a start-before-swap hot-reload
// contract: the new adapter is started before it replaces any prior
// instance at the same ID, so a failing replacement never displaces a
// working one.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	adapters map[string]Adapter
	pub      Publisher
}

// NewRegistry returns an empty Registry. pub is handed to every adapter's
// Start so it can publish inbound messages onto the bus.
func NewRegistry(pub Publisher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, adapters: make(map[string]Adapter), pub: pub}
}

// Register starts a and, only once Start succeeds, swaps it in under its
// ID. If a previous adapter was registered at that ID, it is stopped
// after the swap; stop errors are logged, not returned, matching the
// hot-reload contract.
func (r *Registry) Register(ctx context.Context, a Adapter) error {
	if err := a.Start(ctx, r.pub); err != nil {
		return fmt.Errorf("adapter: start %s: %w", a.ID(), err)
	}

	r.mu.Lock()
	prev := r.adapters[a.ID()]
	r.adapters[a.ID()] = a
	r.mu.Unlock()

	if prev != nil {
		if err := prev.Stop(); err != nil {
			r.logger.Warn("adapter: stop previous instance failed", "id", a.ID(), "error", err)
		}
	}
	return nil
}

// Deliver routes envelope to the adapter whose subject prefix matches
// subject, preferring the longest matching prefix. Returns false if no
// adapter matches.
func (r *Registry) Deliver(subject string, env protocol.Envelope) bool {
	r.mu.RLock()
	var best Adapter
	bestLen := -1
	for _, a := range r.adapters {
		prefix := a.SubjectPrefix()
		if strings.HasPrefix(subject, prefix) && len(prefix) > bestLen {
			best, bestLen = a, len(prefix)
		}
	}
	r.mu.RUnlock()

	if best == nil {
		return false
	}
	if err := best.Deliver(context.Background(), subject, env); err != nil {
		r.logger.Warn("adapter: deliver failed", "id", best.ID(), "subject", subject, "error", err)
		return false
	}
	return true
}

// Get returns the adapter registered under id, if any.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// List returns every registered adapter's current status, keyed by ID.
func (r *Registry) List() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.adapters))
	for id, a := range r.adapters {
		out[id] = a.GetStatus()
	}
	return out
}

// Shutdown stops every registered adapter concurrently, tolerating
// individual failures (they are logged and otherwise ignored).
func (r *Registry) Shutdown() {
	r.mu.Lock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.adapters = make(map[string]Adapter)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			if err := a.Stop(); err != nil {
				r.logger.Warn("adapter: shutdown stop failed", "id", a.ID(), "error", err)
			}
		}(a)
	}
	wg.Wait()
}
