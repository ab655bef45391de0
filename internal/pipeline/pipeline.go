// Package pipeline implements the per-endpoint staged delivery pipeline:
// backpressure, circuit breaker, budget enforcement, maildir write,
// indexing, and synchronous dispatch to subscribers. See spec §4.10.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dork-labs/dorkos/internal/budgetenforcer"
	"github.com/dork-labs/dorkos/internal/circuitbreaker"
	"github.com/dork-labs/dorkos/internal/deadletter"
	"github.com/dork-labs/dorkos/internal/maildirstore"
	"github.com/dork-labs/dorkos/internal/signal"
	"github.com/dork-labs/dorkos/internal/sqliteindex"
	"github.com/dork-labs/dorkos/internal/subscription"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// RejectReason names why a delivery attempt did not complete.
type RejectReason string

const (
	RejectBackpressure   RejectReason = "backpressure"
	RejectCircuitOpen    RejectReason = "circuit_open"
	RejectBudgetExceeded RejectReason = "budget_exceeded"
)

// Result is the outcome of DeliverToEndpoint.
type Result struct {
	Delivered bool
	Rejected  RejectReason
	Pressure  float64
}

// BackpressureConfig tunes the mailbox-fullness stage.
type BackpressureConfig struct {
	MaxMailboxSize    int     `json:"max_mailbox_size"`
	PressureWarningAt float64 `json:"pressure_warning_at"` // ratio in [0,1); 0 disables warnings
}

// DefaultBackpressureConfig matches commonly-sane bus defaults.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{MaxMailboxSize: 1000, PressureWarningAt: 0.8}
}

// Pipeline wires the shared stage components together. Its
// BackpressureConfig can be swapped atomically via SetBackpressureConfig
// to support RelayCore.reloadConfig.
type Pipeline struct {
	mailbox      *maildirstore.Store
	index        *sqliteindex.Index
	breakers     *circuitbreaker.Manager
	subs         *subscription.Registry
	signals      *signal.Emitter
	dlq          *deadletter.Queue
	backpressure atomicBackpressure
}

type atomicBackpressure struct {
	cfg atomic.Pointer[BackpressureConfig]
}

// New returns a Pipeline. cfg tunes the backpressure stage.
func New(
	mailbox *maildirstore.Store,
	index *sqliteindex.Index,
	breakers *circuitbreaker.Manager,
	subs *subscription.Registry,
	signals *signal.Emitter,
	dlq *deadletter.Queue,
	cfg BackpressureConfig,
) *Pipeline {
	p := &Pipeline{
		mailbox:  mailbox,
		index:    index,
		breakers: breakers,
		subs:     subs,
		signals:  signals,
		dlq:      dlq,
	}
	p.backpressure.cfg.Store(&cfg)
	return p
}

// SetBackpressureConfig swaps the backpressure thresholds in place.
func (p *Pipeline) SetBackpressureConfig(cfg BackpressureConfig) {
	p.backpressure.cfg.Store(&cfg)
}

// DeliverToEndpoint runs the full staged pipeline for a single
// (endpoint, envelope) pair. env must already carry a non-empty Subject
// and From; the budget is enforced and stamped here.
func (p *Pipeline) DeliverToEndpoint(ctx context.Context, endpoint protocol.Endpoint, env protocol.Envelope) (Result, error) {
	cfg := *p.backpressure.cfg.Load()

	// 1. Backpressure
	count, err := p.index.CountNewByEndpoint(ctx, endpoint.Hash)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: backpressure check: %w", err)
	}
	pressure := 0.0
	if cfg.MaxMailboxSize > 0 {
		pressure = float64(count) / float64(cfg.MaxMailboxSize)
	}
	if cfg.PressureWarningAt > 0 && pressure >= cfg.PressureWarningAt {
		state := "warning"
		if count >= cfg.MaxMailboxSize {
			state = "critical"
		}
		p.signals.Emit(protocol.Signal{
			Type: protocol.SignalBackpressure, State: state,
			EndpointSubject: endpoint.Subject, Timestamp: time.Now(),
		})
	}
	if cfg.MaxMailboxSize > 0 && count >= cfg.MaxMailboxSize {
		return Result{Rejected: RejectBackpressure, Pressure: pressure}, nil
	}

	// 2. Circuit breaker
	if !p.breakers.Check(endpoint.Hash) {
		return Result{Rejected: RejectCircuitOpen, Pressure: pressure}, nil
	}

	// 3. Budget
	enforced := budgetenforcer.Enforce(env, endpoint.Subject, time.Now())
	if !enforced.Allowed {
		reason := fmt.Sprintf("%s", enforced.Reason)
		if _, err := p.dlq.Reject(ctx, endpoint.Hash, env, reason); err != nil {
			return Result{}, fmt.Errorf("pipeline: dlq reject: %w", err)
		}
		return Result{Rejected: RejectBudgetExceeded, Pressure: pressure}, nil
	}
	updated := env.Clone()
	updated.Budget = enforced.UpdatedBudget

	// 4. Maildir deliver
	id, err := p.mailbox.Deliver(endpoint.Hash, updated)
	if err != nil {
		p.breakers.RecordFailure(endpoint.Hash)
		if _, dlqErr := p.dlq.Reject(ctx, endpoint.Hash, updated, fmt.Sprintf("delivery failed: %v", err)); dlqErr != nil {
			return Result{}, fmt.Errorf("pipeline: dlq reject after delivery failure: %w", dlqErr)
		}
		return Result{Delivered: false, Pressure: pressure}, nil
	}
	p.breakers.RecordSuccess(endpoint.Hash)
	updated.ID = id

	// 5. Index
	if err := p.index.InsertMessage(ctx, sqliteindex.MessageRow{
		ID: id, Subject: endpoint.Subject, EndpointHash: endpoint.Hash,
		Status: string(protocol.MessagePending), CreatedAt: updated.CreatedAt,
	}); err != nil {
		return Result{}, fmt.Errorf("pipeline: index %s: %w", id, err)
	}

	// 6. Dispatch (synchronous fast-path)
	handlers := p.subs.GetSubscribers(endpoint.Subject)
	if len(handlers) == 0 {
		return Result{Delivered: true, Pressure: pressure}, nil
	}

	claimed, err := p.mailbox.Claim(endpoint.Hash, id)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: claim %s: %w", id, err)
	}

	if failErr := invokeHandlers(handlers, claimed); failErr != nil {
		p.breakers.RecordFailure(endpoint.Hash)
		if err := p.mailbox.Fail(endpoint.Hash, id, failErr.Error()); err != nil {
			return Result{}, fmt.Errorf("pipeline: fail %s: %w", id, err)
		}
		if err := p.index.UpdateStatus(ctx, id, string(protocol.MessageFailed)); err != nil {
			return Result{}, fmt.Errorf("pipeline: index fail %s: %w", id, err)
		}
		return Result{Delivered: false, Pressure: pressure}, nil
	}

	if err := p.mailbox.Complete(endpoint.Hash, id); err != nil {
		return Result{}, fmt.Errorf("pipeline: complete %s: %w", id, err)
	}
	if err := p.index.UpdateStatus(ctx, id, string(protocol.MessageDelivered)); err != nil {
		return Result{}, fmt.Errorf("pipeline: index delivered %s: %w", id, err)
	}
	return Result{Delivered: true, Pressure: pressure}, nil
}

// invokeHandlers runs every handler against env, recovering a panicking
// handler as a delivery failure the same as a returned error, matching
// spec §5's "handler raises" failure path regardless of how it raised.
func invokeHandlers(handlers []subscription.Handler, env protocol.Envelope) (failErr error) {
	defer func() {
		if r := recover(); r != nil {
			failErr = fmt.Errorf("handler panic: %v", r)
		}
	}()
	for _, h := range handlers {
		if err := h(env); err != nil {
			return err
		}
	}
	return nil
}
