// Package relay implements RelayCore, the public orchestrator tying
// together subject matching, access control, rate limiting, the
// delivery pipeline, subscriptions, and adapters. See spec §4.13.
package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dork-labs/dorkos/internal/access"
	"github.com/dork-labs/dorkos/internal/adapter"
	"github.com/dork-labs/dorkos/internal/circuitbreaker"
	"github.com/dork-labs/dorkos/internal/deadletter"
	"github.com/dork-labs/dorkos/internal/maildirstore"
	"github.com/dork-labs/dorkos/internal/pipeline"
	"github.com/dork-labs/dorkos/internal/ratelimit"
	"github.com/dork-labs/dorkos/internal/signal"
	"github.com/dork-labs/dorkos/internal/sqliteindex"
	"github.com/dork-labs/dorkos/internal/subject"
	"github.com/dork-labs/dorkos/internal/subscription"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// EndpointRegistrar is the narrow surface Mesh needs from RelayCore to
// register and unregister agent endpoints without importing Relay
// internals, per spec §9's cyclic-reference design note. *Core already
// satisfies this structurally.
type EndpointRegistrar interface {
	RegisterEndpoint(subject string) (protocol.Endpoint, error)
	UnregisterEndpoint(subject string)
}

// Receipt reports the outcome of a publish call.
type Receipt struct {
	MessageID   string
	DeliveredTo []string
	Rejected    map[string]string // endpoint subject -> reject reason
}

// ReliabilityConfig bundles the reliability tunables New applies.
// ReloadConfig swaps only the backpressure and rate limit parts.
type ReliabilityConfig struct {
	Backpressure   pipeline.BackpressureConfig
	RateLimit      ratelimit.Config
	CircuitBreaker circuitbreaker.Config
}

// DefaultReliabilityConfig matches commonly-sane bus defaults.
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Backpressure:   pipeline.DefaultBackpressureConfig(),
		RateLimit:      ratelimit.DefaultConfig(),
		CircuitBreaker: circuitbreaker.DefaultConfig(),
	}
}

// Core is the RelayCore orchestrator. A process must own exactly one
// Core per SqliteIndex/mailbox root pair.
type Core struct {
	mailbox  *maildirstore.Store
	index    *sqliteindex.Index
	breakers *circuitbreaker.Manager
	limiter  *ratelimit.Limiter
	subs     *subscription.Registry
	signals  *signal.Emitter
	dlq      *deadletter.Queue
	pipe     *pipeline.Pipeline
	rules    *access.Control
	adapters *adapter.Registry

	mu        sync.RWMutex
	endpoints map[string]protocol.Endpoint // subject -> endpoint
}

// New wires a Core from its component parts. adapters is optional and
// may be attached later via SetAdapters, since an adapter.Registry's
// Publisher is typically Core.AsPublisher() itself — callers build the
// Core first, then the Registry, then tie the two together.
func New(
	mailbox *maildirstore.Store,
	index *sqliteindex.Index,
	rules *access.Control,
	cfg ReliabilityConfig,
) *Core {
	breakers := circuitbreaker.New(cfg.CircuitBreaker)
	subs := subscription.New()
	signals := signal.New()
	dlq := deadletter.New(mailbox, index)
	pipe := pipeline.New(mailbox, index, breakers, subs, signals, dlq, cfg.Backpressure)

	return &Core{
		mailbox:   mailbox,
		index:     index,
		breakers:  breakers,
		limiter:   ratelimit.New(cfg.RateLimit, nil),
		subs:      subs,
		signals:   signals,
		dlq:       dlq,
		pipe:      pipe,
		rules:     rules,
		endpoints: make(map[string]protocol.Endpoint),
	}
}

// SetAdapters attaches the AdapterRegistry Publish forwards envelopes
// to. Must be called before Publish is used if adapter delivery is
// wanted; a nil registry (the zero state) makes Publish a pure
// subscriber/endpoint bus with no external fan-out.
func (c *Core) SetAdapters(adapters *adapter.Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters = adapters
}

// Signals exposes the emitter so callers (e.g. Mesh) can attach
// listeners without importing pipeline internals.
func (c *Core) Signals() *signal.Emitter { return c.signals }

// AsPublisher narrows Core down to adapter.Publisher, so adapters can
// inject inbound messages without importing relay themselves.
func (c *Core) AsPublisher() adapter.Publisher { return corePublisher{c} }

type corePublisher struct{ core *Core }

func (p corePublisher) Publish(ctx context.Context, env protocol.Envelope) error {
	_, err := p.core.Publish(ctx, env)
	return err
}

// Rules exposes the access controller for direct rule management
// outside the RelayCore surface (e.g. TopologyManager).
func (c *Core) Rules() *access.Control { return c.rules }

// hashSubject derives a stable short mailbox directory name from a
// subject.
func hashSubject(subj string) string {
	sum := sha256.Sum256([]byte(subj))
	return hex.EncodeToString(sum[:])[:16]
}

// RegisterEndpoint creates (or returns the existing) endpoint for
// subject, ensuring its maildir exists.
func (c *Core) RegisterEndpoint(subj string) (protocol.Endpoint, error) {
	if err := subject.ValidateSubject(subj); err != nil {
		return protocol.Endpoint{}, fmt.Errorf("relay: register endpoint: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ep, ok := c.endpoints[subj]; ok {
		return ep, nil
	}

	hash := hashSubject(subj)
	if err := c.mailbox.EnsureMaildir(hash); err != nil {
		return protocol.Endpoint{}, fmt.Errorf("relay: register endpoint %s: %w", subj, err)
	}
	ep := protocol.Endpoint{Subject: subj, Hash: hash}
	c.endpoints[subj] = ep
	return ep, nil
}

// UnregisterEndpoint removes an endpoint from the in-memory registry.
// The mailbox directory on disk is left untouched.
func (c *Core) UnregisterEndpoint(subj string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.endpoints, subj)
}

// ListEndpoints returns every registered endpoint.
func (c *Core) ListEndpoints() []protocol.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Endpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		out = append(out, ep)
	}
	return out
}

// Subscribe registers handler under pattern, returning an unsubscribe
// token.
func (c *Core) Subscribe(pattern string, handler subscription.Handler) (subscription.Token, error) {
	return c.subs.Subscribe(pattern, handler)
}

// Unsubscribe removes a previously registered handler.
func (c *Core) Unsubscribe(tok subscription.Token) {
	c.subs.Unsubscribe(tok)
}

// SetAccessRules atomically replaces the in-memory rule set.
func (c *Core) SetAccessRules(rules []protocol.AccessRule) {
	c.rules.SetRules(rules)
}

// AddAccessRule persists and installs a single rule.
func (c *Core) AddAccessRule(ctx context.Context, rule protocol.AccessRule) error {
	return c.rules.AddRule(ctx, rule)
}

// ReloadConfig atomically swaps the backpressure and rate limit configs.
// The rate limiter is replaced, so per-sender counts start over. The
// circuit breaker config in cfg is not applied: every breaker keeps the
// config the Core was created with.
func (c *Core) ReloadConfig(cfg ReliabilityConfig) {
	c.pipe.SetBackpressureConfig(cfg.Backpressure)
	limiter := ratelimit.New(cfg.RateLimit, nil)
	c.mu.Lock()
	c.limiter = limiter
	c.mu.Unlock()
}

// Publish runs the full RelayCore.publish algorithm of spec §4.13.
func (c *Core) Publish(ctx context.Context, env protocol.Envelope) (Receipt, error) {
	env.EnsureID(time.Now())

	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()
	if !limiter.Allow(env.From) {
		return Receipt{}, protocol.NewError(protocol.ErrRateLimited, fmt.Sprintf("sender %s rate limited", env.From), nil)
	}

	candidates := c.matchingEndpoints(env.Subject, env.From)

	receipt := Receipt{MessageID: env.ID, Rejected: make(map[string]string)}
	for _, ep := range candidates {
		res, err := c.pipe.DeliverToEndpoint(ctx, ep, env)
		if err != nil {
			receipt.Rejected[ep.Subject] = err.Error()
			continue
		}
		if res.Delivered {
			receipt.DeliveredTo = append(receipt.DeliveredTo, ep.Subject)
		} else if res.Rejected != "" {
			receipt.Rejected[ep.Subject] = string(res.Rejected)
		} else {
			receipt.Rejected[ep.Subject] = "delivery failed"
		}
	}

	c.mu.RLock()
	adapters := c.adapters
	c.mu.RUnlock()
	if adapters != nil {
		adapters.Deliver(env.Subject, env)
	}

	return receipt, nil
}

// matchingEndpoints resolves every registered endpoint whose subject
// matches the published subject and whose access check allows from->to.
func (c *Core) matchingEndpoints(publishSubject, from string) []protocol.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []protocol.Endpoint
	for subj, ep := range c.endpoints {
		if subj != publishSubject {
			continue
		}
		if !c.rules.IsAllowed(from, subj) {
			continue
		}
		out = append(out, ep)
	}
	return out
}

// Forward republishes env toward targetSubject with From set to env's
// current subject, so the normal budget-enforced publish path appends
// that subject to the ancestor chain. env.ReplyTo is carried over
// unchanged; Forward does not read it to pick the target. This is the
// reply-to forwarding helper supplementing RelayCore's core operations.
func (c *Core) Forward(ctx context.Context, env protocol.Envelope, targetSubject string) (Receipt, error) {
	forwarded := env.Clone()
	forwarded.ID = ""
	forwarded.From = env.Subject
	forwarded.Subject = targetSubject
	return c.Publish(ctx, forwarded)
}
