// Package circuitbreaker implements a per-endpoint CLOSED/OPEN/HALF_OPEN
// state machine guarding delivery to an unhealthy endpoint. See spec §4.6.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config tunes a Manager's thresholds.
type Config struct {
	FailureThreshold   int
	CooldownMs         int
	HalfOpenProbeCount int
	SuccessToClose     int
}

// DefaultConfig matches commonly-sane bus defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		CooldownMs:         30000,
		HalfOpenProbeCount: 1,
		SuccessToClose:     2,
	}
}

type breakerState struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	probesRemaining int
	openedAt        time.Time
}

// Manager owns one breakerState per endpoint hash, each guarded by its
// own lock — no single global mutex.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*breakerState
}

// New returns a Manager using cfg for every endpoint hash.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, breakers: make(map[string]*breakerState)}
}

func (m *Manager) stateFor(hash string) *breakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[hash]
	if !ok {
		b = &breakerState{state: Closed}
		m.breakers[hash] = b
	}
	return b
}

// Check reports whether a delivery to hash is currently permitted,
// transitioning OPEN to HALF_OPEN once the cooldown has elapsed.
func (m *Manager) Check(hash string) bool {
	b := m.stateFor(hash)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= time.Duration(m.cfg.CooldownMs)*time.Millisecond {
			b.state = HalfOpen
			b.successCount = 0
			b.probesRemaining = m.cfg.HalfOpenProbeCount
			return m.admitHalfOpenLocked(b)
		}
		return false
	case HalfOpen:
		return m.admitHalfOpenLocked(b)
	default:
		return true
	}
}

// admitHalfOpenLocked caps concurrent outstanding probes at
// HalfOpenProbeCount; RecordSuccess replenishes a slot once its probe
// resolves, so probes keep flowing until SuccessToClose is reached or a
// failure reopens the breaker — a single-probe-at-a-time config can
// still accumulate the successes needed to close.
func (m *Manager) admitHalfOpenLocked(b *breakerState) bool {
	if b.probesRemaining <= 0 {
		return false
	}
	b.probesRemaining--
	return true
}

// RecordSuccess registers a successful delivery to hash.
func (m *Manager) RecordSuccess(hash string) {
	b := m.stateFor(hash)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= m.cfg.SuccessToClose {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
		} else {
			b.probesRemaining++
		}
	}
}

// RecordFailure registers a failed delivery to hash, opening the breaker
// when the failure threshold is reached or immediately reopening it from
// HALF_OPEN.
func (m *Manager) RecordFailure(hash string) {
	b := m.stateFor(hash)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= m.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = time.Now()
			b.failureCount = 0
		}
	case HalfOpen:
		b.state = Open
		b.openedAt = time.Now()
		b.successCount = 0
	}
}

// StateOf reports the current state of the breaker for hash, for
// diagnostics and tests.
func (m *Manager) StateOf(hash string) State {
	b := m.stateFor(hash)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
