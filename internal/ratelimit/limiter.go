// Package ratelimit implements a sliding-window, per-sender request
// limiter backed by bucketed counters. See spec §4.7.
package ratelimit

import (
	"sync"
	"time"
)

// Config tunes the default window; individual senders may override it.
type Config struct {
	WindowSeconds int `json:"window_seconds"`
	MaxPerWindow  int `json:"max_per_window"`
	BucketSeconds int `json:"bucket_seconds"`
}

// DefaultConfig matches commonly-sane bus defaults: a one-minute window,
// one-minute buckets.
func DefaultConfig() Config {
	return Config{WindowSeconds: 60, MaxPerWindow: 120, BucketSeconds: 60}
}

type senderState struct {
	mu      sync.Mutex
	buckets map[int64]int
}

// Limiter counts events per sender in memory, using bucketed counters
// rather than a timestamp list per event.
type Limiter struct {
	cfg       Config
	overrides map[string]Config

	mu      sync.Mutex
	senders map[string]*senderState

	now func() time.Time
}

// New returns a Limiter using cfg as the default, with per-sender
// overrides taken from overrides.
func New(cfg Config, overrides map[string]Config) *Limiter {
	return &Limiter{
		cfg:       cfg,
		overrides: overrides,
		senders:   make(map[string]*senderState),
		now:       time.Now,
	}
}

func (l *Limiter) configFor(sender string) Config {
	if c, ok := l.overrides[sender]; ok {
		return c
	}
	return l.cfg
}

func (l *Limiter) stateFor(sender string) *senderState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.senders[sender]
	if !ok {
		s = &senderState{buckets: make(map[int64]int)}
		l.senders[sender] = s
	}
	return s
}

// Allow reports whether sender may emit one more event right now,
// incrementing its counter if so. It rejects once the sliding window's
// total reaches the configured maximum.
func (l *Limiter) Allow(sender string) bool {
	cfg := l.configFor(sender)
	bucketSeconds := cfg.BucketSeconds
	if bucketSeconds <= 0 {
		bucketSeconds = 60
	}

	now := l.now()
	currentBucket := now.Unix() / int64(bucketSeconds)
	windowBuckets := int64(cfg.WindowSeconds)/int64(bucketSeconds) + 1

	s := l.stateFor(sender)
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for b, count := range s.buckets {
		if currentBucket-b >= windowBuckets {
			delete(s.buckets, b)
			continue
		}
		total += count
	}

	if total >= cfg.MaxPerWindow {
		return false
	}
	s.buckets[currentBucket]++
	return true
}
