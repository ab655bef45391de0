package ratelimit

import (
	"context"
	"time"
)

// counterStore is the subset of sqliteindex.Index the SQLite-backed
// limiter needs, kept narrow so this package never imports sqliteindex
// directly.
type counterStore interface {
	IncrementBudgetCounter(ctx context.Context, sender string, bucket int64) (int, error)
	PruneBudgetCounters(ctx context.Context, minBucket int64) error
}

// SQLiteLimiter persists its bucketed counters in SqliteIndex's
// budget_counters table instead of memory, so limits survive a restart.
type SQLiteLimiter struct {
	cfg       Config
	overrides map[string]Config
	store     counterStore
	now       func() time.Time
}

// NewSQLite returns a Limiter-shaped rate limiter backed by store.
func NewSQLite(cfg Config, overrides map[string]Config, store counterStore) *SQLiteLimiter {
	return &SQLiteLimiter{cfg: cfg, overrides: overrides, store: store, now: time.Now}
}

func (l *SQLiteLimiter) configFor(sender string) Config {
	if c, ok := l.overrides[sender]; ok {
		return c
	}
	return l.cfg
}

// Allow increments sender's current bucket via the shared index writer
// and rejects once that single bucket's count reaches the window
// maximum. Unlike the in-memory Limiter, Allow never deletes old
// buckets; they stay in budget_counters until PruneBudgetCounters is
// called on the store.
func (l *SQLiteLimiter) Allow(ctx context.Context, sender string) (bool, error) {
	cfg := l.configFor(sender)
	bucketSeconds := cfg.BucketSeconds
	if bucketSeconds <= 0 {
		bucketSeconds = 60
	}
	bucket := l.now().Unix() / int64(bucketSeconds)

	count, err := l.store.IncrementBudgetCounter(ctx, sender, bucket)
	if err != nil {
		return false, err
	}
	return count <= cfg.MaxPerWindow, nil
}
