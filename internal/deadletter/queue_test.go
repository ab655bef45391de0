package deadletter

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dork-labs/dorkos/internal/maildirstore"
	"github.com/dork-labs/dorkos/internal/sqliteindex"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mailbox, err := maildirstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("maildirstore.New: %v", err)
	}
	index, err := sqliteindex.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("sqliteindex.Open: %v", err)
	}
	t.Cleanup(func() { index.Close() })
	return New(mailbox, index)
}

func TestRejectThenListThenPurge(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	env := protocol.Envelope{Subject: "relay.agent.alpha", From: "x", CreatedAt: now}
	id, err := q.Reject(ctx, "h1", env, "ttl_expired")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}

	dead, err := q.ListDead("h1")
	if err != nil {
		t.Fatalf("ListDead: %v", err)
	}
	if len(dead) != 1 || dead[0].Reason != "ttl_expired" {
		t.Fatalf("unexpected dead letters: %+v", dead)
	}

	purged, err := q.Purge(ctx, "h1", time.Hour, now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if purged != 0 {
		t.Fatalf("purged = %d, want 0 (not old enough relative to the given now)", purged)
	}

	purged, err = q.Purge(ctx, "h1", time.Hour, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	dead, err = q.ListDead("h1")
	if err != nil {
		t.Fatalf("ListDead after purge: %v", err)
	}
	if len(dead) != 0 {
		t.Fatalf("expected no dead letters after purge, got %+v", dead)
	}
	_ = id
}
