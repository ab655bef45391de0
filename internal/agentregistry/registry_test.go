package agentregistry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dork-labs/dorkos/internal/sqliteindex"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

func newTestRegistry(t *testing.T) (*Registry, context.Context) {
	t.Helper()
	index, err := sqliteindex.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("sqliteindex.Open: %v", err)
	}
	t.Cleanup(func() { index.Close() })
	return New(index, DefaultHealthThresholds()), context.Background()
}

func TestUpsertAndGet(t *testing.T) {
	r, ctx := newTestRegistry(t)
	entry := protocol.AgentRegistryEntry{
		Manifest:    protocol.AgentManifest{ID: "a1", Name: "alpha", Runtime: "claude-code"},
		ProjectPath: "/p/a", ScanRoot: "/p", Namespace: "team",
	}
	if err := r.Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := r.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Manifest.Name != "alpha" {
		t.Fatalf("Manifest.Name = %q, want alpha", got.Manifest.Name)
	}
}

func TestUpsertReplacesEntryAtSamePath(t *testing.T) {
	r, ctx := newTestRegistry(t)
	if err := r.Upsert(ctx, protocol.AgentRegistryEntry{
		Manifest: protocol.AgentManifest{ID: "a1"}, ProjectPath: "/p", Namespace: "team",
	}); err != nil {
		t.Fatalf("Upsert a1: %v", err)
	}
	if err := r.Upsert(ctx, protocol.AgentRegistryEntry{
		Manifest: protocol.AgentManifest{ID: "a2"}, ProjectPath: "/p", Namespace: "team",
	}); err != nil {
		t.Fatalf("Upsert a2: %v", err)
	}

	if _, err := r.Get(ctx, "a1"); err == nil {
		t.Fatal("expected a1 to be evicted")
	}
	got, err := r.GetByPath(ctx, "/p")
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if got.Manifest.ID != "a2" {
		t.Fatalf("Manifest.ID = %q, want a2", got.Manifest.ID)
	}
}

func TestHealthDerivation(t *testing.T) {
	r, _ := newTestRegistry(t)
	now := time.Now()

	active := protocol.AgentRegistryEntry{LastSeenAt: now.Add(-time.Minute)}
	if _, status := r.WithHealth(active, now); status != protocol.HealthActive {
		t.Fatalf("status = %v, want active", status)
	}

	inactive := protocol.AgentRegistryEntry{LastSeenAt: now.Add(-10 * time.Minute)}
	if _, status := r.WithHealth(inactive, now); status != protocol.HealthInactive {
		t.Fatalf("status = %v, want inactive", status)
	}

	stale := protocol.AgentRegistryEntry{LastSeenAt: now.Add(-time.Hour)}
	if _, status := r.WithHealth(stale, now); status != protocol.HealthStale {
		t.Fatalf("status = %v, want stale", status)
	}

	neverSeen := protocol.AgentRegistryEntry{}
	if _, status := r.WithHealth(neverSeen, now); status != protocol.HealthStale {
		t.Fatalf("status = %v, want stale for never-seen agent", status)
	}
}

func TestGetAggregateStats(t *testing.T) {
	r, ctx := newTestRegistry(t)
	now := time.Now()

	if err := r.Upsert(ctx, protocol.AgentRegistryEntry{
		Manifest: protocol.AgentManifest{ID: "a1"}, ProjectPath: "/a", Namespace: "team",
		LastSeenAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Upsert a1: %v", err)
	}
	if err := r.Upsert(ctx, protocol.AgentRegistryEntry{
		Manifest: protocol.AgentManifest{ID: "a2"}, ProjectPath: "/b", Namespace: "team",
		Reachability: protocol.ReachabilityUnreachable,
	}); err != nil {
		t.Fatalf("Upsert a2: %v", err)
	}

	stats, err := r.GetAggregateStats(ctx, now)
	if err != nil {
		t.Fatalf("GetAggregateStats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("Total = %d, want 2", stats.Total)
	}
	if stats.Unreachable != 1 {
		t.Fatalf("Unreachable = %d, want 1", stats.Unreachable)
	}
}
