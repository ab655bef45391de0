package topology

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dork-labs/dorkos/internal/access"
	"github.com/dork-labs/dorkos/internal/agentregistry"
	"github.com/dork-labs/dorkos/internal/sqliteindex"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

func newTestManager(t *testing.T) (*Manager, context.Context) {
	t.Helper()
	index, err := sqliteindex.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("sqliteindex.Open: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	agents := agentregistry.New(index, agentregistry.DefaultHealthThresholds())
	rules := access.New(index)
	return New(agents, rules), context.Background()
}

func seedAgent(t *testing.T, m *Manager, ctx context.Context, id, ns string) {
	t.Helper()
	if err := m.agents.Upsert(ctx, protocol.AgentRegistryEntry{
		Manifest: protocol.AgentManifest{ID: id}, ProjectPath: "/p/" + id, Namespace: ns,
	}); err != nil {
		t.Fatalf("Upsert %s: %v", id, err)
	}
}

func TestGetTopologyAdminSeesEverything(t *testing.T) {
	m, ctx := newTestManager(t)
	seedAgent(t, m, ctx, "a1", "foo")
	seedAgent(t, m, ctx, "a2", "bar")

	views, err := m.GetTopology(ctx, AdminSentinel)
	if err != nil {
		t.Fatalf("GetTopology: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("len(views) = %d, want 2", len(views))
	}
}

func TestGetTopologyNonAdminSeesOwnNamespaceOnly(t *testing.T) {
	m, ctx := newTestManager(t)
	seedAgent(t, m, ctx, "a1", "foo")
	seedAgent(t, m, ctx, "a2", "bar")

	views, err := m.GetTopology(ctx, "foo")
	if err != nil {
		t.Fatalf("GetTopology: %v", err)
	}
	if len(views) != 1 || views[0].Namespace != "foo" {
		t.Fatalf("views = %+v, want only foo", views)
	}
}

func TestGetTopologyHonoursAllowRule(t *testing.T) {
	m, ctx := newTestManager(t)
	seedAgent(t, m, ctx, "a1", "foo")
	seedAgent(t, m, ctx, "a2", "bar")

	if err := m.AllowCrossNamespace(ctx, "foo", "bar"); err != nil {
		t.Fatalf("AllowCrossNamespace: %v", err)
	}

	views, err := m.GetTopology(ctx, "foo")
	if err != nil {
		t.Fatalf("GetTopology: %v", err)
	}
	var sawBar bool
	for _, v := range views {
		if v.Namespace == "bar" {
			sawBar = true
		}
	}
	if !sawBar {
		t.Fatalf("expected bar namespace visible after allow rule, views = %+v", views)
	}
}
