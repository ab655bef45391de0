package access

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dork-labs/dorkos/internal/sqliteindex"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

func newTestControl(t *testing.T) *Control {
	t.Helper()
	index, err := sqliteindex.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("sqliteindex.Open: %v", err)
	}
	t.Cleanup(func() { index.Close() })
	return New(index)
}

func TestDefaultAllowsSameNamespace(t *testing.T) {
	c := newTestControl(t)
	if !c.IsAllowed("relay.agent.foo.X", "relay.agent.foo.Y") {
		t.Fatal("expected same-namespace default to allow")
	}
}

func TestDefaultDeniesCrossNamespace(t *testing.T) {
	c := newTestControl(t)
	if c.IsAllowed("relay.agent.foo.X", "relay.agent.bar.Y") {
		t.Fatal("expected cross-namespace default to deny")
	}
}

func TestExplicitAllowRulePermitsCrossNamespace(t *testing.T) {
	c := newTestControl(t)
	ctx := context.Background()
	if err := c.AddRule(ctx, protocol.AccessRule{
		From: "relay.agent.foo.*", To: "relay.agent.bar.*", Action: protocol.ActionAllow, Priority: 10,
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if !c.IsAllowed("relay.agent.foo.X", "relay.agent.bar.Y") {
		t.Fatal("expected explicit allow rule to permit cross-namespace delivery")
	}
}

func TestHigherPriorityWins(t *testing.T) {
	c := newTestControl(t)
	ctx := context.Background()
	if err := c.AddRule(ctx, protocol.AccessRule{
		From: "relay.agent.foo.*", To: "relay.agent.bar.*", Action: protocol.ActionAllow, Priority: 5,
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := c.AddRule(ctx, protocol.AccessRule{
		From: "relay.agent.foo.*", To: "relay.agent.bar.*", Action: protocol.ActionDeny, Priority: 10,
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if c.IsAllowed("relay.agent.foo.X", "relay.agent.bar.Y") {
		t.Fatal("expected higher-priority deny to win")
	}
}

func TestTiePriorityResolvesToDeny(t *testing.T) {
	c := newTestControl(t)
	ctx := context.Background()
	if err := c.AddRule(ctx, protocol.AccessRule{
		From: "relay.agent.foo.*", To: "relay.agent.bar.*", Action: protocol.ActionAllow, Priority: 10,
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := c.AddRule(ctx, protocol.AccessRule{
		From: "relay.agent.foo.*", To: "relay.agent.bar.*", Action: protocol.ActionDeny, Priority: 10,
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if c.IsAllowed("relay.agent.foo.X", "relay.agent.bar.Y") {
		t.Fatal("expected tie priority to resolve to deny")
	}
}

func TestLoadFromIndexRepopulatesRules(t *testing.T) {
	index, err := sqliteindex.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("sqliteindex.Open: %v", err)
	}
	defer index.Close()
	ctx := context.Background()

	c1 := New(index)
	if err := c1.AddRule(ctx, protocol.AccessRule{
		From: "relay.agent.foo.*", To: "relay.agent.bar.*", Action: protocol.ActionAllow, Priority: 1,
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	c2 := New(index)
	if err := c2.LoadFromIndex(ctx); err != nil {
		t.Fatalf("LoadFromIndex: %v", err)
	}
	if !c2.IsAllowed("relay.agent.foo.X", "relay.agent.bar.Y") {
		t.Fatal("expected rule persisted by c1 to be visible after c2 reloads")
	}
}
