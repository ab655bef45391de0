// Package topology composes AgentRegistry and AccessControl into a
// namespace-scoped view of the mesh. See spec §4.18.
package topology

import (
	"context"
	"fmt"

	"github.com/dork-labs/dorkos/internal/access"
	"github.com/dork-labs/dorkos/internal/agentregistry"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// AdminSentinel is the namespace value that returns the full topology
// with no access filtering.
const AdminSentinel = "*"

// NamespaceView is a namespace and the agents a caller may see in it.
type NamespaceView struct {
	Namespace string
	Agents    []protocol.AgentRegistryEntry
}

// Manager composes the registry and access control.
type Manager struct {
	agents *agentregistry.Registry
	rules  *access.Control
}

// New returns a Manager over agents and rules.
func New(agents *agentregistry.Registry, rules *access.Control) *Manager {
	return &Manager{agents: agents, rules: rules}
}

// GetTopology returns the namespaces and agents callerNamespace may see.
// AdminSentinel returns everything unfiltered. Otherwise an agent in
// another namespace is visible when the access check lets at least one
// agent of callerNamespace reach it, so a namespace with no registered
// agents sees no other namespace.
func (m *Manager) GetTopology(ctx context.Context, callerNamespace string) ([]NamespaceView, error) {
	all, err := m.agents.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("topology: list agents: %w", err)
	}

	byNamespace := make(map[string][]protocol.AgentRegistryEntry)
	var order []string
	for _, a := range all {
		if _, ok := byNamespace[a.Namespace]; !ok {
			order = append(order, a.Namespace)
		}
		byNamespace[a.Namespace] = append(byNamespace[a.Namespace], a)
	}

	if callerNamespace == AdminSentinel {
		views := make([]NamespaceView, 0, len(order))
		for _, ns := range order {
			views = append(views, NamespaceView{Namespace: ns, Agents: byNamespace[ns]})
		}
		return views, nil
	}

	// Access rules are evaluated from each concrete caller-agent subject:
	// a wildcard subject never matches a rule's from pattern.
	callerAgents := byNamespace[callerNamespace]
	var views []NamespaceView
	for _, ns := range order {
		if ns == callerNamespace {
			views = append(views, NamespaceView{Namespace: ns, Agents: byNamespace[ns]})
			continue
		}
		var visible []protocol.AgentRegistryEntry
		for _, a := range byNamespace[ns] {
			target := fmt.Sprintf("relay.agent.%s.%s", ns, a.Manifest.ID)
			for _, caller := range callerAgents {
				if m.rules.IsAllowed(fmt.Sprintf("relay.agent.%s.%s", callerNamespace, caller.Manifest.ID), target) {
					visible = append(visible, a)
					break
				}
			}
		}
		if len(visible) > 0 {
			views = append(views, NamespaceView{Namespace: ns, Agents: visible})
		}
	}
	return views, nil
}

// GetAgentAccess returns the agents reachable from agentID: every agent
// (including cross-namespace) that an access check permits.
func (m *Manager) GetAgentAccess(ctx context.Context, agentID string) ([]protocol.AgentRegistryEntry, error) {
	self, err := m.agents.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("topology: get agent %s: %w", agentID, err)
	}
	fromSubject := fmt.Sprintf("relay.agent.%s.%s", self.Namespace, agentID)

	all, err := m.agents.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("topology: list agents: %w", err)
	}

	var reachable []protocol.AgentRegistryEntry
	for _, a := range all {
		if a.Manifest.ID == agentID {
			continue
		}
		target := fmt.Sprintf("relay.agent.%s.%s", a.Namespace, a.Manifest.ID)
		if m.rules.IsAllowed(fromSubject, target) {
			reachable = append(reachable, a)
		}
	}
	return reachable, nil
}

// AllowCrossNamespace inserts an allow rule permitting src to reach dst.
// Both directions must be asserted separately if bidirectional access
// is wanted.
func (m *Manager) AllowCrossNamespace(ctx context.Context, src, dst string) error {
	return m.rules.AddRule(ctx, protocol.AccessRule{
		From: fmt.Sprintf("relay.agent.%s.*", src), To: fmt.Sprintf("relay.agent.%s.*", dst),
		Action: protocol.ActionAllow, Priority: 1,
	})
}

// DenyCrossNamespace inserts a deny rule blocking src from reaching dst.
func (m *Manager) DenyCrossNamespace(ctx context.Context, src, dst string) error {
	return m.rules.AddRule(ctx, protocol.AccessRule{
		From: fmt.Sprintf("relay.agent.%s.*", src), To: fmt.Sprintf("relay.agent.%s.*", dst),
		Action: protocol.ActionDeny, Priority: 1,
	})
}
