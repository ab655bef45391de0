// Package access implements priority-ordered allow/deny rule evaluation
// between subjects, with a namespace-relation default. See spec §4.11.
package access

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dork-labs/dorkos/internal/namespace"
	"github.com/dork-labs/dorkos/internal/sqliteindex"
	"github.com/dork-labs/dorkos/internal/subject"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// Control evaluates access rules in memory, persisting every mutation
// through SqliteIndex so rules survive a restart.
type Control struct {
	index *sqliteindex.Index

	mu    sync.RWMutex
	rules []protocol.AccessRule
}

// New returns an empty Control backed by index. Callers should call
// LoadFromIndex on boot to repopulate rules.
func New(index *sqliteindex.Index) *Control {
	return &Control{index: index}
}

// LoadFromIndex reloads every persisted rule, replacing the in-memory set.
func (c *Control) LoadFromIndex(ctx context.Context) error {
	rows, err := c.index.ListAccessRules(ctx)
	if err != nil {
		return fmt.Errorf("access: load: %w", err)
	}
	rules := make([]protocol.AccessRule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, protocol.AccessRule{
			ID: r.ID, From: r.From, To: r.To,
			Action: protocol.RuleAction(r.Action), Priority: r.Priority,
		})
	}
	c.mu.Lock()
	c.rules = rules
	c.mu.Unlock()
	return nil
}

// AddRule validates, persists, and installs a new rule.
func (c *Control) AddRule(ctx context.Context, rule protocol.AccessRule) error {
	if err := subject.ValidatePattern(rule.From); err != nil {
		return fmt.Errorf("access: invalid from pattern: %w", err)
	}
	if err := subject.ValidatePattern(rule.To); err != nil {
		return fmt.Errorf("access: invalid to pattern: %w", err)
	}
	if rule.ID == "" {
		rule.ID = protocol.NewID()
	}

	if err := c.index.InsertAccessRule(ctx, sqliteindex.AccessRuleRow{
		ID: rule.ID, From: rule.From, To: rule.To,
		Action: string(rule.Action), Priority: rule.Priority,
	}); err != nil {
		return fmt.Errorf("access: persist rule %s: %w", rule.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.rules {
		if r.ID == rule.ID {
			c.rules[i] = rule
			return nil
		}
	}
	c.rules = append(c.rules, rule)
	return nil
}

// RemoveRule deletes a rule by id.
func (c *Control) RemoveRule(ctx context.Context, id string) error {
	if err := c.index.DeleteAccessRule(ctx, id); err != nil {
		return fmt.Errorf("access: delete rule %s: %w", id, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.rules {
		if r.ID == id {
			c.rules = append(c.rules[:i], c.rules[i+1:]...)
			break
		}
	}
	return nil
}

// SetRules atomically replaces the full rule set in memory only (used by
// RelayCore.setAccessRules); callers are responsible for persisting each
// rule via AddRule beforehand if durability across restart is required.
func (c *Control) SetRules(rules []protocol.AccessRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append([]protocol.AccessRule(nil), rules...)
}

// IsAllowed evaluates whether a message from fromSubject may reach
// toSubject, per spec §4.11's filter/sort/default algorithm.
func (c *Control) IsAllowed(fromSubject, toSubject string) bool {
	c.mu.RLock()
	candidates := make([]protocol.AccessRule, 0, len(c.rules))
	for _, r := range c.rules {
		if subject.Match(r.From, fromSubject) && subject.Match(r.To, toSubject) {
			candidates = append(candidates, r)
		}
	}
	c.mu.RUnlock()

	if len(candidates) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Priority != candidates[j].Priority {
				return candidates[i].Priority > candidates[j].Priority
			}
			// ties resolve to explicit deny
			return candidates[i].Action == protocol.ActionDeny && candidates[j].Action != protocol.ActionDeny
		})
		return candidates[0].Action == protocol.ActionAllow
	}

	return defaultAllowed(fromSubject, toSubject)
}

// defaultAllowed implements the fallback when no rule matches: allow
// within the same namespace, deny across namespaces.
func defaultAllowed(fromSubject, toSubject string) bool {
	return namespaceOf(fromSubject) == namespaceOf(toSubject)
}

// namespaceOf extracts the namespace segment from a relay subject of the
// form "relay.agent.<namespace>.<id>", normalised the same way
// NamespaceResolver normalises manifest-declared namespaces.
func namespaceOf(subj string) string {
	segs := strings.Split(subj, ".")
	if len(segs) < 3 {
		return subj
	}
	return namespace.Normalize(segs[2])
}
