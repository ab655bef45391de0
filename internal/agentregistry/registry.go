// Package agentregistry implements the persistent table of registered
// agents, backed by SqliteIndex, with derived health status. See
// spec §4.14.
package agentregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dork-labs/dorkos/internal/sqliteindex"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// HealthThresholds tunes the health derivation window. See SPEC_FULL.md
// Open Question decision for the defaults.
type HealthThresholds struct {
	Active   time.Duration
	Inactive time.Duration
}

// DefaultHealthThresholds returns the thresholds chosen to resolve spec's
// Open Question on T_active/T_inactive.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{Active: 5 * time.Minute, Inactive: 30 * time.Minute}
}

// Registry wraps sqliteindex's agents table with the domain model.
type Registry struct {
	index      *sqliteindex.Index
	thresholds HealthThresholds
}

// New returns a Registry backed by index.
func New(index *sqliteindex.Index, thresholds HealthThresholds) *Registry {
	return &Registry{index: index, thresholds: thresholds}
}

// Upsert persists entry. A conflict on id replaces mutable fields; a
// different id previously registered at the same ProjectPath is evicted
// first, matching spec §3.6's uniqueness invariant.
func (r *Registry) Upsert(ctx context.Context, entry protocol.AgentRegistryEntry) error {
	manifestJSON, err := json.Marshal(entry.Manifest)
	if err != nil {
		return fmt.Errorf("agentregistry: marshal manifest %s: %w", entry.Manifest.ID, err)
	}

	var lastSeen *time.Time
	if !entry.LastSeenAt.IsZero() {
		t := entry.LastSeenAt
		lastSeen = &t
	}

	return r.index.UpsertAgent(ctx, sqliteindex.AgentRow{
		ID:            entry.Manifest.ID,
		ProjectPath:   entry.ProjectPath,
		Namespace:     entry.Namespace,
		ManifestJSON:  string(manifestJSON),
		ScanRoot:      entry.ScanRoot,
		LastSeenAt:    lastSeen,
		LastSeenEvent: entry.LastSeenEvent,
		Unreachable:   entry.Reachability == protocol.ReachabilityUnreachable,
	})
}

// Get fetches an agent by id.
func (r *Registry) Get(ctx context.Context, id string) (protocol.AgentRegistryEntry, error) {
	row, err := r.index.GetAgent(ctx, id)
	if err != nil {
		return protocol.AgentRegistryEntry{}, fmt.Errorf("agentregistry: get %s: %w", id, err)
	}
	return rowToEntry(row)
}

// GetByPath fetches an agent by its registered project path.
func (r *Registry) GetByPath(ctx context.Context, path string) (protocol.AgentRegistryEntry, error) {
	row, err := r.index.GetAgentByPath(ctx, path)
	if err != nil {
		return protocol.AgentRegistryEntry{}, fmt.Errorf("agentregistry: get by path %s: %w", path, err)
	}
	return rowToEntry(row)
}

// List returns every agent, optionally filtered to a single namespace.
func (r *Registry) List(ctx context.Context, namespace string) ([]protocol.AgentRegistryEntry, error) {
	rows, err := r.index.ListAgents(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("agentregistry: list: %w", err)
	}
	out := make([]protocol.AgentRegistryEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := rowToEntry(row)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// ListByNamespace is List scoped to a single namespace.
func (r *Registry) ListByNamespace(ctx context.Context, ns string) ([]protocol.AgentRegistryEntry, error) {
	return r.List(ctx, ns)
}

// ListUnreachableBefore returns every agent marked unreachable whose
// last-seen timestamp precedes cutoff (or that has never been seen).
func (r *Registry) ListUnreachableBefore(ctx context.Context, cutoff time.Time) ([]protocol.AgentRegistryEntry, error) {
	all, err := r.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []protocol.AgentRegistryEntry
	for _, e := range all {
		if e.Reachability != protocol.ReachabilityUnreachable {
			continue
		}
		if e.LastSeenAt.IsZero() || e.LastSeenAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// UpdateHealth records a fresh last-seen timestamp and event label;
// the derived health status is never stored.
func (r *Registry) UpdateHealth(ctx context.Context, id string, seenAt time.Time, event string) error {
	if err := r.index.UpdateAgentHealth(ctx, id, seenAt, event); err != nil {
		return fmt.Errorf("agentregistry: update health %s: %w", id, err)
	}
	return nil
}

// MarkUnreachable sets the durable unreachable flag, used when an
// agent's project directory disappears.
func (r *Registry) MarkUnreachable(ctx context.Context, id string) error {
	if err := r.index.MarkUnreachable(ctx, id); err != nil {
		return fmt.Errorf("agentregistry: mark unreachable %s: %w", id, err)
	}
	return nil
}

// Delete removes an agent outright, used on mesh unregister.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.index.DeleteAgent(ctx, id); err != nil {
		return fmt.Errorf("agentregistry: delete %s: %w", id, err)
	}
	return nil
}

// WithHealth annotates entry with a computed HealthStatus, per the
// thresholds in r.thresholds and evaluated at now.
func (r *Registry) WithHealth(entry protocol.AgentRegistryEntry, now time.Time) (protocol.AgentRegistryEntry, protocol.HealthStatus) {
	if entry.LastSeenAt.IsZero() {
		return entry, protocol.HealthStale
	}
	age := now.Sub(entry.LastSeenAt)
	switch {
	case age <= r.thresholds.Active:
		return entry, protocol.HealthActive
	case age <= r.thresholds.Inactive:
		return entry, protocol.HealthInactive
	default:
		return entry, protocol.HealthStale
	}
}

// GetWithHealth fetches an agent and annotates it with derived health.
func (r *Registry) GetWithHealth(ctx context.Context, id string, now time.Time) (protocol.AgentRegistryEntry, protocol.HealthStatus, error) {
	entry, err := r.Get(ctx, id)
	if err != nil {
		return protocol.AgentRegistryEntry{}, "", err
	}
	entry, status := r.WithHealth(entry, now)
	return entry, status, nil
}

// AggregateStats summarises the registry for a status dashboard.
type AggregateStats struct {
	Total       int
	Active      int
	Inactive    int
	Stale       int
	Unreachable int
}

// GetAggregateStats fans out health counts across every registered agent.
func (r *Registry) GetAggregateStats(ctx context.Context, now time.Time) (AggregateStats, error) {
	all, err := r.List(ctx, "")
	if err != nil {
		return AggregateStats{}, err
	}
	var stats AggregateStats
	stats.Total = len(all)
	for _, e := range all {
		if e.Reachability == protocol.ReachabilityUnreachable {
			stats.Unreachable++
		}
		_, status := r.WithHealth(e, now)
		switch status {
		case protocol.HealthActive:
			stats.Active++
		case protocol.HealthInactive:
			stats.Inactive++
		case protocol.HealthStale:
			stats.Stale++
		}
	}
	return stats, nil
}

func rowToEntry(row sqliteindex.AgentRow) (protocol.AgentRegistryEntry, error) {
	var manifest protocol.AgentManifest
	if err := json.Unmarshal([]byte(row.ManifestJSON), &manifest); err != nil {
		return protocol.AgentRegistryEntry{}, fmt.Errorf("agentregistry: unmarshal manifest %s: %w", row.ID, err)
	}
	entry := protocol.AgentRegistryEntry{
		Manifest:      manifest,
		ProjectPath:   row.ProjectPath,
		ScanRoot:      row.ScanRoot,
		Namespace:     row.Namespace,
		LastSeenEvent: row.LastSeenEvent,
		Reachability:  protocol.ReachabilityActive,
	}
	if row.LastSeenAt != nil {
		entry.LastSeenAt = *row.LastSeenAt
	}
	if row.Unreachable {
		entry.Reachability = protocol.ReachabilityUnreachable
	}
	return entry, nil
}
