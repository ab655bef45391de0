package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dork-labs/dorkos/internal/agentregistry"
	"github.com/dork-labs/dorkos/internal/discovery"
	"github.com/dork-labs/dorkos/internal/manifestio"
	"github.com/dork-labs/dorkos/internal/namespace"
	"github.com/dork-labs/dorkos/internal/signal"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// Approver decides whether a candidate manifest should actually be
// registered; it runs after hints and overrides are merged but before
// anything is written to disk or the registry. A nil Approver always
// approves.
type Approver func(manifest protocol.AgentManifest) bool

// Core implements MeshCore: discovery, registration, and health
// tracking for agents, bridged into Relay via RelayBridge.
type Core struct {
	agents  *agentregistry.Registry
	bridge  *RelayBridge
	signals *signal.Emitter
}

// New returns a Core wiring agents, bridge, and signals together.
// signals may be nil, matching spec §4.19's "no-op when unavailable".
func New(agents *agentregistry.Registry, bridge *RelayBridge, signals *signal.Emitter) *Core {
	return &Core{agents: agents, bridge: bridge, signals: signals}
}

// Discover fans ScanDirectory out across roots and merges their event
// streams into one channel, closed once every root's scan completes.
func (c *Core) Discover(roots []string, strategies []discovery.Strategy, opts discovery.Options) <-chan discovery.Event {
	alreadyRegistered := opts.AlreadyRegistered
	if alreadyRegistered == nil {
		alreadyRegistered = func(path string) bool {
			_, err := c.agents.GetByPath(context.Background(), path)
			return err == nil
		}
	}
	opts.AlreadyRegistered = alreadyRegistered

	merged := make(chan discovery.Event)
	var pending int
	done := make(chan struct{})
	for _, root := range roots {
		pending++
		go func(root string) {
			for ev := range discovery.ScanDirectory(root, strategies, opts) {
				merged <- ev
			}
			done <- struct{}{}
		}(root)
	}
	go func() {
		for i := 0; i < pending; i++ {
			<-done
		}
		close(merged)
	}()
	return merged
}

// RegisterCandidate assigns a ULID, merges hints and overrides into a
// manifest, writes it to disk, upserts it in the registry, and creates
// its Relay endpoint. approver may veto registration; a nil approver
// always approves.
func (c *Core) RegisterCandidate(
	ctx context.Context,
	candidate discovery.DiscoveryCandidateEvent,
	overrides protocol.AgentManifest,
	scanRoot string,
	approver Approver,
) (protocol.AgentRegistryEntry, error) {
	manifest := buildManifest(candidate.Hints, overrides)
	return c.register(ctx, candidate.Path, manifest, scanRoot, approver)
}

// RegisterByPath registers projectPath directly, without going through
// a discovery candidate event — used when an operator already knows
// which directory to register.
func (c *Core) RegisterByPath(
	ctx context.Context,
	projectPath string,
	overrides protocol.AgentManifest,
	scanRoot string,
	approver Approver,
) (protocol.AgentRegistryEntry, error) {
	return c.register(ctx, projectPath, overrides, scanRoot, approver)
}

// RegisterAutoImport upserts a manifest MeshCore's scanner already found
// on disk (spec §4.15's AutoImport event): no user intent is required,
// but the registry and Relay endpoint still need updating.
func (c *Core) RegisterAutoImport(ctx context.Context, path string, manifest protocol.AgentManifest) (protocol.AgentRegistryEntry, error) {
	return c.register(ctx, path, manifest, "", nil)
}

func (c *Core) register(
	ctx context.Context,
	projectPath string,
	manifest protocol.AgentManifest,
	scanRoot string,
	approver Approver,
) (protocol.AgentRegistryEntry, error) {
	if manifest.ID == "" {
		manifest.ID = protocol.NewID()
	}
	if manifest.RegisteredAt.IsZero() {
		manifest.RegisteredAt = time.Now()
	}

	ns, err := namespace.Resolve(projectPath, scanRoot, manifest.Namespace)
	if err != nil {
		return protocol.AgentRegistryEntry{}, fmt.Errorf("mesh: resolve namespace for %s: %w", projectPath, err)
	}
	manifest.Namespace = ns

	if approver != nil && !approver(manifest) {
		return protocol.AgentRegistryEntry{}, fmt.Errorf("mesh: registration of %s rejected by approver", projectPath)
	}

	if err := manifestio.WriteManifest(projectPath, manifest); err != nil {
		return protocol.AgentRegistryEntry{}, fmt.Errorf("mesh: write manifest for %s: %w", projectPath, err)
	}

	entry := protocol.AgentRegistryEntry{
		Manifest: manifest, ProjectPath: projectPath, ScanRoot: scanRoot,
		Namespace: ns, LastSeenAt: time.Now(), Reachability: protocol.ReachabilityActive,
	}
	if err := c.agents.Upsert(ctx, entry); err != nil {
		return protocol.AgentRegistryEntry{}, fmt.Errorf("mesh: upsert agent %s: %w", manifest.ID, err)
	}

	if c.bridge != nil {
		if _, err := c.bridge.RegisterAgent(ns, manifest.ID); err != nil {
			return protocol.AgentRegistryEntry{}, fmt.Errorf("mesh: register relay endpoint for %s: %w", manifest.ID, err)
		}
	}
	return entry, nil
}

// Unregister removes id from the registry, unregisters its Relay
// endpoint, and reports whether it was the last agent in its namespace.
// It does not remove any access rules: MeshCore holds no reference to
// TopologyManager/AccessControl, so namespace-level rules stay in place
// unless the caller removes them after a true result.
func (c *Core) Unregister(ctx context.Context, id string) (lastInNamespace bool, err error) {
	entry, err := c.agents.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("mesh: unregister %s: %w", id, err)
	}
	if err := c.agents.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("mesh: delete %s: %w", id, err)
	}
	if c.bridge != nil {
		c.bridge.UnregisterAgent(entry.Namespace, id)
	}

	remaining, err := c.agents.ListByNamespace(ctx, entry.Namespace)
	if err != nil {
		return false, fmt.Errorf("mesh: list namespace %s after delete: %w", entry.Namespace, err)
	}
	return len(remaining) == 0, nil
}

// RehydrateEndpoints re-registers the Relay endpoint for every
// persisted agent, restoring MeshCore's bridged state after a restart
// (the bridge's registrations themselves live only in RelayCore's
// in-memory endpoint table). Per-agent failures are collected rather
// than aborting the rest of the rehydration.
func (c *Core) RehydrateEndpoints(ctx context.Context) (int, error) {
	entries, err := c.agents.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("mesh: rehydrate: list agents: %w", err)
	}
	if c.bridge == nil {
		return 0, nil
	}

	n := 0
	var errs []error
	for _, entry := range entries {
		if _, err := c.bridge.RegisterAgent(entry.Namespace, entry.Manifest.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Manifest.ID, err))
			continue
		}
		n++
	}
	if len(errs) > 0 {
		return n, fmt.Errorf("mesh: rehydrate: %d of %d agents failed: %w", len(errs), len(entries), errors.Join(errs...))
	}
	return n, nil
}

// UpdateLastSeen records a liveness event and, if the derived
// HealthStatus changed as a result, emits a SignalMeshHealthChanged
// signal.
func (c *Core) UpdateLastSeen(ctx context.Context, id, event string) error {
	now := time.Now()
	before, err := c.agents.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("mesh: update last seen %s: %w", id, err)
	}
	_, beforeHealth := c.agents.WithHealth(before, now)

	if err := c.agents.UpdateHealth(ctx, id, now, event); err != nil {
		return fmt.Errorf("mesh: update last seen %s: %w", id, err)
	}

	if c.signals == nil {
		return nil
	}
	after, err := c.agents.Get(ctx, id)
	if err != nil {
		return nil
	}
	_, afterHealth := c.agents.WithHealth(after, now)
	if afterHealth != beforeHealth {
		c.signals.Emit(protocol.Signal{
			Type: protocol.SignalMeshHealthChanged, State: string(afterHealth),
			EndpointSubject: subjectFor(after.Namespace, id), Timestamp: now,
			Data: map[string]string{"previous": string(beforeHealth), "event": event},
		})
	}
	return nil
}

// buildManifest merges discovered hints with operator-supplied
// overrides; overrides win on every non-zero field.
func buildManifest(hints discovery.Hints, overrides protocol.AgentManifest) protocol.AgentManifest {
	m := protocol.AgentManifest{
		Name:         hints.SuggestedName,
		Description:  hints.Description,
		Runtime:      hints.DetectedRuntime,
		Capabilities: hints.InferredCapabilities,
	}
	if overrides.ID != "" {
		m.ID = overrides.ID
	}
	if overrides.Name != "" {
		m.Name = overrides.Name
	}
	if overrides.Description != "" {
		m.Description = overrides.Description
	}
	if overrides.Runtime != "" {
		m.Runtime = overrides.Runtime
	}
	if len(overrides.Capabilities) > 0 {
		m.Capabilities = overrides.Capabilities
	}
	if overrides.Namespace != "" {
		m.Namespace = overrides.Namespace
	}
	if overrides.Behavior.ResponseMode != "" {
		m.Behavior = overrides.Behavior
	}
	if overrides.Budget.MaxHopsPerMessage != 0 || overrides.Budget.MaxCallsPerHour != 0 {
		m.Budget = overrides.Budget
	}
	if overrides.RegisteredBy != "" {
		m.RegisteredBy = overrides.RegisteredBy
	}
	return m
}
