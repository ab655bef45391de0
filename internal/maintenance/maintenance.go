// Package maintenance implements the cron-driven sweep jobs that keep
// the dead-letter queue, agent health, and mesh registry from drifting:
// DLQ purge, health-staleness marking, and mesh rescan. Grounded on the
// teacher's cron.Cron wrapper, generalized from per-agent wake schedules
// to fixed maintenance jobs.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dork-labs/dorkos/internal/agentregistry"
	"github.com/dork-labs/dorkos/internal/deadletter"
	"github.com/dork-labs/dorkos/internal/discovery"
	"github.com/dork-labs/dorkos/internal/mesh"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// EndpointLister is the narrow surface Scheduler needs from RelayCore to
// enumerate endpoint hashes for DLQ purge, without depending on relay
// internals.
type EndpointLister interface {
	ListEndpoints() []protocol.Endpoint
}

// Config tunes the sweep schedules and the DLQ retention window.
type Config struct {
	DLQPurgeSchedule    string
	HealthSweepSchedule string
	MeshRescanSchedule  string
	DLQRetention        time.Duration
	ScanRoots           []string
	ScanStrategies      []discovery.Strategy
	ScanOptions         discovery.Options
}

// DefaultConfig matches commonly-sane sweep intervals.
func DefaultConfig() Config {
	return Config{
		DLQPurgeSchedule:    "@every 1h",
		HealthSweepSchedule: "@every 5m",
		MeshRescanSchedule:  "@every 10m",
		DLQRetention:        7 * 24 * time.Hour,
		ScanStrategies:      discovery.DefaultStrategies(),
		ScanOptions:         discovery.DefaultOptions(),
	}
}

// Scheduler runs fixed maintenance jobs on a cron.Cron, mirroring the
// teacher's per-agent wake-up scheduler but with a static job set.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	cfg     Config
	dlq     *deadletter.Queue
	agents  *agentregistry.Registry
	meshes  *mesh.Core
	lister  EndpointLister
	logger  *slog.Logger
	entries []cron.EntryID
}

// New wires a Scheduler from its component parts. lister may be nil, in
// which case the DLQ purge job is a no-op (no endpoints to enumerate).
func New(cfg Config, dlq *deadletter.Queue, agents *agentregistry.Registry, meshCore *mesh.Core, lister EndpointLister, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		cfg:    cfg,
		dlq:    dlq,
		agents: agents,
		meshes: meshCore,
		lister: lister,
		logger: logger,
	}
}

// Start registers the three sweep jobs and begins the cron scheduler.
// Blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.addJob(s.cfg.DLQPurgeSchedule, func() { s.purgeDLQ(ctx) }); err != nil {
		return err
	}
	if err := s.addJob(s.cfg.HealthSweepSchedule, func() { s.sweepHealth(ctx) }); err != nil {
		return err
	}
	if err := s.addJob(s.cfg.MeshRescanSchedule, func() { s.rescanMesh(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("maintenance scheduler started")

	<-ctx.Done()
	s.cron.Stop()
	s.logger.Info("maintenance scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) addJob(schedule string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.cron.AddFunc(schedule, fn)
	if err != nil {
		return err
	}
	s.entries = append(s.entries, id)
	return nil
}

// purgeDLQ purges dead letters older than the retention window across
// every known endpoint.
func (s *Scheduler) purgeDLQ(ctx context.Context) {
	if s.lister == nil {
		return
	}
	now := time.Now()
	total := 0
	for _, ep := range s.lister.ListEndpoints() {
		n, err := s.dlq.Purge(ctx, ep.Hash, s.cfg.DLQRetention, now)
		if err != nil {
			s.logger.Warn("dlq purge failed", "endpoint", ep.Subject, "error", err)
			continue
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("dlq purge swept", "purged", total)
	}
}

// sweepHealth marks agents unreachable once their derived health has
// gone stale — past the registry's inactive threshold with no heartbeat
// in between. Signal emission on the transition happens inside
// MeshCore.UpdateLastSeen, not here; this sweep only catches agents that
// stopped calling in entirely.
func (s *Scheduler) sweepHealth(ctx context.Context) {
	now := time.Now()
	all, err := s.agents.List(ctx, "")
	if err != nil {
		s.logger.Warn("health sweep list failed", "error", err)
		return
	}
	for _, entry := range all {
		if entry.Reachability == protocol.ReachabilityUnreachable {
			continue
		}
		if _, status := s.agents.WithHealth(entry, now); status != protocol.HealthStale {
			continue
		}
		if err := s.agents.MarkUnreachable(ctx, entry.Manifest.ID); err != nil {
			s.logger.Warn("mark unreachable failed", "agent", entry.Manifest.ID, "error", err)
			continue
		}
		s.logger.Info("agent marked unreachable", "agent", entry.Manifest.ID, "namespace", entry.Namespace)
	}
}

// rescanMesh re-runs discovery across the configured scan roots,
// re-registering every manifest the scanner finds, including agents that
// are already registered. Net-new candidates are logged, not auto-registered — an
// operator still approves those explicitly via relayctl.
func (s *Scheduler) rescanMesh(ctx context.Context) {
	if s.meshes == nil || len(s.cfg.ScanRoots) == 0 {
		return
	}
	var imported, found int
	for ev := range s.meshes.Discover(s.cfg.ScanRoots, s.cfg.ScanStrategies, s.cfg.ScanOptions) {
		switch {
		case ev.Err != nil:
			s.logger.Warn("mesh rescan error", "error", ev.Err)
		case ev.AutoImport != nil:
			if _, err := s.meshes.RegisterAutoImport(ctx, ev.AutoImport.Path, ev.AutoImport.Manifest); err != nil {
				s.logger.Warn("mesh rescan auto-import failed", "path", ev.AutoImport.Path, "error", err)
				continue
			}
			imported++
		case ev.Candidate != nil:
			found++
		}
	}
	if imported > 0 || found > 0 {
		s.logger.Info("mesh rescan complete", "auto_imported", imported, "new_candidates", found)
	}
}
