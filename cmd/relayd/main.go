// Command relayd is the Relay/Mesh daemon: it loads configuration, wires
// the storage and orchestration layers together, starts any configured
// adapters and the maintenance scheduler, and runs until signalled to
// shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dork-labs/dorkos/internal/access"
	"github.com/dork-labs/dorkos/internal/adapter"
	"github.com/dork-labs/dorkos/internal/agentregistry"
	"github.com/dork-labs/dorkos/internal/config"
	"github.com/dork-labs/dorkos/internal/deadletter"
	"github.com/dork-labs/dorkos/internal/discovery"
	"github.com/dork-labs/dorkos/internal/logbuf"
	"github.com/dork-labs/dorkos/internal/maildirstore"
	"github.com/dork-labs/dorkos/internal/maintenance"
	"github.com/dork-labs/dorkos/internal/mesh"
	"github.com/dork-labs/dorkos/internal/relay"
	"github.com/dork-labs/dorkos/internal/sqliteindex"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Relay.DataDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "failed to create data dir:", err)
		os.Exit(1)
	}

	// relayctl has no daemon RPC to ask relayd for recent logs, so relayd
	// mirrors them to a file under the data directory for `relayctl logs`
	// to tail directly, alongside the usual stdout stream.
	logFile, err := os.OpenFile(filepath.Join(cfg.Relay.DataDir, "relayd.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open log file:", err)
		os.Exit(1)
	}
	defer logFile.Close()

	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(io.MultiWriter(os.Stdout, logFile), &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	logger.Info("relayd starting", "data_dir", cfg.Relay.DataDir)

	// 1. Storage: mailbox + index.
	mailbox, err := maildirstore.New(filepath.Join(cfg.Relay.DataDir, "mail"))
	if err != nil {
		logger.Error("failed to open mailbox", "error", err)
		os.Exit(1)
	}
	indexPath := cfg.Relay.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(cfg.Relay.DataDir, "index.db")
	}
	index, err := sqliteindex.Open(indexPath)
	if err != nil {
		logger.Error("failed to open index", "path", indexPath, "error", err)
		os.Exit(1)
	}
	defer index.Close()

	// 2. Access control, seeded from the index then from config.
	rules := access.New(index)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rules.LoadFromIndex(ctx); err != nil {
		logger.Error("failed to load access rules", "error", err)
		os.Exit(1)
	}
	for _, r := range cfg.AccessRules {
		if err := rules.AddRule(ctx, r); err != nil {
			logger.Error("failed to seed access rule", "rule", r, "error", err)
			os.Exit(1)
		}
	}

	// 3. RelayCore, then its adapter registry (Publisher needs the Core).
	relayCfg := relay.ReliabilityConfig{
		Backpressure:   cfg.Relay.Backpressure,
		RateLimit:      cfg.Relay.RateLimit,
		CircuitBreaker: cfg.Relay.CircuitBreaker,
	}
	core := relay.New(mailbox, index, rules, relayCfg)

	adapterLoader := adapter.NewLoader(filepath.Dir(*configPath))
	adapterRegistry := adapter.NewRegistry(core.AsPublisher(), logger.With("component", "adapters"))
	for _, entry := range cfg.Adapters {
		if !entry.Enabled {
			continue
		}
		a, manifest, err := adapterLoader.LoadWithManifest(entry)
		if err != nil {
			logger.Warn("failed to load adapter, skipping", "id", entry.ID, "error", err)
			continue
		}
		if err := adapterRegistry.Register(ctx, a); err != nil {
			logger.Error("failed to start adapter", "id", entry.ID, "error", err)
			os.Exit(1)
		}
		logger.Info("adapter started", "id", entry.ID, "type", entry.Type,
			"subject_prefix", manifest.SubjectPrefix, "display_name", manifest.DisplayName)
	}
	core.SetAdapters(adapterRegistry)

	// 4. Mesh: agent registry + Relay bridge.
	thresholds := agentregistry.DefaultHealthThresholds()
	if cfg.Mesh.HealthActiveMs > 0 {
		thresholds.Active = time.Duration(cfg.Mesh.HealthActiveMs) * time.Millisecond
	}
	if cfg.Mesh.HealthInactiveMs > 0 {
		thresholds.Inactive = time.Duration(cfg.Mesh.HealthInactiveMs) * time.Millisecond
	}
	agents := agentregistry.New(index, thresholds)
	bridge := mesh.NewRelayBridge(core)
	meshCore := mesh.New(agents, bridge, core.Signals())

	// Recovery: rebuild RelayCore's in-memory endpoint table from the
	// persisted agents table, then reclaim anything left in cur/ by a
	// process that died mid-handler, for every endpoint that recovers.
	rehydrated, err := meshCore.RehydrateEndpoints(ctx)
	if err != nil {
		logger.Warn("endpoint rehydration had failures", "recovered", rehydrated, "error", err)
	}
	reclaimed := 0
	for _, ep := range core.ListEndpoints() {
		n, err := mailbox.ReclaimStale(ep.Hash)
		if err != nil {
			logger.Warn("reclaim stale messages failed", "endpoint", ep.Subject, "error", err)
			continue
		}
		reclaimed += n
	}
	logger.Info("boot recovery complete", "endpoints_rehydrated", rehydrated, "messages_reclaimed", reclaimed)

	// 5. Maintenance scheduler.
	maintCfg := maintenance.Config{
		DLQPurgeSchedule:    cfg.Maintenance.DLQPurgeSchedule,
		HealthSweepSchedule: cfg.Maintenance.HealthSweepSchedule,
		MeshRescanSchedule:  cfg.Maintenance.MeshRescanSchedule,
		DLQRetention:        time.Duration(cfg.Maintenance.DLQRetentionHours) * time.Hour,
		ScanRoots:           cfg.Mesh.ScanRoots,
		ScanStrategies:      discovery.DefaultStrategies(),
		ScanOptions:         cfg.Mesh.ScanOptions,
	}
	dlq := deadletter.New(mailbox, index)
	sched := maintenance.New(maintCfg, dlq, agents, meshCore, core, logger.With("component", "maintenance"))
	go safeGo(logger, "maintenance", func() { sched.Start(ctx) })

	logger.Info("relayd ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	adapterRegistry.Shutdown()
	logger.Info("relayd stopped")
}

// safeGo runs fn with panic recovery so a bug in one supervised goroutine
// can't take the whole daemon down.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
