// Package commands implements relayctl's cobra subcommand tree: an
// operator CLI that reads and writes the same on-disk mailbox/index a
// running relayd owns, the same way a VCS CLI operates directly on a
// repository's object store rather than through a daemon RPC. Enriched
// from jra3-linear-fuse's cobra+viper pattern.
package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dork-labs/dorkos/internal/access"
	"github.com/dork-labs/dorkos/internal/agentregistry"
	"github.com/dork-labs/dorkos/internal/deadletter"
	"github.com/dork-labs/dorkos/internal/maildirstore"
	"github.com/dork-labs/dorkos/internal/mesh"
	"github.com/dork-labs/dorkos/internal/relay"
	"github.com/dork-labs/dorkos/internal/sqliteindex"
)

var (
	cfgFile string
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Operate a Relay/Mesh data directory",
	Long: `relayctl inspects and administers the mailbox, index, and agent
registry a relayd daemon owns: publish test messages, list endpoints and
dead letters, run discovery scans, and inspect namespace topology.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.relayctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "relayd data directory (default $RELAYCTL_DATA_DIR)")
	viper.BindPFlag("data-dir", rootCmd.PersistentFlags().Lookup("data-dir"))

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(endpointsCmd)
	rootCmd.AddCommand(dlqCmd)
	rootCmd.AddCommand(meshCmd)
	rootCmd.AddCommand(topologyCmd)
	rootCmd.AddCommand(logsCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".relayctl")
		}
	}
	viper.SetEnvPrefix("RELAYCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

func resolveDataDir() (string, error) {
	d := dataDir
	if d == "" {
		d = viper.GetString("data-dir")
	}
	if d == "" {
		return "", fmt.Errorf("relayctl: no data directory given (--data-dir or RELAYCTL_DATA_DIR)")
	}
	return d, nil
}

// store bundles the components relayctl's subcommands share, opened
// directly against a relayd data directory.
type store struct {
	index   *sqliteindex.Index
	mailbox *maildirstore.Store
	core    *relay.Core
	rules   *access.Control
	agents  *agentregistry.Registry
	mesh    *mesh.Core
}

func openStore() (*store, error) {
	dir, err := resolveDataDir()
	if err != nil {
		return nil, err
	}

	mailbox, err := maildirstore.New(filepath.Join(dir, "mail"))
	if err != nil {
		return nil, fmt.Errorf("relayctl: open mailbox: %w", err)
	}
	index, err := sqliteindex.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("relayctl: open index: %w", err)
	}

	rules := access.New(index)
	if err := rules.LoadFromIndex(context.Background()); err != nil {
		index.Close()
		return nil, fmt.Errorf("relayctl: load access rules: %w", err)
	}

	core := relay.New(mailbox, index, rules, relay.DefaultReliabilityConfig())
	agents := agentregistry.New(index, agentregistry.DefaultHealthThresholds())
	bridge := mesh.NewRelayBridge(core)
	meshCore := mesh.New(agents, bridge, core.Signals())

	return &store{index: index, mailbox: mailbox, core: core, rules: rules, agents: agents, mesh: meshCore}, nil
}

func (s *store) Close() {
	s.index.Close()
}

// deadLetters returns a Queue over the same mailbox/index this store
// opened, for the dlq subcommand.
func (s *store) deadLetters() *deadletter.Queue {
	return deadletter.New(s.mailbox, s.index)
}
