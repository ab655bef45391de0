package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dork-labs/dorkos/internal/discovery"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

var (
	registerNamespace string
	registerName      string
	registerRuntime   string
	registerScanRoot  string
)

var meshCmd = &cobra.Command{
	Use:   "mesh",
	Short: "Discover, register, and list agents",
}

var meshDiscoverCmd = &cobra.Command{
	Use:   "discover <root>",
	Short: "Scan a root for agent project directories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		root := args[0]
		for ev := range s.mesh.Discover([]string{root}, discovery.DefaultStrategies(), discovery.DefaultOptions()) {
			switch {
			case ev.Err != nil:
				fmt.Printf("error\t%v\n", ev.Err)
			case ev.AutoImport != nil:
				fmt.Printf("auto-import\t%s\t%s\n", ev.AutoImport.Path, ev.AutoImport.Manifest.Name)
			case ev.Candidate != nil:
				fmt.Printf("candidate\t%s\t%s\n", ev.Candidate.Path, ev.Candidate.Hints.SuggestedName)
			}
		}
		return nil
	},
}

var meshRegisterCmd = &cobra.Command{
	Use:   "register <path>",
	Short: "Register a project directory as an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		overrides := protocol.AgentManifest{
			Name:      registerName,
			Runtime:   registerRuntime,
			Namespace: registerNamespace,
		}
		entry, err := s.mesh.RegisterByPath(context.Background(), args[0], overrides, registerScanRoot, nil)
		if err != nil {
			return err
		}
		fmt.Printf("registered %s in namespace %s (id %s)\n", entry.Manifest.Name, entry.Namespace, entry.Manifest.ID)
		return nil
	},
}

var meshListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		entries, err := s.agents.List(context.Background(), "")
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no agents registered")
			return nil
		}
		for _, e := range entries {
			_, health := s.agents.WithHealth(e, time.Now())
			fmt.Printf("%s\t%s\t%s\t%s\n", e.Manifest.ID, e.Namespace, e.Manifest.Name, health)
		}
		return nil
	},
}

func init() {
	meshRegisterCmd.Flags().StringVar(&registerName, "name", "", "agent name")
	meshRegisterCmd.Flags().StringVar(&registerRuntime, "runtime", "", "agent runtime tag")
	meshRegisterCmd.Flags().StringVar(&registerNamespace, "namespace", "", "explicit namespace override")
	meshRegisterCmd.Flags().StringVar(&registerScanRoot, "scan-root", "", "scan root the path was found under")

	meshCmd.AddCommand(meshDiscoverCmd)
	meshCmd.AddCommand(meshRegisterCmd)
	meshCmd.AddCommand(meshListCmd)
}
