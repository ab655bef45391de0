package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dork-labs/dorkos/internal/topology"
)

var topologyNamespace string

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Inspect and adjust namespace-scoped agent reachability",
}

var topologyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the namespaces and agents a caller may see",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ns := topologyNamespace
		if ns == "" {
			ns = topology.AdminSentinel
		}

		mgr := topology.New(s.agents, s.rules)
		views, err := mgr.GetTopology(context.Background(), ns)
		if err != nil {
			return err
		}
		for _, v := range views {
			fmt.Printf("namespace %s (%d agent(s))\n", v.Namespace, len(v.Agents))
			for _, a := range v.Agents {
				fmt.Printf("  %s\t%s\n", a.Manifest.ID, a.Manifest.Name)
			}
		}
		return nil
	},
}

var topologyAccessCmd = &cobra.Command{
	Use:   "access <agent-id>",
	Short: "List agents reachable from an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		mgr := topology.New(s.agents, s.rules)
		reachable, err := mgr.GetAgentAccess(context.Background(), args[0])
		if err != nil {
			return err
		}
		if len(reachable) == 0 {
			fmt.Println("no reachable agents")
			return nil
		}
		for _, a := range reachable {
			fmt.Printf("%s\t%s\t%s\n", a.Manifest.ID, a.Namespace, a.Manifest.Name)
		}
		return nil
	},
}

var topologyAllowCmd = &cobra.Command{
	Use:   "allow <src-namespace> <dst-namespace>",
	Short: "Allow src namespace to reach dst namespace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		mgr := topology.New(s.agents, s.rules)
		if err := mgr.AllowCrossNamespace(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("allowed %s -> %s\n", args[0], args[1])
		return nil
	},
}

var topologyDenyCmd = &cobra.Command{
	Use:   "deny <src-namespace> <dst-namespace>",
	Short: "Deny src namespace from reaching dst namespace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		mgr := topology.New(s.agents, s.rules)
		if err := mgr.DenyCrossNamespace(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("denied %s -> %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	topologyShowCmd.Flags().StringVar(&topologyNamespace, "namespace", "", "caller namespace (default: admin view of everything)")

	topologyCmd.AddCommand(topologyShowCmd)
	topologyCmd.AddCommand(topologyAccessCmd)
	topologyCmd.AddCommand(topologyAllowCmd)
	topologyCmd.AddCommand(topologyDenyCmd)
}
