package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List registered Relay endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		eps := s.core.ListEndpoints()
		if len(eps) == 0 {
			fmt.Println("no endpoints registered")
			return nil
		}
		for _, ep := range eps {
			fmt.Printf("%s\t%s\n", ep.Subject, ep.Hash)
		}
		return nil
	},
}
