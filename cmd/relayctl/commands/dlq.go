package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var dlqPurgeMaxAge time.Duration

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and purge the dead-letter queue",
}

var dlqListCmd = &cobra.Command{
	Use:   "list <endpoint-hash>",
	Short: "List dead letters for an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		dead, err := s.deadLetters().ListDead(args[0])
		if err != nil {
			return err
		}
		if len(dead) == 0 {
			fmt.Println("no dead letters")
			return nil
		}
		for _, dl := range dead {
			fmt.Printf("%s\t%s\t%s\t%s\n", dl.Envelope.ID, dl.Envelope.Subject, dl.FailedAt.Format(time.RFC3339), dl.Reason)
		}
		return nil
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge <endpoint-hash>",
	Short: "Purge dead letters older than --max-age",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.deadLetters().Purge(context.Background(), args[0], dlqPurgeMaxAge, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("purged %d dead letter(s)\n", n)
		return nil
	},
}

func init() {
	dlqPurgeCmd.Flags().DurationVar(&dlqPurgeMaxAge, "max-age", 7*24*time.Hour, "purge dead letters older than this")
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
}
