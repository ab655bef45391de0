package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

var (
	publishFrom    string
	publishPayload string
	publishReplyTo string
	publishMaxHops int
	publishTTL     time.Duration
)

var publishCmd = &cobra.Command{
	Use:   "publish <subject>",
	Short: "Publish a test envelope to a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		env := protocol.Envelope{
			Subject: args[0],
			From:    publishFrom,
			ReplyTo: publishReplyTo,
			Payload: publishPayload,
			Budget: protocol.Budget{
				MaxHops:             publishMaxHops,
				CallBudgetRemaining: publishMaxHops,
				TTL:                 time.Now().Add(publishTTL),
			},
		}

		receipt, err := s.core.Publish(context.Background(), env)
		if err != nil {
			return fmt.Errorf("publish: %w", err)
		}

		fmt.Printf("message %s delivered to %d endpoint(s)\n", receipt.MessageID, len(receipt.DeliveredTo))
		for _, subj := range receipt.DeliveredTo {
			fmt.Printf("  ok    %s\n", subj)
		}
		for subj, reason := range receipt.Rejected {
			fmt.Printf("  fail  %s: %s\n", subj, reason)
		}
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishFrom, "from", "relayctl", "sender subject")
	publishCmd.Flags().StringVar(&publishPayload, "payload", "", "message payload (string)")
	publishCmd.Flags().StringVar(&publishReplyTo, "reply-to", "", "reply-to subject")
	publishCmd.Flags().IntVar(&publishMaxHops, "max-hops", 5, "hop and call budget")
	publishCmd.Flags().DurationVar(&publishTTL, "ttl", 5*time.Minute, "message time-to-live")
}
