// Command relayctl is the operator CLI for a relayd data directory.
package main

import (
	"fmt"
	"os"

	"github.com/dork-labs/dorkos/cmd/relayctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
