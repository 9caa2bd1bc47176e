package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "fabricemu",
		Short:   "A discrete-timeslot packet-network fabric emulator",
		Long:    `fabricemu emulates a rack/core-router packet fabric one discrete timeslot at a time, for studying router queueing disciplines under synthetic demand.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(
		newRunCommand(),
		newStatsCommand(),
		newTopologyCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
