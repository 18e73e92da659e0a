package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pacer",
		Short: "Rate-governed bulk execution against quota-limited APIs",
		Long: `pacer runs large sets of API operations through an adaptive
rate-governed execution engine: per-operation-class pacing learned from
outcomes, credential rotation on throttling, bounded concurrency, and
loss-proof collection of partial results.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(createRunCommand())
	rootCmd.AddCommand(createStatsCommand())
	rootCmd.AddCommand(createVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pacer version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pacer %s\n", version)
		},
	}
}
