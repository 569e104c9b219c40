// Package main provides the CLI entry point for the VitalCoach chat
// orchestration core.
//
// VitalCoach turns free-form health messages into structured logs (meals,
// vitals, sleep, exercise, supplements, fasting, hydration), routes each turn
// to a specialist persona, and runs longitudinal analysis over the
// accumulated record.
//
// # Basic Usage
//
// Create a user and store their provider key:
//
//	vitalcoach users create alice --name "Alice"
//	vitalcoach key set alice --provider anthropic
//
// Chat interactively:
//
//	vitalcoach chat alice
//
// Run the background analysis scheduler with a metrics endpoint:
//
//	vitalcoach serve --metrics-addr :9090
//
// # Environment Variables
//
//   - VITALCOACH_DB: SQLite database path (default: vitalcoach.db)
//   - VITALCOACH_MASTER_KEY: master key sealing per-user provider API keys
//   - UTILITY_CALL_BUDGET_LOG_TURN / UTILITY_CALL_BUDGET_NONLOG_TURN
//   - ENABLE_WEB_SEARCH, WEB_SEARCH_ALLOWED_SPECIALISTS
//   - ENABLE_LONGITUDINAL_ANALYSIS, ANALYSIS_AUTORUN_ON_CHAT
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagDB     string
	flagConfig string
)

func main() {
	root := &cobra.Command{
		Use:          "vitalcoach",
		Short:        "Health-coaching chat orchestration core",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagDB, "db", envOr("VITALCOACH_DB", "vitalcoach.db"), "SQLite database path")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file overlay")

	root.AddCommand(
		newVersionCmd(),
		newUsersCmd(),
		newKeyCmd(),
		newChatCmd(),
		newAnalyzeCmd(),
		newProposalsCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vitalcoach %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
