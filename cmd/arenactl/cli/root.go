// Package cli implements arenactl, the operator CLI for inspecting and
// administering a running orchestrator over its own HTTP surface.
package cli

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	addr    string
	jsonOut bool
	client  *apiClient
)

var rootCmd = &cobra.Command{
	Use:   "arenactl",
	Short: "Operator CLI for the benchmarking arena's run orchestrator",
	Long: `arenactl talks to a running orchestrator over its HTTP surface to
inspect sessions and runs, watch pool utilization, and terminate
runaway containers without going through the UI.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = newAPIClient(addr, &http.Client{Timeout: 10 * time.Second})
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "orchestrator base URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output raw JSON instead of a formatted table")
}
