package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

type statsResponse struct {
	ActiveContainers int            `json:"activeContainers"`
	RegisteredRuns   int            `json:"registeredRuns"`
	TotalRuns        int            `json:"totalRuns"`
	ByStatus         map[string]int `json:"byStatus"`
	Ports            struct {
		UsedCount int `json:"usedCount"`
		Capacity  int `json:"capacity"`
	} `json:"ports"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the orchestrator's current run and port-pool utilization",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestTimeout()
	defer cancel()

	var stats statsResponse
	if err := client.get(ctx, "/stats", &stats); err != nil {
		return err
	}

	if jsonOut {
		encoded, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	fmt.Fprintln(os.Stdout, headerStyle.Render("Run Orchestrator"))
	fmt.Printf("%s %d\n", labelStyle.Render("active containers:"), stats.ActiveContainers)
	fmt.Printf("%s %d\n", labelStyle.Render("registered runs:  "), stats.RegisteredRuns)
	fmt.Printf("%s %d\n", labelStyle.Render("total runs:       "), stats.TotalRuns)
	fmt.Printf("%s %d/%d\n", labelStyle.Render("port pool:        "), stats.Ports.UsedCount, stats.Ports.Capacity)

	statuses := make([]string, 0, len(stats.ByStatus))
	for status := range stats.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	fmt.Println(headerStyle.Render("\nby status"))
	for _, status := range statuses {
		fmt.Printf("  %-12s %d\n", styleForStatus(status).Render(status), stats.ByStatus[status])
	}
	return nil
}
