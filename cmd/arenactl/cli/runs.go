package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and administer individual runs",
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show a single run's current status",
	Args:  cobra.ExactArgs(1),
	RunE:  runsGet,
}

var runsStartCmd = &cobra.Command{
	Use:   "start <run-id>",
	Short: "Start or retry a queued or terminal run",
	Args:  cobra.ExactArgs(1),
	RunE:  runsStart,
}

var runsKillCmd = &cobra.Command{
	Use:   "kill <run-id>",
	Short: "Terminate a run and release its container and port",
	Args:  cobra.ExactArgs(1),
	RunE:  runsKill,
}

var runsLogsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Print the run's accumulated container logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runsLogs,
}

func init() {
	runsCmd.AddCommand(runsGetCmd, runsStartCmd, runsKillCmd, runsLogsCmd)
	rootCmd.AddCommand(runsCmd)
}

func runsGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestTimeout()
	defer cancel()

	var run runView
	if err := client.get(ctx, "/api/runs/"+args[0], &run); err != nil {
		return err
	}

	if jsonOut {
		encoded, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	fmt.Printf("%s %s\n", labelStyle.Render("run:      "), run.ID)
	fmt.Printf("%s %s\n", labelStyle.Render("provider: "), run.Provider)
	fmt.Printf("%s %s\n", labelStyle.Render("status:   "), styleForStatus(run.Status).Render(run.Status))
	if run.PublicURL != "" {
		fmt.Printf("%s %s\n", labelStyle.Render("url:      "), run.PublicURL)
	}
	if run.Error != "" {
		fmt.Printf("%s %s\n", labelStyle.Render("error:    "), failedStyle.Render(run.Error))
	}
	return nil
}

func runsStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestTimeout()
	defer cancel()
	if err := client.post(ctx, "/api/runs/"+args[0]+"/start", nil, nil); err != nil {
		return err
	}
	fmt.Printf("started run %s\n", args[0])
	return nil
}

func runsKill(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestTimeout()
	defer cancel()
	if err := client.delete(ctx, "/api/runs/"+args[0], nil); err != nil {
		return err
	}
	fmt.Printf("terminated run %s\n", args[0])
	return nil
}

func runsLogs(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestTimeout()
	defer cancel()

	var payload struct {
		Logs string `json:"logs"`
	}
	if err := client.get(ctx, "/api/runs/"+args[0]+"/logs", &payload); err != nil {
		return err
	}
	fmt.Println(payload.Logs)
	return nil
}
