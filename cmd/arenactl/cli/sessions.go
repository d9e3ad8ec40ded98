package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type modelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type createSessionRequest struct {
	Prompt string     `json:"prompt"`
	Models []modelRef `json:"models"`
}

type createSessionResponse struct {
	SessionID string   `json:"sessionId"`
	RunIDs    []string `json:"runIds"`
}

type runView struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Status    string `json:"status"`
	PublicURL string `json:"publicUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

type sessionView struct {
	ID     string    `json:"id"`
	Prompt string    `json:"prompt"`
	Runs   []runView `json:"runs"`
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Create and inspect benchmark sessions",
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session and start one run per model",
	RunE:  sessionsCreate,
}

var sessionsGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Show a session and the status of every run it spawned",
	Args:  cobra.ExactArgs(1),
	RunE:  sessionsGet,
}

var (
	sessionPrompt string
	sessionModels []string
)

func init() {
	sessionsCreateCmd.Flags().StringVar(&sessionPrompt, "prompt", "", "the prompt every model will be given (required, >=10 chars)")
	sessionsCreateCmd.Flags().StringSliceVar(&sessionModels, "model", nil, "provider:model pair, repeatable (1-6 total), e.g. openai:gpt-4o-mini")

	sessionsCmd.AddCommand(sessionsCreateCmd, sessionsGetCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsCreate(cmd *cobra.Command, args []string) error {
	models := make([]modelRef, 0, len(sessionModels))
	for _, spec := range sessionModels {
		provider, model, ok := strings.Cut(spec, ":")
		if !ok {
			return fmt.Errorf("--model %q must be provider:model", spec)
		}
		models = append(models, modelRef{Provider: provider, Model: model})
	}

	ctx, cancel := requestTimeout()
	defer cancel()

	var created createSessionResponse
	if err := client.post(ctx, "/api/sessions", createSessionRequest{Prompt: sessionPrompt, Models: models}, &created); err != nil {
		return err
	}

	if jsonOut {
		encoded, err := json.MarshalIndent(created, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	fmt.Printf("%s %s\n", headerStyle.Render("session created:"), created.SessionID)
	for _, runID := range created.RunIDs {
		fmt.Printf("  run %s\n", runID)
	}
	return nil
}

func sessionsGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestTimeout()
	defer cancel()

	var session sessionView
	if err := client.get(ctx, "/api/sessions/"+args[0], &session); err != nil {
		return err
	}

	if jsonOut {
		encoded, err := json.MarshalIndent(session, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	fmt.Println(headerStyle.Render("session " + session.ID))
	fmt.Println(labelStyle.Render(session.Prompt))
	for _, run := range session.Runs {
		line := fmt.Sprintf("  %-8s %-12s %s", run.Provider, styleForStatus(run.Status).Render(run.Status), run.ID)
		if run.PublicURL != "" {
			line += " " + run.PublicURL
		}
		if run.Error != "" {
			line += " " + failedStyle.Render(run.Error)
		}
		fmt.Println(line)
	}
	return nil
}
