package httpx

import (
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

// runJSON is the wire shape of a run: the stored record plus the derived
// publicUrl field spec.md section 6 requires for ready runs.
type runJSON struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"sessionId"`
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	Status      domain.Status     `json:"status"`
	Port        *int              `json:"port,omitempty"`
	URL         string            `json:"url,omitempty"`
	PublicURL   string            `json:"publicUrl,omitempty"`
	Error       string            `json:"error,omitempty"`
	Logs        domain.LogBuffers `json:"logs"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	CPUPercent  *float64          `json:"cpuPercent,omitempty"`
	MemoryBytes *int64            `json:"memoryBytes,omitempty"`
}

func runView(run domain.Run) runJSON {
	return runJSON{
		ID:          run.ID,
		SessionID:   run.SessionID,
		Provider:    run.Provider,
		Model:       run.Model,
		Status:      run.Status,
		Port:        run.Port,
		URL:         run.URL,
		PublicURL:   run.PublicURL(),
		Error:       run.Error,
		Logs:        run.Logs,
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		UpdatedAt:   run.UpdatedAt,
		CompletedAt: run.CompletedAt,
		CPUPercent:  run.CPUPercent,
		MemoryBytes: run.MemoryBytes,
	}
}

type sessionJSON struct {
	ID        string      `json:"id"`
	Prompt    string      `json:"prompt"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Runs      []runJSON   `json:"runs"`
}

func sessionView(session domain.Session, runs []domain.Run) sessionJSON {
	views := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView(run))
	}
	return sessionJSON{
		ID:        session.ID,
		Prompt:    session.Prompt,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
		Runs:      views,
	}
}
