package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

const googleDefaultBaseURL = "https://generativelanguage.googleapis.com"

// GoogleGenerator calls the Gemini generateContent API directly over
// net/http. This orchestrator does not depend on google.golang.org/genai;
// see DESIGN.md for why the hand-rolled adapter is preferred here.
type GoogleGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewGoogleGenerator constructs a generator for apiKey/model.
func NewGoogleGenerator(apiKey, model string) *GoogleGenerator {
	return &GoogleGenerator{
		apiKey:     apiKey,
		baseURL:    googleDefaultBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

type geminiGenerateRequest struct {
	SystemInstruction geminiContent   `json:"system_instruction"`
	Contents          []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *GoogleGenerator) Generate(ctx context.Context, prompt string, model domain.ModelRef) (map[string]string, error) {
	modelName := model.Model
	if modelName == "" {
		modelName = g.model
	}

	body := geminiGenerateRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: generationSystemPrompt}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, modelName, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gemini response: %w", err)
	}

	var parsed geminiGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("gemini api error (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, fmt.Errorf("gemini api error (%d)", resp.StatusCode)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini response contained no candidates")
	}

	var files map[string]string
	if err := json.Unmarshal([]byte(parsed.Candidates[0].Content.Parts[0].Text), &files); err != nil {
		return nil, fmt.Errorf("decode generated file map: %w", err)
	}
	return files, nil
}
