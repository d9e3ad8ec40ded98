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

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 8192
)

// AnthropicGenerator calls the Anthropic Messages API directly over
// net/http. This orchestrator does not depend on anthropic-sdk-go; see
// DESIGN.md for why the hand-rolled adapter is preferred here.
type AnthropicGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewAnthropicGenerator constructs a generator for apiKey/model.
func NewAnthropicGenerator(apiKey, model string) *AnthropicGenerator {
	return &AnthropicGenerator{
		apiKey:     apiKey,
		baseURL:    anthropicDefaultBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

type anthropicMessageRequest struct {
	Model     string               `json:"model"`
	MaxTokens int                  `json:"max_tokens"`
	System    string               `json:"system"`
	Messages  []anthropicMessage   `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMessageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string, model domain.ModelRef) (map[string]string, error) {
	modelName := model.Model
	if modelName == "" {
		modelName = g.model
	}

	body := anthropicMessageRequest{
		Model:     modelName,
		MaxTokens: anthropicMaxTokens,
		System:    generationSystemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/messages", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}

	var parsed anthropicMessageResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("anthropic api error (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, fmt.Errorf("anthropic api error (%d)", resp.StatusCode)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("anthropic response contained no content blocks")
	}

	var files map[string]string
	if err := json.Unmarshal([]byte(parsed.Content[0].Text), &files); err != nil {
		return nil, fmt.Errorf("decode generated file map: %w", err)
	}
	return files, nil
}
