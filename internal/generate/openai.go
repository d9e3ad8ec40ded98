package generate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/H2Shami/LLM-Arena/internal/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGenerator drives code generation through the Chat Completions API.
// With baseURL left empty it talks to OpenAI directly; a non-empty baseURL
// repoints the same client at any OpenAI-compatible provider, which is how
// this orchestrator serves xai, meta, and deepseek without a second SDK.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator constructs a generator for apiKey/model, optionally
// against a custom OpenAI-compatible baseURL.
func NewOpenAIGenerator(apiKey, model, baseURL string) *OpenAIGenerator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIGenerator{client: openai.NewClient(opts...), model: model}
}

const generationSystemPrompt = `You scaffold a small web application from a user's prompt. Respond with a
single JSON object mapping relative file path to file content. You MUST
include a package.json declaring "scripts.build" and "scripts.start", and
at least one page-level source file under pages/ or app/. Do not include
any prose outside the JSON object.`

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, model domain.ModelRef) (map[string]string, error) {
	modelName := model.Model
	if modelName == "" {
		modelName = g.model
	}

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: modelName,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(generationSystemPrompt),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	var files map[string]string
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &files); err != nil {
		return nil, fmt.Errorf("decode generated file map: %w", err)
	}
	return files, nil
}
