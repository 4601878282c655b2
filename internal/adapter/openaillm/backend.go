// Package openaillm implements the native OpenAI router backend using the
// official Chat Completions SDK.
package openaillm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/roundtablehq/roundtable/internal/router"
)

// Backend calls the OpenAI Chat Completions API with per-call credentials.
type Backend struct{}

// New creates the OpenAI backend.
func New() *Backend { return &Backend{} }

// Name returns the backend's dependency name.
func (b *Backend) Name() string { return "openai" }

// SupportsWebSearch reports false; the chat completions surface used here
// has no search augmentation, so the router downgrades such requests.
func (b *Backend) SupportsWebSearch() bool { return false }

// Generate issues one chat completion. The API key is caller-supplied per
// call; clients are cheap to construct and hold no connections of their own.
func (b *Backend) Generate(ctx context.Context, req router.GenerateRequest) (*router.GenerateResult, error) {
	client := openai.NewClient(option.WithAPIKey(req.APIKey))

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat completion: empty choices")
	}

	return &router.GenerateResult{
		Text:      resp.Choices[0].Message.Content,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}, nil
}
