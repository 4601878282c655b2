// Package anthropicllm implements the native Anthropic router backend
// using the Claude Messages SDK.
package anthropicllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/roundtablehq/roundtable/internal/router"
)

// defaultMaxTokens applies when the caller sets none; the Messages API
// requires an explicit cap.
const defaultMaxTokens = 2048

// Backend calls the Anthropic Messages API with per-call credentials.
type Backend struct{}

// New creates the Anthropic backend.
func New() *Backend { return &Backend{} }

// Name returns the backend's dependency name.
func (b *Backend) Name() string { return "anthropic" }

// SupportsWebSearch reports false; search-augmented turns are routed to
// an aggregator or downgraded.
func (b *Backend) SupportsWebSearch() bool { return false }

// Generate issues one Messages call.
func (b *Backend) Generate(ctx context.Context, req router.GenerateRequest) (*router.GenerateResult, error) {
	client := anthropic.NewClient(option.WithAPIKey(req.APIKey))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic message: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, errors.New("anthropic message: no text content")
	}

	return &router.GenerateResult{
		Text:      sb.String(),
		TokensIn:  msg.Usage.InputTokens,
		TokensOut: msg.Usage.OutputTokens,
	}, nil
}
