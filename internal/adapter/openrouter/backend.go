// Package openrouter implements the aggregator router backend over
// OpenRouter's OpenAI-compatible HTTP API. Aggregators accept the public
// "<provider>/<model>" identifier verbatim.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roundtablehq/roundtable/internal/router"
)

// DefaultBaseURL is OpenRouter's public API endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Backend talks to the OpenRouter chat completions endpoint.
type Backend struct {
	baseURL    string
	httpClient *http.Client
}

// New creates an OpenRouter backend. An empty baseURL uses the public API.
func New(baseURL string) *Backend {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Backend{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name returns the backend's dependency name.
func (b *Backend) Name() string { return "openrouter" }

// SupportsWebSearch reports true: OpenRouter augments any model with web
// search via the ":online" model suffix.
func (b *Backend) SupportsWebSearch() bool { return true }

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate issues one chat completion against OpenRouter.
func (b *Backend) Generate(ctx context.Context, req router.GenerateRequest) (*router.GenerateResult, error) {
	model := req.Model
	if req.WebSearch {
		model += ":online"
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("openrouter API error %d: %s", resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openrouter: empty choices")
	}

	return &router.GenerateResult{
		Text:          parsed.Choices[0].Message.Content,
		TokensIn:      parsed.Usage.PromptTokens,
		TokensOut:     parsed.Usage.CompletionTokens,
		WebSearchUsed: req.WebSearch,
	}, nil
}
