package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/roundtablehq/roundtable/internal/router"
)

func TestGenerate(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "answer"}},
			},
			"usage": map[string]any{"prompt_tokens": 11, "completion_tokens": 7},
		})
	}))
	defer srv.Close()

	b := New(srv.URL)
	res, err := b.Generate(context.Background(), router.GenerateRequest{
		Model:     "openai/gpt-4o",
		Prompt:    "hi",
		System:    "be brief",
		MaxTokens: 64,
		APIKey:    "or-key",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if gotAuth != "Bearer or-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "openai/gpt-4o" {
		t.Fatalf("model sent = %q, want verbatim public id", gotReq.Model)
	}
	if res.Text != "answer" || res.TokensIn != 11 || res.TokensOut != 7 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestGenerateWebSearchSuffix(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "searched"}},
			},
		})
	}))
	defer srv.Close()

	b := New(srv.URL)
	res, err := b.Generate(context.Background(), router.GenerateRequest{
		Model:     "anthropic/claude-sonnet-4.5",
		Prompt:    "hi",
		WebSearch: true,
		APIKey:    "or-key",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gotReq.Model != "anthropic/claude-sonnet-4.5:online" {
		t.Fatalf("model sent = %q, want :online suffix", gotReq.Model)
	}
	if !res.WebSearchUsed {
		t.Fatal("expected WebSearchUsed")
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"no credits"}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	b := New(srv.URL)
	if _, err := b.Generate(context.Background(), router.GenerateRequest{Model: "openai/gpt-4o", Prompt: "hi"}); err == nil {
		t.Fatal("expected error on 402 response")
	}
}
