package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/roundtablehq/roundtable/internal/port/credentials"
	"github.com/roundtablehq/roundtable/internal/port/metrics"
	"github.com/roundtablehq/roundtable/internal/resilience"
)

type fakeBackend struct {
	name      string
	webSearch bool
	calls     int
	lastReq   GenerateRequest
	err       error
	text      string
}

func (b *fakeBackend) Name() string            { return b.name }
func (b *fakeBackend) SupportsWebSearch() bool { return b.webSearch }

func (b *fakeBackend) Generate(_ context.Context, req GenerateRequest) (*GenerateResult, error) {
	b.calls++
	b.lastReq = req
	if b.err != nil {
		return nil, b.err
	}
	return &GenerateResult{Text: b.text, TokensIn: 10, TokensOut: 20, WebSearchUsed: req.WebSearch}, nil
}

type fakeCreds map[string]string

func (c fakeCreds) ResolveAPIKey(_ context.Context, _, provider string) (string, error) {
	if k, ok := c[provider]; ok {
		return k, nil
	}
	return "", fmt.Errorf("provider %s: %w", provider, credentials.ErrNotConfigured)
}

type recordedCalls struct{ calls []metrics.Call }

func (r *recordedCalls) RecordCall(_ context.Context, c metrics.Call) {
	r.calls = append(r.calls, c)
}

func newRegistry() *resilience.Registry {
	return resilience.NewRegistry(5, 1, 30*time.Second)
}

func TestGenerateUsesNativeBackend(t *testing.T) {
	native := &fakeBackend{name: "openai", text: "hello"}
	agg := &fakeBackend{name: "openrouter", text: "agg"}
	rec := &recordedCalls{}
	r := New(fakeCreds{"openai": "sk-1", "openrouter": "or-1"}, newRegistry(), rec, 1024, native, agg)

	res, err := r.Generate(context.Background(), "u1", Request{Model: "openai/gpt-4o", Prompt: "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Backend != "openai" || res.FellBack {
		t.Fatalf("expected native openai call, got backend=%s fellBack=%v", res.Backend, res.FellBack)
	}
	if native.lastReq.Model != "gpt-4o" {
		t.Fatalf("native backend got model %q, want bare id", native.lastReq.Model)
	}
	if agg.calls != 0 {
		t.Fatal("aggregator should not be called when native succeeds")
	}
	if len(rec.calls) != 1 || !rec.calls[0].Success {
		t.Fatalf("expected one successful metrics record, got %+v", rec.calls)
	}
}

func TestGenerateNoKeyErrorNamesProviderAndAlternatives(t *testing.T) {
	native := &fakeBackend{name: "openai"}
	agg := &fakeBackend{name: "openrouter"}
	r := New(fakeCreds{}, newRegistry(), nil, 1024, native, agg)

	_, err := r.Generate(context.Background(), "u1", Request{Model: "openai/gpt-4o", Prompt: "hi"})

	var noKey *NoAPIKeyError
	if !errors.As(err, &noKey) {
		t.Fatalf("expected NoAPIKeyError, got %v", err)
	}
	if noKey.Provider != "OpenAI" {
		t.Fatalf("provider = %q, want OpenAI", noKey.Provider)
	}
	if len(noKey.Alternatives) != 1 || noKey.Alternatives[0] != "openrouter" {
		t.Fatalf("alternatives = %v, want [openrouter]", noKey.Alternatives)
	}
}

func TestGenerateFallsBackToAggregatorOnNativeFailure(t *testing.T) {
	native := &fakeBackend{name: "anthropic", err: errors.New("rate limited")}
	agg := &fakeBackend{name: "openrouter", text: "fallback"}
	r := New(fakeCreds{"anthropic": "sk-1", "openrouter": "or-1"}, newRegistry(), nil, 1024, native, agg)

	res, err := r.Generate(context.Background(), "u1", Request{Model: "anthropic/claude-sonnet-4.5", Prompt: "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Backend != "openrouter" || !res.FellBack {
		t.Fatalf("expected openrouter fallback, got backend=%s fellBack=%v", res.Backend, res.FellBack)
	}
	// Aggregator gets the public identifier verbatim.
	if agg.lastReq.Model != "anthropic/claude-sonnet-4.5" {
		t.Fatalf("aggregator got model %q", agg.lastReq.Model)
	}
	// Native remap applied before the failing call.
	if native.lastReq.Model != "claude-sonnet-4-5" {
		t.Fatalf("native got model %q, want remapped id", native.lastReq.Model)
	}
}

func TestGenerateBreakerOpenFallsBack(t *testing.T) {
	native := &fakeBackend{name: "openai", text: "native"}
	agg := &fakeBackend{name: "openrouter", text: "agg"}
	reg := newRegistry()
	// Trip the native breaker up front.
	b := reg.Get("provider:openai")
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	r := New(fakeCreds{"openai": "sk-1", "openrouter": "or-1"}, reg, nil, 1024, native, agg)

	res, err := r.Generate(context.Background(), "u1", Request{Model: "openai/gpt-4o", Prompt: "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if native.calls != 0 {
		t.Fatal("native backend must not be invoked while its breaker is open")
	}
	if res.Backend != "openrouter" {
		t.Fatalf("expected aggregator to serve the call, got %s", res.Backend)
	}
}

func TestGenerateBreakerOpenNoFallbackDistinguishable(t *testing.T) {
	native := &fakeBackend{name: "openai"}
	reg := newRegistry()
	b := reg.Get("provider:openai")
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	r := New(fakeCreds{"openai": "sk-1"}, reg, nil, 1024, native)

	_, err := r.Generate(context.Background(), "u1", Request{Model: "openai/gpt-4o", Prompt: "hi"})

	var unavailable *ProviderUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ProviderUnavailableError, got %v", err)
	}
	if unavailable.Kind != KindBreakerOpen {
		t.Fatalf("kind = %s, want breaker_open", unavailable.Kind)
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatal("expected wrapped ErrCircuitOpen")
	}
}

func TestGenerateExhaustedPropagatesLastConcreteError(t *testing.T) {
	backendErr := errors.New("upstream 500")
	native := &fakeBackend{name: "openai", err: errors.New("native down")}
	agg := &fakeBackend{name: "openrouter", err: backendErr}
	r := New(fakeCreds{"openai": "sk-1", "openrouter": "or-1"}, newRegistry(), nil, 1024, native, agg)

	_, err := r.Generate(context.Background(), "u1", Request{Model: "openai/gpt-4o", Prompt: "hi"})

	var unavailable *ProviderUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ProviderUnavailableError, got %v", err)
	}
	if unavailable.Kind != KindExhausted {
		t.Fatalf("kind = %s, want exhausted", unavailable.Kind)
	}
	if !errors.Is(err, backendErr) {
		t.Fatal("expected last concrete backend error wrapped")
	}
}

func TestGenerateInvalidModel(t *testing.T) {
	r := New(fakeCreds{}, newRegistry(), nil, 1024)

	for _, model := range []string{"", "gpt-4o", "openai/", "/gpt-4o", "nosuch/model"} {
		_, err := r.Generate(context.Background(), "u1", Request{Model: model, Prompt: "hi"})
		if !errors.Is(err, ErrInvalidModel) {
			t.Fatalf("model %q: expected ErrInvalidModel, got %v", model, err)
		}
	}
}

func TestGenerateWebSearchDowngradesSilently(t *testing.T) {
	native := &fakeBackend{name: "openai", text: "plain", webSearch: false}
	r := New(fakeCreds{"openai": "sk-1"}, newRegistry(), nil, 1024, native)

	res, err := r.Generate(context.Background(), "u1", Request{Model: "openai/gpt-4o", Prompt: "hi", WebSearch: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if native.lastReq.WebSearch {
		t.Fatal("expected web search stripped for unsupporting backend")
	}
	if res.WebSearchUsed {
		t.Fatal("result must report unaugmented output")
	}
}

func TestGenerateCancelledCallDoesNotTripBreaker(t *testing.T) {
	native := &fakeBackend{name: "openai", err: context.Canceled}
	reg := newRegistry()
	r := New(fakeCreds{"openai": "sk-1"}, reg, nil, 1024, native)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 10; i++ {
		if _, err := r.Generate(ctx, "u1", Request{Model: "openai/gpt-4o", Prompt: "hi"}); err == nil {
			t.Fatal("expected error from cancelled call")
		}
	}

	if !reg.Get("provider:openai").Allow() {
		t.Fatal("operator cancellations tripped a healthy provider's breaker")
	}
}

func TestGenerateMetricsSinkFailureDoesNotAffectCall(t *testing.T) {
	native := &fakeBackend{name: "openai", text: "ok"}

	// A nil recorder is tolerated entirely.
	r := New(fakeCreds{"openai": "sk-1"}, newRegistry(), nil, 1024, native)

	res, err := r.Generate(context.Background(), "u1", Request{Model: "openai/gpt-4o", Prompt: "hi"})
	if err != nil || res.Text != "ok" {
		t.Fatalf("call outcome affected by missing metrics sink: res=%v err=%v", res, err)
	}
}
