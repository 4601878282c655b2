// Package router selects, authenticates against, and fails over between
// LLM backends. Every backend invocation goes through that backend's
// circuit breaker; breaker-open and transient failures walk a deliberate
// aggregator fallback chain rather than a blind retry loop.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roundtablehq/roundtable/internal/port/credentials"
	"github.com/roundtablehq/roundtable/internal/port/metrics"
	"github.com/roundtablehq/roundtable/internal/resilience"
)

// Request is a routed generation call for a logical model.
type Request struct {
	Model     string // "<provider>/<model>"
	Prompt    string
	System    string
	MaxTokens int
	WebSearch bool
}

// Result is a routed generation outcome, including which backend served
// the call so the engine can record fallback decisions.
type Result struct {
	Text           string
	Provider       string // native provider of the logical model
	Backend        string // backend that actually served the call
	Model          string
	TokensIn       int64
	TokensOut      int64
	LatencyMS      int64
	FellBack       bool
	FallbackReason string
	WebSearchUsed  bool
}

// Router resolves logical model identifiers to concrete backend calls.
type Router struct {
	natives     map[string]Backend
	aggregators map[string]Backend
	aggOrder    []string
	creds       credentials.Resolver
	breakers    *resilience.Registry
	recorder    metrics.Recorder
	maxTokens   int
}

// New creates a Router. Backends whose Name() appears in the aggregator
// catalog are registered as aggregators; everything else is native.
func New(creds credentials.Resolver, breakers *resilience.Registry, rec metrics.Recorder, defaultMaxTokens int, backends ...Backend) *Router {
	r := &Router{
		natives:     make(map[string]Backend),
		aggregators: make(map[string]Backend),
		creds:       creds,
		breakers:    breakers,
		recorder:    rec,
		maxTokens:   defaultMaxTokens,
	}
	for _, b := range backends {
		if isAggregator(b.Name()) {
			r.aggregators[b.Name()] = b
			r.aggOrder = append(r.aggOrder, b.Name())
		} else {
			r.natives[b.Name()] = b
		}
	}
	return r
}

func isAggregator(name string) bool {
	for _, aggs := range aggregatorsByProvider {
		for _, a := range aggs {
			if a == name {
				return true
			}
		}
	}
	return false
}

// configuredAlternatives returns the registered aggregators able to
// serve the provider's model family, in registration order.
func (r *Router) configuredAlternatives(provider string) []string {
	var out []string
	for _, name := range r.aggOrder {
		for _, a := range aggregatorsByProvider[provider] {
			if a == name {
				out = append(out, name)
			}
		}
	}
	return out
}

// candidate is one entry of the resolved fallback chain.
type candidate struct {
	backend Backend
	model   string
	key     string
	reason  string // why this candidate exists past position 0
}

// Generate routes one generation call for userID. The fallback chain is
// native backend first (when registered and credentialed), then each
// configured, credentialed aggregator for the model family.
func (r *Router) Generate(ctx context.Context, userID string, req Request) (*Result, error) {
	provider, _, ok := ParseModel(req.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidModel, req.Model)
	}

	if req.MaxTokens <= 0 {
		req.MaxTokens = r.maxTokens
	}

	chain, err := r.buildChain(ctx, userID, provider, req.Model)
	if err != nil {
		return nil, err
	}

	var lastConcrete error
	for i, c := range chain {
		breaker := r.breakers.Get("provider:" + c.backend.Name())
		if !breaker.Allow() {
			slog.Debug("breaker rejected backend", "backend", c.backend.Name(), "model", req.Model)
			continue
		}

		call := GenerateRequest{
			Model:     c.model,
			Prompt:    req.Prompt,
			System:    req.System,
			MaxTokens: req.MaxTokens,
			WebSearch: req.WebSearch,
			APIKey:    c.key,
		}
		// Downgrade silently: the caller observes unaugmented output.
		if call.WebSearch && !c.backend.SupportsWebSearch() {
			call.WebSearch = false
		}

		start := time.Now()
		res, genErr := c.backend.Generate(ctx, call)
		latency := time.Since(start).Milliseconds()

		r.record(ctx, c.backend.Name(), req.Model, res, latency, genErr == nil)

		if genErr != nil {
			// A cancelled call is the caller's doing, not a provider
			// fault; it must not count against the breaker.
			if ctx.Err() == nil {
				breaker.RecordFailure()
			}
			lastConcrete = genErr
			slog.Warn("backend call failed",
				"backend", c.backend.Name(), "model", req.Model, "error", genErr)
			continue
		}
		breaker.RecordSuccess()

		return &Result{
			Text:           res.Text,
			Provider:       provider,
			Backend:        c.backend.Name(),
			Model:          req.Model,
			TokensIn:       res.TokensIn,
			TokensOut:      res.TokensOut,
			LatencyMS:      latency,
			FellBack:       i > 0,
			FallbackReason: c.reason,
			WebSearchUsed:  res.WebSearchUsed,
		}, nil
	}

	if lastConcrete != nil {
		return nil, &ProviderUnavailableError{Model: req.Model, Kind: KindExhausted, Err: lastConcrete}
	}
	return nil, &ProviderUnavailableError{Model: req.Model, Kind: KindBreakerOpen, Err: resilience.ErrCircuitOpen}
}

// buildChain resolves credentials and assembles the fallback chain.
// Missing credentials across the whole chain surface as *NoAPIKeyError.
func (r *Router) buildChain(ctx context.Context, userID, provider, model string) ([]candidate, error) {
	native, hasNative := r.natives[provider]
	alternatives := r.configuredAlternatives(provider)

	if !hasNative && len(alternatives) == 0 {
		return nil, fmt.Errorf("%w: no backend serves provider %q", ErrInvalidModel, provider)
	}

	var chain []candidate
	nativeKeyMissing := false

	if hasNative {
		key, err := r.creds.ResolveAPIKey(ctx, userID, provider)
		switch {
		case err == nil:
			chain = append(chain, candidate{backend: native, model: NativeModelID(model), key: key})
		case errors.Is(err, credentials.ErrNotConfigured):
			nativeKeyMissing = true
		default:
			return nil, fmt.Errorf("resolve %s key: %w", provider, err)
		}
	}

	reason := "native_failure"
	if nativeKeyMissing || !hasNative {
		reason = "no_native_key"
	}
	for _, name := range alternatives {
		key, err := r.creds.ResolveAPIKey(ctx, userID, name)
		if err != nil {
			if errors.Is(err, credentials.ErrNotConfigured) {
				continue
			}
			return nil, fmt.Errorf("resolve %s key: %w", name, err)
		}
		// Aggregators take the public identifier verbatim.
		chain = append(chain, candidate{backend: r.aggregators[name], model: model, key: key, reason: reason})
	}

	if len(chain) == 0 {
		return nil, &NoAPIKeyError{Provider: DisplayName(provider), Alternatives: alternatives}
	}
	return chain, nil
}

// record is fire-and-forget: a missing or failing metrics sink never
// affects the call's outcome.
func (r *Router) record(ctx context.Context, backend, model string, res *GenerateResult, latencyMS int64, success bool) {
	if r.recorder == nil {
		return
	}
	c := metrics.Call{
		Provider:  backend,
		Model:     model,
		LatencyMS: latencyMS,
		Success:   success,
	}
	if res != nil {
		c.TokensIn = res.TokensIn
		c.TokensOut = res.TokensOut
	}
	r.recorder.RecordCall(ctx, c)
}
