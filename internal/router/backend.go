package router

import "context"

// GenerateRequest is one text-generation call to a concrete backend.
// Model carries the identifier the backend expects: native backends get
// the (possibly remapped) bare model id, aggregators get the public
// "<provider>/<model>" identifier verbatim.
type GenerateRequest struct {
	Model     string
	Prompt    string
	System    string
	MaxTokens int
	WebSearch bool
	APIKey    string
}

// GenerateResult is the outcome of a successful backend call.
type GenerateResult struct {
	Text          string
	TokensIn      int64
	TokensOut     int64
	WebSearchUsed bool
}

// Backend is the single capability interface all provider variants
// implement. Implementations must be safe for concurrent use.
type Backend interface {
	// Name returns the backend's dependency name used for breakers,
	// metrics, and fallback configuration ("openai", "openrouter", ...).
	Name() string

	// Generate produces text for the request.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// SupportsWebSearch reports whether the backend can augment a call
	// with web search. The router downgrades silently when it cannot.
	SupportsWebSearch() bool
}
