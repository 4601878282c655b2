package router

import "strings"

// displayNames maps native provider ids to user-facing names for error
// messages.
var displayNames = map[string]string{
	"openai":    "OpenAI",
	"anthropic": "Anthropic",
	"google":    "Google",
	"mistral":   "Mistral",
	"xai":       "xAI",
}

// DisplayName returns the user-facing name for a provider id.
func DisplayName(provider string) string {
	if n, ok := displayNames[provider]; ok {
		return n
	}
	return provider
}

// nativeRemap maps public catalog identifiers to the id the provider's
// own API expects, for providers whose external identifier differs.
// Aggregators take the public identifier verbatim and are never remapped.
var nativeRemap = map[string]string{
	"anthropic/claude-sonnet-4.5": "claude-sonnet-4-5",
	"anthropic/claude-opus-4.1":   "claude-opus-4-1",
	"anthropic/claude-haiku-4.5":  "claude-haiku-4-5",
	"google/gemini-2.5-pro":       "models/gemini-2.5-pro",
	"google/gemini-2.5-flash":     "models/gemini-2.5-flash",
}

// NativeModelID returns the identifier a native backend expects for the
// public "<provider>/<model>" id: the remapped id when one exists,
// otherwise the bare model portion.
func NativeModelID(model string) string {
	if id, ok := nativeRemap[model]; ok {
		return id
	}
	if _, rest, ok := strings.Cut(model, "/"); ok {
		return rest
	}
	return model
}

// aggregatorsByProvider is the static map from model families to the
// aggregator backends able to serve them under one credential.
var aggregatorsByProvider = map[string][]string{
	"openai":    {"openrouter"},
	"anthropic": {"openrouter"},
	"google":    {"openrouter"},
	"mistral":   {"openrouter"},
	"xai":       {"openrouter"},
}

// ParseModel splits a logical "<provider>/<model>" identifier.
func ParseModel(model string) (provider, rest string, ok bool) {
	provider, rest, ok = strings.Cut(model, "/")
	if !ok || provider == "" || rest == "" {
		return "", "", false
	}
	return provider, rest, true
}
