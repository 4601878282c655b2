package router

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidModel indicates a model identifier that is not of the form
// "<provider>/<model>" or names no known provider. Configuration error:
// never retried.
var ErrInvalidModel = errors.New("invalid model identifier")

// NoAPIKeyError indicates the caller supplied no credential for the
// native provider and no aggregator alternative was credentialed.
// Provider is the native provider's display name; Alternatives lists the
// configured aggregator backends able to serve the same model family, so
// callers can present actionable remediation.
type NoAPIKeyError struct {
	Provider     string
	Alternatives []string
}

func (e *NoAPIKeyError) Error() string {
	if len(e.Alternatives) == 0 {
		return fmt.Sprintf("no API key configured for %s", e.Provider)
	}
	return fmt.Sprintf("no API key configured for %s (alternatives: %s)",
		e.Provider, strings.Join(e.Alternatives, ", "))
}

// UnavailableKind distinguishes why a call could not be served.
type UnavailableKind string

const (
	// KindBreakerOpen: every candidate backend's breaker rejected the
	// attempt; no backend was actually invoked.
	KindBreakerOpen UnavailableKind = "breaker_open"
	// KindExhausted: at least one backend was invoked and the whole
	// fallback chain failed; Err wraps the last concrete backend error.
	KindExhausted UnavailableKind = "exhausted"
)

// ProviderUnavailableError is returned when the fallback chain yields no
// result. The two kinds share one error class, distinguishable by Kind.
type ProviderUnavailableError struct {
	Model string
	Kind  UnavailableKind
	Err   error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable (%s): %v", e.Model, e.Kind, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }
