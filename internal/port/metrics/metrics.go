// Package metrics defines the call-metrics port. Recording is
// fire-and-forget: implementations must never fail the caller.
package metrics

import "context"

// Call is one LLM backend invocation's accounting tuple.
type Call struct {
	Provider  string
	Model     string
	TokensIn  int64
	TokensOut int64
	LatencyMS int64
	Success   bool
}

// Recorder receives per-call metrics from the provider router.
type Recorder interface {
	RecordCall(ctx context.Context, c Call)
}
