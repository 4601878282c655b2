package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roundtablehq/roundtable/internal/port/metrics"
)

const meterName = "roundtable"

// Metrics holds all Roundtable metric instruments.
type Metrics struct {
	ProviderCalls    metric.Int64Counter
	ProviderFailures metric.Int64Counter
	ProviderLatency  metric.Float64Histogram
	TokensIn         metric.Int64Counter
	TokensOut        metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ProviderCalls, err = meter.Int64Counter("roundtable.provider.calls",
		metric.WithDescription("Number of provider generation calls"))
	if err != nil {
		return nil, err
	}

	m.ProviderFailures, err = meter.Int64Counter("roundtable.provider.failures",
		metric.WithDescription("Number of failed provider generation calls"))
	if err != nil {
		return nil, err
	}

	m.ProviderLatency, err = meter.Float64Histogram("roundtable.provider.latency_ms",
		metric.WithDescription("Provider call latency in milliseconds"))
	if err != nil {
		return nil, err
	}

	m.TokensIn, err = meter.Int64Counter("roundtable.provider.tokens_in",
		metric.WithDescription("Prompt tokens consumed"))
	if err != nil {
		return nil, err
	}

	m.TokensOut, err = meter.Int64Counter("roundtable.provider.tokens_out",
		metric.WithDescription("Completion tokens produced"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCall implements the metrics.Recorder port. The router calls it
// fire-and-forget; it must never fail the call it measures.
func (m *Metrics) RecordCall(ctx context.Context, call metrics.Call) {
	attrs := metric.WithAttributes(
		attribute.String("provider", call.Provider),
		attribute.String("model", call.Model),
		attribute.Bool("success", call.Success),
	)

	m.ProviderCalls.Add(ctx, 1, attrs)
	if !call.Success {
		m.ProviderFailures.Add(ctx, 1, attrs)
	}
	m.ProviderLatency.Record(ctx, float64(call.LatencyMS), attrs)
	if call.TokensIn > 0 {
		m.TokensIn.Add(ctx, call.TokensIn, attrs)
	}
	if call.TokensOut > 0 {
		m.TokensOut.Add(ctx, call.TokensOut, attrs)
	}
}
