// Package observe provides the observability primitives shared by every
// Hearken component: OpenTelemetry metrics, turn tracing, trace-aware
// logging, and HTTP middleware for the ops server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for Prometheus scraping by [InitProvider]. [DefaultMetrics] returns a
// package-level instance bound to the global provider; tests should call
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all Hearken metrics.
const meterName = "github.com/MrWong99/hearken"

// Turn outcomes recorded by [Metrics.RecordTurn].
const (
	OutcomeAnswered    = "answered"
	OutcomeBargeIn     = "barge_in"
	OutcomeNoUtterance = "no_utterance"
	OutcomeCommand     = "command"
	OutcomeError       = "error"
	OutcomeCancelled   = "cancelled"
)

// Metrics holds every OpenTelemetry instrument used by the application.
// The underlying OTel types are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration measures utterance end to final transcript.
	STTDuration metric.Float64Histogram

	// ResponseDuration measures transcript hand-off to the first response delta.
	ResponseDuration metric.Float64Histogram

	// TTSDuration measures synthesis of one speech fragment.
	TTSDuration metric.Float64Histogram

	// TurnDuration measures one wake-to-standby cycle.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts finished turns by attribute "outcome".
	Turns metric.Int64Counter

	// Wakes counts wake triggers by attribute "source" (engine, manual).
	Wakes metric.Int64Counter

	// BargeIns counts responses interrupted by a new wake trigger.
	BargeIns metric.Int64Counter

	// StateTransitions counts orchestrator transitions by "from" and "to".
	StateTransitions metric.Int64Counter

	// ProviderRequests counts engine calls by "provider", "kind" and "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts engine failures by "provider" and "kind".
	ProviderErrors metric.Int64Counter

	// Faults counts classified turn failures by "kind" and "stage".
	Faults metric.Int64Counter

	// DroppedFrames counts capture frames discarded because a consumer lagged.
	DroppedFrames metric.Int64Counter

	// --- Gauges ---

	// ActiveTurns is 1 while a turn is in progress.
	ActiveTurns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops server latency by "method", "route"
	// and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bounds in seconds, tuned for speech latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// turnBuckets cover whole turns, which include the user's speaking time.
var turnBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("hearken.stt.duration",
		metric.WithDescription("Latency from utterance end to final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseDuration, err = m.Float64Histogram("hearken.response.duration",
		metric.WithDescription("Latency from transcript to first response text."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("hearken.tts.duration",
		metric.WithDescription("Latency of synthesizing one speech fragment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("hearken.turn.duration",
		metric.WithDescription("Duration of a wake-to-standby turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("hearken.turns",
		metric.WithDescription("Finished turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Wakes, err = m.Int64Counter("hearken.wakes",
		metric.WithDescription("Wake triggers by source."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("hearken.barge_ins",
		metric.WithDescription("Responses interrupted by the user."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("hearken.state.transitions",
		metric.WithDescription("Conversation state transitions by source and destination state."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("hearken.provider.requests",
		metric.WithDescription("Engine requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("hearken.provider.errors",
		metric.WithDescription("Engine errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Faults, err = m.Int64Counter("hearken.faults",
		metric.WithDescription("Classified turn failures by kind and stage."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("hearken.capture.dropped_frames",
		metric.WithDescription("Capture frames dropped because the consumer lagged."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveTurns, err = m.Int64UpDownCounter("hearken.active_turns",
		metric.WithDescription("Number of turns in progress."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("hearken.http.request.duration",
		metric.WithDescription("Ops server request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. It panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTransition counts one state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordWake counts one wake trigger from source.
func (m *Metrics) RecordWake(ctx context.Context, source string) {
	m.Wakes.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordTurn counts a finished turn and records its duration.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordFault counts a classified failure.
func (m *Metrics) RecordFault(ctx context.Context, kind, stage string) {
	m.Faults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("stage", stage),
		),
	)
}
