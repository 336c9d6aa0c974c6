// Package observe provides the OpenTelemetry metric instruments for
// Deskman and the Prometheus bridge that exposes them on /metrics.
//
// Tests should build Metrics with NewMetrics and their own
// metric.MeterProvider; Nop returns instruments that record nothing.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope for all Deskman metrics.
const meterName = "github.com/teslashibe/go-deskman"

// Turn outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the instruments. All fields are safe for concurrent use.
type Metrics struct {
	// TurnDuration is the time from wake to response.done.
	TurnDuration metric.Float64Histogram

	// FirstAudio is the time from commit to the first audio delta.
	FirstAudio metric.Float64Histogram

	// Turns counts finished turns by attribute "outcome".
	Turns metric.Int64Counter

	// FunctionCalls counts dispatched calls by "function" and "status".
	FunctionCalls metric.Int64Counter

	// ProtocolErrors counts service and transport errors by "kind".
	ProtocolErrors metric.Int64Counter

	// ConnectAttempts counts connection attempts by "status".
	ConnectAttempts metric.Int64Counter

	// WakewordDetections counts wake word hits by "keyword".
	WakewordDetections metric.Int64Counter

	// PlaybackDropped counts audio frames that could not be played.
	PlaybackDropped metric.Int64Counter
}

// latencyBuckets are histogram boundaries in seconds, sized for voice turns.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates the instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("deskman.turn.duration",
		metric.WithDescription("Duration of a conversation turn from wake to response done."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstAudio, err = m.Float64Histogram("deskman.turn.first_audio",
		metric.WithDescription("Latency from commit to the first response audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("deskman.turns",
		metric.WithDescription("Finished conversation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FunctionCalls, err = m.Int64Counter("deskman.function_calls",
		metric.WithDescription("Function calls by function and status."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("deskman.protocol.errors",
		metric.WithDescription("Realtime protocol errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.ConnectAttempts, err = m.Int64Counter("deskman.connect.attempts",
		metric.WithDescription("Realtime connection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.WakewordDetections, err = m.Int64Counter("deskman.wakeword.detections",
		metric.WithDescription("Wake word detections by keyword."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDropped, err = m.Int64Counter("deskman.playback.dropped",
		metric.WithDescription("Playback frames dropped because playback was unavailable."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Nop returns Metrics that discard every measurement.
func Nop() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Turns.Add(ctx, 1, attrs)
	if seconds > 0 {
		m.TurnDuration.Record(ctx, seconds, attrs)
	}
}

// RecordFunctionCall records one dispatched function call.
func (m *Metrics) RecordFunctionCall(ctx context.Context, function, status string) {
	m.FunctionCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("function", function),
		attribute.String("status", status),
	))
}

// RecordProtocolError records a protocol error of the given kind.
func (m *Metrics) RecordProtocolError(ctx context.Context, kind string) {
	m.ProtocolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordConnectAttempt records a connection attempt.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, status string) {
	m.ConnectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordWakeword records a wake word detection.
func (m *Metrics) RecordWakeword(ctx context.Context, keyword string) {
	m.WakewordDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("keyword", keyword)))
}
