// Package observe provides the OpenTelemetry metric instruments used by the
// live session pipeline and the Prometheus bridge that exposes them.
//
// Tests should build a Metrics with NewMetrics and an sdkmetric.ManualReader;
// Discard returns a no-op instance for callers that do not export metrics.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope for all auralive metrics.
const meterName = "github.com/room4-2/auralive"

// Metrics holds the instruments recorded by the session manager.
type Metrics struct {
	// FramesSent counts microphone frames handed to the connection.
	FramesSent metric.Int64Counter
	// FramesDropped counts frames discarded because the send queue was full.
	FramesDropped metric.Int64Counter
	// ChunksScheduled counts model audio chunks scheduled for playback.
	ChunksScheduled metric.Int64Counter
	// Interruptions counts barge-in events.
	Interruptions metric.Int64Counter
	// TranscriptLines counts appended transcript lines, by speaker.
	TranscriptLines metric.Int64Counter

	SessionsStarted metric.Int64Counter
	// SessionsEnded counts teardowns, by reason.
	SessionsEnded  metric.Int64Counter
	ActiveSessions metric.Int64UpDownCounter

	// HandshakeDuration tracks the time from Start to the remote open signal.
	HandshakeDuration metric.Float64Histogram
}

var handshakeBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("auralive.frames.sent",
		metric.WithDescription("Microphone frames sent to the remote endpoint."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("auralive.frames.dropped",
		metric.WithDescription("Microphone frames dropped because the send queue was full."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("auralive.chunks.scheduled",
		metric.WithDescription("Model audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("auralive.interruptions",
		metric.WithDescription("Barge-in interruptions received."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptLines, err = m.Int64Counter("auralive.transcript.lines",
		metric.WithDescription("Transcript lines appended, by speaker."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("auralive.sessions.started",
		metric.WithDescription("Sessions that reached the active state."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("auralive.sessions.ended",
		metric.WithDescription("Sessions torn down, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("auralive.sessions.active",
		metric.WithDescription("Sessions currently active."),
	); err != nil {
		return nil, err
	}
	if met.HandshakeDuration, err = m.Float64Histogram("auralive.handshake.duration",
		metric.WithDescription("Time from start to the remote open signal."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(handshakeBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Discard returns a Metrics whose instruments record nothing.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic(err) // the no-op provider never fails
	}
	return m
}

// RecordSessionEnded counts a teardown and lowers the active gauge when the
// session had been active.
func (m *Metrics) RecordSessionEnded(ctx context.Context, reason string, wasActive bool) {
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	if wasActive {
		m.ActiveSessions.Add(ctx, -1)
	}
}

// RecordTranscriptLine counts one transcript line for speaker.
func (m *Metrics) RecordTranscriptLine(ctx context.Context, speaker string) {
	m.TranscriptLines.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}
