// Package observe holds the livecoach telemetry plumbing: OpenTelemetry
// instruments for the audio and session pipeline, span helpers, a
// session-aware logger and the middleware for the ops HTTP endpoints.
//
// [InitProvider] installs the global providers and a Prometheus registry.
// [DefaultMetrics] binds instruments to the global meter provider; tests
// build their own with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all livecoach metrics.
const meterName = "github.com/MrWong99/livecoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Outbound audio ---

	// FramesCaptured counts frames delivered by the capture source.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames discarded because a consumer fell behind.
	// Use with attribute:
	//   attribute.String("stage", "capture"|"send")
	FramesDropped metric.Int64Counter

	// ChunksSent counts encoded chunks accepted by the transport.
	ChunksSent metric.Int64Counter

	// --- Inbound events ---

	// InboundEvents counts decoded events. Use with attribute:
	//   attribute.String("kind", ...)
	InboundEvents metric.Int64Counter

	// DecodeErrors counts malformed inbound messages or fragments.
	DecodeErrors metric.Int64Counter

	// TransportErrors counts sessions that failed after reaching Open.
	TransportErrors metric.Int64Counter

	// ConnectErrors counts Connect calls that were rejected. Use with
	// attribute:
	//   attribute.String("reason", "capture"|"playback"|"dial"|"cancelled")
	ConnectErrors metric.Int64Counter

	// --- Latency histograms ---

	// ConnectDuration tracks the time from Connect to an Open session.
	ConnectDuration metric.Float64Histogram

	// PlaybackQueueDepth tracks how much speech is queued ahead of the
	// output clock each time a buffer is scheduled.
	PlaybackQueueDepth metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection setup.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// queueBuckets defines histogram bucket boundaries (in seconds) for queued
// speech. Deltas usually arrive faster than real time, so a few seconds of
// backlog is normal.
var queueBuckets = []float64{
	0, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("livecoach.audio.frames_captured",
		metric.WithDescription("Total microphone frames delivered by the capture source."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("livecoach.audio.frames_dropped",
		metric.WithDescription("Total audio frames dropped by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSent, err = m.Int64Counter("livecoach.live.chunks_sent",
		metric.WithDescription("Total encoded audio chunks queued for the live endpoint."),
	); err != nil {
		return nil, err
	}
	if met.InboundEvents, err = m.Int64Counter("livecoach.live.inbound_events",
		metric.WithDescription("Total decoded inbound events by kind."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DecodeErrors, err = m.Int64Counter("livecoach.live.decode_errors",
		metric.WithDescription("Total malformed inbound messages or fragments."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("livecoach.live.transport_errors",
		metric.WithDescription("Total sessions that failed after opening."),
	); err != nil {
		return nil, err
	}
	if met.ConnectErrors, err = m.Int64Counter("livecoach.live.connect_errors",
		metric.WithDescription("Total rejected connection attempts by reason."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("livecoach.live.connect.duration",
		metric.WithDescription("Time from Connect until the session is open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Float64Histogram("livecoach.playback.queue_depth",
		metric.WithDescription("Speech queued ahead of the output clock when a buffer is scheduled."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(queueBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livecoach.active_sessions",
		metric.WithDescription("Number of live consultation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livecoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameDropped records one dropped frame at the given pipeline stage.
func (m *Metrics) RecordFrameDropped(ctx context.Context, stage string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordInboundEvent records one decoded inbound event of the given kind.
func (m *Metrics) RecordInboundEvent(ctx context.Context, kind string) {
	m.InboundEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordConnectError records a rejected Connect with the given reason.
func (m *Metrics) RecordConnectError(ctx context.Context, reason string) {
	m.ConnectErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordConnectDuration records how long a successful Connect took.
func (m *Metrics) RecordConnectDuration(ctx context.Context, d time.Duration) {
	m.ConnectDuration.Record(ctx, d.Seconds())
}

// RecordQueueDepth records the playback backlog at scheduling time.
func (m *Metrics) RecordQueueDepth(ctx context.Context, d time.Duration) {
	m.PlaybackQueueDepth.Record(ctx, d.Seconds())
}
