// Package observe provides application-wide observability primitives for
// livetutor: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/livetutor/pkg/live/session"
)

// meterName is the instrumentation scope name used for all livetutor metrics.
const meterName = "github.com/MrWong99/livetutor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Session ---

	// ConnectDuration tracks how long Connect takes, from device acquisition
	// to the setup message being sent. Attribute: status.
	ConnectDuration metric.Float64Histogram

	// StateTransitions counts state machine transitions. Attributes: from, to.
	StateTransitions metric.Int64Counter

	// ActiveSessions tracks sessions between setupComplete and teardown.
	ActiveSessions metric.Int64UpDownCounter

	// BargeIns counts server-acknowledged interruptions.
	BargeIns metric.Int64Counter

	// DecodeErrors counts dropped inbound messages. Attribute: reason.
	DecodeErrors metric.Int64Counter

	// --- Audio ---

	// AudioFrames counts audio frames. Attribute: direction (in, out).
	AudioFrames metric.Int64Counter

	// AudioBytes counts PCM bytes. Attribute: direction (in, out).
	AudioBytes metric.Int64Counter

	// --- Context API ---

	// ContextFetchDuration tracks realtime-context fetch latency.
	// Attributes: status, cached.
	ContextFetchDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection setup and collaborator calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

var _ session.Metrics = (*Metrics)(nil)

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("livetutor.session.connect.duration",
		metric.WithDescription("Latency of session connect up to the setup message."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ContextFetchDuration, err = m.Float64Histogram("livetutor.context.fetch.duration",
		metric.WithDescription("Latency of realtime-context fetches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StateTransitions, err = m.Int64Counter("livetutor.session.transitions",
		metric.WithDescription("Session state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("livetutor.session.barge_ins",
		metric.WithDescription("Interruptions acknowledged by the server."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("livetutor.session.decode_errors",
		metric.WithDescription("Inbound messages dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.AudioFrames, err = m.Int64Counter("livetutor.audio.frames",
		metric.WithDescription("Audio frames by direction."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("livetutor.audio.bytes",
		metric.WithDescription("PCM bytes by direction."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livetutor.active_sessions",
		metric.WithDescription("Number of connected live sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livetutor.http.request.duration",
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

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordConnect implements [session.Metrics].
func (m *Metrics) RecordConnect(ctx context.Context, d time.Duration, err error) {
	m.ConnectDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", statusOf(err))),
	)
}

// RecordStateChange implements [session.Metrics]. It also maintains
// [Metrics.ActiveSessions] from connected/not-connected edges.
func (m *Metrics) RecordStateChange(ctx context.Context, from, to session.State) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from.String()),
			attribute.String("to", to.String()),
		),
	)
	switch {
	case !from.Connected() && to.Connected():
		m.ActiveSessions.Add(ctx, 1)
	case from.Connected() && !to.Connected():
		m.ActiveSessions.Add(ctx, -1)
	}
}

// RecordFrameSent implements [session.Metrics].
func (m *Metrics) RecordFrameSent(ctx context.Context, bytes int) {
	attrs := metric.WithAttributes(attribute.String("direction", "in"))
	m.AudioFrames.Add(ctx, 1, attrs)
	m.AudioBytes.Add(ctx, int64(bytes), attrs)
}

// RecordChunkReceived implements [session.Metrics].
func (m *Metrics) RecordChunkReceived(ctx context.Context, bytes int) {
	attrs := metric.WithAttributes(attribute.String("direction", "out"))
	m.AudioFrames.Add(ctx, 1, attrs)
	m.AudioBytes.Add(ctx, int64(bytes), attrs)
}

// RecordBargeIn implements [session.Metrics].
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.BargeIns.Add(ctx, 1)
}

// RecordDecodeError implements [session.Metrics].
func (m *Metrics) RecordDecodeError(ctx context.Context, reason string) {
	m.DecodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordContextFetch records one realtime-context lookup.
func (m *Metrics) RecordContextFetch(ctx context.Context, d time.Duration, cached bool, err error) {
	m.ContextFetchDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("status", statusOf(err)),
			attribute.Bool("cached", cached),
		),
	)
}
