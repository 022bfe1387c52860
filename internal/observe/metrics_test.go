package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/livetutor/pkg/live/session"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the value of the int64 sum data point whose attributes
// contain every key/value pair in want.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
points:
	for _, dp := range sum.DataPoints {
		for _, kv := range want {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v.Emit() != kv.Value.Emit() {
				continue points
			}
		}
		return dp.Value
	}
	t.Fatalf("metric %q: no data point with %v", name, want)
	return 0
}

func TestRecordConnect(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordConnect(ctx, 120*time.Millisecond, nil)
	m.RecordConnect(ctx, 80*time.Millisecond, nil)
	m.RecordConnect(ctx, 3*time.Second, errors.New("dial"))

	met := findMetric(collect(t, reader), "livetutor.session.connect.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value("status")
		counts[v.AsString()] = dp.Count
	}
	if counts["ok"] != 2 || counts["error"] != 1 {
		t.Errorf("counts = %v, want ok=2 error=1", counts)
	}
}

func TestRecordStateChange_ActiveSessions(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// Two sessions come up, one drops back to disconnected.
	for range 2 {
		m.RecordStateChange(ctx, session.StateDisconnected, session.StateConnecting)
		m.RecordStateChange(ctx, session.StateConnecting, session.StateReady)
	}
	m.RecordStateChange(ctx, session.StateReady, session.StateModelSpeaking)
	m.RecordStateChange(ctx, session.StateModelSpeaking, session.StateListening)
	m.RecordStateChange(ctx, session.StateListening, session.StateDisconnected)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "livetutor.active_sessions"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
	got := sumValue(t, rm, "livetutor.session.transitions",
		attribute.String("from", "connecting"),
		attribute.String("to", "ready"),
	)
	if got != 2 {
		t.Errorf("connecting->ready = %d, want 2", got)
	}
}

func TestAudioCounters(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameSent(ctx, 4096)
	m.RecordFrameSent(ctx, 4096)
	m.RecordChunkReceived(ctx, 9600)

	rm := collect(t, reader)
	tests := []struct {
		metric    string
		direction string
		want      int64
	}{
		{"livetutor.audio.frames", "in", 2},
		{"livetutor.audio.bytes", "in", 8192},
		{"livetutor.audio.frames", "out", 1},
		{"livetutor.audio.bytes", "out", 9600},
	}
	for _, tt := range tests {
		got := sumValue(t, rm, tt.metric, attribute.String("direction", tt.direction))
		if got != tt.want {
			t.Errorf("%s{direction=%s} = %d, want %d", tt.metric, tt.direction, got, tt.want)
		}
	}
}

func TestBargeInsAndDecodeErrors(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBargeIn(ctx)
	m.RecordDecodeError(ctx, "malformed")
	m.RecordDecodeError(ctx, "malformed")
	m.RecordDecodeError(ctx, "unknown")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "livetutor.session.barge_ins"); got != 1 {
		t.Errorf("barge-ins = %d, want 1", got)
	}
	if got := sumValue(t, rm, "livetutor.session.decode_errors", attribute.String("reason", "malformed")); got != 2 {
		t.Errorf("malformed = %d, want 2", got)
	}
}

func TestRecordContextFetch(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)

	m.RecordContextFetch(context.Background(), 40*time.Millisecond, true, nil)

	met := findMetric(collect(t, reader), "livetutor.context.fetch.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
	}
	if v, _ := hist.DataPoints[0].Attributes.Value("cached"); !v.AsBool() {
		t.Error("cached attribute not set")
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	t.Parallel()
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
