package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

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

func TestRecordDetection(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDetection(ctx, "ml-model", "human", false, 2500*time.Millisecond)
	m.RecordDetection(ctx, "ml-model", "human", false, 2500*time.Millisecond)
	m.RecordDetection(ctx, "sip-enhanced-fallback", "undecided", true, 2*time.Second)

	rm := collect(t, reader)

	hist := findMetric(rm, "dialsense.amd.detection.duration")
	require.NotNil(t, hist)
	h, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range h.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	outcomes := findMetric(rm, "dialsense.amd.outcomes")
	require.NotNil(t, outcomes)
	sum, ok := outcomes.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 2)
	for _, dp := range sum.DataPoints {
		fallback, _ := dp.Attributes.Value(attribute.Key("fallback"))
		if fallback.AsBool() {
			assert.Equal(t, int64(1), dp.Value)
		} else {
			assert.Equal(t, int64(2), dp.Value)
		}
	}
}

func TestCallLifecycleMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CallStarted(ctx)
	m.CallStarted(ctx)
	m.CallFinished(ctx, "completed")

	rm := collect(t, reader)

	active := findMetric(rm, "dialsense.calls.active")
	require.NotNil(t, active)
	sum, ok := active.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)

	terminal := findMetric(rm, "dialsense.calls.terminal")
	require.NotNil(t, terminal)
	tsum := terminal.Data.(metricdata.Sum[int64])
	require.Len(t, tsum.DataPoints, 1)
	status, _ := tsum.DataPoints[0].Attributes.Value(attribute.Key("status"))
	assert.Equal(t, "completed", status.AsString())
}

func TestNop(t *testing.T) {
	m := Nop()
	require.NotNil(t, m)
	m.RecordDetection(context.Background(), "x", "human", false, time.Second)
	m.CallStarted(context.Background())
}

func TestMiddleware_RecordsRoute(t *testing.T) {
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/calls/{callID}/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(Middleware(m, nil)(mux))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/calls/abc/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	rm := collect(t, reader)
	met := findMetric(rm, "dialsense.http.request.duration")
	require.NotNil(t, met)
	h := met.Data.(metricdata.Histogram[float64])
	require.Len(t, h.DataPoints, 1)
	route, _ := h.DataPoints[0].Attributes.Value(attribute.Key("route"))
	assert.Equal(t, "GET /api/calls/{callID}/status", route.AsString())
	code, _ := h.DataPoints[0].Attributes.Value(attribute.Key("status"))
	assert.Equal(t, int64(404), code.AsInt64())
}

func TestInitProvider_ServesPrometheus(t *testing.T) {
	p, err := InitProvider(ProviderConfig{ServiceVersion: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider)
	require.NoError(t, err)
	m.CallStarted(context.Background())
	m.CallFinished(context.Background(), "failed")

	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), "dialsense_calls_terminal")
}
