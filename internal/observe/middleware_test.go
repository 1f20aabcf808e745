package observe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	// Metrics.
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Tracing.
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// routed wraps a mux holding one GET route in the middleware.
func routed(m *Metrics, pattern string, h http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	return Middleware(m)(mux)
}

func attr(kvs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range kvs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	var cid string
	handler := routed(m, "GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	if len(cid) != 32 {
		t.Fatalf("correlation ID %q, want a 32-char trace ID", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	m, _, exp := testSetup(t)

	handler := routed(m, "GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /readyz" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if v, ok := attr(spans[0].Attributes, "http.response.status_code"); !ok || v.AsInt64() != 503 {
		t.Errorf("status attribute = %v, %v", v.AsInt64(), ok)
	}
	if v, ok := attr(spans[0].Attributes, "http.route"); !ok || v.AsString() != "GET /readyz" {
		t.Errorf("route attribute = %q, %v", v.AsString(), ok)
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantRoute string
		wantCode  string
	}{
		{name: "matched", path: "/healthz", wantRoute: "GET /healthz", wantCode: "200"},
		{name: "unmatched", path: "/nope/123", wantRoute: unmatchedRoute, wantCode: "404"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader, _ := testSetup(t)
			handler := routed(m, "GET /healthz", func(http.ResponseWriter, *http.Request) {})
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", tt.path, nil))

			var rm metricdata.ResourceMetrics
			if err := reader.Collect(context.Background(), &rm); err != nil {
				t.Fatalf("Collect: %v", err)
			}
			met := findMetric(rm, "hearken.http.request.duration")
			if met == nil {
				t.Fatal("metric not found")
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("histogram = %+v", met.Data)
			}
			dp := hist.DataPoints[0]
			if dp.Count != 1 {
				t.Errorf("count = %d, want 1", dp.Count)
			}
			kvs := dp.Attributes.ToSlice()
			if v, _ := attr(kvs, "route"); v.AsString() != tt.wantRoute {
				t.Errorf("route = %q, want %q", v.AsString(), tt.wantRoute)
			}
			if v, _ := attr(kvs, "status"); v.AsString() != tt.wantCode {
				t.Errorf("status = %q, want %q", v.AsString(), tt.wantCode)
			}
			if v, _ := attr(kvs, "method"); v.AsString() != "GET" {
				t.Errorf("method = %q", v.AsString())
			}
		})
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var cid string
	handler := routed(m, "GET /healthz", func(_ http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
	})

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if cid != traceID {
		t.Errorf("correlation ID = %q, want the incoming trace ID", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	t.Parallel()

	inner := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: inner, status: http.StatusOK}
	if rec.Unwrap() != inner {
		t.Error("Unwrap did not return the wrapped writer")
	}
}

func TestRequestLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/healthz", http.StatusOK, slog.LevelDebug},
		{"/metrics", http.StatusOK, slog.LevelDebug},
		{"/readyz", http.StatusServiceUnavailable, slog.LevelWarn},
		{"/state", http.StatusOK, slog.LevelInfo},
		{"/state", http.StatusNotFound, slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := requestLevel(tt.path, tt.status); got != tt.want {
			t.Errorf("requestLevel(%q, %d) = %v, want %v", tt.path, tt.status, got, tt.want)
		}
	}
}
