package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vango-dev/mushroom/pkg/dispatch"
	"github.com/vango-dev/mushroom/pkg/plugin"
	"github.com/vango-dev/mushroom/pkg/server"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func pingCall(t *testing.T) *server.Call {
	t.Helper()
	b := dispatch.NewBuilder()
	b.Add("appA", plugin.RPC("ping", func(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
		return "pong", nil
	}))
	table, err := b.Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	entry, ok := table.LookupRPC("appA_ping")
	if !ok {
		t.Fatal("appA_ping not registered")
	}
	return &server.Call{
		Method:  "appA_ping",
		Entry:   entry,
		Request: &plugin.Request{Method: "appA_ping"},
	}
}

func TestPrometheus_RecordsSuccessAndError(t *testing.T) {
	t.Run("success increments success counter and duration", func(t *testing.T) {
		m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
		handler := m.Middleware()(
			func(ctx context.Context, call *server.Call) (any, error) { return "pong", nil })

		result, err := handler(context.Background(), pingCall(t))
		if err != nil || result != "pong" {
			t.Fatalf("handler = %v, %v", result, err)
		}

		if got := metricCounterValue(t, m.callsTotal.WithLabelValues("appA_ping", "success")); got != 1 {
			t.Fatalf("rpc_calls_total(success)=%v, want 1", got)
		}
		if got := metricCounterValue(t, m.callsTotal.WithLabelValues("appA_ping", "error")); got != 0 {
			t.Fatalf("rpc_calls_total(error)=%v, want 0", got)
		}
		if got := metricHistogramCount(t, m.callDuration.WithLabelValues("appA_ping")); got != 1 {
			t.Fatalf("rpc_call_duration_seconds count=%v, want 1", got)
		}
	})

	t.Run("error increments error counter and categorizes", func(t *testing.T) {
		m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
		handler := m.Middleware()(
			func(ctx context.Context, call *server.Call) (any, error) {
				return nil, fmt.Errorf("%w: boom", server.ErrCallPanicked)
			})

		if _, err := handler(context.Background(), pingCall(t)); err == nil {
			t.Fatal("expected error to propagate")
		}

		if got := metricCounterValue(t, m.callsTotal.WithLabelValues("appA_ping", "error")); got != 1 {
			t.Fatalf("rpc_calls_total(error)=%v, want 1", got)
		}
		if got := metricCounterValue(t, m.callErrors.WithLabelValues("appA_ping", "panic")); got != 1 {
			t.Fatalf("rpc_errors_total(panic)=%v, want 1", got)
		}
	})
}

func TestPrometheus_UnknownMethodLabel(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	handler := m.Middleware()(
		func(ctx context.Context, call *server.Call) (any, error) {
			return nil, server.ErrMethodNotFound
		})

	handler(context.Background(), &server.Call{Method: "anything_the_client_wants"})

	if got := metricCounterValue(t, m.callErrors.WithLabelValues("unknown", "not_found")); got != 1 {
		t.Fatalf("rpc_errors_total(unknown,not_found)=%v, want 1", got)
	}
}

func TestPrometheus_Namespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	handler := Prometheus(WithRegistry(reg), WithNamespace("test"), WithSubsystem("dev"))(
		func(ctx context.Context, call *server.Call) (any, error) { return nil, nil })
	handler(context.Background(), pingCall(t))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "test_dev_rpc_calls_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("test_dev_rpc_calls_total not registered")
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{server.ErrMethodNotFound, "not_found"},
		{server.ErrRateLimited, "rate_limit"},
		{fmt.Errorf("%w: x", server.ErrCallPanicked), "panic"},
		{context.Canceled, "canceled"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("bad input"), "function"},
	}
	for _, tt := range tests {
		if got := categorizeError(tt.err); got != tt.want {
			t.Errorf("categorizeError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestNewMetrics_PerRegistry(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()

	a := NewMetrics(WithRegistry(regA))
	if again := NewMetrics(WithRegistry(regA)); again != a {
		t.Fatal("same registry returned a second Metrics")
	}
	b := NewMetrics(WithRegistry(regB))
	if b == a {
		t.Fatal("second registry shares the first registry's Metrics")
	}

	next := func(ctx context.Context, call *server.Call) (any, error) { return "pong", nil }
	Prometheus(WithRegistry(regA))(next)(context.Background(), pingCall(t))
	Prometheus(WithRegistry(regB))(next)(context.Background(), pingCall(t))
	Prometheus(WithRegistry(regB))(next)(context.Background(), pingCall(t))

	if got := metricCounterValue(t, a.callsTotal.WithLabelValues("appA_ping", "success")); got != 1 {
		t.Fatalf("registry A rpc_calls_total=%v, want 1", got)
	}
	if got := metricCounterValue(t, b.callsTotal.WithLabelValues("appA_ping", "success")); got != 2 {
		t.Fatalf("registry B rpc_calls_total=%v, want 2", got)
	}
}

func TestSessionHooks_NilSession(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	m.SessionOpened(nil)
	m.SessionClosed(nil)
	if got := metricGaugeValue(t, m.activeSessions); got != 0 {
		t.Fatalf("active_sessions=%v, want 0", got)
	}
}

func TestSessionHooks_ActiveGauge(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	srv := server.New(nil, nil)
	srv.SetOnSessionOpen(m.SessionOpened)
	srv.SetOnSessionClose(m.SessionClosed)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"transports":["poll"]}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect status = %d, body %q", rec.Code, rec.Body.String())
	}

	if got := metricGaugeValue(t, m.activeSessions); got != 1 {
		t.Fatalf("active_sessions=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.sessionsTotal.WithLabelValues("poll")); got != 1 {
		t.Fatalf("sessions_total(poll)=%v, want 1", got)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	if got := metricGaugeValue(t, m.activeSessions); got != 0 {
		t.Fatalf("active_sessions after shutdown=%v, want 0", got)
	}
	if got := metricHistogramCount(t, m.sessionLife); got != 1 {
		t.Fatalf("session_duration_seconds count=%v, want 1", got)
	}
}

func TestOpenTelemetry_PassesSpanContext(t *testing.T) {
	var extracted bool
	handler := OpenTelemetry(
		WithTracerName("test"),
		WithAttributeExtractor(func(*server.Call) []attribute.KeyValue {
			extracted = true
			return []attribute.KeyValue{attribute.String("test.attr", "ok")}
		}),
	)(func(ctx context.Context, call *server.Call) (any, error) {
		if SpanFromContext(ctx) == nil {
			t.Fatal("expected SpanFromContext to return a span during the call")
		}
		return "pong", nil
	})

	result, err := handler(context.Background(), pingCall(t))
	if err != nil || result != "pong" {
		t.Fatalf("handler = %v, %v", result, err)
	}
	if !extracted {
		t.Fatal("attribute extractor was not called")
	}
}

func TestOpenTelemetry_ErrorPropagates(t *testing.T) {
	wantErr := errors.New("boom")
	handler := OpenTelemetry()(func(ctx context.Context, call *server.Call) (any, error) {
		return nil, wantErr
	})

	if _, err := handler(context.Background(), pingCall(t)); !errors.Is(err, wantErr) {
		t.Fatalf("expected error %v, got %v", wantErr, err)
	}
}

func TestOpenTelemetry_FilterSkipsTracing(t *testing.T) {
	nextCalled := false
	handler := OpenTelemetry(
		WithCallFilter(func(call *server.Call) bool { return call.Method != "appA_ping" }),
	)(func(ctx context.Context, call *server.Call) (any, error) {
		nextCalled = true
		if SpanFromContext(ctx) != nil {
			t.Fatal("expected no span when filter skips tracing")
		}
		return nil, nil
	})

	if _, err := handler(context.Background(), pingCall(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !nextCalled {
		t.Fatal("expected next to be called")
	}
}

func TestSpanFromContext_NoSpan(t *testing.T) {
	if SpanFromContext(context.Background()) != nil {
		t.Fatal("expected nil span for an untraced context")
	}
}
