package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestHealthz(t *testing.T) {
	s := NewServer(":0", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestMetricsExposed(t *testing.T) {
	UpdatesTotal.WithLabelValues("text").Inc()
	HandlerErrors.WithLabelValues("document", "backend").Inc()
	RegisterConversationGauge(func() int { return 3 })
	RegisterConversationGauge(func() int { return 99 })

	s := NewServer(":0", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`fingpt_telegram_updates_total{handler="text"}`,
		`fingpt_dispatch_errors_total{handler="document",kind="backend"}`,
		"fingpt_conversation_active 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output lacks %q", want)
		}
	}
}

func TestServerTracesRequests(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	s := NewServer(":0", nil, WithTracing("fingpt", tp))
	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	ended := rec.Ended()
	if len(ended) != 1 || !strings.Contains(ended[0].Name(), "/healthz") {
		t.Fatalf("expected one server span for /healthz, got %d", len(ended))
	}
}
