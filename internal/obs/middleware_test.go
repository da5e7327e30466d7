package obs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/noah-isme/backend-kasir/internal/obs"
)

func TestHTTPMetricsUseMatchedRoute(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("kasir", []float64{1, 10}, registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/api/v1/sales/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/sales/abc", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/api/v1/sales/{id}", "204")))
	require.Positive(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))

	again := obs.NewHTTPMetrics("kasir", nil, registry)
	require.Same(t, metrics.ReqTotal, again.ReqTotal)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10.5}, obs.ParseBucketsCSV(" 5, x, -1, 10.5,"))
	require.Nil(t, obs.ParseBucketsCSV(""))
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestTracingMiddlewareNamesSpanAfterRoute(t *testing.T) {
	spans := withRecorder(t)

	r := chi.NewRouter()
	r.Use(obs.TracingMiddleware)
	r.Get("/api/v1/sales/{id}/invoice", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/sales/1/invoice", nil))

	ended := spans.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "GET /api/v1/sales/{id}/invoice", ended[0].Name())
	require.Contains(t, ended[0].Attributes(), attribute.Int("http.response.status_code", http.StatusInternalServerError))
}

func TestPGXTracerRecordsRowsAffected(t *testing.T) {
	spans := withRecorder(t)

	var tracer obs.PGXTracer
	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL: "update products set stock_quantity = stock_quantity - $2 where id = $1",
	})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("UPDATE 1")})

	ended := spans.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "db UPDATE", ended[0].Name())
	require.Contains(t, ended[0].Attributes(), attribute.Int64("db.rows_affected", 1))
}
