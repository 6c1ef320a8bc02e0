package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestNewProvider_ExportsWithServiceName(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := NewProvider(exporter, "carebridge-test", 1)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "work")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "work", spans[0].Name)
	assert.Contains(t, spans[0].Resource.Attributes(), attribute.String("service.name", "carebridge-test"))
}

func TestNewProvider_ZeroRatioDropsRoots(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := NewProvider(exporter, "carebridge-test", 0)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "work")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))
	assert.Empty(t, exporter.GetSpans())
}

func TestHTTPMiddleware_ParentsHandlerSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := NewProvider(exporter, "carebridge-test", 1)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	e := echo.New()
	e.Use(HTTPMiddleware("carebridge-test", tp))
	e.GET("/ping", func(c echo.Context) error {
		_, span := tp.Tracer("handler").Start(c.Request().Context(), "inner")
		span.End()
		return c.NoContent(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NoError(t, tp.ForceFlush(context.Background()))

	byName := make(map[string]tracetest.SpanStub)
	for _, s := range exporter.GetSpans() {
		byName[s.Name] = s
	}
	server, ok := byName["HTTP GET"]
	require.True(t, ok, "missing server span")
	assert.Equal(t, trace.SpanKindServer, server.SpanKind)
	inner, ok := byName["inner"]
	require.True(t, ok, "missing handler span")
	assert.Equal(t, server.SpanContext.SpanID(), inner.Parent.SpanID())
}
