package pgstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/carebridge/carebridge/internal/platform/apperr"
)

// installRecorder swaps the global tracer provider for one that records into
// memory. Tests using it must not run in parallel.
func installRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestFinish_Success(t *testing.T) {
	exporter := installRecorder(t)

	_, span := startSpan(context.Background(), "GetPatient", "SELECT")
	require.NoError(t, finish(span, "get patient", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "pgstore.GetPatient", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("db.system", "postgresql"))
	assert.Contains(t, spans[0].Attributes, attribute.String("db.operation.name", "SELECT"))
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
}

func TestFinish_TaxonomyErrorKeepsKind(t *testing.T) {
	exporter := installRecorder(t)

	_, span := startSpan(context.Background(), "ClaimAlert", "UPDATE")
	err := finish(span, "claim alert", apperr.Conflict("alert already accepted"))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Attributes, attribute.String("carebridge.outcome", "alert already accepted"))
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Empty(t, spans[0].Events)
}

func TestFinish_DriverErrorBecomesInternal(t *testing.T) {
	exporter := installRecorder(t)

	_, span := startSpan(context.Background(), "RecordSubmission", "TRANSACTION")
	err := finish(span, "record submission", errors.New("connection reset"))
	assert.ErrorIs(t, err, apperr.ErrInternal)
	assert.ErrorContains(t, err, "record submission: connection reset")

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "connection reset", spans[0].Status.Description)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}
