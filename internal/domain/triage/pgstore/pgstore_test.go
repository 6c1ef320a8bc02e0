package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/carebridge/carebridge/internal/domain/triage"
	"github.com/carebridge/carebridge/internal/domain/triage/pgstore"
	"github.com/carebridge/carebridge/internal/domain/triage/storetest"
	"github.com/carebridge/carebridge/internal/platform/db"
	"github.com/carebridge/carebridge/migrations"
)

func openPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("CAREBRIDGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CAREBRIDGE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.NewMigrator(pool, migrations.FS).Up(ctx)
	require.NoError(t, err)
	return pool
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE badge_acquisition, clinical_alert, questionnaire, mood_entry, diary_entry, forum_post, notification, patient`)
	require.NoError(t, err)
}

func TestStoreContract(t *testing.T) {
	pool := openPool(t)
	storetest.Run(t, func(t *testing.T) triage.Store {
		truncate(t, pool)
		return pgstore.New(pool)
	})
}

func spanNamed(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no span %q among %d spans", name, len(spans))
	return tracetest.SpanStub{}
}

// Not parallel: swaps the global tracer provider.
func TestStoreSpans(t *testing.T) {
	pool := openPool(t)
	truncate(t, pool)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	}()

	ctx := context.Background()
	s := pgstore.New(pool)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	p := &triage.Patient{
		ID: uuid.New(), DisplayName: "traced", Priority: triage.PrioritySchedulable,
		Active: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreatePatient(ctx, p))

	q := &triage.Questionnaire{
		ID: uuid.New(), PatientID: p.ID, TypologyName: "risk-screen",
		Answers: []triage.Answer{{QuestionID: "planning", Value: 4}},
		Score:   12, Priority: triage.PriorityUrgent, EscalationFlag: true, CompiledAt: now,
	}
	alert := &triage.ClinicalAlert{
		ID: uuid.New(), PatientID: p.ID, QuestionnaireID: q.ID,
		Priority: triage.PriorityUrgent, Score: 12, RaisedAt: now,
	}
	raised, err := s.RecordSubmission(ctx, triage.Submission{
		Questionnaire: q, PreviousPriority: triage.PrioritySchedulable, Alert: alert,
	})
	require.NoError(t, err)
	require.True(t, raised)

	psychologist := uuid.New()
	_, err = s.ClaimAlert(ctx, alert.ID, psychologist, now.Add(time.Minute))
	require.NoError(t, err)
	_, err = s.ClaimAlert(ctx, alert.ID, uuid.New(), now.Add(2*time.Minute))
	require.Error(t, err)

	spans := exporter.GetSpans()

	sub := spanNamed(t, spans, "pgstore.RecordSubmission")
	assert.Contains(t, sub.Attributes, attribute.String("db.operation.name", "TRANSACTION"))
	assert.Contains(t, sub.Attributes, attribute.String("carebridge.patient_id", p.ID.String()))
	assert.Contains(t, sub.Attributes, attribute.String("carebridge.questionnaire_id", q.ID.String()))
	assert.Contains(t, sub.Attributes, attribute.String("carebridge.priority", "urgent"))
	assert.Contains(t, sub.Attributes, attribute.Bool("carebridge.alert_raised", true))

	var won, lost int
	for _, span := range spans {
		if span.Name != "pgstore.ClaimAlert" {
			continue
		}
		assert.Contains(t, span.Attributes, attribute.String("carebridge.alert_id", alert.ID.String()))
		for _, kv := range span.Attributes {
			switch {
			case kv == attribute.Bool("carebridge.claimed", true):
				won++
			case kv == attribute.String("carebridge.outcome", "alert already accepted"):
				lost++
			}
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
}
