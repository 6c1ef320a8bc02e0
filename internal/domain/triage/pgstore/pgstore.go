// Package pgstore provides a PostgreSQL implementation of triage.Store.
// Every state transition is one conditional UPDATE whose WHERE clause carries
// the lifecycle guard, so concurrent actors cannot both pass it.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carebridge/carebridge/internal/domain/triage"
	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/internal/platform/db"
	"github.com/carebridge/carebridge/pkg/pagination"
)

const tracerName = "github.com/carebridge/carebridge/internal/domain/triage/pgstore"

type Store struct {
	pool *pgxpool.Pool
}

var _ triage.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, s.pool)
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

// finish records err on span and wraps errors that are not already part of
// the apperr taxonomy as Internal.
func finish(span trace.Span, op string, err error) error {
	defer span.End()
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		span.SetAttributes(attribute.String("carebridge.outcome", ae.Message))
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return apperr.Internal(op, err)
}

// -- Patients --

const patientCols = `id, display_name, priority, latest_score, psychologist_id, active, created_at, updated_at`

func scanPatient(row pgx.Row) (*triage.Patient, error) {
	var p triage.Patient
	err := row.Scan(&p.ID, &p.DisplayName, &p.Priority, &p.LatestScore, &p.PsychologistID,
		&p.Active, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (s *Store) CreatePatient(ctx context.Context, p *triage.Patient) (err error) {
	ctx, span := startSpan(ctx, "CreatePatient", "INSERT")
	defer func() { err = finish(span, "create patient", err) }()

	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, display_name, priority, priority_rank, latest_score, psychologist_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.DisplayName, p.Priority, p.Priority.Rank(), p.LatestScore, p.PsychologistID,
		p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Store) GetPatient(ctx context.Context, id uuid.UUID) (_ *triage.Patient, err error) {
	ctx, span := startSpan(ctx, "GetPatient", "SELECT")
	defer func() { err = finish(span, "get patient", err) }()

	p, err := scanPatient(s.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) WaitingList(ctx context.Context, pg pagination.Params) (_ []*triage.Patient, _ int, err error) {
	ctx, span := startSpan(ctx, "WaitingList", "SELECT")
	defer func() { err = finish(span, "waiting list", err) }()

	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient WHERE active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient WHERE active
		ORDER BY priority_rank, latest_score DESC NULLS LAST, created_at
		LIMIT $1 OFFSET $2`, pg.Limit, pg.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*triage.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// -- Submission --

func (s *Store) RecordSubmission(ctx context.Context, sub triage.Submission) (raised bool, err error) {
	ctx, span := startSpan(ctx, "RecordSubmission", "TRANSACTION")
	defer func() { err = finish(span, "record submission", err) }()

	q := sub.Questionnaire
	span.SetAttributes(
		attribute.String("carebridge.patient_id", q.PatientID.String()),
		attribute.String("carebridge.questionnaire_id", q.ID.String()),
		attribute.String("carebridge.priority", string(q.Priority)),
	)
	answers, err := json.Marshal(q.Answers)
	if err != nil {
		return false, fmt.Errorf("encode answers: %w", err)
	}

	err = db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		conn := s.conn(ctx)

		tag, err := conn.Exec(ctx, `
			UPDATE patient SET priority = $2, priority_rank = $3, latest_score = $4, updated_at = $5
			WHERE id = $1 AND active AND priority = $6`,
			q.PatientID, q.Priority, q.Priority.Rank(), q.Score, q.CompiledAt, sub.PreviousPriority)
		if err != nil {
			return fmt.Errorf("update patient priority: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return s.patientMiss(ctx, q.PatientID)
		}

		if _, err := conn.Exec(ctx, `
			INSERT INTO questionnaire (id, patient_id, typology_name, answers, score, priority, escalation_flag, compiled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			q.ID, q.PatientID, q.TypologyName, answers, q.Score, q.Priority, q.EscalationFlag, q.CompiledAt); err != nil {
			return fmt.Errorf("insert questionnaire: %w", err)
		}

		if sub.Alert == nil {
			return nil
		}
		a := sub.Alert
		tag, err = conn.Exec(ctx, `
			INSERT INTO clinical_alert (id, patient_id, questionnaire_id, priority, score, raised_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (patient_id) WHERE NOT accepted DO NOTHING`,
			a.ID, a.PatientID, a.QuestionnaireID, a.Priority, a.Score, a.RaisedAt)
		if err != nil {
			return fmt.Errorf("insert clinical alert: %w", err)
		}
		raised = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Bool("carebridge.alert_raised", raised))
	return raised, nil
}

// patientMiss explains why the guarded patient update matched no row.
func (s *Store) patientMiss(ctx context.Context, id uuid.UUID) error {
	var active bool
	err := s.conn(ctx).QueryRow(ctx, `SELECT active FROM patient WHERE id = $1`, id).Scan(&active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return apperr.NotFound("patient", id)
	case err != nil:
		return err
	case !active:
		return apperr.Conflict("patient %s is not active", id)
	default:
		return apperr.Conflict("patient priority changed concurrently")
	}
}

// -- Questionnaires --

const questionnaireCols = `id, patient_id, typology_name, answers, score, priority, escalation_flag, compiled_at,
	reviewed, reviewing_psychologist_id, reviewed_at, invalidated, invalidation_notes,
	invalidation_requested_at, requesting_psychologist_id, confirming_admin_id, invalidation_resolved_at`

func scanQuestionnaire(row pgx.Row) (*triage.Questionnaire, error) {
	var q triage.Questionnaire
	var answers []byte
	err := row.Scan(&q.ID, &q.PatientID, &q.TypologyName, &answers, &q.Score, &q.Priority,
		&q.EscalationFlag, &q.CompiledAt, &q.Reviewed, &q.ReviewingPsychologistID, &q.ReviewedAt,
		&q.Invalidated, &q.InvalidationNotes, &q.InvalidationRequestedAt,
		&q.RequestingPsychologistID, &q.ConfirmingAdminID, &q.InvalidationResolvedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answers, &q.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return &q, nil
}

func (s *Store) GetQuestionnaire(ctx context.Context, id uuid.UUID) (_ *triage.Questionnaire, err error) {
	ctx, span := startSpan(ctx, "GetQuestionnaire", "SELECT")
	defer func() { err = finish(span, "get questionnaire", err) }()

	q, err := scanQuestionnaire(s.conn(ctx).QueryRow(ctx,
		`SELECT `+questionnaireCols+` FROM questionnaire WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("questionnaire", id)
	}
	return q, err
}

func (s *Store) listQuestionnaires(ctx context.Context, where, order string, pg pagination.Params, args ...interface{}) ([]*triage.Questionnaire, int, error) {
	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM questionnaire WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, pg.Limit, pg.Offset)
	rows, err := s.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM questionnaire WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		questionnaireCols, where, order, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*triage.Questionnaire
	for rows.Next() {
		q, err := scanQuestionnaire(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, q)
	}
	return items, total, rows.Err()
}

func (s *Store) ListQuestionnairesByPatient(ctx context.Context, patientID uuid.UUID, pg pagination.Params) (_ []*triage.Questionnaire, _ int, err error) {
	ctx, span := startSpan(ctx, "ListQuestionnairesByPatient", "SELECT")
	defer func() { err = finish(span, "list questionnaires", err) }()
	return s.listQuestionnaires(ctx, `patient_id = $1`, `compiled_at DESC`, pg, patientID)
}

func (s *Store) ListPendingInvalidations(ctx context.Context, pg pagination.Params) (_ []*triage.Questionnaire, _ int, err error) {
	ctx, span := startSpan(ctx, "ListPendingInvalidations", "SELECT")
	defer func() { err = finish(span, "list pending invalidations", err) }()
	return s.listQuestionnaires(ctx, pendingInvalidation, `invalidation_requested_at, id`, pg)
}

func (s *Store) QuestionnaireDates(ctx context.Context, patientID uuid.UUID) (_ []time.Time, err error) {
	ctx, span := startSpan(ctx, "QuestionnaireDates", "SELECT")
	defer func() { err = finish(span, "questionnaire dates", err) }()

	rows, err := s.conn(ctx).Query(ctx,
		`SELECT compiled_at FROM questionnaire WHERE patient_id = $1 AND NOT invalidated`, patientID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[time.Time])
}

// Lifecycle predicates, mirroring the guards in the triage package.
const (
	pendingInvalidation = `requesting_psychologist_id IS NOT NULL AND confirming_admin_id IS NULL`
	noPendingRequest    = `NOT (` + pendingInvalidation + `)`
)

// transition runs a guarded UPDATE ... RETURNING. When no row matches it
// re-reads the questionnaire to tell NotFound from a guard failure, using
// guard to phrase the conflict.
func (s *Store) transition(ctx context.Context, id uuid.UUID, guard func(*triage.Questionnaire) error, sql string, args ...interface{}) (*triage.Questionnaire, error) {
	q, err := scanQuestionnaire(s.conn(ctx).QueryRow(ctx, sql, args...))
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	current, err := scanQuestionnaire(s.conn(ctx).QueryRow(ctx,
		`SELECT `+questionnaireCols+` FROM questionnaire WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("questionnaire", id)
	}
	if err != nil {
		return nil, err
	}
	if gerr := guard(current); gerr != nil {
		return nil, gerr
	}
	return nil, apperr.Conflict("questionnaire changed concurrently")
}

func (s *Store) MarkReviewed(ctx context.Context, id, psychologistID uuid.UUID, at time.Time) (_ *triage.Questionnaire, err error) {
	ctx, span := startSpan(ctx, "MarkReviewed", "UPDATE")
	defer func() { err = finish(span, "mark reviewed", err) }()

	return s.transition(ctx, id, triage.CanReview, `
		UPDATE questionnaire SET reviewed = TRUE, reviewing_psychologist_id = $2, reviewed_at = $3
		WHERE id = $1 AND NOT reviewed AND NOT invalidated AND `+noPendingRequest+`
		RETURNING `+questionnaireCols, id, psychologistID, at)
}

func (s *Store) ClearReview(ctx context.Context, id uuid.UUID) (_ *triage.Questionnaire, displaced uuid.UUID, err error) {
	ctx, span := startSpan(ctx, "ClearReview", "UPDATE")
	defer func() { err = finish(span, "clear review", err) }()

	var q *triage.Questionnaire
	err = db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		var prev *uuid.UUID
		err := s.conn(ctx).QueryRow(ctx,
			`SELECT reviewing_psychologist_id FROM questionnaire WHERE id = $1 FOR UPDATE`, id).Scan(&prev)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("questionnaire", id)
		}
		if err != nil {
			return err
		}

		q, err = s.transition(ctx, id, triage.CanCancelReview, `
			UPDATE questionnaire SET reviewed = FALSE, reviewing_psychologist_id = NULL, reviewed_at = NULL
			WHERE id = $1 AND reviewed AND NOT invalidated AND `+noPendingRequest+`
			RETURNING `+questionnaireCols, id)
		if err != nil {
			return err
		}
		if prev != nil {
			displaced = *prev
		}
		return nil
	})
	if err != nil {
		return nil, uuid.Nil, err
	}
	return q, displaced, nil
}

func (s *Store) RequestInvalidation(ctx context.Context, id, psychologistID uuid.UUID, notes string, at time.Time) (_ *triage.Questionnaire, err error) {
	ctx, span := startSpan(ctx, "RequestInvalidation", "UPDATE")
	defer func() { err = finish(span, "request invalidation", err) }()

	return s.transition(ctx, id, triage.CanRequestInvalidation, `
		UPDATE questionnaire SET requesting_psychologist_id = $2, invalidation_notes = $3, invalidation_requested_at = $4
		WHERE id = $1 AND requesting_psychologist_id IS NULL AND NOT invalidated
		RETURNING `+questionnaireCols, id, psychologistID, notes, at)
}

func (s *Store) ResolveInvalidation(ctx context.Context, id, adminID uuid.UUID, accept bool, at time.Time) (_ *triage.Questionnaire, err error) {
	ctx, span := startSpan(ctx, "ResolveInvalidation", "UPDATE")
	span.SetAttributes(attribute.Bool("carebridge.accept", accept))
	defer func() { err = finish(span, "resolve invalidation", err) }()

	return s.transition(ctx, id, triage.CanResolveInvalidation, `
		UPDATE questionnaire SET confirming_admin_id = $2, invalidation_resolved_at = $3, invalidated = $4
		WHERE id = $1 AND `+pendingInvalidation+`
		RETURNING `+questionnaireCols, id, adminID, at, accept)
}

// -- Alerts --

const alertCols = `id, patient_id, questionnaire_id, priority, score, raised_at, accepted, accepting_psychologist_id, accepted_at`

func scanAlert(row pgx.Row) (*triage.ClinicalAlert, error) {
	var a triage.ClinicalAlert
	err := row.Scan(&a.ID, &a.PatientID, &a.QuestionnaireID, &a.Priority, &a.Score, &a.RaisedAt,
		&a.Accepted, &a.AcceptingPsychologistID, &a.AcceptedAt)
	return &a, err
}

func (s *Store) ListOpenAlerts(ctx context.Context) (_ []*triage.ClinicalAlert, err error) {
	ctx, span := startSpan(ctx, "ListOpenAlerts", "SELECT")
	defer func() { err = finish(span, "list open alerts", err) }()

	rows, err := s.conn(ctx).Query(ctx, `SELECT `+alertCols+` FROM clinical_alert WHERE NOT accepted ORDER BY raised_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*triage.ClinicalAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// ClaimAlert is the linearization point for alert acceptance: a single
// UPDATE ... WHERE NOT accepted. Postgres serializes concurrent updates of the
// row, and every loser re-evaluates the predicate against the winner's commit
// and matches nothing.
func (s *Store) ClaimAlert(ctx context.Context, alertID, psychologistID uuid.UUID, at time.Time) (claimed *triage.ClinicalAlert, err error) {
	ctx, span := startSpan(ctx, "ClaimAlert", "UPDATE")
	span.SetAttributes(
		attribute.String("carebridge.alert_id", alertID.String()),
		attribute.String("carebridge.psychologist_id", psychologistID.String()),
	)
	defer func() { err = finish(span, "claim alert", err) }()

	err = db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		a, err := scanAlert(s.conn(ctx).QueryRow(ctx, `
			UPDATE clinical_alert SET accepted = TRUE, accepting_psychologist_id = $2, accepted_at = $3
			WHERE id = $1 AND NOT accepted
			RETURNING `+alertCols, alertID, psychologistID, at))
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := s.conn(ctx).QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM clinical_alert WHERE id = $1)`, alertID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return apperr.NotFound("clinical alert", alertID)
			}
			return apperr.Conflict("alert already accepted")
		}
		if err != nil {
			return err
		}

		if _, err := s.conn(ctx).Exec(ctx, `
			UPDATE patient SET psychologist_id = $2, updated_at = $3
			WHERE id = $1 AND psychologist_id IS NULL`, a.PatientID, psychologistID, at); err != nil {
			return fmt.Errorf("assign psychologist: %w", err)
		}
		claimed = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("carebridge.claimed", true))
	return claimed, nil
}

// -- Badges --

func (s *Store) AwardBadges(ctx context.Context, patientID uuid.UUID, names []string, at time.Time) (_ []string, err error) {
	ctx, span := startSpan(ctx, "AwardBadges", "INSERT")
	defer func() { err = finish(span, "award badges", err) }()

	rows, err := s.conn(ctx).Query(ctx, `
		INSERT INTO badge_acquisition (patient_id, badge_name, awarded_at)
		SELECT $1, name, $3 FROM unnest($2::text[]) AS name
		ON CONFLICT (patient_id, badge_name) DO NOTHING
		RETURNING badge_name`, patientID, names, at)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) ListBadges(ctx context.Context, patientID uuid.UUID) (_ []triage.AcquisitionRecord, err error) {
	ctx, span := startSpan(ctx, "ListBadges", "SELECT")
	defer func() { err = finish(span, "list badges", err) }()

	rows, err := s.conn(ctx).Query(ctx, `
		SELECT patient_id, badge_name, awarded_at FROM badge_acquisition
		WHERE patient_id = $1 ORDER BY awarded_at, badge_name`, patientID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[triage.AcquisitionRecord])
}
