package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/notification"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// Notifier is the fire-and-forget delivery contract. Implementations must
// not block on or report delivery failures.
type Notifier interface {
	Deliver(ctx context.Context, msg notification.Message)
}

type Service struct {
	store    Store
	activity ActivitySource
	catalog  *Catalog
	notifier Notifier
	metrics  *Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(store Store, activity ActivitySource, catalog *Catalog, notifier Notifier, metrics *Metrics, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		activity: activity,
		catalog:  catalog,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With().Str("component", "triage").Logger(),
		now:      time.Now,
	}
}

func (s *Service) Catalog() *Catalog { return s.catalog }

// -- Patients --

type RegisterPatientRequest struct {
	DisplayName string `json:"display_name"`
}

func (s *Service) RegisterPatient(ctx context.Context, req RegisterPatientRequest) (*Patient, error) {
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return nil, apperr.Validation("display_name is required")
	}
	now := s.now().UTC()
	p := &Patient{
		ID:          uuid.New(),
		DisplayName: name,
		Priority:    PrioritySchedulable,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreatePatient(ctx, p); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.store.GetPatient(ctx, id)
}

func (s *Service) WaitingList(ctx context.Context, p pagination.Params) ([]*Patient, int, error) {
	return s.store.WaitingList(ctx, p)
}

// -- Submission --

type SubmitRequest struct {
	Typology string   `json:"typology"`
	Answers  []Answer `json:"answers"`
}

type SubmitResult struct {
	QuestionnaireID uuid.UUID  `json:"questionnaire_id"`
	Score           float64    `json:"score"`
	Priority        Priority   `json:"priority"`
	Escalated       bool       `json:"escalated"`
	AlertID         *uuid.UUID `json:"alert_id,omitempty"`
	NewBadges       []string   `json:"new_badges"`
}

// Submit scores a patient's answers, bands the result and persists the
// questionnaire together with the patient's new score and priority. An
// escalation raises a clinical alert in the same write unless one is already
// open for the patient.
func (s *Service) Submit(ctx context.Context, patientID uuid.UUID, req SubmitRequest) (*SubmitResult, error) {
	t, ok := s.catalog.Typology(req.Typology)
	if !ok {
		return nil, apperr.NotFound("typology", req.Typology)
	}
	score, err := Score(t, req.Answers)
	if err != nil {
		return nil, err
	}

	p, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, apperr.Conflict("patient %s is not active", patientID)
	}

	band, escalated := ResolvePriority(score, p.Priority, t.Thresholds)
	now := s.now().UTC()
	q := &Questionnaire{
		ID:             uuid.New(),
		PatientID:      patientID,
		TypologyName:   t.Name,
		Answers:        req.Answers,
		Score:          score,
		Priority:       band,
		EscalationFlag: escalated,
		CompiledAt:     now,
	}
	sub := Submission{Questionnaire: q, PreviousPriority: p.Priority}
	if escalated {
		sub.Alert = newAlert(q, now)
	}

	raised, err := s.store.RecordSubmission(ctx, sub)
	if err != nil {
		return nil, err
	}

	res := &SubmitResult{
		QuestionnaireID: q.ID,
		Score:           score,
		Priority:        band,
		Escalated:       escalated,
		NewBadges:       []string{},
	}

	s.metrics.Submissions.WithLabelValues(t.Name, string(band)).Inc()
	s.metrics.Scores.WithLabelValues(t.Name).Observe(score)
	evt := s.logger.Info().
		Str("questionnaire_id", q.ID.String()).
		Str("patient_id", patientID.String()).
		Str("typology", t.Name).
		Float64("score", score).
		Str("priority", string(band)).
		Bool("escalated", escalated)
	if escalated {
		s.metrics.Escalations.WithLabelValues(string(band)).Inc()
	}
	if raised {
		res.AlertID = &sub.Alert.ID
		s.metrics.AlertsRaised.Inc()
		evt = evt.Str("alert_id", sub.Alert.ID.String())
		s.notifyAlertRaised(ctx, p, q)
	}
	evt.Msg("questionnaire submitted")

	// The submission is durable; badge failures must not undo it.
	badges, err := s.EvaluateBadges(ctx, patientID)
	if err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("badge evaluation after submission")
	} else {
		res.NewBadges = badges
	}
	return res, nil
}

// -- Questionnaire lifecycle --

func (s *Service) GetQuestionnaire(ctx context.Context, id uuid.UUID) (*Questionnaire, error) {
	return s.store.GetQuestionnaire(ctx, id)
}

func (s *Service) ListPatientQuestionnaires(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*Questionnaire, int, error) {
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.store.ListQuestionnairesByPatient(ctx, patientID, p)
}

func (s *Service) ListPendingInvalidations(ctx context.Context, p pagination.Params) ([]*Questionnaire, int, error) {
	return s.store.ListPendingInvalidations(ctx, p)
}

// Review marks a compiled questionnaire reviewed by psychologistID and tells
// the patient.
func (s *Service) Review(ctx context.Context, id, psychologistID uuid.UUID) (*Questionnaire, error) {
	q, err := s.store.GetQuestionnaire(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CanReview(q); err != nil {
		return nil, err
	}
	q, err = s.store.MarkReviewed(ctx, id, psychologistID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.metrics.Reviews.WithLabelValues("reviewed").Inc()
	s.logger.Info().
		Str("questionnaire_id", id.String()).
		Str("psychologist_id", psychologistID.String()).
		Msg("questionnaire reviewed")

	s.notifier.Deliver(ctx, notification.ToActor(q.PatientID, auth.RolePatient,
		notification.TemplateReviewed, map[string]string{"typology": q.TypologyName}))
	return q, nil
}

// CancelReview returns a reviewed questionnaire to compiled and tells the
// displaced psychologist.
func (s *Service) CancelReview(ctx context.Context, id, adminID uuid.UUID) (*Questionnaire, error) {
	q, err := s.store.GetQuestionnaire(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CanCancelReview(q); err != nil {
		return nil, err
	}
	q, displaced, err := s.store.ClearReview(ctx, id)
	if err != nil {
		return nil, err
	}
	s.metrics.Reviews.WithLabelValues("cancelled").Inc()
	s.logger.Info().
		Str("questionnaire_id", id.String()).
		Str("admin_id", adminID.String()).
		Str("displaced_psychologist_id", displaced.String()).
		Msg("questionnaire review cancelled")

	if displaced != uuid.Nil {
		s.notifier.Deliver(ctx, notification.ToActor(displaced, auth.RolePsychologist,
			notification.TemplateReviewCancelled, map[string]string{"questionnaire_id": id.String()}))
	}
	return q, nil
}

// RequestInvalidation files the questionnaire's one and only invalidation
// request and alerts the admin pool.
func (s *Service) RequestInvalidation(ctx context.Context, id, psychologistID uuid.UUID, notes string) (*Questionnaire, error) {
	notes, err := ValidateInvalidationNotes(notes)
	if err != nil {
		return nil, err
	}
	q, err := s.store.GetQuestionnaire(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CanRequestInvalidation(q); err != nil {
		return nil, err
	}
	q, err = s.store.RequestInvalidation(ctx, id, psychologistID, notes, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.metrics.Invalidations.WithLabelValues("requested").Inc()
	s.logger.Info().
		Str("questionnaire_id", id.String()).
		Str("psychologist_id", psychologistID.String()).
		Msg("invalidation requested")

	s.notifier.Deliver(ctx, notification.ToPool(auth.RoleAdmin, notification.TemplateInvalidationRequest,
		map[string]string{
			"questionnaire_id": id.String(),
			"typology":         q.TypologyName,
			"notes":            notes,
		}))
	return q, nil
}

func (s *Service) AcceptInvalidation(ctx context.Context, id, adminID uuid.UUID) (*Questionnaire, error) {
	return s.resolveInvalidation(ctx, id, adminID, true)
}

// RejectInvalidation keeps the questionnaire valid. The request stays on
// record, so no further request can be made.
func (s *Service) RejectInvalidation(ctx context.Context, id, adminID uuid.UUID) (*Questionnaire, error) {
	return s.resolveInvalidation(ctx, id, adminID, false)
}

func (s *Service) resolveInvalidation(ctx context.Context, id, adminID uuid.UUID, accept bool) (*Questionnaire, error) {
	q, err := s.store.GetQuestionnaire(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CanResolveInvalidation(q); err != nil {
		return nil, err
	}
	q, err = s.store.ResolveInvalidation(ctx, id, adminID, accept, s.now().UTC())
	if err != nil {
		return nil, err
	}

	outcome, tmpl := "rejected", notification.TemplateInvalidationRejected
	if accept {
		outcome, tmpl = "accepted", notification.TemplateInvalidationAccepted
	}
	s.metrics.Invalidations.WithLabelValues(outcome).Inc()
	s.logger.Info().
		Str("questionnaire_id", id.String()).
		Str("admin_id", adminID.String()).
		Str("outcome", outcome).
		Msg("invalidation resolved")

	s.notifier.Deliver(ctx, notification.ToActor(*q.RequestingPsychologistID, auth.RolePsychologist,
		tmpl, map[string]string{"questionnaire_id": id.String()}))
	return q, nil
}
