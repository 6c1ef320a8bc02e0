package triage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/notification"
)

func newAlert(q *Questionnaire, at time.Time) *ClinicalAlert {
	return &ClinicalAlert{
		ID:              uuid.New(),
		PatientID:       q.PatientID,
		QuestionnaireID: q.ID,
		Priority:        q.Priority,
		Score:           q.Score,
		RaisedAt:        at,
	}
}

func (s *Service) notifyAlertRaised(ctx context.Context, p *Patient, q *Questionnaire) {
	s.notifier.Deliver(ctx, notification.ToPool(auth.RolePsychologist, notification.TemplateAlertRaised,
		map[string]string{
			"patient_name": p.DisplayName,
			"score":        strconv.FormatFloat(q.Score, 'f', -1, 64),
			"typology":     q.TypologyName,
			"priority":     string(q.Priority),
		}))
}

// ListOpenAlerts returns the shared pool of unaccepted alerts, oldest first.
// Every psychologist sees the same list.
func (s *Service) ListOpenAlerts(ctx context.Context) ([]*ClinicalAlert, error) {
	alerts, err := s.store.ListOpenAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	return alerts, nil
}

// AcceptAlert claims an open alert for psychologistID. Losing a race returns
// an apperr Conflict; callers should re-list and pick another alert.
func (s *Service) AcceptAlert(ctx context.Context, alertID, psychologistID uuid.UUID) (*ClinicalAlert, error) {
	a, err := s.store.ClaimAlert(ctx, alertID, psychologistID, s.now().UTC())
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			s.metrics.AlertClaims.WithLabelValues("lost").Inc()
		}
		return nil, err
	}
	s.metrics.AlertClaims.WithLabelValues("won").Inc()
	s.logger.Info().
		Str("alert_id", a.ID.String()).
		Str("patient_id", a.PatientID.String()).
		Str("psychologist_id", psychologistID.String()).
		Msg("clinical alert accepted")

	s.notifier.Deliver(ctx, notification.ToActor(a.PatientID, auth.RolePatient,
		notification.TemplateAlertAccepted, nil))
	return a, nil
}
