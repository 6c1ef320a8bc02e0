package triage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/carebridge/internal/domain/triage"
	"github.com/carebridge/carebridge/internal/domain/triage/memstore"
	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/notification"
	"github.com/carebridge/carebridge/pkg/pagination"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (r *recordingNotifier) Deliver(_ context.Context, msg notification.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingNotifier) byTemplate(id string) []notification.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notification.Message
	for _, m := range r.msgs {
		if m.Template == id {
			out = append(out, m)
		}
	}
	return out
}

type fakeActivity struct {
	activity triage.JournalActivity
	err      error
}

func (f *fakeActivity) PatientActivity(context.Context, uuid.UUID) (triage.JournalActivity, error) {
	return f.activity, f.err
}

type fixture struct {
	svc      *triage.Service
	store    *memstore.Store
	notes    *recordingNotifier
	activity *fakeActivity
	metrics  *triage.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		notes:    &recordingNotifier{},
		activity: &fakeActivity{},
		metrics:  triage.NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = triage.NewService(f.store, f.activity, triage.DefaultCatalog(), f.notes, f.metrics, zerolog.Nop())
	return f
}

func (f *fixture) patient(t *testing.T) *triage.Patient {
	t.Helper()
	p, err := f.svc.RegisterPatient(context.Background(), triage.RegisterPatientRequest{DisplayName: "Grace"})
	require.NoError(t, err)
	return p
}

func riskAnswers(planning float64) []triage.Answer {
	return []triage.Answer{
		{QuestionID: "hopelessness", Value: 0},
		{QuestionID: "isolation", Value: 0},
		{QuestionID: "ideation", Value: 0},
		{QuestionID: "planning", Value: planning},
	}
}

func (f *fixture) submit(t *testing.T, p *triage.Patient, planning float64) *triage.SubmitResult {
	t.Helper()
	res, err := f.svc.Submit(context.Background(), p.ID, triage.SubmitRequest{Typology: "risk-screen", Answers: riskAnswers(planning)})
	require.NoError(t, err)
	return res
}

func TestRegisterPatient(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.RegisterPatient(context.Background(), triage.RegisterPatientRequest{DisplayName: "  Linus "})
	require.NoError(t, err)
	assert.Equal(t, "Linus", p.DisplayName)
	assert.Equal(t, triage.PrioritySchedulable, p.Priority)
	assert.True(t, p.Active)

	_, err = f.svc.RegisterPatient(context.Background(), triage.RegisterPatientRequest{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSubmit_EscalationRaisesOneAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.patient(t)

	res := f.submit(t, p, 4) // planning weight 3 -> 12
	assert.Equal(t, 12.0, res.Score)
	assert.Equal(t, triage.PriorityUrgent, res.Priority)
	assert.True(t, res.Escalated)
	require.NotNil(t, res.AlertID)
	assert.Equal(t, []string{"first-steps"}, res.NewBadges)

	got, err := f.svc.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.PriorityUrgent, got.Priority)
	assert.Equal(t, 12.0, *got.LatestScore)

	alerts, err := f.svc.ListOpenAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, *res.AlertID, alerts[0].ID)
	assert.Equal(t, res.QuestionnaireID, alerts[0].QuestionnaireID)

	raised := f.notes.byTemplate(notification.TemplateAlertRaised)
	require.Len(t, raised, 1)
	assert.Equal(t, uuid.Nil, raised[0].RecipientID)
	assert.Equal(t, auth.RolePsychologist, raised[0].RecipientRole)
	assert.Equal(t, "12", raised[0].Data["score"])

	q, err := f.svc.GetQuestionnaire(ctx, res.QuestionnaireID)
	require.NoError(t, err)
	assert.True(t, q.EscalationFlag)
	assert.Equal(t, triage.StateCompiled, q.State())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertsRaised))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Escalations.WithLabelValues("urgent")))
}

func TestSubmit_NoEscalationOnTieOrDrop(t *testing.T) {
	f := newFixture(t)
	p := f.patient(t)

	f.submit(t, p, 4)
	tie := f.submit(t, p, 4)
	assert.False(t, tie.Escalated)
	assert.Nil(t, tie.AlertID)

	drop := f.submit(t, p, 0)
	assert.Equal(t, triage.PrioritySchedulable, drop.Priority)
	assert.False(t, drop.Escalated)

	assert.Len(t, f.notes.byTemplate(notification.TemplateAlertRaised), 1)
}

func TestSubmit_OpenAlertNotDuplicated(t *testing.T) {
	f := newFixture(t)
	p := f.patient(t)

	first := f.submit(t, p, 2) // 6 -> deferrable
	require.True(t, first.Escalated)
	require.NotNil(t, first.AlertID)

	second := f.submit(t, p, 4) // 12 -> urgent, alert still open
	assert.True(t, second.Escalated)
	assert.Nil(t, second.AlertID)

	alerts, err := f.svc.ListOpenAlerts(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestSubmit_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.patient(t)

	_, err := f.svc.Submit(ctx, p.ID, triage.SubmitRequest{Typology: "MMPI", Answers: riskAnswers(1)})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Submit(ctx, p.ID, triage.SubmitRequest{Typology: "risk-screen", Answers: riskAnswers(9)})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Submit(ctx, uuid.New(), triage.SubmitRequest{Typology: "risk-screen", Answers: riskAnswers(1)})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	list, total, err := f.svc.ListPatientQuestionnaires(ctx, p.ID, pagination.New(10, 0))
	require.NoError(t, err)
	assert.Zero(t, total, "failed submissions leave nothing behind")
	assert.Empty(t, list)
	assert.Empty(t, f.notes.msgs)
}

func TestSubmit_BadgeFailureDoesNotFailSubmission(t *testing.T) {
	f := newFixture(t)
	f.activity.err = errors.New("journal down")
	p := f.patient(t)

	res := f.submit(t, p, 1)
	assert.Empty(t, res.NewBadges)

	_, total, err := f.svc.ListPatientQuestionnaires(context.Background(), p.ID, pagination.New(10, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestAcceptAlert_Race(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.patient(t)
	res := f.submit(t, p, 4)
	require.NotNil(t, res.AlertID)

	psychA, psychB := uuid.New(), uuid.New()
	type outcome struct {
		psych uuid.UUID
		alert *triage.ClinicalAlert
		err   error
	}
	results := make(chan outcome, 2)
	start := make(chan struct{})
	for _, psych := range []uuid.UUID{psychA, psychB} {
		go func(psych uuid.UUID) {
			<-start
			a, err := f.svc.AcceptAlert(ctx, *res.AlertID, psych)
			results <- outcome{psych, a, err}
		}(psych)
	}
	close(start)

	var won, lost []outcome
	for i := 0; i < 2; i++ {
		o := <-results
		if o.err == nil {
			won = append(won, o)
		} else {
			lost = append(lost, o)
		}
	}
	require.Len(t, won, 1)
	require.Len(t, lost, 1)
	assert.Equal(t, won[0].psych, *won[0].alert.AcceptingPsychologistID)
	assert.ErrorIs(t, lost[0].err, apperr.ErrConflict)

	alerts, err := f.svc.ListOpenAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	accepted := f.notes.byTemplate(notification.TemplateAlertAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, p.ID, accepted[0].RecipientID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertClaims.WithLabelValues("won")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertClaims.WithLabelValues("lost")))
}

func TestAcceptAlert_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AcceptAlert(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.False(t, errors.Is(err, apperr.ErrConflict))
}

func TestReviewAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.patient(t)
	qid := f.submit(t, p, 0).QuestionnaireID
	psych, admin := uuid.New(), uuid.New()

	q, err := f.svc.Review(ctx, qid, psych)
	require.NoError(t, err)
	assert.Equal(t, triage.StateReviewed, q.State())

	reviewed := f.notes.byTemplate(notification.TemplateReviewed)
	require.Len(t, reviewed, 1)
	assert.Equal(t, p.ID, reviewed[0].RecipientID)
	assert.Equal(t, auth.RolePatient, reviewed[0].RecipientRole)
	assert.Equal(t, "risk-screen", reviewed[0].Data["typology"])

	_, err = f.svc.Review(ctx, qid, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Len(t, f.notes.byTemplate(notification.TemplateReviewed), 1, "a refused review notifies nobody")

	q, err = f.svc.CancelReview(ctx, qid, admin)
	require.NoError(t, err)
	assert.Equal(t, triage.StateCompiled, q.State())

	cancelled := f.notes.byTemplate(notification.TemplateReviewCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, psych, cancelled[0].RecipientID)
	assert.Equal(t, auth.RolePsychologist, cancelled[0].RecipientRole)

	_, err = f.svc.CancelReview(ctx, qid, admin)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.Review(ctx, uuid.New(), psych)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestInvalidation_RequestRejectRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.patient(t)
	qid := f.submit(t, p, 1).QuestionnaireID
	psych, admin := uuid.New(), uuid.New()

	_, err := f.svc.Review(ctx, qid, psych)
	require.NoError(t, err)

	_, err = f.svc.RequestInvalidation(ctx, qid, psych, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	q, err := f.svc.RequestInvalidation(ctx, qid, psych, "answers belong to another patient")
	require.NoError(t, err)
	assert.Equal(t, triage.StateInvalidationRequested, q.State())

	req := f.notes.byTemplate(notification.TemplateInvalidationRequest)
	require.Len(t, req, 1)
	assert.Equal(t, auth.RoleAdmin, req[0].RecipientRole)
	assert.Equal(t, uuid.Nil, req[0].RecipientID)

	pending, total, err := f.svc.ListPendingInvalidations(ctx, pagination.New(10, 0))
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, qid, pending[0].ID)

	q, err = f.svc.RejectInvalidation(ctx, qid, admin)
	require.NoError(t, err)
	assert.Equal(t, triage.StateInvalidationRejected, q.State())
	rejected := f.notes.byTemplate(notification.TemplateInvalidationRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, psych, rejected[0].RecipientID)

	_, err = f.svc.RequestInvalidation(ctx, qid, psych, "second attempt")
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "already requested")

	_, err = f.svc.AcceptInvalidation(ctx, qid, admin)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestInvalidation_AcceptedDropsFromBadgeCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.patient(t)
	qid := f.submit(t, p, 0).QuestionnaireID
	psych, admin := uuid.New(), uuid.New()

	_, err := f.svc.RequestInvalidation(ctx, qid, psych, "test entry")
	require.NoError(t, err)
	q, err := f.svc.AcceptInvalidation(ctx, qid, admin)
	require.NoError(t, err)
	assert.True(t, q.Invalidated)

	_, err = f.svc.Review(ctx, qid, psych)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	accepted := f.notes.byTemplate(notification.TemplateInvalidationAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, psych, accepted[0].RecipientID)

	dates, err := f.store.QuestionnaireDates(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, dates)

	_, err = f.svc.AcceptInvalidation(ctx, uuid.New(), admin)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEvaluateBadges_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.patient(t)

	var moods []time.Time
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for d := 0; d < 7; d++ {
		moods = append(moods, base.AddDate(0, 0, d))
	}
	f.activity.activity = triage.JournalActivity{MoodDates: moods, DiaryEntries: 5}

	awarded, err := f.svc.EvaluateBadges(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"storyteller", "week-of-moods"}, awarded)

	again, err := f.svc.EvaluateBadges(ctx, p.ID)
	require.NoError(t, err)
	assert.NotNil(t, again)
	assert.Empty(t, again)

	msgs := f.notes.byTemplate(notification.TemplateBadgesAwarded)
	require.Len(t, msgs, 1)
	assert.Equal(t, p.ID, msgs[0].RecipientID)
	assert.Equal(t, "storyteller, week-of-moods", msgs[0].Data["badges"])

	records, err := f.svc.ListBadges(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = f.svc.EvaluateBadges(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
