// Package storetest is a behavioural suite every triage.Store must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/carebridge/internal/domain/triage"
	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) triage.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s triage.Store)
	}{
		{"PatientRoundTrip", testPatientRoundTrip},
		{"WaitingListOrder", testWaitingListOrder},
		{"SubmissionPriorityGuard", testSubmissionPriorityGuard},
		{"SubmissionAlertIdempotent", testSubmissionAlertIdempotent},
		{"ClaimAlertRace", testClaimAlertRace},
		{"ClaimAlertAssignsPsychologistOnce", testClaimAlertAssignsOnce},
		{"ClaimAlertMissing", testClaimAlertMissing},
		{"ReviewCycle", testReviewCycle},
		{"InvalidationOneShot", testInvalidationOneShot},
		{"InvalidationAccepted", testInvalidationAccepted},
		{"AwardBadgesIdempotent", testAwardBadgesIdempotent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func newPatient(t *testing.T, s triage.Store, name string) *triage.Patient {
	t.Helper()
	p := &triage.Patient{
		ID:          uuid.New(),
		DisplayName: name,
		Priority:    triage.PrioritySchedulable,
		Active:      true,
		CreatedAt:   epoch,
		UpdatedAt:   epoch,
	}
	require.NoError(t, s.CreatePatient(context.Background(), p))
	return p
}

func submission(p *triage.Patient, score float64, band triage.Priority, at time.Time, withAlert bool) triage.Submission {
	q := &triage.Questionnaire{
		ID:             uuid.New(),
		PatientID:      p.ID,
		TypologyName:   "PHQ-9",
		Answers:        []triage.Answer{{QuestionID: "q1", Value: score}},
		Score:          score,
		Priority:       band,
		EscalationFlag: withAlert,
		CompiledAt:     at,
	}
	sub := triage.Submission{Questionnaire: q, PreviousPriority: p.Priority}
	if withAlert {
		sub.Alert = &triage.ClinicalAlert{
			ID: uuid.New(), PatientID: p.ID, QuestionnaireID: q.ID,
			Priority: band, Score: score, RaisedAt: at,
		}
	}
	return sub
}

func submit(t *testing.T, s triage.Store, p *triage.Patient, score float64, band triage.Priority, at time.Time, withAlert bool) (triage.Submission, bool) {
	t.Helper()
	sub := submission(p, score, band, at, withAlert)
	raised, err := s.RecordSubmission(context.Background(), sub)
	require.NoError(t, err)
	p.Priority = band
	return sub, raised
}

func testPatientRoundTrip(t *testing.T, s triage.Store) {
	ctx := context.Background()
	p := newPatient(t, s, "Ada")

	got, err := s.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.DisplayName)
	assert.Equal(t, triage.PrioritySchedulable, got.Priority)
	assert.Nil(t, got.LatestScore)

	_, err = s.GetPatient(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testWaitingListOrder(t *testing.T, s triage.Store) {
	ctx := context.Background()
	low := newPatient(t, s, "low")
	high := newPatient(t, s, "high")
	urgent := newPatient(t, s, "urgent")
	idle := newPatient(t, s, "idle")

	submit(t, s, low, 11, triage.PriorityDeferrable, epoch, false)
	submit(t, s, high, 14, triage.PriorityDeferrable, epoch, false)
	submit(t, s, urgent, 22, triage.PriorityUrgent, epoch, false)

	list, total, err := s.WaitingList(ctx, pagination.New(10, 0))
	require.NoError(t, err)
	require.Equal(t, 4, total)
	names := make([]string, len(list))
	for i, p := range list {
		names[i] = p.DisplayName
	}
	assert.Equal(t, []string{"urgent", "high", "low", idle.DisplayName}, names)
}

func testSubmissionPriorityGuard(t *testing.T, s triage.Store) {
	ctx := context.Background()
	p := newPatient(t, s, "guarded")

	stale := submission(p, 12, triage.PriorityUrgent, epoch, true)
	stale.PreviousPriority = triage.PriorityShort
	_, err := s.RecordSubmission(ctx, stale)
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = s.GetQuestionnaire(ctx, stale.Questionnaire.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "a rejected submission leaves nothing behind")
	alerts, err := s.ListOpenAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	got, err := s.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.PrioritySchedulable, got.Priority)
	assert.Nil(t, got.LatestScore)
}

func testSubmissionAlertIdempotent(t *testing.T, s triage.Store) {
	ctx := context.Background()
	p := newPatient(t, s, "escalating")

	first, raised := submit(t, s, p, 12, triage.PriorityShort, epoch, true)
	require.True(t, raised)

	got, err := s.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.PriorityShort, got.Priority)
	require.NotNil(t, got.LatestScore)
	assert.Equal(t, 12.0, *got.LatestScore)

	_, raised = submit(t, s, p, 25, triage.PriorityUrgent, epoch.Add(time.Hour), true)
	assert.False(t, raised, "an open alert already exists for the patient")

	alerts, err := s.ListOpenAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, first.Alert.ID, alerts[0].ID)
}

func testClaimAlertRace(t *testing.T, s triage.Store) {
	ctx := context.Background()
	p := newPatient(t, s, "raced")
	sub, raised := submit(t, s, p, 20, triage.PriorityUrgent, epoch, true)
	require.True(t, raised)

	const n = 16
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		winners   []uuid.UUID
		conflicts int
	)
	for i := 0; i < n; i++ {
		psych := uuid.New()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ClaimAlert(ctx, sub.Alert.ID, psych, epoch.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, psych)
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, conflicts)

	open, err := s.ListOpenAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := s.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PsychologistID)
	assert.Equal(t, winners[0], *got.PsychologistID)
}

func testClaimAlertAssignsOnce(t *testing.T, s triage.Store) {
	ctx := context.Background()
	p := newPatient(t, s, "assigned")
	first, _ := submit(t, s, p, 12, triage.PriorityShort, epoch, true)

	psychA, psychB := uuid.New(), uuid.New()
	a, err := s.ClaimAlert(ctx, first.Alert.ID, psychA, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, a.Accepted)
	assert.Equal(t, psychA, *a.AcceptingPsychologistID)

	second, raised := submit(t, s, p, 25, triage.PriorityUrgent, epoch.Add(time.Hour), true)
	require.True(t, raised, "the first alert is closed, so a new one opens")
	_, err = s.ClaimAlert(ctx, second.Alert.ID, psychB, epoch.Add(2*time.Hour))
	require.NoError(t, err)

	got, err := s.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, psychA, *got.PsychologistID, "an assigned psychologist is never replaced")
}

func testClaimAlertMissing(t *testing.T, s triage.Store) {
	_, err := s.ClaimAlert(context.Background(), uuid.New(), uuid.New(), epoch)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testReviewCycle(t *testing.T, s triage.Store) {
	ctx := context.Background()
	p := newPatient(t, s, "reviewed")
	sub, _ := submit(t, s, p, 3, triage.PrioritySchedulable, epoch, false)
	id := sub.Questionnaire.ID
	psychA, psychB := uuid.New(), uuid.New()

	q, err := s.MarkReviewed(ctx, id, psychA, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, q.Reviewed)
	assert.Equal(t, triage.StateReviewed, q.State())

	_, err = s.MarkReviewed(ctx, id, psychB, epoch.Add(2*time.Minute))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	q, displaced, err := s.ClearReview(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, psychA, displaced)
	assert.False(t, q.Reviewed)
	assert.Nil(t, q.ReviewingPsychologistID)

	_, _, err = s.ClearReview(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	q, err = s.MarkReviewed(ctx, id, psychB, epoch.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, psychB, *q.ReviewingPsychologistID)

	_, err = s.MarkReviewed(ctx, uuid.New(), psychB, epoch)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testInvalidationOneShot(t *testing.T, s triage.Store) {
	ctx := context.Background()
	p := newPatient(t, s, "one-shot")
	sub, _ := submit(t, s, p, 3, triage.PrioritySchedulable, epoch, false)
	id := sub.Questionnaire.ID
	psych, admin := uuid.New(), uuid.New()

	q, err := s.RequestInvalidation(ctx, id, psych, "entered for the wrong patient", epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, triage.StateInvalidationRequested, q.State())

	_, err = s.MarkReviewed(ctx, id, psych, epoch.Add(2*time.Minute))
	assert.ErrorIs(t, err, apperr.ErrConflict, "no review while a request is pending")

	pending, total, err := s.ListPendingInvalidations(ctx, pagination.New(10, 0))
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, id, pending[0].ID)

	q, err = s.ResolveInvalidation(ctx, id, admin, false, epoch.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, q.Invalidated)
	assert.Equal(t, psych, *q.RequestingPsychologistID)
	assert.Equal(t, admin, *q.ConfirmingAdminID)
	assert.Equal(t, triage.StateInvalidationRejected, q.State())

	_, err = s.RequestInvalidation(ctx, id, psych, "second try", epoch.Add(4*time.Minute))
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "already requested")

	_, err = s.ResolveInvalidation(ctx, id, admin, true, epoch.Add(5*time.Minute))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	q, err = s.GetQuestionnaire(ctx, id)
	require.NoError(t, err)
	assert.False(t, q.Invalidated)
	assert.Equal(t, psych, *q.RequestingPsychologistID)

	_, total, err = s.ListPendingInvalidations(ctx, pagination.New(10, 0))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func testInvalidationAccepted(t *testing.T, s triage.Store) {
	ctx := context.Background()
	p := newPatient(t, s, "voided")
	kept, _ := submit(t, s, p, 3, triage.PrioritySchedulable, epoch, false)
	voided, _ := submit(t, s, p, 4, triage.PrioritySchedulable, epoch.Add(24*time.Hour), false)

	_, err := s.RequestInvalidation(ctx, voided.Questionnaire.ID, uuid.New(), "duplicate", epoch.Add(25*time.Hour))
	require.NoError(t, err)
	q, err := s.ResolveInvalidation(ctx, voided.Questionnaire.ID, uuid.New(), true, epoch.Add(26*time.Hour))
	require.NoError(t, err)
	assert.True(t, q.Invalidated)
	assert.Equal(t, triage.StateInvalidationAccepted, q.State())

	dates, err := s.QuestionnaireDates(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, dates, 1)
	assert.True(t, dates[0].Equal(kept.Questionnaire.CompiledAt))

	list, total, err := s.ListQuestionnairesByPatient(ctx, p.ID, pagination.New(10, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, voided.Questionnaire.ID, list[0].ID, "newest first")
}

func testAwardBadgesIdempotent(t *testing.T, s triage.Store) {
	ctx := context.Background()
	p := newPatient(t, s, "badged")

	awarded, err := s.AwardBadges(ctx, p.ID, []string{"first-steps", "storyteller"}, epoch)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first-steps", "storyteller"}, awarded)

	awarded, err = s.AwardBadges(ctx, p.ID, []string{"first-steps", "storyteller", "mood-tracker"}, epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"mood-tracker"}, awarded)

	awarded, err = s.AwardBadges(ctx, p.ID, []string{"first-steps"}, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, awarded)

	records, err := s.ListBadges(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
