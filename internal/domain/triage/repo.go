package triage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/pkg/pagination"
)

// Store is the persistence gateway. Every mutating method is a single atomic
// conditional write: a predicate miss returns an apperr Conflict and leaves no
// partial state. Lookups of absent rows return apperr NotFound.
type Store interface {
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	// WaitingList returns active patients, most urgent band first and highest
	// latest score first within a band.
	WaitingList(ctx context.Context, p pagination.Params) ([]*Patient, int, error)

	// RecordSubmission inserts the questionnaire and moves the patient to the
	// questionnaire's score and priority, conditioned on the patient still
	// holding PreviousPriority. When Alert is set it is inserted in the same
	// step unless the patient already has an open alert; alertRaised reports
	// whether it was.
	RecordSubmission(ctx context.Context, s Submission) (alertRaised bool, err error)

	GetQuestionnaire(ctx context.Context, id uuid.UUID) (*Questionnaire, error)
	ListQuestionnairesByPatient(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*Questionnaire, int, error)
	// ListPendingInvalidations returns questionnaires awaiting an admin
	// decision, oldest request first.
	ListPendingInvalidations(ctx context.Context, p pagination.Params) ([]*Questionnaire, int, error)
	// QuestionnaireDates returns compile times of the patient's questionnaires
	// that are not invalidated.
	QuestionnaireDates(ctx context.Context, patientID uuid.UUID) ([]time.Time, error)

	MarkReviewed(ctx context.Context, id, psychologistID uuid.UUID, at time.Time) (*Questionnaire, error)
	// ClearReview returns the questionnaire to compiled and reports the
	// reviewer it displaced.
	ClearReview(ctx context.Context, id uuid.UUID) (q *Questionnaire, displaced uuid.UUID, err error)
	RequestInvalidation(ctx context.Context, id, psychologistID uuid.UUID, notes string, at time.Time) (*Questionnaire, error)
	ResolveInvalidation(ctx context.Context, id, adminID uuid.UUID, accept bool, at time.Time) (*Questionnaire, error)

	// ListOpenAlerts returns unaccepted alerts oldest first.
	ListOpenAlerts(ctx context.Context) ([]*ClinicalAlert, error)
	// ClaimAlert flips accepted false→true for psychologistID. Exactly one of
	// any number of concurrent callers succeeds. The winner also becomes the
	// patient's psychologist if none is assigned yet.
	ClaimAlert(ctx context.Context, alertID, psychologistID uuid.UUID, at time.Time) (*ClinicalAlert, error)

	// AwardBadges inserts acquisition records, ignoring ones already held, and
	// returns only the names it inserted.
	AwardBadges(ctx context.Context, patientID uuid.UUID, names []string, at time.Time) ([]string, error)
	ListBadges(ctx context.Context, patientID uuid.UUID) ([]AcquisitionRecord, error)
}

// JournalActivity is the patient's journal history used by badge criteria.
type JournalActivity struct {
	MoodDates    []time.Time
	DiaryEntries int
	ForumPosts   int
}

// ActivitySource provides journal history for badge evaluation.
type ActivitySource interface {
	PatientActivity(ctx context.Context, patientID uuid.UUID) (JournalActivity, error)
}
