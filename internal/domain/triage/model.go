// Package triage implements questionnaire scoring, patient priority banding,
// the review/invalidation lifecycle, shared-pool clinical alerts and badge
// awarding.
package triage

import (
	"time"

	"github.com/google/uuid"
)

// Priority is a clinical urgency band. Lower rank is more urgent.
type Priority string

const (
	PriorityUrgent      Priority = "urgent"
	PriorityShort       Priority = "short"
	PriorityDeferrable  Priority = "deferrable"
	PrioritySchedulable Priority = "schedulable"
)

// Priorities lists every band, most urgent first.
var Priorities = []Priority{PriorityUrgent, PriorityShort, PriorityDeferrable, PrioritySchedulable}

// Rank returns 0 for urgent through 3 for schedulable, or -1 for an unknown band.
func (p Priority) Rank() int {
	for i, q := range Priorities {
		if p == q {
			return i
		}
	}
	return -1
}

func (p Priority) Valid() bool { return p.Rank() >= 0 }

// MoreUrgentThan reports whether p is strictly more urgent than q.
func (p Priority) MoreUrgentThan(q Priority) bool {
	return p.Rank() < q.Rank()
}

type Answer struct {
	QuestionID string  `json:"question_id"`
	Value      float64 `json:"value"`
}

type Patient struct {
	ID             uuid.UUID  `json:"id"`
	DisplayName    string     `json:"display_name"`
	Priority       Priority   `json:"priority"`
	LatestScore    *float64   `json:"latest_score,omitempty"`
	PsychologistID *uuid.UUID `json:"psychologist_id,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Questionnaire struct {
	ID                       uuid.UUID  `json:"id"`
	PatientID                uuid.UUID  `json:"patient_id"`
	TypologyName             string     `json:"typology_name"`
	Answers                  []Answer   `json:"answers"`
	Score                    float64    `json:"score"`
	Priority                 Priority   `json:"priority"`
	EscalationFlag           bool       `json:"escalation_flag"`
	CompiledAt               time.Time  `json:"compiled_at"`
	Reviewed                 bool       `json:"reviewed"`
	ReviewingPsychologistID  *uuid.UUID `json:"reviewing_psychologist_id,omitempty"`
	ReviewedAt               *time.Time `json:"reviewed_at,omitempty"`
	Invalidated              bool       `json:"invalidated"`
	InvalidationNotes        *string    `json:"invalidation_notes,omitempty"`
	InvalidationRequestedAt  *time.Time `json:"invalidation_requested_at,omitempty"`
	RequestingPsychologistID *uuid.UUID `json:"requesting_psychologist_id,omitempty"`
	ConfirmingAdminID        *uuid.UUID `json:"confirming_admin_id,omitempty"`
	InvalidationResolvedAt   *time.Time `json:"invalidation_resolved_at,omitempty"`
}

type ClinicalAlert struct {
	ID                      uuid.UUID  `json:"id"`
	PatientID               uuid.UUID  `json:"patient_id"`
	QuestionnaireID         uuid.UUID  `json:"questionnaire_id"`
	Priority                Priority   `json:"priority"`
	Score                   float64    `json:"score"`
	RaisedAt                time.Time  `json:"raised_at"`
	Accepted                bool       `json:"accepted"`
	AcceptingPsychologistID *uuid.UUID `json:"accepting_psychologist_id,omitempty"`
	AcceptedAt              *time.Time `json:"accepted_at,omitempty"`
}

type AcquisitionRecord struct {
	PatientID uuid.UUID `json:"patient_id"`
	BadgeName string    `json:"badge_name"`
	AwardedAt time.Time `json:"awarded_at"`
}

// Submission is everything RecordSubmission writes in one atomic step.
type Submission struct {
	Questionnaire *Questionnaire
	// PreviousPriority guards the patient update: the write only applies if
	// the patient still holds this band.
	PreviousPriority Priority
	// Alert is set when the submission escalated the patient.
	Alert *ClinicalAlert
}
