package triage

import (
	"strings"

	"github.com/carebridge/carebridge/internal/platform/apperr"
)

// State is derived from a questionnaire's flags; it is never stored.
type State string

const (
	StateCompiled              State = "compiled"
	StateReviewed              State = "reviewed"
	StateInvalidationRequested State = "invalidation_requested"
	StateInvalidationAccepted  State = "invalidation_accepted"
	StateInvalidationRejected  State = "invalidation_rejected"
)

// InvalidationPending reports a request awaiting an admin decision.
func (q *Questionnaire) InvalidationPending() bool {
	return q.RequestingPsychologistID != nil && q.ConfirmingAdminID == nil
}

// InvalidationRequested reports whether a request was ever made, whatever
// its outcome.
func (q *Questionnaire) InvalidationRequested() bool {
	return q.RequestingPsychologistID != nil
}

func (q *Questionnaire) State() State {
	switch {
	case q.Invalidated:
		return StateInvalidationAccepted
	case q.InvalidationPending():
		return StateInvalidationRequested
	case q.InvalidationRequested():
		return StateInvalidationRejected
	case q.Reviewed:
		return StateReviewed
	default:
		return StateCompiled
	}
}

// The guards below are the pre-checks run on a fresh read. Stores enforce the
// same predicates inside their conditional updates.

func CanReview(q *Questionnaire) error {
	switch {
	case q.Reviewed:
		return apperr.Conflict("questionnaire already reviewed")
	case q.Invalidated:
		return apperr.Conflict("questionnaire is invalidated")
	case q.InvalidationPending():
		return apperr.Conflict("questionnaire has a pending invalidation request")
	}
	return nil
}

func CanCancelReview(q *Questionnaire) error {
	switch {
	case !q.Reviewed:
		return apperr.Conflict("questionnaire is not reviewed")
	case q.Invalidated:
		return apperr.Conflict("questionnaire is invalidated")
	case q.InvalidationPending():
		return apperr.Conflict("questionnaire has a pending invalidation request")
	}
	return nil
}

// CanRequestInvalidation is one-shot: once any request exists, accepted or
// rejected, no further request is allowed.
func CanRequestInvalidation(q *Questionnaire) error {
	switch {
	case q.Invalidated:
		return apperr.Conflict("questionnaire already invalidated")
	case q.InvalidationRequested():
		return apperr.Conflict("already requested")
	}
	return nil
}

func CanResolveInvalidation(q *Questionnaire) error {
	switch {
	case !q.InvalidationRequested():
		return apperr.Conflict("no invalidation request to resolve")
	case !q.InvalidationPending():
		return apperr.Conflict("invalidation request already resolved")
	}
	return nil
}

// ValidateInvalidationNotes requires a non-blank reason of bounded length.
func ValidateInvalidationNotes(notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return "", apperr.Validation("invalidation notes are required")
	}
	if len(notes) > 2000 {
		return "", apperr.Validation("invalidation notes exceed 2000 characters")
	}
	return notes, nil
}
