// Package memstore provides an in-memory implementation of triage.Store.
//
// A single mutex stands in for row-level atomicity: every conditional update
// checks its predicate and writes under the lock. Alert acceptance
// additionally goes through a compare-and-swap flag per alert id, so exactly
// one claimant wins before any bookkeeping happens.
package memstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/domain/triage"
	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// Store holds triage state in memory. Suitable for dev/testing.
type Store struct {
	mu             sync.RWMutex
	patients       map[uuid.UUID]*triage.Patient
	questionnaires map[uuid.UUID]*triage.Questionnaire
	alerts         map[uuid.UUID]*triage.ClinicalAlert
	claimed        map[uuid.UUID]*atomic.Bool // alert id -> accepted
	badges         map[uuid.UUID][]triage.AcquisitionRecord
}

var _ triage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		patients:       make(map[uuid.UUID]*triage.Patient),
		questionnaires: make(map[uuid.UUID]*triage.Questionnaire),
		alerts:         make(map[uuid.UUID]*triage.ClinicalAlert),
		claimed:        make(map[uuid.UUID]*atomic.Bool),
		badges:         make(map[uuid.UUID][]triage.AcquisitionRecord),
	}
}

func copyPatient(p *triage.Patient) *triage.Patient {
	cp := *p
	return &cp
}

func copyQuestionnaire(q *triage.Questionnaire) *triage.Questionnaire {
	cp := *q
	cp.Answers = append([]triage.Answer(nil), q.Answers...)
	return &cp
}

func copyAlert(a *triage.ClinicalAlert) *triage.ClinicalAlert {
	cp := *a
	return &cp
}

func ptr[T any](v T) *T { return &v }

// -- Patients --

func (s *Store) CreatePatient(_ context.Context, p *triage.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[p.ID]; ok {
		return apperr.Conflict("patient %s already exists", p.ID)
	}
	s.patients[p.ID] = copyPatient(p)
	return nil
}

func (s *Store) GetPatient(_ context.Context, id uuid.UUID) (*triage.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id)
	}
	return copyPatient(p), nil
}

func (s *Store) WaitingList(_ context.Context, p pagination.Params) ([]*triage.Patient, int, error) {
	s.mu.RLock()
	var list []*triage.Patient
	for _, pt := range s.patients {
		if pt.Active {
			list = append(list, copyPatient(pt))
		}
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra < rb
		}
		switch {
		case a.LatestScore == nil && b.LatestScore == nil:
		case a.LatestScore == nil:
			return false
		case b.LatestScore == nil:
			return true
		case *a.LatestScore != *b.LatestScore:
			return *a.LatestScore > *b.LatestScore
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	page, total := pagination.Slice(list, p)
	return page, total, nil
}

// -- Submission --

func (s *Store) RecordSubmission(_ context.Context, sub triage.Submission) (bool, error) {
	q := sub.Questionnaire
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[q.PatientID]
	if !ok {
		return false, apperr.NotFound("patient", q.PatientID)
	}
	if !p.Active {
		return false, apperr.Conflict("patient %s is not active", p.ID)
	}
	if p.Priority != sub.PreviousPriority {
		return false, apperr.Conflict("patient priority changed concurrently")
	}

	s.questionnaires[q.ID] = copyQuestionnaire(q)
	p.LatestScore = ptr(q.Score)
	p.Priority = q.Priority
	p.UpdatedAt = q.CompiledAt

	if sub.Alert == nil {
		return false, nil
	}
	for _, a := range s.alerts {
		if a.PatientID == q.PatientID && !s.claimed[a.ID].Load() {
			return false, nil
		}
	}
	s.alerts[sub.Alert.ID] = copyAlert(sub.Alert)
	s.claimed[sub.Alert.ID] = new(atomic.Bool)
	return true, nil
}

// -- Questionnaires --

func (s *Store) GetQuestionnaire(_ context.Context, id uuid.UUID) (*triage.Questionnaire, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questionnaires[id]
	if !ok {
		return nil, apperr.NotFound("questionnaire", id)
	}
	return copyQuestionnaire(q), nil
}

func (s *Store) filterQuestionnaires(keep func(*triage.Questionnaire) bool) []*triage.Questionnaire {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.Questionnaire
	for _, q := range s.questionnaires {
		if keep(q) {
			out = append(out, copyQuestionnaire(q))
		}
	}
	return out
}

func (s *Store) ListQuestionnairesByPatient(_ context.Context, patientID uuid.UUID, p pagination.Params) ([]*triage.Questionnaire, int, error) {
	list := s.filterQuestionnaires(func(q *triage.Questionnaire) bool { return q.PatientID == patientID })
	sort.Slice(list, func(i, j int) bool { return list[i].CompiledAt.After(list[j].CompiledAt) })
	page, total := pagination.Slice(list, p)
	return page, total, nil
}

func (s *Store) ListPendingInvalidations(_ context.Context, p pagination.Params) ([]*triage.Questionnaire, int, error) {
	list := s.filterQuestionnaires((*triage.Questionnaire).InvalidationPending)
	sort.Slice(list, func(i, j int) bool {
		return list[i].InvalidationRequestedAt.Before(*list[j].InvalidationRequestedAt)
	})
	page, total := pagination.Slice(list, p)
	return page, total, nil
}

func (s *Store) QuestionnaireDates(_ context.Context, patientID uuid.UUID) ([]time.Time, error) {
	list := s.filterQuestionnaires(func(q *triage.Questionnaire) bool {
		return q.PatientID == patientID && !q.Invalidated
	})
	dates := make([]time.Time, len(list))
	for i, q := range list {
		dates[i] = q.CompiledAt
	}
	return dates, nil
}

// update applies mutate to questionnaire id when guard passes, all under the
// write lock.
func (s *Store) update(id uuid.UUID, guard func(*triage.Questionnaire) error, mutate func(*triage.Questionnaire)) (*triage.Questionnaire, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questionnaires[id]
	if !ok {
		return nil, apperr.NotFound("questionnaire", id)
	}
	if err := guard(q); err != nil {
		return nil, err
	}
	mutate(q)
	return copyQuestionnaire(q), nil
}

func (s *Store) MarkReviewed(_ context.Context, id, psychologistID uuid.UUID, at time.Time) (*triage.Questionnaire, error) {
	return s.update(id, triage.CanReview, func(q *triage.Questionnaire) {
		q.Reviewed = true
		q.ReviewingPsychologistID = ptr(psychologistID)
		q.ReviewedAt = ptr(at)
	})
}

func (s *Store) ClearReview(_ context.Context, id uuid.UUID) (*triage.Questionnaire, uuid.UUID, error) {
	var displaced uuid.UUID
	q, err := s.update(id, triage.CanCancelReview, func(q *triage.Questionnaire) {
		if q.ReviewingPsychologistID != nil {
			displaced = *q.ReviewingPsychologistID
		}
		q.Reviewed = false
		q.ReviewingPsychologistID = nil
		q.ReviewedAt = nil
	})
	return q, displaced, err
}

func (s *Store) RequestInvalidation(_ context.Context, id, psychologistID uuid.UUID, notes string, at time.Time) (*triage.Questionnaire, error) {
	return s.update(id, triage.CanRequestInvalidation, func(q *triage.Questionnaire) {
		q.RequestingPsychologistID = ptr(psychologistID)
		q.InvalidationNotes = ptr(notes)
		q.InvalidationRequestedAt = ptr(at)
	})
}

func (s *Store) ResolveInvalidation(_ context.Context, id, adminID uuid.UUID, accept bool, at time.Time) (*triage.Questionnaire, error) {
	return s.update(id, triage.CanResolveInvalidation, func(q *triage.Questionnaire) {
		q.ConfirmingAdminID = ptr(adminID)
		q.InvalidationResolvedAt = ptr(at)
		q.Invalidated = accept
	})
}

// -- Alerts --

func (s *Store) ListOpenAlerts(_ context.Context) ([]*triage.ClinicalAlert, error) {
	s.mu.RLock()
	var open []*triage.ClinicalAlert
	for id, a := range s.alerts {
		if !s.claimed[id].Load() {
			open = append(open, copyAlert(a))
		}
	}
	s.mu.RUnlock()

	sort.Slice(open, func(i, j int) bool {
		if !open[i].RaisedAt.Equal(open[j].RaisedAt) {
			return open[i].RaisedAt.Before(open[j].RaisedAt)
		}
		return open[i].ID.String() < open[j].ID.String()
	})
	return open, nil
}

func (s *Store) ClaimAlert(_ context.Context, alertID, psychologistID uuid.UUID, at time.Time) (*triage.ClinicalAlert, error) {
	s.mu.RLock()
	flag, ok := s.claimed[alertID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("clinical alert", alertID)
	}
	if !flag.CompareAndSwap(false, true) {
		return nil, apperr.Conflict("alert already accepted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.alerts[alertID]
	a.Accepted = true
	a.AcceptingPsychologistID = ptr(psychologistID)
	a.AcceptedAt = ptr(at)
	if p, ok := s.patients[a.PatientID]; ok && p.PsychologistID == nil {
		p.PsychologistID = ptr(psychologistID)
		p.UpdatedAt = at
	}
	return copyAlert(a), nil
}

// -- Badges --

func (s *Store) AwardBadges(_ context.Context, patientID uuid.UUID, names []string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := make(map[string]bool, len(s.badges[patientID]))
	for _, r := range s.badges[patientID] {
		held[r.BadgeName] = true
	}
	var awarded []string
	for _, name := range names {
		if held[name] {
			continue
		}
		held[name] = true
		s.badges[patientID] = append(s.badges[patientID], triage.AcquisitionRecord{
			PatientID: patientID, BadgeName: name, AwardedAt: at,
		})
		awarded = append(awarded, name)
	}
	return awarded, nil
}

func (s *Store) ListBadges(_ context.Context, patientID uuid.UUID) ([]triage.AcquisitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]triage.AcquisitionRecord{}, s.badges[patientID]...), nil
}
