package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/internal/domain/triage"
	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// Triage is the part of the triage engine the journal depends on.
type Triage interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*triage.Patient, error)
	EvaluateBadges(ctx context.Context, patientID uuid.UUID) ([]string, error)
}

// Recorded is a stored journal entry and the badges it unlocked.
type Recorded[T any] struct {
	Entry     T        `json:"entry"`
	NewBadges []string `json:"new_badges"`
}

type Service struct {
	repo   Repository
	triage Triage
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, t Triage, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		triage: t,
		logger: logger.With().Str("component", "journal").Logger(),
		now:    time.Now,
	}
}

func (s *Service) requireActive(ctx context.Context, patientID uuid.UUID) error {
	p, err := s.triage.GetPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if !p.Active {
		return apperr.Conflict("patient %s is not active", patientID)
	}
	return nil
}

// awardBadges runs badge evaluation after a write. The entry is already
// stored, so a failure is logged and reported as no new badges.
func (s *Service) awardBadges(ctx context.Context, patientID uuid.UUID, kind string) []string {
	badges, err := s.triage.EvaluateBadges(ctx, patientID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("patient_id", patientID.String()).
			Str("entry", kind).
			Msg("badge evaluation after journal entry")
		return []string{}
	}
	return badges
}

func (s *Service) RecordMood(ctx context.Context, patientID uuid.UUID, req MoodRequest) (*Recorded[*MoodEntry], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireActive(ctx, patientID); err != nil {
		return nil, err
	}
	m := &MoodEntry{
		ID:         uuid.New(),
		PatientID:  patientID,
		Mood:       req.Mood,
		RecordedAt: s.now().UTC(),
	}
	if req.Note != "" {
		m.Note = &req.Note
	}
	if err := s.repo.CreateMood(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("patient_id", patientID.String()).Int("mood", m.Mood).Msg("mood recorded")
	return &Recorded[*MoodEntry]{Entry: m, NewBadges: s.awardBadges(ctx, patientID, "mood")}, nil
}

func (s *Service) ListMoods(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*MoodEntry, int, error) {
	return s.repo.ListMoods(ctx, patientID, p)
}

func (s *Service) RecordDiary(ctx context.Context, patientID uuid.UUID, req DiaryRequest) (*Recorded[*DiaryEntry], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireActive(ctx, patientID); err != nil {
		return nil, err
	}
	d := &DiaryEntry{
		ID:        uuid.New(),
		PatientID: patientID,
		Title:     req.Title,
		Body:      req.Body,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateDiary(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("patient_id", patientID.String()).Msg("diary entry recorded")
	return &Recorded[*DiaryEntry]{Entry: d, NewBadges: s.awardBadges(ctx, patientID, "diary")}, nil
}

func (s *Service) ListDiary(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*DiaryEntry, int, error) {
	return s.repo.ListDiary(ctx, patientID, p)
}

func (s *Service) PublishForumPost(ctx context.Context, patientID uuid.UUID, req ForumRequest) (*Recorded[*ForumPost], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireActive(ctx, patientID); err != nil {
		return nil, err
	}
	f := &ForumPost{
		ID:        uuid.New(),
		PatientID: patientID,
		Topic:     req.Topic,
		Body:      req.Body,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateForumPost(ctx, f); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", patientID.String()).Str("post_id", f.ID.String()).Msg("forum post published")
	return &Recorded[*ForumPost]{Entry: f, NewBadges: s.awardBadges(ctx, patientID, "forum")}, nil
}

func (s *Service) ListForumPosts(ctx context.Context, p pagination.Params) ([]*ForumPost, int, error) {
	return s.repo.ListForumPosts(ctx, p)
}
