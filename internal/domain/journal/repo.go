package journal

import (
	"context"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/domain/triage"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// Repository persists journal activity. It also serves as the badge
// evaluator's activity source.
type Repository interface {
	triage.ActivitySource

	CreateMood(ctx context.Context, m *MoodEntry) error
	ListMoods(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*MoodEntry, int, error)
	CreateDiary(ctx context.Context, d *DiaryEntry) error
	ListDiary(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*DiaryEntry, int, error)
	CreateForumPost(ctx context.Context, f *ForumPost) error
	// ListForumPosts returns every patient's posts, newest first.
	ListForumPosts(ctx context.Context, p pagination.Params) ([]*ForumPost, int, error)
}
