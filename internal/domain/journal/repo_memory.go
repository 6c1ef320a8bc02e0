package journal

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/domain/triage"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// MemoryRepo keeps journal activity in memory. Suitable for dev/testing.
type MemoryRepo struct {
	mu    sync.RWMutex
	moods []MoodEntry
	diary []DiaryEntry
	forum []ForumPost
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) CreateMood(_ context.Context, m *MoodEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moods = append(r.moods, *m)
	return nil
}

func (r *MemoryRepo) ListMoods(_ context.Context, patientID uuid.UUID, p pagination.Params) ([]*MoodEntry, int, error) {
	r.mu.RLock()
	var out []*MoodEntry
	for i := range r.moods {
		if r.moods[i].PatientID == patientID {
			m := r.moods[i]
			out = append(out, &m)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	page, total := pagination.Slice(out, p)
	return page, total, nil
}

func (r *MemoryRepo) CreateDiary(_ context.Context, d *DiaryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diary = append(r.diary, *d)
	return nil
}

func (r *MemoryRepo) ListDiary(_ context.Context, patientID uuid.UUID, p pagination.Params) ([]*DiaryEntry, int, error) {
	r.mu.RLock()
	var out []*DiaryEntry
	for i := range r.diary {
		if r.diary[i].PatientID == patientID {
			d := r.diary[i]
			out = append(out, &d)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	page, total := pagination.Slice(out, p)
	return page, total, nil
}

func (r *MemoryRepo) CreateForumPost(_ context.Context, f *ForumPost) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forum = append(r.forum, *f)
	return nil
}

func (r *MemoryRepo) ListForumPosts(_ context.Context, p pagination.Params) ([]*ForumPost, int, error) {
	r.mu.RLock()
	out := make([]*ForumPost, len(r.forum))
	for i := range r.forum {
		f := r.forum[i]
		out[i] = &f
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	page, total := pagination.Slice(out, p)
	return page, total, nil
}

func (r *MemoryRepo) PatientActivity(_ context.Context, patientID uuid.UUID) (triage.JournalActivity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var a triage.JournalActivity
	for _, m := range r.moods {
		if m.PatientID == patientID {
			a.MoodDates = append(a.MoodDates, m.RecordedAt)
		}
	}
	for _, d := range r.diary {
		if d.PatientID == patientID {
			a.DiaryEntries++
		}
	}
	for _, f := range r.forum {
		if f.PatientID == patientID {
			a.ForumPosts++
		}
	}
	return a, nil
}

var _ Repository = (*MemoryRepo)(nil)
