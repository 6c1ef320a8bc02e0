package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/carebridge/internal/domain/triage"
	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/internal/platform/db"
	"github.com/carebridge/carebridge/pkg/pagination"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

// insertErr maps a foreign key violation on patient_id to NotFound.
func insertErr(what string, patientID uuid.UUID, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperr.NotFound("patient", patientID)
	}
	return fmt.Errorf("insert %s: %w", what, err)
}

func (r *repoPG) CreateMood(ctx context.Context, m *MoodEntry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO mood_entry (id, patient_id, mood, note, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.PatientID, m.Mood, m.Note, m.RecordedAt)
	if err != nil {
		return insertErr("mood entry", m.PatientID, err)
	}
	return nil
}

func (r *repoPG) ListMoods(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*MoodEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM mood_entry WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count mood entries: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, mood, note, recorded_at FROM mood_entry
		WHERE patient_id = $1 ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`,
		patientID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list mood entries: %w", err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[MoodEntry])
	if err != nil {
		return nil, 0, fmt.Errorf("scan mood entries: %w", err)
	}
	return items, total, nil
}

func (r *repoPG) CreateDiary(ctx context.Context, d *DiaryEntry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO diary_entry (id, patient_id, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.PatientID, d.Title, d.Body, d.CreatedAt)
	if err != nil {
		return insertErr("diary entry", d.PatientID, err)
	}
	return nil
}

func (r *repoPG) ListDiary(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*DiaryEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM diary_entry WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count diary entries: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, title, body, created_at FROM diary_entry
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list diary entries: %w", err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[DiaryEntry])
	if err != nil {
		return nil, 0, fmt.Errorf("scan diary entries: %w", err)
	}
	return items, total, nil
}

func (r *repoPG) CreateForumPost(ctx context.Context, f *ForumPost) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO forum_post (id, patient_id, topic, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.PatientID, f.Topic, f.Body, f.CreatedAt)
	if err != nil {
		return insertErr("forum post", f.PatientID, err)
	}
	return nil
}

func (r *repoPG) ListForumPosts(ctx context.Context, p pagination.Params) ([]*ForumPost, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM forum_post`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count forum posts: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, topic, body, created_at FROM forum_post
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list forum posts: %w", err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[ForumPost])
	if err != nil {
		return nil, 0, fmt.Errorf("scan forum posts: %w", err)
	}
	return items, total, nil
}

func (r *repoPG) PatientActivity(ctx context.Context, patientID uuid.UUID) (triage.JournalActivity, error) {
	var a triage.JournalActivity
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT recorded_at FROM mood_entry WHERE patient_id = $1`, patientID)
	if err != nil {
		return a, fmt.Errorf("load mood dates: %w", err)
	}
	if a.MoodDates, err = pgx.CollectRows(rows, pgx.RowTo[time.Time]); err != nil {
		return a, fmt.Errorf("scan mood dates: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM diary_entry WHERE patient_id = $1),
		       (SELECT COUNT(*) FROM forum_post WHERE patient_id = $1)`,
		patientID).Scan(&a.DiaryEntries, &a.ForumPosts)
	if err != nil {
		return a, fmt.Errorf("count journal entries: %w", err)
	}
	return a, nil
}
