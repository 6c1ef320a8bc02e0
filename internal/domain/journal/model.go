// Package journal records patient self-tracking activity (moods, diary
// entries, forum posts) and feeds it to badge evaluation.
package journal

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/platform/apperr"
)

const (
	MinMood = 1
	MaxMood = 5

	maxTitleLen = 255
	maxBodyLen  = 10000
	maxNoteLen  = 1000
)

type MoodEntry struct {
	ID         uuid.UUID `json:"id"`
	PatientID  uuid.UUID `json:"patient_id"`
	Mood       int       `json:"mood"`
	Note       *string   `json:"note,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type DiaryEntry struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type ForumPost struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	Topic     string    `json:"topic"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type MoodRequest struct {
	Mood int    `json:"mood"`
	Note string `json:"note"`
}

func (r *MoodRequest) Validate() error {
	if r.Mood < MinMood || r.Mood > MaxMood {
		return apperr.Validation("mood must be between %d and %d", MinMood, MaxMood)
	}
	r.Note = strings.TrimSpace(r.Note)
	if utf8.RuneCountInString(r.Note) > maxNoteLen {
		return apperr.Validation("note exceeds %d characters", maxNoteLen)
	}
	return nil
}

type DiaryRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (r *DiaryRequest) Validate() error {
	var err error
	if r.Title, err = requiredText("title", r.Title, maxTitleLen); err != nil {
		return err
	}
	r.Body, err = requiredText("body", r.Body, maxBodyLen)
	return err
}

type ForumRequest struct {
	Topic string `json:"topic"`
	Body  string `json:"body"`
}

func (r *ForumRequest) Validate() error {
	var err error
	if r.Topic, err = requiredText("topic", r.Topic, maxTitleLen); err != nil {
		return err
	}
	r.Body, err = requiredText("body", r.Body, maxBodyLen)
	return err
}

func requiredText(field, s string, limit int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.Validation("%s is required", field)
	}
	if utf8.RuneCountInString(s) > limit {
		return "", apperr.Validation("%s exceeds %d characters", field, limit)
	}
	return s, nil
}
