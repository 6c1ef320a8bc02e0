package triage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/notification"
)

// Activity is a patient's full history as seen by badge criteria.
type Activity struct {
	JournalActivity
	QuestionnaireDates []time.Time
}

func (a Activity) measure(kind CriterionKind) int {
	switch kind {
	case CriterionMoodEntries:
		return len(a.MoodDates)
	case CriterionMoodStreakDays:
		return longestDailyStreak(a.MoodDates)
	case CriterionDiaryEntries:
		return a.DiaryEntries
	case CriterionForumPosts:
		return a.ForumPosts
	case CriterionQuestionnairesCompleted:
		return len(a.QuestionnaireDates)
	case CriterionQuestionnaireStreakWeeks:
		return longestWeeklyStreak(a.QuestionnaireDates)
	}
	return 0
}

// SatisfiedBadges returns the names of badges whose criterion a meets, sorted.
func SatisfiedBadges(badges []Badge, a Activity) []string {
	var names []string
	for _, b := range badges {
		if a.measure(b.Criterion.Kind) >= b.Criterion.Threshold {
			names = append(names, b.Name)
		}
	}
	sort.Strings(names)
	return names
}

const day = 24 * time.Hour

// longestDailyStreak counts the longest run of consecutive UTC calendar days
// with at least one timestamp.
func longestDailyStreak(ts []time.Time) int {
	return longestRun(ts, func(t time.Time) int64 {
		return t.UTC().Truncate(day).Unix() / int64(day/time.Second)
	})
}

// longestWeeklyStreak counts the longest run of consecutive Monday-based UTC
// weeks with at least one timestamp.
func longestWeeklyStreak(ts []time.Time) int {
	return longestRun(ts, func(t time.Time) int64 {
		t = t.UTC()
		offset := (int(t.Weekday()) + 6) % 7
		monday := time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
		return monday.Unix() / int64(7*day/time.Second)
	})
}

func longestRun(ts []time.Time, bucket func(time.Time) int64) int {
	if len(ts) == 0 {
		return 0
	}
	set := make(map[int64]struct{}, len(ts))
	for _, t := range ts {
		set[bucket(t)] = struct{}{}
	}
	keys := make([]int64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	best, run := 1, 1
	for i := 1; i < len(keys); i++ {
		if keys[i] == keys[i-1]+1 {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}

// EvaluateBadges re-scans the patient's history, awards every satisfied badge
// not yet held and returns the newly awarded names. Running it again without
// new activity returns nothing.
func (s *Service) EvaluateBadges(ctx context.Context, patientID uuid.UUID) ([]string, error) {
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}

	journal, err := s.activity.PatientActivity(ctx, patientID)
	if err != nil {
		return nil, apperr.Internal("load journal activity", err)
	}
	dates, err := s.store.QuestionnaireDates(ctx, patientID)
	if err != nil {
		return nil, apperr.Internal("load questionnaire history", err)
	}

	satisfied := SatisfiedBadges(s.catalog.Badges, Activity{JournalActivity: journal, QuestionnaireDates: dates})
	if len(satisfied) == 0 {
		return []string{}, nil
	}

	awarded, err := s.store.AwardBadges(ctx, patientID, satisfied, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("award badges: %w", err)
	}
	sort.Strings(awarded)
	if len(awarded) == 0 {
		return []string{}, nil
	}

	for _, name := range awarded {
		s.metrics.BadgesAwarded.WithLabelValues(name).Inc()
	}
	s.logger.Info().
		Str("patient_id", patientID.String()).
		Strs("badges", awarded).
		Msg("badges awarded")
	s.notifier.Deliver(ctx, notification.ToActor(patientID, auth.RolePatient,
		notification.TemplateBadgesAwarded, map[string]string{"badges": strings.Join(awarded, ", ")}))

	return awarded, nil
}

func (s *Service) ListBadges(ctx context.Context, patientID uuid.UUID) ([]AcquisitionRecord, error) {
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.store.ListBadges(ctx, patientID)
}
