package triage

import (
	"fmt"
	"strings"

	"github.com/carebridge/carebridge/internal/platform/apperr"
)

// ValidationError lists every problem found in a set of answers.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid answers: " + strings.Join(e.Problems, "; ")
}

// Is makes errors.Is(err, apperr.ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == apperr.ErrValidation
}

// ValidateAnswers checks answers against the typology: every answer names a
// known question at most once, every value lies within the question's range,
// and every required question is answered.
func ValidateAnswers(t *Typology, answers []Answer) error {
	var problems []string
	seen := make(map[string]bool, len(answers))

	for _, a := range answers {
		q, ok := t.question(a.QuestionID)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown question %q", a.QuestionID))
			continue
		}
		if seen[a.QuestionID] {
			problems = append(problems, fmt.Sprintf("question %q answered more than once", a.QuestionID))
			continue
		}
		seen[a.QuestionID] = true
		if a.Value < q.Min || a.Value > q.Max {
			problems = append(problems, fmt.Sprintf("question %q: value %g outside [%g, %g]", q.ID, a.Value, q.Min, q.Max))
		}
	}
	for _, q := range t.Questions {
		if !q.Optional && !seen[q.ID] {
			problems = append(problems, fmt.Sprintf("question %q is required", q.ID))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Score validates answers and aggregates them with the typology's rule.
func Score(t *Typology, answers []Answer) (float64, error) {
	if err := ValidateAnswers(t, answers); err != nil {
		return 0, err
	}

	var total float64
	for _, a := range answers {
		q, _ := t.question(a.QuestionID)
		switch t.Aggregation {
		case AggregationWeightedSum:
			total += a.Value * q.weight()
		default:
			total += a.Value
		}
	}
	return total, nil
}
