package notification

import (
	"fmt"
	"strings"
	"sync"
)

const (
	TemplateAlertRaised          = "alert-raised"
	TemplateAlertAccepted        = "alert-accepted"
	TemplateInvalidationRequest  = "invalidation-requested"
	TemplateInvalidationAccepted = "invalidation-accepted"
	TemplateInvalidationRejected = "invalidation-rejected"
	TemplateReviewed             = "questionnaire-reviewed"
	TemplateReviewCancelled      = "review-cancelled"
	TemplateBadgesAwarded        = "badges-awarded"
)

type Template struct {
	ID       string
	Category Category
	Title    string
	Body     string
}

// TemplateEngine renders {{key}} placeholders in notification templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range builtInTemplates {
		e.templates[t.ID] = t
	}
	return e
}

var builtInTemplates = []Template{
	{
		ID:       TemplateAlertRaised,
		Category: CategoryClinicalAlert,
		Title:    "New clinical alert: {{priority}}",
		Body:     "Patient {{patient_name}} scored {{score}} on {{typology}} and moved to {{priority}} priority. The alert is open for acceptance.",
	},
	{
		ID:       TemplateAlertAccepted,
		Category: CategoryAlertAccepted,
		Title:    "A psychologist is following up",
		Body:     "Your latest questionnaire has been picked up by a psychologist, who will contact you shortly.",
	},
	{
		ID:       TemplateInvalidationRequest,
		Category: CategoryInvalidationRequest,
		Title:    "Invalidation requested",
		Body:     "Questionnaire {{questionnaire_id}} ({{typology}}) was flagged for invalidation: {{notes}}",
	},
	{
		ID:       TemplateInvalidationAccepted,
		Category: CategoryInvalidationOutcome,
		Title:    "Invalidation accepted",
		Body:     "Your request to invalidate questionnaire {{questionnaire_id}} was accepted.",
	},
	{
		ID:       TemplateInvalidationRejected,
		Category: CategoryInvalidationOutcome,
		Title:    "Invalidation rejected",
		Body:     "Your request to invalidate questionnaire {{questionnaire_id}} was rejected. It cannot be requested again.",
	},
	{
		ID:       TemplateReviewed,
		Category: CategoryReviewed,
		Title:    "Questionnaire reviewed",
		Body:     "A psychologist has reviewed your {{typology}} questionnaire.",
	},
	{
		ID:       TemplateReviewCancelled,
		Category: CategoryReviewCancelled,
		Title:    "Review cancelled",
		Body:     "An administrator cancelled your review of questionnaire {{questionnaire_id}}.",
	},
	{
		ID:       TemplateBadgesAwarded,
		Category: CategoryBadge,
		Title:    "New badge earned",
		Body:     "Well done! You earned: {{badges}}.",
	},
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render fills the template's placeholders from data. Unknown placeholders are
// left untouched.
func (e *TemplateEngine) Render(id string, data map[string]string) (title, body string, cat Category, err error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", "", "", fmt.Errorf("template %q not found", id)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Title), r.Replace(t.Body), t.Category, nil
}
