// Package notification delivers in-app notifications raised by clinical
// workflow transitions: a persisted inbox per actor or role pool, and an
// optional Kafka fan-out for downstream mail/SMS gateways.
package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/platform/auth"
)

type Category string

const (
	CategoryClinicalAlert       Category = "clinical_alert"
	CategoryAlertAccepted       Category = "alert_accepted"
	CategoryInvalidationRequest Category = "invalidation_request"
	CategoryInvalidationOutcome Category = "invalidation_outcome"
	CategoryReviewed            Category = "questionnaire_reviewed"
	CategoryReviewCancelled     Category = "review_cancelled"
	CategoryBadge               Category = "badge"
)

// Notification is an inbox entry. A nil RecipientID addresses every actor
// holding RecipientRole; such pool entries share one read flag.
type Notification struct {
	ID            uuid.UUID  `json:"id"`
	RecipientID   uuid.UUID  `json:"recipient_id"`
	RecipientRole auth.Role  `json:"recipient_role"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	Category      Category   `json:"category"`
	SentAt        time.Time  `json:"sent_at"`
	Read          bool       `json:"read"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
}

func (n *Notification) Broadcast() bool { return n.RecipientID == uuid.Nil }

// VisibleTo reports whether a may read n.
func (n *Notification) VisibleTo(a auth.Actor) bool {
	if n.RecipientRole != a.Role {
		return false
	}
	return n.Broadcast() || n.RecipientID == a.ID
}

// Message is a request to notify someone, rendered through a template before
// it becomes a Notification.
type Message struct {
	RecipientID   uuid.UUID
	RecipientRole auth.Role
	Template      string
	Data          map[string]string
}

// ToActor addresses a single actor.
func ToActor(id uuid.UUID, role auth.Role, template string, data map[string]string) Message {
	return Message{RecipientID: id, RecipientRole: role, Template: template, Data: data}
}

// ToPool addresses every actor holding role.
func ToPool(role auth.Role, template string, data map[string]string) Message {
	return Message{RecipientID: uuid.Nil, RecipientRole: role, Template: template, Data: data}
}
