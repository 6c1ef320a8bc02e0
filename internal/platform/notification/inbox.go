package notification

import (
	"context"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// Channel is one delivery path for a rendered notification.
type Channel interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Inbox persists notifications for in-app reading. Every Inbox is also a
// Channel.
type Inbox interface {
	Channel
	ListFor(ctx context.Context, a auth.Actor, unreadOnly bool, p pagination.Params) ([]*Notification, int, error)
	// MarkRead flags n read. It is a no-op on an already read entry and
	// returns NotFound when a cannot see n.
	MarkRead(ctx context.Context, id uuid.UUID, a auth.Actor) (*Notification, error)
}
