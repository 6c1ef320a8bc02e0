package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// MemoryInbox keeps notifications in process. It backs the memory store
// driver and tests.
type MemoryInbox struct {
	mu    sync.RWMutex
	items []*Notification
	now   func() time.Time
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{now: time.Now}
}

func (m *MemoryInbox) Name() string { return "inbox" }

func (m *MemoryInbox) Send(_ context.Context, n *Notification) error {
	cp := *n
	m.mu.Lock()
	m.items = append(m.items, &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryInbox) ListFor(_ context.Context, a auth.Actor, unreadOnly bool, p pagination.Params) ([]*Notification, int, error) {
	m.mu.RLock()
	var matched []*Notification
	for _, n := range m.items {
		if !n.VisibleTo(a) || (unreadOnly && n.Read) {
			continue
		}
		cp := *n
		matched = append(matched, &cp)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].SentAt.After(matched[j].SentAt) })
	page, total := pagination.Slice(matched, p)
	return page, total, nil
}

func (m *MemoryInbox) MarkRead(_ context.Context, id uuid.UUID, a auth.Actor) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.items {
		if n.ID != id || !n.VisibleTo(a) {
			continue
		}
		if !n.Read {
			now := m.now().UTC()
			n.Read = true
			n.ReadAt = &now
		}
		cp := *n
		return &cp, nil
	}
	return nil, apperr.NotFound("notification", id)
}

// All returns every stored notification in send order.
func (m *MemoryInbox) All() []Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Notification, len(m.items))
	for i, n := range m.items {
		out[i] = *n
	}
	return out
}
