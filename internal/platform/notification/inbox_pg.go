package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/carebridge/internal/platform/apperr"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/db"
	"github.com/carebridge/carebridge/pkg/pagination"
)

type pgInbox struct{ pool *pgxpool.Pool }

func NewPGInbox(pool *pgxpool.Pool) Inbox {
	return &pgInbox{pool: pool}
}

func (r *pgInbox) Name() string { return "inbox" }

const notificationCols = `id, recipient_id, recipient_role, title, body, category, sent_at, read, read_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.RecipientRole, &n.Title, &n.Body,
		&n.Category, &n.SentAt, &n.Read, &n.ReadAt)
	return &n, err
}

func (r *pgInbox) Send(ctx context.Context, n *Notification) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO notification (`+notificationCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		n.ID, n.RecipientID, n.RecipientRole, n.Title, n.Body, n.Category, n.SentAt, n.Read, n.ReadAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *pgInbox) ListFor(ctx context.Context, a auth.Actor, unreadOnly bool, p pagination.Params) ([]*Notification, int, error) {
	where := `recipient_role = $1 AND recipient_id IN ($2, $3)`
	if unreadOnly {
		where += ` AND NOT read`
	}
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM notification WHERE `+where,
		a.Role, a.ID, uuid.Nil).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT `+notificationCols+` FROM notification WHERE `+where+`
		ORDER BY sent_at DESC LIMIT $4 OFFSET $5`, a.Role, a.ID, uuid.Nil, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *pgInbox) MarkRead(ctx context.Context, id uuid.UUID, a auth.Actor) (*Notification, error) {
	n, err := scanNotification(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE notification SET read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND recipient_role = $2 AND recipient_id IN ($3, $4)
		RETURNING `+notificationCols, id, a.Role, a.ID, uuid.Nil))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("notification", id)
	}
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}
