package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultSendTimeout = 10 * time.Second

// Dispatcher renders messages and fans them out to every channel in the
// background. Callers never see delivery errors; they are logged and counted.
type Dispatcher struct {
	templates *TemplateEngine
	channels  []Channel
	logger    zerolog.Logger
	metrics   *Metrics
	timeout   time.Duration
	now       func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(tpl *TemplateEngine, logger zerolog.Logger, metrics *Metrics, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		templates: tpl,
		channels:  channels,
		logger:    logger.With().Str("component", "notification").Logger(),
		metrics:   metrics,
		timeout:   defaultSendTimeout,
		now:       time.Now,
	}
}

// Deliver renders msg and sends it on every channel without blocking the
// caller. The request context's values are kept but its cancellation is not,
// so a finished HTTP request does not abort delivery.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) {
	n, err := d.render(msg)
	if err != nil {
		d.metrics.Failed.WithLabelValues("render").Inc()
		d.logger.Error().Err(err).Str("template", msg.Template).Msg("render notification")
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn().Str("notification_id", n.ID.String()).Msg("dispatcher closed, notification dropped")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.send(context.WithoutCancel(ctx), n)
	}()
}

func (d *Dispatcher) render(msg Message) (*Notification, error) {
	if !msg.RecipientRole.Valid() {
		return nil, fmt.Errorf("recipient role %q is not valid", msg.RecipientRole)
	}
	title, body, cat, err := d.templates.Render(msg.Template, msg.Data)
	if err != nil {
		return nil, err
	}
	return &Notification{
		ID:            uuid.New(),
		RecipientID:   msg.RecipientID,
		RecipientRole: msg.RecipientRole,
		Title:         title,
		Body:          body,
		Category:      cat,
		SentAt:        d.now().UTC(),
	}, nil
}

func (d *Dispatcher) send(ctx context.Context, n *Notification) {
	for _, ch := range d.channels {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		start := time.Now()
		err := ch.Send(sendCtx, n)
		cancel()
		d.metrics.Duration.WithLabelValues(ch.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			d.metrics.Failed.WithLabelValues(ch.Name()).Inc()
			d.logger.Error().Err(err).
				Str("channel", ch.Name()).
				Str("notification_id", n.ID.String()).
				Str("category", string(n.Category)).
				Msg("deliver notification")
			continue
		}
		d.metrics.Delivered.WithLabelValues(ch.Name(), string(n.Category)).Inc()
	}
}

// Close stops accepting messages and waits for in-flight deliveries until ctx
// expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notifications: %w", ctx.Err())
	}
}

// Flush waits for deliveries started so far. Unlike Close it keeps the
// dispatcher open.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}
