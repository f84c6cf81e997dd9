package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vmtien/bidhub/internal/domain"
)

// defaultQueueSize bounds the number of undelivered notifications held in
// memory. Settlement never blocks on delivery; overflow is dropped with a log.
const defaultQueueSize = 256

// Queue accepts notifications from the engine and delivers them
// asynchronously through a Notifier. Delivery failures are logged and never
// propagate back into settlement.
type Queue struct {
	notifier *Notifier
	ch       chan domain.Notification
	logger   *slog.Logger
}

// NewQueue creates a Queue delivering through the given notifier. A size of
// zero uses the default buffer.
func NewQueue(notifier *Notifier, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{
		notifier: notifier,
		ch:       make(chan domain.Notification, size),
		logger:   logger.With(slog.String("component", "notify_queue")),
	}
}

// Queue enqueues a notification for asynchronous delivery. It never blocks;
// when the buffer is full the notification is dropped and logged.
func (q *Queue) Queue(n domain.Notification) {
	select {
	case q.ch <- n:
	default:
		q.logger.Warn("notification queue full, dropping",
			slog.Int64("user_id", n.UserID),
			slog.String("kind", n.Kind),
		)
	}
}

// Run delivers queued notifications until the context is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-q.ch:
			q.deliver(ctx, n)
		}
	}
}

// deliver formats and sends one notification.
func (q *Queue) deliver(ctx context.Context, n domain.Notification) {
	title := titleFor(n.Kind)
	message := fmt.Sprintf("user %d, listing %d: %s", n.UserID, n.ListingID, n.Message)

	if err := q.notifier.Notify(ctx, n.Kind, title, message); err != nil {
		q.logger.ErrorContext(ctx, "notification delivery failed",
			slog.Int64("user_id", n.UserID),
			slog.String("kind", n.Kind),
			slog.String("error", err.Error()),
		)
		return
	}
	q.logger.DebugContext(ctx, "notification delivered",
		slog.Int64("user_id", n.UserID),
		slog.String("kind", n.Kind),
	)
}

// titleFor maps a notification kind to a display title.
func titleFor(kind string) string {
	switch kind {
	case domain.NotificationKindWon:
		return "Auction won"
	case domain.NotificationKindLostRefund:
		return "Auction ended, deposit refunded"
	default:
		return "Auction update"
	}
}

var _ domain.NotificationQueue = (*Queue)(nil)
