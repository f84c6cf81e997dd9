// Package engine implements the live-auction core: bid validation and
// commit under the per-auction lock, and the idempotent settlement path both
// closure triggers (winning bid, expiry timer) converge on.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/vmtien/bidhub/internal/domain"
)

// TimerControl is the slice of the timer registry the engine drives: arm on
// go-live, disarm once settlement has committed.
type TimerControl interface {
	Arm(auctionID int64, remaining time.Duration, onExpire func(domain.CloseOutcome))
	Disarm(auctionID int64)
}

// Engine coordinates bids and settlement over the store. Broadcasts and
// notifications are dispatched strictly after commit; a rolled-back
// transaction produces no observable side effects.
type Engine struct {
	store  domain.Store
	bus    domain.SignalBus
	queue  domain.NotificationQueue
	audit  domain.AuditStore
	timers TimerControl
	logger *slog.Logger

	now func() time.Time
}

// New creates an Engine. Bus, queue, and audit may be nil (local/testing
// setups); the timer registry is attached later via WithTimers because the
// registry itself needs the engine as its settlement callback.
func New(store domain.Store, bus domain.SignalBus, queue domain.NotificationQueue, audit domain.AuditStore, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		bus:    bus,
		queue:  queue,
		audit:  audit,
		logger: logger.With(slog.String("component", "engine")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithTimers attaches the timer registry and returns the engine.
func (e *Engine) WithTimers(t TimerControl) *Engine {
	e.timers = t
	return e
}

// publish sends an event envelope on the auction's bus channel. Failures are
// logged and swallowed: broadcasting is fire-and-forget relative to the
// committed transaction that produced the event.
func (e *Engine) publish(ctx context.Context, typ domain.EventType, auctionID int64, payload any) {
	if e.bus == nil {
		return
	}
	data, err := domain.MarshalEvent(typ, auctionID, payload)
	if err != nil {
		e.logger.ErrorContext(ctx, "marshal event failed",
			slog.String("event", string(typ)),
			slog.Int64("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.bus.Publish(ctx, domain.EventChannel(auctionID), data); err != nil {
		e.logger.ErrorContext(ctx, "publish event failed",
			slog.String("event", string(typ)),
			slog.Int64("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
}

// auditLog writes an audit entry, best effort.
func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// queueNotification hands a notification to the async dispatcher.
func (e *Engine) queueNotification(n domain.Notification) {
	if e.queue == nil {
		return
	}
	e.queue.Queue(n)
}
