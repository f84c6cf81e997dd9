// Package timer owns the countdown for every live auction: one handle per
// auction, fired exactly once, cancellable, and rebuilt from the store after
// a process restart.
package timer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vmtien/bidhub/internal/domain"
)

const (
	// fireTimeout bounds the settlement work triggered by one expiry.
	fireTimeout = 30 * time.Second

	// settleRetryDelay is the pause before the single settlement retry.
	settleRetryDelay = 500 * time.Millisecond

	// settleLockTTL is the distributed-lock TTL guarding one expiry across
	// process instances.
	settleLockTTL = 45 * time.Second
)

// Closer is the settlement entry point the registry invokes on expiry.
type Closer interface {
	CloseAuction(ctx context.Context, auctionID int64, reason domain.CloseReason) (domain.CloseOutcome, error)
}

// Registry tracks at most one pending expiry per auction id. Handles live
// only in process memory; Recover derives them again from auction rows.
type Registry struct {
	closer Closer
	store  domain.Store
	bus    domain.SignalBus
	locks  domain.LockManager
	logger *slog.Logger

	tickEvery time.Duration // 0 disables progress ticks

	mu      sync.Mutex
	handles map[int64]*handle
}

// handle is the process-local association of an auction id with its pending
// expiry action and tick loop.
type handle struct {
	timer     *time.Timer
	cancel    context.CancelFunc
	expiresAt time.Time
}

// NewRegistry creates a Registry. Bus and locks may be nil; ticks are
// disabled when tickEvery is zero.
func NewRegistry(closer Closer, store domain.Store, bus domain.SignalBus, locks domain.LockManager, tickEvery time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		closer:    closer,
		store:     store,
		bus:       bus,
		locks:     locks,
		logger:    logger.With(slog.String("component", "timer")),
		tickEvery: tickEvery,
		handles:   make(map[int64]*handle),
	}
}

// Arm schedules a one-shot expiry after remaining. An existing handle for
// the same auction is cancelled first, so at most one timer per auction
// exists. onExpire, when non-nil, runs after successful settlement with the
// close outcome.
func (r *Registry) Arm(auctionID int64, remaining time.Duration, onExpire func(domain.CloseOutcome)) {
	if remaining < 0 {
		remaining = 0
	}

	r.mu.Lock()
	if old, ok := r.handles[auctionID]; ok {
		old.stop()
		delete(r.handles, auctionID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		cancel:    cancel,
		expiresAt: time.Now().Add(remaining),
	}
	h.timer = time.AfterFunc(remaining, func() {
		r.fire(auctionID, onExpire)
	})
	r.handles[auctionID] = h
	r.mu.Unlock()

	if r.tickEvery > 0 {
		go r.runTicks(ctx, auctionID, h.expiresAt)
	}

	r.logger.Info("timer armed",
		slog.Int64("auction_id", auctionID),
		slog.Duration("remaining", remaining),
	)
}

// Disarm cancels the pending expiry for an auction. Calling it for an
// unknown auction is a no-op. If the callback has already started, the
// settlement idempotence guard makes the redundant run harmless.
func (r *Registry) Disarm(auctionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[auctionID]
	if !ok {
		return
	}
	h.stop()
	delete(r.handles, auctionID)
	r.logger.Debug("timer disarmed", slog.Int64("auction_id", auctionID))
}

// Shutdown cancels every pending handle.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.handles {
		h.stop()
		delete(r.handles, id)
	}
}

// Armed reports whether a handle currently exists for the auction.
func (r *Registry) Armed(auctionID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[auctionID]
	return ok
}

func (h *handle) stop() {
	h.timer.Stop()
	h.cancel()
}

// fire runs settlement with reason timer_expired, retrying once on failure.
// After the single retry the auction is left live for manual intervention;
// it is never left half-settled because each attempt is one transaction.
func (r *Registry) fire(auctionID int64, onExpire func(domain.CloseOutcome)) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()
	defer r.Disarm(auctionID)

	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, settleLockKey(auctionID), settleLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				// Another instance is already settling this expiry.
				r.logger.Debug("expiry lock held elsewhere", slog.Int64("auction_id", auctionID))
				return
			}
			r.logger.Warn("expiry lock unavailable, settling anyway",
				slog.Int64("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		} else {
			defer unlock()
		}
	}

	var outcome domain.CloseOutcome
	backoff := retry.WithMaxRetries(1, retry.NewConstant(settleRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		outcome, err = r.closer.CloseAuction(ctx, auctionID, domain.CloseReasonTimerExpired)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("settlement failed after retry, auction left live",
			slog.Int64("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		return
	}

	if outcome.AlreadyEnded {
		r.logger.Debug("expiry raced committed settlement",
			slog.Int64("auction_id", auctionID),
		)
		return
	}

	r.logger.Info("auction expired",
		slog.Int64("auction_id", auctionID),
		slog.String("reason", string(outcome.Reason)),
	)
	if onExpire != nil {
		onExpire(outcome)
	}
}

// runTicks publishes broadcast-only countdown events until the handle is
// cancelled or the deadline passes.
func (r *Registry) runTicks(ctx context.Context, auctionID int64, expiresAt time.Time) {
	if r.bus == nil {
		return
	}
	ticker := time.NewTicker(r.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			remaining := int64(expiresAt.Sub(now).Seconds())
			if remaining <= 0 {
				return
			}
			data, err := domain.MarshalEvent(domain.EventTypeTimeTick, auctionID, domain.TimeTick{RemainingSeconds: remaining})
			if err != nil {
				return
			}
			if err := r.bus.Publish(ctx, domain.EventChannel(auctionID), data); err != nil {
				r.logger.Debug("tick publish failed",
					slog.Int64("auction_id", auctionID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func settleLockKey(auctionID int64) string {
	return domain.EventChannel(auctionID) + ":settle"
}
