package domain

import (
	"context"
	"time"
)

// SignalBus is the pub/sub fabric between the engine and the gateway hubs.
// Publishing is fire-and-forget relative to the caller: it happens only
// after the triggering transaction commits.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of raw payloads. Glob patterns are
	// supported. The channel closes when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed advisory locks so only one process
// instance performs timer-triggered settlement for an auction. Settlement
// itself stays idempotent; the lock just avoids duplicate work.
type LockManager interface {
	// Acquire returns an unlock func, or ErrLockHeld when another holder
	// owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles interactive bid traffic ahead of the engine.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// NotificationQueue accepts settlement notifications for asynchronous
// delivery. Queueing never blocks and never fails the caller.
type NotificationQueue interface {
	Queue(n Notification)
}
