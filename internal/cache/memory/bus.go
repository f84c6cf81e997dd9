// Package memory provides an in-process SignalBus for single-instance
// deployments and tests. Semantics mirror the Redis bus: fire-and-forget
// publish, pattern subscriptions, subscriber channels closed on context
// cancellation.
package memory

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/vmtien/bidhub/internal/domain"
)

// subscription is one active Subscribe call.
type subscription struct {
	pattern string
	out     chan []byte
}

// Bus is a channel-backed SignalBus. Publish never blocks; messages to slow
// subscribers are dropped, matching the Redis pub/sub contract.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscription]bool
}

// NewBus creates an empty in-process bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscription]bool)}
}

// Publish delivers data to every subscription whose pattern matches channel.
func (b *Bus) Publish(ctx context.Context, channel string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !matches(sub.pattern, channel) {
			continue
		}
		select {
		case sub.out <- data:
		default:
			// Slow subscriber; pub/sub delivery is best-effort.
		}
	}
	return nil
}

// Subscribe returns a channel receiving every message published to channels
// matching the given pattern. The channel closes when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, pattern string) (<-chan []byte, error) {
	sub := &subscription{
		pattern: pattern,
		out:     make(chan []byte, 128),
	}

	b.mu.Lock()
	b.subs[sub] = true
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, sub)
		// Close under the write lock so no publisher can hold the channel.
		close(sub.out)
		b.mu.Unlock()
	}()

	return sub.out, nil
}

// matches reports whether a channel name matches a subscription pattern.
// Patterns without glob characters require an exact match.
func matches(pattern, channel string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == channel
	}
	ok, err := path.Match(pattern, channel)
	return err == nil && ok
}

var _ domain.SignalBus = (*Bus)(nil)
