package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vmtien/bidhub/internal/domain"
	"github.com/vmtien/bidhub/internal/store/memory"
)

// Fixture values shared across the engine tests.
const (
	sellerID = int64(99)
	bidderA  = int64(2)
	bidderB  = int64(3)

	startPrice  = int64(1_000_000)
	targetPrice = int64(5_000_000)
	deposit     = int64(100_000)
)

// captureBus records every published event envelope in order.
type captureBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *captureBus) Publish(ctx context.Context, channel string, data []byte) error {
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return nil
}

func (b *captureBus) Subscribe(ctx context.Context, pattern string) (<-chan []byte, error) {
	return nil, nil
}

func (b *captureBus) byType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// captureQueue records queued notifications.
type captureQueue struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (q *captureQueue) Queue(n domain.Notification) {
	q.mu.Lock()
	q.notes = append(q.notes, n)
	q.mu.Unlock()
}

func (q *captureQueue) byKind(kind string) []domain.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.Notification
	for _, n := range q.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *memory.Store, *captureBus, *captureQueue) {
	t.Helper()
	store := memory.New()
	bus := &captureBus{}
	queue := &captureQueue{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, bus, queue, nil, logger), store, bus, queue
}

// seedLiveAuction creates a verified auction with the given members and takes
// it live through the engine.
func seedLiveAuction(t *testing.T, eng *Engine, store *memory.Store, members ...int64) int64 {
	t.Helper()
	ctx := context.Background()

	listingID, err := store.CreateListing(ctx, domain.ListingStatusAuctioning)
	require.NoError(t, err)

	id, err := store.CreateAuction(ctx, domain.Auction{
		ListingID:     listingID,
		SellerID:      sellerID,
		StartingPrice: startPrice,
		OriginalPrice: 8_000_000,
		TargetPrice:   targetPrice,
		DepositAmount: deposit,
		BidStep:       100_000,
		DurationSec:   120,
		Status:        domain.AuctionStatusVerified,
	})
	require.NoError(t, err)

	for _, u := range members {
		_, err := store.AddMember(ctx, u, id)
		require.NoError(t, err)
	}

	_, err = eng.StartAuction(ctx, id)
	require.NoError(t, err)
	return id
}
