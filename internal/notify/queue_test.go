package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmtien/bidhub/internal/domain"
)

// recordingSender captures delivered notifications for assertions.
type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	gotCh chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{gotCh: make(chan struct{}, 64)}
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	s.sent = append(s.sent, title+" | "+message)
	s.mu.Unlock()
	s.gotCh <- struct{}{}
	if s.fail {
		return errors.New("send failed")
	}
	return nil
}

func (s *recordingSender) Name() string { return "recorder" }

func (s *recordingSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *recordingSender) waitDelivery(t *testing.T) {
	t.Helper()
	select {
	case <-s.gotCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestQueueDelivers(t *testing.T) {
	sender := newRecordingSender()
	notifier := NewNotifier([]Sender{sender}, nil, discardLogger())
	q := NewQueue(notifier, 8, discardLogger())
	startQueue(t, q)

	q.Queue(domain.Notification{
		UserID:    7,
		ListingID: 3,
		Kind:      domain.NotificationKindWon,
		Message:   "you won at 5000000",
	})
	sender.waitDelivery(t)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Auction won | user 7, listing 3: you won at 5000000", msgs[0])
}

func TestQueueDropsWhenFull(t *testing.T) {
	sender := newRecordingSender()
	notifier := NewNotifier([]Sender{sender}, nil, discardLogger())

	// Queue is never drained, so only the buffer fits.
	q := NewQueue(notifier, 2, discardLogger())
	for i := 0; i < 5; i++ {
		q.Queue(domain.Notification{UserID: int64(i), Kind: domain.NotificationKindLostRefund})
	}

	startQueue(t, q)
	sender.waitDelivery(t)
	sender.waitDelivery(t)

	// Give a dropped third delivery a chance to appear before asserting.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sender.messages(), 2)
}

func TestQueueSenderFailureDoesNotStopDelivery(t *testing.T) {
	sender := newRecordingSender()
	sender.fail = true
	notifier := NewNotifier([]Sender{sender}, nil, discardLogger())
	q := NewQueue(notifier, 8, discardLogger())
	startQueue(t, q)

	q.Queue(domain.Notification{UserID: 1, Kind: domain.NotificationKindWon})
	q.Queue(domain.Notification{UserID: 2, Kind: domain.NotificationKindLostRefund})
	sender.waitDelivery(t)
	sender.waitDelivery(t)

	assert.Len(t, sender.messages(), 2)
}

func TestTitleFor(t *testing.T) {
	assert.Equal(t, "Auction won", titleFor(domain.NotificationKindWon))
	assert.Equal(t, "Auction ended, deposit refunded", titleFor(domain.NotificationKindLostRefund))
	assert.Equal(t, "Auction update", titleFor("something_else"))
}

func TestNotifierEventFilter(t *testing.T) {
	sender := newRecordingSender()
	notifier := NewNotifier([]Sender{sender}, []string{domain.NotificationKindWon}, discardLogger())

	require.NoError(t, notifier.Notify(context.Background(), domain.NotificationKindLostRefund, "t", "m"))
	assert.Empty(t, sender.messages())

	require.NoError(t, notifier.Notify(context.Background(), domain.NotificationKindWon, "t", "m"))
	assert.Len(t, sender.messages(), 1)
}
