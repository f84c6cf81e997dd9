package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmtien/bidhub/internal/domain"
	"github.com/vmtien/bidhub/internal/store/memory"
)

func newTestHub(t *testing.T) (*Hub, *memory.Store, *httptest.Server) {
	t.Helper()
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(store, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/auctions/{id}", hub.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return hub, store, srv
}

func seedAuction(t *testing.T, store *memory.Store, sellerID int64, members ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	listingID, err := store.CreateListing(ctx, domain.ListingStatusAuctioning)
	require.NoError(t, err)
	id, err := store.CreateAuction(ctx, domain.Auction{
		ListingID:     listingID,
		SellerID:      sellerID,
		StartingPrice: 1_000_000,
		TargetPrice:   5_000_000,
		DepositAmount: 100_000,
		DurationSec:   120,
		Status:        domain.AuctionStatusLive,
	})
	require.NoError(t, err)
	for _, u := range members {
		_, err := store.AddMember(ctx, u, id)
		require.NoError(t, err)
	}
	return id
}

func dial(t *testing.T, srv *httptest.Server, auctionID, userID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/auctions/" + strconv.FormatInt(auctionID, 10)
	header := http.Header{"X-User-ID": []string{strconv.FormatInt(userID, 10)}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestJoinSendsSnapshot(t *testing.T) {
	hub, store, srv := newTestHub(t)
	id := seedAuction(t, store, 9, 2, 3)

	conn := dial(t, srv, id, 2)

	ev := readEvent(t, conn)
	assert.Equal(t, domain.EventTypeSnapshot, ev.Type)
	assert.Equal(t, id, ev.AuctionID)

	payload, err := json.Marshal(ev.Payload)
	require.NoError(t, err)
	var snap domain.AuctionSnapshot
	require.NoError(t, json.Unmarshal(payload, &snap))
	assert.Equal(t, int64(1_000_000), snap.CurrentPrice)
	assert.Equal(t, 2, snap.MemberCount)

	waitRoom(t, hub, id, 1)
}

func TestJoinRejectsNonMembers(t *testing.T) {
	_, store, srv := newTestHub(t)
	id := seedAuction(t, store, 9, 2)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/auctions/" + strconv.FormatInt(id, 10)

	// Not a member.
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-ID": []string{"50"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Missing identity.
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Unknown auction.
	_, resp, err = websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/auctions/999",
		http.Header{"X-User-ID": []string{"2"}},
	)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSellerMayObserve(t *testing.T) {
	_, store, srv := newTestHub(t)
	id := seedAuction(t, store, 9, 2)

	conn := dial(t, srv, id, 9)
	ev := readEvent(t, conn)
	assert.Equal(t, domain.EventTypeSnapshot, ev.Type)
}

func TestRoomIsolation(t *testing.T) {
	hub, store, srv := newTestHub(t)
	idA := seedAuction(t, store, 9, 2)
	idB := seedAuction(t, store, 9, 3)

	connA := dial(t, srv, idA, 2)
	connB := dial(t, srv, idB, 3)

	// Drain the join snapshots.
	require.Equal(t, domain.EventTypeSnapshot, readEvent(t, connA).Type)
	require.Equal(t, domain.EventTypeSnapshot, readEvent(t, connB).Type)
	waitRoom(t, hub, idA, 1)
	waitRoom(t, hub, idB, 1)

	data, err := domain.MarshalEvent(domain.EventTypeBidUpdate, idA, domain.BidUpdate{
		WinnerID:     2,
		WinningPrice: 2_000_000,
		Timestamp:    time.Now().UTC(),
	})
	require.NoError(t, err)
	hub.Route(data)

	ev := readEvent(t, connA)
	assert.Equal(t, domain.EventTypeBidUpdate, ev.Type)
	assert.Equal(t, idA, ev.AuctionID)

	// The other room receives nothing.
	require.NoError(t, connB.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = connB.ReadMessage()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "timeout") || websocket.IsUnexpectedCloseError(err))
}

// waitRoom polls until the room reaches the wanted subscriber count.
func waitRoom(t *testing.T, hub *Hub, auctionID int64, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.RoomCount(auctionID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %d never reached %d subscribers", auctionID, want)
}
