// Package ws implements the auction gateway: websocket rooms keyed by
// auction id, fed by the signal bus so broadcasts reach subscribers on every
// process instance.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vmtien/bidhub/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 1024

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The gateway sits behind the marketplace's own origin checks.
		return true
	},
}

// client is a single subscriber joined to one auction room.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	auctionID int64
	userID    int64
}

// roomMsg carries a payload together with the room it belongs to.
type roomMsg struct {
	auctionID int64
	data      []byte
}

// Hub manages auction rooms and fans bus events out to their members. Room
// membership requires an auction Membership (or being the seller); a
// broadcast for one auction never reaches subscribers of another.
type Hub struct {
	store  domain.Store
	bus    domain.SignalBus
	logger *slog.Logger

	mu         sync.RWMutex
	rooms      map[int64]map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan roomMsg
}

// NewHub creates a Hub that bridges the signal bus to joined websocket
// clients.
func NewHub(store domain.Store, bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		store:      store,
		bus:        bus,
		logger:     logger.With(slog.String("component", "gateway")),
		rooms:      make(map[int64]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan roomMsg, 256),
	}
}

// Run starts the hub's event loop and the bus subscription. It blocks until
// the context is cancelled, at which point every room is drained.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.subscribeBus(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
				delete(h.rooms, id)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[c.auctionID]
			if !ok {
				room = make(map[*client]bool)
				h.rooms[c.auctionID] = room
			}
			room[c] = true
			size := len(room)
			h.mu.Unlock()
			h.logger.Info("subscriber joined",
				slog.Int64("auction_id", c.auctionID),
				slog.Int64("user_id", c.userID),
				slog.Int("room_size", size),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.rooms[c.auctionID]; ok {
				if _, joined := room[c]; joined {
					delete(room, c)
					close(c.send)
					if len(room) == 0 {
						delete(h.rooms, c.auctionID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Info("subscriber left",
				slog.Int64("auction_id", c.auctionID),
				slog.Int64("user_id", c.userID),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.rooms[msg.auctionID] {
				select {
				case c.send <- msg.data:
				default:
					// Slow subscriber; drop rather than block the room.
					h.logger.Warn("dropping message for slow subscriber",
						slog.Int64("auction_id", msg.auctionID),
						slog.Int64("user_id", c.userID),
					)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeBus consumes every auction channel and routes payloads to the
// right room using the auction id in the event envelope.
func (h *Hub) subscribeBus(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, domain.EventChannelPattern)
	if err != nil {
		h.logger.Error("bus subscription failed", slog.String("error", err.Error()))
		return
	}
	h.logger.Info("subscribed to auction events")

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("bus subscription closed")
				return
			}
			h.Route(data)
		}
	}
}

// Route delivers a raw event payload to the room named in its envelope.
func (h *Hub) Route(data []byte) {
	var env struct {
		AuctionID int64 `json:"auction_id"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.AuctionID == 0 {
		h.logger.Warn("unroutable event payload")
		return
	}
	h.broadcast <- roomMsg{auctionID: env.AuctionID, data: data}
}

// RoomCount returns the number of subscribers currently joined to a room.
func (h *Hub) RoomCount(auctionID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[auctionID])
}

// HandleWS joins the caller to an auction room. Join requires an existing
// Membership (sellers may watch their own auction); anyone else is refused
// before the upgrade. The current auction snapshot is the first frame sent.
// GET /ws/auctions/{id}
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	auctionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || auctionID <= 0 {
		http.Error(w, `{"error":"invalid auction id"}`, http.StatusBadRequest)
		return
	}
	userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, `{"error":"missing user identity"}`, http.StatusUnauthorized)
		return
	}

	if err := h.authorize(r.Context(), auctionID, userID); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, domain.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, `{"error":"not a member of this auction"}`, status)
		return
	}

	snapshot, err := h.store.Snapshot(r.Context(), auctionID)
	if err != nil {
		http.Error(w, `{"error":"snapshot unavailable"}`, http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		auctionID: auctionID,
		userID:    userID,
	}

	if data, err := domain.MarshalEvent(domain.EventTypeSnapshot, auctionID, snapshot); err == nil {
		c.send <- data
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

// authorize checks the caller may join the room: members always, the seller
// of the auction as an observer.
func (h *Hub) authorize(ctx context.Context, auctionID, userID int64) error {
	if _, err := h.store.GetMembership(ctx, userID, auctionID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	a, err := h.store.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if a.SellerID == userID {
		return nil
	}
	return domain.ErrForbidden
}

// readPump consumes the connection until it closes. The gateway accepts no
// client commands; the read loop exists for close and pong handling.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close",
					slog.Int64("auction_id", c.auctionID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// writePump pumps room messages to the connection and keeps it alive with
// periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
