package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CloseReason records which path settled the auction.
type CloseReason string

const (
	CloseReasonTargetReached CloseReason = "target_reached"
	CloseReasonTimerExpired  CloseReason = "timer_expired"
	CloseReasonManual        CloseReason = "manual"
)

// EventType labels the real-time envelopes broadcast to a room.
type EventType string

const (
	EventTypeBidUpdate EventType = "bid_update"
	EventTypeTimeTick  EventType = "time_tick"
	EventTypeClosed    EventType = "closed"
	EventTypeSnapshot  EventType = "snapshot"
)

// Event is the JSON envelope published on the signal bus and forwarded to
// room subscribers. AuctionID is carried in the envelope so gateway hubs can
// route pattern-subscribed messages to the right room.
type Event struct {
	Type      EventType `json:"type"`
	AuctionID int64     `json:"auction_id"`
	Payload   any       `json:"payload"`
}

// EventChannel returns the bus channel carrying events for one auction.
func EventChannel(auctionID int64) string {
	return fmt.Sprintf("auction:%d", auctionID)
}

// EventChannelPattern matches every auction channel; used by gateway hubs.
const EventChannelPattern = "auction:*"

// BidUpdate announces a newly committed winning bid.
type BidUpdate struct {
	WinnerID     int64     `json:"winner_id"`
	WinningPrice int64     `json:"winning_price"`
	Timestamp    time.Time `json:"timestamp"`
}

// TimeTick is a broadcast-only countdown progress event.
type TimeTick struct {
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// Closed announces settlement. WinnerID and WinningPrice are null when the
// auction expired with no bids.
type Closed struct {
	Reason       CloseReason `json:"reason"`
	WinnerID     *int64      `json:"winner_id"`
	WinningPrice *int64      `json:"winning_price"`
}

// CloseOutcome is what the settlement engine reports back to its caller.
type CloseOutcome struct {
	AuctionID    int64       `json:"auction_id"`
	Reason       CloseReason `json:"reason"`
	WinnerID     *int64      `json:"winner_id"`
	WinningPrice *int64      `json:"winning_price"`
	EndedAt      time.Time   `json:"ended_at"`
	AlreadyEnded bool        `json:"already_ended"`
}

// MarshalEvent encodes an event envelope for publication.
func MarshalEvent(typ EventType, auctionID int64, payload any) ([]byte, error) {
	data, err := json.Marshal(Event{Type: typ, AuctionID: auctionID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("domain: marshal %s event: %w", typ, err)
	}
	return data, nil
}
