// Package domain holds the auction engine's entities, events, and the
// store/bus interfaces implemented by the infrastructure packages.
package domain

import "time"

// AuctionStatus tracks the auction lifecycle. Ended and rejected are
// terminal; only verified auctions can go live, and only live auctions
// accept bids or expire.
type AuctionStatus string

const (
	AuctionStatusDraft    AuctionStatus = "draft"
	AuctionStatusVerified AuctionStatus = "verified"
	AuctionStatusRejected AuctionStatus = "rejected"
	AuctionStatusLive     AuctionStatus = "live"
	AuctionStatusEnded    AuctionStatus = "ended"
)

// Auction is a single timed sale-by-bidding event over one listing.
// All amounts are integers in the smallest currency unit.
type Auction struct {
	ID            int64
	ListingID     int64
	SellerID      int64
	StartingPrice int64
	OriginalPrice int64 // reserve price of the listing
	TargetPrice   int64 // a bid at or above this closes the auction immediately
	DepositAmount int64 // entry deposit each participant pays to join
	BidStep       int64
	DurationSec   int64
	Status        AuctionStatus
	StartedAt     *time.Time
	EndedAt       *time.Time
	WinnerID      *int64
	WinningPrice  *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CurrentPrice is the price a new bid must exceed: the committed winning
// price when one exists, the starting price otherwise.
func (a Auction) CurrentPrice() int64 {
	if a.WinningPrice != nil {
		return *a.WinningPrice
	}
	return a.StartingPrice
}

// ExpiresAt returns the wall-clock deadline derived from the start time and
// duration. The zero time is returned when the auction has not started.
func (a Auction) ExpiresAt() time.Time {
	if a.StartedAt == nil {
		return time.Time{}
	}
	return a.StartedAt.Add(time.Duration(a.DurationSec) * time.Second)
}

// Remaining returns the time left until expiry as of now. Negative when the
// deadline has already passed, zero when the auction has not started.
func (a Auction) Remaining(now time.Time) time.Duration {
	if a.StartedAt == nil {
		return 0
	}
	return a.ExpiresAt().Sub(now)
}

// ListingStatus is the slice of the external listing lifecycle the engine
// reads and writes. The rest of the listing entity belongs to the
// marketplace CRUD layer.
type ListingStatus string

const (
	ListingStatusAuctioning ListingStatus = "auctioning"
	ListingStatusSold       ListingStatus = "sold"
	ListingStatusClosed     ListingStatus = "closed"
)

// Listing is the minimal listing projection the engine depends on.
type Listing struct {
	ID     int64
	Status ListingStatus
}

// AuctionSnapshot is the read model sent to a gateway subscriber on join.
type AuctionSnapshot struct {
	AuctionID        int64         `json:"auction_id"`
	Status           AuctionStatus `json:"status"`
	StartingPrice    int64         `json:"starting_price"`
	TargetPrice      int64         `json:"target_price"`
	CurrentPrice     int64         `json:"current_price"`
	WinnerID         *int64        `json:"winner_id"`
	MemberCount      int           `json:"member_count"`
	RemainingSeconds int64         `json:"remaining_seconds"`
}
