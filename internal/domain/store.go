package domain

import (
	"context"
	"time"
)

// Store is the persistence contract the engine consumes. Implementations
// must provide transactional read-modify-write with exclusive acquisition of
// a single auction's mutable fields for the duration of a Tx (row lock,
// keyed mutex, or equivalent).
type Store interface {
	// Begin opens a transaction. The caller must Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)

	// Non-transactional reads used by the gateway and admin surface.
	GetAuction(ctx context.Context, id int64) (Auction, error)
	GetMembership(ctx context.Context, userID, auctionID int64) (Membership, error)
	ListLiveAuctions(ctx context.Context) ([]Auction, error)
	Snapshot(ctx context.Context, auctionID int64) (AuctionSnapshot, error)
	GetWalletBalance(ctx context.Context, userID int64) (int64, error)
	ListLedger(ctx context.Context, auctionID int64) ([]LedgerEntry, error)

	// Lifecycle hooks driven by the external marketplace layer (listing
	// creation, admin verification, deposit confirmation).
	CreateListing(ctx context.Context, status ListingStatus) (int64, error)
	CreateAuction(ctx context.Context, a Auction) (int64, error)
	AddMember(ctx context.Context, userID, auctionID int64) (Membership, error)
}

// Tx is one atomic unit of work. LockAuction must be called first: it takes
// the exclusive per-auction lock that serializes concurrent bids and the
// bid/timer settlement race, and every later write stays under that lock
// until Commit or Rollback.
type Tx interface {
	LockAuction(ctx context.Context, id int64) (Auction, error)
	GetListing(ctx context.Context, listingID int64) (Listing, error)
	GetMembership(ctx context.Context, userID, auctionID int64) (Membership, error)
	ListMemberships(ctx context.Context, auctionID int64) ([]Membership, error)

	UpdateAuctionBid(ctx context.Context, auctionID, winnerID, price int64, at time.Time) error
	UpdateMembershipBid(ctx context.Context, userID, auctionID, price int64, at time.Time) error
	MarkAuctionLive(ctx context.Context, auctionID int64, startedAt time.Time) error
	MarkAuctionEnded(ctx context.Context, auctionID int64, endedAt time.Time) error
	UpdateListingStatus(ctx context.Context, listingID int64, status ListingStatus) error

	CreditUser(ctx context.Context, userID, amount int64) error
	AppendLedger(ctx context.Context, e LedgerEntry) error
	MarkDepositRefunded(ctx context.Context, userID, auctionID int64) error
	MarkDepositApplied(ctx context.Context, userID, auctionID int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// AuditStore persists an append-only audit log of engine events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
