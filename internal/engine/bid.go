package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmtien/bidhub/internal/domain"
)

// BidResult reports an accepted bid and, when the bid reached the target
// price, the settlement outcome produced in the same transaction.
type BidResult struct {
	AuctionID int64     `json:"auction_id"`
	BidderID  int64     `json:"bidder_id"`
	Price     int64     `json:"price"`
	PlacedAt  time.Time `json:"placed_at"`
	Closed    bool      `json:"closed"`

	Outcome *domain.CloseOutcome `json:"outcome,omitempty"`
}

// PlaceBid validates and commits one bid. The whole check-and-set runs under
// the exclusive per-auction lock, so concurrent bids serialize at the commit
// boundary and a losing bid observes the winner's committed price in its
// rejection. When amount reaches the target price the auction settles inside
// the same transaction; the broadcast and notifications go out only after
// commit.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID, amount int64) (BidResult, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return BidResult{}, fmt.Errorf("engine: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := tx.LockAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return BidResult{}, fmt.Errorf("engine: auction %d: %w", auctionID, domain.ErrNotFound)
		}
		return BidResult{}, fmt.Errorf("engine: lock auction %d: %w", auctionID, err)
	}
	if a.Status != domain.AuctionStatusLive {
		return BidResult{}, &domain.StateError{AuctionID: auctionID, Status: a.Status}
	}

	listing, err := tx.GetListing(ctx, a.ListingID)
	if err != nil {
		return BidResult{}, fmt.Errorf("engine: listing %d: %w", a.ListingID, err)
	}
	if listing.Status != domain.ListingStatusAuctioning {
		return BidResult{}, &domain.StateError{AuctionID: auctionID, Status: a.Status}
	}

	if _, err := tx.GetMembership(ctx, bidderID, auctionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return BidResult{}, fmt.Errorf("engine: user %d: %w", bidderID, domain.ErrNotAMember)
		}
		return BidResult{}, fmt.Errorf("engine: read membership: %w", err)
	}

	current := a.CurrentPrice()
	if amount <= 0 || amount <= current {
		return BidResult{}, &domain.BidRejectedError{AuctionID: auctionID, CurrentPrice: current}
	}

	now := e.now()
	if err := tx.UpdateAuctionBid(ctx, auctionID, bidderID, amount, now); err != nil {
		return BidResult{}, fmt.Errorf("engine: write bid: %w", err)
	}
	if err := tx.UpdateMembershipBid(ctx, bidderID, auctionID, amount, now); err != nil {
		return BidResult{}, fmt.Errorf("engine: write membership bid: %w", err)
	}

	res := BidResult{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Price:     amount,
		PlacedAt:  now,
	}

	var effects *closeEffects
	if amount >= a.TargetPrice {
		a.WinnerID = &bidderID
		a.WinningPrice = &amount
		effects, err = e.closeLocked(ctx, tx, a, domain.CloseReasonTargetReached)
		if err != nil {
			return BidResult{}, fmt.Errorf("engine: settle on target: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return BidResult{}, fmt.Errorf("engine: commit bid: %w", err)
	}

	// Post-commit side effects only.
	e.publish(ctx, domain.EventTypeBidUpdate, auctionID, domain.BidUpdate{
		WinnerID:     bidderID,
		WinningPrice: amount,
		Timestamp:    now,
	})
	e.auditLog(ctx, "bid_accepted", map[string]any{
		"auction_id": auctionID,
		"bidder_id":  bidderID,
		"price":      amount,
	})
	e.logger.InfoContext(ctx, "bid accepted",
		slog.Int64("auction_id", auctionID),
		slog.Int64("bidder_id", bidderID),
		slog.Int64("price", amount),
	)

	if effects != nil {
		e.applyCloseEffects(ctx, effects)
		res.Closed = true
		res.Outcome = &effects.outcome
	}
	return res, nil
}
