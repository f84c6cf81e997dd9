package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmtien/bidhub/internal/domain"
)

// StartAuction transitions a verified auction to live, marks its listing as
// auctioning, and arms the expiry timer. Driven by the admin surface once
// verification (external to this core) has happened.
func (e *Engine) StartAuction(ctx context.Context, auctionID int64) (domain.Auction, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("engine: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := tx.LockAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Auction{}, fmt.Errorf("engine: auction %d: %w", auctionID, domain.ErrNotFound)
		}
		return domain.Auction{}, fmt.Errorf("engine: lock auction %d: %w", auctionID, err)
	}
	if a.Status != domain.AuctionStatusVerified {
		return domain.Auction{}, &domain.StateError{AuctionID: auctionID, Status: a.Status}
	}

	now := e.now()
	if err := tx.MarkAuctionLive(ctx, auctionID, now); err != nil {
		return domain.Auction{}, fmt.Errorf("engine: mark live: %w", err)
	}
	if err := tx.UpdateListingStatus(ctx, a.ListingID, domain.ListingStatusAuctioning); err != nil {
		return domain.Auction{}, fmt.Errorf("engine: update listing: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Auction{}, fmt.Errorf("engine: commit start: %w", err)
	}

	a.Status = domain.AuctionStatusLive
	a.StartedAt = &now

	if e.timers != nil {
		e.timers.Arm(auctionID, time.Duration(a.DurationSec)*time.Second, nil)
	}
	e.auditLog(ctx, "auction_started", map[string]any{"auction_id": auctionID})
	e.logger.InfoContext(ctx, "auction live",
		slog.Int64("auction_id", auctionID),
		slog.Int64("duration_sec", a.DurationSec),
	)
	return a, nil
}
