package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vmtien/bidhub/internal/domain"
)

// closeEffects carries the side effects collected during settlement. They
// are applied only after the transaction commits, so a rolled-back closure
// broadcasts nothing and notifies nobody.
type closeEffects struct {
	outcome       domain.CloseOutcome
	notifications []domain.Notification
}

// CloseAuction settles an auction in its own transaction. It is the entry
// point shared by the expiry timer and the admin forced-close path; the
// target-reached bid path reaches closeLocked directly inside the bid
// transaction. Calling it on an already-ended auction is a no-op that
// returns the recorded terminal state.
func (e *Engine) CloseAuction(ctx context.Context, auctionID int64, reason domain.CloseReason) (domain.CloseOutcome, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return domain.CloseOutcome{}, fmt.Errorf("engine: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := tx.LockAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.CloseOutcome{}, fmt.Errorf("engine: auction %d: %w", auctionID, domain.ErrNotFound)
		}
		return domain.CloseOutcome{}, fmt.Errorf("engine: lock auction %d: %w", auctionID, err)
	}

	effects, err := e.closeLocked(ctx, tx, a, reason)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyEnded) {
			// Idempotence short-circuit: report the terminal state without
			// re-running settlement.
			e.logger.DebugContext(ctx, "close on ended auction ignored",
				slog.Int64("auction_id", auctionID),
				slog.String("reason", string(reason)),
			)
			var endedAt = a.UpdatedAt
			if a.EndedAt != nil {
				endedAt = *a.EndedAt
			}
			return domain.CloseOutcome{
				AuctionID:    auctionID,
				Reason:       reason,
				WinnerID:     a.WinnerID,
				WinningPrice: a.WinningPrice,
				EndedAt:      endedAt,
				AlreadyEnded: true,
			}, nil
		}
		return domain.CloseOutcome{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.CloseOutcome{}, fmt.Errorf("engine: commit close: %w", err)
	}

	e.applyCloseEffects(ctx, effects)
	return effects.outcome, nil
}

// closeLocked runs settlement steps inside a transaction that already holds
// the auction lock. It mutates persistent state and collects post-commit
// effects; it never dispatches anything itself.
//
// Steps: idempotence guard, end the auction, close the listing, refund every
// losing member's deposit with a ledger entry, mark the winner's deposit as
// applied, and stage one notification per affected party.
func (e *Engine) closeLocked(ctx context.Context, tx domain.Tx, a domain.Auction, reason domain.CloseReason) (*closeEffects, error) {
	if a.Status == domain.AuctionStatusEnded {
		return nil, domain.ErrAlreadyEnded
	}
	if a.Status != domain.AuctionStatusLive {
		return nil, &domain.StateError{AuctionID: a.ID, Status: a.Status}
	}

	now := e.now()
	if err := tx.MarkAuctionEnded(ctx, a.ID, now); err != nil {
		return nil, fmt.Errorf("engine: mark ended: %w", err)
	}

	listingStatus := domain.ListingStatusClosed
	if a.WinnerID != nil {
		listingStatus = domain.ListingStatusSold
	}
	if err := tx.UpdateListingStatus(ctx, a.ListingID, listingStatus); err != nil {
		return nil, fmt.Errorf("engine: update listing: %w", err)
	}

	members, err := tx.ListMemberships(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("engine: list memberships: %w", err)
	}

	effects := &closeEffects{
		outcome: domain.CloseOutcome{
			AuctionID:    a.ID,
			Reason:       reason,
			WinnerID:     a.WinnerID,
			WinningPrice: a.WinningPrice,
			EndedAt:      now,
		},
	}

	for _, m := range members {
		if a.WinnerID != nil && m.UserID == *a.WinnerID {
			continue
		}
		if err := tx.CreditUser(ctx, m.UserID, a.DepositAmount); err != nil {
			return nil, fmt.Errorf("engine: refund user %d: %w", m.UserID, err)
		}
		if err := tx.AppendLedger(ctx, domain.LedgerEntry{
			UserID:    m.UserID,
			AuctionID: a.ID,
			Amount:    a.DepositAmount,
			Kind:      domain.LedgerKindDepositRefund,
			CreatedAt: now,
		}); err != nil {
			return nil, fmt.Errorf("engine: ledger refund user %d: %w", m.UserID, err)
		}
		if err := tx.MarkDepositRefunded(ctx, m.UserID, a.ID); err != nil {
			return nil, fmt.Errorf("engine: mark deposit refunded user %d: %w", m.UserID, err)
		}
		effects.notifications = append(effects.notifications, domain.Notification{
			UserID:    m.UserID,
			Kind:      domain.NotificationKindLostRefund,
			Message:   fmt.Sprintf("Auction %d has ended. Your deposit of %d has been refunded to your balance.", a.ID, a.DepositAmount),
			ListingID: a.ListingID,
		})
	}

	if a.WinnerID != nil {
		winner := *a.WinnerID
		if err := tx.MarkDepositApplied(ctx, winner, a.ID); err != nil {
			return nil, fmt.Errorf("engine: mark deposit applied user %d: %w", winner, err)
		}
		if err := tx.AppendLedger(ctx, domain.LedgerEntry{
			UserID:    winner,
			AuctionID: a.ID,
			Amount:    a.DepositAmount,
			Kind:      domain.LedgerKindDepositApplied,
			CreatedAt: now,
		}); err != nil {
			return nil, fmt.Errorf("engine: ledger applied user %d: %w", winner, err)
		}
		effects.notifications = append(effects.notifications, domain.Notification{
			UserID:    winner,
			Kind:      domain.NotificationKindWon,
			Message:   fmt.Sprintf("You won auction %d at a final price of %d. Your deposit counts toward the purchase.", a.ID, *a.WinningPrice),
			ListingID: a.ListingID,
		})
	}

	return effects, nil
}

// applyCloseEffects runs after the settlement transaction committed: cancel
// the pending timer, broadcast the closure, queue notifications, audit.
func (e *Engine) applyCloseEffects(ctx context.Context, effects *closeEffects) {
	out := effects.outcome

	if e.timers != nil {
		e.timers.Disarm(out.AuctionID)
	}

	e.publish(ctx, domain.EventTypeClosed, out.AuctionID, domain.Closed{
		Reason:       out.Reason,
		WinnerID:     out.WinnerID,
		WinningPrice: out.WinningPrice,
	})

	for _, n := range effects.notifications {
		e.queueNotification(n)
	}

	detail := map[string]any{
		"auction_id": out.AuctionID,
		"reason":     string(out.Reason),
	}
	if out.WinnerID != nil {
		detail["winner_id"] = *out.WinnerID
		detail["winning_price"] = *out.WinningPrice
	}
	e.auditLog(ctx, "auction_closed", detail)

	e.logger.InfoContext(ctx, "auction closed",
		slog.Int64("auction_id", out.AuctionID),
		slog.String("reason", string(out.Reason)),
	)
}
