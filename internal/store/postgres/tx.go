package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vmtien/bidhub/internal/domain"
)

// tx implements domain.Tx on a pgx transaction. LockAuction takes the row
// lock (FOR UPDATE) that serializes every concurrent writer of the same
// auction until Commit or Rollback.
type tx struct {
	tx pgx.Tx
}

func (t *tx) LockAuction(ctx context.Context, id int64) (domain.Auction, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE id = $1 FOR UPDATE`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: lock auction %d: %w", id, err)
	}
	return a, nil
}

func (t *tx) GetListing(ctx context.Context, listingID int64) (domain.Listing, error) {
	var l domain.Listing
	var status string
	err := t.tx.QueryRow(ctx,
		`SELECT id, status FROM listings WHERE id = $1`, listingID,
	).Scan(&l.ID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", listingID, err)
	}
	l.Status = domain.ListingStatus(status)
	return l, nil
}

func (t *tx) GetMembership(ctx context.Context, userID, auctionID int64) (domain.Membership, error) {
	var m domain.Membership
	err := t.tx.QueryRow(ctx,
		`SELECT user_id, auction_id, last_bid_price, joined_at, updated_at
		 FROM memberships WHERE user_id = $1 AND auction_id = $2`,
		userID, auctionID,
	).Scan(&m.UserID, &m.AuctionID, &m.LastBidPrice, &m.JoinedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Membership{}, domain.ErrNotFound
		}
		return domain.Membership{}, fmt.Errorf("postgres: get membership: %w", err)
	}
	return m, nil
}

func (t *tx) ListMemberships(ctx context.Context, auctionID int64) ([]domain.Membership, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT user_id, auction_id, last_bid_price, joined_at, updated_at
		 FROM memberships WHERE auction_id = $1 ORDER BY user_id`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list memberships: %w", err)
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.UserID, &m.AuctionID, &m.LastBidPrice, &m.JoinedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *tx) UpdateAuctionBid(ctx context.Context, auctionID, winnerID, price int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE auctions SET winner_id = $1, winning_price = $2, updated_at = $3 WHERE id = $4`,
		winnerID, price, at, auctionID)
	if err != nil {
		return fmt.Errorf("postgres: update auction bid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *tx) UpdateMembershipBid(ctx context.Context, userID, auctionID, price int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE memberships SET last_bid_price = $1, updated_at = $2
		 WHERE user_id = $3 AND auction_id = $4`,
		price, at, userID, auctionID)
	if err != nil {
		return fmt.Errorf("postgres: update membership bid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *tx) MarkAuctionLive(ctx context.Context, auctionID int64, startedAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE auctions SET status = 'live', started_at = $1, updated_at = $1 WHERE id = $2`,
		startedAt, auctionID)
	if err != nil {
		return fmt.Errorf("postgres: mark auction live: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *tx) MarkAuctionEnded(ctx context.Context, auctionID int64, endedAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE auctions SET status = 'ended', ended_at = $1, updated_at = $1 WHERE id = $2`,
		endedAt, auctionID)
	if err != nil {
		return fmt.Errorf("postgres: mark auction ended: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *tx) UpdateListingStatus(ctx context.Context, listingID int64, status domain.ListingStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE listings SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), listingID)
	if err != nil {
		return fmt.Errorf("postgres: update listing status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *tx) CreditUser(ctx context.Context, userID, amount int64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wallets (user_id, balance, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()`,
		userID, amount)
	if err != nil {
		return fmt.Errorf("postgres: credit user %d: %w", userID, err)
	}
	return nil
}

func (t *tx) AppendLedger(ctx context.Context, e domain.LedgerEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_entries (user_id, auction_id, amount, kind, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.UserID, e.AuctionID, e.Amount, string(e.Kind), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append ledger: %w", err)
	}
	return nil
}

func (t *tx) MarkDepositRefunded(ctx context.Context, userID, auctionID int64) error {
	return t.markDeposit(ctx, userID, auctionID, domain.DepositStatusRefunded)
}

func (t *tx) MarkDepositApplied(ctx context.Context, userID, auctionID int64) error {
	return t.markDeposit(ctx, userID, auctionID, domain.DepositStatusApplied)
}

func (t *tx) markDeposit(ctx context.Context, userID, auctionID int64, status domain.DepositStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE deposit_orders SET status = $1, updated_at = NOW()
		 WHERE user_id = $2 AND auction_id = $3`,
		string(status), userID, auctionID)
	if err != nil {
		return fmt.Errorf("postgres: mark deposit %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}
