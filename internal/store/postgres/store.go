package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vmtien/bidhub/internal/domain"
)

// Store implements domain.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Begin opens a database transaction.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &tx{tx: pgtx}, nil
}

const auctionCols = `id, listing_id, seller_id, starting_price, original_price,
	target_price, deposit_amount, bid_step, duration_sec, status,
	started_at, ended_at, winner_id, winning_price, created_at, updated_at`

func scanAuction(scanner interface{ Scan(dest ...any) error }) (domain.Auction, error) {
	var a domain.Auction
	var status string
	err := scanner.Scan(
		&a.ID, &a.ListingID, &a.SellerID, &a.StartingPrice, &a.OriginalPrice,
		&a.TargetPrice, &a.DepositAmount, &a.BidStep, &a.DurationSec, &status,
		&a.StartedAt, &a.EndedAt, &a.WinnerID, &a.WinningPrice, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	a.Status = domain.AuctionStatus(status)
	return a, nil
}

// GetAuction retrieves a single auction by id.
func (s *Store) GetAuction(ctx context.Context, id int64) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auctionCols+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %d: %w", id, err)
	}
	return a, nil
}

// GetMembership retrieves the membership for (userID, auctionID).
func (s *Store) GetMembership(ctx context.Context, userID, auctionID int64) (domain.Membership, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, auction_id, last_bid_price, joined_at, updated_at
		 FROM memberships WHERE user_id = $1 AND auction_id = $2`,
		userID, auctionID)

	var m domain.Membership
	err := row.Scan(&m.UserID, &m.AuctionID, &m.LastBidPrice, &m.JoinedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Membership{}, domain.ErrNotFound
		}
		return domain.Membership{}, fmt.Errorf("postgres: get membership: %w", err)
	}
	return m, nil
}

// ListLiveAuctions returns every auction in the live status, used by timer
// recovery at startup.
func (s *Store) ListLiveAuctions(ctx context.Context) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE status = 'live' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list live auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan live auction: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Snapshot builds the gateway join snapshot for one auction.
func (s *Store) Snapshot(ctx context.Context, auctionID int64) (domain.AuctionSnapshot, error) {
	a, err := s.GetAuction(ctx, auctionID)
	if err != nil {
		return domain.AuctionSnapshot{}, err
	}

	var members int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memberships WHERE auction_id = $1`, auctionID,
	).Scan(&members); err != nil {
		return domain.AuctionSnapshot{}, fmt.Errorf("postgres: count members: %w", err)
	}

	remaining := int64(0)
	if a.Status == domain.AuctionStatusLive {
		if r := a.Remaining(time.Now().UTC()); r > 0 {
			remaining = int64(r.Seconds())
		}
	}
	return domain.AuctionSnapshot{
		AuctionID:        a.ID,
		Status:           a.Status,
		StartingPrice:    a.StartingPrice,
		TargetPrice:      a.TargetPrice,
		CurrentPrice:     a.CurrentPrice(),
		WinnerID:         a.WinnerID,
		MemberCount:      members,
		RemainingSeconds: remaining,
	}, nil
}

// GetWalletBalance returns the user's credit balance, zero when no wallet
// row exists yet.
func (s *Store) GetWalletBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1`, userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get wallet %d: %w", userID, err)
	}
	return balance, nil
}

// ListLedger returns the ledger entries written for an auction.
func (s *Store) ListLedger(ctx context.Context, auctionID int64) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, auction_id, amount, kind, created_at
		 FROM ledger_entries WHERE auction_id = $1 ORDER BY id`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.UserID, &e.AuctionID, &e.Amount, &kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		e.Kind = domain.LedgerKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateListing inserts a listing row and returns its id.
func (s *Store) CreateListing(ctx context.Context, status domain.ListingStatus) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO listings (status) VALUES ($1) RETURNING id`, string(status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create listing: %w", err)
	}
	return id, nil
}

// CreateAuction inserts an auction and returns its id. Zero-value status
// defaults to draft.
func (s *Store) CreateAuction(ctx context.Context, a domain.Auction) (int64, error) {
	status := a.Status
	if status == "" {
		status = domain.AuctionStatusDraft
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO auctions (
			listing_id, seller_id, starting_price, original_price, target_price,
			deposit_amount, bid_step, duration_sec, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		a.ListingID, a.SellerID, a.StartingPrice, a.OriginalPrice, a.TargetPrice,
		a.DepositAmount, a.BidStep, a.DurationSec, string(status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create auction: %w", err)
	}
	return id, nil
}

// AddMember records a confirmed deposit: the membership row plus the paid
// deposit order, atomically. The seller cannot join their own auction and
// duplicate joins are rejected.
func (s *Store) AddMember(ctx context.Context, userID, auctionID int64) (domain.Membership, error) {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Membership{}, fmt.Errorf("postgres: begin add member: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	var sellerID, deposit int64
	err = pgtx.QueryRow(ctx,
		`SELECT seller_id, deposit_amount FROM auctions WHERE id = $1`, auctionID,
	).Scan(&sellerID, &deposit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Membership{}, domain.ErrNotFound
		}
		return domain.Membership{}, fmt.Errorf("postgres: read auction %d: %w", auctionID, err)
	}
	if userID == sellerID {
		return domain.Membership{}, fmt.Errorf("postgres: seller cannot join own auction: %w", domain.ErrForbidden)
	}

	var m domain.Membership
	err = pgtx.QueryRow(ctx,
		`INSERT INTO memberships (user_id, auction_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id, auction_id) DO NOTHING
		 RETURNING user_id, auction_id, last_bid_price, joined_at, updated_at`,
		userID, auctionID,
	).Scan(&m.UserID, &m.AuctionID, &m.LastBidPrice, &m.JoinedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Membership{}, fmt.Errorf("postgres: membership: %w", domain.ErrAlreadyExists)
		}
		return domain.Membership{}, fmt.Errorf("postgres: insert membership: %w", err)
	}

	if _, err := pgtx.Exec(ctx,
		`INSERT INTO deposit_orders (user_id, auction_id, amount, status)
		 VALUES ($1, $2, $3, 'paid')`,
		userID, auctionID, deposit,
	); err != nil {
		return domain.Membership{}, fmt.Errorf("postgres: insert deposit order: %w", err)
	}

	if err := pgtx.Commit(ctx); err != nil {
		return domain.Membership{}, fmt.Errorf("postgres: commit add member: %w", err)
	}
	return m, nil
}

// Compile-time interface check.
var _ domain.Store = (*Store)(nil)
