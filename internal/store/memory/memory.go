// Package memory implements domain.Store entirely in process memory. It
// backs local development mode and the engine test suites. The per-auction
// mutex held from LockAuction until Commit/Rollback gives the same
// serialization guarantee a SELECT ... FOR UPDATE row lock provides in the
// PostgreSQL store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vmtien/bidhub/internal/domain"
)

// Store is a concurrency-safe in-memory implementation of domain.Store.
type Store struct {
	mu sync.Mutex // guards all maps below

	auctions    map[int64]domain.Auction
	listings    map[int64]domain.Listing
	memberships map[membershipKey]domain.Membership
	deposits    map[membershipKey]domain.DepositOrder
	wallets     map[int64]int64
	ledger      []domain.LedgerEntry

	nextAuctionID int64
	nextListingID int64
	nextLedgerID  int64
	nextDepositID int64

	rowLocks map[int64]*sync.Mutex // per-auction exclusive locks

	failOp string // when set, the named Tx operation fails once
}

type membershipKey struct {
	userID    int64
	auctionID int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		auctions:    make(map[int64]domain.Auction),
		listings:    make(map[int64]domain.Listing),
		memberships: make(map[membershipKey]domain.Membership),
		deposits:    make(map[membershipKey]domain.DepositOrder),
		wallets:     make(map[int64]int64),
		rowLocks:    make(map[int64]*sync.Mutex),
	}
}

// FailNextOp makes the next call to the named Tx operation (e.g.
// "CreditUser") return an error, for exercising rollback paths in tests.
func (s *Store) FailNextOp(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOp = op
}

func (s *Store) takeFailure(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOp == op {
		s.failOp = ""
		return fmt.Errorf("memory: injected failure in %s", op)
	}
	return nil
}

func (s *Store) rowLock(auctionID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rowLocks[auctionID]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[auctionID] = l
	}
	return l
}

// Begin opens a transaction. Writes are staged and only applied on Commit.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	return &tx{store: s}, nil
}

// GetAuction returns a copy of the auction outside any transaction.
func (s *Store) GetAuction(ctx context.Context, id int64) (domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

// GetMembership returns the membership for (userID, auctionID).
func (s *Store) GetMembership(ctx context.Context, userID, auctionID int64) (domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipKey{userID, auctionID}]
	if !ok {
		return domain.Membership{}, domain.ErrNotFound
	}
	return m, nil
}

// ListLiveAuctions returns every auction currently in the live status.
func (s *Store) ListLiveAuctions(ctx context.Context) ([]domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if a.Status == domain.AuctionStatusLive {
			out = append(out, a)
		}
	}
	return out, nil
}

// Snapshot builds the gateway join snapshot for one auction.
func (s *Store) Snapshot(ctx context.Context, auctionID int64) (domain.AuctionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return domain.AuctionSnapshot{}, domain.ErrNotFound
	}
	members := 0
	for k := range s.memberships {
		if k.auctionID == auctionID {
			members++
		}
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

// GetWalletBalance returns the user's credit balance (zero for unknown users).
func (s *Store) GetWalletBalance(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[userID], nil
}

// ListLedger returns all ledger entries written for an auction.
func (s *Store) ListLedger(ctx context.Context, auctionID int64) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.ledger {
		if e.AuctionID == auctionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// CreateListing inserts a listing row with the given status.
func (s *Store) CreateListing(ctx context.Context, status domain.ListingStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextListingID++
	s.listings[s.nextListingID] = domain.Listing{ID: s.nextListingID, Status: status}
	return s.nextListingID, nil
}

// CreateAuction inserts an auction. Zero-value status defaults to draft.
func (s *Store) CreateAuction(ctx context.Context, a domain.Auction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuctionID++
	a.ID = s.nextAuctionID
	if a.Status == "" {
		a.Status = domain.AuctionStatusDraft
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.auctions[a.ID] = a
	return a.ID, nil
}

// AddMember records a confirmed deposit: it creates the membership and the
// backing paid deposit order. The seller cannot join their own auction, and
// a user can join at most once.
func (s *Store) AddMember(ctx context.Context, userID, auctionID int64) (domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return domain.Membership{}, domain.ErrNotFound
	}
	if userID == a.SellerID {
		return domain.Membership{}, fmt.Errorf("memory: seller cannot join own auction: %w", domain.ErrForbidden)
	}
	key := membershipKey{userID, auctionID}
	if _, ok := s.memberships[key]; ok {
		return domain.Membership{}, fmt.Errorf("memory: membership: %w", domain.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	m := domain.Membership{UserID: userID, AuctionID: auctionID, JoinedAt: now, UpdatedAt: now}
	s.memberships[key] = m

	s.nextDepositID++
	s.deposits[key] = domain.DepositOrder{
		ID:        s.nextDepositID,
		UserID:    userID,
		AuctionID: auctionID,
		Amount:    a.DepositAmount,
		Status:    domain.DepositStatusPaid,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return m, nil
}

// GetDepositOrder exposes deposit state for assertions and admin tooling.
func (s *Store) GetDepositOrder(ctx context.Context, userID, auctionID int64) (domain.DepositOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[membershipKey{userID, auctionID}]
	if !ok {
		return domain.DepositOrder{}, domain.ErrNotFound
	}
	return d, nil
}

// GetListing returns a listing outside any transaction.
func (s *Store) GetListing(ctx context.Context, id int64) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

// Compile-time interface check.
var _ domain.Store = (*Store)(nil)
