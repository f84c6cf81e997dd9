package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vmtien/bidhub/internal/domain"
)

// tx stages writes and applies them atomically on Commit while holding the
// per-auction lock taken by LockAuction. Rollback discards the staged state,
// so a failed settlement leaves nothing behind.
type tx struct {
	store *Store

	locked   *lockHandle
	hasLock  bool
	finished bool

	// staged writes
	bidWinnerID    *int64
	bidPrice       *int64
	bidAt          time.Time
	memberBids     map[int64]stagedMemberBid // by user id
	liveAt         *time.Time
	endedAt        *time.Time
	listingUpdates map[int64]domain.ListingStatus
	credits        []stagedCredit
	ledger         []domain.LedgerEntry
	depositMarks   map[int64]domain.DepositStatus // by user id, within the locked auction
}

// lockHandle remembers which per-auction lock this tx holds.
type lockHandle struct {
	id int64
	mu interface{ Unlock() }
}

type stagedMemberBid struct {
	price int64
	at    time.Time
}

type stagedCredit struct {
	userID int64
	amount int64
}

func (t *tx) LockAuction(ctx context.Context, id int64) (domain.Auction, error) {
	if t.finished {
		return domain.Auction{}, fmt.Errorf("memory: tx already finished")
	}
	if t.hasLock {
		return domain.Auction{}, fmt.Errorf("memory: auction already locked in this tx")
	}

	l := t.store.rowLock(id)
	l.Lock()

	t.store.mu.Lock()
	a, ok := t.store.auctions[id]
	t.store.mu.Unlock()
	if !ok {
		l.Unlock()
		return domain.Auction{}, domain.ErrNotFound
	}

	t.locked = &lockHandle{id: id, mu: l}
	t.hasLock = true
	return a, nil
}

func (t *tx) GetListing(ctx context.Context, listingID int64) (domain.Listing, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	l, ok := t.store.listings[listingID]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	if st, ok := t.listingUpdates[listingID]; ok {
		l.Status = st
	}
	return l, nil
}

func (t *tx) GetMembership(ctx context.Context, userID, auctionID int64) (domain.Membership, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	m, ok := t.store.memberships[membershipKey{userID, auctionID}]
	if !ok {
		return domain.Membership{}, domain.ErrNotFound
	}
	if b, ok := t.memberBids[userID]; ok && t.hasLock && auctionID == t.locked.id {
		price := b.price
		m.LastBidPrice = &price
		m.UpdatedAt = b.at
	}
	return m, nil
}

func (t *tx) ListMemberships(ctx context.Context, auctionID int64) ([]domain.Membership, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var out []domain.Membership
	for k, m := range t.store.memberships {
		if k.auctionID != auctionID {
			continue
		}
		if b, ok := t.memberBids[k.userID]; ok {
			price := b.price
			m.LastBidPrice = &price
			m.UpdatedAt = b.at
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *tx) UpdateAuctionBid(ctx context.Context, auctionID, winnerID, price int64, at time.Time) error {
	if err := t.store.takeFailure("UpdateAuctionBid"); err != nil {
		return err
	}
	if err := t.requireLock(auctionID); err != nil {
		return err
	}
	t.bidWinnerID = &winnerID
	t.bidPrice = &price
	t.bidAt = at
	return nil
}

func (t *tx) UpdateMembershipBid(ctx context.Context, userID, auctionID, price int64, at time.Time) error {
	if err := t.store.takeFailure("UpdateMembershipBid"); err != nil {
		return err
	}
	if err := t.requireLock(auctionID); err != nil {
		return err
	}
	if t.memberBids == nil {
		t.memberBids = make(map[int64]stagedMemberBid)
	}
	t.memberBids[userID] = stagedMemberBid{price: price, at: at}
	return nil
}

func (t *tx) MarkAuctionLive(ctx context.Context, auctionID int64, startedAt time.Time) error {
	if err := t.requireLock(auctionID); err != nil {
		return err
	}
	at := startedAt
	t.liveAt = &at
	return nil
}

func (t *tx) MarkAuctionEnded(ctx context.Context, auctionID int64, endedAt time.Time) error {
	if err := t.store.takeFailure("MarkAuctionEnded"); err != nil {
		return err
	}
	if err := t.requireLock(auctionID); err != nil {
		return err
	}
	at := endedAt
	t.endedAt = &at
	return nil
}

func (t *tx) UpdateListingStatus(ctx context.Context, listingID int64, status domain.ListingStatus) error {
	if err := t.store.takeFailure("UpdateListingStatus"); err != nil {
		return err
	}
	if t.listingUpdates == nil {
		t.listingUpdates = make(map[int64]domain.ListingStatus)
	}
	t.listingUpdates[listingID] = status
	return nil
}

func (t *tx) CreditUser(ctx context.Context, userID, amount int64) error {
	if err := t.store.takeFailure("CreditUser"); err != nil {
		return err
	}
	t.credits = append(t.credits, stagedCredit{userID: userID, amount: amount})
	return nil
}

func (t *tx) AppendLedger(ctx context.Context, e domain.LedgerEntry) error {
	if err := t.store.takeFailure("AppendLedger"); err != nil {
		return err
	}
	t.ledger = append(t.ledger, e)
	return nil
}

func (t *tx) MarkDepositRefunded(ctx context.Context, userID, auctionID int64) error {
	if err := t.store.takeFailure("MarkDepositRefunded"); err != nil {
		return err
	}
	return t.markDeposit(userID, auctionID, domain.DepositStatusRefunded)
}

func (t *tx) MarkDepositApplied(ctx context.Context, userID, auctionID int64) error {
	if err := t.store.takeFailure("MarkDepositApplied"); err != nil {
		return err
	}
	return t.markDeposit(userID, auctionID, domain.DepositStatusApplied)
}

func (t *tx) markDeposit(userID, auctionID int64, status domain.DepositStatus) error {
	if err := t.requireLock(auctionID); err != nil {
		return err
	}
	if t.depositMarks == nil {
		t.depositMarks = make(map[int64]domain.DepositStatus)
	}
	t.depositMarks[userID] = status
	return nil
}

func (t *tx) requireLock(auctionID int64) error {
	if !t.hasLock || t.locked.id != auctionID {
		return fmt.Errorf("memory: auction %d not locked in this tx", auctionID)
	}
	return nil
}

// Commit applies every staged write under the store mutex, then releases the
// per-auction lock.
func (t *tx) Commit(ctx context.Context) error {
	if t.finished {
		return fmt.Errorf("memory: tx already finished")
	}
	t.finished = true
	defer t.release()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.hasLock {
		a := s.auctions[t.locked.id]
		if t.bidWinnerID != nil {
			a.WinnerID = t.bidWinnerID
			a.WinningPrice = t.bidPrice
			a.UpdatedAt = t.bidAt
		}
		if t.liveAt != nil {
			a.Status = domain.AuctionStatusLive
			a.StartedAt = t.liveAt
			a.UpdatedAt = *t.liveAt
		}
		if t.endedAt != nil {
			a.Status = domain.AuctionStatusEnded
			a.EndedAt = t.endedAt
			a.UpdatedAt = *t.endedAt
		}
		s.auctions[t.locked.id] = a

		for userID, b := range t.memberBids {
			key := membershipKey{userID, t.locked.id}
			m := s.memberships[key]
			price := b.price
			m.LastBidPrice = &price
			m.UpdatedAt = b.at
			s.memberships[key] = m
		}
		for userID, status := range t.depositMarks {
			key := membershipKey{userID, t.locked.id}
			d := s.deposits[key]
			d.Status = status
			d.UpdatedAt = time.Now().UTC()
			s.deposits[key] = d
		}
	}

	for id, status := range t.listingUpdates {
		l := s.listings[id]
		l.Status = status
		s.listings[id] = l
	}
	for _, c := range t.credits {
		s.wallets[c.userID] += c.amount
	}
	for _, e := range t.ledger {
		s.nextLedgerID++
		e.ID = s.nextLedgerID
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		s.ledger = append(s.ledger, e)
	}

	return nil
}

// Rollback discards staged writes and releases the per-auction lock. Safe to
// call after Commit.
func (t *tx) Rollback(ctx context.Context) error {
	if t.finished {
		return nil
	}
	t.finished = true
	t.release()
	return nil
}

func (t *tx) release() {
	if t.hasLock {
		t.locked.mu.Unlock()
		t.hasLock = false
	}
}
