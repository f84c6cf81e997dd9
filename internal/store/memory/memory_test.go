package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmtien/bidhub/internal/domain"
)

func seedAuction(t *testing.T, s *Store) int64 {
	t.Helper()
	ctx := context.Background()
	listingID, err := s.CreateListing(ctx, domain.ListingStatusAuctioning)
	require.NoError(t, err)
	id, err := s.CreateAuction(ctx, domain.Auction{
		ListingID:     listingID,
		SellerID:      9,
		StartingPrice: 1_000_000,
		TargetPrice:   5_000_000,
		DepositAmount: 100_000,
		DurationSec:   120,
		Status:        domain.AuctionStatusVerified,
	})
	require.NoError(t, err)
	return id
}

func TestAddMember(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedAuction(t, s)

	m, err := s.AddMember(ctx, 2, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.UserID)
	assert.Equal(t, id, m.AuctionID)

	// Membership creation also records the paid deposit.
	d, err := s.GetDepositOrder(ctx, 2, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusPaid, d.Status)
	assert.Equal(t, int64(100_000), d.Amount)

	_, err = s.AddMember(ctx, 2, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = s.AddMember(ctx, 9, id)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = s.AddMember(ctx, 2, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTxCommitAppliesStagedWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedAuction(t, s)
	_, err := s.AddMember(ctx, 2, id)
	require.NoError(t, err)

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	a, err := txn.LockAuction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusVerified, a.Status)

	now := time.Now().UTC()
	require.NoError(t, txn.MarkAuctionLive(ctx, id, now))
	require.NoError(t, txn.UpdateAuctionBid(ctx, id, 2, 1_500_000, now))
	require.NoError(t, txn.UpdateMembershipBid(ctx, 2, id, 1_500_000, now))

	// Nothing visible before commit.
	before, err := s.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusVerified, before.Status)
	assert.Nil(t, before.WinnerID)

	require.NoError(t, txn.Commit(ctx))

	after, err := s.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusLive, after.Status)
	require.NotNil(t, after.WinnerID)
	assert.Equal(t, int64(2), *after.WinnerID)
	require.NotNil(t, after.WinningPrice)
	assert.Equal(t, int64(1_500_000), *after.WinningPrice)

	m, err := s.GetMembership(ctx, 2, id)
	require.NoError(t, err)
	require.NotNil(t, m.LastBidPrice)
	assert.Equal(t, int64(1_500_000), *m.LastBidPrice)
}

func TestTxRollbackDiscardsStagedWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedAuction(t, s)
	_, err := s.AddMember(ctx, 2, id)
	require.NoError(t, err)

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = txn.LockAuction(ctx, id)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, txn.UpdateAuctionBid(ctx, id, 2, 1_500_000, now))
	require.NoError(t, txn.CreditUser(ctx, 2, 100_000))
	require.NoError(t, txn.AppendLedger(ctx, domain.LedgerEntry{
		AuctionID: id,
		UserID:    2,
		Amount:    100_000,
		Kind:      domain.LedgerKindDepositRefund,
	}))
	require.NoError(t, txn.Rollback(ctx))

	a, err := s.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, a.WinnerID)

	balance, err := s.GetWalletBalance(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, balance)

	entries, err := s.ListLedger(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTxReadsSeeOwnStagedWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedAuction(t, s)
	_, err := s.AddMember(ctx, 2, id)
	require.NoError(t, err)

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = txn.LockAuction(ctx, id)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, txn.UpdateMembershipBid(ctx, 2, id, 2_000_000, now))
	m, err := txn.GetMembership(ctx, 2, id)
	require.NoError(t, err)
	require.NotNil(t, m.LastBidPrice)
	assert.Equal(t, int64(2_000_000), *m.LastBidPrice)

	listing, err := txn.GetListing(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, txn.UpdateListingStatus(ctx, listing.ID, domain.ListingStatusSold))
	listing, err = txn.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusSold, listing.Status)

	require.NoError(t, txn.Rollback(ctx))
}

func TestLockAuctionSerializes(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedAuction(t, s)

	first, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = first.LockAuction(ctx, id)
	require.NoError(t, err)

	acquired := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		second, err := s.Begin(ctx)
		if !assert.NoError(t, err) {
			return
		}
		_, err = second.LockAuction(ctx, id)
		if !assert.NoError(t, err) {
			return
		}
		close(acquired)
		assert.NoError(t, second.Rollback(ctx))
	}()

	select {
	case <-acquired:
		t.Fatal("second tx acquired the lock while the first holds it")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Rollback(ctx))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second tx never acquired the lock after release")
	}
	wg.Wait()
}

func TestFailNextOpFailsOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedAuction(t, s)
	s.FailNextOp("CreditUser")

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = txn.LockAuction(ctx, id)
	require.NoError(t, err)

	require.Error(t, txn.CreditUser(ctx, 2, 100_000))
	require.NoError(t, txn.CreditUser(ctx, 2, 100_000))
	require.NoError(t, txn.Commit(ctx))

	balance, err := s.GetWalletBalance(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), balance)
}

func TestWriteWithoutLockRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedAuction(t, s)

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	err = txn.UpdateAuctionBid(ctx, id, 2, 1_500_000, time.Now().UTC())
	assert.Error(t, err)
	require.NoError(t, txn.Rollback(ctx))
}
