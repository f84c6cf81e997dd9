package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmtien/bidhub/internal/domain"
)

func TestCloseAuctionNoBids(t *testing.T) {
	ctx := context.Background()
	eng, store, bus, queue := newTestEngine(t)
	id := seedLiveAuction(t, eng, store, bidderA, bidderB)

	out, err := eng.CloseAuction(ctx, id, domain.CloseReasonTimerExpired)
	require.NoError(t, err)
	assert.False(t, out.AlreadyEnded)
	assert.Equal(t, domain.CloseReasonTimerExpired, out.Reason)
	assert.Nil(t, out.WinnerID)
	assert.Nil(t, out.WinningPrice)

	a, err := store.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusEnded, a.Status)

	listing, err := store.GetListing(ctx, a.ListingID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusClosed, listing.Status)

	// Without a winner every member is refunded.
	for _, u := range []int64{bidderA, bidderB} {
		bal, err := store.GetWalletBalance(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, deposit, bal, "user %d", u)

		dep, err := store.GetDepositOrder(ctx, u, id)
		require.NoError(t, err)
		assert.Equal(t, domain.DepositStatusRefunded, dep.Status)
	}

	entries, err := store.ListLedger(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, domain.LedgerKindDepositRefund, e.Kind)
		assert.Equal(t, deposit, e.Amount)
	}

	require.Len(t, bus.byType(domain.EventTypeClosed), 1)
	assert.Len(t, queue.byKind(domain.NotificationKindLostRefund), 2)
	assert.Empty(t, queue.byKind(domain.NotificationKindWon))
}

func TestCloseAuctionWithBidsRefundsLosersOnce(t *testing.T) {
	ctx := context.Background()
	eng, store, _, _ := newTestEngine(t)
	id := seedLiveAuction(t, eng, store, bidderA, bidderB)

	_, err := eng.PlaceBid(ctx, id, bidderA, 2_000_000)
	require.NoError(t, err)
	_, err = eng.PlaceBid(ctx, id, bidderB, 3_000_000)
	require.NoError(t, err)

	out, err := eng.CloseAuction(ctx, id, domain.CloseReasonTimerExpired)
	require.NoError(t, err)
	require.NotNil(t, out.WinnerID)
	assert.Equal(t, bidderB, *out.WinnerID)
	assert.Equal(t, int64(3_000_000), *out.WinningPrice)

	a, err := store.GetAuction(ctx, id)
	require.NoError(t, err)
	listing, err := store.GetListing(ctx, a.ListingID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusSold, listing.Status)

	// Deposit conservation: loser refunded exactly once, winner applied,
	// nothing minted.
	balA, err := store.GetWalletBalance(ctx, bidderA)
	require.NoError(t, err)
	assert.Equal(t, deposit, balA)
	balB, err := store.GetWalletBalance(ctx, bidderB)
	require.NoError(t, err)
	assert.Zero(t, balB)

	entries, err := store.ListLedger(ctx, id)
	require.NoError(t, err)
	var refunds, applied int
	for _, e := range entries {
		switch e.Kind {
		case domain.LedgerKindDepositRefund:
			refunds++
			assert.Equal(t, bidderA, e.UserID)
		case domain.LedgerKindDepositApplied:
			applied++
			assert.Equal(t, bidderB, e.UserID)
		}
	}
	assert.Equal(t, 1, refunds)
	assert.Equal(t, 1, applied)
}

func TestCloseAuctionIdempotent(t *testing.T) {
	ctx := context.Background()
	eng, store, bus, queue := newTestEngine(t)
	id := seedLiveAuction(t, eng, store, bidderA, bidderB)

	first, err := eng.CloseAuction(ctx, id, domain.CloseReasonTimerExpired)
	require.NoError(t, err)
	require.False(t, first.AlreadyEnded)

	second, err := eng.CloseAuction(ctx, id, domain.CloseReasonManual)
	require.NoError(t, err)
	assert.True(t, second.AlreadyEnded)
	assert.Equal(t, id, second.AuctionID)

	// Repeat closes move no money and broadcast nothing.
	for _, u := range []int64{bidderA, bidderB} {
		bal, err := store.GetWalletBalance(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, deposit, bal)
	}
	entries, err := store.ListLedger(ctx, id)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Len(t, bus.byType(domain.EventTypeClosed), 1)
	assert.Len(t, queue.byKind(domain.NotificationKindLostRefund), 2)
}

func TestCloseAuctionIdempotentConcurrent(t *testing.T) {
	ctx := context.Background()
	eng, store, bus, _ := newTestEngine(t)
	id := seedLiveAuction(t, eng, store, bidderA, bidderB)

	const closers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for i := 0; i < closers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := eng.CloseAuction(ctx, id, domain.CloseReasonTimerExpired)
			if !assert.NoError(t, err) {
				return
			}
			if !out.AlreadyEnded {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled, "exactly one close settles")
	assert.Len(t, bus.byType(domain.EventTypeClosed), 1)

	entries, err := store.ListLedger(ctx, id)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCloseAuctionNotStarted(t *testing.T) {
	ctx := context.Background()
	eng, store, _, _ := newTestEngine(t)

	listingID, err := store.CreateListing(ctx, domain.ListingStatusAuctioning)
	require.NoError(t, err)
	id, err := store.CreateAuction(ctx, domain.Auction{
		ListingID:     listingID,
		SellerID:      sellerID,
		StartingPrice: startPrice,
		TargetPrice:   targetPrice,
		DepositAmount: deposit,
		DurationSec:   120,
		Status:        domain.AuctionStatusVerified,
	})
	require.NoError(t, err)

	_, err = eng.CloseAuction(ctx, id, domain.CloseReasonManual)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCloseAuctionRollbackOnRefundFailure(t *testing.T) {
	ctx := context.Background()
	eng, store, bus, queue := newTestEngine(t)
	id := seedLiveAuction(t, eng, store, bidderA, bidderB)

	store.FailNextOp("CreditUser")
	_, err := eng.CloseAuction(ctx, id, domain.CloseReasonTimerExpired)
	require.Error(t, err)

	// The failed settlement left nothing behind: auction still live, no
	// balances, no ledger, no broadcast, no notifications.
	a, err := store.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusLive, a.Status)

	for _, u := range []int64{bidderA, bidderB} {
		bal, err := store.GetWalletBalance(ctx, u)
		require.NoError(t, err)
		assert.Zero(t, bal)
	}
	entries, err := store.ListLedger(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, bus.byType(domain.EventTypeClosed))
	assert.Empty(t, queue.notes)

	// A retry settles normally.
	out, err := eng.CloseAuction(ctx, id, domain.CloseReasonTimerExpired)
	require.NoError(t, err)
	assert.False(t, out.AlreadyEnded)
	bal, err := store.GetWalletBalance(ctx, bidderA)
	require.NoError(t, err)
	assert.Equal(t, deposit, bal)
}
