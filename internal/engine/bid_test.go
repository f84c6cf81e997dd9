package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmtien/bidhub/internal/domain"
)

func TestPlaceBidPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown auction", func(t *testing.T) {
		eng, _, _, _ := newTestEngine(t)
		_, err := eng.PlaceBid(ctx, 42, bidderA, 2_000_000)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("auction not live", func(t *testing.T) {
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
		_, err = store.AddMember(ctx, bidderA, id)
		require.NoError(t, err)

		_, err = eng.PlaceBid(ctx, id, bidderA, 2_000_000)
		require.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("non member", func(t *testing.T) {
		eng, store, _, _ := newTestEngine(t)
		id := seedLiveAuction(t, eng, store, bidderA)

		_, err := eng.PlaceBid(ctx, id, bidderB, 2_000_000)
		require.ErrorIs(t, err, domain.ErrNotAMember)
	})

	t.Run("seller is never a member", func(t *testing.T) {
		eng, store, _, _ := newTestEngine(t)
		id := seedLiveAuction(t, eng, store, bidderA)

		_, err := store.AddMember(ctx, sellerID, id)
		require.ErrorIs(t, err, domain.ErrForbidden)
		_, err = eng.PlaceBid(ctx, id, sellerID, 2_000_000)
		require.ErrorIs(t, err, domain.ErrNotAMember)
	})

	t.Run("bid at or below current price", func(t *testing.T) {
		eng, store, _, _ := newTestEngine(t)
		id := seedLiveAuction(t, eng, store, bidderA, bidderB)

		for _, amount := range []int64{-1, 0, startPrice - 1, startPrice} {
			_, err := eng.PlaceBid(ctx, id, bidderA, amount)
			var rejected *domain.BidRejectedError
			require.ErrorAs(t, err, &rejected, "amount %d", amount)
			assert.Equal(t, startPrice, rejected.CurrentPrice)
			assert.ErrorIs(t, err, domain.ErrBidTooLow)
		}
	})
}

func TestPlaceBidAccepted(t *testing.T) {
	ctx := context.Background()
	eng, store, bus, _ := newTestEngine(t)
	id := seedLiveAuction(t, eng, store, bidderA, bidderB)

	res, err := eng.PlaceBid(ctx, id, bidderA, 1_200_000)
	require.NoError(t, err)
	assert.Equal(t, id, res.AuctionID)
	assert.Equal(t, bidderA, res.BidderID)
	assert.Equal(t, int64(1_200_000), res.Price)
	assert.False(t, res.Closed)
	assert.Nil(t, res.Outcome)

	a, err := store.GetAuction(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, a.WinnerID)
	assert.Equal(t, bidderA, *a.WinnerID)
	assert.Equal(t, int64(1_200_000), a.CurrentPrice())
	assert.Equal(t, domain.AuctionStatusLive, a.Status)

	m, err := store.GetMembership(ctx, bidderA, id)
	require.NoError(t, err)
	require.NotNil(t, m.LastBidPrice)
	assert.Equal(t, int64(1_200_000), *m.LastBidPrice)

	updates := bus.byType(domain.EventTypeBidUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, id, updates[0].AuctionID)
}

func TestPlaceBidRejectionReportsCommittedPrice(t *testing.T) {
	ctx := context.Background()
	eng, store, _, _ := newTestEngine(t)
	id := seedLiveAuction(t, eng, store, bidderA, bidderB)

	_, err := eng.PlaceBid(ctx, id, bidderA, 2_000_000)
	require.NoError(t, err)

	// An equal or lower bid loses and sees the committed price, not the
	// starting price.
	_, err = eng.PlaceBid(ctx, id, bidderB, 1_500_000)
	var rejected *domain.BidRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, int64(2_000_000), rejected.CurrentPrice)

	_, err = eng.PlaceBid(ctx, id, bidderB, 2_000_000)
	require.ErrorAs(t, err, &rejected)

	res, err := eng.PlaceBid(ctx, id, bidderB, 2_500_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000), res.Price)

	a, err := store.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bidderB, *a.WinnerID)
}

func TestPlaceBidTargetPriceSettles(t *testing.T) {
	ctx := context.Background()
	eng, store, bus, queue := newTestEngine(t)
	id := seedLiveAuction(t, eng, store, bidderA, bidderB)

	_, err := eng.PlaceBid(ctx, id, bidderB, 2_000_000)
	require.NoError(t, err)

	res, err := eng.PlaceBid(ctx, id, bidderA, targetPrice)
	require.NoError(t, err)
	assert.True(t, res.Closed)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, domain.CloseReasonTargetReached, res.Outcome.Reason)
	require.NotNil(t, res.Outcome.WinnerID)
	assert.Equal(t, bidderA, *res.Outcome.WinnerID)
	assert.Equal(t, targetPrice, *res.Outcome.WinningPrice)

	a, err := store.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusEnded, a.Status)
	require.NotNil(t, a.EndedAt)

	listing, err := store.GetListing(ctx, a.ListingID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusSold, listing.Status)

	// Loser refunded, winner's deposit applied.
	balB, err := store.GetWalletBalance(ctx, bidderB)
	require.NoError(t, err)
	assert.Equal(t, deposit, balB)
	balA, err := store.GetWalletBalance(ctx, bidderA)
	require.NoError(t, err)
	assert.Zero(t, balA)

	depA, err := store.GetDepositOrder(ctx, bidderA, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusApplied, depA.Status)
	depB, err := store.GetDepositOrder(ctx, bidderB, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusRefunded, depB.Status)

	require.Len(t, bus.byType(domain.EventTypeClosed), 1)
	won := queue.byKind(domain.NotificationKindWon)
	require.Len(t, won, 1)
	assert.Equal(t, bidderA, won[0].UserID)
	lost := queue.byKind(domain.NotificationKindLostRefund)
	require.Len(t, lost, 1)
	assert.Equal(t, bidderB, lost[0].UserID)

	// The settled auction accepts nothing further.
	_, err = eng.PlaceBid(ctx, id, bidderB, targetPrice+1)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestPlaceBidConcurrent(t *testing.T) {
	ctx := context.Background()
	eng, store, _, _ := newTestEngine(t)

	members := make([]int64, 8)
	for i := range members {
		members[i] = int64(100 + i)
	}
	id := seedLiveAuction(t, eng, store, members...)

	const perBidder = 25

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []int64
	)
	for _, u := range members {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(u))
			for i := 0; i < perBidder; i++ {
				amount := startPrice + rng.Int63n(targetPrice-startPrice-1) + 1
				res, err := eng.PlaceBid(ctx, id, u, amount)
				if err != nil {
					var rejected *domain.BidRejectedError
					assert.ErrorAs(t, err, &rejected)
					continue
				}
				mu.Lock()
				accepted = append(accepted, res.Price)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.NotEmpty(t, accepted)
	max := accepted[0]
	for _, p := range accepted {
		if p > max {
			max = p
		}
	}

	a, err := store.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusLive, a.Status)
	require.NotNil(t, a.WinningPrice)
	assert.Equal(t, max, *a.WinningPrice, "final price must be the maximum accepted bid")
	require.NotNil(t, a.WinnerID)

	// The winner's membership carries the winning price.
	m, err := store.GetMembership(ctx, *a.WinnerID, id)
	require.NoError(t, err)
	require.NotNil(t, m.LastBidPrice)
	assert.Equal(t, max, *m.LastBidPrice)
}

func TestStartAuctionRequiresVerified(t *testing.T) {
	ctx := context.Background()
	eng, store, _, _ := newTestEngine(t)
	id := seedLiveAuction(t, eng, store, bidderA)

	// Already live.
	_, err := eng.StartAuction(ctx, id)
	var state *domain.StateError
	require.ErrorAs(t, err, &state)
	assert.Equal(t, domain.AuctionStatusLive, state.Status)
	require.True(t, errors.Is(err, domain.ErrInvalidState))

	_, err = eng.StartAuction(ctx, 404)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
