package livesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testSnapshot() AuctionSnapshot {
	return AuctionSnapshot{
		ID:            "a1",
		SellerID:      "seller",
		Title:         "Vintage clock",
		StartingPrice: 500,
		CurrentPrice:  500,
		Status:        StatusLive,
		EndsAt:        NewTimestamp(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func bidAt(id string, amount int64, at time.Time) BidRecord {
	return BidRecord{
		ID:        id,
		AuctionID: "a1",
		BidderID:  "bidder-" + id,
		Amount:    amount,
		CreatedAt: NewTimestamp(at),
	}
}

func TestReconciler_BidInsertIdempotent(t *testing.T) {
	r := NewReconciler()
	r.ApplySnapshot(testSnapshot(), nil)

	bid := bidAt("b1", 510, time.Now())
	r.ApplyBidInserted(bid)
	r.ApplyBidInserted(bid)

	require.Len(t, r.Bids(), 1)
	require.Equal(t, int64(510), r.Snapshot().CurrentPrice)
}

func TestReconciler_MonotonicPrice(t *testing.T) {
	now := time.Now()

	// Same bid set in different delivery orders must converge on the max.
	orders := [][]BidRecord{
		{bidAt("b1", 505, now), bidAt("b2", 510, now.Add(time.Second)), bidAt("b3", 507, now.Add(2*time.Second))},
		{bidAt("b2", 510, now.Add(time.Second)), bidAt("b3", 507, now.Add(2*time.Second)), bidAt("b1", 505, now)},
		{bidAt("b3", 507, now.Add(2*time.Second)), bidAt("b1", 505, now), bidAt("b2", 510, now.Add(time.Second))},
	}

	for _, order := range orders {
		r := NewReconciler()
		r.ApplySnapshot(testSnapshot(), nil)
		for _, b := range order {
			r.ApplyBidInserted(b)
		}
		require.Equal(t, int64(510), r.Snapshot().CurrentPrice)
	}
}

func TestReconciler_OutOfOrderLowerBidKeepsPrice(t *testing.T) {
	r := NewReconciler()
	r.ApplySnapshot(testSnapshot(), nil)

	now := time.Now()
	// 505 arrives before 510, then a stale 505 duplicate after.
	r.ApplyBidInserted(bidAt("b-low", 505, now))
	r.ApplyBidInserted(bidAt("b-high", 510, now.Add(time.Second)))
	r.ApplyBidInserted(bidAt("b-low", 505, now))

	snap := r.Snapshot()
	require.Equal(t, int64(510), snap.CurrentPrice)

	bids := r.Bids()
	require.Len(t, bids, 2)
	require.Equal(t, int64(510), bids[0].Amount)
	require.Equal(t, int64(505), bids[1].Amount)
}

func TestReconciler_BidSortTiebreakByCreatedAt(t *testing.T) {
	r := NewReconciler()
	r.ApplySnapshot(testSnapshot(), nil)

	now := time.Now()
	later := bidAt("b-late", 600, now.Add(time.Minute))
	earlier := bidAt("b-early", 600, now)
	r.ApplyBidInserted(later)
	r.ApplyBidInserted(earlier)

	bids := r.Bids()
	require.Equal(t, "b-early", bids[0].ID)
	require.Equal(t, "b-late", bids[1].ID)
}

func TestReconciler_StatusForwardOnly(t *testing.T) {
	r := NewReconciler()
	snap := testSnapshot()
	snap.Status = StatusEnded
	r.ApplySnapshot(snap, nil)

	live := StatusLive
	r.ApplyAuctionUpdated(AuctionUpdate{AuctionID: "a1", Status: &live})

	require.Equal(t, StatusEnded, r.Snapshot().Status)
}

func TestReconciler_UpdateAppliesNonStatusFieldsEvenWhenStatusDropped(t *testing.T) {
	r := NewReconciler()
	snap := testSnapshot()
	snap.Status = StatusEnded
	r.ApplySnapshot(snap, nil)

	live := StatusLive
	buyer := "buyer-1"
	r.ApplyAuctionUpdated(AuctionUpdate{AuctionID: "a1", Status: &live, BoughtBy: &buyer})

	got := r.Snapshot()
	require.Equal(t, StatusEnded, got.Status)
	require.Equal(t, "buyer-1", got.BoughtBy)
}

func TestReconciler_UpdatePriceMonotonic(t *testing.T) {
	r := NewReconciler()
	r.ApplySnapshot(testSnapshot(), nil)

	higher := int64(700)
	r.ApplyAuctionUpdated(AuctionUpdate{AuctionID: "a1", CurrentPrice: &higher})
	require.Equal(t, int64(700), r.Snapshot().CurrentPrice)

	stale := int64(600)
	r.ApplyAuctionUpdated(AuctionUpdate{AuctionID: "a1", CurrentPrice: &stale})
	require.Equal(t, int64(700), r.Snapshot().CurrentPrice)
}

func TestReconciler_SnapshotReplacesFully(t *testing.T) {
	r := NewReconciler()
	r.ApplySnapshot(testSnapshot(), nil)

	now := time.Now()
	r.ApplyBidInserted(bidAt("pre-snapshot", 505, now))

	fresh := testSnapshot()
	fresh.CurrentPrice = 510
	r.ApplySnapshot(fresh, []BidRecord{bidAt("kept", 510, now.Add(time.Second))})

	bids := r.Bids()
	require.Len(t, bids, 1)
	require.Equal(t, "kept", bids[0].ID)
	require.Equal(t, int64(510), r.Snapshot().CurrentPrice)
}

func TestReconciler_ChatInsertIdempotentAndOrdered(t *testing.T) {
	r := NewReconciler()
	r.ApplySnapshot(testSnapshot(), nil)

	now := time.Now()
	first := ChatMessage{ID: "m1", AuctionID: "a1", AuthorID: "u1", Kind: ChatKindText, Body: "hi", CreatedAt: NewTimestamp(now)}
	second := ChatMessage{ID: "m2", AuctionID: "a1", AuthorID: "u2", Kind: ChatKindBid, Body: "Bid placed", CreatedAt: NewTimestamp(now.Add(time.Second))}

	r.ApplyChatInserted(second)
	r.ApplyChatInserted(first)
	r.ApplyChatInserted(second)

	chat := r.Chat()
	require.Len(t, chat, 2)
	require.Equal(t, "m1", chat[0].ID)
	require.Equal(t, "m2", chat[1].ID)
}
