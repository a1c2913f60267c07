package livesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SnapshotView returns the reconciler's current view of the auction.
type SnapshotView func() AuctionSnapshot

// BidSubmitter forwards a bid to the authoritative write path.
type BidSubmitter interface {
	SubmitBid(ctx context.Context, auctionID string, amount int64) error
}

// BidGateway validates a bid with cheap local checks, then forwards it to
// the backend and awaits its decision. It never mutates local state on
// success; the resulting bid arrives through the event stream, keeping a
// single source of truth and ruling out double-counting.
type BidGateway struct {
	auctionID string
	bidderID  string
	view      SnapshotView
	submitter BidSubmitter
	clock     clockwork.Clock
	onReject  func() // scheduled after a server-side rejection to resync
}

// NewBidGateway creates a gateway for one bidder on one auction. onReject may
// be nil; when set it runs after the backend rejects a race-losing bid.
func NewBidGateway(auctionID, bidderID string, view SnapshotView, submitter BidSubmitter, clock clockwork.Clock, onReject func()) *BidGateway {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BidGateway{
		auctionID: auctionID,
		bidderID:  bidderID,
		view:      view,
		submitter: submitter,
		clock:     clock,
		onReject:  onReject,
	}
}

// Submit places a bid. Local precondition failures return *InvalidBidError
// synchronously with no network call. A server-side ErrRejected is an
// expected outcome: someone else bid first.
func (g *BidGateway) Submit(ctx context.Context, amount int64) error {
	snap := g.view()

	if snap.Sold() {
		return &InvalidBidError{Reason: "item has already been sold"}
	}
	if snap.Status != StatusLive {
		return &InvalidBidError{Reason: "auction is not accepting bids"}
	}
	if !snap.EndsAt.IsZero() && !g.clock.Now().Before(snap.EndsAt.Time) {
		return &InvalidBidError{Reason: "auction has ended"}
	}
	if g.bidderID == snap.SellerID {
		return &InvalidBidError{Reason: "you cannot bid on your own auction"}
	}
	if amount <= snap.CurrentPrice {
		return &InvalidBidError{
			Reason: fmt.Sprintf("bid must be greater than the current price of %d", snap.CurrentPrice),
		}
	}

	if err := g.submitter.SubmitBid(ctx, g.auctionID, amount); err != nil {
		if errors.Is(err, ErrRejected) {
			log.Info().
				Str("auction_id", g.auctionID).
				Int64("amount", amount).
				Msg("bid lost the race, resyncing snapshot")
			if g.onReject != nil {
				g.onReject()
			}
		}
		return err
	}

	// Deliberately no local mutation: the bid-insert event is the only path
	// that moves the local price.
	return nil
}
