package models

import (
	"time"

	"github.com/google/uuid"
)

// Bid is append-only: once written it is never mutated or deleted. Amounts
// are in the smallest currency unit.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	AuctionID uuid.UUID `json:"auction_id"`
	BidderID  uuid.UUID `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}
