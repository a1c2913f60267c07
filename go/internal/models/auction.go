package models

import (
	"time"

	"github.com/google/uuid"
)

// AuctionStatus is the lifecycle state of an auction listing.
type AuctionStatus string

const (
	AuctionStatusScheduled AuctionStatus = "Scheduled"
	AuctionStatusLive      AuctionStatus = "Live"
	AuctionStatusEnded     AuctionStatus = "Ended"
)

// Auction is a listing. CurrentPrice never decreases; BoughtBy is set at most
// once and makes the auction terminal regardless of EndsAt.
type Auction struct {
	ID            uuid.UUID     `json:"id"`
	SellerID      uuid.UUID     `json:"seller_id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	ImageRef      string        `json:"image_ref"`
	StartingPrice int64         `json:"starting_price"`
	CurrentPrice  int64         `json:"current_price"`
	Status        AuctionStatus `json:"status"`
	EndsAt        time.Time     `json:"ends_at"`
	BoughtBy      *uuid.UUID    `json:"bought_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Sold reports whether the auction was bought outright.
func (a *Auction) Sold() bool {
	return a.BoughtBy != nil
}
