package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessageKind distinguishes user text from system bid markers.
type ChatMessageKind string

const (
	ChatMessageText ChatMessageKind = "text"
	ChatMessageBid  ChatMessageKind = "bid"
)

// ChatMessage is an append-only per-auction chat entry.
type ChatMessage struct {
	ID        uuid.UUID       `json:"id"`
	AuctionID uuid.UUID       `json:"auction_id"`
	AuthorID  uuid.UUID       `json:"author_id"`
	Kind      ChatMessageKind `json:"kind"`
	Body      string          `json:"body"`
	BidID     *uuid.UUID      `json:"bid_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
