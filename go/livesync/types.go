package livesync

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of an auction. Transitions only move forward
// in the Scheduled -> Live -> Ended order.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusLive      Status = "Live"
	StatusEnded     Status = "Ended"
)

var statusRank = map[Status]int{
	StatusScheduled: 0,
	StatusLive:      1,
	StatusEnded:     2,
}

// Known reports whether s is a status the backend can emit.
func (s Status) Known() bool {
	_, ok := statusRank[s]
	return ok
}

// Before reports whether s precedes other in the lifecycle order.
func (s Status) Before(other Status) bool {
	return statusRank[s] < statusRank[other]
}

// Timestamp is a time.Time whose JSON form may arrive without a timezone
// designator. Zone-less datetimes from the backend are UTC; this type makes
// that assumption explicit instead of letting the zero location leak in.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t as a Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode timestamp: %w", err)
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range zonelessLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// AuctionSnapshot is one auction's server-confirmed state at a point in time.
// CurrentPrice is authoritative and monotonically non-decreasing; it is never
// recomputed from the local bid list.
type AuctionSnapshot struct {
	ID            string    `json:"id"`
	SellerID      string    `json:"seller_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	ImageRef      string    `json:"image_ref"`
	StartingPrice int64     `json:"starting_price"`
	CurrentPrice  int64     `json:"current_price"`
	Status        Status    `json:"status"`
	EndsAt        Timestamp `json:"ends_at"`
	BoughtBy      string    `json:"bought_by,omitempty"`
}

// Sold reports whether the auction reached its buy-now terminal state.
func (s AuctionSnapshot) Sold() bool {
	return s.BoughtBy != ""
}

// BidRecord is an append-only bid. Amounts are in the smallest currency unit.
type BidRecord struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	CreatedAt Timestamp `json:"created_at"`
}

// ChatKind distinguishes user-authored text from system-injected bid markers.
type ChatKind string

const (
	ChatKindText ChatKind = "text"
	ChatKindBid  ChatKind = "bid"
)

// ChatMessage is an append-only per-auction chat entry, ordered by CreatedAt.
type ChatMessage struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auction_id"`
	AuthorID  string    `json:"author_id"`
	Kind      ChatKind  `json:"kind"`
	Body      string    `json:"body"`
	BidID     string    `json:"bid_id,omitempty"`
	CreatedAt Timestamp `json:"created_at"`
}

// NotificationKind classifies inbox entries.
type NotificationKind string

const (
	NotificationOutbid  NotificationKind = "outbid"
	NotificationWon     NotificationKind = "won"
	NotificationGeneric NotificationKind = "generic"
)

// NotificationEvent is a per-user inbox entry. Only IsRead ever changes,
// exactly once, by the owning user.
type NotificationEvent struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Link      string           `json:"link"`
	IsRead    bool             `json:"is_read"`
	CreatedAt Timestamp        `json:"created_at"`
}

// AuctionUpdate is a partial authoritative update to an auction. Nil fields
// are untouched on merge.
type AuctionUpdate struct {
	AuctionID    string     `json:"auction_id"`
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	ImageRef     *string    `json:"image_ref,omitempty"`
	CurrentPrice *int64     `json:"current_price,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	EndsAt       *Timestamp `json:"ends_at,omitempty"`
	BoughtBy     *string    `json:"bought_by,omitempty"`
}

// AuctionState is the authoritative point-in-time read of one auction:
// snapshot plus bid history (amount desc, created_at asc) plus chat
// transcript (created_at asc).
type AuctionState struct {
	Auction AuctionSnapshot `json:"auction"`
	Bids    []BidRecord     `json:"bids"`
	Chat    []ChatMessage   `json:"chat"`
}
