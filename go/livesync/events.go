package livesync

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the entity kind an event carries.
type EventType string

const (
	EventTypeBidPlaced           EventType = "BidPlaced"
	EventTypeAuctionUpdated      EventType = "AuctionUpdated"
	EventTypeChatPosted          EventType = "ChatPosted"
	EventTypeNotificationCreated EventType = "NotificationCreated"
)

// TopicKind scopes an event feed to an auction or to a user inbox.
type TopicKind string

const (
	TopicAuction TopicKind = "auction"
	TopicUser    TopicKind = "user"
)

// Event is the envelope every realtime message arrives in. Delivery is
// at-least-once and may interleave entity kinds arbitrarily; consumers dedupe
// by payload id.
type Event struct {
	EventID    string          `json:"event_id"`
	TopicKind  TopicKind       `json:"topic_kind"`
	TopicID    string          `json:"topic_id"`
	Type       EventType       `json:"type"`
	OccurredAt Timestamp       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ParseEventPayload decodes and validates an event payload at the transport
// boundary so malformed events fail here instead of propagating half-empty
// values into the reconciler. Returns ErrAnomaly-wrapped errors for anything
// that should be dropped.
func ParseEventPayload(ev Event) (any, error) {
	switch ev.Type {
	case EventTypeBidPlaced:
		var p BidRecord
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: decode bid payload: %v", ErrAnomaly, err)
		}
		if p.ID == "" || p.AuctionID == "" || p.BidderID == "" {
			return nil, fmt.Errorf("%w: bid event missing identifiers", ErrAnomaly)
		}
		if p.Amount <= 0 {
			return nil, fmt.Errorf("%w: bid event with non-positive amount %d", ErrAnomaly, p.Amount)
		}
		return p, nil

	case EventTypeAuctionUpdated:
		var p AuctionUpdate
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: decode auction update payload: %v", ErrAnomaly, err)
		}
		if p.AuctionID == "" {
			return nil, fmt.Errorf("%w: auction update missing auction id", ErrAnomaly)
		}
		if p.Status != nil && !p.Status.Known() {
			return nil, fmt.Errorf("%w: auction update with unknown status %q", ErrAnomaly, *p.Status)
		}
		if p.CurrentPrice != nil && *p.CurrentPrice <= 0 {
			return nil, fmt.Errorf("%w: auction update with non-positive price %d", ErrAnomaly, *p.CurrentPrice)
		}
		return p, nil

	case EventTypeChatPosted:
		var p ChatMessage
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: decode chat payload: %v", ErrAnomaly, err)
		}
		if p.ID == "" || p.AuctionID == "" {
			return nil, fmt.Errorf("%w: chat event missing identifiers", ErrAnomaly)
		}
		if p.Kind != ChatKindText && p.Kind != ChatKindBid {
			return nil, fmt.Errorf("%w: chat event with unknown kind %q", ErrAnomaly, p.Kind)
		}
		return p, nil

	case EventTypeNotificationCreated:
		var p NotificationEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: decode notification payload: %v", ErrAnomaly, err)
		}
		if p.ID == "" || p.UserID == "" {
			return nil, fmt.Errorf("%w: notification event missing identifiers", ErrAnomaly)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrAnomaly, ev.Type)
	}
}
