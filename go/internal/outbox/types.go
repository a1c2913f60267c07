package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TopicKind scopes an event to an auction feed or a user inbox feed.
type TopicKind string

const (
	TopicAuction TopicKind = "auction"
	TopicUser    TopicKind = "user"
)

// Event types carried through the outbox.
const (
	EventTypeBidPlaced           = "BidPlaced"
	EventTypeAuctionUpdated      = "AuctionUpdated"
	EventTypeChatPosted          = "ChatPosted"
	EventTypeNotificationCreated = "NotificationCreated"
)

// Event is one row of the transactional outbox. It is written in the same
// transaction as the state change it describes and published at least once.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	TopicKind TopicKind       `json:"topic_kind"`
	TopicID   uuid.UUID       `json:"topic_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent builds an unsent outbox event.
func NewEvent(kind TopicKind, topicID uuid.UUID, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.New(),
		TopicKind: kind,
		TopicID:   topicID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Publisher publishes one outbox event to the broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
