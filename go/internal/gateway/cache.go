package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// StateCache is a short-lived Redis cache for encoded auction state. The
// event consumer invalidates an auction's entry whenever an event for that
// auction passes through, so staleness is bounded by event delivery, not TTL.
// A nil client disables caching entirely.
type StateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStateCache creates a cache over client; client may be nil.
func NewStateCache(client *redis.Client, ttl time.Duration) *StateCache {
	return &StateCache{client: client, ttl: ttl}
}

func stateKey(auctionID uuid.UUID) string {
	return fmt.Sprintf("auction:state:%s", auctionID)
}

// Get returns the cached state blob, or ok=false on miss or error.
func (c *StateCache) Get(ctx context.Context, auctionID uuid.UUID) ([]byte, bool) {
	if c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, stateKey(auctionID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("state cache read failed")
		}
		return nil, false
	}
	return data, true
}

// Set stores the state blob. Failures are logged, never surfaced.
func (c *StateCache) Set(ctx context.Context, auctionID uuid.UUID, data []byte) {
	if c.client == nil {
		return
	}
	if err := c.client.Set(ctx, stateKey(auctionID), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("state cache write failed")
	}
}

// Invalidate drops the cached entry after the auction changed.
func (c *StateCache) Invalidate(ctx context.Context, auctionID uuid.UUID) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, stateKey(auctionID)).Err(); err != nil {
		log.Warn().Err(err).Msg("state cache invalidation failed")
	}
}
