package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ListenerConfig holds configuration for the outbox listener.
type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // channel name to LISTEN on
	FallbackInterval time.Duration // how often to poll for missed events
	PingInterval     time.Duration
	BatchSize        int32 // max events to fetch per fallback batch
}

// DefaultListenerConfig returns default listener configuration.
func DefaultListenerConfig(databaseURL string) ListenerConfig {
	return ListenerConfig{
		DatabaseURL:      databaseURL,
		NotifyChannel:    notifyChannel,
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Listener drains the outbox: it reacts to LISTEN/NOTIFY pokes for low
// latency and polls on a fallback interval so a missed notification can
// never strand an event. Publishing is at-least-once; rows are marked sent
// only after the broker accepted them.
type Listener struct {
	store     *Store
	listener  *pq.Listener
	publisher Publisher
	cfg       ListenerConfig
}

// NewListener creates a listener bound to the configured notify channel.
func NewListener(db *sql.DB, publisher Publisher, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("outbox listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for outbox notifications")

	return &Listener{
		store:     NewStore(db),
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

// Start runs until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("outbox listener started")

	// Drain whatever accumulated while we were down.
	if err := l.drain(ctx); err != nil {
		log.Error().Err(err).Msg("initial outbox drain failed")
	}

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox listener shutting down")
			return l.Stop()

		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means the connection was lost; pq
				// reconnects on its own, the fallback poll covers the gap.
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Str("payload", note.Extra).Msg("failed to handle outbox notification")
			}

		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("outbox listener ping failed")
			}

		case <-fallbackTicker.C:
			if err := l.drain(ctx); err != nil {
				log.Error().Err(err).Msg("outbox fallback drain failed")
			}
		}
	}
}

// Stop closes the pq listener.
func (l *Listener) Stop() error {
	return l.listener.Close()
}

// handleNotification publishes the single event named in the notification
// payload. A malformed payload falls back to a full drain.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		log.Warn().Str("payload", extra).Msg("notification payload is not an event id, draining")
		return l.drain(ctx)
	}

	event, err := l.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already sent, likely by the fallback poll racing us.
			return nil
		}
		return err
	}
	return l.publishAndSettle(ctx, event)
}

// drain publishes every unsent event in batches.
func (l *Listener) drain(ctx context.Context) error {
	for {
		events, err := l.store.FetchUnsent(ctx, l.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, event := range events {
			if err := l.publishAndSettle(ctx, event); err != nil {
				return err
			}
		}
		if int32(len(events)) < l.cfg.BatchSize {
			return nil
		}
	}
}

func (l *Listener) publishAndSettle(ctx context.Context, event Event) error {
	if err := l.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to publish outbox event %s: %w", event.ID, err)
	}
	if err := l.store.MarkSent(ctx, event.ID); err != nil {
		// The event will be republished by the fallback poll; consumers
		// dedupe by event id.
		return err
	}

	log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("topic_kind", string(event.TopicKind)).
		Str("topic_id", event.TopicID.String()).
		Msg("outbox event published")
	return nil
}
