package outbox

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sqlc-dev/pqtype"
)

const notifyChannel = "auction_outbox_events"

// Enqueue writes an event into the outbox inside the caller's transaction and
// pokes the LISTEN/NOTIFY channel so the listener picks it up without waiting
// for the fallback poll.
func Enqueue(ctx context.Context, tx pgx.Tx, event Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, topic_kind, topic_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, string(event.TopicKind), event.TopicID, event.EventType, []byte(event.Payload), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, event.ID.String()); err != nil {
		return fmt.Errorf("failed to notify outbox channel: %w", err)
	}
	return nil
}

// Store reads and settles outbox rows. It runs over database/sql because it
// shares a connection pool with the pq listener.
type Store struct {
	db *sql.DB
}

// NewStore creates an outbox store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetEvent fetches one unsent event by id. Returns sql.ErrNoRows when the
// event does not exist or was already sent.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, topic_kind, topic_id, event_type, payload, created_at
		FROM outbox_events
		WHERE id = $1 AND sent_at IS NULL`,
		id,
	)
	return scanEvent(row)
}

// FetchUnsent returns up to limit unsent events, oldest first.
func (s *Store) FetchUnsent(ctx context.Context, limit int32) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic_kind, topic_id, event_type, payload, created_at
		FROM outbox_events
		WHERE sent_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox rows: %w", err)
	}
	return events, nil
}

// MarkSent settles an event after a successful publish.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET sent_at = now() WHERE id = $1`,
		id,
	); err != nil {
		return fmt.Errorf("failed to mark outbox event sent: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var (
		event   Event
		kind    string
		payload pqtype.NullRawMessage
	)
	if err := row.Scan(&event.ID, &kind, &event.TopicID, &event.EventType, &payload, &event.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("failed to scan outbox event: %w", err)
	}
	event.TopicKind = TopicKind(kind)
	if payload.Valid {
		event.Payload = payload.RawMessage
	}
	return event, nil
}
