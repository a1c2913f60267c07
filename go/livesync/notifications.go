package livesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// NotificationBackend is the slice of the backend API the relay needs.
type NotificationBackend interface {
	FetchNotifications(ctx context.Context, limit int) ([]NotificationEvent, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// NotificationRelay is the user-inbox sibling of the auction synchronizer:
// same snapshot-plus-subscribe shape, scoped to a user instead of an auction.
// New entries prepend idempotently; read flags flip optimistically because a
// spurious optimistic flag only costs a duplicate receipt, which the backend
// treats idempotently.
type NotificationRelay struct {
	backend NotificationBackend
	limit   int

	mu    sync.Mutex
	items []NotificationEvent
	ids   map[string]struct{}

	receiptTimeout time.Duration
}

// NewNotificationRelay creates a relay holding at most limit entries.
func NewNotificationRelay(backend NotificationBackend, limit int) *NotificationRelay {
	if limit <= 0 {
		limit = 50
	}
	return &NotificationRelay{
		backend:        backend,
		limit:          limit,
		ids:            make(map[string]struct{}),
		receiptTimeout: 10 * time.Second,
	}
}

// Load replaces the inbox with the authoritative newest-first list. Called on
// (re)connect, same role as the auction snapshot fetch.
func (r *NotificationRelay) Load(ctx context.Context) error {
	items, err := r.backend.FetchNotifications(ctx, r.limit)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = r.items[:0]
	r.ids = make(map[string]struct{}, len(items))
	for _, n := range items {
		if _, dup := r.ids[n.ID]; dup {
			continue
		}
		r.ids[n.ID] = struct{}{}
		r.items = append(r.items, n)
	}
	return nil
}

// HandleEvent is the subscriber handler for the user topic. Non-notification
// events and malformed payloads are dropped.
func (r *NotificationRelay) HandleEvent(ev Event) {
	if ev.Type != EventTypeNotificationCreated {
		return
	}
	payload, err := ParseEventPayload(ev)
	if err != nil {
		log.Warn().Err(err).Str("event_id", ev.EventID).Msg("dropping notification event")
		return
	}
	n, ok := payload.(NotificationEvent)
	if !ok {
		return
	}
	r.ApplyInserted(n)
}

// ApplyInserted prepends a new notification, idempotent by id.
func (r *NotificationRelay) ApplyInserted(n NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.ids[n.ID]; dup {
		return
	}
	r.ids[n.ID] = struct{}{}
	r.items = append([]NotificationEvent{n}, r.items...)
	if len(r.items) > r.limit {
		dropped := r.items[r.limit:]
		r.items = r.items[:r.limit]
		for _, d := range dropped {
			delete(r.ids, d.ID)
		}
	}
}

// Resync re-pulls the inbox; wired as the subscriber's resync hook.
func (r *NotificationRelay) Resync(ctx context.Context) error {
	return r.Load(ctx)
}

// MarkRead flips the local flag immediately and submits the read receipt in
// the background, fire-and-forget.
func (r *NotificationRelay) MarkRead(id string) {
	r.mu.Lock()
	found := false
	for i := range r.items {
		if r.items[i].ID == id {
			found = true
			if r.items[i].IsRead {
				r.mu.Unlock()
				return
			}
			r.items[i].IsRead = true
			break
		}
	}
	r.mu.Unlock()

	if !found {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.receiptTimeout)
		defer cancel()
		if err := r.backend.MarkNotificationRead(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("notification_id", id).Msg("read receipt failed")
		}
	}()
}

// Notifications returns a copy of the inbox, newest first.
func (r *NotificationRelay) Notifications() []NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationEvent, len(r.items))
	copy(out, r.items)
	return out
}

// UnreadCount returns the number of unread entries.
func (r *NotificationRelay) UnreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.items {
		if !n.IsRead {
			count++
		}
	}
	return count
}
