package livesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// StateFetcher is the snapshot read path.
type StateFetcher interface {
	FetchAuctionState(ctx context.Context, auctionID string) (*AuctionState, error)
}

// SubscriberFactory opens the event feed for one auction. Injected so the
// transport is swappable and sessions are testable without shared module
// state.
type SubscriberFactory func(auctionID string, handler Handler, resync ResyncFunc) *Subscriber

// Session owns the live view of one auction: it fetches the snapshot first,
// then subscribes, and routes every event through its reconciler. The
// reconciler is the only writer of the local view.
type Session struct {
	auctionID  string
	fetcher    StateFetcher
	reconciler *Reconciler
	subscriber *Subscriber

	mu      sync.Mutex
	closed  bool
	onClose func()
}

// OpenSession fetches the snapshot and starts the event subscription. The
// snapshot fetch completes before any event applies, so events never land on
// state that does not exist yet.
func OpenSession(ctx context.Context, auctionID string, fetcher StateFetcher, factory SubscriberFactory) (*Session, error) {
	s := &Session{
		auctionID:  auctionID,
		fetcher:    fetcher,
		reconciler: NewReconciler(),
	}

	if err := s.refetch(ctx); err != nil {
		return nil, fmt.Errorf("failed to open session for auction %s: %w", auctionID, err)
	}

	sub := factory(auctionID, s.handleEvent, s.resync)
	if err := sub.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to open session for auction %s: %w", auctionID, err)
	}
	s.subscriber = sub
	return s, nil
}

// Reconciler exposes the session's view state.
func (s *Session) Reconciler() *Reconciler {
	return s.reconciler
}

// Snapshot is a SnapshotView over the session's reconciler.
func (s *Session) Snapshot() AuctionSnapshot {
	return s.reconciler.Snapshot()
}

// View returns a consistent copy of the whole local view.
func (s *Session) View() View {
	return s.reconciler.View()
}

// ForceResync re-fetches the authoritative snapshot, e.g. after the backend
// rejected a bid because someone else bid first.
func (s *Session) ForceResync(ctx context.Context) error {
	return s.resync(ctx)
}

// Close tears the session down. Idempotent; once it returns no further
// events will be applied.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()

	if s.subscriber != nil {
		s.subscriber.Close()
	}
	if onClose != nil {
		onClose()
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) handleEvent(ev Event) {
	if s.isClosed() {
		return
	}

	payload, err := ParseEventPayload(ev)
	if err != nil {
		if errors.Is(err, ErrAnomaly) {
			log.Warn().
				Err(err).
				Str("auction_id", s.auctionID).
				Str("event_id", ev.EventID).
				Msg("dropping anomalous event")
			return
		}
		log.Error().Err(err).Str("event_id", ev.EventID).Msg("failed to parse event")
		return
	}

	switch p := payload.(type) {
	case BidRecord:
		s.reconciler.ApplyBidInserted(p)
	case AuctionUpdate:
		s.reconciler.ApplyAuctionUpdated(p)
	case ChatMessage:
		s.reconciler.ApplyChatInserted(p)
	default:
		// Notification events ride the user topic, not auction feeds.
		log.Debug().
			Str("auction_id", s.auctionID).
			Str("type", string(ev.Type)).
			Msg("ignoring event kind outside auction scope")
	}
}

// refetch pulls a fresh snapshot and applies it. A result arriving after the
// session closed is dropped silently so navigation away cannot resurrect
// state.
func (s *Session) refetch(ctx context.Context) error {
	state, err := s.fetcher.FetchAuctionState(ctx, s.auctionID)
	if err != nil {
		return err
	}
	if s.isClosed() {
		return nil
	}
	s.reconciler.ApplySnapshot(state.Auction, state.Bids)
	s.reconciler.ApplyChatHistory(state.Chat)
	return nil
}

func (s *Session) resync(ctx context.Context) error {
	if s.isClosed() {
		return nil
	}
	return s.refetch(ctx)
}

// SessionManager enforces the resource rule that at most one live session
// exists per auction in one process: a second open returns the first.
type SessionManager struct {
	fetcher StateFetcher
	factory SubscriberFactory

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates a manager sharing one fetcher and one subscriber
// factory across sessions.
func NewSessionManager(fetcher StateFetcher, factory SubscriberFactory) *SessionManager {
	return &SessionManager{
		fetcher:  fetcher,
		factory:  factory,
		sessions: make(map[string]*Session),
	}
}

// Open returns the live session for auctionID, creating one if needed.
func (m *SessionManager) Open(ctx context.Context, auctionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[auctionID]; ok && !existing.isClosed() {
		return existing, nil
	}

	session, err := OpenSession(ctx, auctionID, m.fetcher, m.factory)
	if err != nil {
		return nil, err
	}
	session.onClose = func() {
		m.mu.Lock()
		if m.sessions[auctionID] == session {
			delete(m.sessions, auctionID)
		}
		m.mu.Unlock()
	}
	m.sessions[auctionID] = session
	return session, nil
}

// Len reports how many sessions are live.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
