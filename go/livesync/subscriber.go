package livesync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler receives each decoded event in delivery order. Invocations are
// serialized; the reconciler's locking handles the rest.
type Handler func(Event)

// ResyncFunc runs after a successful reconnect, before event delivery
// resumes, so the caller can pull a fresh snapshot and close the gap opened
// while disconnected.
type ResyncFunc func(ctx context.Context) error

// SubscriberConfig holds configuration for one event subscription.
type SubscriberConfig struct {
	URL           string // ws:// or wss:// endpoint including topic query
	Token         string
	Dialer        *websocket.Dialer
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	MaxReconnects int // < 0 means retry forever
}

// DefaultSubscriberConfig returns defaults mirroring the backend's own
// reconnect cadence.
func DefaultSubscriberConfig(url, token string) SubscriberConfig {
	return SubscriberConfig{
		URL:           url,
		Token:         token,
		Dialer:        websocket.DefaultDialer,
		BackoffBase:   500 * time.Millisecond,
		BackoffMax:    30 * time.Second,
		MaxReconnects: -1,
	}
}

// Subscriber maintains a long-lived subscription to one event feed. The
// transport handle is injected at construction, never a process-wide
// singleton, so independent subscriptions are testable in isolation.
//
// Close is idempotent and guarantees no handler invocation after it returns.
type Subscriber struct {
	cfg     SubscriberConfig
	handler Handler
	resync  ResyncFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cancel context.CancelFunc

	// deliverMu serializes handler calls; Close acquires it once to wait out
	// any in-flight delivery.
	deliverMu sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewSubscriber creates a subscriber. handler must not be nil; resync may be
// nil if the caller has no snapshot to refresh.
func NewSubscriber(cfg SubscriberConfig, handler Handler, resync ResyncFunc) *Subscriber {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Subscriber{
		cfg:     cfg,
		handler: handler,
		resync:  resync,
		done:    make(chan struct{}),
	}
}

// Start dials the feed. The first dial is synchronous so a bad endpoint
// surfaces immediately; after that the subscriber owns reconnection.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.handler == nil {
		return fmt.Errorf("subscriber handler is required")
	}

	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrSessionClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		cancel()
		close(s.done)
		return fmt.Errorf("failed to connect event feed: %w", err)
	}
	s.setConn(conn)

	go s.run(ctx, conn)
	return nil
}

// Close tears down the subscription. Safe to call multiple times; when it
// returns, no further handler invocations will occur.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close()
		}

		// Wait for any in-flight handler call to finish.
		s.deliverMu.Lock()
		s.deliverMu.Unlock()
	})
	return nil
}

// Done is closed when the subscriber's read loop has exited for good.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)

	for {
		s.readLoop(conn)

		if s.isClosed() || ctx.Err() != nil {
			return
		}
		log.Warn().Str("url", s.cfg.URL).Msg("event feed disconnected")

		conn = s.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

func (s *Subscriber) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Msg("dropping undecodable event frame")
			continue
		}
		s.deliver(ev)
	}
}

func (s *Subscriber) deliver(ev Event) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.isClosed() {
		return
	}
	s.handler(ev)
}

// reconnect retries with capped exponential backoff. After a successful dial
// it runs the resync hook before returning, so the snapshot is fresh before
// any new event applies. Returns nil when closed or out of attempts.
func (s *Subscriber) reconnect(ctx context.Context) *websocket.Conn {
	delay := s.cfg.BackoffBase

	for attempt := 1; s.cfg.MaxReconnects < 0 || attempt <= s.cfg.MaxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := s.dial(ctx)
		if err == nil {
			if s.resync != nil {
				if rerr := s.resync(ctx); rerr != nil {
					log.Warn().Err(rerr).Msg("resync after reconnect failed, retrying")
					conn.Close()
					continue
				}
			}
			log.Info().
				Str("url", s.cfg.URL).
				Int("attempt", attempt).
				Msg("event feed reconnected")
			s.setConn(conn)
			return conn
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("next_delay", delay).
			Msg("event feed reconnect failed")

		delay *= 2
		if delay > s.cfg.BackoffMax {
			delay = s.cfg.BackoffMax
		}
	}

	log.Error().Str("url", s.cfg.URL).Msg("event feed reconnect attempts exhausted")
	return nil
}

func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Subscriber) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return
	}
	s.conn = conn
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
