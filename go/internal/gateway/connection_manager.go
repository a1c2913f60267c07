package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gavelhq/bidwire/go/internal/outbox"
)

// topicKey identifies one fan-out pool: an auction room or a user inbox.
type topicKey struct {
	kind outbox.TopicKind
	id   uuid.UUID
}

// ConnectionManager owns the WebSocket connection pools and fans broadcast
// messages out to them. Frames are forwarded verbatim, so a slow client only
// costs its own buffer.
type ConnectionManager struct {
	pools map[topicKey]map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
}

// Connection is one WebSocket client subscribed to a single topic.
type Connection struct {
	ID      string
	UserID  uuid.UUID
	Topic   topicKey
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time

	// sendMu serializes Send against its close: a broadcast racing an
	// unregister must never send on a closed channel.
	sendMu sync.Mutex
	closed bool
}

// trySend queues one frame without blocking. It reports false when the send
// buffer is full; frames for an already-closed connection are dropped.
func (c *Connection) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes Send exactly once. writePump sees the close, writes the
// close frame and tears the socket down.
func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage carries one already-encoded event frame to a topic pool.
type BroadcastMessage struct {
	Topic topicKey
	Data  []byte
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		pools: make(map[topicKey]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcast messages until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeAuction upgrades the request to a WebSocket subscribed to one
// auction's event feed.
func (cm *ConnectionManager) UpgradeAuction(w http.ResponseWriter, r *http.Request, userID, auctionID uuid.UUID) error {
	return cm.upgrade(w, r, userID, topicKey{kind: outbox.TopicAuction, id: auctionID})
}

// UpgradeInbox upgrades the request to a WebSocket subscribed to the user's
// own inbox feed.
func (cm *ConnectionManager) UpgradeInbox(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error {
	return cm.upgrade(w, r, userID, topicKey{kind: outbox.TopicUser, id: userID})
}

func (cm *ConnectionManager) upgrade(w http.ResponseWriter, r *http.Request, userID uuid.UUID, topic topicKey) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Topic:       topic,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID.String()).
		Str("topic_kind", string(topic.kind)).
		Str("topic_id", topic.id.String()).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.pools[conn.Topic] == nil {
		cm.pools[conn.Topic] = make(map[*Connection]bool)
	}
	cm.pools[conn.Topic][conn] = true
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if pool, exists := cm.pools[conn.Topic]; exists {
		if _, exists := pool[conn]; exists {
			delete(pool, conn)
			conn.closeSend()

			if len(pool) == 0 {
				delete(cm.pools, conn.Topic)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("topic_kind", string(conn.Topic.kind)).
				Str("topic_id", conn.Topic.id.String()).
				Msg("connection unregistered")
		}
	}
}

// BroadcastToAuction sends one encoded frame to everyone watching an auction.
func (cm *ConnectionManager) BroadcastToAuction(auctionID uuid.UUID, data []byte) {
	cm.broadcast(topicKey{kind: outbox.TopicAuction, id: auctionID}, data)
}

// BroadcastToUser sends one encoded frame to a user's inbox connections.
func (cm *ConnectionManager) BroadcastToUser(userID uuid.UUID, data []byte) {
	cm.broadcast(topicKey{kind: outbox.TopicUser, id: userID}, data)
}

func (cm *ConnectionManager) broadcast(topic topicKey, data []byte) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Topic: topic, Data: data}:
	default:
		log.Warn().
			Str("topic_kind", string(topic.kind)).
			Str("topic_id", topic.id.String()).
			Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	pool, exists := cm.pools[message.Topic]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot so the lock is not held during sends.
	targets := make([]*Connection, 0, len(pool))
	for conn := range pool {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		if !conn.trySend(message.Data) {
			// Connection is slow/dead; unregister closes Send, which makes
			// writePump shut the socket down.
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
		}
	}
}

// ConnectionStats reports pool sizes for the stats endpoint.
func (cm *ConnectionManager) ConnectionStats() (total int, topics int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, pool := range cm.pools {
		total += len(pool)
	}
	return total, len(cm.pools)
}

// writePump sends frames and pings until the connection dies.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames. The feed is one-way; anything the client
// sends besides pongs is logged and dropped.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		log.Debug().
			Str("connection_id", c.ID).
			Int("bytes", len(message)).
			Msg("ignoring client message on one-way feed")
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
