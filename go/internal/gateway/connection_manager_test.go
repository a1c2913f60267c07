package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/bidwire/go/internal/outbox"
)

func newTestConnection(cm *ConnectionManager, topic topicKey) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		UserID:      uuid.New(),
		Topic:       topic,
		Send:        make(chan []byte, 64),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
}

// A client disconnect must never crash a broadcast that is already in flight:
// pumps unregister the connection while handleBroadcast holds a snapshot of
// the pool, so the send and the close race on every disconnect.
func TestBroadcastRacingUnregister(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	topic := topicKey{kind: outbox.TopicAuction, id: uuid.New()}
	frame := []byte(`{"type":"AuctionUpdated"}`)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					cm.handleBroadcast(BroadcastMessage{Topic: topic, Data: frame})
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		conn := newTestConnection(cm, topic)
		cm.registerConnection(conn)
		cm.unregisterConnection(conn)
	}

	close(stop)
	wg.Wait()

	total, topics := cm.ConnectionStats()
	require.Zero(t, total)
	require.Zero(t, topics)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	topic := topicKey{kind: outbox.TopicUser, id: uuid.New()}

	conn := newTestConnection(cm, topic)
	cm.registerConnection(conn)

	// Both pumps unregister on exit, so a double call is the normal case.
	cm.unregisterConnection(conn)
	cm.unregisterConnection(conn)

	// Send is closed: writePump gets its shutdown signal.
	_, open := <-conn.Send
	require.False(t, open)

	// Late frames for a closed connection are dropped, not sent.
	require.True(t, conn.trySend([]byte("late")))
}

func TestSlowConnectionIsDropped(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	topic := topicKey{kind: outbox.TopicAuction, id: uuid.New()}
	frame := []byte(`{"type":"BidPlaced"}`)

	conn := newTestConnection(cm, topic)
	conn.Send = make(chan []byte, 1)
	cm.registerConnection(conn)

	// First frame fills the buffer; the second marks the connection slow and
	// unregisters it.
	cm.handleBroadcast(BroadcastMessage{Topic: topic, Data: frame})
	cm.handleBroadcast(BroadcastMessage{Topic: topic, Data: frame})

	total, _ := cm.ConnectionStats()
	require.Zero(t, total)

	// The buffered frame is still readable, then the channel reports closed.
	<-conn.Send
	_, open := <-conn.Send
	require.False(t, open)
}
