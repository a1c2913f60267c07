package livesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu     sync.Mutex
	state  AuctionState
	err    error
	calls  int
	gate   chan struct{} // when non-nil, FetchAuctionState blocks until closed
}

func (f *fakeFetcher) FetchAuctionState(ctx context.Context, auctionID string) (*AuctionState, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	state := f.state
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	out := state
	return &out, nil
}

func (f *fakeFetcher) setState(state AuctionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testAuctionState() AuctionState {
	return AuctionState{
		Auction: testSnapshot(),
		Bids: []BidRecord{
			bidAt("seed", 500, time.Now().Add(-time.Minute)),
		},
		Chat: []ChatMessage{
			{ID: "m1", AuctionID: "a1", AuthorID: "u9", Kind: ChatKindText, Body: "good luck", CreatedAt: NewTimestamp(time.Now().Add(-time.Minute))},
		},
	}
}

func sessionFactory(t *testing.T, server *wsTestServer) SubscriberFactory {
	t.Helper()
	return func(auctionID string, handler Handler, resync ResyncFunc) *Subscriber {
		return NewSubscriber(fastSubscriberConfig(server.url()), handler, resync)
	}
}

func TestOpenSession_SnapshotAppliedBeforeEvents(t *testing.T) {
	server := newWSTestServer(t)
	fetcher := &fakeFetcher{state: testAuctionState()}

	session, err := OpenSession(context.Background(), "a1", fetcher, sessionFactory(t, server))
	require.NoError(t, err)
	defer session.Close()

	view := session.View()
	require.Equal(t, int64(500), view.Snapshot.CurrentPrice)
	require.Len(t, view.Bids, 1)
	require.Len(t, view.Chat, 1)

	conn := server.accept(t)
	server.send(t, conn, bidEvent("b-510", 510))

	require.Eventually(t, func() bool {
		return session.Snapshot().CurrentPrice == 510
	}, 5*time.Second, 10*time.Millisecond)
}

func TestOpenSession_FetchFailurePropagates(t *testing.T) {
	server := newWSTestServer(t)
	fetcher := &fakeFetcher{err: ErrNotFound}

	_, err := OpenSession(context.Background(), "missing", fetcher, sessionFactory(t, server))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSession_DuplicateEventCountsOnce(t *testing.T) {
	server := newWSTestServer(t)
	fetcher := &fakeFetcher{state: testAuctionState()}

	session, err := OpenSession(context.Background(), "a1", fetcher, sessionFactory(t, server))
	require.NoError(t, err)
	defer session.Close()

	conn := server.accept(t)
	ev := bidEvent("b-dup", 510)
	server.send(t, conn, ev)
	server.send(t, conn, ev)
	server.send(t, conn, bidEvent("b-final", 520))

	require.Eventually(t, func() bool {
		return session.Snapshot().CurrentPrice == 520
	}, 5*time.Second, 10*time.Millisecond)

	// seed + b-dup (once) + b-final
	require.Len(t, session.View().Bids, 3)
}

func TestSession_OutOfOrderBidsConverge(t *testing.T) {
	server := newWSTestServer(t)
	fetcher := &fakeFetcher{state: testAuctionState()}

	session, err := OpenSession(context.Background(), "a1", fetcher, sessionFactory(t, server))
	require.NoError(t, err)
	defer session.Close()

	conn := server.accept(t)
	// 505 delivered before 510.
	server.send(t, conn, bidEvent("b-505", 505))
	server.send(t, conn, bidEvent("b-510", 510))

	require.Eventually(t, func() bool {
		return len(session.View().Bids) == 3
	}, 5*time.Second, 10*time.Millisecond)

	view := session.View()
	require.Equal(t, int64(510), view.Snapshot.CurrentPrice)
	require.Equal(t, int64(510), view.Bids[0].Amount)
	require.Equal(t, int64(505), view.Bids[1].Amount)
}

func TestSession_ForceResyncRefreshesSnapshot(t *testing.T) {
	server := newWSTestServer(t)
	fetcher := &fakeFetcher{state: testAuctionState()}

	session, err := OpenSession(context.Background(), "a1", fetcher, sessionFactory(t, server))
	require.NoError(t, err)
	defer session.Close()

	refreshed := testAuctionState()
	refreshed.Auction.CurrentPrice = 999
	fetcher.setState(refreshed)

	require.NoError(t, session.ForceResync(context.Background()))
	require.Equal(t, int64(999), session.Snapshot().CurrentPrice)
}

func TestSession_ResyncAfterCloseIsDropped(t *testing.T) {
	server := newWSTestServer(t)
	fetcher := &fakeFetcher{state: testAuctionState()}

	session, err := OpenSession(context.Background(), "a1", fetcher, sessionFactory(t, server))
	require.NoError(t, err)

	before := session.Snapshot()
	require.NoError(t, session.Close())

	refreshed := testAuctionState()
	refreshed.Auction.CurrentPrice = 999
	fetcher.setState(refreshed)

	// The fetch resolves after close; its result must be silently dropped.
	require.NoError(t, session.ForceResync(context.Background()))
	require.Equal(t, before.CurrentPrice, session.Snapshot().CurrentPrice)
}

func TestSessionManager_SingleLiveSessionPerAuction(t *testing.T) {
	server := newWSTestServer(t)
	fetcher := &fakeFetcher{state: testAuctionState()}
	manager := NewSessionManager(fetcher, sessionFactory(t, server))

	first, err := manager.Open(context.Background(), "a1")
	require.NoError(t, err)

	second, err := manager.Open(context.Background(), "a1")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, manager.Len())
	require.Equal(t, 1, fetcher.callCount())

	require.NoError(t, first.Close())
	require.Equal(t, 0, manager.Len())

	third, err := manager.Open(context.Background(), "a1")
	require.NoError(t, err)
	require.NotSame(t, first, third)
	defer third.Close()
}
