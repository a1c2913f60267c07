package expiry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/bidwire/go/internal/models"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu       sync.Mutex
	auctions []models.Auction
}

func (f *fakeSource) ListLiveAuctions(context.Context) ([]models.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Auction, len(f.auctions))
	copy(out, f.auctions)
	return out, nil
}

func (f *fakeSource) add(a models.Auction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auctions = append(f.auctions, a)
}

func (f *fakeSource) remove(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.auctions[:0]
	removed := false
	for _, a := range f.auctions {
		if a.ID == id {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	f.auctions = kept
	return removed
}

type fakeCloser struct {
	source *fakeSource
	closed chan uuid.UUID
}

func (f *fakeCloser) CloseExpired(_ context.Context, auctionID uuid.UUID) (bool, error) {
	// Mirror the real service: the close happens once, repeats are no-ops.
	if !f.source.remove(auctionID) {
		return false, nil
	}
	f.closed <- auctionID
	return true, nil
}

func liveAuction(endsAt time.Time) models.Auction {
	return models.Auction{
		ID:     uuid.New(),
		Status: models.AuctionStatusLive,
		EndsAt: endsAt,
	}
}

func newTestOrchestrator(source *fakeSource, closer *fakeCloser, clock Clock) *Orchestrator {
	o := NewOrchestrator(source, closer)
	o.clock = clock
	return o
}

func waitClosed(t *testing.T, closed chan uuid.UUID, want uuid.UUID) {
	t.Helper()
	select {
	case got := <-closed:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auction close")
	}
}

func TestOrchestratorClosesAuctionAtDeadline(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testBase)
	source := &fakeSource{}
	closer := &fakeCloser{source: source, closed: make(chan uuid.UUID, 8)}

	a := liveAuction(testBase.Add(time.Hour))
	source.add(a)

	o := newTestOrchestrator(source, closer, clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Hour + time.Second)
	waitClosed(t, closer.closed, a.ID)

	cancel()
	<-done
}

func TestOrchestratorClosesAlreadyExpiredAuctionImmediately(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testBase)
	source := &fakeSource{}
	closer := &fakeCloser{source: source, closed: make(chan uuid.UUID, 8)}

	a := liveAuction(testBase.Add(-time.Minute))
	source.add(a)

	o := newTestOrchestrator(source, closer, clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()

	// No clock advance needed: the deadline is already in the past.
	waitClosed(t, closer.closed, a.ID)

	cancel()
	<-done
}

func TestOrchestratorWakePicksUpNewListing(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testBase)
	source := &fakeSource{}
	closer := &fakeCloser{source: source, closed: make(chan uuid.UUID, 8)}

	o := newTestOrchestrator(source, closer, clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()

	// Scheduler is idle-polling; a new listing lands and wakes it.
	clock.BlockUntil(1)
	a := liveAuction(testBase.Add(30 * time.Minute))
	source.add(a)
	o.Wake()

	clock.BlockUntil(1)
	clock.Advance(31 * time.Minute)
	waitClosed(t, closer.closed, a.ID)

	cancel()
	<-done
}

func TestOrchestratorHandlesMultipleDeadlinesInOrder(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testBase)
	source := &fakeSource{}
	closer := &fakeCloser{source: source, closed: make(chan uuid.UUID, 8)}

	early := liveAuction(testBase.Add(10 * time.Minute))
	late := liveAuction(testBase.Add(20 * time.Minute))
	source.add(early)
	source.add(late)

	o := newTestOrchestrator(source, closer, clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()

	clock.BlockUntil(1)
	clock.Advance(11 * time.Minute)
	waitClosed(t, closer.closed, early.ID)

	clock.BlockUntil(1)
	clock.Advance(10 * time.Minute)
	waitClosed(t, closer.closed, late.ID)

	cancel()
	<-done
}
