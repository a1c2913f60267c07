package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gavelhq/bidwire/go/internal/models"
)

// Clock is the time surface the scheduler needs. Production uses
// clockwork.NewRealClock(); tests use a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Closer ends one auction whose deadline has passed. Implementations must be
// idempotent; the scheduler may fire for the same auction more than once.
type Closer interface {
	CloseExpired(ctx context.Context, auctionID uuid.UUID) (bool, error)
}

// Source lists the live auctions the scheduler watches.
type Source interface {
	ListLiveAuctions(ctx context.Context) ([]models.Auction, error)
}

// Orchestrator sleeps until the soonest live-auction deadline and closes due
// auctions through a small worker pool. Wake() interrupts the sleep when a
// new listing may have a sooner deadline.
type Orchestrator struct {
	source     Source
	closer     Closer
	clock      Clock
	wakeCh     chan struct{}
	instanceID string

	numWorkers int
	workCh     chan uuid.UUID

	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

const idlePollDuration = 5 * time.Second

// NewOrchestrator creates an expiry orchestrator.
func NewOrchestrator(source Source, closer Closer) *Orchestrator {
	numWorkers := 4
	return &Orchestrator{
		source:     source,
		closer:     closer,
		clock:      clockwork.NewRealClock(),
		wakeCh:     make(chan struct{}, 1),
		instanceID: uuid.New().String()[:8],

		numWorkers: numWorkers,
		workCh:     make(chan uuid.UUID, numWorkers*2),
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// Wake nudges the scheduler to re-read deadlines, e.g. after a new listing.
func (o *Orchestrator) Wake() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled, sleeping until the next deadline and
// dispatching due auctions to the worker pool.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().Str("instance", o.instanceID).Int("workers", o.numWorkers).Msg("expiry scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer func() {
		cancelWorkers()
		close(o.workCh)
		wg.Wait()
		log.Info().Str("instance", o.instanceID).Msg("expiry scheduler stopped")
	}()

	for i := 0; i < o.numWorkers; i++ {
		wg.Add(1)
		go o.worker(workerCtx, &wg, i)
	}

	// Armed with a placeholder; sleep() resets it before every wait.
	timer := o.clock.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		// Drain a stale wake so it cannot cause a tight loop.
		select {
		case <-o.wakeCh:
		default:
		}

		live, err := o.source.ListLiveAuctions(ctx)
		if err != nil {
			log.Error().Err(err).Str("instance", o.instanceID).Msg("failed to list live auctions")
			if !o.sleep(ctx, timer, time.Second) {
				return nil
			}
			continue
		}

		now := o.clock.Now()
		next := time.Time{}
		queued := 0
		for _, a := range live {
			if a.EndsAt.After(now) {
				if next.IsZero() || a.EndsAt.Before(next) {
					next = a.EndsAt
				}
				continue
			}
			if o.queue(ctx, a.ID) {
				queued++
			} else if ctx.Err() != nil {
				return nil
			}
		}
		if queued > 0 {
			log.Info().Int("count_due", queued).Str("instance", o.instanceID).Msg("queued due auctions")
		}

		wait := idlePollDuration
		if !next.IsZero() {
			wait = next.Sub(o.clock.Now())
			if wait < 0 {
				wait = 0
			}
		}
		if !o.sleep(ctx, timer, wait) {
			return nil
		}
	}
}

// sleep waits for d, a wake, or shutdown. Returns false on shutdown.
func (o *Orchestrator) sleep(ctx context.Context, timer clockwork.Timer, d time.Duration) bool {
	timer.Reset(d)
	select {
	case <-timer.Chan():
		return true
	case <-o.wakeCh:
		if !timer.Stop() {
			select {
			case <-timer.Chan():
			default:
			}
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// queue hands one due auction to the pool unless it is already in flight.
func (o *Orchestrator) queue(ctx context.Context, auctionID uuid.UUID) bool {
	o.inFlightMu.Lock()
	if o.inFlight[auctionID] {
		o.inFlightMu.Unlock()
		return false
	}
	o.inFlight[auctionID] = true
	o.inFlightMu.Unlock()

	select {
	case o.workCh <- auctionID:
		return true
	case <-ctx.Done():
		o.inFlightMu.Lock()
		delete(o.inFlight, auctionID)
		o.inFlightMu.Unlock()
		return false
	}
}

func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case auctionID, ok := <-o.workCh:
			if !ok {
				return
			}

			closed, err := o.closer.CloseExpired(ctx, auctionID)
			if err != nil {
				log.Error().
					Err(err).
					Str("auction_id", auctionID.String()).
					Int("worker_id", workerID).
					Msg("failed to close expired auction")
			} else if closed {
				log.Info().
					Str("auction_id", auctionID.String()).
					Int("worker_id", workerID).
					Msg("closed expired auction")
			}

			o.inFlightMu.Lock()
			delete(o.inFlight, auctionID)
			o.inFlightMu.Unlock()
		}
	}
}
