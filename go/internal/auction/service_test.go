package auction

import (
	"context"
	"sort"
	"time"

	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/bidwire/go/internal/models"
	"github.com/gavelhq/bidwire/go/internal/outbox"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeStore keeps everything in memory and satisfies both Storage and Repo.
// InTx just runs fn against the same maps; there is nothing to roll back in
// these tests because assertions only follow successful calls.
type fakeStore struct {
	auctions      map[uuid.UUID]models.Auction
	bids          []models.Bid
	chat          []models.ChatMessage
	notifications []models.Notification
	profiles      map[uuid.UUID]models.Profile
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		auctions: make(map[uuid.UUID]models.Auction),
		profiles: make(map[uuid.UUID]models.Profile),
	}
}

func (f *fakeStore) Repo() Repo { return f }

func (f *fakeStore) InTx(ctx context.Context, fn func(repo Repo, tx pgx.Tx) error) error {
	return fn(f, nil)
}

func (f *fakeStore) GetAuction(_ context.Context, id uuid.UUID) (models.Auction, error) {
	a, ok := f.auctions[id]
	if !ok {
		return models.Auction{}, ErrAuctionNotFound
	}
	return a, nil
}

func (f *fakeStore) GetAuctionForUpdate(ctx context.Context, id uuid.UUID) (models.Auction, error) {
	return f.GetAuction(ctx, id)
}

func (f *fakeStore) InsertAuction(_ context.Context, a models.Auction) error {
	f.auctions[a.ID] = a
	return nil
}

func (f *fakeStore) UpdateCurrentPrice(_ context.Context, id uuid.UUID, price int64) error {
	a := f.auctions[id]
	if a.CurrentPrice < price {
		a.CurrentPrice = price
		f.auctions[id] = a
	}
	return nil
}

func (f *fakeStore) MarkBought(_ context.Context, id, buyerID uuid.UUID) error {
	a := f.auctions[id]
	if a.BoughtBy == nil {
		a.BoughtBy = &buyerID
		a.Status = models.AuctionStatusEnded
		f.auctions[id] = a
	}
	return nil
}

func (f *fakeStore) MarkEnded(_ context.Context, id uuid.UUID) error {
	a := f.auctions[id]
	a.Status = models.AuctionStatusEnded
	f.auctions[id] = a
	return nil
}

func (f *fakeStore) ListLive(_ context.Context) ([]models.Auction, error) {
	var live []models.Auction
	for _, a := range f.auctions {
		if a.Status == models.AuctionStatusLive && a.BoughtBy == nil {
			live = append(live, a)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].EndsAt.Before(live[j].EndsAt) })
	return live, nil
}

func (f *fakeStore) InsertBid(_ context.Context, b models.Bid) error {
	f.bids = append(f.bids, b)
	return nil
}

func (f *fakeStore) ListBids(_ context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	var bids []models.Bid
	for _, b := range f.bids {
		if b.AuctionID == auctionID {
			bids = append(bids, b)
		}
	}
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].Amount != bids[j].Amount {
			return bids[i].Amount > bids[j].Amount
		}
		return bids[i].CreatedAt.Before(bids[j].CreatedAt)
	})
	return bids, nil
}

func (f *fakeStore) TopBid(ctx context.Context, auctionID uuid.UUID) (models.Bid, bool, error) {
	bids, _ := f.ListBids(ctx, auctionID)
	if len(bids) == 0 {
		return models.Bid{}, false, nil
	}
	return bids[0], true, nil
}

func (f *fakeStore) InsertChatMessage(_ context.Context, m models.ChatMessage) error {
	f.chat = append(f.chat, m)
	return nil
}

func (f *fakeStore) ListChat(_ context.Context, auctionID uuid.UUID) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	for _, m := range f.chat {
		if m.AuctionID == auctionID {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

func (f *fakeStore) GetProfile(_ context.Context, userID uuid.UUID) (models.Profile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return models.Profile{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) AdjustBalance(_ context.Context, userID uuid.UUID, delta int64) error {
	p, ok := f.profiles[userID]
	if !ok {
		return pgx.ErrNoRows
	}
	p.Balance += delta
	f.profiles[userID] = p
	return nil
}

func (f *fakeStore) InsertNotification(_ context.Context, n models.Notification) error {
	f.notifications = append(f.notifications, n)
	return nil
}

type testEnv struct {
	svc    *Service
	store  *fakeStore
	clock  *clockwork.FakeClock
	events []outbox.Event
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store: newFakeStore(),
		clock: clockwork.NewFakeClockAt(testBase),
	}
	env.svc = NewService(env.store, env.clock)
	env.svc.enqueue = func(_ context.Context, _ pgx.Tx, event outbox.Event) error {
		env.events = append(env.events, event)
		return nil
	}
	return env
}

func (e *testEnv) addProfile(balance int64) uuid.UUID {
	id := uuid.New()
	e.store.profiles[id] = models.Profile{ID: id, DisplayName: "user", Balance: balance}
	return id
}

func (e *testEnv) addLiveAuction(sellerID uuid.UUID, price int64, endsAt time.Time) models.Auction {
	a := models.Auction{
		ID:            uuid.New(),
		SellerID:      sellerID,
		Title:         "vintage lens",
		StartingPrice: price,
		CurrentPrice:  price,
		Status:        models.AuctionStatusLive,
		EndsAt:        endsAt,
		CreatedAt:     testBase,
	}
	e.store.auctions[a.ID] = a
	return a
}

func (e *testEnv) eventTypes() []string {
	types := make([]string, len(e.events))
	for i, ev := range e.events {
		types[i] = ev.EventType
	}
	return types
}

func TestPlaceBidRaisesPriceAndEmitsEvents(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addProfile(0)
	bidder := env.addProfile(10_000)
	a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

	bid, err := env.svc.PlaceBid(context.Background(), a.ID, bidder, 600)
	require.NoError(t, err)
	require.Equal(t, int64(600), bid.Amount)

	require.Equal(t, int64(600), env.store.auctions[a.ID].CurrentPrice)
	require.Len(t, env.store.bids, 1)
	require.Len(t, env.store.chat, 1)
	require.Equal(t, models.ChatMessageBid, env.store.chat[0].Kind)
	require.Equal(t, &bid.ID, env.store.chat[0].BidID)

	require.Equal(t, []string{
		outbox.EventTypeBidPlaced,
		outbox.EventTypeAuctionUpdated,
		outbox.EventTypeChatPosted,
	}, env.eventTypes())
	require.Empty(t, env.store.notifications, "first bid outbids nobody")
}

func TestPlaceBidNotifiesOutbidBidder(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addProfile(0)
	first := env.addProfile(10_000)
	second := env.addProfile(10_000)
	a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

	_, err := env.svc.PlaceBid(context.Background(), a.ID, first, 600)
	require.NoError(t, err)

	_, err = env.svc.PlaceBid(context.Background(), a.ID, second, 700)
	require.NoError(t, err)

	require.Len(t, env.store.notifications, 1)
	n := env.store.notifications[0]
	require.Equal(t, first, n.UserID)
	require.Equal(t, models.NotificationOutbid, n.Kind)

	var userEvents []outbox.Event
	for _, ev := range env.events {
		if ev.TopicKind == outbox.TopicUser {
			userEvents = append(userEvents, ev)
		}
	}
	require.Len(t, userEvents, 1)
	require.Equal(t, outbox.EventTypeNotificationCreated, userEvents[0].EventType)
	require.Equal(t, first, userEvents[0].TopicID)
}

func TestPlaceBidSelfRaiseDoesNotNotify(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addProfile(0)
	bidder := env.addProfile(10_000)
	a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

	_, err := env.svc.PlaceBid(context.Background(), a.ID, bidder, 600)
	require.NoError(t, err)
	_, err = env.svc.PlaceBid(context.Background(), a.ID, bidder, 700)
	require.NoError(t, err)

	require.Empty(t, env.store.notifications)
}

func TestPlaceBidPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(env *testEnv, a *models.Auction, bidder uuid.UUID)
		amount  int64
		wantErr error
	}{
		{
			name: "sold auction",
			setup: func(env *testEnv, a *models.Auction, bidder uuid.UUID) {
				buyer := uuid.New()
				a.BoughtBy = &buyer
				a.Status = models.AuctionStatusEnded
			},
			amount:  600,
			wantErr: ErrAuctionSold,
		},
		{
			name: "ended status",
			setup: func(env *testEnv, a *models.Auction, bidder uuid.UUID) {
				a.Status = models.AuctionStatusEnded
			},
			amount:  600,
			wantErr: ErrAuctionEnded,
		},
		{
			name: "scheduled auction",
			setup: func(env *testEnv, a *models.Auction, bidder uuid.UUID) {
				a.Status = models.AuctionStatusScheduled
			},
			amount:  600,
			wantErr: ErrAuctionNotLive,
		},
		{
			name: "deadline passed",
			setup: func(env *testEnv, a *models.Auction, bidder uuid.UUID) {
				env.clock.Advance(2 * time.Hour)
			},
			amount:  600,
			wantErr: ErrAuctionEnded,
		},
		{
			name: "bid at current price",
			setup: func(env *testEnv, a *models.Auction, bidder uuid.UUID) {
			},
			amount:  500,
			wantErr: ErrBidTooLow,
		},
		{
			name: "insufficient funds",
			setup: func(env *testEnv, a *models.Auction, bidder uuid.UUID) {
				env.store.profiles[bidder] = models.Profile{ID: bidder, Balance: 100}
			},
			amount:  600,
			wantErr: ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			seller := env.addProfile(0)
			bidder := env.addProfile(10_000)
			a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

			tt.setup(env, &a, bidder)
			env.store.auctions[a.ID] = a

			_, err := env.svc.PlaceBid(context.Background(), a.ID, bidder, tt.amount)
			require.ErrorIs(t, err, tt.wantErr)

			require.Empty(t, env.store.bids, "rejected bid must not be recorded")
			require.Empty(t, env.events, "rejected bid must not emit events")
		})
	}
}

func TestPlaceBidBySellerRejected(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addProfile(10_000)
	a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

	_, err := env.svc.PlaceBid(context.Background(), a.ID, seller, 600)
	require.ErrorIs(t, err, ErrSelfBid)
}

func TestPlaceBidUnknownAuction(t *testing.T) {
	env := newTestEnv(t)
	bidder := env.addProfile(10_000)

	_, err := env.svc.PlaceBid(context.Background(), uuid.New(), bidder, 600)
	require.ErrorIs(t, err, ErrAuctionNotFound)
}

func TestBuyNowEndsAuctionAndNotifiesSeller(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addProfile(0)
	buyer := env.addProfile(10_000)
	a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

	bought, err := env.svc.BuyNow(context.Background(), a.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, models.AuctionStatusEnded, bought.Status)
	require.NotNil(t, bought.BoughtBy)
	require.Equal(t, buyer, *bought.BoughtBy)

	require.Equal(t, []string{
		outbox.EventTypeAuctionUpdated,
		outbox.EventTypeNotificationCreated,
	}, env.eventTypes())

	require.Len(t, env.store.notifications, 1)
	require.Equal(t, seller, env.store.notifications[0].UserID)

	// The item is gone; a second buyer loses the race.
	_, err = env.svc.BuyNow(context.Background(), a.ID, env.addProfile(10_000))
	require.ErrorIs(t, err, ErrAuctionSold)
}

func TestBuyNowTransfersBalance(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addProfile(100)
	buyer := env.addProfile(700)
	a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

	_, err := env.svc.BuyNow(context.Background(), a.ID, buyer)
	require.NoError(t, err)

	require.Equal(t, int64(200), env.store.profiles[buyer].Balance)
	require.Equal(t, int64(600), env.store.profiles[seller].Balance)
}

func TestBuyNowInsufficientFundsLeavesBalancesAlone(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addProfile(100)
	buyer := env.addProfile(499)
	a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

	_, err := env.svc.BuyNow(context.Background(), a.ID, buyer)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	require.Equal(t, int64(499), env.store.profiles[buyer].Balance)
	require.Equal(t, int64(100), env.store.profiles[seller].Balance)
	require.Empty(t, env.events)
}

func TestPostChatMessage(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addProfile(0)
	author := env.addProfile(0)
	a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

	_, err := env.svc.PostChatMessage(context.Background(), a.ID, author, "   ")
	require.ErrorIs(t, err, ErrEmptyChatMessage)

	msg, err := env.svc.PostChatMessage(context.Background(), a.ID, author, "nice lens")
	require.NoError(t, err)
	require.Equal(t, models.ChatMessageText, msg.Kind)
	require.Equal(t, "nice lens", msg.Body)
	require.Equal(t, []string{outbox.EventTypeChatPosted}, env.eventTypes())

	_, err = env.svc.PostChatMessage(context.Background(), uuid.New(), author, "hello")
	require.ErrorIs(t, err, ErrAuctionNotFound)
}

func TestCloseExpired(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addProfile(0)
	bidder := env.addProfile(10_000)
	a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

	_, err := env.svc.PlaceBid(context.Background(), a.ID, bidder, 600)
	require.NoError(t, err)
	env.events = nil
	env.store.notifications = nil

	// Deadline not reached yet.
	closed, err := env.svc.CloseExpired(context.Background(), a.ID)
	require.NoError(t, err)
	require.False(t, closed)

	env.clock.Advance(2 * time.Hour)

	closed, err = env.svc.CloseExpired(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, closed)
	require.Equal(t, models.AuctionStatusEnded, env.store.auctions[a.ID].Status)

	require.Equal(t, []string{
		outbox.EventTypeAuctionUpdated,
		outbox.EventTypeNotificationCreated,
	}, env.eventTypes())
	require.Len(t, env.store.notifications, 1)
	require.Equal(t, bidder, env.store.notifications[0].UserID)
	require.Equal(t, models.NotificationWon, env.store.notifications[0].Kind)

	// Second close is a no-op.
	env.events = nil
	closed, err = env.svc.CloseExpired(context.Background(), a.ID)
	require.NoError(t, err)
	require.False(t, closed)
	require.Empty(t, env.events)
}

func TestCloseExpiredSkipsSoldAuction(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addProfile(0)
	buyer := env.addProfile(10_000)
	a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

	_, err := env.svc.BuyNow(context.Background(), a.ID, buyer)
	require.NoError(t, err)
	env.events = nil

	env.clock.Advance(2 * time.Hour)
	closed, err := env.svc.CloseExpired(context.Background(), a.ID)
	require.NoError(t, err)
	require.False(t, closed)
	require.Empty(t, env.events)
}

func TestGetAuctionState(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addProfile(0)
	bidder := env.addProfile(10_000)
	a := env.addLiveAuction(seller, 500, testBase.Add(time.Hour))

	_, err := env.svc.PlaceBid(context.Background(), a.ID, bidder, 600)
	require.NoError(t, err)

	state, err := env.svc.GetAuctionState(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, state.Auction.ID)
	require.Equal(t, int64(600), state.Auction.CurrentPrice)
	require.Len(t, state.Bids, 1)
	require.Len(t, state.Chat, 1)

	_, err = env.svc.GetAuctionState(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrAuctionNotFound)
}
