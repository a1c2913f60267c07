package auction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gavelhq/bidwire/go/internal/models"
	"github.com/gavelhq/bidwire/go/internal/outbox"
)

// Storage opens transactions and plain reads for the service.
type Storage interface {
	Repo() Repo
	InTx(ctx context.Context, fn func(repo Repo, tx pgx.Tx) error) error
}

// EnqueueFunc writes an outbox event inside the caller's transaction.
type EnqueueFunc func(ctx context.Context, tx pgx.Tx, event outbox.Event) error

// Service owns auction writes. Every mutation runs under a FOR UPDATE row
// lock on the auction and emits its events through the transactional outbox,
// so state change and event are atomic.
type Service struct {
	store   Storage
	clock   clockwork.Clock
	enqueue EnqueueFunc
}

// NewService creates an auction service.
func NewService(store Storage, clock clockwork.Clock) *Service {
	return &Service{
		store:   store,
		clock:   clock,
		enqueue: outbox.Enqueue,
	}
}

// State is the authoritative point-in-time read of one auction.
type State struct {
	Auction models.Auction       `json:"auction"`
	Bids    []models.Bid         `json:"bids"`
	Chat    []models.ChatMessage `json:"chat"`
}

// GetAuctionState reads the snapshot, bid history and chat transcript.
func (s *Service) GetAuctionState(ctx context.Context, auctionID uuid.UUID) (State, error) {
	repo := s.store.Repo()

	a, err := repo.GetAuction(ctx, auctionID)
	if err != nil {
		return State{}, err
	}
	bids, err := repo.ListBids(ctx, auctionID)
	if err != nil {
		return State{}, err
	}
	chat, err := repo.ListChat(ctx, auctionID)
	if err != nil {
		return State{}, err
	}
	return State{Auction: a, Bids: bids, Chat: chat}, nil
}

// ListLiveAuctions returns all live auctions, soonest-ending first.
func (s *Service) ListLiveAuctions(ctx context.Context) ([]models.Auction, error) {
	return s.store.Repo().ListLive(ctx)
}

// CreateAuctionParams are the caller-supplied fields of a new listing.
type CreateAuctionParams struct {
	SellerID      uuid.UUID
	Title         string
	Description   string
	ImageRef      string
	StartingPrice int64
	EndsAt        string // RFC3339
}

// CreateAuction creates a live listing ending at params.EndsAt.
func (s *Service) CreateAuction(ctx context.Context, params CreateAuctionParams) (models.Auction, error) {
	endsAt, err := parseEndsAt(params.EndsAt)
	if err != nil {
		return models.Auction{}, err
	}
	now := s.clock.Now().UTC()
	if !endsAt.After(now) {
		return models.Auction{}, fmt.Errorf("ends_at must be in the future")
	}
	if params.StartingPrice < 0 {
		return models.Auction{}, fmt.Errorf("starting price must not be negative")
	}

	a := models.Auction{
		ID:            uuid.New(),
		SellerID:      params.SellerID,
		Title:         params.Title,
		Description:   params.Description,
		ImageRef:      params.ImageRef,
		StartingPrice: params.StartingPrice,
		CurrentPrice:  params.StartingPrice,
		Status:        models.AuctionStatusLive,
		EndsAt:        endsAt,
		CreatedAt:     now,
	}
	if err := s.store.Repo().InsertAuction(ctx, a); err != nil {
		return models.Auction{}, err
	}

	log.Info().
		Str("auction_id", a.ID.String()).
		Str("seller_id", a.SellerID.String()).
		Time("ends_at", a.EndsAt).
		Msg("auction created")
	return a, nil
}

// PlaceBid validates and records one bid. Preconditions are checked under the
// row lock, so the returned errors are authoritative, not advisory: a bid that
// passes them is committed along with the price raise, the chat marker and the
// outbox events.
func (s *Service) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount int64) (models.Bid, error) {
	var bid models.Bid

	err := s.store.InTx(ctx, func(repo Repo, tx pgx.Tx) error {
		a, err := repo.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := checkBiddable(a, bidderID, s.clock); err != nil {
			return err
		}
		if amount <= a.CurrentPrice {
			return fmt.Errorf("%w: current price is %d", ErrBidTooLow, a.CurrentPrice)
		}

		profile, err := repo.GetProfile(ctx, bidderID)
		if err != nil {
			return err
		}
		if profile.Balance < amount {
			return ErrInsufficientFunds
		}

		prevTop, hadBids, err := repo.TopBid(ctx, auctionID)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		bid = models.Bid{
			ID:        uuid.New(),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: now,
		}
		if err := repo.InsertBid(ctx, bid); err != nil {
			return err
		}
		if err := repo.UpdateCurrentPrice(ctx, auctionID, amount); err != nil {
			return err
		}

		marker := models.ChatMessage{
			ID:        uuid.New(),
			AuctionID: auctionID,
			AuthorID:  bidderID,
			Kind:      models.ChatMessageBid,
			Body:      fmt.Sprintf("placed a bid of %d", amount),
			BidID:     &bid.ID,
			CreatedAt: now,
		}
		if err := repo.InsertChatMessage(ctx, marker); err != nil {
			return err
		}

		if err := s.enqueueEvent(ctx, tx, outbox.TopicAuction, auctionID, outbox.EventTypeBidPlaced, bid); err != nil {
			return err
		}
		price := amount
		update := auctionUpdatePayload{AuctionID: auctionID, CurrentPrice: &price}
		if err := s.enqueueEvent(ctx, tx, outbox.TopicAuction, auctionID, outbox.EventTypeAuctionUpdated, update); err != nil {
			return err
		}
		if err := s.enqueueEvent(ctx, tx, outbox.TopicAuction, auctionID, outbox.EventTypeChatPosted, marker); err != nil {
			return err
		}

		if hadBids && prevTop.BidderID != bidderID {
			if err := s.notify(ctx, repo, tx, models.Notification{
				ID:        uuid.New(),
				UserID:    prevTop.BidderID,
				Kind:      models.NotificationOutbid,
				Title:     "You have been outbid",
				Message:   fmt.Sprintf("Someone bid %d on %s", amount, a.Title),
				Link:      fmt.Sprintf("/auctions/%s", auctionID),
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Bid{}, err
	}

	log.Info().
		Str("auction_id", auctionID.String()).
		Str("bidder_id", bidderID.String()).
		Int64("amount", amount).
		Msg("bid placed")
	return bid, nil
}

// BuyNow purchases the item outright at the current price and ends the
// auction. The buyer wins even if a higher bid lands a moment later; the row
// lock arbitrates. The price moves from the buyer's balance to the seller's
// in the same transaction.
func (s *Service) BuyNow(ctx context.Context, auctionID, buyerID uuid.UUID) (models.Auction, error) {
	var bought models.Auction

	err := s.store.InTx(ctx, func(repo Repo, tx pgx.Tx) error {
		a, err := repo.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := checkBiddable(a, buyerID, s.clock); err != nil {
			return err
		}

		profile, err := repo.GetProfile(ctx, buyerID)
		if err != nil {
			return err
		}
		if profile.Balance < a.CurrentPrice {
			return ErrInsufficientFunds
		}

		if err := repo.MarkBought(ctx, auctionID, buyerID); err != nil {
			return err
		}
		if err := repo.AdjustBalance(ctx, buyerID, -a.CurrentPrice); err != nil {
			return err
		}
		if err := repo.AdjustBalance(ctx, a.SellerID, a.CurrentPrice); err != nil {
			return err
		}
		a.BoughtBy = &buyerID
		a.Status = models.AuctionStatusEnded
		bought = a

		now := s.clock.Now().UTC()
		ended := models.AuctionStatusEnded
		buyer := buyerID.String()
		update := auctionUpdatePayload{AuctionID: auctionID, Status: &ended, BoughtBy: &buyer}
		if err := s.enqueueEvent(ctx, tx, outbox.TopicAuction, auctionID, outbox.EventTypeAuctionUpdated, update); err != nil {
			return err
		}

		return s.notify(ctx, repo, tx, models.Notification{
			ID:        uuid.New(),
			UserID:    a.SellerID,
			Kind:      models.NotificationGeneric,
			Title:     "Item sold",
			Message:   fmt.Sprintf("%s sold for %d", a.Title, a.CurrentPrice),
			Link:      fmt.Sprintf("/auctions/%s", auctionID),
			CreatedAt: now,
		})
	})
	if err != nil {
		return models.Auction{}, err
	}

	log.Info().
		Str("auction_id", auctionID.String()).
		Str("buyer_id", buyerID.String()).
		Int64("price", bought.CurrentPrice).
		Msg("auction bought outright")
	return bought, nil
}

// PostChatMessage appends a user text message to the auction chat.
func (s *Service) PostChatMessage(ctx context.Context, auctionID, authorID uuid.UUID, body string) (models.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return models.ChatMessage{}, ErrEmptyChatMessage
	}

	var msg models.ChatMessage
	err := s.store.InTx(ctx, func(repo Repo, tx pgx.Tx) error {
		if _, err := repo.GetAuction(ctx, auctionID); err != nil {
			return err
		}
		msg = models.ChatMessage{
			ID:        uuid.New(),
			AuctionID: auctionID,
			AuthorID:  authorID,
			Kind:      models.ChatMessageText,
			Body:      body,
			CreatedAt: s.clock.Now().UTC(),
		}
		if err := repo.InsertChatMessage(ctx, msg); err != nil {
			return err
		}
		return s.enqueueEvent(ctx, tx, outbox.TopicAuction, auctionID, outbox.EventTypeChatPosted, msg)
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	return msg, nil
}

// CloseExpired ends the auction if its deadline has passed. It is safe to
// call repeatedly and from multiple schedulers: the row lock plus the status
// check make the close happen exactly once. Returns whether this call closed
// the auction.
func (s *Service) CloseExpired(ctx context.Context, auctionID uuid.UUID) (bool, error) {
	closed := false

	err := s.store.InTx(ctx, func(repo Repo, tx pgx.Tx) error {
		a, err := repo.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.Sold() || a.Status != models.AuctionStatusLive {
			return nil
		}
		if s.clock.Now().UTC().Before(a.EndsAt) {
			return nil
		}

		if err := repo.MarkEnded(ctx, auctionID); err != nil {
			return err
		}
		closed = true

		ended := models.AuctionStatusEnded
		update := auctionUpdatePayload{AuctionID: auctionID, Status: &ended}
		if err := s.enqueueEvent(ctx, tx, outbox.TopicAuction, auctionID, outbox.EventTypeAuctionUpdated, update); err != nil {
			return err
		}

		top, hadBids, err := repo.TopBid(ctx, auctionID)
		if err != nil {
			return err
		}
		if !hadBids {
			return nil
		}
		return s.notify(ctx, repo, tx, models.Notification{
			ID:        uuid.New(),
			UserID:    top.BidderID,
			Kind:      models.NotificationWon,
			Title:     "You won the auction",
			Message:   fmt.Sprintf("Your bid of %d won %s", top.Amount, a.Title),
			Link:      fmt.Sprintf("/auctions/%s", auctionID),
			CreatedAt: s.clock.Now().UTC(),
		})
	})
	if err != nil {
		return false, err
	}

	if closed {
		log.Info().Str("auction_id", auctionID.String()).Msg("auction closed at deadline")
	}
	return closed, nil
}

// checkBiddable enforces the preconditions shared by PlaceBid and BuyNow.
// Order matters: sold beats ended beats not-live, so the caller sees the most
// specific reason.
func checkBiddable(a models.Auction, actorID uuid.UUID, clock clockwork.Clock) error {
	if a.Sold() {
		return ErrAuctionSold
	}
	if a.Status == models.AuctionStatusEnded {
		return ErrAuctionEnded
	}
	if a.Status != models.AuctionStatusLive {
		return ErrAuctionNotLive
	}
	if !clock.Now().UTC().Before(a.EndsAt) {
		return ErrAuctionEnded
	}
	if actorID == a.SellerID {
		return ErrSelfBid
	}
	return nil
}

// notify writes the inbox row and its user-topic event in one go.
func (s *Service) notify(ctx context.Context, repo Repo, tx pgx.Tx, n models.Notification) error {
	if err := repo.InsertNotification(ctx, n); err != nil {
		return err
	}
	return s.enqueueEvent(ctx, tx, outbox.TopicUser, n.UserID, outbox.EventTypeNotificationCreated, n)
}

func (s *Service) enqueueEvent(ctx context.Context, tx pgx.Tx, kind outbox.TopicKind, topicID uuid.UUID, eventType string, payload any) error {
	event, err := outbox.NewEvent(kind, topicID, eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", eventType, err)
	}
	return s.enqueue(ctx, tx, event)
}

// auctionUpdatePayload is the partial-update event body. Absent fields are
// omitted so subscribers merge only what changed.
type auctionUpdatePayload struct {
	AuctionID    uuid.UUID             `json:"auction_id"`
	Title        *string               `json:"title,omitempty"`
	CurrentPrice *int64                `json:"current_price,omitempty"`
	Status       *models.AuctionStatus `json:"status,omitempty"`
	EndsAt       *string               `json:"ends_at,omitempty"`
	BoughtBy     *string               `json:"bought_by,omitempty"`
}

func parseEndsAt(raw string) (time.Time, error) {
	endsAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ends_at: %w", err)
	}
	return endsAt.UTC(), nil
}
