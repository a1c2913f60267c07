package auction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelhq/bidwire/go/internal/models"
	"github.com/gavelhq/bidwire/go/internal/sqlutil"
)

// Querier is the subset of pgx satisfied by both a pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repo is the query surface the service layer programs against.
type Repo interface {
	GetAuction(ctx context.Context, id uuid.UUID) (models.Auction, error)
	GetAuctionForUpdate(ctx context.Context, id uuid.UUID) (models.Auction, error)
	InsertAuction(ctx context.Context, a models.Auction) error
	UpdateCurrentPrice(ctx context.Context, id uuid.UUID, price int64) error
	MarkBought(ctx context.Context, id, buyerID uuid.UUID) error
	MarkEnded(ctx context.Context, id uuid.UUID) error
	ListLive(ctx context.Context) ([]models.Auction, error)
	InsertBid(ctx context.Context, b models.Bid) error
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
	TopBid(ctx context.Context, auctionID uuid.UUID) (models.Bid, bool, error)
	InsertChatMessage(ctx context.Context, m models.ChatMessage) error
	ListChat(ctx context.Context, auctionID uuid.UUID) ([]models.ChatMessage, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (models.Profile, error)
	AdjustBalance(ctx context.Context, userID uuid.UUID, delta int64) error
	InsertNotification(ctx context.Context, n models.Notification) error
}

// Repository runs auction queries against a pool or an open transaction.
type Repository struct {
	q Querier
}

var _ Repo = (*Repository)(nil)

// NewRepository creates a repository over q.
func NewRepository(q Querier) *Repository {
	return &Repository{q: q}
}

const auctionColumns = `id, seller_id, title, description, image_ref,
	starting_price, current_price, status, ends_at, bought_by, created_at`

// GetAuction fetches one auction by id.
func (r *Repository) GetAuction(ctx context.Context, id uuid.UUID) (models.Auction, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+auctionColumns+`
		FROM auctions
		WHERE id = $1`,
		id,
	)
	return scanAuction(row)
}

// GetAuctionForUpdate fetches one auction under a row lock. Every write to an
// auction goes through this lock so concurrent bids serialize.
func (r *Repository) GetAuctionForUpdate(ctx context.Context, id uuid.UUID) (models.Auction, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+auctionColumns+`
		FROM auctions
		WHERE id = $1
		FOR UPDATE`,
		id,
	)
	return scanAuction(row)
}

// InsertAuction creates a listing.
func (r *Repository) InsertAuction(ctx context.Context, a models.Auction) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO auctions (id, seller_id, title, description, image_ref,
			starting_price, current_price, status, ends_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.SellerID, a.Title, a.Description, a.ImageRef,
		a.StartingPrice, a.CurrentPrice, string(a.Status), a.EndsAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	return nil
}

// UpdateCurrentPrice raises the auction price. The guard keeps the price
// monotonic even if a caller slips past the row lock.
func (r *Repository) UpdateCurrentPrice(ctx context.Context, id uuid.UUID, price int64) error {
	_, err := r.q.Exec(ctx, `
		UPDATE auctions SET current_price = $2
		WHERE id = $1 AND current_price < $2`,
		id, price,
	)
	if err != nil {
		return fmt.Errorf("failed to update current price: %w", err)
	}
	return nil
}

// MarkBought records a buy-now purchase and ends the auction.
func (r *Repository) MarkBought(ctx context.Context, id, buyerID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE auctions SET bought_by = $2, status = $3
		WHERE id = $1 AND bought_by IS NULL`,
		id, buyerID, string(models.AuctionStatusEnded),
	)
	if err != nil {
		return fmt.Errorf("failed to mark auction bought: %w", err)
	}
	return nil
}

// MarkEnded moves the auction to its terminal status.
func (r *Repository) MarkEnded(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE auctions SET status = $2
		WHERE id = $1`,
		id, string(models.AuctionStatusEnded),
	)
	if err != nil {
		return fmt.Errorf("failed to mark auction ended: %w", err)
	}
	return nil
}

// ListLive returns all live auctions, soonest-ending first. The expiry
// orchestrator uses this to schedule close timers.
func (r *Repository) ListLive(ctx context.Context) ([]models.Auction, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+auctionColumns+`
		FROM auctions
		WHERE status = $1 AND bought_by IS NULL
		ORDER BY ends_at ASC`,
		string(models.AuctionStatusLive),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list live auctions: %w", err)
	}
	defer rows.Close()

	var auctions []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auctions: %w", err)
	}
	return auctions, nil
}

// InsertBid appends a bid row.
func (r *Repository) InsertBid(ctx context.Context, b models.Bid) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.AuctionID, b.BidderID, b.Amount, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// ListBids returns the bid history, highest amount first, earliest bid
// winning ties.
func (r *Repository) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, auction_id, bidder_id, amount, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY amount DESC, created_at ASC`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bids: %w", err)
	}
	return bids, nil
}

// TopBid returns the current highest bid, or found=false when no bids exist.
func (r *Repository) TopBid(ctx context.Context, auctionID uuid.UUID) (models.Bid, bool, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, auction_id, bidder_id, amount, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY amount DESC, created_at ASC
		LIMIT 1`,
		auctionID,
	)
	var b models.Bid
	if err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Bid{}, false, nil
		}
		return models.Bid{}, false, fmt.Errorf("failed to get top bid: %w", err)
	}
	return b, true, nil
}

// InsertChatMessage appends a chat row.
func (r *Repository) InsertChatMessage(ctx context.Context, m models.ChatMessage) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO chat_messages (id, auction_id, author_id, kind, body, bid_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.AuctionID, m.AuthorID, string(m.Kind), m.Body, m.BidID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

// ListChat returns the chat transcript oldest-first.
func (r *Repository) ListChat(ctx context.Context, auctionID uuid.UUID) ([]models.ChatMessage, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, auction_id, author_id, kind, body, bid_id, created_at
		FROM chat_messages
		WHERE auction_id = $1
		ORDER BY created_at ASC`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var (
			m    models.ChatMessage
			kind string
		)
		if err := rows.Scan(&m.ID, &m.AuctionID, &m.AuthorID, &kind, &m.Body, &m.BidID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		m.Kind = models.ChatMessageKind(kind)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat messages: %w", err)
	}
	return messages, nil
}

// GetProfile fetches the bidder profile holding the funds balance.
func (r *Repository) GetProfile(ctx context.Context, userID uuid.UUID) (models.Profile, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, display_name, balance
		FROM profiles
		WHERE id = $1`,
		userID,
	)
	var p models.Profile
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, fmt.Errorf("profile %s: %w", userID, pgx.ErrNoRows)
		}
		return models.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// AdjustBalance moves a profile's balance by delta, positive or negative.
func (r *Repository) AdjustBalance(ctx context.Context, userID uuid.UUID, delta int64) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE profiles
		SET balance = balance + $2
		WHERE id = $1`,
		userID, delta,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", userID, pgx.ErrNoRows)
	}
	return nil
}

// InsertNotification appends an inbox row.
func (r *Repository) InsertNotification(ctx context.Context, n models.Notification) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO notifications (id, user_id, kind, title, message, link, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, string(n.Kind), n.Title, n.Message, n.Link, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func scanAuction(row pgx.Row) (models.Auction, error) {
	var (
		a      models.Auction
		status string
	)
	err := row.Scan(&a.ID, &a.SellerID, &a.Title, &a.Description, &a.ImageRef,
		&a.StartingPrice, &a.CurrentPrice, &status, &a.EndsAt, &a.BoughtBy, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Auction{}, ErrAuctionNotFound
		}
		return models.Auction{}, fmt.Errorf("failed to scan auction: %w", err)
	}
	a.Status = models.AuctionStatus(status)
	return a, nil
}

// Store owns the pool and opens transactions for service operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Repo returns a repository running directly against the pool.
func (s *Store) Repo() Repo {
	return NewRepository(s.pool)
}

// InTx runs fn inside a transaction. The raw tx is passed through so callers
// can enqueue outbox events in the same transaction as the state change.
func (s *Store) InTx(ctx context.Context, fn func(repo Repo, tx pgx.Tx) error) error {
	return sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(NewRepository(tx), tx)
	})
}
