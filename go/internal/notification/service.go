package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gavelhq/bidwire/go/internal/models"
)

// DefaultInboxLimit caps how many notifications one fetch returns.
const DefaultInboxLimit = 50

// Repo is the storage surface the service needs.
type Repo interface {
	List(ctx context.Context, userID uuid.UUID, limit int32) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
}

// Service serves the per-user inbox. Writes to the inbox happen in the
// auction service inside its transactions; this service only reads and
// settles read receipts.
type Service struct {
	repo Repo
}

// NewService creates a notification service.
func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

// MaxInboxLimit is the hard cap on a single inbox fetch.
const MaxInboxLimit = 200

// List returns the user's inbox, newest first. A non-positive limit falls
// back to the default; anything above the cap is clamped.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int32) ([]models.Notification, error) {
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	if limit > MaxInboxLimit {
		limit = MaxInboxLimit
	}
	notifications, err := s.repo.List(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead settles a read receipt. The scope check lives in the query: a user
// can only flip rows they own, and flipping an already-read row is harmless.
func (s *Service) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.repo.MarkRead(ctx, id, userID); err != nil {
		return err
	}
	log.Debug().
		Str("notification_id", id.String()).
		Str("user_id", userID.String()).
		Msg("notification marked read")
	return nil
}
