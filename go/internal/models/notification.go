package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind classifies inbox entries.
type NotificationKind string

const (
	NotificationOutbid  NotificationKind = "outbid"
	NotificationWon     NotificationKind = "won"
	NotificationGeneric NotificationKind = "generic"
)

// Notification is a per-user inbox entry. IsRead flips true at most once, by
// the owning user; rows are never deleted by this system.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Link      string           `json:"link"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}
