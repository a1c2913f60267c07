package models

import "github.com/google/uuid"

// Profile carries the per-user funds balance checked on bid placement.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Balance     int64     `json:"balance"`
}
