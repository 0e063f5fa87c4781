package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an identity created by a completed passkey registration.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
