// Package session binds opaque cookie tokens to verified users and to the
// per-poll voted flags that gate repeat votes.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pollcast/backend/internal/models"
)

var (
	// ErrSessionNotFound is returned by a Store when the id is unknown or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCorrupt is returned by a Store when stored state cannot be decoded.
	ErrCorrupt = errors.New("session state corrupt")
)

// Store persists session state with expiry. Implementations must make
// SetVoted an atomic test-and-set.
type Store interface {
	Create(ctx context.Context, s *models.Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (*models.Session, error)
	// SetVoted sets the voted flag for pollID and reports whether it was newly set.
	SetVoted(ctx context.Context, id string, pollID uuid.UUID) (bool, error)
	// Touch extends the session's expiry by ttl from now.
	Touch(ctx context.Context, id string, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}
