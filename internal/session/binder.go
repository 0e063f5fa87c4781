package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pollcast/backend/internal/apperr"
	"github.com/pollcast/backend/internal/models"
)

// UserLookup resolves a user id. It returns apperr.ErrNotFound for unknown ids.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Binder maps session ids to users and voted flags.
type Binder struct {
	store  Store
	users  UserLookup
	ttl    time.Duration
	logger *zap.Logger
}

// NewBinder creates a session binder. ttl is the inactivity expiry.
func NewBinder(store Store, users UserLookup, ttl time.Duration, logger *zap.Logger) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binder{store: store, users: users, ttl: ttl, logger: logger}
}

// TTL returns the inactivity expiry applied to sessions.
func (b *Binder) TTL() time.Duration { return b.ttl }

// EstablishSession allocates a session for userID (uuid.Nil for anonymous).
// Voted flags of prior, if it is still live, carry over and prior is destroyed.
func (b *Binder) EstablishSession(ctx context.Context, userID uuid.UUID, prior string) (string, error) {
	s := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Voted:     make(map[uuid.UUID]bool),
		CreatedAt: time.Now().UTC(),
	}
	if prior != "" {
		old, err := b.store.Get(ctx, prior)
		switch {
		case err == nil:
			for pollID := range old.Voted {
				s.Voted[pollID] = true
			}
		case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrCorrupt):
		default:
			return "", fmt.Errorf("%w: load prior session: %v", apperr.ErrStore, err)
		}
	}
	if err := b.store.Create(ctx, s, b.ttl); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrStore, err)
	}
	if prior != "" {
		if err := b.store.Delete(ctx, prior); err != nil {
			b.logger.Warn("delete prior session", zap.Error(err))
		}
	}
	return s.ID, nil
}

// Load returns the live session for id.
func (b *Binder) Load(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, apperr.ErrNoActiveSession
	}
	s, err := b.store.Get(ctx, id)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, ErrSessionNotFound):
		return nil, apperr.ErrNoActiveSession
	case errors.Is(err, ErrCorrupt):
		return nil, fmt.Errorf("%w: %v", apperr.ErrCorruptSession, err)
	default:
		return nil, fmt.Errorf("%w: %v", apperr.ErrStore, err)
	}
}

// RequireUser returns the verified user bound to id. Anonymous, unknown and
// expired sessions all fail with apperr.ErrNoActiveSession.
func (b *Binder) RequireUser(ctx context.Context, id string) (*models.User, error) {
	s, err := b.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Anonymous() {
		return nil, apperr.ErrNoActiveSession
	}
	u, err := b.users.GetByID(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s no longer exists", apperr.ErrCorruptSession, s.UserID)
		}
		return nil, err
	}
	return u, nil
}

// MarkVoted sets the voted flag for pollID and reports whether it was newly set.
func (b *Binder) MarkVoted(ctx context.Context, id string, pollID uuid.UUID) (bool, error) {
	ok, err := b.store.SetVoted(ctx, id, pollID)
	switch {
	case err == nil:
		return ok, nil
	case errors.Is(err, ErrSessionNotFound):
		return false, apperr.ErrNoActiveSession
	default:
		return false, fmt.Errorf("%w: %v", apperr.ErrStore, err)
	}
}

// HasVoted reports whether the session already voted on pollID.
func (b *Binder) HasVoted(ctx context.Context, id string, pollID uuid.UUID) (bool, error) {
	s, err := b.Load(ctx, id)
	if err != nil {
		return false, err
	}
	return s.Voted[pollID], nil
}

// Touch renews the inactivity expiry.
func (b *Binder) Touch(ctx context.Context, id string) error {
	err := b.store.Touch(ctx, id, b.ttl)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSessionNotFound):
		return apperr.ErrNoActiveSession
	default:
		return fmt.Errorf("%w: %v", apperr.ErrStore, err)
	}
}

// Destroy removes the session (logout).
func (b *Binder) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := b.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStore, err)
	}
	return nil
}
