package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the server-side state behind a session cookie. UserID is
// uuid.Nil for anonymous sessions.
type Session struct {
	ID        string
	UserID    uuid.UUID
	Voted     map[uuid.UUID]bool
	CreatedAt time.Time
}

// Anonymous reports whether no verified user is bound to the session.
func (s *Session) Anonymous() bool {
	return s.UserID == uuid.Nil
}
