package auth

import (
	"context"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/pollcast/backend/internal/apperr"
)

// Kind distinguishes the two ceremony flows.
type Kind string

const (
	KindRegistration Kind = "registration"
	KindLogin        Kind = "login"
)

// Pending is the state of a started ceremony, consumed exactly once by its finish step.
type Pending struct {
	Kind     Kind
	UserID   uuid.UUID // candidate id for registration, resolved id for login
	Username string
	Data     webauthn.SessionData

	createdAt time.Time
}

// ChallengeStore maps ceremony ids to pending ceremonies. Entries older than
// ttl are never returned and are removed by Sweep.
type ChallengeStore struct {
	mu      sync.Mutex
	entries map[string]Pending
	ttl     time.Duration
	now     func() time.Time
}

// NewChallengeStore creates an empty store with the given entry lifetime.
func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	return &ChallengeStore{
		entries: make(map[string]Pending),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put records p under id, replacing nothing: ids are fresh per ceremony.
func (s *ChallengeStore) Put(id string, p Pending) {
	p.createdAt = s.now()
	s.mu.Lock()
	s.entries[id] = p
	s.mu.Unlock()
}

// Take removes and returns the entry for id. A missing, expired or
// wrong-kind entry yields apperr.ErrNoChallengeFound; the entry is removed in
// every case so a second attempt cannot succeed.
func (s *ChallengeStore) Take(id string, kind Kind) (Pending, error) {
	s.mu.Lock()
	p, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if !ok || p.Kind != kind || s.expired(p) {
		return Pending{}, apperr.ErrNoChallengeFound
	}
	return p, nil
}

func (s *ChallengeStore) expired(p Pending) bool {
	return s.now().Sub(p.createdAt) > s.ttl
}

// Len returns the number of stored entries, expired ones included.
func (s *ChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired entries and returns how many were removed.
func (s *ChallengeStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.entries {
		if s.expired(p) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (s *ChallengeStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
