package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pollcast/backend/internal/models"
)

type memoryEntry struct {
	session   models.Session
	expiresAt time.Time
}

// MemoryStore is a process-local Store for single-instance deployments.
// Expired entries are dropped lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memoryEntry), now: time.Now}
}

// live returns the entry for id, deleting it if expired. Caller holds mu.
func (m *MemoryStore) live(id string) (*memoryEntry, bool) {
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.sessions, id)
		return nil, false
	}
	return e, true
}

func (m *MemoryStore) Create(_ context.Context, s *models.Session, ttl time.Duration) error {
	cp := *s
	cp.Voted = make(map[uuid.UUID]bool, len(s.Voted))
	for k, v := range s.Voted {
		cp.Voted[k] = v
	}
	m.mu.Lock()
	m.sessions[s.ID] = &memoryEntry{session: cp, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := e.session
	cp.Voted = make(map[uuid.UUID]bool, len(e.session.Voted))
	for k, v := range e.session.Voted {
		cp.Voted[k] = v
	}
	return &cp, nil
}

func (m *MemoryStore) SetVoted(_ context.Context, id string, pollID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		return false, ErrSessionNotFound
	}
	if e.session.Voted[pollID] {
		return false, nil
	}
	e.session.Voted[pollID] = true
	return true, nil
}

func (m *MemoryStore) Touch(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		return ErrSessionNotFound
	}
	e.expiresAt = m.now().Add(ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}
