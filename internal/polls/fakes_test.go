package polls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pollcast/backend/internal/apperr"
	"github.com/pollcast/backend/internal/models"
)

// memStore is an in-memory Store. Vote holds the lock across the
// check and the increment, mirroring the single UPDATE statement.
type memStore struct {
	mu    sync.Mutex
	polls map[uuid.UUID]*models.Poll
}

func newMemStore() *memStore {
	return &memStore{polls: make(map[uuid.UUID]*models.Poll)}
}

func clonePoll(p *models.Poll) *models.Poll {
	out := *p
	out.Options = append([]models.PollOption(nil), p.Options...)
	return &out
}

func (s *memStore) Create(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := make([]string, len(p.Options))
	for i, o := range p.Options {
		texts[i] = o.Text
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.IsClosed = false
	p.Options = models.NewOptions(texts)
	s.polls[p.ID] = clonePoll(p)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return clonePoll(p), nil
}

func (s *memStore) Vote(_ context.Context, pollID uuid.UUID, optionID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok || p.IsClosed {
		return false, nil
	}
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			p.Options[i].Votes++
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) list(keep func(*models.Poll) bool) []models.Poll {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Poll{}
	for _, p := range s.polls {
		if keep(p) {
			out = append(out, *clonePoll(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memStore) ListByCreator(_ context.Context, creatorID uuid.UUID) ([]models.Poll, error) {
	return s.list(func(p *models.Poll) bool { return p.CreatorID == creatorID }), nil
}

func (s *memStore) ListAll(_ context.Context) ([]models.Poll, error) {
	return s.list(func(*models.Poll) bool { return true }), nil
}

func (s *memStore) owned(id, creatorID uuid.UUID) (*models.Poll, bool) {
	p, ok := s.polls[id]
	if !ok || p.CreatorID != creatorID {
		return nil, false
	}
	return p, true
}

func (s *memStore) Close(_ context.Context, id, creatorID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.owned(id, creatorID)
	if ok {
		p.IsClosed = true
	}
	return ok, nil
}

func (s *memStore) Reset(_ context.Context, id, creatorID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.owned(id, creatorID)
	if ok {
		for i := range p.Options {
			p.Options[i].Votes = 0
		}
	}
	return ok, nil
}

func (s *memStore) Edit(_ context.Context, id, creatorID uuid.UUID, title string, options []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.owned(id, creatorID)
	if ok {
		p.Title = title
		p.Options = models.NewOptions(options)
	}
	return ok, nil
}

func (s *memStore) Delete(_ context.Context, id, creatorID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owned(id, creatorID); !ok {
		return false, nil
	}
	delete(s.polls, id)
	return true, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	polls []models.Poll
}

func (r *recordingPublisher) Publish(p *models.Poll) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls = append(r.polls, *clonePoll(p))
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.polls)
}

type userTable map[uuid.UUID]models.User

func (t userTable) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := t[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &u, nil
}
