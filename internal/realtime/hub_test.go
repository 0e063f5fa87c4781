package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/pollcast/backend/internal/models"
)

func testPoll(votes int) *models.Poll {
	return &models.Poll{ID: uuid.New(), Title: "Pick", Options: []models.PollOption{{ID: 1, Text: "a", Votes: votes}}}
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub(4, nil)
	a, b := hub.Subscribe(), hub.Subscribe()
	defer a.Close()
	defer b.Close()

	p1, p2 := testPoll(1), testPoll(2)
	hub.Publish(p1)
	hub.Publish(p2)

	for _, s := range []*Subscription{a, b} {
		if got := <-s.Updates(); got.ID != p1.ID {
			t.Errorf("first update = %s, want %s", got.ID, p1.ID)
		}
		if got := <-s.Updates(); got.ID != p2.ID {
			t.Errorf("second update = %s, want %s", got.ID, p2.ID)
		}
	}
}

func TestHubDropsOldestForSlowSubscriber(t *testing.T) {
	hub := NewHub(2, nil)
	slow := hub.Subscribe()
	defer slow.Close()

	var polls []*models.Poll
	for i := 0; i < 5; i++ {
		p := testPoll(i)
		polls = append(polls, p)
		hub.Publish(p)
	}

	if got := <-slow.Updates(); got.ID != polls[3].ID {
		t.Errorf("first kept = votes %d, want 3", got.Options[0].Votes)
	}
	if got := <-slow.Updates(); got.ID != polls[4].ID {
		t.Errorf("second kept = votes %d, want 4", got.Options[0].Votes)
	}
	if slow.Dropped() != 3 {
		t.Errorf("dropped = %d, want 3", slow.Dropped())
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub(1, nil)
	for i := 0; i < 10; i++ {
		s := hub.Subscribe()
		defer s.Close()
	}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hub.Publish(testPoll(i))
		}(i)
	}
	wg.Wait()
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub(1, nil)
	s := hub.Subscribe()
	s.Close()
	s.Close()
	if hub.SubscriberCount() != 0 {
		t.Errorf("subscribers = %d, want 0", hub.SubscriberCount())
	}
	if _, ok := <-s.Updates(); ok {
		t.Error("updates channel still open after Close")
	}
	hub.Publish(testPoll(1))
}

type fakeRedis struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (f *fakeRedis) PublishPollUpdate(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func TestHubPublishesThroughRedis(t *testing.T) {
	hub := NewHub(4, nil)
	redis := &fakeRedis{}
	hub.SetRedis(redis)
	s := hub.Subscribe()
	defer s.Close()

	p := testPoll(3)
	hub.Publish(p)

	select {
	case <-s.Updates():
		t.Fatal("local delivery before the redis round trip")
	default:
	}
	if len(redis.payloads) != 1 {
		t.Fatalf("redis payloads = %d, want 1", len(redis.payloads))
	}

	hub.deliverEncoded(redis.payloads[0])
	got := <-s.Updates()
	if got.ID != p.ID || got.Options[0].Votes != 3 {
		t.Errorf("delivered = %+v", got)
	}
}

func TestHubFallsBackWhenRedisFails(t *testing.T) {
	hub := NewHub(4, nil)
	hub.SetRedis(&fakeRedis{err: errors.New("connection refused")})
	s := hub.Subscribe()
	defer s.Close()

	p := testPoll(1)
	hub.Publish(p)
	if got := <-s.Updates(); got.ID != p.ID {
		t.Errorf("fallback update = %s", got.ID)
	}
}

func TestDeliverEncodedIgnoresGarbage(t *testing.T) {
	hub := NewHub(4, nil)
	s := hub.Subscribe()
	defer s.Close()
	hub.deliverEncoded([]byte("{not json"))

	p := testPoll(1)
	raw, _ := json.Marshal(p)
	hub.deliverEncoded(raw)
	if got := <-s.Updates(); got.ID != p.ID {
		t.Errorf("update = %s", got.ID)
	}
}
