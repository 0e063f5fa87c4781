package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pollcast/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second

	// DefaultBuffer is the per-subscriber queue length.
	DefaultBuffer = 64

	publishTimeout = 5 * time.Second
)

// RedisPublisher publishes encoded poll updates to other instances.
type RedisPublisher interface {
	PublishPollUpdate(ctx context.Context, payload []byte) error
}

// Hub fans poll updates out to every subscriber. It is created once at
// startup and passed by reference to the publishers and the socket handler.
//
// With a Redis bridge attached, Publish only goes to Redis and the bridge's
// subscriber callback performs the local fan-out, so every instance
// (including this one) delivers each update exactly once.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	redis  RedisPublisher
	logger *zap.Logger
}

// Subscription is one subscriber's bounded queue. When the queue is full the
// oldest update is dropped to make room; publishers never block.
type Subscription struct {
	hub     *Hub
	ch      chan *models.Poll
	dropped int
}

// NewHub creates a hub. buffer <= 0 uses DefaultBuffer.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer, logger: logger}
}

// SetRedis attaches the cross-instance bridge.
func (h *Hub) SetRedis(pub RedisPublisher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redis = pub
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, ch: make(chan *models.Poll, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Updates is the subscriber's ordered stream. It is closed by Close.
func (s *Subscription) Updates() <-chan *models.Poll { return s.ch }

// Dropped returns how many updates were discarded for this subscriber.
func (s *Subscription) Dropped() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish announces a changed poll to every subscriber on every instance.
func (h *Hub) Publish(p *models.Poll) {
	h.mu.Lock()
	pub := h.redis
	h.mu.Unlock()
	if pub == nil {
		h.Broadcast(p)
		return
	}

	data, err := json.Marshal(p)
	if err != nil {
		h.logger.Error("encode poll update", zap.String("poll_id", p.ID.String()), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := pub.PublishPollUpdate(ctx, data); err != nil {
		h.logger.Warn("redis publish failed, delivering locally", zap.String("poll_id", p.ID.String()), zap.Error(err))
		h.Broadcast(p)
	}
}

// Broadcast delivers p to local subscribers only.
func (h *Hub) Broadcast(p *models.Poll) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- p:
			continue
		default:
		}
		// Only Broadcast sends and it holds mu, so one receive frees a slot.
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
		select {
		case s.ch <- p:
		default:
		}
	}
}

// deliverEncoded is the Redis subscriber callback.
func (h *Hub) deliverEncoded(payload []byte) {
	var p models.Poll
	if err := json.Unmarshal(payload, &p); err != nil {
		h.logger.Warn("decode poll update", zap.Error(err))
		return
	}
	h.Broadcast(&p)
}
