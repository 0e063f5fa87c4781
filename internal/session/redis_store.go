package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pollcast/backend/internal/models"
)

const (
	keyPrefix      = "session:"
	fieldUserID    = "user_id"
	fieldCreatedAt = "created_at"
	votedPrefix    = "voted:"
)

// setVotedScript refuses to resurrect an expired session: HSETNX alone would
// create the key.
var setVotedScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HSETNX", KEYS[1], ARGV[1], "1")
`)

// RedisStore keeps each session in a hash "session:<id>" with a key TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string { return keyPrefix + id }

// Create writes the session hash and its TTL in one MULTI.
func (r *RedisStore) Create(ctx context.Context, s *models.Session, ttl time.Duration) error {
	key := sessionKey(s.ID)
	fields := map[string]interface{}{
		fieldUserID:    "",
		fieldCreatedAt: s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !s.Anonymous() {
		fields[fieldUserID] = s.UserID.String()
	}
	for pollID := range s.Voted {
		fields[votedPrefix+pollID.String()] = "1"
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get loads a session. A hash without created_at or with a malformed user_id is corrupt.
func (r *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	fields, err := r.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return decodeFields(id, fields)
}

func decodeFields(id string, fields map[string]string) (*models.Session, error) {
	raw, ok := fields[fieldCreatedAt]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrCorrupt, fieldCreatedAt)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, fieldCreatedAt, err)
	}
	s := &models.Session{ID: id, CreatedAt: createdAt, Voted: make(map[uuid.UUID]bool)}
	if u := fields[fieldUserID]; u != "" {
		s.UserID, err = uuid.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, fieldUserID, err)
		}
	}
	for k := range fields {
		if !strings.HasPrefix(k, votedPrefix) {
			continue
		}
		pollID, err := uuid.Parse(strings.TrimPrefix(k, votedPrefix))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, k, err)
		}
		s.Voted[pollID] = true
	}
	return s, nil
}

// SetVoted atomically sets voted:<pollID> on an existing session.
func (r *RedisStore) SetVoted(ctx context.Context, id string, pollID uuid.UUID) (bool, error) {
	n, err := setVotedScript.Run(ctx, r.client, []string{sessionKey(id)}, votedPrefix+pollID.String()).Int()
	if err != nil {
		return false, fmt.Errorf("set voted: %w", err)
	}
	if n < 0 {
		return false, ErrSessionNotFound
	}
	return n == 1, nil
}

// Touch renews the key TTL.
func (r *RedisStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := r.client.Expire(ctx, sessionKey(id), ttl).Result()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes the session.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
