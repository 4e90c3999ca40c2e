package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis backend for multi-node
// deployments. Sessions are stored as JSON blobs with a rolling TTL;
// Turn.RawText is excluded from serialization, so raw utterance text
// never reaches Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis at addr and verifies the connection.
// ttl <= 0 falls back to the 1 hour default.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func redisKey(sessionID string) string {
	return "session:" + sessionID
}

// Get retrieves a session by ID. Returns nil, nil if not found.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.client.Get(ctx, redisKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session %s: %w", sessionID, err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Save creates or updates a session and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	if sess.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.client.Set(ctx, redisKey(sess.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", sess.ID, err)
	}
	return nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, redisKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del session %s: %w", sessionID, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
