// internal/session/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"membership-core/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one session record per (userId, platform) key. A Put is a
// single Redis SET of the whole JSON document, so replacement is atomic:
// concurrent logins for the same key leave exactly the last writer visible,
// never a partial record.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a session store. ttl of zero means records never
// expire on their own; they are only superseded or deleted on logout.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(userID string, platform models.Platform) string {
	return fmt.Sprintf("session:%s:%s", userID, platform)
}

// Put atomically replaces any existing record for the key.
func (s *RedisStore) Put(ctx context.Context, rec models.SessionRecord) error {
	if !rec.Platform.Valid() {
		return fmt.Errorf("unknown platform %q", rec.Platform)
	}
	rec.Status = models.SessionActive

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(rec.UserID, rec.Platform), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Get returns the current record for the key, or (nil, nil) when none exists.
func (s *RedisStore) Get(ctx context.Context, userID string, platform models.Platform) (*models.SessionRecord, error) {
	val, err := s.client.Get(ctx, sessionKey(userID, platform)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch session: %w", err)
	}

	var rec models.SessionRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &rec, nil
}

// Delete removes the record for the key. Deleting an absent key is not an error.
func (s *RedisStore) Delete(ctx context.Context, userID string, platform models.Platform) error {
	if err := s.client.Del(ctx, sessionKey(userID, platform)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

var _ models.SessionStore = (*RedisStore)(nil)
