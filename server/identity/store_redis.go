package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keys identities under a TTL equal to their remaining lifetime,
// so natural expiry needs no sweeper. Rotation deletes the superseded code
// key explicitly, which is what makes invalidation immediate.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed identity store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "presence:",
	}
}

func (r *RedisStore) userKey(userID string) string { return r.prefix + "user:" + userID }
func (r *RedisStore) codeKey(code string) string   { return r.prefix + "code:" + code }

// ActiveForUser implements Store.
func (r *RedisStore) ActiveForUser(ctx context.Context, userID string) (Identity, bool, error) {
	val, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, fmt.Errorf("identity: redis get: %w", err)
	}

	var id Identity
	if err := json.Unmarshal([]byte(val), &id); err != nil {
		return Identity{}, false, fmt.Errorf("identity: unmarshal: %w", err)
	}
	if !id.Active(time.Now()) {
		return Identity{}, false, nil
	}
	return id, true, nil
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, id Identity) error {
	ttl := time.Until(id.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("identity: expires_at must be in the future")
	}

	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}

	// Drop the superseded code key first so the old value stops resolving.
	prev, err := r.client.Get(ctx, r.userKey(id.UserID)).Result()
	if err == nil {
		var old Identity
		if json.Unmarshal([]byte(prev), &old) == nil && old.Code != "" {
			if err := r.client.Del(ctx, r.codeKey(old.Code)).Err(); err != nil {
				return fmt.Errorf("identity: revoke previous code: %w", err)
			}
		}
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("identity: redis get previous: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.userKey(id.UserID), data, ttl)
	pipe.Set(ctx, r.codeKey(id.Code), data, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("identity: redis save: %w", err)
	}
	return nil
}

// Resolve implements Store.
func (r *RedisStore) Resolve(ctx context.Context, code string) (Identity, bool, error) {
	val, err := r.client.Get(ctx, r.codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, fmt.Errorf("identity: redis resolve: %w", err)
	}

	var id Identity
	if err := json.Unmarshal([]byte(val), &id); err != nil {
		return Identity{}, false, fmt.Errorf("identity: unmarshal: %w", err)
	}
	if !id.Active(time.Now()) {
		return Identity{}, false, nil
	}
	return id, true, nil
}
