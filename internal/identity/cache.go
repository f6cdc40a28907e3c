package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const profileKeyPrefix = "portal:profile:"

// ProfileCache keeps userinfo responses in Redis so that the identity
// provider is not called on every request.
type ProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProfileCache constructs the cache. A nil client disables caching.
func NewProfileCache(client *redis.Client, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ProfileCache{client: client, ttl: ttl}
}

// Fetch returns the cached profile of subject or populates it with loader.
func (c *ProfileCache) Fetch(ctx context.Context, subject string, loader func(context.Context) (Claims, error)) (Claims, error) {
	if loader == nil {
		return Claims{}, errors.New("identity: profile loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := profileKeyPrefix + subject
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached Claims
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Claims{}, err
	}
	claims, err := loader(ctx)
	if err != nil {
		return Claims{}, err
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return Claims{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// Invalidate drops the cached profile of subject.
func (c *ProfileCache) Invalidate(ctx context.Context, subject string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, profileKeyPrefix+subject).Err()
}
