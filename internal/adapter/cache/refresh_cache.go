package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/repository"
)

const refreshTokenPrefix = "refresh_token:"

// RedisRefreshTokenCache implements RefreshTokenCache backed by Redis.
type RedisRefreshTokenCache struct {
	client redis.UniversalClient
}

var _ repository.RefreshTokenCache = (*RedisRefreshTokenCache)(nil)

// NewRedisRefreshTokenCache constructs a Redis-backed refresh token cache.
func NewRedisRefreshTokenCache(client redis.UniversalClient) *RedisRefreshTokenCache {
	return &RedisRefreshTokenCache{client: client}
}

// SaveRefreshSession stores the encoded session payload with TTL.
func (c *RedisRefreshTokenCache) SaveRefreshSession(ctx context.Context, token string, session domain.RefreshSession, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal refresh session: %w", err)
	}
	if err := c.client.Set(ctx, refreshTokenPrefix+token, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist refresh session: %w", err)
	}
	return nil
}

// GetRefreshSession loads and decodes the session payload.
func (c *RedisRefreshTokenCache) GetRefreshSession(ctx context.Context, token string) (*domain.RefreshSession, error) {
	raw, err := c.client.Get(ctx, refreshTokenPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load refresh session: %w", err)
	}
	var session domain.RefreshSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode refresh session: %w", err)
	}
	return &session, nil
}

// DeleteRefreshSession removes the cached entry.
func (c *RedisRefreshTokenCache) DeleteRefreshSession(ctx context.Context, token string) error {
	if err := c.client.Del(ctx, refreshTokenPrefix+token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete refresh session: %w", err)
	}
	return nil
}
