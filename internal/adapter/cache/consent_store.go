package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/sso-auth/internal/repository"
)

// RedisConsentStore records consent per (username, client, scope string).
type RedisConsentStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ repository.ConsentStore = (*RedisConsentStore)(nil)

func NewRedisConsentStore(client redis.UniversalClient, ttl time.Duration) *RedisConsentStore {
	return &RedisConsentStore{client: client, ttl: ttl}
}

// keyPart escapes the separator so that parts containing ':' cannot collide.
var keyPart = strings.NewReplacer("%", "%25", ":", "%3A")

func consentKey(username, clientID, scope string) string {
	return fmt.Sprintf("consent:%s:%s:%s", keyPart.Replace(username), keyPart.Replace(clientID), keyPart.Replace(scope))
}

func (s *RedisConsentStore) HasConsent(ctx context.Context, username, clientID, scope string) (bool, error) {
	n, err := s.client.Exists(ctx, consentKey(username, clientID, scope)).Result()
	if err != nil {
		return false, fmt.Errorf("check consent: %w", err)
	}
	return n > 0, nil
}

func (s *RedisConsentStore) GrantConsent(ctx context.Context, username, clientID, scope string) error {
	if err := s.client.Set(ctx, consentKey(username, clientID, scope), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("grant consent: %w", err)
	}
	return nil
}
