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

const dashboardKey = "dashboard_data"

type RedisDashboardCache struct {
	client redis.UniversalClient
}

var _ repository.DashboardCache = (*RedisDashboardCache)(nil)

func NewRedisDashboardCache(client redis.UniversalClient) *RedisDashboardCache {
	return &RedisDashboardCache{client: client}
}

func (c *RedisDashboardCache) GetDashboard(ctx context.Context) (*domain.DashboardData, error) {
	raw, err := c.client.Get(ctx, dashboardKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load dashboard: %w", err)
	}
	var data domain.DashboardData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode dashboard: %w", err)
	}
	return &data, nil
}

func (c *RedisDashboardCache) SaveDashboard(ctx context.Context, data *domain.DashboardData, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal dashboard: %w", err)
	}
	if err := c.client.Set(ctx, dashboardKey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist dashboard: %w", err)
	}
	return nil
}
