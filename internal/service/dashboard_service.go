package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smallbiznis/sso-auth/internal/config"
	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/metrics"
	"github.com/smallbiznis/sso-auth/internal/repository"
)

const (
	dashboardListLimit = 10
	dashboardCacheType = "redis"
)

// DashboardService serves the cached operator dashboard.
type DashboardService struct {
	repo    repository.DashboardRepository
	cache   repository.DashboardCache
	metrics *metrics.Metrics
	ttl     time.Duration
	logger  *zap.Logger
}

func NewDashboardService(repo repository.DashboardRepository, cache repository.DashboardCache, m *metrics.Metrics, cfg config.Config, logger *zap.Logger) *DashboardService {
	ttl := cfg.DashboardCacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.L()
	}
	return &DashboardService{repo: repo, cache: cache, metrics: m, ttl: ttl, logger: logger}
}

// Get returns the cached aggregate, or loads its three parts concurrently.
func (s *DashboardService) Get(ctx context.Context) (*domain.DashboardData, error) {
	cached, err := s.cache.GetDashboard(ctx)
	if err != nil {
		s.logger.Warn("dashboard cache read", zap.Error(err))
	} else if cached != nil {
		s.metrics.CacheHit(dashboardCacheType)
		return cached, nil
	}
	s.metrics.CacheMiss(dashboardCacheType)

	var data domain.DashboardData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := s.repo.ListStats(gctx)
		if err != nil {
			return fmt.Errorf("load stats: %w", err)
		}
		data.Stats = stats
		return nil
	})
	g.Go(func() error {
		activities, err := s.repo.ListRecentActivities(gctx, dashboardListLimit)
		if err != nil {
			return fmt.Errorf("load activities: %w", err)
		}
		data.Activities = activities
		return nil
	})
	g.Go(func() error {
		alerts, err := s.repo.ListAlerts(gctx, dashboardListLimit)
		if err != nil {
			return fmt.Errorf("load alerts: %w", err)
		}
		data.Alerts = alerts
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if data.Stats == nil {
		data.Stats = []domain.DashboardStat{}
	}
	if data.Activities == nil {
		data.Activities = []domain.Activity{}
	}
	if data.Alerts == nil {
		data.Alerts = []domain.Alert{}
	}

	if err := s.cache.SaveDashboard(ctx, &data, s.ttl); err != nil {
		s.logger.Warn("dashboard cache write", zap.Error(err))
	}
	return &data, nil
}
