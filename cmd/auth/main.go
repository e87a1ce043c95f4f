package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/smallbiznis/sso-auth/internal/adapter/cache"
	"github.com/smallbiznis/sso-auth/internal/bootstrap"
	"github.com/smallbiznis/sso-auth/internal/config"
	httptransport "github.com/smallbiznis/sso-auth/internal/http"
	"github.com/smallbiznis/sso-auth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/sso-auth/internal/http/middleware"
	"github.com/smallbiznis/sso-auth/internal/jwt"
	"github.com/smallbiznis/sso-auth/internal/metrics"
	apimiddleware "github.com/smallbiznis/sso-auth/internal/middleware"
	"github.com/smallbiznis/sso-auth/internal/notify"
	"github.com/smallbiznis/sso-auth/internal/password"
	"github.com/smallbiznis/sso-auth/internal/repository"
	"github.com/smallbiznis/sso-auth/internal/repository/memory"
	"github.com/smallbiznis/sso-auth/internal/server"
	"github.com/smallbiznis/sso-auth/internal/service"
	"github.com/smallbiznis/sso-auth/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newTracer,
			newSnowflake,
			newStores,
			newRedisClient,
			newSessionStore,
			newConsentStore,
			newRefreshTokenCache,
			newLoginRateLimiter,
			newDashboardCache,
			newRateLimiter,
			metrics.New,
			password.NewHasher,
			notify.New,
			jwt.NewKeyManager,
			newTokenGenerator,
			service.NewAuthorizationCodeStore,
			service.NewRefreshTokenLedger,
			service.NewAuthService,
			service.NewDiscoveryService,
			service.NewDashboardService,
			handler.NewAuthHandler,
			handler.NewDashboardHandler,
			handler.NewHealthHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, bootstrap.EnsureClient, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newTracer(provider *telemetry.Provider) trace.Tracer {
	return provider.Tracer()
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

type stores struct {
	fx.Out

	Users     repository.UserRepository
	Clients   repository.OAuthClientRepository
	Codes     repository.CodeRepository
	Refresh   repository.RefreshTokenRepository
	Dashboard repository.DashboardRepository
	Health    repository.HealthChecker
}

// newStores uses Postgres when DATABASE_URL is set. Development without a
// database falls back to process memory.
func newStores(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		s := memory.NewStore()
		return stores{Users: s, Clients: s, Codes: s, Refresh: s, Dashboard: s, Health: s}, nil
	}

	pool, err := newPGXPool(lc, cfg)
	if err != nil {
		return stores{}, err
	}
	if cfg.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := repository.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return stores{}, err
		}
	}

	return stores{
		Users:     repository.NewPostgresUserRepo(pool),
		Clients:   repository.NewPostgresOAuthClientRepo(pool),
		Codes:     repository.NewPostgresCodeRepo(pool),
		Refresh:   repository.NewPostgresRefreshTokenRepo(pool),
		Dashboard: repository.NewPostgresDashboardRepo(pool),
		Health:    pool,
	}, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newSessionStore(client redis.UniversalClient, cfg config.Config) repository.SessionStore {
	return cacheadapter.NewRedisSessionStore(client, cfg.SessionTTL)
}

func newConsentStore(client redis.UniversalClient, cfg config.Config) repository.ConsentStore {
	return cacheadapter.NewRedisConsentStore(client, cfg.ConsentTTL)
}

func newRefreshTokenCache(client redis.UniversalClient) repository.RefreshTokenCache {
	return cacheadapter.NewRedisRefreshTokenCache(client)
}

func newLoginRateLimiter(client redis.UniversalClient, cfg config.Config) repository.RateLimiter {
	return cacheadapter.NewRedisRateLimiter(client, cfg.RateLimitMax, cfg.RateLimitWindow)
}

func newDashboardCache(client redis.UniversalClient) repository.DashboardCache {
	return cacheadapter.NewRedisDashboardCache(client)
}

func newRateLimiter(cfg config.Config, m *metrics.Metrics) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg, m)
}

func newTokenGenerator(manager *jwt.KeyManager, cfg config.Config) *jwt.Generator {
	return jwt.NewGenerator(manager, cfg.AccessTokenTTL)
}

func newAuthMiddleware(authService *service.AuthService) *httpmiddleware.Auth {
	return httpmiddleware.NewAuth(authService)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
