package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/sso-auth/internal/domain"
)

// UserRepository exposes persistence for end users.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (domain.User, error)
	// Create fails with oauth.ErrUsernameTaken when the username exists.
	Create(ctx context.Context, user domain.User) (domain.User, error)
}

// OAuthClientRepository exposes client metadata.
type OAuthClientRepository interface {
	GetClientByID(ctx context.Context, clientID string) (domain.OAuthClient, error)
	UpsertClient(ctx context.Context, client domain.OAuthClient) error
}

// CodeRepository manages authorization codes.
type CodeRepository interface {
	CreateCode(ctx context.Context, code domain.AuthorizationCode) error
	// ConsumeCode atomically deletes and returns an unexpired code. Unknown,
	// expired or already consumed codes return pgx.ErrNoRows.
	ConsumeCode(ctx context.Context, code string) (domain.AuthorizationCode, error)
}

// RefreshTokenRepository is the durable refresh token ledger.
type RefreshTokenRepository interface {
	CreateRefreshToken(ctx context.Context, record domain.RefreshTokenRecord) error
	GetRefreshToken(ctx context.Context, token string) (domain.RefreshTokenRecord, error)
	// RevokeRefreshToken marks the token revoked. Unknown tokens are not an error.
	RevokeRefreshToken(ctx context.Context, token string) error
}

// DashboardRepository backs the operator dashboard.
type DashboardRepository interface {
	ListStats(ctx context.Context) ([]domain.DashboardStat, error)
	ListRecentActivities(ctx context.Context, limit int) ([]domain.Activity, error)
	ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
	RecordActivity(ctx context.Context, activity domain.Activity) error
	RecordAlert(ctx context.Context, alert domain.Alert) error
}

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// SessionStore keeps SSO browser sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, username string) (string, error)
	GetSession(ctx context.Context, sessionID string) (string, bool, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// ConsentStore records user approval per client and scope string.
type ConsentStore interface {
	HasConsent(ctx context.Context, username, clientID, scope string) (bool, error)
	GrantConsent(ctx context.Context, username, clientID, scope string) error
}

// RefreshTokenCache is the fast lookup twin of RefreshTokenRepository.
type RefreshTokenCache interface {
	SaveRefreshSession(ctx context.Context, token string, session domain.RefreshSession, ttl time.Duration) error
	// GetRefreshSession returns nil, nil on a miss.
	GetRefreshSession(ctx context.Context, token string) (*domain.RefreshSession, error)
	DeleteRefreshSession(ctx context.Context, token string) error
}

// RateLimiter counts attempts per key within a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// DashboardCache caches the aggregated dashboard read.
type DashboardCache interface {
	GetDashboard(ctx context.Context) (*domain.DashboardData, error)
	SaveDashboard(ctx context.Context, data *domain.DashboardData, ttl time.Duration) error
}
