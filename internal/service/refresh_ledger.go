package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/config"
	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/metrics"
	"github.com/smallbiznis/sso-auth/internal/repository"
)

var (
	// ErrRefreshTokenUnknown means neither store knows a usable token.
	ErrRefreshTokenUnknown = errors.New("refresh token unknown")
	// ErrRefreshTokenRevoked means the cache still knows the token but the
	// durable record is missing, revoked or expired.
	ErrRefreshTokenRevoked = errors.New("refresh token expired or revoked")
)

const refreshCacheType = "refresh_token"

// RefreshTokenLedger keeps the refresh token cache and the durable records
// consistent. The durable record always decides validity.
type RefreshTokenLedger struct {
	cache   repository.RefreshTokenCache
	records repository.RefreshTokenRepository
	node    *snowflake.Node
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewRefreshTokenLedger(cache repository.RefreshTokenCache, records repository.RefreshTokenRepository, node *snowflake.Node, cfg config.Config, m *metrics.Metrics, logger *zap.Logger) *RefreshTokenLedger {
	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.L()
	}
	return &RefreshTokenLedger{
		cache:   cache,
		records: records,
		node:    node,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Issue writes the cache entry and then the durable record.
func (l *RefreshTokenLedger) Issue(ctx context.Context, username, clientID, scope string) (string, error) {
	token := uuid.NewString()
	session := domain.RefreshSession{Username: username, ClientID: clientID, Scope: scope}

	if err := l.cache.SaveRefreshSession(ctx, token, session, l.ttl); err != nil {
		return "", fmt.Errorf("cache refresh token: %w", err)
	}

	err := l.records.CreateRefreshToken(ctx, domain.RefreshTokenRecord{
		ID:        l.node.Generate().Int64(),
		Token:     token,
		ClientID:  clientID,
		Username:  username,
		Scope:     scope,
		ExpiresAt: l.now().Add(l.ttl),
	})
	if err != nil {
		if delErr := l.cache.DeleteRefreshSession(ctx, token); delErr != nil {
			l.logger.Warn("drop orphaned refresh cache entry", zap.Error(delErr))
		}
		return "", fmt.Errorf("persist refresh token: %w", err)
	}

	l.metrics.TokenIssued("refresh")
	return token, nil
}

// Validate returns the session bound to token.
func (l *RefreshTokenLedger) Validate(ctx context.Context, token string) (*domain.RefreshSession, error) {
	if token == "" {
		return nil, ErrRefreshTokenUnknown
	}

	cached, err := l.cache.GetRefreshSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load refresh session: %w", err)
	}
	if cached != nil {
		l.metrics.CacheHit(refreshCacheType)
	} else {
		l.metrics.CacheMiss(refreshCacheType)
	}

	record, err := l.records.GetRefreshToken(ctx, token)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load refresh record: %w", err)
		}
		if cached == nil {
			return nil, ErrRefreshTokenUnknown
		}
		l.scrub(ctx, token)
		return nil, ErrRefreshTokenRevoked
	}

	now := l.now()
	if !record.Usable(now) {
		if cached == nil {
			return nil, ErrRefreshTokenUnknown
		}
		l.scrub(ctx, token)
		return nil, ErrRefreshTokenRevoked
	}

	if cached != nil {
		return cached, nil
	}

	session := &domain.RefreshSession{Username: record.Username, ClientID: record.ClientID, Scope: record.Scope}
	if err := l.cache.SaveRefreshSession(ctx, token, *session, record.ExpiresAt.Sub(now)); err != nil {
		l.logger.Warn("rehydrate refresh cache", zap.Error(err))
	}
	return session, nil
}

// Revoke removes the cache entry and marks the durable record revoked.
// Unknown tokens are not an error.
func (l *RefreshTokenLedger) Revoke(ctx context.Context, token string) error {
	if err := l.cache.DeleteRefreshSession(ctx, token); err != nil {
		return fmt.Errorf("revoke refresh cache: %w", err)
	}
	if err := l.records.RevokeRefreshToken(ctx, token); err != nil {
		return fmt.Errorf("revoke refresh record: %w", err)
	}
	return nil
}

// Rotate revokes token and issues a replacement bound to the same session.
func (l *RefreshTokenLedger) Rotate(ctx context.Context, token string, session domain.RefreshSession) (string, error) {
	if err := l.Revoke(ctx, token); err != nil {
		return "", err
	}
	return l.Issue(ctx, session.Username, session.ClientID, session.Scope)
}

func (l *RefreshTokenLedger) scrub(ctx context.Context, token string) {
	if err := l.cache.DeleteRefreshSession(ctx, token); err != nil {
		l.logger.Warn("scrub stale refresh cache entry", zap.Error(err))
	}
}
