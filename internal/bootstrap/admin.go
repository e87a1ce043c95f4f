package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/config"
	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/password"
	"github.com/smallbiznis/sso-auth/internal/repository"
)

// EnsureAdmin creates the configured admin user for dev/e2e if missing.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, hasher *password.Hasher, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, hasher, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, hasher *password.Hasher, node *snowflake.Node, logger *zap.Logger) error {
	username := strings.TrimSpace(cfg.AdminUsername)
	if username == "" {
		return nil
	}
	if cfg.AdminPassword == "" {
		return fmt.Errorf("admin bootstrap missing required config")
	}

	if _, err := users.GetByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	hashed, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := users.Create(ctx, domain.User{
		ID:           node.Generate().Int64(),
		Username:     username,
		Email:        strings.ToLower(strings.TrimSpace(cfg.AdminEmail)),
		PasswordHash: hashed,
	})
	if err != nil {
		return fmt.Errorf("bootstrap create user: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("username", created.Username),
			zap.Int64("user_id", created.ID),
		)
	}
	return nil
}
