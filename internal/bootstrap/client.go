package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/config"
	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/password"
	"github.com/smallbiznis/sso-auth/internal/repository"
)

// EnsureClient registers the configured OAuth client on start. The row is
// upserted so redirect URI and scope changes in config take effect on restart.
func EnsureClient(lc fx.Lifecycle, cfg config.Config, clients repository.OAuthClientRepository, hasher *password.Hasher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureClient(ctx, cfg, clients, hasher, logger)
		},
	})
}

func ensureClient(ctx context.Context, cfg config.Config, clients repository.OAuthClientRepository, hasher *password.Hasher, logger *zap.Logger) error {
	clientID := strings.TrimSpace(cfg.BootstrapClientID)
	if clientID == "" {
		return nil
	}

	secret := ""
	if cfg.BootstrapClientSecret == "" && logger != nil {
		logger.Warn("bootstrap client has no secret and cannot authenticate at the token endpoint",
			zap.String("client_id", clientID))
	}
	if cfg.BootstrapClientSecret != "" {
		hashed, err := hasher.Hash(cfg.BootstrapClientSecret)
		if err != nil {
			return fmt.Errorf("bootstrap hash client secret: %w", err)
		}
		secret = hashed
	}

	client := domain.OAuthClient{
		ClientID:     clientID,
		ClientSecret: secret,
		Name:         cfg.BootstrapClientName,
		RedirectURIs: cfg.BootstrapClientRedirectURIs,
		Scopes:       cfg.BootstrapClientScopes,
	}
	if err := clients.UpsertClient(ctx, client); err != nil {
		return fmt.Errorf("bootstrap upsert client: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap oauth client registered",
			zap.String("client_id", client.ClientID),
			zap.Strings("redirect_uris", client.RedirectURIs),
		)
	}
	return nil
}
