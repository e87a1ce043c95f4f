package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/domain/oauth"
)

// Compile-time interface assertions.
var (
	_ UserRepository         = (*PostgresUserRepo)(nil)
	_ OAuthClientRepository  = (*PostgresOAuthClientRepo)(nil)
	_ CodeRepository         = (*PostgresCodeRepo)(nil)
	_ RefreshTokenRepository = (*PostgresRefreshTokenRepo)(nil)
	_ DashboardRepository    = (*PostgresDashboardRepo)(nil)
	_ HealthChecker          = (*pgxpool.Pool)(nil)
)

const uniqueViolation = "23505"

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	var user domain.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by username: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, username, email, password_hash) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		user.ID, user.Username, user.Email, user.PasswordHash,
	).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.User{}, oauth.ErrUsernameTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// PostgresOAuthClientRepo implements OAuthClientRepository.
type PostgresOAuthClientRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresOAuthClientRepo(pool *pgxpool.Pool) *PostgresOAuthClientRepo {
	return &PostgresOAuthClientRepo{pool: pool}
}

func (r *PostgresOAuthClientRepo) GetClientByID(ctx context.Context, clientID string) (domain.OAuthClient, error) {
	var (
		client       domain.OAuthClient
		redirectURIs string
		scopes       string
		grantTypes   string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT client_id, client_secret, name, redirect_uris, scopes, grant_types, created_at
		 FROM oauth_clients WHERE client_id = $1`,
		clientID,
	).Scan(&client.ClientID, &client.ClientSecret, &client.Name, &redirectURIs, &scopes, &grantTypes, &client.CreatedAt)
	if err != nil {
		return domain.OAuthClient{}, fmt.Errorf("get oauth client: %w", err)
	}
	client.RedirectURIs = domain.SplitRedirectURIs(redirectURIs)
	client.Scopes = strings.Fields(scopes)
	client.GrantTypes = strings.Fields(grantTypes)
	return client, nil
}

func (r *PostgresOAuthClientRepo) UpsertClient(ctx context.Context, client domain.OAuthClient) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO oauth_clients (client_id, client_secret, name, redirect_uris, scopes, grant_types)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (client_id) DO UPDATE SET
		   client_secret = EXCLUDED.client_secret,
		   name = EXCLUDED.name,
		   redirect_uris = EXCLUDED.redirect_uris,
		   scopes = EXCLUDED.scopes,
		   grant_types = EXCLUDED.grant_types`,
		client.ClientID,
		client.ClientSecret,
		client.Name,
		domain.JoinRedirectURIs(client.RedirectURIs),
		strings.Join(client.Scopes, " "),
		strings.Join(client.GrantTypes, " "),
	)
	if err != nil {
		return fmt.Errorf("upsert oauth client: %w", err)
	}
	return nil
}

// PostgresCodeRepo implements CodeRepository.
type PostgresCodeRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCodeRepo(pool *pgxpool.Pool) *PostgresCodeRepo {
	return &PostgresCodeRepo{pool: pool}
}

func (r *PostgresCodeRepo) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO authorization_codes
		   (code, client_id, username, redirect_uri, scope, code_challenge, code_challenge_method, nonce, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		code.Code, code.ClientID, code.Username, code.RedirectURI, code.Scope,
		code.CodeChallenge, code.CodeChallengeMethod, code.Nonce, code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create authorization code: %w", err)
	}
	return nil
}

// ConsumeCode deletes and returns the code in one statement, so two concurrent
// redemptions cannot both observe it.
func (r *PostgresCodeRepo) ConsumeCode(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	var out domain.AuthorizationCode
	err := r.pool.QueryRow(ctx,
		`DELETE FROM authorization_codes
		 WHERE code = $1 AND expires_at > now()
		 RETURNING code, client_id, username, redirect_uri, scope, code_challenge, code_challenge_method, nonce, expires_at, created_at`,
		code,
	).Scan(&out.Code, &out.ClientID, &out.Username, &out.RedirectURI, &out.Scope,
		&out.CodeChallenge, &out.CodeChallengeMethod, &out.Nonce, &out.ExpiresAt, &out.CreatedAt)
	if err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("consume authorization code: %w", err)
	}
	return out, nil
}

// PostgresRefreshTokenRepo implements RefreshTokenRepository.
type PostgresRefreshTokenRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRefreshTokenRepo(pool *pgxpool.Pool) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{pool: pool}
}

func (r *PostgresRefreshTokenRepo) CreateRefreshToken(ctx context.Context, record domain.RefreshTokenRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (id, refresh_token, client_id, username, scope, expires_at, revoked)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.Token, record.ClientID, record.Username, record.Scope, record.ExpiresAt, record.Revoked,
	)
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

func (r *PostgresRefreshTokenRepo) GetRefreshToken(ctx context.Context, token string) (domain.RefreshTokenRecord, error) {
	var rec domain.RefreshTokenRecord
	err := r.pool.QueryRow(ctx,
		`SELECT id, refresh_token, client_id, username, scope, expires_at, revoked, created_at
		 FROM refresh_tokens WHERE refresh_token = $1`,
		token,
	).Scan(&rec.ID, &rec.Token, &rec.ClientID, &rec.Username, &rec.Scope, &rec.ExpiresAt, &rec.Revoked, &rec.CreatedAt)
	if err != nil {
		return domain.RefreshTokenRecord{}, fmt.Errorf("get refresh token: %w", err)
	}
	return rec, nil
}

func (r *PostgresRefreshTokenRepo) RevokeRefreshToken(ctx context.Context, token string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = true WHERE refresh_token = $1`, token); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// PostgresDashboardRepo implements DashboardRepository.
type PostgresDashboardRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresDashboardRepo(pool *pgxpool.Pool) *PostgresDashboardRepo {
	return &PostgresDashboardRepo{pool: pool}
}

func (r *PostgresDashboardRepo) ListStats(ctx context.Context) ([]domain.DashboardStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT 'users' AS name, count(*) AS value, now() FROM users
		UNION ALL
		SELECT 'oauth_clients', count(*), now() FROM oauth_clients
		UNION ALL
		SELECT 'active_refresh_tokens', count(*), now() FROM refresh_tokens WHERE NOT revoked AND expires_at > now()
		UNION ALL
		SELECT 'pending_authorization_codes', count(*), now() FROM authorization_codes WHERE expires_at > now()`)
	if err != nil {
		return nil, fmt.Errorf("list dashboard stats: %w", err)
	}
	stats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DashboardStat, error) {
		var s domain.DashboardStat
		err := row.Scan(&s.Name, &s.Value, &s.UpdatedAt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan dashboard stats: %w", err)
	}
	return stats, nil
}

func (r *PostgresDashboardRepo) ListRecentActivities(ctx context.Context, limit int) ([]domain.Activity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, username, action, description, created_at FROM recent_activities ORDER BY created_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent activities: %w", err)
	}
	activities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Activity, error) {
		var a domain.Activity
		err := row.Scan(&a.ID, &a.Username, &a.Action, &a.Description, &a.CreatedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan recent activities: %w", err)
	}
	return activities, nil
}

func (r *PostgresDashboardRepo) ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, level, message, created_at FROM system_alerts ORDER BY created_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	alerts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Alert, error) {
		var a domain.Alert
		err := row.Scan(&a.ID, &a.Level, &a.Message, &a.CreatedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan alerts: %w", err)
	}
	return alerts, nil
}

func (r *PostgresDashboardRepo) RecordActivity(ctx context.Context, activity domain.Activity) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO recent_activities (username, action, description) VALUES ($1, $2, $3)`,
		activity.Username, activity.Action, activity.Description,
	)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

func (r *PostgresDashboardRepo) RecordAlert(ctx context.Context, alert domain.Alert) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO system_alerts (level, message) VALUES ($1, $2)`,
		alert.Level, alert.Message,
	)
	if err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	return nil
}
