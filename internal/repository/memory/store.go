// Package memory holds process-local implementations of the durable
// repositories. They back development mode when no DATABASE_URL is set and
// are used throughout the tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/domain/oauth"
	"github.com/smallbiznis/sso-auth/internal/repository"
)

var (
	_ repository.UserRepository         = (*Store)(nil)
	_ repository.OAuthClientRepository  = (*Store)(nil)
	_ repository.CodeRepository         = (*Store)(nil)
	_ repository.RefreshTokenRepository = (*Store)(nil)
	_ repository.DashboardRepository    = (*Store)(nil)
	_ repository.HealthChecker          = (*Store)(nil)
)

// Store keeps every durable record in maps guarded by one mutex.
type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	users      map[string]domain.User
	clients    map[string]domain.OAuthClient
	codes      map[string]domain.AuthorizationCode
	refresh    map[string]domain.RefreshTokenRecord
	activities []domain.Activity
	alerts     []domain.Alert
	seq        int64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		now:     time.Now,
		users:   make(map[string]domain.User),
		clients: make(map[string]domain.OAuthClient),
		codes:   make(map[string]domain.AuthorizationCode),
		refresh: make(map[string]domain.RefreshTokenRecord),
	}
}

// WithClock overrides the time source used for expiry checks.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) GetByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return domain.User{}, fmt.Errorf("get user by username: %w", pgx.ErrNoRows)
	}
	return user, nil
}

func (s *Store) Create(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Username]; exists {
		return domain.User{}, oauth.ErrUsernameTaken
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.users[user.Username] = user
	return user, nil
}

func (s *Store) GetClientByID(_ context.Context, clientID string) (domain.OAuthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[clientID]
	if !ok {
		return domain.OAuthClient{}, fmt.Errorf("get oauth client: %w", pgx.ErrNoRows)
	}
	return client, nil
}

func (s *Store) UpsertClient(_ context.Context, client domain.OAuthClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.clients[client.ClientID]; ok {
		client.CreatedAt = existing.CreatedAt
	} else if client.CreatedAt.IsZero() {
		client.CreatedAt = s.now()
	}
	s.clients[client.ClientID] = client
	return nil
}

func (s *Store) CreateCode(_ context.Context, code domain.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.codes[code.Code]; exists {
		return fmt.Errorf("create authorization code: duplicate code")
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = s.now()
	}
	s.codes[code.Code] = code
	return nil
}

func (s *Store) ConsumeCode(_ context.Context, code string) (domain.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.codes[code]
	if !ok || record.Expired(s.now()) {
		return domain.AuthorizationCode{}, fmt.Errorf("consume authorization code: %w", pgx.ErrNoRows)
	}
	delete(s.codes, code)
	return record, nil
}

func (s *Store) CreateRefreshToken(_ context.Context, record domain.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	s.refresh[record.Token] = record
	return nil
}

func (s *Store) GetRefreshToken(_ context.Context, token string) (domain.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.refresh[token]
	if !ok {
		return domain.RefreshTokenRecord{}, fmt.Errorf("get refresh token: %w", pgx.ErrNoRows)
	}
	return record, nil
}

func (s *Store) RevokeRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.refresh[token]; ok {
		record.Revoked = true
		s.refresh[token] = record
	}
	return nil
}

func (s *Store) ListStats(context.Context) ([]domain.DashboardStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	var activeRefresh, pendingCodes int64
	for _, r := range s.refresh {
		if r.Usable(now) {
			activeRefresh++
		}
	}
	for _, c := range s.codes {
		if !c.Expired(now) {
			pendingCodes++
		}
	}
	return []domain.DashboardStat{
		{Name: "users", Value: int64(len(s.users)), UpdatedAt: now},
		{Name: "oauth_clients", Value: int64(len(s.clients)), UpdatedAt: now},
		{Name: "active_refresh_tokens", Value: activeRefresh, UpdatedAt: now},
		{Name: "pending_authorization_codes", Value: pendingCodes, UpdatedAt: now},
	}, nil
}

func (s *Store) ListRecentActivities(_ context.Context, limit int) ([]domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.Activity(nil), s.activities...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return truncate(out, limit), nil
}

func (s *Store) ListAlerts(_ context.Context, limit int) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.Alert(nil), s.alerts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return truncate(out, limit), nil
}

func (s *Store) RecordActivity(_ context.Context, activity domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	activity.ID = s.seq
	activity.CreatedAt = s.now()
	s.activities = append(s.activities, activity)
	return nil
}

func (s *Store) RecordAlert(_ context.Context, alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	alert.ID = s.seq
	alert.CreatedAt = s.now()
	alert.Level = strings.ToLower(alert.Level)
	s.alerts = append(s.alerts, alert)
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
