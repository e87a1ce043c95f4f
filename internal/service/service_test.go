package service_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/adapter/cache"
	"github.com/smallbiznis/sso-auth/internal/config"
	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/jwt"
	"github.com/smallbiznis/sso-auth/internal/metrics"
	"github.com/smallbiznis/sso-auth/internal/password"
	"github.com/smallbiznis/sso-auth/internal/repository/memory"
	"github.com/smallbiznis/sso-auth/internal/service"
)

const (
	testIssuer      = "https://sso.test"
	testClientID    = "web"
	testSecret      = "web-secret"
	testRedirectURI = "https://app.test/callback"
)

type fixture struct {
	svc       *service.AuthService
	store     *memory.Store
	redis     *miniredis.Miniredis
	tokens    *jwt.Generator
	ledger    *service.RefreshTokenLedger
	hasher    *password.Hasher
	notifier  *recordingNotifier
	dashboard *service.DashboardService
}

type recordingNotifier struct {
	sent chan string
}

func (n *recordingNotifier) Send(_ context.Context, to, _, _ string) error {
	n.sent <- to
	return nil
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Config{
		Issuer:               testIssuer,
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      7 * 24 * time.Hour,
		AuthorizationCodeTTL: 5 * time.Minute,
		SessionTTL:           time.Hour,
		ConsentTTL:           30 * 24 * time.Hour,
		RateLimitMax:         10,
		RateLimitWindow:      time.Minute,
		DashboardCacheTTL:    time.Minute,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.NewStore()
	hasher := password.NewHasherWith(password.Bcrypt{Cost: 4})
	ctx := context.Background()

	hash, err := hasher.Hash("correct horse")
	require.NoError(t, err)
	_, err = store.Create(ctx, domain.User{ID: 1, Username: "alice", Email: "alice@example.com", PasswordHash: hash})
	require.NoError(t, err)
	require.NoError(t, store.UpsertClient(ctx, domain.OAuthClient{
		ClientID:     testClientID,
		ClientSecret: testSecret,
		RedirectURIs: []string{testRedirectURI},
		Scopes:       []string{"openid", "profile", "email"},
	}))

	keys, err := jwt.GenerateSigningKey()
	require.NoError(t, err)
	generator := jwt.NewGenerator(jwt.NewStaticKeyManager(keys), cfg.AccessTokenTTL)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	m := metrics.New()
	logger := zap.NewNop()

	ledger := service.NewRefreshTokenLedger(cache.NewRedisRefreshTokenCache(rdb), store, node, cfg, m, logger)
	notifier := &recordingNotifier{sent: make(chan string, 4)}

	svc := service.NewAuthService(service.AuthServiceParams{
		Config:   cfg,
		Logger:   logger,
		Users:    store,
		Clients:  store,
		Codes:    service.NewAuthorizationCodeStore(store, cfg),
		Refresh:  ledger,
		Sessions: cache.NewRedisSessionStore(rdb, cfg.SessionTTL),
		Consents: cache.NewRedisConsentStore(rdb, cfg.ConsentTTL),
		Limiter:  cache.NewRedisRateLimiter(rdb, cfg.RateLimitMax, cfg.RateLimitWindow),
		Activity: store,
		Hasher:   hasher,
		Tokens:   generator,
		Notifier: notifier,
		Metrics:  m,
		Node:     node,
	})

	return &fixture{
		svc:       svc,
		store:     store,
		redis:     mr,
		tokens:    generator,
		ledger:    ledger,
		hasher:    hasher,
		notifier:  notifier,
		dashboard: service.NewDashboardService(store, cache.NewRedisDashboardCache(rdb), m, cfg, logger),
	}
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	sessionID, err := f.svc.Login(context.Background(), "alice", "correct horse")
	require.NoError(t, err)
	return sessionID
}

// authorize drives authorize, consent and returns the issued code.
func (f *fixture) authorize(t *testing.T, req service.AuthorizeRequest) string {
	t.Helper()
	ctx := context.Background()
	sessionID := f.login(t)

	result, err := f.svc.Authorize(ctx, req, sessionID)
	require.NoError(t, err)
	if result.Outcome == service.OutcomeConsent {
		result, err = f.svc.SubmitConsent(ctx, req, "approve", sessionID)
		require.NoError(t, err)
	}
	require.Equal(t, service.OutcomeRedirect, result.Outcome)

	target, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	require.Equal(t, req.State, target.Query().Get("state"))
	code := target.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func baseRequest() service.AuthorizeRequest {
	return service.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		Scope:        "openid profile",
		State:        "xyz",
	}
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func creds() service.ClientCredentials {
	return service.ClientCredentials{ClientID: testClientID, ClientSecret: testSecret}
}

func requireOAuthError(t *testing.T, err error, code, desc string) *service.OAuthError {
	t.Helper()
	require.Error(t, err)
	oe := service.AsOAuthError(err)
	require.Equal(t, code, oe.Code)
	if desc != "" {
		require.Equal(t, desc, oe.Description)
	}
	return oe
}
