package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/adapter/cache"
	"github.com/smallbiznis/sso-auth/internal/config"
	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/http/handler"
	"github.com/smallbiznis/sso-auth/internal/jwt"
	"github.com/smallbiznis/sso-auth/internal/notify"
	"github.com/smallbiznis/sso-auth/internal/password"
	"github.com/smallbiznis/sso-auth/internal/repository/memory"
	"github.com/smallbiznis/sso-auth/internal/service"
)

const (
	testClientID    = "web"
	testSecret      = "web-secret"
	testRedirectURI = "https://app.test/callback"
)

type testServer struct {
	engine *gin.Engine
	redis  *miniredis.Miniredis
	svc    *service.AuthService
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Issuer:               "https://sso.test",
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      24 * time.Hour,
		AuthorizationCodeTTL: 5 * time.Minute,
		SessionTTL:           time.Hour,
		ConsentTTL:           time.Hour,
		RateLimitMax:         10,
		RateLimitWindow:      time.Minute,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	store := memory.NewStore()
	hasher := password.NewHasherWith(password.Bcrypt{Cost: 4})
	hash, err := hasher.Hash("correct horse")
	require.NoError(t, err)
	_, err = store.Create(ctx, domain.User{ID: 1, Username: "alice", Email: "alice@example.com", PasswordHash: hash})
	require.NoError(t, err)
	require.NoError(t, store.UpsertClient(ctx, domain.OAuthClient{
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Name:         "Acme <Web>",
		RedirectURIs: []string{testRedirectURI},
		Scopes:       []string{"openid", "profile", "email"},
	}))

	keys, err := jwt.GenerateSigningKey()
	require.NoError(t, err)
	manager := jwt.NewStaticKeyManager(keys)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()

	svc := service.NewAuthService(service.AuthServiceParams{
		Config:   cfg,
		Logger:   logger,
		Users:    store,
		Clients:  store,
		Codes:    service.NewAuthorizationCodeStore(store, cfg),
		Refresh:  service.NewRefreshTokenLedger(cache.NewRedisRefreshTokenCache(rdb), store, node, cfg, nil, logger),
		Sessions: cache.NewRedisSessionStore(rdb, cfg.SessionTTL),
		Consents: cache.NewRedisConsentStore(rdb, cfg.ConsentTTL),
		Limiter:  cache.NewRedisRateLimiter(rdb, cfg.RateLimitMax, cfg.RateLimitWindow),
		Hasher:   hasher,
		Tokens:   jwt.NewGenerator(manager, cfg.AccessTokenTTL),
		Notifier: notify.NewLogNotifier(logger),
		Node:     node,
	})

	h := handler.NewAuthHandler(cfg, logger, svc, service.NewDiscoveryService(cfg, manager))
	health := handler.NewHealthHandler(store, rdb, logger)

	_, engine := gin.CreateTestContext(httptest.NewRecorder())
	engine.GET("/health", health.Health)
	engine.GET("/.well-known/openid-configuration", h.OpenIDConfig)
	engine.GET("/.well-known/jwks.json", h.JWKS)
	engine.GET("/login", h.LoginPage)
	engine.POST("/login", h.LoginSubmit)
	engine.POST("/logout", h.Logout)
	engine.GET("/register", h.RegisterPage)
	engine.POST("/register", h.RegisterSubmit)
	engine.GET("/authorize", h.Authorize)
	engine.GET("/consent", h.ConsentPage)
	engine.POST("/consent", h.ConsentSubmit)
	engine.POST("/token", h.Token)
	engine.POST("/introspect", h.Introspect)
	engine.POST("/revoke", h.Revoke)
	engine.GET("/userinfo", h.UserInfo)

	return &testServer{engine: engine, redis: mr, svc: svc}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return s.do(req)
}

func (s *testServer) postForm(path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return s.do(req)
}

func (s *testServer) login(t *testing.T) *http.Cookie {
	t.Helper()
	w := s.postForm("/login", url.Values{"username": {"alice"}, "password": {"correct horse"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	return sessionCookie(t, w)
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == handler.SessionCookie {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", handler.SessionCookie)
	return nil
}

func authorizeQuery() url.Values {
	return url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"scope":         {"openid profile"},
		"state":         {"xyz"},
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error, body.Description
}

func TestLoginPageEscapesParameters(t *testing.T) {
	s := newTestServer(t)

	w := s.get("/login?next=" + url.QueryEscape(`/authorize?x="><b>`) + "&error=" + url.QueryEscape("<script>alert(1)</script>"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	body := w.Body.String()
	require.NotContains(t, body, "<script>alert(1)</script>")
	require.Contains(t, body, "&lt;script&gt;")
	require.NotContains(t, body, `"><b>`)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	s := newTestServer(t)

	w := s.postForm("/login", url.Values{
		"username": {"alice"},
		"password": {"correct horse"},
		"next":     {"/authorize?client_id=web"},
	})

	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, "/authorize?client_id=web", w.Header().Get("Location"))

	cookie := sessionCookie(t, w)
	require.NotEmpty(t, cookie.Value)
	require.True(t, cookie.HttpOnly)
	require.False(t, cookie.Secure)
	require.Equal(t, "/", cookie.Path)
	require.Equal(t, 3600, cookie.MaxAge)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	require.True(t, s.redis.Exists("sso:session:"+cookie.Value))
}

func TestLoginSecureCookie(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.SessionCookieSecure = true })

	cookie := s.login(t)
	require.True(t, cookie.Secure)
}

func TestLoginRejectsOpenRedirect(t *testing.T) {
	s := newTestServer(t)

	for _, next := range []string{"//evil.example", `/\evil.example`, "https://evil.example/", "javascript:alert(1)"} {
		w := s.postForm("/login", url.Values{"username": {"alice"}, "password": {"correct horse"}, "next": {next}})
		require.Equal(t, http.StatusSeeOther, w.Code, next)
		require.Equal(t, "/", w.Header().Get("Location"), next)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	s := newTestServer(t)

	for _, username := range []string{"alice", "nobody"} {
		w := s.postForm("/login", url.Values{"username": {username}, "password": {"wrong"}, "next": {"/consent"}})

		require.Equal(t, http.StatusSeeOther, w.Code)
		location, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		require.Equal(t, "/login", location.Path)
		require.Equal(t, "/consent", location.Query().Get("next"))
		require.Equal(t, "Invalid credentials", location.Query().Get("error"))
		require.Empty(t, w.Result().Cookies())
	}
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.RateLimitMax = 1 })

	w := s.postForm("/login", url.Values{"username": {"alice"}, "password": {"wrong"}})
	require.Equal(t, http.StatusSeeOther, w.Code)

	w = s.postForm("/login", url.Values{"username": {"alice"}, "password": {"correct horse"}})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "Too many requests. Try again later.")
}

func TestLogoutClearsSession(t *testing.T) {
	s := newTestServer(t)
	cookie := s.login(t)

	w := s.postForm("/logout", url.Values{}, cookie)

	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, "/login", w.Header().Get("Location"))
	require.True(t, sessionCookie(t, w).MaxAge < 0)
	require.False(t, s.redis.Exists("sso:session:"+cookie.Value))
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	w := s.get("/register")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `action="/register"`)

	w = s.postForm("/register", url.Values{"username": {"bob"}, "password": {"hunter22"}, "email": {"bob@example.com"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, "/login?registered=1", w.Header().Get("Location"))

	w = s.postForm("/login", url.Values{"username": {"bob"}, "password": {"hunter22"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, "/", w.Header().Get("Location"))
}

func TestRegisterValidationErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.postForm("/register", url.Values{"username": {"alice"}, "password": {"another"}, "email": {"a@example.com"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "Username already exists")
	require.Contains(t, w.Body.String(), `value="a@example.com"`)

	w = s.postForm("/register", url.Values{"username": {"carol"}, "password": {"pw"}, "email": {"not-an-email"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "Invalid email address")
}

func TestAuthorizeRedirectsToLogin(t *testing.T) {
	s := newTestServer(t)

	w := s.get("/authorize?" + authorizeQuery().Encode())

	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/login", location.Path)

	next := location.Query().Get("next")
	require.True(t, strings.HasPrefix(next, "/authorize?"))
	continued, err := url.Parse(next)
	require.NoError(t, err)
	require.Equal(t, testRedirectURI, continued.Query().Get("redirect_uri"))
}

func TestAuthorizeFailsClosedOnUnregisteredRedirect(t *testing.T) {
	s := newTestServer(t)
	cookie := s.login(t)

	q := authorizeQuery()
	q.Set("redirect_uri", "https://evil.example/cb")
	w := s.get("/authorize?"+q.Encode(), cookie)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, w.Header().Get("Location"))
	code, desc := decodeError(t, w)
	require.Equal(t, "invalid_request", code)
	require.Equal(t, "Invalid redirect_uri", desc)
}

func TestAuthorizeRejectsUnknownClientAndScope(t *testing.T) {
	s := newTestServer(t)

	q := authorizeQuery()
	q.Set("client_id", "ghost")
	code, desc := decodeError(t, s.get("/authorize?"+q.Encode()))
	require.Equal(t, "invalid_client", code)
	require.Equal(t, "Invalid client_id", desc)

	q = authorizeQuery()
	q.Set("scope", "openid admin")
	code, desc = decodeError(t, s.get("/authorize?"+q.Encode()))
	require.Equal(t, "invalid_scope", code)
	require.Equal(t, "Scope 'admin' not allowed", desc)

	q = authorizeQuery()
	q.Set("response_type", "token")
	code, _ = decodeError(t, s.get("/authorize?"+q.Encode()))
	require.Equal(t, "unsupported_response_type", code)
}

func TestAuthorizeRendersConsent(t *testing.T) {
	s := newTestServer(t)
	cookie := s.login(t)

	q := authorizeQuery()
	q.Set("nonce", "n-0S6")
	w := s.get("/authorize?"+q.Encode(), cookie)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "Acme &lt;Web&gt;")
	require.Contains(t, body, "alice")
	require.Contains(t, body, `name="client_id" value="web"`)
	require.Contains(t, body, `name="nonce" value="n-0S6"`)
	require.Contains(t, body, "<li>profile</li>")
}

func TestConsentApproveIssuesCode(t *testing.T) {
	s := newTestServer(t)
	cookie := s.login(t)

	form := authorizeQuery()
	form.Set("decision", "approve")
	w := s.postForm("/consent", form, cookie)

	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "app.test", location.Host)
	require.NotEmpty(t, location.Query().Get("code"))
	require.Equal(t, "xyz", location.Query().Get("state"))

	// Consent is remembered, so authorize redirects straight back.
	w = s.get("/authorize?"+authorizeQuery().Encode(), cookie)
	require.Equal(t, http.StatusFound, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("Location"), testRedirectURI+"?"))
}

func TestConsentDeny(t *testing.T) {
	s := newTestServer(t)
	cookie := s.login(t)

	form := authorizeQuery()
	form.Set("decision", "deny")
	w := s.postForm("/consent", form, cookie)

	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "access_denied", location.Query().Get("error"))
	require.Equal(t, "xyz", location.Query().Get("state"))
	require.Empty(t, location.Query().Get("code"))
}

func TestConsentWithoutSessionGoesToLogin(t *testing.T) {
	s := newTestServer(t)

	form := authorizeQuery()
	form.Del("response_type")
	form.Set("decision", "approve")
	w := s.postForm("/consent", form)

	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/login", location.Path)
	require.True(t, strings.HasPrefix(location.Query().Get("next"), "/consent?"))
}

func TestConsentPage(t *testing.T) {
	s := newTestServer(t)
	cookie := s.login(t)

	w := s.get("/consent?"+authorizeQuery().Encode(), cookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `value="approve"`)

	w = s.get("/consent?" + authorizeQuery().Encode())
	require.Equal(t, http.StatusFound, w.Code)
}

func TestConsentUnknownDecision(t *testing.T) {
	s := newTestServer(t)
	cookie := s.login(t)

	form := authorizeQuery()
	form.Set("decision", "maybe")
	w := s.postForm("/consent", form, cookie)

	require.Equal(t, http.StatusBadRequest, w.Code)
	code, _ := decodeError(t, w)
	require.Equal(t, "invalid_request", code)
}

func TestTokenRequiresClientAuthentication(t *testing.T) {
	s := newTestServer(t)

	w := s.postForm("/token", url.Values{"grant_type": {"client_credentials"}})

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	code, desc := decodeError(t, w)
	require.Equal(t, "invalid_client", code)
	require.Equal(t, "Missing client authentication", desc)
}

func TestTokenBasicAuthTakesPrecedence(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {testClientID},
		"client_secret": {"wrong"},
		"scope":         {"profile"},
	}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testSecret)
	w := s.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp service.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, 900, resp.ExpiresIn)
	require.Empty(t, resp.RefreshToken)

	req = httptest.NewRequest(http.MethodPost, "/token", strings.NewReader("grant_type=client_credentials"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, "wrong")
	w = s.do(req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
}

func TestTokenUnsupportedGrant(t *testing.T) {
	s := newTestServer(t)

	w := s.postForm("/token", url.Values{"grant_type": {"password"}, "client_id": {testClientID}, "client_secret": {testSecret}})

	require.Equal(t, http.StatusBadRequest, w.Code)
	code, desc := decodeError(t, w)
	require.Equal(t, "unsupported_grant_type", code)
	require.Equal(t, "Unsupported grant_type", desc)
}

func TestIntrospectAndUserInfo(t *testing.T) {
	s := newTestServer(t)

	w := s.postForm("/introspect", url.Values{"token": {"garbage"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"active":false}`, w.Body.String())

	w = s.get("/userinfo")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("WWW-Authenticate"), "Bearer"))

	req := httptest.NewRequest(http.MethodGet, "/userinfo", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = s.do(req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	code, _ := decodeError(t, w)
	require.Equal(t, "invalid_token", code)
}

func TestRevoke(t *testing.T) {
	s := newTestServer(t)

	w := s.postForm("/revoke", url.Values{})
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Body.String())

	w = s.postForm("/revoke", url.Values{"token": {"never-issued"}})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDiscoveryEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.get("/.well-known/openid-configuration")
	require.Equal(t, http.StatusOK, w.Code)
	var doc service.OpenIDConfiguration
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Equal(t, "https://sso.test", doc.Issuer)
	require.Equal(t, "https://sso.test/.well-known/jwks.json", doc.JWKSURI)

	w = s.get("/.well-known/jwks.json")
	require.Equal(t, http.StatusOK, w.Code)
	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "RSA", jwks.Keys[0]["kty"])
	require.Equal(t, "RS256", jwks.Keys[0]["alg"])
	require.NotEmpty(t, jwks.Keys[0]["kid"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.get("/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"healthy","database":"healthy","redis":"healthy"}`, w.Body.String())

	s.redis.Close()
	w = s.get("/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"degraded","database":"healthy","redis":"unhealthy"}`, w.Body.String())
}
