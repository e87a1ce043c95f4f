package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/config"
	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/jwt"
	"github.com/smallbiznis/sso-auth/internal/metrics"
	"github.com/smallbiznis/sso-auth/internal/notify"
	"github.com/smallbiznis/sso-auth/internal/password"
	"github.com/smallbiznis/sso-auth/internal/repository"
)

// AuthServiceParams are the collaborators of AuthService.
type AuthServiceParams struct {
	fx.In

	Config   config.Config
	Logger   *zap.Logger
	Tracer   trace.Tracer `optional:"true"`
	Users    repository.UserRepository
	Clients  repository.OAuthClientRepository
	Codes    *AuthorizationCodeStore
	Refresh  *RefreshTokenLedger
	Sessions repository.SessionStore
	Consents repository.ConsentStore
	Limiter  repository.RateLimiter
	Activity repository.DashboardRepository `optional:"true"`
	Hasher   *password.Hasher
	Tokens   *jwt.Generator
	Notifier notify.EmailNotifier
	Metrics  *metrics.Metrics `optional:"true"`
	Node     *snowflake.Node
}

// AuthService orchestrates the authorization code, token, session and
// account flows. It owns no state of its own.
type AuthService struct {
	users    repository.UserRepository
	clients  repository.OAuthClientRepository
	codes    *AuthorizationCodeStore
	refresh  *RefreshTokenLedger
	sessions repository.SessionStore
	consents repository.ConsentStore
	limiter  repository.RateLimiter
	activity repository.DashboardRepository
	hasher   *password.Hasher
	jwt      *jwt.Generator
	notifier notify.EmailNotifier
	metrics  *metrics.Metrics
	node     *snowflake.Node
	cfg      config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(p AuthServiceParams) *AuthService {
	tracer := p.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/smallbiznis/sso-auth/internal/service")
	}
	return &AuthService{
		users:    p.Users,
		clients:  p.Clients,
		codes:    p.Codes,
		refresh:  p.Refresh,
		sessions: p.Sessions,
		consents: p.Consents,
		limiter:  p.Limiter,
		activity: p.Activity,
		hasher:   p.Hasher,
		jwt:      p.Tokens,
		notifier: p.Notifier,
		metrics:  p.Metrics,
		node:     p.Node,
		cfg:      p.Config,
		logger:   p.Logger,
		tracer:   tracer,
	}
}

// AuthorizeRequest carries the /authorize and /consent parameters.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
}

// AuthorizeOutcome tells the HTTP layer what to render next.
type AuthorizeOutcome int

const (
	// OutcomeLogin means there is no valid SSO session.
	OutcomeLogin AuthorizeOutcome = iota + 1
	// OutcomeConsent means the user must approve the client and scope.
	OutcomeConsent
	// OutcomeRedirect means RedirectURL should be followed.
	OutcomeRedirect
)

// AuthorizeResult is the next step of the authorization flow.
type AuthorizeResult struct {
	Outcome     AuthorizeOutcome
	Client      domain.OAuthClient
	Request     AuthorizeRequest
	Username    string
	RedirectURL string
}

// Authorize validates the request and decides between login, consent and
// issuing a code.
func (s *AuthService) Authorize(ctx context.Context, req AuthorizeRequest, sessionID string) (*AuthorizeResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Authorize")
	defer span.End()

	client, req, err := s.validateAuthorize(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	username, ok, err := s.sessionUser(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &AuthorizeResult{Outcome: OutcomeLogin, Client: client, Request: req}, nil
	}

	consented, err := s.consents.HasConsent(ctx, username, client.ClientID, req.Scope)
	if err != nil {
		return nil, newInternalError("check consent", err)
	}
	if !consented {
		return &AuthorizeResult{Outcome: OutcomeConsent, Client: client, Request: req, Username: username}, nil
	}

	return s.issueCodeRedirect(ctx, client, username, req)
}

// ConsentPrompt validates the request and asks for consent when signed in.
func (s *AuthService) ConsentPrompt(ctx context.Context, req AuthorizeRequest, sessionID string) (*AuthorizeResult, error) {
	client, req, err := s.validateAuthorize(ctx, req)
	if err != nil {
		return nil, err
	}
	username, ok, err := s.sessionUser(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &AuthorizeResult{Outcome: OutcomeLogin, Client: client, Request: req}, nil
	}
	return &AuthorizeResult{Outcome: OutcomeConsent, Client: client, Request: req, Username: username}, nil
}

// SubmitConsent applies the user's approve or deny decision.
func (s *AuthService) SubmitConsent(ctx context.Context, req AuthorizeRequest, decision, sessionID string) (*AuthorizeResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.SubmitConsent")
	defer span.End()

	client, req, err := s.validateAuthorize(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	username, ok, err := s.sessionUser(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &AuthorizeResult{Outcome: OutcomeLogin, Client: client, Request: req}, nil
	}

	switch decision {
	case "deny":
		target, err := appendQuery(req.RedirectURI, map[string]string{"error": "access_denied", "state": req.State})
		if err != nil {
			return nil, newInternalError("build deny redirect", err)
		}
		s.audit("consent.denied", "username", username, "client_id", client.ClientID, "scope", req.Scope)
		return &AuthorizeResult{Outcome: OutcomeRedirect, Client: client, Request: req, Username: username, RedirectURL: target}, nil
	case "approve":
		if err := s.consents.GrantConsent(ctx, username, client.ClientID, req.Scope); err != nil {
			return nil, newInternalError("grant consent", err)
		}
		s.audit("consent.granted", "username", username, "client_id", client.ClientID, "scope", req.Scope)
		return s.issueCodeRedirect(ctx, client, username, req)
	default:
		return nil, newValidationError("decision must be approve or deny")
	}
}

func (s *AuthService) validateAuthorize(ctx context.Context, req AuthorizeRequest) (domain.OAuthClient, AuthorizeRequest, error) {
	if strings.TrimSpace(req.ResponseType) != "code" {
		return domain.OAuthClient{}, req, newOAuthError("unsupported_response_type", "Unsupported response_type", http.StatusBadRequest)
	}

	client, err := s.clients.GetClientByID(ctx, strings.TrimSpace(req.ClientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OAuthClient{}, req, newOAuthError("invalid_client", "Invalid client_id", http.StatusBadRequest)
		}
		return domain.OAuthClient{}, req, newInternalError("load client", err)
	}

	if !client.AllowsRedirectURI(req.RedirectURI) {
		return domain.OAuthClient{}, req, invalidRequest("Invalid redirect_uri")
	}

	req.Scope = normalizeScope(req.Scope)
	if req.Scope == "" {
		req.Scope = client.DefaultScope()
	}
	if bad := client.DisallowedScope(req.Scope); bad != "" {
		return domain.OAuthClient{}, req, newOAuthError("invalid_scope", fmt.Sprintf("Scope '%s' not allowed", bad), http.StatusBadRequest)
	}

	req.CodeChallenge = strings.TrimSpace(req.CodeChallenge)
	if req.CodeChallenge == "" {
		req.CodeChallengeMethod = ""
	} else {
		method, ok := normalizeChallengeMethod(req.CodeChallengeMethod)
		if !ok {
			return domain.OAuthClient{}, req, invalidRequest("Unsupported code_challenge_method")
		}
		req.CodeChallengeMethod = method
	}

	return client, req, nil
}

func (s *AuthService) issueCodeRedirect(ctx context.Context, client domain.OAuthClient, username string, req AuthorizeRequest) (*AuthorizeResult, error) {
	code, err := s.codes.Issue(ctx, CodeRequest{
		ClientID:            client.ClientID,
		Username:            username,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
	})
	if err != nil {
		return nil, newInternalError("issue code", err)
	}

	target, err := appendQuery(req.RedirectURI, map[string]string{"code": code, "state": req.State})
	if err != nil {
		return nil, newInternalError("build code redirect", err)
	}

	s.audit("authorization_code.issued", "username", username, "client_id", client.ClientID, "scope", req.Scope)
	return &AuthorizeResult{Outcome: OutcomeRedirect, Client: client, Request: req, Username: username, RedirectURL: target}, nil
}

func (s *AuthService) sessionUser(ctx context.Context, sessionID string) (string, bool, error) {
	if sessionID == "" {
		return "", false, nil
	}
	username, ok, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return "", false, newInternalError("load session", err)
	}
	return username, ok, nil
}

func appendQuery(rawURL string, params map[string]string) (string, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	query := target.Query()
	for key, value := range params {
		if value != "" {
			query.Set(key, value)
		}
	}
	target.RawQuery = query.Encode()
	return target.String(), nil
}

func normalizeScope(scope string) string {
	return strings.Join(strings.Fields(scope), " ")
}

func normalizeChallengeMethod(method string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "", "PLAIN":
		return "plain", true
	case "S256":
		return "S256", true
	default:
		return "", false
	}
}

func (s *AuthService) recordActivity(ctx context.Context, username, action, description string) {
	if s.activity == nil {
		return
	}
	err := s.activity.RecordActivity(ctx, domain.Activity{Username: username, Action: action, Description: description})
	if err != nil {
		s.log().Warn("record activity", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
