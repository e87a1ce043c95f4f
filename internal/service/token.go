package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/domain/oauth"
	"github.com/smallbiznis/sso-auth/internal/jwt"
)

// ClientCredentials are the credentials presented at the token endpoint,
// taken from HTTP Basic auth or the request body.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// TokenRequest carries the token endpoint form parameters.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// TokenResponse is the token endpoint success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// IntrospectionResponse follows RFC 7662. Inactive tokens carry no other field.
type IntrospectionResponse struct {
	Active   bool   `json:"active"`
	Sub      string `json:"sub,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

// UserInfoResponse is the OIDC userinfo body.
type UserInfoResponse struct {
	Sub               string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

// Token authenticates the client and dispatches on grant_type.
func (s *AuthService) Token(ctx context.Context, creds ClientCredentials, req TokenRequest) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Token")
	defer span.End()

	client, err := s.authenticateClient(ctx, creds)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.checkRate(ctx, "token", client.ClientID); err != nil {
		return nil, err
	}

	grant := oauth.ParseGrantType(req.GrantType)
	if grant != oauth.GrantUnsupported && !client.AllowsGrant(grant.String()) {
		return nil, newOAuthError("unauthorized_client", "Client not allowed to use grant_type", http.StatusBadRequest)
	}

	var resp *TokenResponse
	switch grant {
	case oauth.GrantAuthorizationCode:
		resp, err = s.authorizationCodeGrant(ctx, client, req)
	case oauth.GrantRefreshToken:
		resp, err = s.refreshTokenGrant(ctx, client, req)
	case oauth.GrantClientCredentials:
		resp, err = s.clientCredentialsGrant(ctx, client, req)
	default:
		err = newOAuthError("unsupported_grant_type", "Unsupported grant_type", http.StatusBadRequest)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.audit("token.issued", "client_id", client.ClientID, "grant_type", grant.String())
	return resp, nil
}

func (s *AuthService) authenticateClient(ctx context.Context, creds ClientCredentials) (domain.OAuthClient, error) {
	if creds.ClientID == "" {
		return domain.OAuthClient{}, invalidClient("Missing client authentication")
	}

	client, err := s.clients.GetClientByID(ctx, creds.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OAuthClient{}, invalidClient("Invalid client")
		}
		return domain.OAuthClient{}, newInternalError("load client", err)
	}

	if !s.clientSecretMatches(client.ClientSecret, creds.ClientSecret) {
		s.audit("client.auth.failed", "client_id", client.ClientID)
		return domain.OAuthClient{}, invalidClient("Invalid client credentials")
	}
	return client, nil
}

// clientSecretMatches accepts secrets stored either hashed or in plain form.
func (s *AuthService) clientSecretMatches(stored, presented string) bool {
	if presented == "" {
		return false
	}
	if s.hasher != nil && s.hasher.IsHash(stored) {
		ok, err := s.hasher.Verify(presented, stored)
		return err == nil && ok
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func (s *AuthService) authorizationCodeGrant(ctx context.Context, client domain.OAuthClient, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, invalidRequest("Missing code")
	}
	if req.RedirectURI == "" {
		return nil, invalidRequest("Missing redirect_uri")
	}

	record, err := s.codes.Redeem(ctx, req.Code)
	if err != nil {
		return nil, newInternalError("redeem code", err)
	}
	if record == nil {
		return nil, invalidGrant("Invalid or expired code")
	}
	if record.ClientID != client.ClientID {
		return nil, invalidGrant("Code/client mismatch")
	}
	if record.RedirectURI != req.RedirectURI {
		return nil, invalidGrant("redirect_uri mismatch")
	}
	if record.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, invalidRequest("Missing code_verifier")
		}
		if !VerifyPKCE(req.CodeVerifier, record.CodeChallenge, record.CodeChallengeMethod) {
			return nil, invalidGrant("Invalid code_verifier")
		}
	}

	resp, err := s.accessTokenResponse(record.Username, client.ClientID, record.Scope)
	if err != nil {
		return nil, err
	}

	refresh, err := s.refresh.Issue(ctx, record.Username, client.ClientID, record.Scope)
	if err != nil {
		return nil, newInternalError("issue refresh token", err)
	}
	resp.RefreshToken = refresh

	if record.Nonce != "" || hasScope(record.Scope, "openid") {
		idToken, err := s.jwt.IssueIDToken(record.Username, client.ClientID, s.cfg.Issuer, record.Nonce, 0)
		if err != nil {
			return nil, newInternalError("sign id token", err)
		}
		s.metrics.TokenIssued("id")
		resp.IDToken = idToken
	}

	return resp, nil
}

func (s *AuthService) refreshTokenGrant(ctx context.Context, client domain.OAuthClient, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, invalidRequest("Missing refresh_token")
	}

	session, err := s.refresh.Validate(ctx, req.RefreshToken)
	switch {
	case errors.Is(err, ErrRefreshTokenUnknown):
		return nil, invalidGrant("Invalid or expired refresh token")
	case errors.Is(err, ErrRefreshTokenRevoked):
		return nil, invalidGrant("Refresh token expired or revoked")
	case err != nil:
		return nil, newInternalError("validate refresh token", err)
	}
	if session.ClientID != client.ClientID {
		return nil, invalidGrant("Client mismatch")
	}

	scope := session.Scope
	if requested := normalizeScope(req.Scope); requested != "" {
		for _, tok := range strings.Fields(requested) {
			if !hasScope(session.Scope, tok) {
				return nil, newOAuthError("invalid_scope", fmt.Sprintf("Scope '%s' not allowed", tok), http.StatusBadRequest)
			}
		}
		scope = requested
	}

	resp, err := s.accessTokenResponse(session.Username, client.ClientID, scope)
	if err != nil {
		return nil, err
	}

	resp.RefreshToken = req.RefreshToken
	if s.cfg.RefreshTokenRotation {
		rotated, err := s.refresh.Rotate(ctx, req.RefreshToken, *session)
		if err != nil {
			return nil, newInternalError("rotate refresh token", err)
		}
		resp.RefreshToken = rotated
	}
	return resp, nil
}

func (s *AuthService) clientCredentialsGrant(_ context.Context, client domain.OAuthClient, req TokenRequest) (*TokenResponse, error) {
	scope := normalizeScope(req.Scope)
	if scope == "" {
		scope = client.DefaultScope()
	}
	if bad := client.DisallowedScope(scope); bad != "" {
		return nil, newOAuthError("invalid_scope", fmt.Sprintf("Scope '%s' not allowed", bad), http.StatusBadRequest)
	}
	access, err := s.jwt.IssueClientToken(client.ClientID, scope, s.cfg.Issuer, 0)
	if err != nil {
		return nil, newInternalError("sign access token", err)
	}
	return s.bearerResponse(access, scope), nil
}

func (s *AuthService) accessTokenResponse(subject, clientID, scope string) (*TokenResponse, error) {
	access, err := s.jwt.IssueAccessToken(subject, scope, clientID, s.cfg.Issuer, 0)
	if err != nil {
		return nil, newInternalError("sign access token", err)
	}
	return s.bearerResponse(access, scope), nil
}

func (s *AuthService) bearerResponse(access, scope string) *TokenResponse {
	s.metrics.TokenIssued("access")
	return &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.jwt.AccessTTL().Seconds()),
		Scope:       scope,
	}
}

// VerifyPKCE checks a code_verifier against the stored challenge.
func VerifyPKCE(verifier, challenge, method string) bool {
	if method == "S256" {
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	}
	return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
}

// Introspect reports whether token is an active access token. Every failure,
// including an ID token, collapses to {active:false}.
func (s *AuthService) Introspect(ctx context.Context, token string) IntrospectionResponse {
	_, span := s.startSpan(ctx, "AuthService.Introspect")
	defer span.End()

	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		s.log().Debug("introspection inactive", zap.String("reason", validationReason(err)))
		return IntrospectionResponse{Active: false}
	}
	return IntrospectionResponse{
		Active:   true,
		Sub:      claims.Subject,
		ClientID: claims.ClientID(),
		Scope:    claims.Scope,
		Exp:      claims.Expiry.Unix(),
	}
}

// Revoke invalidates a refresh token. Unknown and empty tokens succeed; only
// store failures are reported.
func (s *AuthService) Revoke(ctx context.Context, token string) error {
	ctx, span := s.startSpan(ctx, "AuthService.Revoke")
	defer span.End()

	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := s.refresh.Revoke(ctx, token); err != nil {
		span.RecordError(err)
		return newInternalError("revoke token", err)
	}
	s.audit("token.revoked")
	return nil
}

// UserInfo resolves the user behind a bearer access token.
func (s *AuthService) UserInfo(ctx context.Context, accessToken string) (*UserInfoResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.UserInfo")
	defer span.End()

	if accessToken == "" {
		return nil, newOAuthError("invalid_token", "Missing bearer token", http.StatusUnauthorized)
	}
	claims, err := s.jwt.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, newOAuthError("invalid_token", "Invalid or expired token", http.StatusUnauthorized)
	}
	if claims.ClientOnly() {
		return nil, newOAuthError("invalid_token", "Token is not bound to a user", http.StatusUnauthorized)
	}

	user, err := s.users.GetByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newOAuthError("invalid_token", "User not found", http.StatusUnauthorized)
		}
		return nil, newInternalError("load user", err)
	}
	return &UserInfoResponse{Sub: user.Username, PreferredUsername: user.Username, Email: user.Email}, nil
}

// ValidateAccessToken exposes access token validation to the bearer middleware.
func (s *AuthService) ValidateAccessToken(token string) (*jwt.Claims, error) {
	return s.jwt.ValidateAccessToken(token)
}

func validationReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, jwt.ErrMalformedToken):
		return "malformed"
	case errors.Is(err, jwt.ErrNotAccessToken):
		return "not_access_token"
	default:
		return "invalid_claims"
	}
}

func hasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}
