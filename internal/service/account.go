package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/domain/oauth"
	"github.com/smallbiznis/sso-auth/internal/notify"
)

const welcomeEmailTimeout = 30 * time.Second

// RegistrationInput is the self-service sign up form.
type RegistrationInput struct {
	Username string
	Password string
	Email    string
}

// Login verifies credentials and opens an SSO session.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		s.metrics.AuthAttempt("failure")
		return "", invalidCredentials()
	}

	if err := s.checkRate(ctx, "login_ui", username); err != nil {
		if oe := AsOAuthError(err); oe.Status == http.StatusTooManyRequests {
			s.metrics.AuthAttempt("rate_limited")
		}
		return "", err
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.metrics.AuthAttempt("failure")
			s.audit("login.failed", "username", username, "reason", "unknown_user")
			return "", invalidCredentials()
		}
		return "", newInternalError("load user", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		s.metrics.AuthAttempt("failure")
		s.audit("login.failed", "username", username, "reason", "bad_password")
		return "", invalidCredentials()
	}

	sessionID, err := s.sessions.CreateSession(ctx, user.Username)
	if err != nil {
		return "", newInternalError("create session", err)
	}

	s.metrics.AuthAttempt("success")
	s.audit("login.success", "username", user.Username)
	s.recordActivity(ctx, user.Username, "login", "Signed in")
	return sessionID, nil
}

// Logout ends the SSO session. Missing sessions are not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	username, ok, err := s.sessionUser(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return newInternalError("delete session", err)
	}
	if ok {
		s.audit("logout", "username", username)
		s.recordActivity(ctx, username, "logout", "Signed out")
	}
	return nil
}

// Register creates a user with a password hashed by the current scheme.
func (s *AuthService) Register(ctx context.Context, in RegistrationInput) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer span.End()

	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" || in.Password == "" {
		return domain.User{}, newValidationError("Username and password are required")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return domain.User{}, newValidationError("Invalid email address")
		}
	}

	if err := s.checkRate(ctx, "register", username); err != nil {
		return domain.User{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return domain.User{}, newInternalError("hash password", err)
	}

	user, err := s.users.Create(ctx, domain.User{
		ID:           s.node.Generate().Int64(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, oauth.ErrUsernameTaken) {
			return domain.User{}, newValidationError("Username already exists")
		}
		span.RecordError(err)
		return domain.User{}, newInternalError("create user", err)
	}

	s.audit("user.registered", "username", user.Username, "user_id", user.ID)
	s.recordActivity(ctx, user.Username, "register", "Account created")

	if user.Email != "" && s.notifier != nil {
		go s.sendWelcome(user)
	}
	return user, nil
}

func (s *AuthService) sendWelcome(user domain.User) {
	ctx, cancel := context.WithTimeout(context.Background(), welcomeEmailTimeout)
	defer cancel()

	subject, body := notify.WelcomeMessage(user.Username)
	if err := s.notifier.Send(ctx, user.Email, subject, body); err != nil {
		s.log().Warn("send welcome email", zap.String("username", user.Username), zap.Error(err))
	}
}

// checkRate applies the fixed-window limiter to one surface and subject.
func (s *AuthService) checkRate(ctx context.Context, surface, subject string) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, fmt.Sprintf("rate_limit:%s:%s", surface, subject))
	if err != nil {
		return newInternalError("rate limit", err)
	}
	if allowed {
		return nil
	}

	s.metrics.RateLimitExceeded(surface)
	s.audit("rate_limit.exceeded", "surface", surface, "subject", subject)
	if s.activity != nil {
		alert := domain.Alert{Level: "warning", Message: fmt.Sprintf("rate limit exceeded on %s for %s", surface, subject)}
		if err := s.activity.RecordAlert(ctx, alert); err != nil {
			s.log().Warn("record alert", zap.Error(err))
		}
	}
	return newOAuthError("rate_limited", "Too many requests. Try again later.", http.StatusTooManyRequests)
}

func invalidCredentials() *OAuthError {
	return newOAuthError("invalid_credentials", "Invalid credentials", http.StatusUnauthorized)
}
