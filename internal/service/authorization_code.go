package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/smallbiznis/sso-auth/internal/config"
	"github.com/smallbiznis/sso-auth/internal/domain"
	"github.com/smallbiznis/sso-auth/internal/repository"
)

// CodeRequest is everything bound into an authorization code at issuance.
type CodeRequest struct {
	ClientID            string
	Username            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
}

// AuthorizationCodeStore issues and redeems single-use authorization codes.
type AuthorizationCodeStore struct {
	repo repository.CodeRepository
	ttl  time.Duration
	now  func() time.Time
}

func NewAuthorizationCodeStore(repo repository.CodeRepository, cfg config.Config) *AuthorizationCodeStore {
	ttl := cfg.AuthorizationCodeTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AuthorizationCodeStore{repo: repo, ttl: ttl, now: time.Now}
}

// Issue persists a new code and returns its value.
func (s *AuthorizationCodeStore) Issue(ctx context.Context, req CodeRequest) (string, error) {
	code := uuid.NewString()
	err := s.repo.CreateCode(ctx, domain.AuthorizationCode{
		Code:                code,
		ClientID:            req.ClientID,
		Username:            req.Username,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		ExpiresAt:           s.now().Add(s.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("issue authorization code: %w", err)
	}
	return code, nil
}

// Redeem consumes code. It returns nil, nil when the code is unknown, expired
// or already redeemed.
func (s *AuthorizationCodeStore) Redeem(ctx context.Context, code string) (*domain.AuthorizationCode, error) {
	if code == "" {
		return nil, nil
	}
	record, err := s.repo.ConsumeCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("redeem authorization code: %w", err)
	}
	if record.Expired(s.now()) {
		return nil, nil
	}
	return &record, nil
}
