package domain

import "time"

// AuthorizationCode is a single-use grant bound to a client, user and redirect URI.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	Username            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// Expired reports whether the code is past its expiry at now.
func (c AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RefreshTokenRecord is the durable ledger entry for a refresh token.
type RefreshTokenRecord struct {
	ID        int64
	Token     string
	ClientID  string
	Username  string
	Scope     string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Usable reports whether the record can still mint access tokens at now.
func (r RefreshTokenRecord) Usable(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// RefreshSession is the cached projection of a refresh token.
type RefreshSession struct {
	Username string `json:"username"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}
