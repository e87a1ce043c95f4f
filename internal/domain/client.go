package domain

import (
	"strings"
	"time"
)

// OAuthClient represents a registered OAuth2/OIDC client.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	Name         string
	RedirectURIs []string
	Scopes       []string
	// GrantTypes restricts the grants the client may use. Empty allows all.
	GrantTypes []string
	CreatedAt  time.Time
}

// AllowsRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c OAuthClient) AllowsRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AllowsScope reports whether a single scope token is registered for the client.
func (c OAuthClient) AllowsScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// DisallowedScope returns the first requested scope token the client may not
// request, or "" when every token is allowed.
func (c OAuthClient) DisallowedScope(requested string) string {
	for _, s := range strings.Fields(requested) {
		if !c.AllowsScope(s) {
			return s
		}
	}
	return ""
}

// AllowsGrant reports whether the client may use the named grant type.
func (c OAuthClient) AllowsGrant(grant string) bool {
	if len(c.GrantTypes) == 0 {
		return true
	}
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// DefaultScope is the space separated list of the client's registered scopes.
func (c OAuthClient) DefaultScope() string {
	return strings.Join(c.Scopes, " ")
}

// SplitRedirectURIs parses the comma separated storage form.
func SplitRedirectURIs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// JoinRedirectURIs renders redirect URIs in their storage form.
func JoinRedirectURIs(uris []string) string {
	return strings.Join(uris, ",")
}
