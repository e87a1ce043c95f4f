package oauth

import "strings"

// GrantType enumerates the token endpoint grants this server understands.
type GrantType int

const (
	GrantUnsupported GrantType = iota
	GrantAuthorizationCode
	GrantRefreshToken
	GrantClientCredentials
)

// ParseGrantType maps the grant_type form value to a GrantType.
func ParseGrantType(raw string) GrantType {
	switch strings.TrimSpace(raw) {
	case "authorization_code":
		return GrantAuthorizationCode
	case "refresh_token":
		return GrantRefreshToken
	case "client_credentials":
		return GrantClientCredentials
	default:
		return GrantUnsupported
	}
}

func (g GrantType) String() string {
	switch g {
	case GrantAuthorizationCode:
		return "authorization_code"
	case GrantRefreshToken:
		return "refresh_token"
	case GrantClientCredentials:
		return "client_credentials"
	default:
		return "unsupported"
	}
}

// SupportedGrantTypes lists the grant_type values advertised in discovery.
func SupportedGrantTypes() []string {
	return []string{
		GrantAuthorizationCode.String(),
		GrantRefreshToken.String(),
		GrantClientCredentials.String(),
	}
}
