package oauth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseGrantType(t *testing.T) {
	cases := map[string]GrantType{
		"authorization_code": GrantAuthorizationCode,
		"refresh_token":      GrantRefreshToken,
		"client_credentials": GrantClientCredentials,
		"password":           GrantUnsupported,
		"":                   GrantUnsupported,
	}
	for raw, want := range cases {
		require.Equal(t, want, ParseGrantType(raw), raw)
	}
	require.Equal(t, []string{"authorization_code", "refresh_token", "client_credentials"}, SupportedGrantTypes())
}
