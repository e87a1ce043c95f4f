package service

import (
	gojose "github.com/go-jose/go-jose/v4"

	"github.com/smallbiznis/sso-auth/internal/config"
	"github.com/smallbiznis/sso-auth/internal/domain/oauth"
	"github.com/smallbiznis/sso-auth/internal/jwt"
)

// DiscoveryService builds responses for discovery endpoints.
type DiscoveryService struct {
	issuer string
	keys   *jwt.KeyManager
}

func NewDiscoveryService(cfg config.Config, keys *jwt.KeyManager) *DiscoveryService {
	return &DiscoveryService{issuer: cfg.Issuer, keys: keys}
}

// OpenIDConfiguration matches OIDC discovery document.
type OpenIDConfiguration struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	IntrospectionEndpoint            string   `json:"introspection_endpoint"`
	RevocationEndpoint               string   `json:"revocation_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// OpenIDConfiguration builds the OIDC document for the configured issuer.
func (s *DiscoveryService) OpenIDConfiguration() OpenIDConfiguration {
	base := s.issuer
	return OpenIDConfiguration{
		Issuer:                           base,
		AuthorizationEndpoint:            base + "/authorize",
		TokenEndpoint:                    base + "/token",
		UserinfoEndpoint:                 base + "/userinfo",
		IntrospectionEndpoint:            base + "/introspect",
		RevocationEndpoint:               base + "/revoke",
		JWKSURI:                          base + "/.well-known/jwks.json",
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported:                  []string{"openid", "profile", "email"},
		TokenEndpointAuthMethods:         []string{"client_secret_basic", "client_secret_post"},
		GrantTypesSupported:              oauth.SupportedGrantTypes(),
		CodeChallengeMethodsSupported:    []string{"S256", "plain"},
		ClaimsSupported:                  []string{"sub", "iss", "aud", "exp", "iat", "nonce", "preferred_username", "email"},
	}
}

// JWKS returns the public signing keys.
func (s *DiscoveryService) JWKS() gojose.JSONWebKeySet {
	return s.keys.JWKS()
}
