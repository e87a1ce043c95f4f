package jwt_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/config"
	customjwt "github.com/smallbiznis/sso-auth/internal/jwt"
)

func newGenerator(t *testing.T, now *time.Time) *customjwt.Generator {
	t.Helper()
	set, err := customjwt.GenerateSigningKey()
	require.NoError(t, err)
	return customjwt.NewGenerator(customjwt.NewStaticKeyManager(set), 15*time.Minute).
		WithClock(func() time.Time { return *now })
}

func TestGeneratorRoundTrip(t *testing.T) {
	now := time.Now()
	generator := newGenerator(t, &now)

	token, err := generator.IssueAccessToken("alice", "openid profile", "web", "https://sso.test", 0)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := generator.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
	require.Equal(t, "web", claims.ClientID())
	require.Equal(t, "openid profile", claims.Scope)
	require.Equal(t, "https://sso.test", claims.Issuer)
	require.WithinDuration(t, now.Add(15*time.Minute), claims.Expiry, time.Second)
}

func TestGeneratorExpiredToken(t *testing.T) {
	now := time.Now()
	generator := newGenerator(t, &now)

	token, err := generator.IssueAccessToken("alice", "openid", "web", "https://sso.test", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = generator.Validate(token)
	require.ErrorIs(t, err, customjwt.ErrTokenExpired)
}

func TestGeneratorTamperedSignature(t *testing.T) {
	now := time.Now()
	generator := newGenerator(t, &now)

	token, err := generator.IssueAccessToken("alice", "openid", "web", "https://sso.test", 0)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[10] == 'A' {
		sig[10] = 'B'
	} else {
		sig[10] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = generator.Validate(tampered)
	require.ErrorIs(t, err, customjwt.ErrInvalidSignature)
}

func TestGeneratorRejectsForeignKey(t *testing.T) {
	now := time.Now()
	issuer := newGenerator(t, &now)
	verifier := newGenerator(t, &now)

	token, err := issuer.IssueAccessToken("alice", "openid", "web", "https://sso.test", 0)
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	require.ErrorIs(t, err, customjwt.ErrInvalidSignature)
}

func TestGeneratorMalformedToken(t *testing.T) {
	now := time.Now()
	generator := newGenerator(t, &now)

	_, err := generator.Validate("not-a-jwt")
	require.ErrorIs(t, err, customjwt.ErrMalformedToken)
}

func TestIDTokenCarriesNonce(t *testing.T) {
	now := time.Now()
	generator := newGenerator(t, &now)

	token, err := generator.IssueIDToken("alice", "web", "https://sso.test", "n-0S6_WzA2Mj", 0)
	require.NoError(t, err)

	claims, err := generator.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "openid", claims.Scope)
	require.Equal(t, "n-0S6_WzA2Mj", claims.Nonce)

	withoutNonce, err := generator.IssueIDToken("alice", "web", "https://sso.test", "", 0)
	require.NoError(t, err)
	claims, err = generator.Validate(withoutNonce)
	require.NoError(t, err)
	require.Empty(t, claims.Nonce)
}

func TestValidateAccessTokenRejectsIDToken(t *testing.T) {
	now := time.Now()
	generator := newGenerator(t, &now)

	access, err := generator.IssueAccessToken("alice", "openid", "web", "https://sso.test", 0)
	require.NoError(t, err)
	claims, err := generator.ValidateAccessToken(access)
	require.NoError(t, err)
	require.Equal(t, customjwt.TokenUseAccess, claims.TokenUse)
	require.False(t, claims.ClientOnly())

	idToken, err := generator.IssueIDToken("alice", "web", "https://sso.test", "n-1", 0)
	require.NoError(t, err)
	claims, err = generator.Validate(idToken)
	require.NoError(t, err)
	require.Equal(t, customjwt.TokenUseID, claims.TokenUse)

	_, err = generator.ValidateAccessToken(idToken)
	require.ErrorIs(t, err, customjwt.ErrNotAccessToken)
}

func TestClientTokenIsMarkedClientOnly(t *testing.T) {
	now := time.Now()
	generator := newGenerator(t, &now)

	token, err := generator.IssueClientToken("web", "openid", "https://sso.test", 0)
	require.NoError(t, err)

	claims, err := generator.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "web", claims.Subject)
	require.Equal(t, "web", claims.ClientID())
	require.True(t, claims.ClientOnly())
}

func TestLoadSigningKeyFormats(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	fromPKCS1, err := customjwt.LoadSigningKey(string(pkcs1))
	require.NoError(t, err)
	fromPKCS8, err := customjwt.LoadSigningKey(string(pkcs8))
	require.NoError(t, err)

	require.Equal(t, fromPKCS1.KeyID, fromPKCS8.KeyID)
	require.False(t, fromPKCS1.Ephemeral)

	_, err = customjwt.LoadSigningKey("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")
	require.Error(t, err)
	_, err = customjwt.LoadSigningKey("garbage")
	require.Error(t, err)
}

func TestNewKeyManagerGeneratesEphemeralKey(t *testing.T) {
	manager, err := customjwt.NewKeyManager(config.Config{}, zap.NewNop())
	require.NoError(t, err)
	require.True(t, manager.Active().Ephemeral)
	require.NotEmpty(t, manager.Active().KeyID)
}

func TestJWKSExposesPublicKeyOnly(t *testing.T) {
	set, err := customjwt.GenerateSigningKey()
	require.NoError(t, err)
	manager := customjwt.NewStaticKeyManager(set)

	raw, err := json.Marshal(manager.JWKS())
	require.NoError(t, err)

	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Keys, 1)

	jwk := doc.Keys[0]
	require.Equal(t, "RSA", jwk["kty"])
	require.Equal(t, "sig", jwk["use"])
	require.Equal(t, "RS256", jwk["alg"])
	require.Equal(t, set.KeyID, jwk["kid"])
	require.Equal(t, set.Modulus(), jwk["n"])
	require.Equal(t, set.Exponent(), jwk["e"])
	require.NotContains(t, jwk, "d")
}
