package jwt

import (
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
)

var (
	// ErrMalformedToken is returned when the token cannot be parsed as a JWS.
	ErrMalformedToken = errors.New("jwt: malformed token")
	// ErrInvalidSignature is returned when the signature does not verify.
	ErrInvalidSignature = errors.New("jwt: invalid signature")
	// ErrTokenExpired is returned when exp is not in the future.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrInvalidClaims covers the remaining registered claim failures.
	ErrInvalidClaims = errors.New("jwt: invalid claims")
	// ErrNotAccessToken is returned when a validly signed token is not an access token.
	ErrNotAccessToken = errors.New("jwt: not an access token")
)

// Values of the token_use claim.
const (
	TokenUseAccess = "access"
	TokenUseID     = "id"
)

const grantClientCredentials = "client_credentials"

// Generator is responsible for signing and validating JWTs.
type Generator struct {
	keys      *KeyManager
	accessTTL time.Duration
	now       func() time.Time
}

// NewGenerator constructs a JWT generator.
func NewGenerator(manager *KeyManager, accessTTL time.Duration) *Generator {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &Generator{keys: manager, accessTTL: accessTTL, now: time.Now}
}

// WithClock overrides the time source.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// AccessTTL is the default lifetime applied to issued tokens.
func (g *Generator) AccessTTL() time.Duration {
	return g.accessTTL
}

// Claims is the validated view of a token. GrantType is only set, to
// client_credentials, on tokens that act for the client itself.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	Scope     string
	Nonce     string
	TokenUse  string
	GrantType string
	IssuedAt  time.Time
	Expiry    time.Time
}

// ClientID is the first audience entry.
func (c *Claims) ClientID() string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}

// ClientOnly reports whether the token was issued to a client acting for itself.
func (c *Claims) ClientOnly() bool {
	return c.GrantType == grantClientCredentials
}

type privateClaims struct {
	Scope     string `json:"scope"`
	Nonce     string `json:"nonce,omitempty"`
	TokenUse  string `json:"token_use"`
	GrantType string `json:"gty,omitempty"`
}

// IssueAccessToken signs an access token for subject scoped to audience.
func (g *Generator) IssueAccessToken(subject, scope, audience, issuer string, ttl time.Duration) (string, error) {
	return g.sign(subject, audience, issuer, ttl, privateClaims{Scope: scope, TokenUse: TokenUseAccess})
}

// IssueClientToken signs an access token whose subject is the client itself.
func (g *Generator) IssueClientToken(clientID, scope, issuer string, ttl time.Duration) (string, error) {
	return g.sign(clientID, clientID, issuer, ttl, privateClaims{Scope: scope, TokenUse: TokenUseAccess, GrantType: grantClientCredentials})
}

// IssueIDToken signs an OIDC ID token. nonce is echoed when non-empty.
func (g *Generator) IssueIDToken(subject, audience, issuer, nonce string, ttl time.Duration) (string, error) {
	return g.sign(subject, audience, issuer, ttl, privateClaims{Scope: "openid", Nonce: nonce, TokenUse: TokenUseID})
}

func (g *Generator) sign(subject, audience, issuer string, ttl time.Duration, custom privateClaims) (string, error) {
	if ttl <= 0 {
		ttl = g.accessTTL
	}
	key := g.keys.Active()

	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: key.Algorithm, Key: key.PrivateKey}, (&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KeyID))
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := g.now().UTC()
	std := gojwt.Claims{
		Subject:  subject,
		Audience: gojwt.Audience{audience},
		Issuer:   issuer,
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(ttl)),
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

// Validate verifies the signature with the public key and checks expiry.
func (g *Generator) Validate(token string) (*Claims, error) {
	key := g.keys.Active()

	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{key.Algorithm})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var std gojwt.Claims
	var custom privateClaims
	if err := parsed.Claims(key.PublicKey(), &std, &custom); err != nil {
		if errors.Is(err, gojose.ErrCryptoFailure) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if std.Expiry == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidClaims)
	}
	if err := std.ValidateWithLeeway(gojwt.Expected{Time: g.now()}, 0); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
	// ValidateWithLeeway accepts now == exp; exp must be strictly in the future.
	if !g.now().Before(std.Expiry.Time()) {
		return nil, ErrTokenExpired
	}

	claims := &Claims{
		Subject:   std.Subject,
		Issuer:    std.Issuer,
		Audience:  []string(std.Audience),
		Scope:     custom.Scope,
		Nonce:     custom.Nonce,
		TokenUse:  custom.TokenUse,
		GrantType: custom.GrantType,
		Expiry:    std.Expiry.Time(),
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	return claims, nil
}

// ValidateAccessToken is Validate restricted to access tokens. ID tokens and
// tokens without a token_use claim are rejected.
func (g *Generator) ValidateAccessToken(token string) (*Claims, error) {
	claims, err := g.Validate(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != TokenUseAccess {
		return nil, ErrNotAccessToken
	}
	return claims, nil
}
