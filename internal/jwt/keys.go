package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/config"
)

const rsaKeyBits = 2048

// SigningKeySet is the process-wide RSA key used to sign every token.
type SigningKeySet struct {
	PrivateKey *rsa.PrivateKey
	KeyID      string
	Algorithm  jose.SignatureAlgorithm
	// Ephemeral is set when the key was generated at startup.
	Ephemeral bool
}

// LoadSigningKey parses a PKCS#1 or PKCS#8 PEM encoded RSA private key.
func LoadSigningKey(pemData string) (*SigningKeySet, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemData)))
	if block == nil {
		return nil, errors.New("decode signing key: no PEM block found")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#1 private key: %w", err)
		}
		key = parsed
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("parse PKCS#8 private key: not an RSA key")
		}
		key = rsaKey
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}

	return newSigningKeySet(key, false)
}

// GenerateSigningKey creates a fresh 2048-bit RSA key.
func GenerateSigningKey() (*SigningKeySet, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return newSigningKeySet(key, true)
}

func newSigningKeySet(key *rsa.PrivateKey, ephemeral bool) (*SigningKeySet, error) {
	kid, err := KeyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &SigningKeySet{
		PrivateKey: key,
		KeyID:      kid,
		Algorithm:  jose.RS256,
		Ephemeral:  ephemeral,
	}, nil
}

// KeyID derives the kid as base64url(SHA-256(PKCS#1 public key PEM)).
func KeyID(pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", errors.New("key id: nil public key")
	}
	encoded := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(pub),
	})
	sum := sha256.Sum256(encoded)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// PublicKey returns the verification half of the key.
func (s *SigningKeySet) PublicKey() *rsa.PublicKey {
	return &s.PrivateKey.PublicKey
}

// Modulus is the base64url encoded RSA modulus.
func (s *SigningKeySet) Modulus() string {
	return base64.RawURLEncoding.EncodeToString(s.PrivateKey.N.Bytes())
}

// Exponent is the base64url encoded RSA public exponent.
func (s *SigningKeySet) Exponent() string {
	return base64.RawURLEncoding.EncodeToString(big.NewInt(int64(s.PrivateKey.E)).Bytes())
}

// JSONWebKey returns the public JWK advertised for this key.
func (s *SigningKeySet) JSONWebKey() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       s.PublicKey(),
		KeyID:     s.KeyID,
		Algorithm: string(s.Algorithm),
		Use:       "sig",
	}
}

// KeyManager holds the active signing key for the process.
type KeyManager struct {
	active *SigningKeySet
}

// NewKeyManager loads the configured PEM key, or generates an ephemeral key
// when none is configured.
func NewKeyManager(cfg config.Config, logger *zap.Logger) (*KeyManager, error) {
	if logger == nil {
		logger = zap.L()
	}

	if strings.TrimSpace(cfg.JWTPrivateKeyPEM) != "" {
		set, err := LoadSigningKey(cfg.JWTPrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("load JWT_PRIVATE_KEY_PEM: %w", err)
		}
		logger.Info("loaded signing key", zap.String("kid", set.KeyID))
		return &KeyManager{active: set}, nil
	}

	set, err := GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	logger.Warn("JWT_PRIVATE_KEY_PEM not set; generated an ephemeral signing key (development only, tokens will not survive a restart)",
		zap.String("kid", set.KeyID),
	)
	return &KeyManager{active: set}, nil
}

// NewStaticKeyManager wraps an already loaded key.
func NewStaticKeyManager(set *SigningKeySet) *KeyManager {
	return &KeyManager{active: set}
}

// Active returns the signing key.
func (m *KeyManager) Active() *SigningKeySet {
	return m.active
}

// JWKS returns the public JSON Web Key Set.
func (m *KeyManager) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{m.active.JSONWebKey()}}
}
