package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Plawn/r2e-sub001/pkg/identity"
)

// Config holds the provider settings, read from the "oidc" config section.
type Config struct {
	Issuer   string        `config:"issuer"`
	Audience string        `config:"audience"`
	TokenTTL time.Duration `config:"token_ttl"`
	BasePath string        `config:"base_path"`
	// PrivateKey is an optional PEM key. A fresh key is generated when empty.
	PrivateKey string `config:"private_key"`
}

// DefaultConfig issues one hour tokens for a local issuer.
func DefaultConfig() Config {
	return Config{
		Issuer:   "http://localhost:8080",
		Audience: "r2e",
		TokenTTL: time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Issuer == "" {
		c.Issuer = d.Issuer
	}
	if c.Audience == "" {
		c.Audience = d.Audience
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = d.TokenTTL
	}
	return c
}

// registered claims that extra claims may not override.
var reserved = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {}, "nbf": {}, "jti": {},
	"email": {}, "roles": {},
}

// TokenService signs access tokens.
type TokenService struct {
	keys     *KeyPair
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenService creates a signer for keys.
func NewTokenService(keys *KeyPair, cfg Config) *TokenService {
	cfg = cfg.withDefaults()
	return &TokenService{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TokenTTL,
		now:      time.Now,
	}
}

// TTL is the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issuer is the iss claim of issued tokens.
func (s *TokenService) Issuer() string { return s.issuer }

// Keys returns the signing key pair.
func (s *TokenService) Keys() *KeyPair { return s.keys }

// Issue signs an RS256 token. Extra claims never replace registered ones.
func (s *TokenService) Issue(subject, email string, roles []string, extra map[string]interface{}) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	now := s.now()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		if _, ok := reserved[k]; !ok {
			claims[k] = v
		}
	}
	claims["iss"] = s.issuer
	claims["sub"] = subject
	claims["aud"] = s.audience
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(s.ttl).Unix()
	claims["jti"] = uuid.NewString()
	if roles == nil {
		roles = []string{}
	}
	claims["roles"] = roles
	if email != "" {
		claims["email"] = email
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keys.Kid
	signed, err := token.SignedString(s.keys.Private)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validator checks tokens issued by this service.
func (s *TokenService) Validator() *identity.JWTValidator {
	kid := s.keys.Kid
	pub := s.keys.Public()
	return identity.NewJWTValidatorWithKeyFunc(func(_ context.Context, token *jwt.Token) (interface{}, error) {
		if got, ok := token.Header["kid"].(string); ok && got != kid {
			return nil, fmt.Errorf("unknown key id %q", got)
		}
		return pub, nil
	}, []string{jwt.SigningMethodRS256.Alg()}, s.issuer, []string{s.audience}, 0)
}
