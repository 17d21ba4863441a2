package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds JWT validation settings.
type JWTConfig struct {
	SigningMethod string        `config:"signing_method"` // RS256 or HS256
	PublicKey     string        `config:"public_key"`     // PEM, for RS256
	SecretKey     string        `config:"secret_key"`     // for HS256
	Issuer        string        `config:"issuer"`
	Audience      []string      `config:"audience"`
	Leeway        time.Duration `config:"leeway"`
}

// KeyFunc resolves the verification key for a parsed token.
type KeyFunc func(ctx context.Context, token *jwt.Token) (interface{}, error)

// JWTValidator validates signed JWTs and maps their claims to a User.
type JWTValidator struct {
	keyFunc  KeyFunc
	methods  []string
	issuer   string
	audience []string
	leeway   time.Duration
	mapper   func(claims map[string]interface{}) Identity
}

// NewJWTValidator creates a validator from static key material.
func NewJWTValidator(cfg JWTConfig) (*JWTValidator, error) {
	var key interface{}
	switch cfg.SigningMethod {
	case "", "RS256":
		if cfg.PublicKey == "" {
			return nil, errors.New("public key required for RS256")
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		key = pub
		cfg.SigningMethod = "RS256"
	case "HS256":
		if cfg.SecretKey == "" {
			return nil, errors.New("secret key required for HS256")
		}
		key = []byte(cfg.SecretKey)
	default:
		return nil, fmt.Errorf("unsupported signing method: %s", cfg.SigningMethod)
	}

	return NewJWTValidatorWithKeyFunc(func(context.Context, *jwt.Token) (interface{}, error) {
		return key, nil
	}, []string{cfg.SigningMethod}, cfg.Issuer, cfg.Audience, cfg.Leeway), nil
}

// NewRSAValidator validates RS256 tokens against pub.
func NewRSAValidator(pub *rsa.PublicKey, issuer string, audience ...string) *JWTValidator {
	return NewJWTValidatorWithKeyFunc(func(context.Context, *jwt.Token) (interface{}, error) {
		return pub, nil
	}, []string{"RS256"}, issuer, audience, 0)
}

// NewJWTValidatorWithKeyFunc is the general constructor used by JWKS and
// OIDC validators.
func NewJWTValidatorWithKeyFunc(keyFunc KeyFunc, methods []string, issuer string, audience []string, leeway time.Duration) *JWTValidator {
	return &JWTValidator{
		keyFunc:  keyFunc,
		methods:  methods,
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
		mapper:   func(claims map[string]interface{}) Identity { return UserFromClaims(claims) },
	}
}

// WithMapper replaces the claims-to-identity mapping.
func (v *JWTValidator) WithMapper(mapper func(claims map[string]interface{}) Identity) *JWTValidator {
	v.mapper = mapper
	return v
}

// Validate implements ClaimsValidator.
func (v *JWTValidator) Validate(ctx context.Context, tokenString string) (Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.leeway))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.keyFunc(ctx, token)
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, fmt.Errorf("%w: invalid issuer", ErrInvalidClaims)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidClaims
	}

	if len(v.audience) > 0 {
		aud, _ := claims.GetAudience()
		if !intersects(aud, v.audience) {
			return nil, fmt.Errorf("%w: invalid audience", ErrInvalidClaims)
		}
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	}

	return v.mapper(claims), nil
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
