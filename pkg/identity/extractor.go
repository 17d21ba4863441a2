package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMissingToken     = errors.New("missing authentication token")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

// ClaimsValidator validates a bearer token and returns the identity it
// carries.
type ClaimsValidator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// ValidatorFunc adapts a function to ClaimsValidator.
type ValidatorFunc func(ctx context.Context, token string) (Identity, error)

func (f ValidatorFunc) Validate(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// Extractor reads the Authorization header and validates its bearer token.
type Extractor struct {
	Validator ClaimsValidator
}

// NewExtractor creates an extractor over validator.
func NewExtractor(validator ClaimsValidator) *Extractor {
	return &Extractor{Validator: validator}
}

// BearerToken returns the token of an "Authorization: Bearer" header and
// whether the header was present at all.
func BearerToken(r *http.Request) (token string, present bool, err error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false, nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", true, apperrors.Unauthorized("INVALID_AUTH_HEADER", "Invalid Authorization header").Build()
	}
	return strings.TrimSpace(token), true, nil
}

// Required extracts an identity or fails with 401.
func (e *Extractor) Required(r *http.Request) (Identity, error) {
	token, present, err := BearerToken(r)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, apperrors.Unauthorized("MISSING_AUTH_HEADER", "Missing Authorization header").Build()
	}
	return e.validate(r.Context(), token)
}

// Optional returns a nil identity when no Authorization header is present.
// A header that is present but invalid is still a 401.
func (e *Extractor) Optional(r *http.Request) (Identity, error) {
	token, present, err := BearerToken(r)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	return e.validate(r.Context(), token)
}

func (e *Extractor) validate(ctx context.Context, token string) (Identity, error) {
	if e.Validator == nil {
		return nil, apperrors.Internal("NO_CLAIMS_VALIDATOR", "No claims validator configured").Build()
	}
	id, err := e.Validator.Validate(ctx, token)
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		message := "Invalid token"
		if errors.Is(err, ErrExpiredToken) {
			message = "Token has expired"
		}
		return nil, apperrors.Unauthorized("INVALID_TOKEN", message).WithCause(err).Build()
	}
	if IsNone(id) {
		return nil, apperrors.Unauthorized("INVALID_TOKEN", "Invalid token").Build()
	}
	return id, nil
}
