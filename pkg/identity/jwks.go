package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWK is a single RSA JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is a JSON Web Key Set document.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// NewRSAJWK encodes pub as a JWK.
func NewRSAJWK(kid string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// PublicKey decodes the RSA public key.
func (k JWK) PublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
}

// JWKSConfig configures a remote key set validator.
type JWKSConfig struct {
	URL      string   `config:"jwks_url"`
	Issuer   string   `config:"issuer"`
	Audience []string `config:"audience"`
	// RefreshInterval is how long fetched keys are trusted.
	RefreshInterval time.Duration `config:"jwks_refresh_interval"`
	// MinRefreshInterval bounds how often an unknown kid may trigger a
	// refetch, whether the previous attempt succeeded or failed.
	MinRefreshInterval time.Duration `config:"jwks_min_refresh_interval"`
	Leeway             time.Duration `config:"leeway"`
}

// JWKSValidator validates RS256 tokens against a remote JWKS endpoint.
type JWKSValidator struct {
	*JWTValidator

	cfg    JWKSConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

// NewJWKSValidator creates a validator. Keys are fetched lazily.
func NewJWKSValidator(cfg JWKSConfig, client *http.Client, logger *zap.Logger) *JWKSValidator {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &JWKSValidator{cfg: cfg, client: client, logger: logger, now: time.Now, keys: map[string]*rsa.PublicKey{}}
	v.JWTValidator = NewJWTValidatorWithKeyFunc(v.keyFor, []string{"RS256"}, cfg.Issuer, cfg.Audience, cfg.Leeway)
	return v
}

func (v *JWKSValidator) keyFor(ctx context.Context, token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)

	v.mu.RLock()
	key, ok := v.keys[kid]
	stale := v.now().Sub(v.fetchedAt) >= v.cfg.RefreshInterval
	v.mu.RUnlock()

	if ok && !stale {
		return key, nil
	}
	if err := v.refresh(ctx, !ok); err != nil && !ok {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	if kid == "" && len(v.keys) == 1 {
		for _, key := range v.keys {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown key id %q", ErrInvalidSignature, kid)
}

// errRefreshGated is returned when a refresh is skipped by the min interval.
var errRefreshGated = errors.New("jwks refresh skipped: min refresh interval not elapsed")

// refresh refetches the key set. A forced refresh (unknown kid) is allowed
// at most once per MinRefreshInterval since the last attempt.
func (v *JWKSValidator) refresh(ctx context.Context, forced bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if forced && !v.lastAttempt.IsZero() && now.Sub(v.lastAttempt) < v.cfg.MinRefreshInterval {
		return errRefreshGated
	}
	v.lastAttempt = now

	set, err := v.fetch(ctx)
	if err != nil {
		v.logger.Warn("JWKS refresh failed", zap.String("url", v.cfg.URL), zap.Error(err))
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		pub, err := jwk.PublicKey()
		if err != nil {
			v.logger.Warn("Skipping invalid JWK", zap.String("kid", jwk.Kid), zap.Error(err))
			continue
		}
		keys[jwk.Kid] = pub
	}
	v.keys = keys
	v.fetchedAt = now
	v.logger.Debug("JWKS refreshed", zap.Int("keys", len(keys)))
	return nil
}

func (v *JWKSValidator) fetch(ctx context.Context) (*JWKSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}
	var set JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("invalid jwks document: %w", err)
	}
	return &set, nil
}
