// Package oidc is an embedded OpenID provider: it signs RS256 access
// tokens for local users and clients and serves the discovery, JWKS,
// token and userinfo endpoints.
package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Plawn/r2e-sub001/pkg/identity"
)

const keyBits = 2048

// KeyPair is the signing key and its key id.
type KeyPair struct {
	Kid     string
	Private *rsa.PrivateKey
}

// GenerateKeyPair creates a fresh RSA 2048 key with a random kid.
func GenerateKeyPair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &KeyPair{Kid: uuid.NewString(), Private: key}, nil
}

// KeyPairFromPEM loads a PEM encoded RSA private key.
func KeyPairFromPEM(pem []byte, kid string) (*KeyPair, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if kid == "" {
		kid = uuid.NewString()
	}
	return &KeyPair{Kid: kid, Private: key}, nil
}

// Public returns the verification key.
func (k *KeyPair) Public() *rsa.PublicKey { return &k.Private.PublicKey }

// JWK returns the public half as a JSON Web Key.
func (k *KeyPair) JWK() identity.JWK { return identity.NewRSAJWK(k.Kid, k.Public()) }

// JWKS returns the key set document containing this key.
func (k *KeyPair) JWKS() identity.JWKSet {
	return identity.JWKSet{Keys: []identity.JWK{k.JWK()}}
}
