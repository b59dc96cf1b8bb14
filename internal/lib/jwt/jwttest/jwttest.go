// Package jwttest builds token configuration backed by throwaway ES256 keys.
package jwttest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"

	"crop_price_api/internal/config"
)

const (
	Issuer   = "auth:test"
	Audience = "api:test"
)

// Config returns a token config with a freshly generated P-256 key pair.
func Config(t testing.TB) (config.Tokens, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	privDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return config.Tokens{
		Algorithm:       "ES256",
		Issuer:          Issuer,
		Audience:        Audience,
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		PrivateKey:      base64.StdEncoding.EncodeToString(privPEM),
		PublicKey:       base64.StdEncoding.EncodeToString(pubPEM),
	}, key
}
