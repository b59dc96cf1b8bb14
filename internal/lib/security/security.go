package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// apiKeyBytes is the entropy of a generated API key.
const apiKeyBytes = 32

// Signer produces HMAC-SHA256 signatures keyed by the process secret.
// It holds no mutable state and is safe for concurrent use.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the lowercase hex HMAC-SHA256 of data.
func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)

	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature of data and compares it with sig in constant time.
func (s *Signer) Verify(data []byte, sig string) bool {
	return hmac.Equal([]byte(s.Sign(data)), []byte(sig))
}

// GenerateAPIKey returns a URL-safe random key. The plaintext is only ever shown once.
func GenerateAPIKey() (string, error) {
	const op = "security.GenerateAPIKey"

	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey returns the SHA-256 hex digest used to look API keys up.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}

func EqualHashes(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
