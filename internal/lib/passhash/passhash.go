package passhash

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrUnknownScheme       = errors.New("unknown hash scheme")
)

const argon2idPrefix = "$argon2id$"

// Params are the argon2id cost parameters embedded in every produced hash.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams are tuned for interactive logins.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// Hasher hashes and verifies passwords. Argon2id is memory-hard, so the number of
// hashes computed at once is bounded; callers wait for a slot or for ctx.
type Hasher struct {
	params Params
	sem    *semaphore.Weighted
}

func New(params Params, maxConcurrent int) *Hasher {
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}

	return &Hasher{
		params: params,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Hash returns a PHC formatted argon2id hash of password.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	const op = "passhash.Hash"

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer h.sem.Release(1)

	encoded, err := h.hash(password)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return encoded, nil
}

// Verify reports whether password matches encoded. When it matches but encoded was
// produced by a legacy scheme or with parameters other than the current ones, rehash
// holds a fresh hash the caller should persist.
func (h *Hasher) Verify(ctx context.Context, password, encoded string) (matched bool, rehash string, err error) {
	const op = "passhash.Verify"

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, "", fmt.Errorf("%s: %w", op, err)
	}
	defer h.sem.Release(1)

	var outdated bool

	switch {
	case strings.HasPrefix(encoded, argon2idPrefix):
		matched, outdated, err = h.verifyArgon2id(password, encoded)
	case isBcrypt(encoded):
		matched, err = verifyBcrypt(password, encoded)
		outdated = true
	default:
		err = ErrUnknownScheme
	}
	if err != nil {
		return false, "", fmt.Errorf("%s: %w", op, err)
	}

	if !matched || !outdated {
		return matched, "", nil
	}

	rehash, err = h.hash(password)
	if err != nil {
		return false, "", fmt.Errorf("%s: %w", op, err)
	}

	return true, rehash, nil
}

func (h *Hasher) hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Hasher) verifyArgon2id(password, encoded string) (matched, outdated bool, err error) {
	p, salt, key, err := decodeArgon2id(encoded)
	if err != nil {
		return false, false, err
	}

	calc := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	if subtle.ConstantTimeCompare(calc, key) != 1 {
		return false, false, nil
	}

	return true, p != h.params, nil
}

func decodeArgon2id(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return Params{}, nil, nil, ErrIncompatibleVersion
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	// argon2.IDKey panics on zero cost parameters.
	if p.Memory == 0 || p.Iterations < 1 || p.Parallelism < 1 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))

	return p, salt, key, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func verifyBcrypt(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}

	return false, err
}
