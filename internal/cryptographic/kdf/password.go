package kdf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	PasswordIterations = 310_000
	PasswordSaltSize   = 32
	PasswordKeySize    = 32

	passwordScheme = "pbkdf2-sha256"
)

var ErrInvalidPasswordHash = errors.New("kdf: malformed password hash")

type (
	PasswordHash struct {
		Iterations int
		Salt       []byte
		Key        []byte
	}
)

// HashPassword derives a PBKDF2-HMAC-SHA256 key from password with a fresh salt.
func HashPassword(password string) (*PasswordHash, error) {
	salt := make([]byte, PasswordSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("kdf: salt: %w", err)
	}

	return &PasswordHash{
		Iterations: PasswordIterations,
		Salt:       salt,
		Key:        pbkdf2.Key([]byte(password), salt, PasswordIterations, PasswordKeySize, sha256.New),
	}, nil
}

// String encodes the hash as pbkdf2-sha256$<iterations>$<salt>$<key>.
func (h *PasswordHash) String() string {
	return strings.Join([]string{
		passwordScheme,
		strconv.Itoa(h.Iterations),
		base64.RawStdEncoding.EncodeToString(h.Salt),
		base64.RawStdEncoding.EncodeToString(h.Key),
	}, "$")
}

func ParsePasswordHash(encoded string) (*PasswordHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != passwordScheme {
		return nil, ErrInvalidPasswordHash
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < PasswordIterations {
		return nil, ErrInvalidPasswordHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) != PasswordSaltSize {
		return nil, ErrInvalidPasswordHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(key) == 0 {
		return nil, ErrInvalidPasswordHash
	}

	return &PasswordHash{Iterations: iterations, Salt: salt, Key: key}, nil
}

// VerifyPassword recomputes the key for password and compares it in constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	h, err := ParsePasswordHash(encoded)
	if err != nil {
		return false, err
	}
	key := pbkdf2.Key([]byte(password), h.Salt, h.Iterations, len(h.Key), sha256.New)
	return ConstantTimeEqual(key, h.Key), nil
}

// ConstantTimeEqual reports whether a and b are equal without leaking where they differ.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
