package kdf

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MaxOutputLength is the RFC 5869 limit for HKDF-SHA256: 255 blocks of 32 bytes.
const MaxOutputLength = 255 * sha256.Size

var ErrOutputTooLong = errors.New("kdf: requested output exceeds 255 HKDF-SHA256 blocks")

// HKDF fills buffer with HKDF-SHA256 output for (secret, salt, info).
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// DeriveKey runs HKDF-SHA256 extract-then-expand and returns length bytes.
func DeriveKey(ikm, salt, info []byte, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("kdf: invalid output length %d", length)
	}
	if length > MaxOutputLength {
		return nil, ErrOutputTooLong
	}

	out := make([]byte, length)
	if _, err := HKDF(ikm, salt, info, out); err != nil {
		return nil, fmt.Errorf("kdf: expand: %w", err)
	}
	return out, nil
}
