package kdf

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// RFC 5869 appendix A.1.
func TestDeriveKey_RFC5869Case1(t *testing.T) {
	ikm := mustHex(t, "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
	salt := mustHex(t, "000102030405060708090a0b0c")
	info := mustHex(t, "f0f1f2f3f4f5f6f7f8f9")

	okm, err := DeriveKey(ikm, salt, info, 42)
	require.NoError(t, err)
	assert.Equal(t,
		"3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865",
		hex.EncodeToString(okm))
}

func TestDeriveKey_Limits(t *testing.T) {
	_, err := DeriveKey([]byte("ikm"), nil, nil, MaxOutputLength+1)
	assert.ErrorIs(t, err, ErrOutputTooLong)

	_, err = DeriveKey([]byte("ikm"), nil, nil, 0)
	assert.Error(t, err)

	out, err := DeriveKey([]byte("ikm"), nil, nil, MaxOutputLength)
	require.NoError(t, err)
	assert.Len(t, out, MaxOutputLength)
}

func TestDeriveKey_DomainSeparation(t *testing.T) {
	a, err := DeriveKey([]byte("secret"), []byte("salt"), []byte("a"), 32)
	require.NoError(t, err)
	b, err := DeriveKey([]byte("secret"), []byte("salt"), []byte("b"), 32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashPassword_Verify(t *testing.T) {
	h, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.Equal(t, PasswordIterations, h.Iterations)
	assert.Len(t, h.Salt, PasswordSaltSize)

	encoded := h.String()
	assert.True(t, strings.HasPrefix(encoded, "pbkdf2-sha256$310000$"))

	ok, err := VerifyPassword("correct horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("battery staple", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParsePasswordHash_Rejects(t *testing.T) {
	for _, encoded := range []string{
		"",
		"bcrypt$310000$aa$bb",
		"pbkdf2-sha256$1000$" + strings.Repeat("A", 43) + "$AAAA",
		"pbkdf2-sha256$310000$short$AAAA",
	} {
		_, err := ParsePasswordHash(encoded)
		assert.ErrorIs(t, err, ErrInvalidPasswordHash, encoded)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual([]byte("abc"), []byte("abc")))
	assert.False(t, ConstantTimeEqual([]byte("abc"), []byte("abd")))
	assert.False(t, ConstantTimeEqual([]byte("abc"), []byte("ab")))
}
