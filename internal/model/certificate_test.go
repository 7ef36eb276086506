package model

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"sealed_chat/internal/cryptographic/signature"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCertificate(t *testing.T, s signature.Signer) *SenderCertificate {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	c := &SenderCertificate{
		CertificateID:     uuid.New(),
		SenderID:          "alice",
		DeviceID:          DefaultDeviceID,
		SenderIdentityKey: bytes.Repeat([]byte{7}, 32),
		IssuedAt:          now,
		ExpiresAt:         now.Add(24 * time.Hour),
	}
	data, err := c.Serialize()
	require.NoError(t, err)
	c.ServerSignature, err = s.Sign(data)
	require.NoError(t, err)
	return c
}

func TestSerialize_Deterministic(t *testing.T) {
	s, err := signature.NewEd25519Signer()
	require.NoError(t, err)
	c := newCertificate(t, s)

	a, err := c.Serialize()
	require.NoError(t, err)
	b, err := c.Serialize()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	parsed, err := ParseCanonical(a)
	require.NoError(t, err)
	again, err := parsed.Serialize()
	require.NoError(t, err)
	assert.Equal(t, a, again)

	assert.Equal(t, c.CertificateID, parsed.CertificateID)
	assert.Equal(t, c.SenderID, parsed.SenderID)
	assert.Equal(t, c.DeviceID, parsed.DeviceID)
	assert.Equal(t, c.SenderIdentityKey, parsed.SenderIdentityKey)
	assert.True(t, c.ExpiresAt.Equal(parsed.ExpiresAt))
	assert.True(t, c.IssuedAt.Equal(parsed.IssuedAt))
}

func TestSerialize_RejectsBadFields(t *testing.T) {
	c := &SenderCertificate{SenderID: "", SenderIdentityKey: []byte{1}}
	_, err := c.Serialize()
	assert.ErrorIs(t, err, ErrMalformedCertificate)

	c = &SenderCertificate{SenderID: strings.Repeat("x", 256), SenderIdentityKey: []byte{1}}
	_, err = c.Serialize()
	assert.ErrorIs(t, err, ErrMalformedCertificate)

	c = &SenderCertificate{SenderID: "bob"}
	_, err = c.Serialize()
	assert.ErrorIs(t, err, ErrMalformedCertificate)
}

func TestParseCanonical_Truncated(t *testing.T) {
	s, err := signature.NewEd25519Signer()
	require.NoError(t, err)
	data, err := newCertificate(t, s).Serialize()
	require.NoError(t, err)

	for i := 0; i < len(data); i++ {
		_, err := ParseCanonical(data[:i])
		assert.ErrorIs(t, err, ErrMalformedCertificate, "prefix %d", i)
	}
	_, err = ParseCanonical(append(data, 0))
	assert.ErrorIs(t, err, ErrMalformedCertificate)
}

func TestVerifySignature(t *testing.T) {
	for _, alg := range []string{signature.AlgorithmRSA2048, signature.AlgorithmEd25519} {
		t.Run(alg, func(t *testing.T) {
			s, err := signature.NewSigner(alg)
			require.NoError(t, err)
			other, err := signature.NewSigner(alg)
			require.NoError(t, err)

			c := newCertificate(t, s)
			assert.True(t, c.VerifySignature(s.Public()))
			assert.False(t, c.VerifySignature(other.Public()))

			tampered := *c
			tampered.DeviceID = 2
			assert.False(t, tampered.VerifySignature(s.Public()))

			tampered = *c
			tampered.CertificateID = uuid.New()
			assert.False(t, tampered.VerifySignature(s.Public()))

			tampered = *c
			tampered.ExpiresAt = c.ExpiresAt.Add(time.Hour)
			assert.False(t, tampered.VerifySignature(s.Public()))

			tampered = *c
			tampered.SenderID = ""
			assert.False(t, tampered.VerifySignature(s.Public()))

			assert.False(t, c.VerifySignature(nil))
		})
	}
}

func TestExpiry(t *testing.T) {
	now := time.Now().UTC()
	c := &SenderCertificate{ExpiresAt: now.Add(5 * time.Hour)}
	assert.False(t, c.IsExpired())
	assert.True(t, c.NeedsRenewal(now, 6*time.Hour))
	assert.False(t, c.NeedsRenewal(now, 4*time.Hour))
	assert.True(t, c.IsExpiredAt(now.Add(6*time.Hour)))

	c.ExpiresAt = now.Add(-time.Second)
	assert.True(t, c.IsExpired())
}

func TestDTO_RoundTrip(t *testing.T) {
	s, err := signature.NewRSASigner()
	require.NoError(t, err)
	c := newCertificate(t, s)

	back, err := CertificateFromDTO(c.ToDTO())
	require.NoError(t, err)
	assert.Equal(t, c.CertificateID, back.CertificateID)
	assert.Equal(t, c.ServerSignature, back.ServerSignature)
	assert.True(t, back.VerifySignature(s.Public()))

	dto := c.ToDTO()
	dto.CertificateID = "nope"
	_, err = CertificateFromDTO(dto)
	assert.ErrorIs(t, err, ErrMalformedCertificate)
}
