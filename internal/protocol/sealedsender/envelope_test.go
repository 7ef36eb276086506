package sealedsender

import (
	"bytes"
	"testing"
	"time"

	"sealed_chat/internal/cryptographic/signature"
	"sealed_chat/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_Layout(t *testing.T) {
	m := &UnidentifiedSenderMessage{
		Version:            Version,
		EphemeralPublicKey: bytes.Repeat([]byte{0xaa}, 32),
		EncryptedContent:   bytes.Repeat([]byte{0xcc}, 20),
		AuthenticationTag:  bytes.Repeat([]byte{0xbb}, 16),
	}
	data, err := m.Serialize()
	require.NoError(t, err)

	require.Len(t, data, 1+2+32+1+16+20)
	assert.Equal(t, []byte{0x01, 0x00, 0x20}, data[:3])
	assert.EqualValues(t, 16, data[35])

	parsed, err := DeserializeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestDeserializeMessage_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":           nil,
		"version only":    {0x01},
		"short header":    {0x01, 0x00, 0x20},
		"key overruns":    {0x01, 0x00, 0x20, 0x00, 0x01},
		"tag overruns":    append(append([]byte{0x01, 0x00, 0x01}, 0xaa), 0x10, 0x01),
		"key len too big": {0x01, 0xff, 0xff, 0x00},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DeserializeMessage(data)
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestIsSealed(t *testing.T) {
	assert.True(t, IsSealed([]byte{0x01, 0x02}))
	assert.False(t, IsSealed([]byte{0x02}))
	assert.False(t, IsSealed(nil))
}

func testCertificate(t *testing.T) *model.SenderCertificate {
	t.Helper()
	signer, err := signature.NewEd25519Signer()
	require.NoError(t, err)

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cert := &model.SenderCertificate{
		CertificateID:     uuid.New(),
		SenderID:          "alice",
		DeviceID:          1,
		SenderIdentityKey: bytes.Repeat([]byte{0x42}, 32),
		IssuedAt:          now,
		ExpiresAt:         now.Add(24 * time.Hour),
	}
	data, err := cert.Serialize()
	require.NoError(t, err)
	cert.ServerSignature, err = signer.Sign(data)
	require.NoError(t, err)
	return cert
}

func TestContent_RoundTrip(t *testing.T) {
	cert := testCertificate(t)
	c := &UnidentifiedSenderMessageContent{
		SenderCertificate: cert,
		EncryptedPayload:  []byte("opaque session bytes"),
		MessageType:       model.MessageTypePreKey,
	}
	data, err := c.Serialize()
	require.NoError(t, err)
	assert.EqualValues(t, model.MessageTypePreKey, data[0])

	parsed, err := DeserializeContent(data)
	require.NoError(t, err)
	assert.Equal(t, c.MessageType, parsed.MessageType)
	assert.Equal(t, c.EncryptedPayload, parsed.EncryptedPayload)
	assert.Equal(t, cert.CertificateID, parsed.SenderCertificate.CertificateID)
	assert.Equal(t, cert.SenderID, parsed.SenderCertificate.SenderID)
	assert.Equal(t, cert.ServerSignature, parsed.SenderCertificate.ServerSignature)
	assert.True(t, cert.ExpiresAt.Equal(parsed.SenderCertificate.ExpiresAt))
}

func TestContent_EmptyPayload(t *testing.T) {
	c := &UnidentifiedSenderMessageContent{
		SenderCertificate: testCertificate(t),
		MessageType:       model.MessageTypeNormal,
	}
	data, err := c.Serialize()
	require.NoError(t, err)

	parsed, err := DeserializeContent(data)
	require.NoError(t, err)
	assert.Empty(t, parsed.EncryptedPayload)
}

func TestDeserializeContent_Malformed(t *testing.T) {
	c := &UnidentifiedSenderMessageContent{
		SenderCertificate: testCertificate(t),
		EncryptedPayload:  []byte("x"),
		MessageType:       model.MessageTypeNormal,
	}
	data, err := c.Serialize()
	require.NoError(t, err)

	badType := append([]byte(nil), data...)
	badType[0] = 0x09
	_, err = DeserializeContent(badType)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	// certificate length claims more than the buffer
	_, err = DeserializeContent(data[:10])
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = DeserializeContent(nil)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	badCert := append([]byte(nil), data...)
	badCert[3] = 0x07 // certificate format version
	_, err = DeserializeContent(badCert)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}
