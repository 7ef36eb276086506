package sealedsender

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sealed_chat/internal/cryptographic/dh"
	"sealed_chat/internal/cryptographic/signature"
	"sealed_chat/internal/model"
	"sealed_chat/internal/service/certificate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// passthroughSessions treats the session payload as plaintext.
type passthroughSessions struct{}

func (passthroughSessions) DecryptSessionMessage(_ context.Context, _ string, body []byte, _ model.MessageType) ([]byte, error) {
	return append([]byte(nil), body...), nil
}

type MockSessionDecrypter struct {
	mock.Mock
}

func (m *MockSessionDecrypter) DecryptSessionMessage(ctx context.Context, senderID string, body []byte, messageType model.MessageType) ([]byte, error) {
	args := m.Called(ctx, senderID, body, messageType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type fixture struct {
	authority *certificate.Authority
	clock     *testClock
	cipher    *Cipher
	cert      *model.SenderCertificate
	bobPriv   []byte
	bobPub    []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := signature.NewEd25519Signer()
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	authority, err := certificate.NewAuthority(signer, certificate.NewMemoryRevocationStore(),
		certificate.WithClock(clock.Now))
	require.NoError(t, err)

	_, alicePub, err := dh.NewX25519KeyPair()
	require.NoError(t, err)
	cert, err := authority.GetOrCreateCertificate(context.Background(), "alice", 1, alicePub[:])
	require.NoError(t, err)

	bobPriv, bobPub, err := dh.NewX25519KeyPair()
	require.NoError(t, err)

	return &fixture{
		authority: authority,
		clock:     clock,
		cipher:    NewCipher(authority, passthroughSessions{}),
		cert:      cert,
		bobPriv:   bobPriv[:],
		bobPub:    bobPub[:],
	}
}

func (f *fixture) seal(t *testing.T, body []byte) []byte {
	t.Helper()
	data, err := f.cipher.Seal("bob", f.bobPub, f.cert, model.SessionMessage{Type: model.MessageTypeNormal, Body: body})
	require.NoError(t, err)
	return data
}

func TestCipher_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	data := f.seal(t, []byte("hello"))
	assert.EqualValues(t, Version, data[0])
	assert.True(t, IsSealed(data))

	out, err := f.cipher.Open(ctx, data, f.bobPriv, f.authority.ServerPublicKey())
	require.NoError(t, err)
	assert.Equal(t, "alice", out.SenderID)
	assert.EqualValues(t, 1, out.DeviceID)
	assert.Equal(t, f.cert.SenderIdentityKey, out.SenderIdentityKey)
	assert.Equal(t, f.cert.CertificateID, out.CertificateID)
	assert.Equal(t, model.MessageTypeNormal, out.MessageType)
	assert.Equal(t, []byte("hello"), out.Plaintext)
}

func TestCipher_SenderNotVisibleOnWire(t *testing.T) {
	f := newFixture(t)
	data := f.seal(t, []byte("hello"))

	assert.False(t, bytes.Contains(data, []byte("alice")))
	assert.False(t, bytes.Contains(data, f.cert.SenderIdentityKey))
	assert.False(t, bytes.Contains(data, []byte("hello")))
}

func TestCipher_FreshEphemeralPerMessage(t *testing.T) {
	f := newFixture(t)
	payload := model.SessionMessage{Type: model.MessageTypeNormal, Body: []byte("same")}

	first, err := f.cipher.Encrypt("bob", f.bobPub, f.cert, payload)
	require.NoError(t, err)
	second, err := f.cipher.Encrypt("bob", f.bobPub, f.cert, payload)
	require.NoError(t, err)

	assert.NotEqual(t, first.EphemeralPublicKey, second.EphemeralPublicKey)
	assert.NotEqual(t, first.EncryptedContent, second.EncryptedContent)
}

func TestCipher_TamperAnyBit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := f.seal(t, []byte("hello"))

	for i := range data {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), data...)
			tampered[i] ^= 1 << bit
			_, err := f.cipher.Open(ctx, tampered, f.bobPriv, f.authority.ServerPublicKey())
			require.Errorf(t, err, "byte %d bit %d", i, bit)
		}
	}
}

func TestCipher_TamperedCiphertextIsAuthenticationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.cipher.Encrypt("bob", f.bobPub, f.cert, model.SessionMessage{Type: model.MessageTypeNormal, Body: []byte("hello")})
	require.NoError(t, err)

	body := append([]byte(nil), msg.EncryptedContent...)
	body[len(body)-1] ^= 0x01
	_, err = f.cipher.Decrypt(ctx, &UnidentifiedSenderMessage{
		Version:            msg.Version,
		EphemeralPublicKey: msg.EphemeralPublicKey,
		EncryptedContent:   body,
		AuthenticationTag:  msg.AuthenticationTag,
	}, f.bobPriv, f.authority.ServerPublicKey())
	assert.ErrorIs(t, err, ErrAuthenticationFailure)

	tag := append([]byte(nil), msg.AuthenticationTag...)
	tag[0] ^= 0x80
	_, err = f.cipher.Decrypt(ctx, &UnidentifiedSenderMessage{
		Version:            msg.Version,
		EphemeralPublicKey: msg.EphemeralPublicKey,
		EncryptedContent:   msg.EncryptedContent,
		AuthenticationTag:  tag,
	}, f.bobPriv, f.authority.ServerPublicKey())
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
}

func TestCipher_WrongRecipient(t *testing.T) {
	f := newFixture(t)
	data := f.seal(t, []byte("hello"))

	evePriv, _, err := dh.NewX25519KeyPair()
	require.NoError(t, err)
	_, err = f.cipher.Open(context.Background(), data, evePriv[:], f.authority.ServerPublicKey())
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
}

func TestCipher_LowOrderEphemeral(t *testing.T) {
	f := newFixture(t)
	msg := &UnidentifiedSenderMessage{
		Version:            Version,
		EphemeralPublicKey: make([]byte, 32),
		EncryptedContent:   make([]byte, 40),
		AuthenticationTag:  make([]byte, 16),
	}
	_, err := f.cipher.Decrypt(context.Background(), msg, f.bobPriv, f.authority.ServerPublicKey())
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
}

func TestCipher_ExpiredCertificate(t *testing.T) {
	f := newFixture(t)
	data := f.seal(t, []byte("hello"))

	f.clock.Advance(f.authority.Validity() + time.Second)
	_, err := f.cipher.Open(context.Background(), data, f.bobPriv, f.authority.ServerPublicKey())
	assert.ErrorIs(t, err, ErrInvalidCertificate)
	assert.ErrorIs(t, err, certificate.ErrCertificateExpired)
}

func TestCipher_RevokedCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := f.seal(t, []byte("before"))
	_, err := f.cipher.Open(ctx, before, f.bobPriv, f.authority.ServerPublicKey())
	require.NoError(t, err)

	_, err = f.authority.RevokeCertificate(ctx, f.cert.CertificateID)
	require.NoError(t, err)

	_, err = f.cipher.Open(ctx, before, f.bobPriv, f.authority.ServerPublicKey())
	assert.ErrorIs(t, err, ErrInvalidCertificate)
	assert.ErrorIs(t, err, certificate.ErrCertificateRevoked)

	after := f.seal(t, []byte("after"))
	_, err = f.cipher.Open(ctx, after, f.bobPriv, f.authority.ServerPublicKey())
	assert.ErrorIs(t, err, certificate.ErrCertificateRevoked)
}

func TestCipher_ForeignServerKey(t *testing.T) {
	f := newFixture(t)
	data := f.seal(t, []byte("hello"))

	other, err := signature.NewEd25519Signer()
	require.NoError(t, err)
	_, err = f.cipher.Open(context.Background(), data, f.bobPriv, other.Public())
	assert.ErrorIs(t, err, ErrInvalidCertificate)
	assert.ErrorIs(t, err, certificate.ErrInvalidSignature)
}

func TestCipher_SessionDecryptUsesCertifiedSender(t *testing.T) {
	f := newFixture(t)
	sessions := new(MockSessionDecrypter)
	c := NewCipher(f.authority, sessions)

	data, err := c.Seal("bob", f.bobPub, f.cert, model.SessionMessage{Type: model.MessageTypePreKey, Body: []byte("ratchet")})
	require.NoError(t, err)

	sessions.On("DecryptSessionMessage", mock.Anything, "alice", []byte("ratchet"), model.MessageTypePreKey).
		Return([]byte("plain"), nil).Once()
	out, err := c.Open(context.Background(), data, f.bobPriv, f.authority.ServerPublicKey())
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), out.Plaintext)
	assert.Equal(t, model.MessageTypePreKey, out.MessageType)

	sessions.On("DecryptSessionMessage", mock.Anything, "alice", mock.Anything, mock.Anything).
		Return(nil, errors.New("no session")).Once()
	_, err = c.Open(context.Background(), data, f.bobPriv, f.authority.ServerPublicKey())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthenticationFailure)
	sessions.AssertExpectations(t)
}

func TestCipher_EncryptRejects(t *testing.T) {
	f := newFixture(t)
	payload := model.SessionMessage{Type: model.MessageTypeNormal, Body: []byte("x")}

	_, err := f.cipher.Encrypt("bob", f.bobPub[:31], f.cert, payload)
	assert.Error(t, err)

	_, err = f.cipher.Encrypt("bob", f.bobPub, nil, payload)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = f.cipher.Encrypt("bob", f.bobPub, f.cert, model.SessionMessage{Type: 7, Body: []byte("x")})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestCipher_DecryptRejectsMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pub := f.authority.ServerPublicKey()

	valid := &UnidentifiedSenderMessage{
		Version:            Version,
		EphemeralPublicKey: f.bobPub,
		EncryptedContent:   make([]byte, 12),
		AuthenticationTag:  make([]byte, 16),
	}

	cases := map[string]func(m *UnidentifiedSenderMessage){
		"version":       func(m *UnidentifiedSenderMessage) { m.Version = 2 },
		"short key":     func(m *UnidentifiedSenderMessage) { m.EphemeralPublicKey = m.EphemeralPublicKey[:31] },
		"short tag":     func(m *UnidentifiedSenderMessage) { m.AuthenticationTag = m.AuthenticationTag[:15] },
		"short content": func(m *UnidentifiedSenderMessage) { m.EncryptedContent = m.EncryptedContent[:11] },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := *valid
			mutate(&m)
			_, err := f.cipher.Decrypt(ctx, &m, f.bobPriv, pub)
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}

	_, err := f.cipher.Decrypt(ctx, nil, f.bobPriv, pub)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}
