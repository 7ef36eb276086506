package sealedsender

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"sealed_chat/internal/cryptographic/dh"
	"sealed_chat/internal/cryptographic/encryption"
	"sealed_chat/internal/cryptographic/kdf"
	"sealed_chat/internal/model"

	"github.com/google/uuid"
)

var (
	transportSalt = []byte("sealed_chat/sealed-sender/v1/salt")
	transportInfo = []byte("sealed_chat/sealed-sender/v1/transport-key")
)

type (
	CertificateVerifier interface {
		CheckCertificate(ctx context.Context, cert *model.SenderCertificate, serverPublicKey crypto.PublicKey) error
	}

	SessionDecrypter interface {
		DecryptSessionMessage(ctx context.Context, senderID string, body []byte, messageType model.MessageType) ([]byte, error)
	}

	// DecryptedMessage is only produced once every layer has been removed and
	// the certificate has been verified.
	DecryptedMessage struct {
		SenderID          string
		DeviceID          uint32
		SenderIdentityKey []byte
		CertificateID     uuid.UUID
		MessageType       model.MessageType
		Plaintext         []byte
	}

	// Cipher wraps opaque session messages in sealed sender envelopes and
	// unwraps them on the recipient side.
	Cipher struct {
		verifier CertificateVerifier
		sessions SessionDecrypter
	}
)

func NewCipher(verifier CertificateVerifier, sessions SessionDecrypter) *Cipher {
	return &Cipher{
		verifier: verifier,
		sessions: sessions,
	}
}

func deriveTransportKey(shared []byte) ([]byte, error) {
	return kdf.DeriveKey(shared, transportSalt, transportInfo, encryption.KeySize)
}

// associatedData binds the AEAD layer to the envelope header.
func associatedData(version uint8, ephemeralPublicKey []byte) []byte {
	ad := make([]byte, 0, 1+len(ephemeralPublicKey))
	ad = append(ad, version)
	return append(ad, ephemeralPublicKey...)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Encrypt builds the inner content from cert and payload and seals it to
// recipientIdentityKey under a fresh ephemeral X25519 key.
func (c *Cipher) Encrypt(recipientID string, recipientIdentityKey []byte, cert *model.SenderCertificate, payload model.SessionMessage) (*UnidentifiedSenderMessage, error) {
	content := &UnidentifiedSenderMessageContent{
		SenderCertificate: cert,
		EncryptedPayload:  payload.Body,
		MessageType:       payload.Type,
	}
	plain, err := content.Serialize()
	if err != nil {
		return nil, fmt.Errorf("build content for %s: %w", recipientID, err)
	}
	defer wipe(plain)

	ephPriv, ephPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}
	defer wipe(ephPriv[:])

	shared, err := dh.SharedSecret(ephPriv[:], recipientIdentityKey)
	if err != nil {
		return nil, fmt.Errorf("recipient %s identity key: %w", recipientID, err)
	}
	defer wipe(shared)

	key, err := deriveTransportKey(shared)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	body, tag, err := encryption.SealDetached(key, plain, associatedData(Version, ephPub[:]))
	if err != nil {
		return nil, err
	}

	return &UnidentifiedSenderMessage{
		Version:            Version,
		EphemeralPublicKey: ephPub[:],
		EncryptedContent:   body,
		AuthenticationTag:  tag,
	}, nil
}

// Unwrap removes the transport layer and verifies the sender certificate,
// returning the still-encrypted session payload.
func (c *Cipher) Unwrap(ctx context.Context, msg *UnidentifiedSenderMessage, recipientPrivateKey []byte, serverPublicKey crypto.PublicKey) (*UnidentifiedSenderMessageContent, error) {
	if msg == nil || msg.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version", ErrMalformedEnvelope)
	}
	if len(msg.EphemeralPublicKey) != dh.KeySize {
		return nil, fmt.Errorf("%w: ephemeral key length %d", ErrMalformedEnvelope, len(msg.EphemeralPublicKey))
	}
	if len(msg.AuthenticationTag) != encryption.TagSize {
		return nil, fmt.Errorf("%w: tag length %d", ErrMalformedEnvelope, len(msg.AuthenticationTag))
	}
	if len(msg.EncryptedContent) < encryption.NonceSize {
		return nil, fmt.Errorf("%w: content shorter than nonce", ErrMalformedEnvelope)
	}
	if len(recipientPrivateKey) != dh.KeySize {
		return nil, errors.New("sealed sender: recipient private key must be 32 bytes")
	}

	shared, err := dh.SharedSecret(recipientPrivateKey, msg.EphemeralPublicKey)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	defer wipe(shared)

	key, err := deriveTransportKey(shared)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	plain, err := encryption.OpenDetached(key, msg.EncryptedContent, msg.AuthenticationTag,
		associatedData(msg.Version, msg.EphemeralPublicKey))
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	defer wipe(plain)

	content, err := DeserializeContent(plain)
	if err != nil {
		return nil, err
	}

	if err := c.verifier.CheckCertificate(ctx, content.SenderCertificate, serverPublicKey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	return content, nil
}

// Decrypt unwraps msg and hands the payload to the session cipher under the
// sender id taken from the verified certificate.
func (c *Cipher) Decrypt(ctx context.Context, msg *UnidentifiedSenderMessage, recipientPrivateKey []byte, serverPublicKey crypto.PublicKey) (*DecryptedMessage, error) {
	content, err := c.Unwrap(ctx, msg, recipientPrivateKey, serverPublicKey)
	if err != nil {
		return nil, err
	}
	if c.sessions == nil {
		return nil, errors.New("sealed sender: no session cipher configured")
	}

	cert := content.SenderCertificate
	plaintext, err := c.sessions.DecryptSessionMessage(ctx, cert.SenderID, content.EncryptedPayload, content.MessageType)
	if err != nil {
		return nil, fmt.Errorf("session decrypt from %s: %w", cert.SenderID, err)
	}

	return &DecryptedMessage{
		SenderID:          cert.SenderID,
		DeviceID:          cert.DeviceID,
		SenderIdentityKey: cert.SenderIdentityKey,
		CertificateID:     cert.CertificateID,
		MessageType:       content.MessageType,
		Plaintext:         plaintext,
	}, nil
}

// Seal is Encrypt followed by Serialize.
func (c *Cipher) Seal(recipientID string, recipientIdentityKey []byte, cert *model.SenderCertificate, payload model.SessionMessage) ([]byte, error) {
	msg, err := c.Encrypt(recipientID, recipientIdentityKey, cert, payload)
	if err != nil {
		return nil, err
	}
	return msg.Serialize()
}

// Open is DeserializeMessage followed by Decrypt.
func (c *Cipher) Open(ctx context.Context, data []byte, recipientPrivateKey []byte, serverPublicKey crypto.PublicKey) (*DecryptedMessage, error) {
	msg, err := DeserializeMessage(data)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(ctx, msg, recipientPrivateKey, serverPublicKey)
}
