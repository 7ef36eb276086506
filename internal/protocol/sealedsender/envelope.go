package sealedsender

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

const (
	Version = 1

	// u8 version + u16 key length + u8 tag length
	minHeaderSize = 4
)

var (
	ErrMalformedEnvelope     = errors.New("sealed sender: malformed envelope")
	ErrAuthenticationFailure = errors.New("sealed sender: envelope authentication failed")
	ErrInvalidCertificate    = errors.New("sealed sender: invalid sender certificate")
)

type (
	// UnidentifiedSenderMessage is the outer envelope put on the wire.
	//
	//	u8 version | u16 len | ephemeral public key | u8 len | tag | encrypted content
	UnidentifiedSenderMessage struct {
		Version            uint8
		EphemeralPublicKey []byte
		EncryptedContent   []byte // nonce || ciphertext
		AuthenticationTag  []byte
	}
)

func (m *UnidentifiedSenderMessage) Serialize() ([]byte, error) {
	if len(m.EphemeralPublicKey) > 0xffff {
		return nil, fmt.Errorf("%w: ephemeral key length %d", ErrMalformedEnvelope, len(m.EphemeralPublicKey))
	}
	if len(m.AuthenticationTag) > 0xff {
		return nil, fmt.Errorf("%w: tag length %d", ErrMalformedEnvelope, len(m.AuthenticationTag))
	}

	b := cryptobyte.NewFixedBuilder(make([]byte, 0,
		minHeaderSize+len(m.EphemeralPublicKey)+len(m.AuthenticationTag)+len(m.EncryptedContent)))
	b.AddUint8(m.Version)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(m.EphemeralPublicKey)
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(m.AuthenticationTag)
	})
	b.AddBytes(m.EncryptedContent)
	return b.Bytes()
}

// DeserializeMessage parses an envelope. Declared lengths are checked against
// the remaining buffer before anything is copied.
func DeserializeMessage(data []byte) (*UnidentifiedSenderMessage, error) {
	if len(data) < minHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedEnvelope, len(data))
	}

	s := cryptobyte.String(data)
	var (
		version   uint8
		ephemeral cryptobyte.String
		tag       cryptobyte.String
	)
	if !s.ReadUint8(&version) ||
		!s.ReadUint16LengthPrefixed(&ephemeral) ||
		!s.ReadUint8LengthPrefixed(&tag) {
		return nil, fmt.Errorf("%w: length prefix exceeds buffer", ErrMalformedEnvelope)
	}

	return &UnidentifiedSenderMessage{
		Version:            version,
		EphemeralPublicKey: append([]byte(nil), ephemeral...),
		AuthenticationTag:  append([]byte(nil), tag...),
		EncryptedContent:   append([]byte(nil), s...),
	}, nil
}

// IsSealed reports whether data carries the sealed envelope version marker in
// its first byte. The marker is not reserved in session ciphertexts, so a
// positive answer only means "try the sealed path first".
func IsSealed(data []byte) bool {
	return len(data) > 0 && data[0] == Version
}
