package sealedsender

import (
	"fmt"

	"sealed_chat/internal/model"

	"golang.org/x/crypto/cryptobyte"
)

type (
	// UnidentifiedSenderMessageContent is the inner plaintext of an envelope.
	//
	//	u8 message_type | u16 len | certificate bytes | u16 len | signature | payload
	UnidentifiedSenderMessageContent struct {
		SenderCertificate *model.SenderCertificate
		EncryptedPayload  []byte
		MessageType       model.MessageType
	}
)

func (c *UnidentifiedSenderMessageContent) Serialize() ([]byte, error) {
	if c.SenderCertificate == nil {
		return nil, fmt.Errorf("%w: missing sender certificate", ErrMalformedEnvelope)
	}
	if !c.MessageType.Valid() {
		return nil, fmt.Errorf("%w: message type %s", ErrMalformedEnvelope, c.MessageType)
	}
	certBytes, err := c.SenderCertificate.Serialize()
	if err != nil {
		return nil, err
	}
	if len(c.SenderCertificate.ServerSignature) > 0xffff {
		return nil, fmt.Errorf("%w: signature length %d", ErrMalformedEnvelope, len(c.SenderCertificate.ServerSignature))
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(uint8(c.MessageType))
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(certBytes)
	})
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(c.SenderCertificate.ServerSignature)
	})
	b.AddBytes(c.EncryptedPayload)
	return b.Bytes()
}

// DeserializeContent rebuilds the content and its certificate, signature
// included. It does not verify the certificate.
func DeserializeContent(data []byte) (*UnidentifiedSenderMessageContent, error) {
	s := cryptobyte.String(data)
	var (
		messageType uint8
		certBytes   cryptobyte.String
		sig         cryptobyte.String
	)
	if !s.ReadUint8(&messageType) ||
		!s.ReadUint16LengthPrefixed(&certBytes) ||
		!s.ReadUint16LengthPrefixed(&sig) {
		return nil, fmt.Errorf("%w: content length prefix exceeds buffer", ErrMalformedEnvelope)
	}

	mt := model.MessageType(messageType)
	if !mt.Valid() {
		return nil, fmt.Errorf("%w: message type %s", ErrMalformedEnvelope, mt)
	}

	cert, err := model.ParseCanonical(certBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	cert.ServerSignature = append([]byte(nil), sig...)

	return &UnidentifiedSenderMessageContent{
		SenderCertificate: cert,
		EncryptedPayload:  append([]byte(nil), s...),
		MessageType:       mt,
	}, nil
}
