package session

import (
	"errors"

	"sealed_chat/internal/cryptographic/dh"
	"sealed_chat/internal/model"

	"golang.org/x/crypto/cryptobyte"
)

var ErrMalformedBody = errors.New("session: malformed message body")

// body is the session wire format carried opaquely by the sealed sender
// layer. PreKey bodies prefix the X3DH handshake:
//
//	[u8 len | ik_pub | u8 len | ek_pub] | 32 ratchet pub | u32 n | u32 pn | ciphertext
type body struct {
	handshake  *model.X3DHHandshake
	header     model.Header
	ciphertext []byte
}

func (b *body) marshal(t model.MessageType) ([]byte, error) {
	builder := cryptobyte.NewBuilder(nil)
	if t == model.MessageTypePreKey {
		if b.handshake == nil {
			return nil, errors.New("session: prekey message without handshake")
		}
		builder.AddUint8LengthPrefixed(func(bb *cryptobyte.Builder) {
			bb.AddBytes(b.handshake.IKPub)
		})
		builder.AddUint8LengthPrefixed(func(bb *cryptobyte.Builder) {
			bb.AddBytes(b.handshake.EKPub)
		})
	}
	builder.AddBytes(b.header.Pub[:])
	builder.AddUint32(b.header.MsgNum)
	builder.AddUint32(b.header.Prev)
	builder.AddBytes(b.ciphertext)
	return builder.Bytes()
}

func unmarshalBody(data []byte, t model.MessageType) (*body, error) {
	if !t.Valid() {
		return nil, ErrMalformedBody
	}
	s := cryptobyte.String(data)
	b := &body{}

	if t == model.MessageTypePreKey {
		var ik, ek cryptobyte.String
		if !s.ReadUint8LengthPrefixed(&ik) || !s.ReadUint8LengthPrefixed(&ek) ||
			len(ik) != dh.KeySize || len(ek) != dh.KeySize {
			return nil, ErrMalformedBody
		}
		b.handshake = &model.X3DHHandshake{
			IKPub: append([]byte(nil), ik...),
			EKPub: append([]byte(nil), ek...),
		}
	}

	var pub []byte
	if !s.ReadBytes(&pub, 32) ||
		!s.ReadUint32(&b.header.MsgNum) ||
		!s.ReadUint32(&b.header.Prev) {
		return nil, ErrMalformedBody
	}
	copy(b.header.Pub[:], pub)
	b.ciphertext = append([]byte(nil), s...)
	return b, nil
}
