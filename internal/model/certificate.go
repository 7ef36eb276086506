package model

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"sealed_chat/internal/cryptographic/signature"

	"github.com/google/uuid"
	"golang.org/x/crypto/cryptobyte"
)

const (
	certificateFormatVersion = 1

	DefaultDeviceID = 1
	MaxSenderIDLen  = 255
)

var ErrMalformedCertificate = errors.New("malformed sender certificate")

type (
	// SenderCertificate is a short-lived, server-signed binding between a
	// sender and its identity key. It is only ever shown to recipients.
	SenderCertificate struct {
		CertificateID     uuid.UUID
		SenderID          string
		DeviceID          uint32
		SenderIdentityKey []byte
		IssuedAt          time.Time
		ExpiresAt         time.Time
		ServerSignature   []byte
	}

	CertificateDTO struct {
		CertificateID     string    `json:"certificate_id"`
		SenderID          string    `json:"sender_id"`
		DeviceID          uint32    `json:"device_id"`
		SenderIdentityKey string    `json:"sender_identity_key"`
		ExpiresAt         time.Time `json:"expires_at"`
		IssuedAt          time.Time `json:"issued_at"`
		ServerSignature   string    `json:"server_signature"`
	}
)

// Serialize returns the canonical bytes covered by ServerSignature:
//
//	u8 version | 16 certificate_id | u8 len sender_id | u32 device_id |
//	u16 len identity_key | u64 issued_at ms | u64 expires_at ms
//
// Timestamps are carried at millisecond precision, so a certificate rebuilt
// from these bytes serializes identically.
func (c *SenderCertificate) Serialize() ([]byte, error) {
	if len(c.SenderID) == 0 || len(c.SenderID) > MaxSenderIDLen {
		return nil, fmt.Errorf("%w: sender id length %d", ErrMalformedCertificate, len(c.SenderID))
	}
	if len(c.SenderIdentityKey) == 0 || len(c.SenderIdentityKey) > 0xffff {
		return nil, fmt.Errorf("%w: identity key length %d", ErrMalformedCertificate, len(c.SenderIdentityKey))
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(certificateFormatVersion)
	b.AddBytes(c.CertificateID[:])
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(c.SenderID))
	})
	b.AddUint32(c.DeviceID)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(c.SenderIdentityKey)
	})
	b.AddUint64(uint64(c.IssuedAt.UnixMilli()))
	b.AddUint64(uint64(c.ExpiresAt.UnixMilli()))
	return b.Bytes()
}

// ParseCanonical rebuilds a certificate from Serialize output. The signature
// is not part of the canonical bytes and is left empty.
func ParseCanonical(data []byte) (*SenderCertificate, error) {
	s := cryptobyte.String(data)

	var (
		version         uint8
		id              []byte
		sender, key     cryptobyte.String
		deviceID        uint32
		issued, expires uint64
	)
	if !s.ReadUint8(&version) ||
		!s.ReadBytes(&id, len(uuid.UUID{})) ||
		!s.ReadUint8LengthPrefixed(&sender) ||
		!s.ReadUint32(&deviceID) ||
		!s.ReadUint16LengthPrefixed(&key) ||
		!s.ReadUint64(&issued) ||
		!s.ReadUint64(&expires) ||
		!s.Empty() {
		return nil, ErrMalformedCertificate
	}
	if version != certificateFormatVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrMalformedCertificate, version)
	}
	if len(sender) == 0 || len(key) == 0 {
		return nil, ErrMalformedCertificate
	}

	c := &SenderCertificate{
		SenderID:          string(sender),
		DeviceID:          deviceID,
		SenderIdentityKey: append([]byte(nil), key...),
		IssuedAt:          time.UnixMilli(int64(issued)).UTC(),
		ExpiresAt:         time.UnixMilli(int64(expires)).UTC(),
	}
	copy(c.CertificateID[:], id)
	return c, nil
}

func (c *SenderCertificate) IsExpired() bool {
	return c.IsExpiredAt(time.Now().UTC())
}

func (c *SenderCertificate) IsExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// NeedsRenewal reports whether less than threshold of validity remains.
func (c *SenderCertificate) NeedsRenewal(now time.Time, threshold time.Duration) bool {
	return c.ExpiresAt.Sub(now) < threshold
}

// VerifySignature recomputes the canonical bytes and checks ServerSignature
// against serverPublicKey. Any failure, including malformed fields, is false.
func (c *SenderCertificate) VerifySignature(serverPublicKey crypto.PublicKey) bool {
	if c == nil || len(c.ServerSignature) == 0 {
		return false
	}
	data, err := c.Serialize()
	if err != nil {
		return false
	}
	return signature.Verify(serverPublicKey, data, c.ServerSignature)
}

func (c *SenderCertificate) ToDTO() *CertificateDTO {
	return &CertificateDTO{
		CertificateID:     c.CertificateID.String(),
		SenderID:          c.SenderID,
		DeviceID:          c.DeviceID,
		SenderIdentityKey: base64.StdEncoding.EncodeToString(c.SenderIdentityKey),
		ExpiresAt:         c.ExpiresAt,
		IssuedAt:          c.IssuedAt,
		ServerSignature:   base64.StdEncoding.EncodeToString(c.ServerSignature),
	}
}

func CertificateFromDTO(dto *CertificateDTO) (*SenderCertificate, error) {
	id, err := uuid.Parse(dto.CertificateID)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate id: %v", ErrMalformedCertificate, err)
	}
	key, err := base64.StdEncoding.DecodeString(dto.SenderIdentityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: identity key: %v", ErrMalformedCertificate, err)
	}
	sig, err := base64.StdEncoding.DecodeString(dto.ServerSignature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedCertificate, err)
	}

	return &SenderCertificate{
		CertificateID:     id,
		SenderID:          dto.SenderID,
		DeviceID:          dto.DeviceID,
		SenderIdentityKey: key,
		IssuedAt:          dto.IssuedAt.UTC(),
		ExpiresAt:         dto.ExpiresAt.UTC(),
		ServerSignature:   sig,
	}, nil
}

// Clone returns a deep copy so cached certificates are never shared mutably.
func (c *SenderCertificate) Clone() *SenderCertificate {
	cp := *c
	cp.SenderIdentityKey = append([]byte(nil), c.SenderIdentityKey...)
	cp.ServerSignature = append([]byte(nil), c.ServerSignature...)
	return &cp
}
