package certificate

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"sealed_chat/internal/model"
	"sealed_chat/internal/utils/log"
	"sealed_chat/internal/utils/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrCertificateExpired = errors.New("sender certificate expired")
	ErrCertificateRevoked = errors.New("sender certificate revoked")
	ErrInvalidSignature   = errors.New("sender certificate signature invalid")
)

type (
	// Verifier checks certificates without holding the signing key. Clients
	// use it directly; Authority embeds it.
	Verifier struct {
		store RevocationStore
		now   func() time.Time
	}

	Option func(*options)

	options struct {
		validity time.Duration
		now      func() time.Time
	}
)

func WithValidity(d time.Duration) Option {
	return func(o *options) { o.validity = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		validity: DefaultValidity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewVerifier(store RevocationStore, opts ...Option) *Verifier {
	o := buildOptions(opts)
	return &Verifier{store: store, now: o.now}
}

func (v *Verifier) Now() time.Time {
	return v.now().UTC()
}

// CheckCertificate runs the revocation, expiry and signature checks in that
// order and returns the first failure. A revocation lookup error counts as
// revoked.
func (v *Verifier) CheckCertificate(ctx context.Context, cert *model.SenderCertificate, serverPublicKey crypto.PublicKey) error {
	err := v.check(ctx, cert, serverPublicKey)
	if err != nil {
		metrics.CertificateVerificationFailuresTotal.WithLabelValues(failureReason(err)).Inc()
	}
	return err
}

func (v *Verifier) check(ctx context.Context, cert *model.SenderCertificate, serverPublicKey crypto.PublicKey) error {
	if cert == nil {
		return ErrInvalidSignature
	}

	revoked, err := v.store.IsRevoked(ctx, cert.CertificateID)
	if err != nil {
		log.Warn("revocation lookup failed", zap.String("certificate_id", cert.CertificateID.String()), zap.Error(err))
		return fmt.Errorf("%w: revocation lookup: %v", ErrCertificateRevoked, err)
	}
	if revoked {
		return ErrCertificateRevoked
	}

	if cert.IsExpiredAt(v.Now()) {
		return ErrCertificateExpired
	}

	if !cert.ExpiresAt.After(cert.IssuedAt) || !cert.VerifySignature(serverPublicKey) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyCertificate is CheckCertificate collapsed to a boolean.
func (v *Verifier) VerifyCertificate(ctx context.Context, cert *model.SenderCertificate, serverPublicKey crypto.PublicKey) bool {
	return v.CheckCertificate(ctx, cert, serverPublicKey) == nil
}

func (v *Verifier) IsRevoked(ctx context.Context, id uuid.UUID) (bool, error) {
	return v.store.IsRevoked(ctx, id)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrCertificateRevoked):
		return "revoked"
	case errors.Is(err, ErrCertificateExpired):
		return "expired"
	default:
		return "signature"
	}
}
