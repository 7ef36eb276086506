package certificate

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"sync"
	"time"

	"sealed_chat/internal/cryptographic/signature"
	"sealed_chat/internal/model"
	"sealed_chat/internal/utils/log"
	"sealed_chat/internal/utils/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultValidity    = 24 * time.Hour
	DefaultRenewBefore = 6 * time.Hour
)

type (
	// Authority issues, caches, verifies and revokes sender certificates.
	// It owns the server signing key and the per-sender certificate cache;
	// construct one per process and share the pointer.
	Authority struct {
		*Verifier

		signer   signature.Signer
		validity time.Duration

		mu    sync.Mutex
		cache map[string]*model.SenderCertificate
	}
)

func NewAuthority(signer signature.Signer, store RevocationStore, opts ...Option) (*Authority, error) {
	if signer == nil {
		return nil, errors.New("certificate authority: nil signer")
	}
	if store == nil {
		return nil, errors.New("certificate authority: nil revocation store")
	}
	if _, err := signature.AlgorithmOf(signer.Public()); err != nil {
		return nil, fmt.Errorf("certificate authority: %w", err)
	}

	o := buildOptions(opts)
	if o.validity <= 0 {
		return nil, fmt.Errorf("certificate authority: invalid validity %s", o.validity)
	}

	return &Authority{
		Verifier: &Verifier{store: store, now: o.now},
		signer:   signer,
		validity: o.validity,
		cache:    make(map[string]*model.SenderCertificate),
	}, nil
}

// GenerateCertificate issues a fresh certificate valid for validity from now,
// signs it and caches it under senderID.
func (a *Authority) GenerateCertificate(ctx context.Context, senderID string, deviceID uint32, identityKey []byte, validity time.Duration) (*model.SenderCertificate, error) {
	if validity <= 0 {
		return nil, fmt.Errorf("invalid certificate validity %s", validity)
	}
	if deviceID == 0 {
		deviceID = model.DefaultDeviceID
	}

	now := a.now().UTC().Truncate(time.Millisecond)
	cert := &model.SenderCertificate{
		CertificateID:     uuid.New(),
		SenderID:          senderID,
		DeviceID:          deviceID,
		SenderIdentityKey: append([]byte(nil), identityKey...),
		IssuedAt:          now,
		ExpiresAt:         now.Add(validity).Truncate(time.Millisecond),
	}

	data, err := cert.Serialize()
	if err != nil {
		return nil, err
	}
	cert.ServerSignature, err = a.signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("sign certificate: %w", err)
	}

	a.mu.Lock()
	a.cache[senderID] = cert
	a.mu.Unlock()

	metrics.CertificatesIssuedTotal.Inc()
	log.Debug("sender certificate issued",
		zap.String("certificate_id", cert.CertificateID.String()),
		zap.String("sender_id", senderID),
		zap.Uint32("device_id", deviceID),
		zap.Time("expires_at", cert.ExpiresAt),
	)
	return cert.Clone(), nil
}

// GetOrCreateCertificate returns the cached certificate for senderID when it
// is unexpired, unrevoked and bound to the same device and identity key;
// otherwise it drops the stale entry and issues a new one.
func (a *Authority) GetOrCreateCertificate(ctx context.Context, senderID string, deviceID uint32, identityKey []byte) (*model.SenderCertificate, error) {
	if deviceID == 0 {
		deviceID = model.DefaultDeviceID
	}

	a.mu.Lock()
	cached := a.cache[senderID]
	a.mu.Unlock()

	if cached != nil {
		if a.usable(ctx, cached, deviceID, identityKey) {
			return cached.Clone(), nil
		}
		a.evict(senderID, cached)
	}

	return a.GenerateCertificate(ctx, senderID, deviceID, identityKey, a.validity)
}

func (a *Authority) usable(ctx context.Context, cert *model.SenderCertificate, deviceID uint32, identityKey []byte) bool {
	if cert.DeviceID != deviceID || !bytes.Equal(cert.SenderIdentityKey, identityKey) {
		return false
	}
	if cert.IsExpiredAt(a.now().UTC()) {
		return false
	}
	revoked, err := a.store.IsRevoked(ctx, cert.CertificateID)
	return err == nil && !revoked
}

// evict removes senderID's entry only if it still holds cert, so a
// concurrently issued replacement is kept.
func (a *Authority) evict(senderID string, cert *model.SenderCertificate) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cache[senderID] == cert {
		delete(a.cache, senderID)
	}
}

// RevokeCertificate permanently revokes id and drops any cached copy. The
// revocation is recorded before the cache is touched so that no verifier
// can observe the certificate as live afterwards.
func (a *Authority) RevokeCertificate(ctx context.Context, id uuid.UUID) (time.Time, error) {
	at := a.now().UTC()
	if err := a.store.Revoke(ctx, id, at); err != nil {
		return time.Time{}, fmt.Errorf("revoke certificate %s: %w", id, err)
	}

	a.mu.Lock()
	for senderID, cert := range a.cache {
		if cert.CertificateID == id {
			delete(a.cache, senderID)
		}
	}
	a.mu.Unlock()

	metrics.CertificatesRevokedTotal.Inc()
	log.Info("sender certificate revoked", zap.String("certificate_id", id.String()))
	return at, nil
}

// CleanupExpired drops expired cache entries and returns how many were removed.
func (a *Authority) CleanupExpired() int {
	now := a.now().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for senderID, cert := range a.cache {
		if cert.IsExpiredAt(now) {
			delete(a.cache, senderID)
			removed++
		}
	}
	return removed
}

// RevokedSince lists revocations at or after since. The store must
// implement RevocationLister.
func (a *Authority) RevokedSince(ctx context.Context, since time.Time) ([]Revocation, error) {
	lister, ok := a.store.(RevocationLister)
	if !ok {
		return nil, ErrRevocationListUnsupported
	}
	return lister.RevokedSince(ctx, since)
}

func (a *Authority) ServerPublicKey() crypto.PublicKey {
	return a.signer.Public()
}

// GetServerPublicKey returns the verification key as a PKIX PEM block.
func (a *Authority) GetServerPublicKey() (string, error) {
	return signature.MarshalPublicKeyPEM(a.signer.Public())
}

func (a *Authority) Algorithm() string {
	return a.signer.Algorithm()
}

func (a *Authority) Validity() time.Duration {
	return a.validity
}

func (a *Authority) cacheLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cache)
}
