package model

import "time"

type (
	RequestCertificateRequest struct {
		UserID      string `json:"user_id"`
		DeviceID    uint32 `json:"device_id"`
		IdentityKey string `json:"identity_key"` // base64
	}

	VerifyCertificateResponse struct {
		IsValid   bool      `json:"is_valid"`
		IsExpired bool      `json:"is_expired"`
		ExpiresAt time.Time `json:"expires_at"`
	}

	ServerPublicKeyResponse struct {
		PublicKey string `json:"public_key"` // PEM, PKIX
		Algorithm string `json:"algorithm"`
		Usage     string `json:"usage"`
	}

	RevokeCertificateResponse struct {
		CertificateID string    `json:"certificate_id"`
		RevokedAt     time.Time `json:"revoked_at"`
	}

	// RevokedCertificatesResponse lists revocations at or after the
	// requested time. AsOf is the server time taken before listing; pass it
	// back as since on the next pull.
	RevokedCertificatesResponse struct {
		Revoked []RevokeCertificateResponse `json:"revoked"`
		AsOf    time.Time                   `json:"as_of"`
	}
)
