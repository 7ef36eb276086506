package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"sealed_chat/internal/cryptographic/kdf"
	"sealed_chat/internal/model"
	"sealed_chat/internal/service/certificate"
	"sealed_chat/internal/utils/log"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	maxRequestBody = 64 << 10

	publicKeyUsage = "sender-certificate-verification"
)

func (s *HttpServer) RequestCertificate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req model.RequestCertificateRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		identityKey, err := base64.StdEncoding.DecodeString(req.IdentityKey)
		if err != nil || req.UserID == "" || len(identityKey) == 0 {
			http.Error(w, "user_id and identity_key are required", http.StatusBadRequest)
			return
		}

		user, err := s.userRepo.GetByName(ctx, req.UserID)
		if err != nil {
			log.Error("RequestCertificate: user lookup failed", zap.Error(err))
			http.Error(w, "certificate request failed", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "user does not exist", http.StatusNotFound)
			return
		}

		registered, err := sharedKeysOf(user)
		if err != nil {
			log.Error("RequestCertificate: stored keys unreadable", zap.String("user", user.Name), zap.Error(err))
			http.Error(w, "certificate request failed", http.StatusInternalServerError)
			return
		}
		// Issuance is unauthenticated. A certificate only vouches for the
		// registered identity key, and recipients compare it with the key
		// their X3DH session was built on, so a certificate obtained for
		// someone else cannot be used without their identity private key.
		if !bytes.Equal(registered.IKPub, identityKey) {
			log.Warn("RequestCertificate: identity key mismatch", zap.String("user", req.UserID))
			http.Error(w, "identity key does not match registered key", http.StatusForbidden)
			return
		}

		cert, err := s.authority.GetOrCreateCertificate(ctx, req.UserID, req.DeviceID, identityKey)
		if err != nil {
			log.Error("RequestCertificate: issue failed", zap.String("user", req.UserID), zap.Error(err))
			http.Error(w, "certificate request failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, cert.ToDTO())
	}
}

func (s *HttpServer) VerifyCertificate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var dto model.CertificateDTO
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&dto); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		cert, err := model.CertificateFromDTO(&dto)
		if err != nil {
			http.Error(w, "invalid certificate", http.StatusBadRequest)
			return
		}

		err = s.authority.CheckCertificate(r.Context(), cert, s.authority.ServerPublicKey())
		if err != nil {
			log.Debug("VerifyCertificate: rejected", zap.String("certificate_id", dto.CertificateID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, &model.VerifyCertificateResponse{
			IsValid:   err == nil,
			IsExpired: cert.IsExpiredAt(s.authority.Now()),
			ExpiresAt: cert.ExpiresAt,
		})
	}
}

func (s *HttpServer) GetServerPublicKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pemKey, err := s.authority.GetServerPublicKey()
		if err != nil {
			log.Error("GetServerPublicKey failed", zap.Error(err))
			http.Error(w, "public key unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, &model.ServerPublicKeyResponse{
			PublicKey: pemKey,
			Algorithm: s.authority.Algorithm(),
			Usage:     publicKeyUsage,
		})
	}
}

func (s *HttpServer) RevokeCertificate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, "invalid certificate id", http.StatusBadRequest)
			return
		}

		at, err := s.authority.RevokeCertificate(r.Context(), id)
		if err != nil {
			log.Error("RevokeCertificate failed", zap.Stringer("certificate_id", id), zap.Error(err))
			http.Error(w, "revocation failed", http.StatusInternalServerError)
			return
		}
		log.Info("certificate revoked", zap.Stringer("certificate_id", id))
		writeJSON(w, http.StatusOK, &model.RevokeCertificateResponse{
			CertificateID: id.String(),
			RevokedAt:     at,
		})
	}
}

// ListRevokedCertificates serves the whole revocation list, or the part at or
// after ?since=. Clients pull it in bulk so the server never learns which
// certificate a recipient is checking.
func (s *HttpServer) ListRevokedCertificates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var since time.Time
		if v := r.URL.Query().Get("since"); v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				http.Error(w, "since must be RFC 3339", http.StatusBadRequest)
				return
			}
			since = t
		}

		asOf := s.authority.Now()
		revoked, err := s.authority.RevokedSince(r.Context(), since)
		if errors.Is(err, certificate.ErrRevocationListUnsupported) {
			http.Error(w, "revocation list unavailable", http.StatusNotImplemented)
			return
		}
		if err != nil {
			log.Error("ListRevokedCertificates failed", zap.Error(err))
			http.Error(w, "revocation list unavailable", http.StatusInternalServerError)
			return
		}

		resp := &model.RevokedCertificatesResponse{
			Revoked: make([]model.RevokeCertificateResponse, 0, len(revoked)),
			AsOf:    asOf,
		}
		for _, rev := range revoked {
			resp.Revoked = append(resp.Revoked, model.RevokeCertificateResponse{
				CertificateID: rev.CertificateID.String(),
				RevokedAt:     rev.RevokedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

var errAdminDisabled = errors.New("admin password hash not configured")

func (s *HttpServer) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.checkAdmin(r)
		if err != nil {
			log.Warn("admin authentication unavailable", zap.Error(err))
		}
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="sealed_chat admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *HttpServer) checkAdmin(r *http.Request) (bool, error) {
	if s.opts.Admin.PasswordHash == "" {
		return false, errAdminDisabled
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false, nil
	}
	userOK := kdf.ConstantTimeEqual([]byte(user), []byte(s.opts.Admin.User))
	passOK, err := kdf.VerifyPassword(pass, s.opts.Admin.PasswordHash)
	if err != nil {
		return false, err
	}
	return userOK && passOK, nil
}
