package fallback

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"sealed_chat/internal/model"
	"sealed_chat/internal/protocol/sealedsender"
	"sealed_chat/internal/utils/log"
	"sealed_chat/internal/utils/metrics"

	"go.uber.org/zap"
)

// ErrMissingSessionContext means a non-sealed message reached Receive without
// the sender id and message type needed to decrypt it. It is a caller bug.
var ErrMissingSessionContext = errors.New("fallback: normal message requires sender id and message type")

type (
	CertificateSource interface {
		GetOrCreateCertificate(ctx context.Context, senderID string, deviceID uint32, identityKey []byte) (*model.SenderCertificate, error)
	}

	ServerKeySource interface {
		ServerPublicKey(ctx context.Context) (crypto.PublicKey, error)
	}

	KeyDirectory interface {
		GetSharedKeys(ctx context.Context, name string) (*model.SharedKey, error)
	}

	SessionCipher interface {
		EncryptSessionMessage(ctx context.Context, recipientID string, plaintext []byte) (model.SessionMessage, error)
		DecryptSessionMessage(ctx context.Context, senderID string, body []byte, messageType model.MessageType) ([]byte, error)
	}

	Config struct {
		Certificates CertificateSource
		ServerKey    ServerKeySource
		Keys         KeyDirectory
		Sealed       *sealedsender.Cipher
		Sessions     SessionCipher

		// RecipientKey returns the identity private key of a local recipient.
		RecipientKey func(ctx context.Context, recipientID string) ([]byte, error)
	}

	Service struct {
		cfg Config
	}

	SendRequest struct {
		SenderID          string
		DeviceID          uint32
		RecipientID       string
		Plaintext         []byte
		SenderIdentityKey []byte
		PreferSealed      bool
	}

	// Outgoing carries MessageType only for normal messages; a sealed
	// envelope hides it.
	Outgoing struct {
		Ciphertext  []byte
		Sealed      bool
		MessageType model.MessageType
	}

	// SessionHint is the sender context a transport knows out of band.
	SessionHint struct {
		SenderID    string
		MessageType model.MessageType
	}

	Incoming struct {
		Plaintext []byte
		SenderID  string
		DeviceID  uint32
		Sealed    bool
	}
)

func NewService(cfg Config) (*Service, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("fallback: session cipher is required")
	}
	if cfg.Sealed != nil && (cfg.Certificates == nil || cfg.Keys == nil || cfg.ServerKey == nil || cfg.RecipientKey == nil) {
		return nil, errors.New("fallback: sealed delivery needs certificates, keys, server key and recipient key")
	}
	return &Service{cfg: cfg}, nil
}

func (h *SessionHint) usable() bool {
	return h != nil && h.SenderID != "" && h.MessageType.Valid()
}

// Send encrypts once with the session cipher and, when sealed delivery is
// preferred, wraps the result in an envelope. Any failure of the sealed path
// degrades to the normal message; only a session failure is returned.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Outgoing, error) {
	payload, err := s.cfg.Sessions.EncryptSessionMessage(ctx, req.RecipientID, req.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("session encrypt to %s: %w", req.RecipientID, err)
	}

	normal := &Outgoing{
		Ciphertext:  payload.Body,
		Sealed:      false,
		MessageType: payload.Type,
	}
	if !req.PreferSealed || s.cfg.Sealed == nil {
		metrics.DeliveriesTotal.WithLabelValues("normal").Inc()
		return normal, nil
	}

	envelope, stage, err := s.seal(ctx, req, payload)
	if err != nil {
		log.Warn("sealed sender unavailable, sending normal message",
			zap.String("recipient", req.RecipientID),
			zap.String("stage", stage),
			zap.Error(err))
		metrics.DeliveriesTotal.WithLabelValues("fallback").Inc()
		return normal, nil
	}

	metrics.DeliveriesTotal.WithLabelValues("sealed").Inc()
	return &Outgoing{Ciphertext: envelope, Sealed: true}, nil
}

func (s *Service) seal(ctx context.Context, req SendRequest, payload model.SessionMessage) ([]byte, string, error) {
	cert, err := s.cfg.Certificates.GetOrCreateCertificate(ctx, req.SenderID, req.DeviceID, req.SenderIdentityKey)
	if err != nil {
		return nil, "certificate", err
	}

	keys, err := s.cfg.Keys.GetSharedKeys(ctx, req.RecipientID)
	if err != nil {
		return nil, "recipient_key", err
	}

	envelope, err := s.cfg.Sealed.Seal(req.RecipientID, keys.IKPub, cert, payload)
	if err != nil {
		return nil, "encrypt", err
	}
	return envelope, "", nil
}

// Receive picks the sealed path when the first byte is the envelope version
// and retries as a normal message only when hint carries the sender context.
func (s *Service) Receive(ctx context.Context, recipientID string, data []byte, hint *SessionHint) (*Incoming, error) {
	if s.cfg.Sealed != nil && sealedsender.IsSealed(data) {
		in, sealedErr := s.receiveSealed(ctx, recipientID, data)
		if sealedErr == nil {
			return in, nil
		}
		metrics.ReceiveFailuresTotal.WithLabelValues(failureKind(sealedErr)).Inc()
		if !hint.usable() {
			return nil, sealedErr
		}

		log.Debug("sealed decrypt failed, retrying as normal message",
			zap.String("sender", hint.SenderID), zap.Error(sealedErr))
		in, err := s.receiveNormal(ctx, data, hint)
		if err != nil {
			return nil, errors.Join(sealedErr, err)
		}
		return in, nil
	}

	if !hint.usable() {
		log.Error("normal message received without sender context", zap.String("recipient", recipientID))
		metrics.ReceiveFailuresTotal.WithLabelValues("missing_context").Inc()
		return nil, ErrMissingSessionContext
	}
	in, err := s.receiveNormal(ctx, data, hint)
	if err != nil {
		metrics.ReceiveFailuresTotal.WithLabelValues("session").Inc()
		return nil, err
	}
	return in, nil
}

// receiveSealed parses the envelope before resolving any key, so garbage
// input fails as malformed without a key lookup.
func (s *Service) receiveSealed(ctx context.Context, recipientID string, data []byte) (*Incoming, error) {
	msg, err := sealedsender.DeserializeMessage(data)
	if err != nil {
		return nil, err
	}
	priv, err := s.cfg.RecipientKey(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("identity key of %s: %w", recipientID, err)
	}
	serverKey, err := s.cfg.ServerKey.ServerPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("server public key: %w", err)
	}

	out, err := s.cfg.Sealed.Decrypt(ctx, msg, priv, serverKey)
	if err != nil {
		return nil, err
	}
	return &Incoming{
		Plaintext: out.Plaintext,
		SenderID:  out.SenderID,
		DeviceID:  out.DeviceID,
		Sealed:    true,
	}, nil
}

func (s *Service) receiveNormal(ctx context.Context, data []byte, hint *SessionHint) (*Incoming, error) {
	plain, err := s.cfg.Sessions.DecryptSessionMessage(ctx, hint.SenderID, data, hint.MessageType)
	if err != nil {
		return nil, fmt.Errorf("session decrypt from %s: %w", hint.SenderID, err)
	}
	return &Incoming{
		Plaintext: plain,
		SenderID:  hint.SenderID,
		DeviceID:  model.DefaultDeviceID,
	}, nil
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, sealedsender.ErrMalformedEnvelope):
		return "malformed"
	case errors.Is(err, sealedsender.ErrAuthenticationFailure):
		return "authentication"
	case errors.Is(err, sealedsender.ErrInvalidCertificate):
		return "certificate"
	default:
		return "session"
	}
}
