package app

import (
	"context"
	"fmt"

	"sealed_chat/internal/model"
	"sealed_chat/internal/protocol/sealedsender"
	"sealed_chat/internal/service/certificate"
	"sealed_chat/internal/service/fallback"
	"sealed_chat/internal/service/session"
)

// setUser binds the local identity and builds the ciphers on top of it.
// Certificates are checked against the server's revocation list, mirrored
// locally by c.revocations.
func (c *App) setUser(user *model.User) error {
	sessions, err := session.NewCipher(user, c.directory, c.store)
	if err != nil {
		return err
	}

	verifier := certificate.NewVerifier(c.revocations)
	messenger, err := fallback.NewService(fallback.Config{
		Certificates: c.directory,
		ServerKey:    c.directory,
		Keys:         c.directory,
		Sealed:       sealedsender.NewCipher(verifier, sessions),
		Sessions:     sessions,
		RecipientKey: c.recipientKey,
	})
	if err != nil {
		return err
	}

	c.user = user
	c.sessions = sessions
	c.messenger = messenger
	return nil
}

func (c *App) recipientKey(_ context.Context, recipientID string) ([]byte, error) {
	if recipientID != c.user.Name {
		return nil, fmt.Errorf("no identity key for %q on this device", recipientID)
	}
	return c.user.IKPriv, nil
}

// encode produces the relay message for plaintext. Sealed messages carry
// only the recipient; the sender is inside the envelope.
func (c *App) encode(ctx context.Context, to string, plaintext []byte) (*model.Message, error) {
	out, err := c.messenger.Send(ctx, fallback.SendRequest{
		SenderID:          c.user.Name,
		DeviceID:          c.opts.DeviceID,
		RecipientID:       to,
		Plaintext:         plaintext,
		SenderIdentityKey: c.sessions.IdentityPublicKey(),
		PreferSealed:      c.opts.PreferSealed,
	})
	if err != nil {
		return nil, err
	}

	m := &model.Message{
		To:         to,
		Sealed:     out.Sealed,
		Ciphertext: out.Ciphertext,
	}
	if !out.Sealed {
		m.From = c.user.Name
		m.MessageType = out.MessageType
	}
	return m, nil
}

func (c *App) decode(ctx context.Context, m *model.Message) (*fallback.Incoming, error) {
	var hint *fallback.SessionHint
	if !m.Sealed && m.From != "" {
		hint = &fallback.SessionHint{SenderID: m.From, MessageType: m.MessageType}
	}
	return c.messenger.Receive(ctx, c.user.Name, m.Ciphertext, hint)
}
