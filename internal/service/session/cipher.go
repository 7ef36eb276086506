package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"sealed_chat/internal/cryptographic/dh"
	"sealed_chat/internal/model"
	"sealed_chat/internal/protocol/doubleratchet"
	"sealed_chat/internal/protocol/x3dh"
	"sealed_chat/internal/utils/log"

	"go.uber.org/zap"
)

var (
	ErrNoSession        = errors.New("session: no session with peer")
	ErrIdentityMismatch = errors.New("session: handshake identity key does not match directory")
)

type (
	KeyDirectory interface {
		GetSharedKeys(ctx context.Context, name string) (*model.SharedKey, error)
	}

	// Cipher is the per-session encryption used under the sealed sender
	// layer: X3DH to agree on a root key, then a double ratchet per peer.
	// Ratchet steps are serialized per Cipher.
	Cipher struct {
		user  *model.User
		ikPub []byte

		keys  KeyDirectory
		store StateStore

		mu       sync.Mutex
		sessions map[string]*Session
	}
)

func NewCipher(user *model.User, keys KeyDirectory, store StateStore) (*Cipher, error) {
	if user == nil || keys == nil || store == nil {
		return nil, errors.New("session: user, key directory and store are required")
	}
	ikPub, err := dh.PublicKey(user.IKPriv)
	if err != nil {
		return nil, fmt.Errorf("session: identity key: %w", err)
	}
	return &Cipher{
		user:     user,
		ikPub:    ikPub,
		keys:     keys,
		store:    store,
		sessions: make(map[string]*Session),
	}, nil
}

func (c *Cipher) IdentityPublicKey() []byte {
	return append([]byte(nil), c.ikPub...)
}

// load returns the cached or persisted session, or nil.
func (c *Cipher) load(ctx context.Context, peer string) (*Session, error) {
	if s, ok := c.sessions[peer]; ok {
		return s, nil
	}
	s, err := c.store.Load(ctx, c.user.Name, peer)
	if err != nil {
		return nil, fmt.Errorf("load session with %s: %w", peer, err)
	}
	if s == nil || s.State == nil {
		return nil, nil
	}
	if s.State.Skipped == nil {
		s.State.Skipped = make(map[string][]byte)
	}
	c.sessions[peer] = s
	return s, nil
}

func (c *Cipher) commit(ctx context.Context, peer string, s *Session) error {
	c.sessions[peer] = s
	if err := c.store.Save(ctx, c.user.Name, peer, s); err != nil {
		return fmt.Errorf("save session with %s: %w", peer, err)
	}
	return nil
}

func (c *Cipher) initiate(ctx context.Context, peer string) (*Session, error) {
	keys, err := c.keys.GetSharedKeys(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("fetch keys of %s: %w", peer, err)
	}
	if len(keys.SPKPub) != dh.KeySize {
		return nil, fmt.Errorf("fetch keys of %s: signed prekey length %d", peer, len(keys.SPKPub))
	}

	ekPriv, ekPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}

	send := &x3dh.X3DHSender{}
	sk, err := send.GenerateShareKey(&model.SenderKeyBundle{
		IKPrivA: c.user.IKPriv,
		EKPrivA: ekPriv[:],
		IKPubB:  keys.IKPub,
		SPKPubB: keys.SPKPub,
	})
	if err != nil {
		return nil, err
	}

	log.Debug("initiated session", zap.String("peer", peer))
	return &Session{
		State: doubleratchet.NewState(sk, [32]byte{}, [32]byte{}, [32]byte(keys.SPKPub)),
		Handshake: &model.X3DHHandshake{
			IKPub: c.IdentityPublicKey(),
			EKPub: ekPub[:],
		},
	}, nil
}

func (c *Cipher) respond(ctx context.Context, peer string, hs *model.X3DHHandshake) (*Session, error) {
	keys, err := c.keys.GetSharedKeys(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("fetch keys of %s: %w", peer, err)
	}
	if !bytes.Equal(keys.IKPub, hs.IKPub) {
		return nil, ErrIdentityMismatch
	}

	recv := &x3dh.X3DHReceiver{}
	sk, err := recv.GenerateShareKey(&model.ReceiverKeyBundle{
		IKPubA:   keys.IKPub,
		EKPubA:   hs.EKPub,
		IKPrivB:  c.user.IKPriv,
		SPKPrivB: c.user.SPKPriv,
	})
	if err != nil {
		return nil, err
	}

	spkPub, err := dh.PublicKey(c.user.SPKPriv)
	if err != nil {
		return nil, err
	}

	log.Debug("accepted session", zap.String("peer", peer))
	return &Session{
		State:    doubleratchet.NewState(sk, [32]byte(c.user.SPKPriv), [32]byte(spkPub), [32]byte{}),
		RemoteEK: append([]byte(nil), hs.EKPub...),
	}, nil
}

// EncryptSessionMessage advances the sending chain for recipientID. The
// message is PreKey typed until the recipient has answered.
func (c *Cipher) EncryptSessionMessage(ctx context.Context, recipientID string, plaintext []byte) (model.SessionMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.load(ctx, recipientID)
	if err != nil {
		return model.SessionMessage{}, err
	}
	if s == nil {
		if s, err = c.initiate(ctx, recipientID); err != nil {
			return model.SessionMessage{}, err
		}
	}

	next := &Session{State: s.State.Clone(), Handshake: s.Handshake, RemoteEK: s.RemoteEK}
	hdr, ct, err := next.State.Send(plaintext)
	if err != nil {
		return model.SessionMessage{}, fmt.Errorf("ratchet send to %s: %w", recipientID, err)
	}

	t := model.MessageTypeNormal
	if next.Handshake != nil {
		t = model.MessageTypePreKey
	}
	b := &body{handshake: next.Handshake, header: *hdr, ciphertext: ct}
	data, err := b.marshal(t)
	if err != nil {
		return model.SessionMessage{}, err
	}

	if err := c.commit(ctx, recipientID, next); err != nil {
		return model.SessionMessage{}, err
	}
	return model.SessionMessage{Type: t, Body: data}, nil
}

// DecryptSessionMessage decrypts a message from senderID. A PreKey message
// with a new ephemeral key replaces any existing session with that peer.
func (c *Cipher) DecryptSessionMessage(ctx context.Context, senderID string, data []byte, messageType model.MessageType) ([]byte, error) {
	b, err := unmarshalBody(data, messageType)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.load(ctx, senderID)
	if err != nil {
		return nil, err
	}

	if b.handshake != nil && (s == nil || !bytes.Equal(s.RemoteEK, b.handshake.EKPub)) {
		if s, err = c.respond(ctx, senderID, b.handshake); err != nil {
			return nil, err
		}
	}
	if s == nil {
		return nil, fmt.Errorf("%w %s", ErrNoSession, senderID)
	}

	next := &Session{State: s.State.Clone(), Handshake: s.Handshake, RemoteEK: s.RemoteEK}
	plain, err := next.State.Receive(b.header, b.ciphertext)
	if err != nil {
		return nil, fmt.Errorf("ratchet receive from %s: %w", senderID, err)
	}
	// the peer has a session with us now
	if b.handshake == nil {
		next.Handshake = nil
	}

	if err := c.commit(ctx, senderID, next); err != nil {
		return nil, err
	}
	return plain, nil
}
