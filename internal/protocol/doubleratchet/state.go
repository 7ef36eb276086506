package doubleratchet

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"sealed_chat/internal/cryptographic/dh"
	"sealed_chat/internal/cryptographic/encryption"
	"sealed_chat/internal/model"
)

const (
	MaxSkip = 1000

	HeaderSize = 32 + 4 + 4
)

var ErrNoRemoteKey = errors.New("remote public key (DHr) not set; cannot ratchet")

func headerToAAD(h model.Header) []byte {
	b := make([]byte, HeaderSize)
	copy(b[:32], h.Pub[:])
	binary.BigEndian.PutUint32(b[32:36], h.MsgNum)
	binary.BigEndian.PutUint32(b[36:40], h.Prev)
	return b
}

func skippedKey(pub [32]byte, msgNum uint32) string {
	return hex.EncodeToString(pub[:]) + ":" + fmt.Sprint(msgNum)
}

type RatchetState struct {
	RootKey []byte

	// Our current DH (private/public) used for sending ratchets
	DHsPriv [32]byte
	DHsPub  [32]byte

	// Remote party's current DH public key
	DHr [32]byte

	// Chain keys and counters
	SendingChainKey   []byte // CKs
	ReceivingChainKey []byte // CKr
	Ns                uint32 // messages sent in current sending chain
	Nr                uint32 // messages received in current receiving chain
	PN                uint32 // previous sending chain length

	// Skipped message keys: key => messageKey
	Skipped map[string][]byte
}

func NewState(rootKey []byte, ourPriv, ourPub, theirPub [32]byte) *RatchetState {
	st := &RatchetState{
		RootKey: rootKey,
		DHsPriv: ourPriv,
		DHsPub:  ourPub,
		DHr:     theirPub,
		Skipped: make(map[string][]byte),
	}
	return st
}

func (s *RatchetState) SetDHr(dhr [32]byte) {
	s.DHr = dhr
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Clone returns a deep copy. Receive runs on a copy so that a message which
// fails authentication leaves the committed state untouched.
func (s *RatchetState) Clone() *RatchetState {
	c := *s
	c.RootKey = cloneBytes(s.RootKey)
	c.SendingChainKey = cloneBytes(s.SendingChainKey)
	c.ReceivingChainKey = cloneBytes(s.ReceivingChainKey)
	c.Skipped = make(map[string][]byte, len(s.Skipped))
	for k, v := range s.Skipped {
		c.Skipped[k] = cloneBytes(v)
	}
	return &c
}

// InitiateSendingRatchet generates a new DH key for this party and derives a
// sending chain key (CKs). Call this before sending the first message of a
// new sending chain.
func (s *RatchetState) InitiateSendingRatchet() error {
	if bytes.Equal(s.DHr[:], make([]byte, 32)) {
		return ErrNoRemoteKey
	}

	newPriv, newPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return err
	}

	shared, err := dh.X25519SharedSecret(newPriv, s.DHr)
	if err != nil {
		return fmt.Errorf("X25519 during InitiateSendingRatchet: %w", err)
	}

	s.RootKey, s.SendingChainKey, err = KDFRootKey(s.RootKey, shared)
	if err != nil {
		return fmt.Errorf("InitiateSendingRatchet: %w", err)
	}

	s.DHsPriv = newPriv
	s.DHsPub = newPub
	s.Ns = 0
	return nil
}

// saveSkippedMessages stores message keys for indices [Nr, until) of the
// receiving chain that belongs to oldTheirPub.
func (s *RatchetState) saveSkippedMessages(oldTheirPub [32]byte, until uint32) error {
	if s.ReceivingChainKey == nil {
		return errors.New("no receiving chain key when saving skipped messages")
	}
	if until <= s.Nr {
		return nil
	}

	toGenerate := int(until - s.Nr)
	if toGenerate > MaxSkip {
		return fmt.Errorf("skip limit exceeded: attempting to generate %d keys (max %d)", toGenerate, MaxSkip)
	}
	if len(s.Skipped)+toGenerate > MaxSkip {
		return fmt.Errorf("skip map would exceed limit: have=%d need=%d max=%d", len(s.Skipped), toGenerate, MaxSkip)
	}

	for ; toGenerate > 0; toGenerate-- {
		var msgKey []byte
		var err error
		s.ReceivingChainKey, msgKey, err = KDFChainKey(s.ReceivingChainKey)
		if err != nil {
			return err
		}
		s.Skipped[skippedKey(oldTheirPub, s.Nr)] = cloneBytes(msgKey)
		s.Nr++
	}
	return nil
}

// Send produces a header and ciphertext for the plaintext message.
// It will produce a new sending chain (ratchet) if SendingChainKey is nil.
func (s *RatchetState) Send(plaintext []byte) (*model.Header, []byte, error) {
	if s.SendingChainKey == nil {
		if err := s.InitiateSendingRatchet(); err != nil {
			return nil, nil, err
		}
	}

	msgNum := s.Ns
	var msgKey []byte
	var err error
	s.SendingChainKey, msgKey, err = KDFChainKey(s.SendingChainKey)
	if err != nil {
		return nil, nil, err
	}
	s.Ns++

	hdr := &model.Header{
		Pub:    s.DHsPub,
		MsgNum: msgNum,
		Prev:   s.PN,
	}
	ct, err := encryption.AEADEncrypt(msgKey, plaintext, headerToAAD(*hdr))
	if err != nil {
		return nil, nil, err
	}
	return hdr, ct, nil
}

// Receive consumes a header and ciphertext and returns the plaintext. The
// state only advances when the message authenticates.
func (s *RatchetState) Receive(h model.Header, ciphertext []byte) ([]byte, error) {
	next := s.Clone()
	plain, err := next.receive(h, ciphertext)
	if err != nil {
		return nil, err
	}
	*s = *next
	return plain, nil
}

func (s *RatchetState) receive(h model.Header, ciphertext []byte) ([]byte, error) {
	key := skippedKey(h.Pub, h.MsgNum)
	if mk, ok := s.Skipped[key]; ok {
		delete(s.Skipped, key)
		return encryption.AEADDecrypt(mk, ciphertext, headerToAAD(h))
	}

	// a new remote ratchet key starts a new receiving chain
	if !bytes.Equal(h.Pub[:], s.DHr[:]) {
		if s.ReceivingChainKey != nil && h.Prev > s.Nr {
			if err := s.saveSkippedMessages(s.DHr, h.Prev); err != nil {
				return nil, err
			}
		}

		s.PN = s.Ns
		s.Ns = 0
		s.Nr = 0

		shared, err := dh.X25519SharedSecret(s.DHsPriv, h.Pub)
		if err != nil {
			return nil, fmt.Errorf("X25519 during receive ratchet: %w", err)
		}

		s.RootKey, s.ReceivingChainKey, err = KDFRootKey(s.RootKey, shared)
		if err != nil {
			return nil, err
		}
		s.DHr = h.Pub
		// our next message answers with a fresh ratchet key
		s.SendingChainKey = nil
	}

	if h.MsgNum > s.Nr {
		if err := s.saveSkippedMessages(s.DHr, h.MsgNum); err != nil {
			return nil, err
		}
	}

	if s.ReceivingChainKey == nil {
		return nil, errors.New("no receiving chain key to derive message key")
	}
	var msgKey []byte
	var err error
	s.ReceivingChainKey, msgKey, err = KDFChainKey(s.ReceivingChainKey)
	if err != nil {
		return nil, err
	}
	s.Nr++

	return encryption.AEADDecrypt(msgKey, ciphertext, headerToAAD(h))
}
