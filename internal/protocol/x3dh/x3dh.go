package x3dh

import (
	"bytes"
	"errors"
	"fmt"

	"sealed_chat/internal/cryptographic/dh"
	"sealed_chat/internal/cryptographic/kdf"
	"sealed_chat/internal/model"
)

const SharedKeySize = 32

var (
	sharedKeyInfo = []byte("sealed_chat/x3dh/shared-key")

	ErrMissingKey = errors.New("x3dh: missing key material")
)

type (
	X3DHBase struct {
	}

	X3DHSender struct {
		*X3DHBase
	}

	X3DHReceiver struct {
		*X3DHBase
	}
)

// GenerateShareKey derives SK = HKDF(F || DH1 || DH2 || DH3 [|| DH4]) with F
// set to 32 0xFF bytes and a zero salt.
func (s *X3DHBase) GenerateShareKey(dh1, dh2, dh3, dh4 []byte) ([]byte, error) {
	ikm := make([]byte, 0, 32+len(dh1)+len(dh2)+len(dh3)+len(dh4))
	ikm = append(ikm, bytes.Repeat([]byte{0xff}, 32)...)
	ikm = append(ikm, dh1...)
	ikm = append(ikm, dh2...)
	ikm = append(ikm, dh3...)
	if dh4 != nil {
		ikm = append(ikm, dh4...)
	}

	return kdf.DeriveKey(ikm, make([]byte, 32), sharedKeyInfo, SharedKeySize)
}

func agree(name string, priv, pub []byte) ([]byte, error) {
	if len(priv) == 0 || len(pub) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingKey, name)
	}
	out, err := dh.SharedSecret(priv, pub)
	if err != nil {
		return nil, fmt.Errorf("x3dh %s: %w", name, err)
	}
	return out, nil
}

func (s *X3DHSender) GenerateShareKey(skb *model.SenderKeyBundle) ([]byte, error) {
	dh1, err := agree("DH1", skb.IKPrivA, skb.SPKPubB)
	if err != nil {
		return nil, err
	}

	dh2, err := agree("DH2", skb.EKPrivA, skb.IKPubB)
	if err != nil {
		return nil, err
	}

	dh3, err := agree("DH3", skb.EKPrivA, skb.SPKPubB)
	if err != nil {
		return nil, err
	}

	var dh4 []byte
	if skb.OTKPubB != nil {
		dh4, err = agree("DH4", skb.EKPrivA, skb.OTKPubB)
		if err != nil {
			return nil, err
		}
	}

	return s.X3DHBase.GenerateShareKey(dh1, dh2, dh3, dh4)
}

func (s *X3DHReceiver) GenerateShareKey(rkb *model.ReceiverKeyBundle) ([]byte, error) {
	dh1, err := agree("DH1", rkb.SPKPrivB, rkb.IKPubA)
	if err != nil {
		return nil, err
	}

	dh2, err := agree("DH2", rkb.IKPrivB, rkb.EKPubA)
	if err != nil {
		return nil, err
	}

	dh3, err := agree("DH3", rkb.SPKPrivB, rkb.EKPubA)
	if err != nil {
		return nil, err
	}

	var dh4 []byte
	if rkb.OTKPrivB != nil {
		dh4, err = agree("DH4", rkb.OTKPrivB, rkb.EKPubA)
		if err != nil {
			return nil, err
		}
	}

	return s.X3DHBase.GenerateShareKey(dh1, dh2, dh3, dh4)
}
