package model

import "fmt"

// MessageType tags an opaque session payload. Values follow the Signal
// ciphertext type numbering.
type MessageType uint8

const (
	MessageTypeNormal MessageType = 1
	MessageTypePreKey MessageType = 3
)

func (t MessageType) Valid() bool {
	return t == MessageTypeNormal || t == MessageTypePreKey
}

func (t MessageType) String() string {
	switch t {
	case MessageTypeNormal:
		return "normal"
	case MessageTypePreKey:
		return "prekey"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

type (
	// Header is the message header carried along with each ciphertext.
	Header struct {
		Pub    [32]byte // sender's current ratchet public key
		MsgNum uint32   // message number in the sending chain
		Prev   uint32   // previous sending chain length (PN)
	}

	// SessionMessage is the output of the per-session cipher. Body is opaque
	// to the sealed sender layer.
	SessionMessage struct {
		Type MessageType
		Body []byte
	}

	// Message is what the relay stores and forwards. Sealed messages carry
	// neither From nor Type; the relay only learns the recipient.
	Message struct {
		From        string      `json:"from,omitempty"`
		To          string      `json:"to" validate:"required"`
		Sealed      bool        `json:"sealed"`
		MessageType MessageType `json:"message_type,omitempty"`
		Ciphertext  []byte      `json:"ciphertext" validate:"required"`
	}
)
