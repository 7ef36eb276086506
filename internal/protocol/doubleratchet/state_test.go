package doubleratchet

import (
	"bytes"
	"testing"

	"sealed_chat/internal/cryptographic/dh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) (alice, bob *RatchetState) {
	t.Helper()
	sk := bytes.Repeat([]byte{0x07}, 32)
	spkPriv, spkPub, err := dh.NewX25519KeyPair()
	require.NoError(t, err)

	alice = NewState(append([]byte(nil), sk...), [32]byte{}, [32]byte{}, spkPub)
	bob = NewState(append([]byte(nil), sk...), spkPriv, spkPub, [32]byte{})
	return alice, bob
}

func TestRatchet_Conversation(t *testing.T) {
	alice, bob := newPair(t)

	h1, c1, err := alice.Send([]byte("one"))
	require.NoError(t, err)
	h2, c2, err := alice.Send([]byte("two"))
	require.NoError(t, err)
	assert.Equal(t, h1.Pub, h2.Pub)

	// out of order
	p2, err := bob.Receive(*h2, c2)
	require.NoError(t, err)
	assert.Equal(t, "two", string(p2))
	p1, err := bob.Receive(*h1, c1)
	require.NoError(t, err)
	assert.Equal(t, "one", string(p1))

	hr, cr, err := bob.Send([]byte("reply"))
	require.NoError(t, err)
	pr, err := alice.Receive(*hr, cr)
	require.NoError(t, err)
	assert.Equal(t, "reply", string(pr))

	h3, c3, err := alice.Send([]byte("three"))
	require.NoError(t, err)
	assert.NotEqual(t, h1.Pub, h3.Pub, "alice ratchets after hearing from bob")
	assert.EqualValues(t, 2, h3.Prev)
	p3, err := bob.Receive(*h3, c3)
	require.NoError(t, err)
	assert.Equal(t, "three", string(p3))
}

func TestRatchet_ResponderCannotSendFirst(t *testing.T) {
	_, bob := newPair(t)
	_, _, err := bob.Send([]byte("hi"))
	assert.ErrorIs(t, err, ErrNoRemoteKey)
}

func TestRatchet_FailedReceiveKeepsState(t *testing.T) {
	alice, bob := newPair(t)

	h, c, err := alice.Send([]byte("hello"))
	require.NoError(t, err)

	tampered := append([]byte(nil), c...)
	tampered[len(tampered)-1] ^= 0x01
	before := bob.Clone()
	_, err = bob.Receive(*h, tampered)
	require.Error(t, err)
	assert.Equal(t, before, bob)

	p, err := bob.Receive(*h, c)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(p))

	// replay
	_, err = bob.Receive(*h, c)
	assert.Error(t, err)
}

func TestRatchet_SkipLimit(t *testing.T) {
	alice, bob := newPair(t)

	h, c, err := alice.Send([]byte("x"))
	require.NoError(t, err)
	_, err = bob.Receive(*h, c)
	require.NoError(t, err)

	far := *h
	far.MsgNum = MaxSkip + 5
	_, err = bob.Receive(far, c)
	assert.Error(t, err)
}

func TestRatchet_Clone(t *testing.T) {
	alice, _ := newPair(t)
	_, _, err := alice.Send([]byte("x"))
	require.NoError(t, err)

	c := alice.Clone()
	c.SendingChainKey[0] ^= 0xff
	c.Skipped["k"] = []byte{1}
	assert.NotEqual(t, c.SendingChainKey, alice.SendingChainKey)
	assert.Empty(t, alice.Skipped)
}
