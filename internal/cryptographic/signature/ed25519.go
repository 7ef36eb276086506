package signature

import (
	"crypto/ed25519"
	"crypto/rand"
)

func NewEd25519Keypair() ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func ED25519Sign(privKeyBytes []byte, message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(privKeyBytes), message)
}

// ED25519Verify returns false for keys of the wrong size instead of panicking.
func ED25519Verify(pubKeyBytes []byte, message []byte, signature []byte) bool {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), message, signature)
}
