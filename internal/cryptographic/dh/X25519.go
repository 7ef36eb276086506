package dh

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const KeySize = curve25519.PointSize

// Generate a new X25519 key pair
func NewX25519KeyPair() (priv, pub [32]byte, err error) {
	_, err = rand.Read(priv[:])
	if err != nil {
		return priv, pub, fmt.Errorf("failed to generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// Perform X25519 scalar multiplication: priv * pub.
// Low-order points yield an error instead of an all-zero secret.
func X25519SharedSecret(priv, pub [32]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}

// SharedSecret is X25519SharedSecret for slices of unchecked length.
func SharedSecret(priv, pub []byte) ([]byte, error) {
	if len(priv) != KeySize || len(pub) != KeySize {
		return nil, fmt.Errorf("x25519: invalid key length priv=%d pub=%d", len(priv), len(pub))
	}
	return curve25519.X25519(priv, pub)
}

func PublicKey(priv []byte) ([]byte, error) {
	key, err := ConvertToECDHFormat(priv)
	if err != nil {
		return nil, err
	}
	return key.PublicKey().Bytes(), nil
}

func ConvertToECDHFormat(privKey []byte) (*ecdh.PrivateKey, error) {
	curve := ecdh.X25519()
	return curve.NewPrivateKey(privKey)
}
