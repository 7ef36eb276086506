package signature

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	AlgorithmRSA2048 = "RSA-2048"
	AlgorithmEd25519 = "Ed25519"

	rsaBits = 2048
)

var ErrUnsupportedKey = errors.New("signature: unsupported key type")

type (
	// Signer produces certificate signatures with a server-held private key.
	Signer interface {
		Sign(message []byte) ([]byte, error)
		Public() crypto.PublicKey
		Algorithm() string
		MarshalPrivateKeyPEM() ([]byte, error)
	}

	RSASigner struct {
		key *rsa.PrivateKey
	}

	Ed25519Signer struct {
		key ed25519.PrivateKey
	}
)

func NewRSASigner() (*RSASigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("rsa.GenerateKey: %w", err)
	}
	return &RSASigner{key: key}, nil
}

// Sign computes RSASSA-PKCS1-v1_5 over SHA-256(message).
func (s *RSASigner) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
}

func (s *RSASigner) Public() crypto.PublicKey { return &s.key.PublicKey }

func (s *RSASigner) Algorithm() string { return AlgorithmRSA2048 }

func (s *RSASigner) MarshalPrivateKeyPEM() ([]byte, error) {
	return marshalPrivateKeyPEM(s.key)
}

func NewEd25519Signer() (*Ed25519Signer, error) {
	_, priv, err := NewEd25519Keypair()
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{key: priv}, nil
}

func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ED25519Sign(s.key, message), nil
}

func (s *Ed25519Signer) Public() crypto.PublicKey { return s.key.Public() }

func (s *Ed25519Signer) Algorithm() string { return AlgorithmEd25519 }

func (s *Ed25519Signer) MarshalPrivateKeyPEM() ([]byte, error) {
	return marshalPrivateKeyPEM(s.key)
}

// NewSigner generates a fresh key for algorithm.
func NewSigner(algorithm string) (Signer, error) {
	switch algorithm {
	case AlgorithmRSA2048:
		return NewRSASigner()
	case AlgorithmEd25519:
		return NewEd25519Signer()
	default:
		return nil, fmt.Errorf("signature: unknown algorithm %q", algorithm)
	}
}

// Verify checks sig over message with pub. It never panics and reports any
// malformed input as false.
func Verify(pub crypto.PublicKey, message, sig []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	switch key := pub.(type) {
	case *rsa.PublicKey:
		if key == nil {
			return false
		}
		digest := sha256.Sum256(message)
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil
	case ed25519.PublicKey:
		if len(key) != ed25519.PublicKeySize {
			return false
		}
		return ED25519Verify(key, message, sig)
	default:
		return false
	}
}

func AlgorithmOf(pub crypto.PublicKey) (string, error) {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA-%d", key.N.BitLen()), nil
	case ed25519.PublicKey:
		return AlgorithmEd25519, nil
	default:
		return "", ErrUnsupportedKey
	}
}

func marshalPrivateKeyPEM(key any) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("x509.MarshalPKCS8PrivateKey: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM restores a Signer persisted with MarshalPrivateKeyPEM.
func ParsePrivateKeyPEM(data []byte) (Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.New("signature: no PRIVATE KEY block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("x509.ParsePKCS8PrivateKey: %w", err)
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		if k.N.BitLen() < rsaBits {
			return nil, fmt.Errorf("signature: rsa key too small (%d bits)", k.N.BitLen())
		}
		return &RSASigner{key: k}, nil
	case ed25519.PrivateKey:
		return &Ed25519Signer{key: k}, nil
	default:
		return nil, ErrUnsupportedKey
	}
}

func MarshalPublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("x509.MarshalPKIXPublicKey: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func ParsePublicKeyPEM(data string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("signature: no PUBLIC KEY block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("x509.ParsePKIXPublicKey: %w", err)
	}
	if _, err := AlgorithmOf(pub); err != nil {
		return nil, err
	}
	return pub, nil
}
