package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var ErrOpen = errors.New("aead: message authentication failed")

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// AES-GCM helper. key must be 16/24/32 bytes. We produce keys of 32 bytes from KDF.
func AEADEncrypt(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)
	// return nonce || ciphertext
	return append(nonce, ciphertext...), nil
}

func AEADDecrypt(key, nonceAndCiphertext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ns := aead.NonceSize()
	if len(nonceAndCiphertext) < ns {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := nonceAndCiphertext[:ns]
	ct := nonceAndCiphertext[ns:]
	plain, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("aead.Open: %w", err)
	}
	return plain, nil
}

// SealDetached encrypts with AES-256-GCM under a fresh 96-bit nonce and
// returns nonce||ciphertext with the 128-bit tag split off.
func SealDetached(key, plaintext, aad []byte) (nonceAndCiphertext, tag []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	out = aead.Seal(out, out[:NonceSize], plaintext, aad)

	split := len(out) - TagSize
	tag = make([]byte, TagSize)
	copy(tag, out[split:])
	return out[:split], tag, nil
}

// OpenDetached reverses SealDetached. Every failure after the length checks
// is reported as ErrOpen.
func OpenDetached(key, nonceAndCiphertext, tag, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("aead: tag must be %d bytes, got %d", TagSize, len(tag))
	}
	if len(nonceAndCiphertext) < NonceSize {
		return nil, fmt.Errorf("aead: ciphertext shorter than nonce")
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := nonceAndCiphertext[:NonceSize]
	sealed := make([]byte, 0, len(nonceAndCiphertext)-NonceSize+TagSize)
	sealed = append(sealed, nonceAndCiphertext[NonceSize:]...)
	sealed = append(sealed, tag...)

	plain, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}
