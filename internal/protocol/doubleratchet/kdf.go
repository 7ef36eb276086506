package doubleratchet

import "sealed_chat/internal/cryptographic/kdf"

var (
	rootInfo       = []byte("sealed_chat/ratchet/root")
	chainInfo      = []byte("sealed_chat/ratchet/chain")
	chainInputSeed = []byte{0x01}
)

// KDFRootKey derives a new RootKey and ChainKey from the old root key + DH output.
// The old root key is the HKDF salt.
func KDFRootKey(rootKey, dhOut []byte) (newRootKey, newChainKey []byte, err error) {
	out, err := kdf.DeriveKey(dhOut, rootKey, rootInfo, 64)
	if err != nil {
		return nil, nil, err
	}
	return out[:32], out[32:], nil
}

// KDFChainKey derives the next ChainKey and a MessageKey.
func KDFChainKey(chainKey []byte) (nextChainKey, msgKey []byte, err error) {
	out, err := kdf.DeriveKey(chainInputSeed, chainKey, chainInfo, 64)
	if err != nil {
		return nil, nil, err
	}
	return out[:32], out[32:], nil
}
