package kdf

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF fills buffer with HKDF-SHA256 output.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// DeriveSessionKey derives the 32-byte session key for one conversation at
// one rotation epoch. The info string binds both, so a key derived for one
// conversation or epoch is never valid in another.
func DeriveSessionKey(sharedSecret []byte, conversationID string, keyIndex uint32) ([]byte, error) {
	info := []byte(fmt.Sprintf("veilchat/session:%s:%d", conversationID, keyIndex))
	key := make([]byte, 32)
	if _, err := HKDF(sharedSecret, nil, info, key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}
