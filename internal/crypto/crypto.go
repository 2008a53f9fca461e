// Package crypto holds the engine's small cryptographic helpers: AES-GCM
// sealing of per-deal escrow secrets and pseudonymous party aliases.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	gonanoid "github.com/jaevor/go-nanoid"
)

// Seal encrypts plaintext with AES-256-GCM. The nonce is prepended to the
// returned ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("escrow key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a ciphertext produced by Seal.
func Open(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("escrow key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// NewAlias returns a short pseudonym like "adv-x8fk2p91". Generated once per
// deal and kept on the receipt after purge instead of the real party IDs.
func NewAlias(prefix string) string {
	gen, err := gonanoid.CustomASCII("0123456789abcdefghijklmnopqrstuvwxyz", 8)
	if err != nil {
		// alphabet and length are constants, CustomASCII cannot fail on them
		panic(err)
	}
	return prefix + "-" + gen()
}
