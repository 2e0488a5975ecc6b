package sqlite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
)

// sealer encrypts secrets with AES-256-GCM. The account name is bound as
// additional authenticated data, so a ciphertext copied onto another row fails
// to open.
type sealer struct {
	keys driven.KeyProvider
}

func (s sealer) aead() (cipher.AEAD, error) {
	key, err := s.keys.Key()
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %v: %w", err, driven.ErrKeyUnavailable)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

// seal returns base64(nonce || ciphertext || tag).
func (s sealer) seal(name, plaintext string) (string, error) {
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(name))
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// open authenticates and decrypts a value produced by seal. Any failure other
// than a missing key is reported as driven.ErrDecryptionFailed.
func (s sealer) open(name, encoded string) (string, error) {
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %v: %w", err, driven.ErrDecryptionFailed)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize+gcm.Overhead() {
		return "", fmt.Errorf("ciphertext too short: %w", driven.ErrDecryptionFailed)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %v: %w", err, driven.ErrDecryptionFailed)
	}

	return string(plaintext), nil
}
