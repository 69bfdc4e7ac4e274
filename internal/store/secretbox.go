package store

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

// secretBox seals credential values with XChaCha20-Poly1305 so tokens are
// never written to disk in the clear. The ciphertext layout is
// nonce || sealed.
type secretBox struct {
	key []byte
}

func newSecretBox() (*secretBox, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &secretBox{key: key}, nil
}

// loadSecretBox reads the key at path, creating it with 0600 permissions on
// first use.
func loadSecretBox(path string) (*secretBox, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("key file %s: want %d bytes, got %d", path, chacha20poly1305.KeySize, len(key))
		}
		return &secretBox{key: key}, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	box, err := newSecretBox()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, box.key, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return box, nil
}

func (b *secretBox) seal(plaintext string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (b *secretBox) open(sealed []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("sealed value too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plaintext), nil
}
