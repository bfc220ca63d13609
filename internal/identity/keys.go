package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const defaultKeyBits = 3072

// KeyManager persists the token signing key. The key is created on first
// start and reloaded on subsequent starts so issued tokens survive restarts.
type KeyManager struct {
	path string
	bits int
	key  *rsa.PrivateKey
}

// NewKeyManager returns a KeyManager storing the PEM key at path. bits <= 0
// selects the default key size.
func NewKeyManager(path string, bits int) *KeyManager {
	if bits <= 0 {
		bits = defaultKeyBits
	}
	return &KeyManager{path: path, bits: bits}
}

// LoadOrCreate loads the key from disk if present; generates and saves one otherwise.
func (m *KeyManager) LoadOrCreate() (*rsa.PrivateKey, error) {
	err := m.Load()
	if err == nil {
		return m.key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := m.Create(); err != nil {
		return nil, err
	}
	return m.key, nil
}

// Load reads an existing PKCS#1 PEM key.
func (m *KeyManager) Load() error {
	keyPEM, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return fmt.Errorf("signing key %s: no RSA PRIVATE KEY block", m.path)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse signing key: %w", err)
	}
	m.key = key
	return nil
}

// Create generates a new key and writes it with owner-only permissions.
func (m *KeyManager) Create() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	key, err := rsa.GenerateKey(rand.Reader, m.bits)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(m.path, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}
	m.key = key
	return nil
}

// Key returns the loaded key, nil before Load/Create.
func (m *KeyManager) Key() *rsa.PrivateKey { return m.key }
