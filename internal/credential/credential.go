// Package credential encrypts provider API keys before they reach the
// configuration table. Keys are AES-256-GCM sealed under a machine-derived
// key, or an explicit one supplied through the environment.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// EncryptedPrefix marks values as encrypted in storage.
const EncryptedPrefix = "enc:v1:"

const salt = "recall-credential-manager-v1"

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid encrypted format")
)

// Manager seals and opens secrets.
type Manager struct {
	gcm cipher.AEAD
}

// NewManager derives the key from machine identifiers, so values only open
// on the machine and account that sealed them.
func NewManager() (*Manager, error) {
	return NewManagerWithKey(machineKey())
}

// NewManagerWithKey uses the given passphrase or key material instead.
func NewManagerWithKey(material []byte) (*Manager, error) {
	if len(material) == 0 {
		return nil, errors.New("key material is empty")
	}
	key := sha256.Sum256(append([]byte(salt), material...))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Manager{gcm: gcm}, nil
}

// Encrypt returns a storable sealed form of plaintext. Empty stays empty.
func (m *Manager) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, m.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := m.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed value. Values without the prefix are returned as-is.
func (m *Manager) Decrypt(stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidFormat, err)
	}

	nonceSize := m.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrInvalidFormat
	}

	plaintext, err := m.gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted checks if a value is already encrypted.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// IsSecretKey reports whether a configuration key names a secret.
func IsSecretKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), "api_key")
}

func machineKey() []byte {
	var entropy strings.Builder

	hostname, _ := os.Hostname()
	entropy.WriteString(hostname)
	home, _ := os.UserHomeDir()
	entropy.WriteString(home)
	entropy.WriteString(runtime.GOOS)
	entropy.WriteString(runtime.GOARCH)

	if uid := os.Getuid(); uid != -1 {
		fmt.Fprintf(&entropy, "uid:%d", uid)
	}
	if username := os.Getenv("USER"); username != "" {
		entropy.WriteString(username)
	}
	return []byte(entropy.String())
}

// MaskSecret returns a masked version of a secret for display purposes.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// KV is the configuration table.
type KV interface {
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)
}

// Vault stores configuration values, sealing the secret ones.
type Vault struct {
	kv  KV
	mgr *Manager
}

func NewVault(kv KV, mgr *Manager) *Vault {
	return &Vault{kv: kv, mgr: mgr}
}

func (v *Vault) Set(key, value string) error {
	if IsSecretKey(key) && !IsEncrypted(value) {
		sealed, err := v.mgr.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		value = sealed
	}
	return v.kv.SetConfig(key, value)
}

// Get returns the plaintext value of key, "" when unset.
func (v *Vault) Get(key string) (string, error) {
	stored, err := v.kv.GetConfig(key)
	if err != nil {
		return "", err
	}
	plain, err := v.mgr.Decrypt(stored)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", key, err)
	}
	return plain, nil
}

// Display returns the value of key fit for printing: secrets are masked.
func (v *Vault) Display(key string) (string, error) {
	plain, err := v.Get(key)
	if err != nil || plain == "" || !IsSecretKey(key) {
		return plain, err
	}
	return MaskSecret(plain), nil
}
