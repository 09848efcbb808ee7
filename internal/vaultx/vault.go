// Package vaultx implements the Secret Vault: authenticated symmetric
// encryption of secrets at rest, with a keyring of named, per-purpose
// AES-256 keys. Ciphertext is self-describing AES-256-GCM:
// nonce(12) || ciphertext || tag(16).
package vaultx

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/Abraxas-365/inboxcore/pkg/errx"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// Vault holds a keyring of named AES-256 keys, loaded once at process start.
// Keys are never rotated in place; adding a new purpose requires a new
// named key and a new New (or NewFromMaster) call.
type Vault struct {
	keys map[string][]byte
}

// New builds a Vault from a map of keyName -> base64-encoded 32-byte key.
// Returns an error if any key fails to decode or is not exactly 32 bytes —
// callers MUST treat this as fatal at startup, never at request time.
func New(keysB64 map[string]string) (*Vault, error) {
	keys := make(map[string][]byte, len(keysB64))
	for name, b64 := range keysB64 {
		if b64 == "" {
			return nil, vaultxErrors.New(ErrKeyNotConfigured).WithDetail("key", name)
		}
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, errx.Wrap(err, "decoding vault key "+name, errx.TypeInternal)
		}
		if len(raw) != keySize {
			return nil, vaultxErrors.New(ErrInvalidKeySize).WithDetail("key", name).WithDetail("size", len(raw))
		}
		keys[name] = raw
	}
	return &Vault{keys: keys}, nil
}

// NewFromMaster derives the per-purpose keyring from a single
// base64-encoded master secret using HKDF-SHA256, with each purpose name
// as the HKDF info string. Deployments can then rotate one secret instead
// of one per purpose; the derived keys never leave this process.
func NewFromMaster(masterB64 string, purposes ...string) (*Vault, error) {
	if masterB64 == "" {
		return nil, vaultxErrors.New(ErrKeyNotConfigured).WithDetail("key", "master")
	}
	master, err := base64.StdEncoding.DecodeString(masterB64)
	if err != nil {
		return nil, errx.Wrap(err, "decoding vault master key", errx.TypeInternal)
	}

	keys := make(map[string][]byte, len(purposes))
	for _, purpose := range purposes {
		key := make([]byte, keySize)
		r := hkdf.New(sha256.New, master, nil, []byte(purpose))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, errx.Wrap(err, "deriving vault key "+purpose, errx.TypeInternal)
		}
		keys[purpose] = key
	}
	return &Vault{keys: keys}, nil
}

// Encrypt produces nonce || ciphertext || tag for plaintext under keyName.
func (v *Vault) Encrypt(keyName string, plaintext []byte) ([]byte, error) {
	key, ok := v.keys[keyName]
	if !ok {
		return nil, vaultxErrors.New(ErrKeyNotConfigured).WithDetail("key", keyName)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, vaultxErrors.NewWithCause(ErrEncryptFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, vaultxErrors.NewWithCause(ErrEncryptFailed, err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, vaultxErrors.NewWithCause(ErrEncryptFailed, err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt recovers the plaintext from a ciphertext produced by Encrypt under
// the same keyName. An unknown keyName surfaces as ErrKeyNotConfigured and
// a ciphertext shorter than nonce+tag as ErrCiphertextShort; any other
// failure — wrong key or a failed authentication tag check — surfaces as
// ErrDecryptFailed. The Credential Store wraps all of them as its
// DecryptError kind (fatal for the affected record, never retried).
func (v *Vault) Decrypt(keyName string, ciphertext []byte) ([]byte, error) {
	key, ok := v.keys[keyName]
	if !ok {
		return nil, vaultxErrors.New(ErrKeyNotConfigured).WithDetail("key", keyName)
	}
	if len(ciphertext) < nonceSize+tagSize {
		return nil, vaultxErrors.New(ErrCiphertextShort)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, vaultxErrors.NewWithCause(ErrDecryptFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, vaultxErrors.NewWithCause(ErrDecryptFailed, err)
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, vaultxErrors.NewWithCause(ErrDecryptFailed, err)
	}
	return plaintext, nil
}
