package vaultx

import "github.com/Abraxas-365/inboxcore/pkg/errx"

var vaultxErrors = errx.NewRegistry("VAULTX")

var (
	ErrKeyNotConfigured = vaultxErrors.Register("KEY_NOT_CONFIGURED", errx.TypeInternal, 500, "vault key not configured")
	ErrInvalidKeySize   = vaultxErrors.Register("INVALID_KEY_SIZE", errx.TypeInternal, 500, "vault key must be 32 bytes")
	ErrCiphertextShort  = vaultxErrors.Register("CIPHERTEXT_SHORT", errx.TypeInternal, 500, "ciphertext shorter than nonce+tag")
	ErrDecryptFailed    = vaultxErrors.Register("DECRYPT_FAILED", errx.TypeInternal, 500, "decryption failed: ciphertext corruption or wrong key")
	ErrEncryptFailed    = vaultxErrors.Register("ENCRYPT_FAILED", errx.TypeInternal, 500, "encryption failed")
)
