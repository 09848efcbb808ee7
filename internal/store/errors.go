package store

import "github.com/Abraxas-365/inboxcore/pkg/errx"

var storeErrors = errx.NewRegistry("STORE")

var (
	ErrNotFound    = storeErrors.Register("NOT_FOUND", errx.TypeNotFound, 404, "record not found")
	ErrConflict    = storeErrors.Register("CONFLICT", errx.TypeConflict, 409, "unique constraint conflict")
	ErrQuery       = storeErrors.Register("QUERY", errx.TypeInternal, 500, "database query failed")
	ErrDecrypt     = storeErrors.Register("DECRYPT", errx.TypeInternal, 500, "refresh token decryption failed")
	ErrEncrypt     = storeErrors.Register("ENCRYPT", errx.TypeInternal, 500, "refresh token encryption failed")
)
