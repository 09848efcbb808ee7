package oauth

import "github.com/Abraxas-365/inboxcore/pkg/errx"

var oauthErrors = errx.NewRegistry("OAUTH")

var (
	ErrBadRequest      = oauthErrors.Register("BAD_REQUEST", errx.TypeValidation, 400, "invalid exchange request")
	ErrUnknownProvider = oauthErrors.Register("UNKNOWN_PROVIDER", errx.TypeValidation, 400, "unsupported provider type")
	ErrNotFound        = oauthErrors.Register("NOT_FOUND", errx.TypeNotFound, 404, "linked account not found")
)
