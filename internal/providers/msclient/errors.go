package msclient

import "github.com/Abraxas-365/inboxcore/pkg/errx"

var msErrors = errx.NewRegistry("MICROSOFT")

var (
	ErrAuthExchange    = msErrors.Register("AUTH_EXCHANGE", errx.TypeExternal, 502, "microsoft rejected the authorization code")
	ErrTokenRefresh    = msErrors.Register("TOKEN_REFRESH", errx.TypeAuthorization, 401, "microsoft refresh token invalid or revoked")
	ErrFetchMessage    = msErrors.Register("FETCH_MESSAGE", errx.TypeExternal, 502, "graph message fetch failed")
	ErrSubscribe       = msErrors.Register("SUBSCRIBE", errx.TypeExternal, 502, "graph subscription create failed")
	ErrRenew           = msErrors.Register("RENEW", errx.TypeExternal, 502, "graph subscription renew failed")
	ErrReauthorize     = msErrors.Register("REAUTHORIZE", errx.TypeExternal, 502, "graph subscription reauthorize failed")
	ErrTransient       = msErrors.Register("TRANSIENT", errx.TypeExternal, 503, "transient microsoft graph error")
	ErrSubscribeExpiry = msErrors.Register("SUBSCRIBE_EXPIRY", errx.TypeValidation, 400, "requested expiry exceeds microsoft's subscription lifetime cap")
)
