package googleclient

import "github.com/Abraxas-365/inboxcore/pkg/errx"

var googleErrors = errx.NewRegistry("GOOGLE")

var (
	ErrAuthExchange   = googleErrors.Register("AUTH_EXCHANGE", errx.TypeExternal, 502, "google rejected the authorization code")
	ErrTokenRefresh   = googleErrors.Register("TOKEN_REFRESH", errx.TypeAuthorization, 401, "google refresh token invalid or revoked")
	ErrFetchMessage   = googleErrors.Register("FETCH_MESSAGE", errx.TypeExternal, 502, "gmail message fetch failed")
	ErrListChanges    = googleErrors.Register("LIST_CHANGES", errx.TypeExternal, 502, "gmail history list failed")
	ErrWatchSubscribe = googleErrors.Register("WATCH_SUBSCRIBE", errx.TypeExternal, 502, "gmail watch subscription failed")
	ErrTransient      = googleErrors.Register("TRANSIENT", errx.TypeExternal, 503, "transient google api error")
)
