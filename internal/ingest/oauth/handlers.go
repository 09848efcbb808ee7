// Package oauth exposes the account-linking surface: authorization-URL
// generation, authorization-code exchange, and unlink. Unlike the webhook
// endpoints these answer a frontend, so errors propagate with their real
// HTTP status instead of a blanket 2xx.
package oauth

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ingest"
	"github.com/Abraxas-365/inboxcore/internal/ingest/backfill"
	"github.com/Abraxas-365/inboxcore/internal/ingest/worker"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/internal/providers/msclient"
	"github.com/Abraxas-365/inboxcore/pkg/config"
	"github.com/Abraxas-365/inboxcore/pkg/kernel"
	"github.com/Abraxas-365/inboxcore/pkg/logx"
)

// Handlers serves the OAuth2 account-linking endpoints.
type Handlers struct {
	store      ports.CredentialStore
	registry   ingest.Registry
	backfill   *backfill.Manager
	worker     *worker.Worker
	google     *oauth2.Config
	microsoft  *oauth2.Config
	googleCfg  config.GoogleConfig
	msCfg      config.MicrosoftConfig
	stateNonce string
}

// Config wires the OAuth handlers.
type Config struct {
	Store      ports.CredentialStore
	Registry   ingest.Registry
	Backfill   *backfill.Manager
	Worker     *worker.Worker
	Google     config.GoogleConfig
	Microsoft  config.MicrosoftConfig
	StateNonce string
}

func New(cfg Config) *Handlers {
	return &Handlers{
		store:    cfg.Store,
		registry: cfg.Registry,
		backfill: cfg.Backfill,
		worker:   cfg.Worker,
		google: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Scopes:       cfg.Google.Scopes,
			Endpoint:     googleoauth.Endpoint,
		},
		microsoft: &oauth2.Config{
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
			Scopes:       cfg.Microsoft.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Microsoft.Authority + "/oauth2/v2.0/authorize",
				TokenURL: cfg.Microsoft.Authority + "/oauth2/v2.0/token",
			},
		},
		googleCfg:  cfg.Google,
		msCfg:      cfg.Microsoft,
		stateNonce: cfg.StateNonce,
	}
}

// Register mounts the OAuth routes.
func (h *Handlers) Register(app *fiber.App) {
	app.Get("/oauth/:provider/url", h.HandleAuthorizationURL)
	app.Post("/oauth/exchange", h.HandleExchange)
	app.Delete("/oauth/accounts/:id", h.HandleUnlink)
}

// HandleAuthorizationURL composes the provider consent URL for the signup
// or link flow. Google gets offline access plus forced consent so a
// refresh token is issued even on repeat authorizations.
func (h *Handlers) HandleAuthorizationURL(c *fiber.Ctx) error {
	provider := domain.ProviderType(c.Params("provider"))
	flow := c.Query("flow", "signup")

	var url string
	switch provider {
	case domain.ProviderGoogle:
		cfg := *h.google
		cfg.RedirectURL = h.redirectFor(provider, flow)
		url = cfg.AuthCodeURL(h.stateNonce, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	case domain.ProviderMicrosoft:
		cfg := *h.microsoft
		cfg.RedirectURL = h.redirectFor(provider, flow)
		url = cfg.AuthCodeURL(h.stateNonce)
	default:
		return oauthErrors.New(ErrUnknownProvider).WithDetail("provider", string(provider))
	}

	return c.JSON(fiber.Map{"url": url})
}

type exchangeRequest struct {
	Code            string `json:"code"`
	TypeAPI         string `json:"typeApi"`
	UserID          string `json:"userId"`
	Flow            string `json:"flow"`
	UserDescription string `json:"userDescription"`
}

// HandleExchange trades an authorization code for tokens, links the
// account, establishes the push subscription and kicks off the inbox
// backfill.
func (h *Handlers) HandleExchange(c *fiber.Ctx) error {
	var req exchangeRequest
	if err := c.BodyParser(&req); err != nil {
		return oauthErrors.New(ErrBadRequest).WithDetail("reason", "unreadable body")
	}
	if req.Code == "" || req.UserID == "" {
		return oauthErrors.New(ErrBadRequest).WithDetail("reason", "code and userId are required")
	}

	provider := domain.ProviderType(req.TypeAPI)
	client := h.registry.Get(provider)
	if client == nil {
		return oauthErrors.New(ErrUnknownProvider).WithDetail("provider", req.TypeAPI)
	}

	ctx := c.Context()
	redirect := h.redirectFor(provider, req.Flow)
	accessToken, refreshToken, email, err := client.ExchangeAuthorizationCode(ctx, req.Code, redirect)
	if err != nil {
		return err
	}

	sa := &domain.SocialAPI{
		UserID:          kernel.NewUserID(req.UserID),
		Email:           email,
		TypeAPI:         provider,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		UserDescription: req.UserDescription,
	}
	if err := h.store.CreateSocialAPI(ctx, sa); err != nil {
		return err
	}

	if _, err := h.store.GetOrCreateDefaultCategory(ctx, sa.UserID); err != nil {
		return err
	}

	if err := h.subscribe(ctx, sa, accessToken); err != nil {
		// The link itself succeeded. No subscription row is recorded, and
		// the sweeper only maintains accounts that already have one.
		logx.WithError(err).Warnf("oauth: subscription failed for %s, account has no push subscription", email)
	}

	h.backfill.Start(sa)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      sa.ID.String(),
		"email":   sa.Email,
		"typeApi": string(sa.TypeAPI),
	})
}

// HandleUnlink tears down an account link: cancels any in-flight backfill,
// removes the provider-side subscription and deletes the record (which
// cascades to its subscription and emails).
func (h *Handlers) HandleUnlink(c *fiber.Ctx) error {
	id := domain.SocialAPIID(c.Params("id"))

	ctx := c.Context()
	sa, err := h.store.GetSocialAPI(ctx, id)
	if err != nil {
		return err
	}
	if sa == nil {
		return oauthErrors.New(ErrNotFound).WithDetail("id", id.String())
	}

	h.backfill.Cancel(id)

	if sub, err := h.store.GetSubscription(ctx, id); err == nil && sub != nil {
		client := h.registry.Get(sa.TypeAPI)
		token, tokenErr := h.worker.FreshToken(ctx, sa)
		if client != nil && tokenErr == nil && token != "" {
			if err := client.Unsubscribe(ctx, token, sub.SubscriptionID.String()); err != nil {
				logx.WithError(err).Warnf("oauth: provider-side unsubscribe failed for %s", sa.Email)
			}
		}
	}

	if err := h.store.DeleteSocialAPI(ctx, id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// subscribe establishes the provider push subscription and records it.
// For Google the returned handle is the mailbox's current historyId,
// which seeds the history-diff watermark; for Microsoft it is the Graph
// subscription ID with its expiry tracked for the sweeper.
func (h *Handlers) subscribe(ctx context.Context, sa *domain.SocialAPI, accessToken string) error {
	client := h.registry.Get(sa.TypeAPI)
	if client == nil {
		return oauthErrors.New(ErrUnknownProvider).WithDetail("provider", string(sa.TypeAPI))
	}

	handle, err := client.Subscribe(ctx, accessToken, msclient.MaxSubscriptionLifetime)
	if err != nil {
		return err
	}

	sub := &domain.ProviderSubscription{SocialAPIID: sa.ID}
	switch sa.TypeAPI {
	case domain.ProviderGoogle:
		sub.LastModified = handle
	case domain.ProviderMicrosoft:
		sub.SubscriptionID = domain.SubscriptionID(handle)
		sub.ExpiresAt = time.Now().UTC().Add(msclient.MaxSubscriptionLifetime)
	}
	return h.store.UpsertSubscription(ctx, sub)
}

func (h *Handlers) redirectFor(provider domain.ProviderType, flow string) string {
	switch provider {
	case domain.ProviderGoogle:
		if flow == "link" {
			return h.googleCfg.LinkRedirectURL
		}
		return h.googleCfg.SignupRedirectURL
	case domain.ProviderMicrosoft:
		if flow == "link" {
			return h.msCfg.LinkRedirectURL
		}
		return h.msCfg.SignupRedirectURL
	}
	return ""
}
