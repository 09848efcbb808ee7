// Package webhook exposes the inbound HTTP surface of the orchestrator:
// the Microsoft Graph change-notification endpoints and the Google
// Pub/Sub push endpoint. Handlers validate and route a delivery, enqueue
// the heavy work, and answer the provider within the request lifecycle —
// a provider always gets a 2xx once its delivery has been parsed and
// routed, so internal failures never trigger provider-side backoff storms.
package webhook

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ingest"
	"github.com/Abraxas-365/inboxcore/internal/ingest/worker"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/internal/providers/googleclient"
	"github.com/Abraxas-365/inboxcore/internal/providers/msclient"
	"github.com/Abraxas-365/inboxcore/pkg/logx"
)

// Handlers serves the provider webhook endpoints.
type Handlers struct {
	store        ports.CredentialStore
	worker       *worker.Worker
	registry     ingest.Registry
	clientState  string
	catchUpCount int
	httpClient   *http.Client
}

// Config wires the webhook handlers.
type Config struct {
	Store       ports.CredentialStore
	Worker      *worker.Worker
	Registry    ingest.Registry
	ClientState string
	// CatchUpCount bounds the full inbox poll run after a "missed"
	// lifecycle event.
	CatchUpCount int
}

func New(cfg Config) *Handlers {
	if cfg.CatchUpCount <= 0 {
		cfg.CatchUpCount = 50
	}
	return &Handlers{
		store:        cfg.Store,
		worker:       cfg.Worker,
		registry:     cfg.Registry,
		clientState:  cfg.ClientState,
		catchUpCount: cfg.CatchUpCount,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Register mounts the webhook routes.
func (h *Handlers) Register(app *fiber.App) {
	app.Post("/webhook/microsoft/mail", h.HandleMicrosoftMail)
	app.Post("/webhook/microsoft/contacts", h.HandleMicrosoftContacts)
	app.Post("/webhook/microsoft/subscription", h.HandleMicrosoftSubscription)
	app.Post("/webhook/google/mail", h.HandleGoogleMail)
}

type msNotificationItem struct {
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	SubscriptionID string `json:"subscriptionId"`
	Resource       string `json:"resource"`
	ResourceData   struct {
		ID string `json:"id"`
	} `json:"resourceData"`
	LifecycleEvent                 string    `json:"lifecycleEvent"`
	SubscriptionExpirationDateTime time.Time `json:"subscriptionExpirationDateTime"`
}

type msNotification struct {
	Value []msNotificationItem `json:"value"`
}

// HandleMicrosoftMail processes Graph change notifications for mail.
func (h *Handlers) HandleMicrosoftMail(c *fiber.Ctx) error {
	if done := h.validationHandshake(c); done {
		return nil
	}

	var envelope msNotification
	if err := json.Unmarshal(c.Body(), &envelope); err != nil {
		logx.WithError(err).Warn("webhook: unreadable microsoft envelope, dropping")
		return c.SendStatus(fiber.StatusAccepted)
	}

	ctx := c.Context()
	for _, item := range envelope.Value {
		if !h.clientStateMatches(item.ClientState) {
			logx.Warnf("webhook: clientState mismatch for subscription %s, dropping item", item.SubscriptionID)
			continue
		}

		if item.LifecycleEvent != "" {
			h.handleLifecycleEvent(ctx, item)
			continue
		}

		switch item.ChangeType {
		case "deleted":
			// Idempotent: deleting an unknown provider_id is a no-op.
			if err := h.store.DeleteEmailByProviderID(ctx, item.ResourceData.ID); err != nil {
				logx.WithError(err).Warnf("webhook: delete failed for %s", item.ResourceData.ID)
			}
		case "created", "updated":
			h.dispatchMicrosoftMessage(ctx, item)
		default:
			logx.Debugf("webhook: ignoring changeType %q", item.ChangeType)
		}
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// HandleMicrosoftContacts accepts Graph contact notifications. Contact
// import itself is owned by a sibling service; this endpoint exists so the
// subscription handshake and deliveries land on a 2xx instead of expiring.
func (h *Handlers) HandleMicrosoftContacts(c *fiber.Ctx) error {
	if done := h.validationHandshake(c); done {
		return nil
	}

	var envelope msNotification
	if err := json.Unmarshal(c.Body(), &envelope); err != nil {
		return c.SendStatus(fiber.StatusAccepted)
	}
	for _, item := range envelope.Value {
		if !h.clientStateMatches(item.ClientState) {
			continue
		}
		logx.Debugf("webhook: contact notification %s (%s) acknowledged", item.ResourceData.ID, item.ChangeType)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// HandleMicrosoftSubscription processes subscription lifecycle
// notifications: reauthorizationRequired, subscriptionRemoved and missed.
func (h *Handlers) HandleMicrosoftSubscription(c *fiber.Ctx) error {
	if done := h.validationHandshake(c); done {
		return nil
	}

	var envelope msNotification
	if err := json.Unmarshal(c.Body(), &envelope); err != nil {
		logx.WithError(err).Warn("webhook: unreadable lifecycle envelope, dropping")
		return c.SendStatus(fiber.StatusAccepted)
	}

	ctx := c.Context()
	for _, item := range envelope.Value {
		if !h.clientStateMatches(item.ClientState) {
			logx.Warnf("webhook: clientState mismatch on lifecycle for %s, dropping", item.SubscriptionID)
			continue
		}
		h.handleLifecycleEvent(ctx, item)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

type pubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// HandleGoogleMail processes a Pub/Sub push delivery: decode the payload,
// hand the account's history diff to the background worker, then
// acknowledge the Pub/Sub message. The ack happens after dispatch, not
// after classification — downstream work proceeds on the queue's clock.
func (h *Handlers) HandleGoogleMail(c *fiber.Ctx) error {
	var envelope pubSubEnvelope
	if err := json.Unmarshal(c.Body(), &envelope); err != nil {
		logx.WithError(err).Warn("webhook: unreadable pubsub envelope, dropping")
		return c.SendStatus(fiber.StatusAccepted)
	}

	emailAddress, _, err := googleclient.DecodePubSubMessage(envelope.Message.Data)
	if err != nil {
		logx.WithError(err).Warn("webhook: unreadable pubsub payload, dropping")
		return c.SendStatus(fiber.StatusAccepted)
	}

	ctx := c.Context()
	sa, err := h.store.GetSocialAPIByEmail(ctx, emailAddress)
	if err != nil {
		logx.WithError(err).Warnf("webhook: lookup failed for %s", emailAddress)
		return c.SendStatus(fiber.StatusAccepted)
	}
	if sa == nil || sa.Invalid {
		logx.Warnf("webhook: pubsub delivery for unknown/invalid account %s, dropping", emailAddress)
		return c.SendStatus(fiber.StatusAccepted)
	}

	if err := h.worker.EnqueueHistoryDiff(ctx, sa.ID); err != nil {
		logx.WithError(err).Errorf("webhook: enqueue failed for %s", emailAddress)
		return c.SendStatus(fiber.StatusAccepted)
	}

	h.ackPubSub(ctx, envelope.Subscription, envelope.Message.MessageID, sa.AccessToken)
	return c.SendStatus(fiber.StatusAccepted)
}

// validationHandshake echoes a provider's validation token verbatim as
// text/plain. Returns true when the request was a handshake and has been
// answered.
func (h *Handlers) validationHandshake(c *fiber.Ctx) bool {
	token := c.Query("validationToken")
	if token == "" {
		return false
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlain)
	_ = c.Status(fiber.StatusOK).SendString(token)
	return true
}

func (h *Handlers) clientStateMatches(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.clientState)) == 1
}

func (h *Handlers) dispatchMicrosoftMessage(ctx context.Context, item msNotificationItem) {
	sub, err := h.store.GetSubscriptionByHandle(ctx, domain.SubscriptionID(item.SubscriptionID))
	if err != nil {
		logx.WithError(err).Warnf("webhook: subscription lookup failed for %s", item.SubscriptionID)
		return
	}
	if sub == nil {
		logx.Warnf("webhook: no record for subscription %s, dropping message %s", item.SubscriptionID, item.ResourceData.ID)
		return
	}
	if err := h.worker.EnqueueMessage(ctx, sub.SocialAPIID, item.ResourceData.ID); err != nil {
		logx.WithError(err).Errorf("webhook: enqueue failed for message %s", item.ResourceData.ID)
	}
}

func (h *Handlers) handleLifecycleEvent(ctx context.Context, item msNotificationItem) {
	sub, err := h.store.GetSubscriptionByHandle(ctx, domain.SubscriptionID(item.SubscriptionID))
	if err != nil {
		logx.WithError(err).Warnf("webhook: subscription lookup failed for %s", item.SubscriptionID)
		return
	}
	if sub == nil {
		logx.Warnf("webhook: lifecycle %q for unknown subscription %s, dropping", item.LifecycleEvent, item.SubscriptionID)
		return
	}

	sa, err := h.store.GetSocialAPI(ctx, sub.SocialAPIID)
	if err != nil || sa == nil || sa.Invalid {
		logx.Warnf("webhook: lifecycle %q for missing/invalid account %s", item.LifecycleEvent, sub.SocialAPIID)
		return
	}

	client := h.registry.Get(sa.TypeAPI)
	manager, ok := client.(ports.MicrosoftSubscriptionManager)
	if !ok {
		return
	}

	token, err := h.worker.FreshToken(ctx, sa)
	if err != nil || token == "" {
		return
	}

	switch item.LifecycleEvent {
	case "reauthorizationRequired":
		if err := manager.Reauthorize(ctx, token, sub.SubscriptionID.String()); err != nil {
			logx.WithError(err).Warnf("webhook: reauthorize failed for %s, deferring to sweeper", sub.SubscriptionID)
			sub.ReauthRequired = true
			if err := h.store.UpsertSubscription(ctx, sub); err != nil {
				logx.WithError(err).Errorf("webhook: could not flag %s for reauthorization", sub.SubscriptionID)
			}
			return
		}
		sub.ReauthRequired = false
		sub.ExpiresAt = time.Now().UTC().Add(msclient.MaxSubscriptionLifetime)
		if err := h.store.UpsertSubscription(ctx, sub); err != nil {
			logx.WithError(err).Errorf("webhook: could not persist reauthorized %s", sub.SubscriptionID)
		}

	case "subscriptionRemoved":
		handle, err := client.Subscribe(ctx, token, msclient.MaxSubscriptionLifetime)
		if err != nil {
			logx.WithError(err).Errorf("webhook: re-subscribe failed for %s", sa.Email)
			return
		}
		sub.SubscriptionID = domain.SubscriptionID(handle)
		sub.ExpiresAt = time.Now().UTC().Add(msclient.MaxSubscriptionLifetime)
		sub.ReauthRequired = false
		if err := h.store.UpsertSubscription(ctx, sub); err != nil {
			logx.WithError(err).Errorf("webhook: could not persist re-subscription for %s", sa.Email)
		}

	case "missed":
		// Notifications were lost; poll the inbox so nothing stays behind.
		ids, err := client.ListRecentMessages(ctx, token, h.catchUpCount)
		if err != nil {
			logx.WithError(err).Warnf("webhook: catch-up poll failed for %s", sa.Email)
			return
		}
		for _, id := range ids {
			if err := h.worker.EnqueueMessage(ctx, sa.ID, id); err != nil {
				logx.WithError(err).Errorf("webhook: catch-up enqueue failed for %s", id)
			}
		}

	default:
		logx.Debugf("webhook: ignoring lifecycle event %q", item.LifecycleEvent)
	}
}

// ackPubSub acknowledges a Pub/Sub push delivery against the subscription
// path it arrived on. Best effort: push deliveries are also acked by the
// 2xx response, this explicit ack just shortens redelivery windows.
func (h *Handlers) ackPubSub(ctx context.Context, subscription, messageID, accessToken string) {
	if subscription == "" || messageID == "" || accessToken == "" {
		return
	}

	body, _ := json.Marshal(map[string]any{"ackIds": []string{messageID}})
	url := "https://pubsub.googleapis.com/v1/" + subscription + ":acknowledge"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		logx.WithError(err).Warn("webhook: pubsub ack failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		logx.Warnf("webhook: pubsub ack returned %d", resp.StatusCode)
	}
}
