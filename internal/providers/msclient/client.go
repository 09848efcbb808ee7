// Package msclient implements the Microsoft half of the ProviderClient
// capability: OAuth2 exchange/refresh against the Microsoft identity
// platform, message fetch via Microsoft Graph, and the subscription
// create/renew/reauthorize/delete lifecycle that Microsoft (unlike
// Google) requires explicitly. Graph is plain REST over net/http; the
// surface used here is small enough that an SDK would only add weight.
package msclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/internal/providers/htmlx"
	"github.com/Abraxas-365/inboxcore/pkg/asyncx"
)

var (
	_ ports.ProviderClient               = (*Client)(nil)
	_ ports.MicrosoftSubscriptionManager = (*Client)(nil)
)

const graphBase = "https://graph.microsoft.com/v1.0"

// MaxSubscriptionLifetime is Microsoft's cap on mail-resource subscriptions
// (~70 hours); the sweeper must renew before this elapses.
const MaxSubscriptionLifetime = 4230 * time.Minute

// RenewThreshold is how far in advance of expiry the sweeper renews.
const RenewThreshold = 15 * time.Minute

// Client implements ports.ProviderClient and ports.MicrosoftSubscriptionManager.
type Client struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	webhookURL  string
	clientState string
	retries     int
	retryDelay  time.Duration
}

// Config bundles the OAuth2 application credentials and webhook wiring for
// Microsoft.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Authority    string // e.g. https://login.microsoftonline.com/common
	Scopes       []string
	WebhookURL   string
	ClientState  string
}

func New(cfg Config) *Client {
	return &Client{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Authority + "/oauth2/v2.0/authorize",
				TokenURL: cfg.Authority + "/oauth2/v2.0/token",
			},
		},
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		webhookURL:  cfg.WebhookURL,
		clientState: cfg.ClientState,
		retries:     3,
		retryDelay:  500 * time.Millisecond,
	}
}

func (c *Client) Type() domain.ProviderType { return domain.ProviderMicrosoft }

// ClientState returns the server-configured shared secret every webhook
// delivery must echo; the webhook handler compares it in constant time.
func (c *Client) ClientState() string { return c.clientState }

func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (string, string, string, error) {
	cfg := *c.oauthConfig
	cfg.RedirectURL = redirectURI

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return "", "", "", msErrors.NewWithCause(ErrAuthExchange, err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return "", "", "", msErrors.New(ErrAuthExchange).WithDetail("reason", "missing token in response")
	}

	email, err := c.fetchMe(ctx, tok.AccessToken)
	if err != nil {
		return "", "", "", msErrors.NewWithCause(ErrAuthExchange, err)
	}

	return tok.AccessToken, tok.RefreshToken, email, nil
}

func (c *Client) fetchMe(ctx context.Context, accessToken string) (string, error) {
	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := c.graphGET(ctx, accessToken, "/me", &me); err != nil {
		return "", err
	}
	if me.Mail != "" {
		return me.Mail, nil
	}
	return me.UserPrincipalName, nil
}

// Refresh probes validity with a cheap authenticated GET on /me; on
// failure it exchanges the refresh token. Returns "" (no error) on
// refresh failure, per the ProviderClient contract.
func (c *Client) Refresh(ctx context.Context, accessToken, refreshToken string) (string, error) {
	if _, err := c.fetchMe(ctx, accessToken); err == nil {
		return accessToken, nil
	}

	tokenSource := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := asyncx.RetryWithBackoff(ctx, c.retries, c.retryDelay, func(ctx context.Context) (*oauth2.Token, error) {
		return tokenSource.Token()
	})
	if err != nil {
		return "", nil
	}
	return tok.AccessToken, nil
}

type graphMessage struct {
	Subject     string `json:"subject"`
	BodyPreview string `json:"bodyPreview"`
	Body        struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	HasAttachments   bool      `json:"hasAttachments"`
	WebLink          string    `json:"webLink"`
}

// FetchMessage retrieves a Graph message and normalizes it to a
// CanonicalMessage: HTML is stripped to plain text and quoted history is
// collapsed when the subject indicates a reply.
func (c *Client) FetchMessage(ctx context.Context, accessToken, messageID string) (domain.CanonicalMessage, error) {
	var msg graphMessage
	fetch := func(ctx context.Context) (graphMessage, error) {
		var m graphMessage
		err := c.graphGET(ctx, accessToken, "/me/messages/"+messageID, &m)
		return m, err
	}
	msg, err := asyncx.RetryWithBackoff(ctx, c.retries, c.retryDelay, fetch)
	if err != nil {
		return domain.CanonicalMessage{}, msErrors.NewWithCause(ErrTransient, err)
	}

	body := msg.Body.Content
	if strings.EqualFold(msg.Body.ContentType, "html") {
		body = htmlx.ToPlainText(body)
	}
	isReply := htmlx.IsReplySubject(msg.Subject)
	if isReply {
		body = htmlx.CollapseQuotedHistory(body)
	}

	return domain.CanonicalMessage{
		Subject:        msg.Subject,
		FromName:       msg.From.EmailAddress.Name,
		FromEmail:      msg.From.EmailAddress.Address,
		BodyText:       body,
		SentAt:         msg.ReceivedDateTime.UTC(),
		HasAttachments: msg.HasAttachments,
		WebLink:        msg.WebLink,
		IsReply:        isReply,
	}, nil
}

type graphSubscription struct {
	ID                 string    `json:"id"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
}

// Subscribe creates a Graph change-notification subscription on the
// user's mail resource, capped at MaxSubscriptionLifetime.
func (c *Client) Subscribe(ctx context.Context, accessToken string, expiry time.Duration) (string, error) {
	if expiry <= 0 || expiry > MaxSubscriptionLifetime {
		expiry = MaxSubscriptionLifetime
	}

	payload := map[string]any{
		"changeType":         "created,updated,deleted",
		"notificationUrl":    c.webhookURL,
		"resource":           "me/mailFolders('Inbox')/messages",
		"expirationDateTime": time.Now().UTC().Add(expiry).Format(time.RFC3339),
		"clientState":        c.clientState,
	}

	var sub graphSubscription
	if err := c.graphPOST(ctx, accessToken, "/subscriptions", payload, &sub); err != nil {
		return "", msErrors.NewWithCause(ErrSubscribe, err)
	}
	return sub.ID, nil
}

// ListRecentMessages lists up to n of the most recent inbox message IDs,
// used once by the backfill pool when a SocialAPI is newly linked.
func (c *Client) ListRecentMessages(ctx context.Context, accessToken string, n int) ([]string, error) {
	var resp struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	path := fmt.Sprintf("/me/mailFolders('Inbox')/messages?$top=%d&$orderby=receivedDateTime desc&$select=id", n)
	if err := c.graphGET(ctx, accessToken, path, &resp); err != nil {
		return nil, msErrors.NewWithCause(ErrTransient, err)
	}
	ids := make([]string, 0, len(resp.Value))
	for _, m := range resp.Value {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Client) Unsubscribe(ctx context.Context, accessToken, subscriptionHandle string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, graphBase+"/subscriptions/"+subscriptionHandle, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return msErrors.NewWithCause(ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return msErrors.New(ErrTransient).WithDetail("status", resp.StatusCode)
	}
	return nil
}

// Renew extends an existing subscription's expiry. Called by the sweeper
// when fewer than RenewThreshold remain.
func (c *Client) Renew(ctx context.Context, accessToken, subscriptionHandle string, newExpiry time.Duration) (time.Time, error) {
	if newExpiry <= 0 || newExpiry > MaxSubscriptionLifetime {
		newExpiry = MaxSubscriptionLifetime
	}
	payload := map[string]any{
		"expirationDateTime": time.Now().UTC().Add(newExpiry).Format(time.RFC3339),
	}

	var sub graphSubscription
	if err := c.graphPATCH(ctx, accessToken, "/subscriptions/"+subscriptionHandle, payload, &sub); err != nil {
		return time.Time{}, msErrors.NewWithCause(ErrRenew, err)
	}
	return sub.ExpirationDateTime, nil
}

// Reauthorize re-validates a subscription after Microsoft's
// reauthorizationRequired lifecycle event, by reissuing the same renewal
// call Graph uses for that purpose.
func (c *Client) Reauthorize(ctx context.Context, accessToken, subscriptionHandle string) error {
	_, err := c.Renew(ctx, accessToken, subscriptionHandle, MaxSubscriptionLifetime)
	if err != nil {
		return msErrors.NewWithCause(ErrReauthorize, err)
	}
	return nil
}

func (c *Client) graphGET(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, graphBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(req, out)
}

func (c *Client) graphPOST(ctx context.Context, accessToken, path string, body any, out any) error {
	return c.graphWrite(ctx, http.MethodPost, accessToken, path, body, out)
}

func (c *Client) graphPATCH(ctx context.Context, accessToken, path string, body any, out any) error {
	return c.graphWrite(ctx, http.MethodPatch, accessToken, path, body, out)
}

func (c *Client) graphWrite(ctx context.Context, method, accessToken, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, graphBase+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("graph %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
