// Package googleclient implements the Google half of the ProviderClient
// capability: OAuth2 exchange/refresh against Google's identity platform,
// message fetch and HTML normalization via the Gmail API, and history-diff
// listing for the watermark sweeper.
package googleclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/internal/providers/htmlx"
	"github.com/Abraxas-365/inboxcore/pkg/asyncx"
)

var (
	_ ports.ProviderClient     = (*Client)(nil)
	_ ports.GoogleChangeLister = (*Client)(nil)
)

// Client implements ports.ProviderClient and ports.GoogleChangeLister.
type Client struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	retries     int
	retryDelay  time.Duration
}

// Config bundles the OAuth2 application credentials for Google.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

func New(cfg Config) *Client {
	return &Client{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     googleoauth.Endpoint,
		},
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retries:    3,
		retryDelay: 500 * time.Millisecond,
	}
}

func (c *Client) Type() domain.ProviderType { return domain.ProviderGoogle }

// ExchangeAuthorizationCode trades an authorization code for an access and
// refresh token, then resolves the owning account's email via the
// userinfo endpoint. Google only issues a refresh_token on the first
// consent with access_type=offline — callers must configure the
// authorization URL accordingly.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (string, string, string, error) {
	cfg := *c.oauthConfig
	cfg.RedirectURL = redirectURI

	tok, err := cfg.Exchange(ctx, code, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	if err != nil {
		return "", "", "", googleErrors.NewWithCause(ErrAuthExchange, err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return "", "", "", googleErrors.New(ErrAuthExchange).WithDetail("reason", "missing token in response")
	}

	email, err := c.fetchEmail(ctx, tok.AccessToken)
	if err != nil {
		return "", "", "", googleErrors.NewWithCause(ErrAuthExchange, err)
	}

	return tok.AccessToken, tok.RefreshToken, email, nil
}

func (c *Client) fetchEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://www.googleapis.com/oauth2/v2/userinfo", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", googleErrors.New(ErrTransient).WithDetail("status", resp.StatusCode)
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Email, nil
}

// Refresh probes validity with a cheap authenticated GET on the identity
// endpoint; on any failure it exchanges the refresh token for a fresh
// access token. Returns "" (never an access token) on refresh failure —
// the caller marks the SocialAPI invalid.
func (c *Client) Refresh(ctx context.Context, accessToken, refreshToken string) (string, error) {
	if _, err := c.fetchEmail(ctx, accessToken); err == nil {
		return accessToken, nil
	}

	tokenSource := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := asyncx.RetryWithBackoff(ctx, c.retries, c.retryDelay, func(ctx context.Context) (*oauth2.Token, error) {
		return tokenSource.Token()
	})
	if err != nil {
		return "", nil // refresh failed: caller marks SocialAPI invalid, no error propagated
	}
	return tok.AccessToken, nil
}

func (c *Client) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	return gmail.NewService(ctx, option.WithTokenSource(ts), option.WithHTTPClient(c.httpClient))
}

// FetchMessage retrieves a Gmail message and normalizes it to a
// CanonicalMessage: HTML is stripped to plain text and quoted history is
// collapsed when the subject indicates a reply.
func (c *Client) FetchMessage(ctx context.Context, accessToken, messageID string) (domain.CanonicalMessage, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return domain.CanonicalMessage{}, googleErrors.NewWithCause(ErrFetchMessage, err)
	}

	msg, err := asyncx.RetryWithBackoff(ctx, c.retries, c.retryDelay, func(ctx context.Context) (*gmail.Message, error) {
		return svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return domain.CanonicalMessage{}, googleErrors.NewWithCause(ErrTransient, err)
	}

	subject, fromName, fromEmail := headerFields(msg)
	body := extractBody(msg)
	body = htmlx.ToPlainText(body)
	isReply := htmlx.IsReplySubject(subject)
	if isReply {
		body = htmlx.CollapseQuotedHistory(body)
	}

	sentAt := time.UnixMilli(msg.InternalDate).UTC()

	return domain.CanonicalMessage{
		Subject:        subject,
		FromName:       fromName,
		FromEmail:      fromEmail,
		BodyText:       body,
		SentAt:         sentAt,
		HasAttachments: hasAttachments(msg),
		WebLink:        "https://mail.google.com/mail/u/0/#inbox/" + msg.Id,
		IsReply:        isReply,
	}, nil
}

// ListChangesSince is the Google-only history-diff operation. The
// watermark (historyId) only advances in the caller once every returned
// ID has been acted on — this method itself is side-effect free and simply
// reports the provider's latest historyId alongside the added and deleted
// message IDs. Deletions never arrive as push notifications; this is the
// only place they surface.
func (c *Client) ListChangesSince(ctx context.Context, accessToken, watermark string) ([]string, []string, string, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, nil, watermark, googleErrors.NewWithCause(ErrListChanges, err)
	}

	startHistoryID, err := strconv.ParseUint(watermark, 10, 64)
	if err != nil {
		return nil, nil, watermark, googleErrors.New(ErrListChanges).WithDetail("watermark", watermark)
	}

	var addedIDs, deletedIDs []string
	latest := startHistoryID
	pageToken := ""
	for {
		call := svc.Users.History.List("me").StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded", "messageDeleted").Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := asyncx.RetryWithBackoff(ctx, c.retries, c.retryDelay, func(ctx context.Context) (*gmail.ListHistoryResponse, error) {
			return call.Do()
		})
		if err != nil {
			return nil, nil, watermark, googleErrors.NewWithCause(ErrTransient, err)
		}

		for _, h := range resp.History {
			if h.Id > latest {
				latest = h.Id
			}
			for _, added := range h.MessagesAdded {
				addedIDs = append(addedIDs, added.Message.Id)
			}
			for _, deleted := range h.MessagesDeleted {
				deletedIDs = append(deletedIDs, deleted.Message.Id)
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return addedIDs, deletedIDs, strconv.FormatUint(latest, 10), nil
}

// Subscribe establishes a Gmail watch on the user's inbox, publishing
// change notifications to the configured Pub/Sub topic. Google watch
// requests don't take an expiry parameter from the caller — Google caps
// them at 7 days and has no explicit "renew" call. A watch is only
// re-established by calling Subscribe again; the sweeper does not do so
// for Google accounts.
func (c *Client) Subscribe(ctx context.Context, accessToken string, _ time.Duration) (string, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return "", googleErrors.NewWithCause(ErrWatchSubscribe, err)
	}

	resp, err := svc.Users.Watch("me", &gmail.WatchRequest{
		TopicName: pubsubTopic,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return "", googleErrors.NewWithCause(ErrWatchSubscribe, err)
	}

	return strconv.FormatUint(resp.HistoryId, 10), nil
}

// ListRecentMessages lists up to n of the most recent inbox message IDs,
// used once by the backfill pool when a SocialAPI is newly linked.
func (c *Client) ListRecentMessages(ctx context.Context, accessToken string, n int) ([]string, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, googleErrors.NewWithCause(ErrFetchMessage, err)
	}

	resp, err := asyncx.RetryWithBackoff(ctx, c.retries, c.retryDelay, func(ctx context.Context) (*gmail.ListMessagesResponse, error) {
		return svc.Users.Messages.List("me").LabelIds("INBOX").MaxResults(int64(n)).Context(ctx).Do()
	})
	if err != nil {
		return nil, googleErrors.NewWithCause(ErrTransient, err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (c *Client) Unsubscribe(ctx context.Context, accessToken, _ string) error {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return googleErrors.NewWithCause(ErrWatchSubscribe, err)
	}
	return svc.Users.Stop("me").Context(ctx).Do()
}

// pubsubTopic is set via SetPubSubTopic at container wiring time.
var pubsubTopic string

// SetPubSubTopic configures the Pub/Sub topic name used by Subscribe.
func SetPubSubTopic(topic string) { pubsubTopic = topic }

func headerFields(msg *gmail.Message) (subject, fromName, fromEmail string) {
	if msg.Payload == nil {
		return "", "", ""
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			subject = h.Value
		case "from":
			fromName, fromEmail = parseFromHeader(h.Value)
		}
	}
	return
}

func parseFromHeader(v string) (name, email string) {
	v = strings.TrimSpace(v)
	if i := strings.LastIndex(v, "<"); i >= 0 && strings.HasSuffix(v, ">") {
		name = strings.Trim(v[:i], ` "`)
		email = v[i+1 : len(v)-1]
		return
	}
	return "", v
}

func hasAttachments(msg *gmail.Message) bool {
	if msg.Payload == nil {
		return false
	}
	var walk func(p *gmail.MessagePart) bool
	walk = func(p *gmail.MessagePart) bool {
		if p.Filename != "" {
			return true
		}
		for _, part := range p.Parts {
			if walk(part) {
				return true
			}
		}
		return false
	}
	return walk(msg.Payload)
}

func extractBody(msg *gmail.Message) string {
	if msg.Payload == nil {
		return ""
	}
	if html, ok := findPart(msg.Payload, "text/html"); ok {
		return html
	}
	if text, ok := findPart(msg.Payload, "text/plain"); ok {
		return text
	}
	return ""
}

func findPart(p *gmail.MessagePart, mimeType string) (string, bool) {
	if p.MimeType == mimeType && p.Body != nil && p.Body.Data != "" {
		decoded, err := base64.URLEncoding.DecodeString(p.Body.Data)
		if err != nil {
			return "", false
		}
		return string(decoded), true
	}
	for _, part := range p.Parts {
		if s, ok := findPart(part, mimeType); ok {
			return s, ok
		}
	}
	return "", false
}

// DecodePubSubMessage decodes a Pub/Sub push envelope's base64 data field
// into the {emailAddress, historyId} payload Google embeds.
func DecodePubSubMessage(dataB64 string) (emailAddress, historyID string, err error) {
	raw, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return "", "", err
	}
	var payload struct {
		EmailAddress string      `json:"emailAddress"`
		HistoryID    json.Number `json:"historyId"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", "", err
	}
	return payload.EmailAddress, payload.HistoryID.String(), nil
}
