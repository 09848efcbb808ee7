// Package ports declares the capability interfaces the ingestion core
// depends on. The orchestrator is written against these, never against a
// concrete provider SDK or store, so a third mail provider is an
// implementation plus a registry entry.
package ports

import (
	"context"
	"time"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/pkg/kernel"
)

// ProviderClient is the explicit capability every mail provider adapter
// implements. The orchestrator holds a registry keyed by domain.ProviderType
// and dispatches through this interface — adding a third provider is a
// matter of implementing it and registering it, never a type switch.
type ProviderClient interface {
	Type() domain.ProviderType

	// ExchangeAuthorizationCode trades an OAuth2 authorization code for a
	// token pair and the linked account's email address.
	ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (accessToken, refreshToken, email string, err error)

	// Refresh probes token validity with a cheap authenticated GET and,
	// if needed, exchanges the refresh token for a new access token.
	// Returns "" on refresh failure; the caller must mark the SocialAPI invalid.
	Refresh(ctx context.Context, accessToken, refreshToken string) (string, error)

	// FetchMessage retrieves and normalizes a single provider message.
	FetchMessage(ctx context.Context, accessToken, messageID string) (domain.CanonicalMessage, error)

	// Subscribe establishes a push subscription for the given account.
	Subscribe(ctx context.Context, accessToken string, expiry time.Duration) (string, error)
	Unsubscribe(ctx context.Context, accessToken, subscriptionHandle string) error

	// ListRecentMessages returns up to n of the most recent inbox message
	// IDs, used once by the backfill pool when a SocialAPI is newly linked.
	ListRecentMessages(ctx context.Context, accessToken string, n int) ([]string, error)
}

// GoogleChangeLister is implemented only by the Google provider client.
type GoogleChangeLister interface {
	// ListChangesSince returns message IDs added and deleted since
	// watermark, and the new watermark to persist. The watermark only
	// advances after the caller has acted on every returned ID. Deletions
	// only surface here: Google never delivers them as push notifications.
	ListChangesSince(ctx context.Context, accessToken, watermark string) (added, deleted []string, newWatermark string, err error)
}

// MicrosoftSubscriptionManager is implemented only by the Microsoft
// provider client; Google has no renew or reauthorize call for its watches.
type MicrosoftSubscriptionManager interface {
	Renew(ctx context.Context, accessToken, subscriptionHandle string, newExpiry time.Duration) (time.Time, error)
	Reauthorize(ctx context.Context, accessToken, subscriptionHandle string) error
}

// CredentialStore is the only component permitted to read or write
// SocialAPI, Category, Rule, Email, KeyPoint, BulletPoint and
// ProviderSubscription records; it owns the global-uniqueness invariants on
// SocialAPI.email and Email.provider_id, and is the only caller of the Vault.
type CredentialStore interface {
	GetSocialAPIByEmail(ctx context.Context, email string) (*domain.SocialAPI, error)
	GetSocialAPI(ctx context.Context, id domain.SocialAPIID) (*domain.SocialAPI, error)
	CreateSocialAPI(ctx context.Context, s *domain.SocialAPI) error
	UpdateTokens(ctx context.Context, id domain.SocialAPIID, accessToken, refreshToken string) error
	MarkSocialAPIInvalid(ctx context.Context, id domain.SocialAPIID) error
	DeleteSocialAPI(ctx context.Context, id domain.SocialAPIID) error

	GetSubscription(ctx context.Context, socialAPIID domain.SocialAPIID) (*domain.ProviderSubscription, error)
	GetSubscriptionByHandle(ctx context.Context, subscriptionID domain.SubscriptionID) (*domain.ProviderSubscription, error)
	UpsertSubscription(ctx context.Context, sub *domain.ProviderSubscription) error
	ListExpiringSubscriptions(ctx context.Context, within time.Duration) ([]domain.ProviderSubscription, error)
	ListGoogleSubscriptions(ctx context.Context) ([]domain.ProviderSubscription, error)

	GetOrCreateSender(ctx context.Context, email, name string) (*domain.Sender, error)

	ListRulesForSender(ctx context.Context, userID kernel.UserID, senderID domain.SenderID) ([]domain.Rule, error)
	ListCategories(ctx context.Context, userID kernel.UserID) ([]domain.Category, error)
	GetOrCreateDefaultCategory(ctx context.Context, userID kernel.UserID) (*domain.Category, error)
	GetCategoryByName(ctx context.Context, userID kernel.UserID, name string) (*domain.Category, error)

	// EmailExists checks Email.provider_id for idempotent dedup before any
	// fetch/classify work is done.
	EmailExists(ctx context.Context, providerID string) (bool, error)
	// CreateEmail persists the enriched Email and its KeyPoints/BulletPoints
	// atomically. A unique-constraint conflict on provider_id is reported
	// via ErrConflict and MUST be treated as success by the caller.
	CreateEmail(ctx context.Context, email *domain.Email, keyPoints []domain.KeyPoint, bullets []domain.BulletPoint) error
	DeleteEmailByProviderID(ctx context.Context, providerID string) error
}

// RuleEngine evaluates sender-scoped rules for a user.
type RuleEngine interface {
	Evaluate(ctx context.Context, userID kernel.UserID, sender domain.Sender) (Decision, error)
}

// Decision is the Rule Engine's output: a block short-circuits the
// pipeline entirely; a non-nil ForcedCategory overrides the classifier's
// topic selection; a non-nil ForcedPriority overrides the projected priority.
type Decision struct {
	Block          bool
	ForcedCategory *domain.CategoryID
	ForcedPriority *domain.Priority
}

// Classification is the Classifier's structured output.
type Classification struct {
	Topic                  string
	ImportanceDistribution map[string]int
	SuggestedAnswer        string
	BulletSummary          []string
	ShortSummary           string
	Relevance              string
	KeyPoints              []domain.KeyPoint // Position set only when IsReply
}

// Classifier is the only component allowed to make outbound LLM calls.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Classification, error)
}

// ClassifyRequest bundles everything the classifier needs to build its
// prompt; CandidateCategories names are passed, never IDs, since the LLM
// reasons over human-readable labels.
type ClassifyRequest struct {
	Subject             string
	BodyText            string
	CandidateCategories []string
	UserDescription     string
	Preferences         domain.Preferences
	IsReply             bool
}

// Notifier is the side-channel admin-alert sink; failures are logged but
// never retried and never gate pipeline progress.
type Notifier interface {
	SendAdminAlert(ctx context.Context, subject, htmlBody string) error
}

// Vault provides authenticated symmetric encryption for at-rest secrets.
type Vault interface {
	Encrypt(keyName string, plaintext []byte) (ciphertext []byte, err error)
	Decrypt(keyName string, ciphertext []byte) (plaintext []byte, err error)
}
