// Package domain holds the canonical entities of the ingestion core, modeled
// as an acyclic relational schema keyed by opaque IDs — cross-entity
// references are always by ID, never by embedded object, so cascading
// deletion never has to chase pointers.
package domain

import (
	"time"

	"github.com/Abraxas-365/inboxcore/pkg/kernel"
)

// ProviderType names the supported upstream mail providers.
type ProviderType string

const (
	ProviderGoogle    ProviderType = "google"
	ProviderMicrosoft ProviderType = "microsoft"
)

// Priority is the final, classifier-derived importance bucket of an Email.
type Priority string

const (
	PriorityImportant   Priority = "important"
	PriorityInformation Priority = "information"
	PriorityUseless     Priority = "useless"
)

// SocialAPI is a linked provider account for a User. The refresh_token
// field, once persisted, is always ciphertext produced by internal/vaultx —
// in-memory it carries plaintext only for the lifetime of a single
// request/worker invocation.
type SocialAPI struct {
	ID              SocialAPIID
	UserID          kernel.UserID
	Email           string
	TypeAPI         ProviderType
	AccessToken     string
	RefreshToken    string // plaintext in memory, ciphertext at rest
	UserDescription string
	Invalid         bool // set true on unrecoverable token-refresh failure
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProviderSubscription tracks a live push subscription with a provider.
// Google and Microsoft populate disjoint subsets of the fields; a nil/zero
// SubscriptionID means "Google variant" (watermark-only).
type ProviderSubscription struct {
	SocialAPIID    SocialAPIID
	SubscriptionID SubscriptionID // Microsoft only
	LastModified   string         // Google historyId watermark
	ExpiresAt      time.Time      // Microsoft only
	ReauthRequired bool
}

// Sender is deduplicated globally on Email address.
type Sender struct {
	ID    SenderID
	Email string
	Name  string
}

// Category is the set of candidate topic labels for a user's classifier.
type Category struct {
	ID          CategoryID
	UserID      kernel.UserID
	Name        string
	Description string
}

// DefaultCategoryName is created for every user at signup.
const DefaultCategoryName = "default"

// PriorityOverride names the priority values a Rule may force.
type PriorityOverride string

// Rule evaluates against a Sender for a given User; see internal/rules for
// the evaluation semantics (block short-circuit, first-category-wins).
type Rule struct {
	ID               RuleID
	UserID           kernel.UserID
	SenderID         SenderID
	Block            bool
	CategoryID       *CategoryID
	PriorityOverride *PriorityOverride
}

// Email is the canonical ingested record.
type Email struct {
	ID              EmailID
	SocialAPIID     SocialAPIID
	ProviderID      string // opaque provider message ID, globally unique
	Provider        ProviderType
	Subject         string
	Content         string // preprocessed plain-text body
	ShortSummary    string
	Priority        Priority
	Read            bool
	AnswerLater     bool
	SenderID        SenderID
	CategoryID      CategoryID
	UserID          kernel.UserID
	Date            time.Time
	HasAttachments  bool
	WebLink         string
	SuggestedAnswer string
	Relevance       string
}

// KeyPoint is produced by the classifier. For a non-reply email, Position
// is nil and all KeyPoints form a flat set; for a reply, KeyPoints are
// grouped by Position representing conversation turn.
type KeyPoint struct {
	ID           KeyPointID
	EmailID      EmailID
	IsReply      bool
	Position     *int
	Category     string
	Organization string
	Topic        string
	Content      string
}

// BulletPoint is an additional short bullet produced by the classifier.
type BulletPoint struct {
	ID      BulletPointID
	EmailID EmailID
	Content string
}

// Filter is opaque to the core; it exists for the owning frontend's listing
// needs and is persisted but never interpreted here.
type Filter struct {
	ID         FilterID
	UserID     kernel.UserID
	CategoryID CategoryID
	Name       string
}

// Preferences carries per-user prompt customization that lives outside the
// core (in the Preference record owned by a sibling service); the core
// accepts it and passes it through to the Classifier verbatim.
type Preferences struct {
	SystemPromptOverride string
	Language             string
}

// CanonicalMessage is the provider-agnostic shape a ProviderClient produces
// from a raw fetched message, before rule evaluation and classification.
type CanonicalMessage struct {
	Subject        string
	FromName       string
	FromEmail      string
	BodyText       string
	SentAt         time.Time
	HasAttachments bool
	WebLink        string
	IsReply        bool
}
