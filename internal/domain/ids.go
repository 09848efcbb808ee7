package domain

// Opaque identifiers for the ingestion core's entities, following the same
// shape as pkg/kernel's UserID/TenantID: a named string type with no
// exported constructor surprises, so cross-entity references are always by
// ID and never by embedded object.

type SocialAPIID string

func (id SocialAPIID) String() string { return string(id) }
func (id SocialAPIID) IsEmpty() bool  { return id == "" }

type SenderID string

func (id SenderID) String() string { return string(id) }
func (id SenderID) IsEmpty() bool  { return id == "" }

type CategoryID string

func (id CategoryID) String() string { return string(id) }
func (id CategoryID) IsEmpty() bool  { return id == "" }

type RuleID string

func (id RuleID) String() string { return string(id) }

type EmailID string

func (id EmailID) String() string { return string(id) }
func (id EmailID) IsEmpty() bool  { return id == "" }

type KeyPointID string

type BulletPointID string

type FilterID string

type SubscriptionID string

func (id SubscriptionID) String() string { return string(id) }
