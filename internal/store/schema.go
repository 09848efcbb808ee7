package store

// schemaSQL declares the persistent schema: inline DDL run once at
// startup, with the uniqueness/non-null invariants encoded directly as
// constraints rather than enforced only in application code.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS social_apis (
	id                UUID PRIMARY KEY,
	user_id           TEXT NOT NULL,
	email             TEXT NOT NULL UNIQUE,
	type_api          TEXT NOT NULL CHECK (type_api IN ('google','microsoft')),
	access_token      TEXT NOT NULL,
	refresh_token_enc TEXT NOT NULL,
	user_description  TEXT NOT NULL DEFAULT '',
	invalid           BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_social_apis_user_id ON social_apis(user_id);

CREATE TABLE IF NOT EXISTS provider_subscriptions (
	social_api_id   UUID PRIMARY KEY REFERENCES social_apis(id) ON DELETE CASCADE,
	subscription_id TEXT,
	last_modified   TEXT NOT NULL DEFAULT '',
	expires_at      TIMESTAMPTZ,
	reauth_required BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_handle ON provider_subscriptions(subscription_id) WHERE subscription_id IS NOT NULL AND subscription_id != '';

CREATE TABLE IF NOT EXISTS senders (
	id    UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS categories (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS rules (
	id                UUID PRIMARY KEY,
	user_id           TEXT NOT NULL,
	sender_id         UUID NOT NULL REFERENCES senders(id),
	block             BOOLEAN NOT NULL DEFAULT FALSE,
	category_id       UUID REFERENCES categories(id),
	priority_override TEXT
);
CREATE INDEX IF NOT EXISTS idx_rules_user_sender ON rules(user_id, sender_id);

CREATE TABLE IF NOT EXISTS emails (
	id               UUID PRIMARY KEY,
	social_api_id    UUID NOT NULL REFERENCES social_apis(id) ON DELETE CASCADE,
	provider_id      TEXT NOT NULL UNIQUE,
	provider         TEXT NOT NULL,
	subject          TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL DEFAULT '',
	short_summary    TEXT NOT NULL DEFAULT '',
	priority         TEXT NOT NULL,
	read             BOOLEAN NOT NULL DEFAULT FALSE,
	answer_later     BOOLEAN NOT NULL DEFAULT FALSE,
	sender_id        UUID NOT NULL REFERENCES senders(id),
	category_id      UUID NOT NULL REFERENCES categories(id),
	user_id          TEXT NOT NULL,
	date             TIMESTAMPTZ NOT NULL,
	has_attachments  BOOLEAN NOT NULL DEFAULT FALSE,
	web_link         TEXT NOT NULL DEFAULT '',
	suggested_answer TEXT NOT NULL DEFAULT '',
	relevance        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_emails_user_id ON emails(user_id);
CREATE INDEX IF NOT EXISTS idx_emails_social_api_id ON emails(social_api_id);

CREATE TABLE IF NOT EXISTS key_points (
	id           UUID PRIMARY KEY,
	email_id     UUID NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	is_reply     BOOLEAN NOT NULL DEFAULT FALSE,
	position     INTEGER,
	category     TEXT NOT NULL DEFAULT '',
	organization TEXT NOT NULL DEFAULT '',
	topic        TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_key_points_email_id ON key_points(email_id);

CREATE TABLE IF NOT EXISTS bullet_points (
	id       UUID PRIMARY KEY,
	email_id UUID NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	content  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_bullet_points_email_id ON bullet_points(email_id);

CREATE TABLE IF NOT EXISTS filters (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	category_id UUID NOT NULL REFERENCES categories(id),
	name        TEXT NOT NULL
);
`

// InitSchema creates every table the Credential Store needs, idempotently.
func (s *Store) InitSchema() error {
	_, err := s.db.Exec(schemaSQL)
	return err
}
