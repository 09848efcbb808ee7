// Package store implements the Credential Store: a thin sqlx/Postgres
// persistence wrapper over SocialAPI, Category, Rule, Email, KeyPoint,
// BulletPoint and ProviderSubscription. It owns the SocialAPI.email and
// Email.provider_id global-uniqueness invariants and is the only component
// that calls into the Vault.
package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/pkg/kernel"
)

const refreshTokenKeyName = "refresh_token"

// Store implements ports.CredentialStore.
type Store struct {
	db    *sqlx.DB
	vault ports.Vault
}

func New(db *sqlx.DB, vault ports.Vault) *Store {
	return &Store{db: db, vault: vault}
}

var _ ports.CredentialStore = (*Store)(nil)

type socialAPIRow struct {
	ID              string    `db:"id"`
	UserID          string    `db:"user_id"`
	Email           string    `db:"email"`
	TypeAPI         string    `db:"type_api"`
	AccessToken     string    `db:"access_token"`
	RefreshTokenEnc string    `db:"refresh_token_enc"`
	UserDescription string    `db:"user_description"`
	Invalid         bool      `db:"invalid"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Refresh-token ciphertext is stored base64-encoded in a TEXT column.
func (s *Store) decryptRefreshToken(enc string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", storeErrors.NewWithCause(ErrDecrypt, err)
	}
	pt, err := s.vault.Decrypt(refreshTokenKeyName, ct)
	if err != nil {
		return "", storeErrors.NewWithCause(ErrDecrypt, err)
	}
	return string(pt), nil
}

func (s *Store) encryptRefreshToken(plain string) (string, error) {
	ct, err := s.vault.Encrypt(refreshTokenKeyName, []byte(plain))
	if err != nil {
		return "", storeErrors.NewWithCause(ErrEncrypt, err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (r socialAPIRow) toDomain(plainRefreshToken string) domain.SocialAPI {
	return domain.SocialAPI{
		ID:              domain.SocialAPIID(r.ID),
		UserID:          kernel.NewUserID(r.UserID),
		Email:           r.Email,
		TypeAPI:         domain.ProviderType(r.TypeAPI),
		AccessToken:     r.AccessToken,
		RefreshToken:    plainRefreshToken,
		UserDescription: r.UserDescription,
		Invalid:         r.Invalid,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (s *Store) GetSocialAPIByEmail(ctx context.Context, email string) (*domain.SocialAPI, error) {
	var row socialAPIRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM social_apis WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}
	plain, err := s.decryptRefreshToken(row.RefreshTokenEnc)
	if err != nil {
		return nil, err
	}
	d := row.toDomain(plain)
	return &d, nil
}

func (s *Store) GetSocialAPI(ctx context.Context, id domain.SocialAPIID) (*domain.SocialAPI, error) {
	var row socialAPIRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM social_apis WHERE id = $1`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}
	plain, err := s.decryptRefreshToken(row.RefreshTokenEnc)
	if err != nil {
		return nil, err
	}
	d := row.toDomain(plain)
	return &d, nil
}

// CreateSocialAPI inserts a new linked account. A conflict on the global
// email-uniqueness constraint is reported as ErrConflict: linking an email
// already bound to any user must fail, never silently merge.
func (s *Store) CreateSocialAPI(ctx context.Context, sa *domain.SocialAPI) error {
	if sa.ID == "" {
		sa.ID = domain.SocialAPIID(uuid.NewString())
	}
	enc, err := s.encryptRefreshToken(sa.RefreshToken)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO social_apis (id, user_id, email, type_api, access_token, refresh_token_enc, user_description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sa.ID.String(), sa.UserID.String(), sa.Email, string(sa.TypeAPI), sa.AccessToken, enc, sa.UserDescription)
	if isUniqueViolation(err) {
		return storeErrors.New(ErrConflict).WithDetail("email", sa.Email)
	}
	if err != nil {
		return storeErrors.NewWithCause(ErrQuery, err)
	}
	return nil
}

// UpdateTokens persists a refreshed access/refresh token pair. Concurrent
// refreshes for the same SocialAPI are last-writer-wins; all writers
// observe equivalent values modulo clock skew.
func (s *Store) UpdateTokens(ctx context.Context, id domain.SocialAPIID, accessToken, refreshToken string) error {
	enc, err := s.encryptRefreshToken(refreshToken)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE social_apis SET access_token = $1, refresh_token_enc = $2, updated_at = now() WHERE id = $3
	`, accessToken, enc, id.String())
	if err != nil {
		return storeErrors.NewWithCause(ErrQuery, err)
	}
	return nil
}

func (s *Store) MarkSocialAPIInvalid(ctx context.Context, id domain.SocialAPIID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE social_apis SET invalid = true, updated_at = now() WHERE id = $1`, id.String())
	if err != nil {
		return storeErrors.NewWithCause(ErrQuery, err)
	}
	return nil
}

// DeleteSocialAPI cascades to ProviderSubscription and Email rows via the
// foreign-key ON DELETE CASCADE declared in schema.go.
func (s *Store) DeleteSocialAPI(ctx context.Context, id domain.SocialAPIID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM social_apis WHERE id = $1`, id.String())
	if err != nil {
		return storeErrors.NewWithCause(ErrQuery, err)
	}
	return nil
}

type subscriptionRow struct {
	SocialAPIID    string       `db:"social_api_id"`
	SubscriptionID string       `db:"subscription_id"`
	LastModified   string       `db:"last_modified"`
	ExpiresAt      sql.NullTime `db:"expires_at"`
	ReauthRequired bool         `db:"reauth_required"`
}

func (r subscriptionRow) toDomain() domain.ProviderSubscription {
	return domain.ProviderSubscription{
		SocialAPIID:    domain.SocialAPIID(r.SocialAPIID),
		SubscriptionID: domain.SubscriptionID(r.SubscriptionID),
		LastModified:   r.LastModified,
		ExpiresAt:      r.ExpiresAt.Time,
		ReauthRequired: r.ReauthRequired,
	}
}

func (s *Store) GetSubscription(ctx context.Context, socialAPIID domain.SocialAPIID) (*domain.ProviderSubscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM provider_subscriptions WHERE social_api_id = $1`, socialAPIID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}
	d := row.toDomain()
	return &d, nil
}

func (s *Store) GetSubscriptionByHandle(ctx context.Context, subscriptionID domain.SubscriptionID) (*domain.ProviderSubscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM provider_subscriptions WHERE subscription_id = $1`, subscriptionID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}
	d := row.toDomain()
	return &d, nil
}

// UpsertSubscription is used both on initial subscribe and on every renewal
// the sweeper performs.
func (s *Store) UpsertSubscription(ctx context.Context, sub *domain.ProviderSubscription) error {
	var expiresAt any
	if !sub.ExpiresAt.IsZero() {
		expiresAt = sub.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_subscriptions (social_api_id, subscription_id, last_modified, expires_at, reauth_required)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (social_api_id) DO UPDATE SET
			subscription_id = EXCLUDED.subscription_id,
			last_modified = EXCLUDED.last_modified,
			expires_at = EXCLUDED.expires_at,
			reauth_required = EXCLUDED.reauth_required
	`, sub.SocialAPIID.String(), sub.SubscriptionID.String(), sub.LastModified, expiresAt, sub.ReauthRequired)
	if err != nil {
		return storeErrors.NewWithCause(ErrQuery, err)
	}
	return nil
}

func (s *Store) ListExpiringSubscriptions(ctx context.Context, within time.Duration) ([]domain.ProviderSubscription, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM provider_subscriptions
		WHERE subscription_id IS NOT NULL AND subscription_id != ''
		  AND (expires_at IS NULL OR expires_at < now() + make_interval(secs => $1) OR reauth_required = true)
	`, within.Seconds())
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}
	out := make([]domain.ProviderSubscription, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) ListGoogleSubscriptions(ctx context.Context) ([]domain.ProviderSubscription, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT ps.* FROM provider_subscriptions ps
		JOIN social_apis sa ON sa.id = ps.social_api_id
		WHERE sa.type_api = 'google'
	`)
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}
	out := make([]domain.ProviderSubscription, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) GetOrCreateSender(ctx context.Context, email, name string) (*domain.Sender, error) {
	var row struct {
		ID    string `db:"id"`
		Email string `db:"email"`
		Name  string `db:"name"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM senders WHERE email = $1`, email)
	if err == nil {
		return &domain.Sender{ID: domain.SenderID(row.ID), Email: row.Email, Name: row.Name}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO senders (id, email, name) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
	`, id, email, name)
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}

	err = s.db.GetContext(ctx, &row, `SELECT * FROM senders WHERE email = $1`, email)
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}
	return &domain.Sender{ID: domain.SenderID(row.ID), Email: row.Email, Name: row.Name}, nil
}

func (s *Store) ListRulesForSender(ctx context.Context, userID kernel.UserID, senderID domain.SenderID) ([]domain.Rule, error) {
	var rows []struct {
		ID               string         `db:"id"`
		UserID           string         `db:"user_id"`
		SenderID         string         `db:"sender_id"`
		Block            bool           `db:"block"`
		CategoryID       sql.NullString `db:"category_id"`
		PriorityOverride sql.NullString `db:"priority_override"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM rules WHERE user_id = $1 AND sender_id = $2
	`, userID.String(), senderID.String())
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}

	out := make([]domain.Rule, len(rows))
	for i, r := range rows {
		rule := domain.Rule{
			ID:       domain.RuleID(r.ID),
			UserID:   kernel.NewUserID(r.UserID),
			SenderID: domain.SenderID(r.SenderID),
			Block:    r.Block,
		}
		if r.CategoryID.Valid {
			cid := domain.CategoryID(r.CategoryID.String)
			rule.CategoryID = &cid
		}
		if r.PriorityOverride.Valid {
			po := domain.PriorityOverride(r.PriorityOverride.String)
			rule.PriorityOverride = &po
		}
		out[i] = rule
	}
	return out, nil
}

func (s *Store) ListCategories(ctx context.Context, userID kernel.UserID) ([]domain.Category, error) {
	var rows []struct {
		ID          string `db:"id"`
		UserID      string `db:"user_id"`
		Name        string `db:"name"`
		Description string `db:"description"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM categories WHERE user_id = $1`, userID.String())
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}
	out := make([]domain.Category, len(rows))
	for i, r := range rows {
		out[i] = domain.Category{ID: domain.CategoryID(r.ID), UserID: kernel.NewUserID(r.UserID), Name: r.Name, Description: r.Description}
	}
	return out, nil
}

func (s *Store) GetCategoryByName(ctx context.Context, userID kernel.UserID, name string) (*domain.Category, error) {
	var row struct {
		ID          string `db:"id"`
		UserID      string `db:"user_id"`
		Name        string `db:"name"`
		Description string `db:"description"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM categories WHERE user_id = $1 AND name = $2`, userID.String(), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}
	return &domain.Category{ID: domain.CategoryID(row.ID), UserID: kernel.NewUserID(row.UserID), Name: row.Name, Description: row.Description}, nil
}

// GetOrCreateDefaultCategory ensures the "default" category every user
// gets at signup exists, creating it lazily if the signup-time creation
// was somehow missed.
func (s *Store) GetOrCreateDefaultCategory(ctx context.Context, userID kernel.UserID) (*domain.Category, error) {
	cat, err := s.GetCategoryByName(ctx, userID, domain.DefaultCategoryName)
	if err != nil {
		return nil, err
	}
	if cat != nil {
		return cat, nil
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO categories (id, user_id, name, description) VALUES ($1, $2, $3, '')
		ON CONFLICT (user_id, name) DO NOTHING
	`, id, userID.String(), domain.DefaultCategoryName)
	if err != nil {
		return nil, storeErrors.NewWithCause(ErrQuery, err)
	}
	return s.GetCategoryByName(ctx, userID, domain.DefaultCategoryName)
}

func (s *Store) EmailExists(ctx context.Context, providerID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM emails WHERE provider_id = $1)`, providerID)
	if err != nil {
		return false, storeErrors.NewWithCause(ErrQuery, err)
	}
	return exists, nil
}

// CreateEmail persists the enriched Email with its KeyPoints and
// BulletPoints in one transaction. A unique-constraint conflict on
// provider_id means two workers raced to insert the same message; the
// loser gets ErrConflict and must treat it as success, not an error.
func (s *Store) CreateEmail(ctx context.Context, email *domain.Email, keyPoints []domain.KeyPoint, bullets []domain.BulletPoint) error {
	if email.ID == "" {
		email.ID = domain.EmailID(uuid.NewString())
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErrors.NewWithCause(ErrQuery, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO emails (id, social_api_id, provider_id, provider, subject, content, short_summary,
			priority, read, answer_later, sender_id, category_id, user_id, date, has_attachments,
			web_link, suggested_answer, relevance)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, email.ID.String(), email.SocialAPIID.String(), email.ProviderID, string(email.Provider),
		email.Subject, email.Content, email.ShortSummary, string(email.Priority), email.Read, email.AnswerLater,
		email.SenderID.String(), email.CategoryID.String(), email.UserID.String(), email.Date, email.HasAttachments,
		email.WebLink, email.SuggestedAnswer, email.Relevance)
	if isUniqueViolation(err) {
		return storeErrors.New(ErrConflict).WithDetail("provider_id", email.ProviderID)
	}
	if err != nil {
		return storeErrors.NewWithCause(ErrQuery, err)
	}

	for _, kp := range keyPoints {
		id := uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO key_points (id, email_id, is_reply, position, category, organization, topic, content)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, id, email.ID.String(), kp.IsReply, kp.Position, kp.Category, kp.Organization, kp.Topic, kp.Content)
		if err != nil {
			return storeErrors.NewWithCause(ErrQuery, err)
		}
	}

	for _, bp := range bullets {
		id := uuid.NewString()
		_, err = tx.ExecContext(ctx, `INSERT INTO bullet_points (id, email_id, content) VALUES ($1,$2,$3)`, id, email.ID.String(), bp.Content)
		if err != nil {
			return storeErrors.NewWithCause(ErrQuery, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErrors.NewWithCause(ErrQuery, err)
	}
	return nil
}

// DeleteEmailByProviderID handles Microsoft changeType=deleted and Google
// history-diff-detected removals. Deletion is idempotent: deleting a
// provider_id that doesn't exist is a no-op, not an error.
func (s *Store) DeleteEmailByProviderID(ctx context.Context, providerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM emails WHERE provider_id = $1`, providerID)
	if err != nil {
		return storeErrors.NewWithCause(ErrQuery, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
