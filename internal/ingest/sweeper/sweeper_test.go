package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ingest"
	"github.com/Abraxas-365/inboxcore/internal/ingest/worker"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/pkg/jobx"
	"github.com/Abraxas-365/inboxcore/pkg/kernel"
)

type stubStore struct {
	ports.CredentialStore

	socialAPI *domain.SocialAPI
	expiring  []domain.ProviderSubscription
	google    []domain.ProviderSubscription
	upserts   []domain.ProviderSubscription
}

func (s *stubStore) GetSocialAPI(_ context.Context, id domain.SocialAPIID) (*domain.SocialAPI, error) {
	if s.socialAPI != nil && s.socialAPI.ID == id {
		return s.socialAPI, nil
	}
	return nil, nil
}

func (s *stubStore) ListExpiringSubscriptions(context.Context, time.Duration) ([]domain.ProviderSubscription, error) {
	return s.expiring, nil
}

func (s *stubStore) ListGoogleSubscriptions(context.Context) ([]domain.ProviderSubscription, error) {
	return s.google, nil
}

func (s *stubStore) UpsertSubscription(_ context.Context, sub *domain.ProviderSubscription) error {
	s.upserts = append(s.upserts, *sub)
	return nil
}

func (s *stubStore) UpdateTokens(context.Context, domain.SocialAPIID, string, string) error {
	return nil
}

// fakeMSClient implements both the provider client and the subscription
// manager halves of the Microsoft contract.
type fakeMSClient struct {
	renewCalls  int
	reauthCalls int
	renewErr    error
	newExpiry   time.Time
}

var (
	_ ports.ProviderClient               = (*fakeMSClient)(nil)
	_ ports.MicrosoftSubscriptionManager = (*fakeMSClient)(nil)
)

func (c *fakeMSClient) Type() domain.ProviderType { return domain.ProviderMicrosoft }

func (c *fakeMSClient) ExchangeAuthorizationCode(context.Context, string, string) (string, string, string, error) {
	return "", "", "", nil
}

func (c *fakeMSClient) Refresh(_ context.Context, accessToken, _ string) (string, error) {
	return accessToken, nil
}

func (c *fakeMSClient) FetchMessage(context.Context, string, string) (domain.CanonicalMessage, error) {
	return domain.CanonicalMessage{}, nil
}

func (c *fakeMSClient) Subscribe(context.Context, string, time.Duration) (string, error) {
	return "sub-new", nil
}

func (c *fakeMSClient) Unsubscribe(context.Context, string, string) error { return nil }

func (c *fakeMSClient) ListRecentMessages(context.Context, string, int) ([]string, error) {
	return nil, nil
}

func (c *fakeMSClient) Renew(context.Context, string, string, time.Duration) (time.Time, error) {
	c.renewCalls++
	return c.newExpiry, c.renewErr
}

func (c *fakeMSClient) Reauthorize(context.Context, string, string) error {
	c.reauthCalls++
	return nil
}

type dropQueue struct{}

func (dropQueue) Enqueue(context.Context, jobx.Job) (string, error) { return "id", nil }
func (dropQueue) EnqueueDelayed(context.Context, jobx.Job, time.Duration) (string, error) {
	return "id", nil
}

func fixture(client *fakeMSClient, store *stubStore) *Sweeper {
	registry := ingest.Registry{domain.ProviderMicrosoft: client}
	w := worker.New(worker.Config{
		Store:    store,
		Registry: registry,
		Queue:    dropQueue{},
	})
	return New(Config{
		Store:    store,
		Registry: registry,
		Worker:   w,
		Notifier: noopNotifier{},
		Interval: time.Minute,
	})
}

type noopNotifier struct{}

func (noopNotifier) SendAdminAlert(context.Context, string, string) error { return nil }

func TestSweepRenewsExpiringSubscription(t *testing.T) {
	newExpiry := time.Now().UTC().Add(4230 * time.Minute)
	client := &fakeMSClient{newExpiry: newExpiry}

	store := &stubStore{
		socialAPI: &domain.SocialAPI{
			ID:          "sa-1",
			UserID:      kernel.NewUserID("user-1"),
			Email:       "user@outlook.test",
			TypeAPI:     domain.ProviderMicrosoft,
			AccessToken: "tok",
		},
		expiring: []domain.ProviderSubscription{{
			SocialAPIID:    "sa-1",
			SubscriptionID: "sub-1",
			ExpiresAt:      time.Now().UTC().Add(10 * time.Minute),
		}},
	}

	s := fixture(client, store)
	s.SweepOnce(context.Background())

	assert.Equal(t, 1, client.renewCalls, "exactly one renew call")
	assert.Zero(t, client.reauthCalls)
	require.Len(t, store.upserts, 1)
	persisted := store.upserts[0]
	assert.Equal(t, newExpiry, persisted.ExpiresAt)
	assert.GreaterOrEqual(t, persisted.ExpiresAt.Sub(time.Now().UTC()), 4200*time.Minute)
}

func TestSweepReauthorizesFlaggedSubscription(t *testing.T) {
	client := &fakeMSClient{}
	store := &stubStore{
		socialAPI: &domain.SocialAPI{
			ID:          "sa-1",
			UserID:      kernel.NewUserID("user-1"),
			Email:       "user@outlook.test",
			TypeAPI:     domain.ProviderMicrosoft,
			AccessToken: "tok",
		},
		expiring: []domain.ProviderSubscription{{
			SocialAPIID:    "sa-1",
			SubscriptionID: "sub-1",
			ExpiresAt:      time.Now().UTC().Add(time.Hour),
			ReauthRequired: true,
		}},
	}

	s := fixture(client, store)
	s.SweepOnce(context.Background())

	assert.Equal(t, 1, client.reauthCalls)
	assert.Zero(t, client.renewCalls)
	require.Len(t, store.upserts, 1)
	assert.False(t, store.upserts[0].ReauthRequired)
}

func TestSweepResubscribesWhenRenewFails(t *testing.T) {
	client := &fakeMSClient{renewErr: assert.AnError}
	store := &stubStore{
		socialAPI: &domain.SocialAPI{
			ID:          "sa-1",
			UserID:      kernel.NewUserID("user-1"),
			Email:       "user@outlook.test",
			TypeAPI:     domain.ProviderMicrosoft,
			AccessToken: "tok",
		},
		expiring: []domain.ProviderSubscription{{
			SocialAPIID:    "sa-1",
			SubscriptionID: "sub-old",
			ExpiresAt:      time.Now().UTC().Add(5 * time.Minute),
		}},
	}

	s := fixture(client, store)
	s.SweepOnce(context.Background())

	require.Len(t, store.upserts, 1)
	assert.Equal(t, domain.SubscriptionID("sub-new"), store.upserts[0].SubscriptionID)
}
