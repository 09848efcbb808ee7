package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ingest"
	"github.com/Abraxas-365/inboxcore/internal/ingest/worker"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/pkg/jobx"
	"github.com/Abraxas-365/inboxcore/pkg/kernel"
)

const testClientState = "shhh-secret"

// stubStore implements the few CredentialStore methods the webhook paths
// touch; everything else panics loudly through the embedded nil interface.
type stubStore struct {
	ports.CredentialStore

	socialAPI *domain.SocialAPI
	sub       *domain.ProviderSubscription
	deleted   []string
}

func (s *stubStore) GetSocialAPIByEmail(_ context.Context, email string) (*domain.SocialAPI, error) {
	if s.socialAPI != nil && s.socialAPI.Email == email {
		return s.socialAPI, nil
	}
	return nil, nil
}

func (s *stubStore) GetSocialAPI(_ context.Context, id domain.SocialAPIID) (*domain.SocialAPI, error) {
	if s.socialAPI != nil && s.socialAPI.ID == id {
		return s.socialAPI, nil
	}
	return nil, nil
}

func (s *stubStore) GetSubscriptionByHandle(_ context.Context, handle domain.SubscriptionID) (*domain.ProviderSubscription, error) {
	if s.sub != nil && s.sub.SubscriptionID == handle {
		return s.sub, nil
	}
	return nil, nil
}

func (s *stubStore) DeleteEmailByProviderID(_ context.Context, providerID string) error {
	s.deleted = append(s.deleted, providerID)
	return nil
}

type captureQueue struct {
	jobs []jobx.Job
}

func (q *captureQueue) Enqueue(_ context.Context, job jobx.Job) (string, error) {
	q.jobs = append(q.jobs, job)
	return "job-1", nil
}

func (q *captureQueue) EnqueueDelayed(ctx context.Context, job jobx.Job, _ time.Duration) (string, error) {
	return q.Enqueue(ctx, job)
}

func newTestApp(store *stubStore, queue *captureQueue) *fiber.App {
	w := worker.New(worker.Config{
		Store:    store,
		Registry: ingest.Registry{},
		Queue:    queue,
	})
	h := New(Config{
		Store:       store,
		Worker:      w,
		Registry:    ingest.Registry{},
		ClientState: testClientState,
	})
	app := fiber.New()
	h.Register(app)
	return app
}

func TestValidationHandshakeEchoesToken(t *testing.T) {
	app := newTestApp(&stubStore{}, &captureQueue{})

	req := httptest.NewRequest("POST", "/webhook/microsoft/mail?validationToken=abc%20123", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "abc 123", string(body))
}

func msEnvelope(items ...map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{"value": items})
	return b
}

func TestClientStateMismatchIsDroppedSilently(t *testing.T) {
	store := &stubStore{sub: &domain.ProviderSubscription{SubscriptionID: "sub-1", SocialAPIID: "sa-1"}}
	queue := &captureQueue{}
	app := newTestApp(store, queue)

	body := msEnvelope(map[string]any{
		"clientState":    "wrong",
		"changeType":     "created",
		"subscriptionId": "sub-1",
		"resourceData":   map[string]any{"id": "AAM=abc"},
	})
	req := httptest.NewRequest("POST", "/webhook/microsoft/mail", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode, "mismatch still answers 2xx")
	assert.Empty(t, queue.jobs, "no work dispatched for a mismatched delivery")
	assert.Empty(t, store.deleted)
}

func TestCreatedNotificationEnqueuesIngestJob(t *testing.T) {
	store := &stubStore{sub: &domain.ProviderSubscription{SubscriptionID: "sub-1", SocialAPIID: "sa-1"}}
	queue := &captureQueue{}
	app := newTestApp(store, queue)

	body := msEnvelope(map[string]any{
		"clientState":    testClientState,
		"changeType":     "created",
		"subscriptionId": "sub-1",
		"resourceData":   map[string]any{"id": "AAM=abc"},
	})
	req := httptest.NewRequest("POST", "/webhook/microsoft/mail", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, ingest.JobIngestMessage, queue.jobs[0].Type)

	var payload ingest.MessagePayload
	require.NoError(t, json.Unmarshal(queue.jobs[0].Payload, &payload))
	assert.Equal(t, "AAM=abc", payload.ProviderMessageID)
	assert.Equal(t, "sa-1", payload.SocialAPIID)
}

func TestDeletedNotificationDeletesEmail(t *testing.T) {
	store := &stubStore{}
	queue := &captureQueue{}
	app := newTestApp(store, queue)

	body := msEnvelope(map[string]any{
		"clientState":    testClientState,
		"changeType":     "deleted",
		"subscriptionId": "sub-1",
		"resourceData":   map[string]any{"id": "AAM=gone"},
	})
	req := httptest.NewRequest("POST", "/webhook/microsoft/mail", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"AAM=gone"}, store.deleted)
	assert.Empty(t, queue.jobs)
}

func TestUnknownSubscriptionIsDropped(t *testing.T) {
	store := &stubStore{} // no subscription on record
	queue := &captureQueue{}
	app := newTestApp(store, queue)

	body := msEnvelope(map[string]any{
		"clientState":    testClientState,
		"changeType":     "created",
		"subscriptionId": "sub-unknown",
		"resourceData":   map[string]any{"id": "AAM=abc"},
	})
	req := httptest.NewRequest("POST", "/webhook/microsoft/mail", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Empty(t, queue.jobs)
}

func googleEnvelope(emailAddress, historyID, messageID string) []byte {
	inner, _ := json.Marshal(map[string]any{"emailAddress": emailAddress, "historyId": historyID})
	b, _ := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":      base64.StdEncoding.EncodeToString(inner),
			"messageId": messageID,
		},
		"subscription": "projects/p/subscriptions/s",
	})
	return b
}

func TestGooglePushEnqueuesHistoryDiff(t *testing.T) {
	store := &stubStore{socialAPI: &domain.SocialAPI{
		ID:     "sa-1",
		UserID: kernel.NewUserID("user-1"),
		Email:  "user@gmail.test",
	}}
	queue := &captureQueue{}
	app := newTestApp(store, queue)

	req := httptest.NewRequest("POST", "/webhook/google/mail", bytes.NewReader(googleEnvelope("user@gmail.test", "100", "pm-1")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, ingest.JobGoogleHistoryDiff, queue.jobs[0].Type)
}

func TestGooglePushUnknownAccountIsDropped(t *testing.T) {
	store := &stubStore{}
	queue := &captureQueue{}
	app := newTestApp(store, queue)

	req := httptest.NewRequest("POST", "/webhook/google/mail", bytes.NewReader(googleEnvelope("nobody@gmail.test", "100", "pm-1")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Empty(t, queue.jobs)
}
