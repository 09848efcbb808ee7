package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ingest"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/pkg/errx"
	"github.com/Abraxas-365/inboxcore/pkg/jobx"
	"github.com/Abraxas-365/inboxcore/pkg/kernel"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu         sync.Mutex
	socialAPIs map[domain.SocialAPIID]*domain.SocialAPI
	emails     map[string]*domain.Email
	categories []domain.Category
	rules      []domain.Rule
	senders    map[string]*domain.Sender
	subs       map[domain.SocialAPIID]*domain.ProviderSubscription

	invalidated []domain.SocialAPIID
	tokenWrites int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		socialAPIs: map[domain.SocialAPIID]*domain.SocialAPI{},
		emails:     map[string]*domain.Email{},
		senders:    map[string]*domain.Sender{},
		subs:       map[domain.SocialAPIID]*domain.ProviderSubscription{},
	}
}

var _ ports.CredentialStore = (*fakeStore)(nil)

func (s *fakeStore) GetSocialAPIByEmail(_ context.Context, email string) (*domain.SocialAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sa := range s.socialAPIs {
		if sa.Email == email {
			return sa, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetSocialAPI(_ context.Context, id domain.SocialAPIID) (*domain.SocialAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socialAPIs[id], nil
}

func (s *fakeStore) CreateSocialAPI(_ context.Context, sa *domain.SocialAPI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socialAPIs[sa.ID] = sa
	return nil
}

func (s *fakeStore) UpdateTokens(_ context.Context, id domain.SocialAPIID, accessToken, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sa, ok := s.socialAPIs[id]; ok {
		sa.AccessToken = accessToken
	}
	s.tokenWrites++
	return nil
}

func (s *fakeStore) MarkSocialAPIInvalid(_ context.Context, id domain.SocialAPIID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sa, ok := s.socialAPIs[id]; ok {
		sa.Invalid = true
	}
	s.invalidated = append(s.invalidated, id)
	return nil
}

func (s *fakeStore) DeleteSocialAPI(_ context.Context, id domain.SocialAPIID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.socialAPIs, id)
	return nil
}

func (s *fakeStore) GetSubscription(_ context.Context, id domain.SocialAPIID) (*domain.ProviderSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[id], nil
}

func (s *fakeStore) GetSubscriptionByHandle(_ context.Context, handle domain.SubscriptionID) (*domain.ProviderSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.SubscriptionID == handle {
			return sub, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpsertSubscription(_ context.Context, sub *domain.ProviderSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.SocialAPIID] = sub
	return nil
}

func (s *fakeStore) ListExpiringSubscriptions(context.Context, time.Duration) ([]domain.ProviderSubscription, error) {
	return nil, nil
}

func (s *fakeStore) ListGoogleSubscriptions(context.Context) ([]domain.ProviderSubscription, error) {
	return nil, nil
}

func (s *fakeStore) GetOrCreateSender(_ context.Context, email, name string) (*domain.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sender, ok := s.senders[email]; ok {
		return sender, nil
	}
	sender := &domain.Sender{ID: domain.SenderID("sender-" + email), Email: email, Name: name}
	s.senders[email] = sender
	return sender, nil
}

func (s *fakeStore) ListRulesForSender(_ context.Context, userID kernel.UserID, senderID domain.SenderID) ([]domain.Rule, error) {
	var out []domain.Rule
	for _, r := range s.rules {
		if r.UserID == userID && r.SenderID == senderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) ListCategories(_ context.Context, userID kernel.UserID) ([]domain.Category, error) {
	var out []domain.Category
	for _, c := range s.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) GetOrCreateDefaultCategory(ctx context.Context, userID kernel.UserID) (*domain.Category, error) {
	if cat, _ := s.GetCategoryByName(ctx, userID, domain.DefaultCategoryName); cat != nil {
		return cat, nil
	}
	cat := domain.Category{ID: "cat-default", UserID: userID, Name: domain.DefaultCategoryName}
	s.categories = append(s.categories, cat)
	return &cat, nil
}

func (s *fakeStore) GetCategoryByName(_ context.Context, userID kernel.UserID, name string) (*domain.Category, error) {
	for i := range s.categories {
		if s.categories[i].UserID == userID && s.categories[i].Name == name {
			return &s.categories[i], nil
		}
	}
	return nil, nil
}

func (s *fakeStore) EmailExists(_ context.Context, providerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.emails[providerID]
	return ok, nil
}

func (s *fakeStore) CreateEmail(_ context.Context, email *domain.Email, _ []domain.KeyPoint, _ []domain.BulletPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[email.ProviderID]; ok {
		return errx.New("duplicate provider_id", errx.TypeConflict)
	}
	s.emails[email.ProviderID] = email
	return nil
}

func (s *fakeStore) DeleteEmailByProviderID(_ context.Context, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.emails, providerID)
	return nil
}

type fakeProvider struct {
	typeAPI      domain.ProviderType
	refreshToken string // returned by Refresh; "" simulates a dead refresh token
	message      domain.CanonicalMessage
	fetchErr     error
}

var _ ports.ProviderClient = (*fakeProvider)(nil)

func (p *fakeProvider) Type() domain.ProviderType { return p.typeAPI }

func (p *fakeProvider) ExchangeAuthorizationCode(context.Context, string, string) (string, string, string, error) {
	return "", "", "", nil
}

func (p *fakeProvider) Refresh(context.Context, string, string) (string, error) {
	return p.refreshToken, nil
}

func (p *fakeProvider) FetchMessage(context.Context, string, string) (domain.CanonicalMessage, error) {
	return p.message, p.fetchErr
}

func (p *fakeProvider) Subscribe(context.Context, string, time.Duration) (string, error) {
	return "sub-1", nil
}

func (p *fakeProvider) Unsubscribe(context.Context, string, string) error { return nil }

func (p *fakeProvider) ListRecentMessages(context.Context, string, int) ([]string, error) {
	return nil, nil
}

type fakeClassifier struct {
	result ports.Classification
	err    error
	calls  int
}

func (c *fakeClassifier) Classify(context.Context, ports.ClassifyRequest) (ports.Classification, error) {
	c.calls++
	return c.result, c.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *fakeNotifier) SendAdminAlert(_ context.Context, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, subject)
	return nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []jobx.Job
}

func (q *fakeQueue) Enqueue(_ context.Context, job jobx.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return "job-1", nil
}

func (q *fakeQueue) EnqueueDelayed(ctx context.Context, job jobx.Job, _ time.Duration) (string, error) {
	return q.Enqueue(ctx, job)
}

type passRules struct{ decision ports.Decision }

func (r passRules) Evaluate(context.Context, kernel.UserID, domain.Sender) (ports.Decision, error) {
	return r.decision, nil
}

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

const (
	testSocialAPIID = domain.SocialAPIID("sa-1")
	testUserID      = "user-1"
)

func classification() ports.Classification {
	return ports.Classification{
		Topic: "Work",
		ImportanceDistribution: map[string]int{
			"UrgentWorkInformation":  60,
			"RoutineWorkUpdates":     0,
			"InternalCommunications": 0,
			"Promotional":            0,
			"News":                   0,
		},
		ShortSummary: "A deadline approaches.",
	}
}

func fixture(decision ports.Decision) (*Worker, *fakeStore, *fakeNotifier, *fakeClassifier, *fakeQueue) {
	store := newFakeStore()
	store.socialAPIs[testSocialAPIID] = &domain.SocialAPI{
		ID:           testSocialAPIID,
		UserID:       kernel.NewUserID(testUserID),
		Email:        "user@example.test",
		TypeAPI:      domain.ProviderGoogle,
		AccessToken:  "tok",
		RefreshToken: "refresh",
	}
	store.categories = []domain.Category{
		{ID: "cat-default", UserID: kernel.NewUserID(testUserID), Name: domain.DefaultCategoryName},
		{ID: "cat-work", UserID: kernel.NewUserID(testUserID), Name: "Work"},
	}

	provider := &fakeProvider{
		typeAPI:      domain.ProviderGoogle,
		refreshToken: "tok",
		message: domain.CanonicalMessage{
			Subject:   "Q3 report",
			FromName:  "Alice",
			FromEmail: "alice@example.test",
			BodyText:  "Please send the report.",
			SentAt:    time.Now().UTC(),
		},
	}

	cls := &fakeClassifier{result: classification()}
	notifier := &fakeNotifier{}
	queue := &fakeQueue{}

	w := New(Config{
		Store:      store,
		Registry:   ingest.Registry{domain.ProviderGoogle: provider},
		Rules:      passRules{decision: decision},
		Classifier: cls,
		Notifier:   notifier,
		Queue:      queue,
	})
	return w, store, notifier, cls, queue
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestProcessMessagePersistsEnrichedEmail(t *testing.T) {
	w, store, _, _, _ := fixture(ports.Decision{})

	require.NoError(t, w.ProcessMessage(context.Background(), testSocialAPIID, "msg-1"))

	email := store.emails["msg-1"]
	require.NotNil(t, email)
	assert.Equal(t, domain.PriorityImportant, email.Priority)
	assert.Equal(t, domain.CategoryID("cat-work"), email.CategoryID)
	assert.Equal(t, "A deadline approaches.", email.ShortSummary)
}

func TestProcessMessageDuplicateIsNoOp(t *testing.T) {
	w, store, _, cls, _ := fixture(ports.Decision{})
	store.emails["msg-1"] = &domain.Email{ProviderID: "msg-1"}

	require.NoError(t, w.ProcessMessage(context.Background(), testSocialAPIID, "msg-1"))
	assert.Zero(t, cls.calls, "classifier must not run for a duplicate")
	assert.Len(t, store.emails, 1)
}

func TestProcessMessageBlockRuleShortCircuits(t *testing.T) {
	w, store, _, cls, _ := fixture(ports.Decision{Block: true})

	require.NoError(t, w.ProcessMessage(context.Background(), testSocialAPIID, "msg-1"))
	assert.Zero(t, cls.calls, "classifier must not run for a blocked sender")
	assert.Empty(t, store.emails)
}

func TestProcessMessageForcedCategoryWins(t *testing.T) {
	forced := domain.CategoryID("cat-default")
	w, store, _, _, _ := fixture(ports.Decision{ForcedCategory: &forced})

	require.NoError(t, w.ProcessMessage(context.Background(), testSocialAPIID, "msg-1"))
	require.NotNil(t, store.emails["msg-1"])
	assert.Equal(t, forced, store.emails["msg-1"].CategoryID)
}

func TestProcessMessageEmptyBodySkipsClassifier(t *testing.T) {
	w, store, _, cls, _ := fixture(ports.Decision{})
	w.registry[domain.ProviderGoogle].(*fakeProvider).message.BodyText = ""

	require.NoError(t, w.ProcessMessage(context.Background(), testSocialAPIID, "msg-1"))
	assert.Zero(t, cls.calls)
	assert.Empty(t, store.emails)
}

func TestProcessMessageDeadRefreshTokenInvalidatesAndAlerts(t *testing.T) {
	w, store, notifier, _, _ := fixture(ports.Decision{})
	w.registry[domain.ProviderGoogle].(*fakeProvider).refreshToken = ""

	require.NoError(t, w.ProcessMessage(context.Background(), testSocialAPIID, "msg-1"))

	assert.Contains(t, store.invalidated, testSocialAPIID)
	assert.Empty(t, store.emails)
	require.Len(t, notifier.alerts, 1)
	assert.Contains(t, notifier.alerts[0], "Refresh token revoked")
}

func TestProcessMessageMissingAccountDropsCleanly(t *testing.T) {
	w, store, notifier, _, _ := fixture(ports.Decision{})
	delete(store.socialAPIs, testSocialAPIID)

	require.NoError(t, w.ProcessMessage(context.Background(), testSocialAPIID, "msg-1"))
	assert.Empty(t, store.emails)
	assert.Empty(t, notifier.alerts)
}

func TestProcessMessageInsertRaceIsSuccess(t *testing.T) {
	w, store, _, _, _ := fixture(ports.Decision{})

	require.NoError(t, w.ProcessMessage(context.Background(), testSocialAPIID, "msg-1"))

	// Simulate the loser of a racing insert: the dedup check misses but the
	// insert hits the unique constraint. The conflict must read as success.
	w.store = conflictOnCreate{fakeStore: store}
	require.NoError(t, w.ProcessMessage(context.Background(), testSocialAPIID, "msg-2"))
	assert.Nil(t, store.emails["msg-2"], "loser must not double-insert")
}

// conflictOnCreate reports every insert as a unique-constraint conflict.
type conflictOnCreate struct {
	*fakeStore
}

func (c conflictOnCreate) EmailExists(context.Context, string) (bool, error) { return false, nil }

func (c conflictOnCreate) CreateEmail(context.Context, *domain.Email, []domain.KeyPoint, []domain.BulletPoint) error {
	return errx.New("duplicate provider_id", errx.TypeConflict)
}

func TestHandleIngestMessageEscalatesOnExhaustedRetries(t *testing.T) {
	w, _, notifier, _, _ := fixture(ports.Decision{})
	w.registry[domain.ProviderGoogle].(*fakeProvider).fetchErr = errx.New("boom", errx.TypeExternal)

	payload, _ := json.Marshal(ingest.MessagePayload{
		SocialAPIID:       testSocialAPIID.String(),
		ProviderMessageID: "msg-1",
	})
	job := &jobx.JobInfo{ID: "j1", Type: ingest.JobIngestMessage, Payload: payload, Attempts: 3, MaxRetries: 3}

	err := w.HandleIngestMessage(context.Background(), job)
	require.Error(t, err, "transient failure still returns the error to the queue")
	require.Len(t, notifier.alerts, 1)
	assert.Contains(t, notifier.alerts[0], "exhausted")
}

func TestHandleIngestMessageTransientFailureBeforeCapDoesNotAlert(t *testing.T) {
	w, _, notifier, _, _ := fixture(ports.Decision{})
	w.registry[domain.ProviderGoogle].(*fakeProvider).fetchErr = errx.New("boom", errx.TypeExternal)

	payload, _ := json.Marshal(ingest.MessagePayload{
		SocialAPIID:       testSocialAPIID.String(),
		ProviderMessageID: "msg-1",
	})
	job := &jobx.JobInfo{ID: "j1", Type: ingest.JobIngestMessage, Payload: payload, Attempts: 1, MaxRetries: 3}

	require.Error(t, w.HandleIngestMessage(context.Background(), job))
	assert.Empty(t, notifier.alerts)
}

func TestEnqueueMessageCarriesPayload(t *testing.T) {
	w, _, _, _, queue := fixture(ports.Decision{})

	require.NoError(t, w.EnqueueMessage(context.Background(), testSocialAPIID, "msg-9"))
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, ingest.JobIngestMessage, queue.jobs[0].Type)

	var payload ingest.MessagePayload
	require.NoError(t, json.Unmarshal(queue.jobs[0].Payload, &payload))
	assert.Equal(t, "msg-9", payload.ProviderMessageID)
}
