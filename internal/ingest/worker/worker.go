// Package worker runs the background half of the ingestion pipeline: each
// queued message goes through dedup, token refresh, fetch, rule
// evaluation, classification and persistence. The jobx queue provides the
// retry machinery; this package decides which failures are worth a retry
// and which escalate straight to an admin alert.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Abraxas-365/inboxcore/internal/classifier"
	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ingest"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/pkg/errx"
	"github.com/Abraxas-365/inboxcore/pkg/fsx"
	"github.com/Abraxas-365/inboxcore/pkg/jobx"
	"github.com/Abraxas-365/inboxcore/pkg/kernel"
	"github.com/Abraxas-365/inboxcore/pkg/logx"
)

// Worker processes ingestion jobs. It is safe for concurrent use; all
// mutable state lives in the Credential Store.
type Worker struct {
	store           ports.CredentialStore
	registry        ingest.Registry
	rules           ports.RuleEngine
	classifier      ports.Classifier
	notifier        ports.Notifier
	queue           jobx.JobEnqueuer
	archive         fsx.FileSystem // optional raw-message archive; nil disables
	providerTimeout time.Duration
	maxRetries      int
}

// Config wires a Worker.
type Config struct {
	Store           ports.CredentialStore
	Registry        ingest.Registry
	Rules           ports.RuleEngine
	Classifier      ports.Classifier
	Notifier        ports.Notifier
	Queue           jobx.JobEnqueuer
	Archive         fsx.FileSystem
	ProviderTimeout time.Duration
	MaxRetries      int
}

func New(cfg Config) *Worker {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Worker{
		store:           cfg.Store,
		registry:        cfg.Registry,
		rules:           cfg.Rules,
		classifier:      cfg.Classifier,
		notifier:        cfg.Notifier,
		queue:           cfg.Queue,
		archive:         cfg.Archive,
		providerTimeout: cfg.ProviderTimeout,
		maxRetries:      cfg.MaxRetries,
	}
}

// Register installs the job handlers on a jobx client.
func (w *Worker) Register(client *jobx.Client) {
	client.Register(ingest.JobIngestMessage, w.HandleIngestMessage)
	client.Register(ingest.JobGoogleHistoryDiff, w.HandleGoogleHistoryDiff)
}

// EnqueueMessage queues one provider message for ingestion.
func (w *Worker) EnqueueMessage(ctx context.Context, socialAPIID domain.SocialAPIID, providerMessageID string) error {
	_, err := w.queue.Enqueue(ctx, jobx.Job{
		Type:       ingest.JobIngestMessage,
		Queue:      ingest.QueueName,
		MaxRetries: w.maxRetries,
		Payload: ingest.MessagePayload{
			SocialAPIID:       socialAPIID.String(),
			ProviderMessageID: providerMessageID,
		}.Marshal(),
	})
	return err
}

// EnqueueHistoryDiff queues a Google history-diff sweep for one account.
func (w *Worker) EnqueueHistoryDiff(ctx context.Context, socialAPIID domain.SocialAPIID) error {
	_, err := w.queue.Enqueue(ctx, jobx.Job{
		Type:       ingest.JobGoogleHistoryDiff,
		Queue:      ingest.QueueName,
		MaxRetries: w.maxRetries,
		Payload:    ingest.HistoryDiffPayload{SocialAPIID: socialAPIID.String()}.Marshal(),
	})
	return err
}

// HandleIngestMessage is the jobx handler for one queued message. Returning
// an error triggers the queue's retry/backoff; returning nil acknowledges
// the job. Permanent failures alert the admins and return nil so the queue
// never retries them.
func (w *Worker) HandleIngestMessage(ctx context.Context, job *jobx.JobInfo) error {
	var payload ingest.MessagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.escalate(ctx, "ingestion job payload unreadable", err, job)
		return nil
	}

	err := w.ProcessMessage(ctx, domain.SocialAPIID(payload.SocialAPIID), payload.ProviderMessageID)
	if err == nil {
		return nil
	}
	if isPermanent(err) {
		w.escalate(ctx, fmt.Sprintf("message %s failed permanently", payload.ProviderMessageID), err, job)
		return nil
	}
	if job.Attempts >= job.MaxRetries {
		w.escalate(ctx, fmt.Sprintf("message %s exhausted %d retries", payload.ProviderMessageID, job.MaxRetries), err, job)
	}
	return err
}

// HandleGoogleHistoryDiff consumes the Gmail history diff for one account:
// every discovered message ID is enqueued before the watermark advances, so
// a crash between the two re-delivers rather than drops.
func (w *Worker) HandleGoogleHistoryDiff(ctx context.Context, job *jobx.JobInfo) error {
	var payload ingest.HistoryDiffPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.escalate(ctx, "history diff payload unreadable", err, job)
		return nil
	}

	sa, err := w.store.GetSocialAPI(ctx, domain.SocialAPIID(payload.SocialAPIID))
	if err != nil {
		return err
	}
	if sa == nil || sa.Invalid {
		logx.Warnf("worker: history diff for missing/invalid account %s, dropping", payload.SocialAPIID)
		return nil
	}

	client := w.registry.Get(sa.TypeAPI)
	lister, ok := client.(ports.GoogleChangeLister)
	if !ok {
		logx.Warnf("worker: provider %s does not support history diffs", sa.TypeAPI)
		return nil
	}

	sub, err := w.store.GetSubscription(ctx, sa.ID)
	if err != nil {
		return err
	}
	if sub == nil || sub.LastModified == "" {
		logx.Warnf("worker: no watermark for account %s, skipping diff", sa.Email)
		return nil
	}

	accessToken, err := w.FreshToken(ctx, sa)
	if err != nil {
		return err
	}
	if accessToken == "" {
		return nil // refresh failed, account already marked invalid and alerted
	}

	callCtx, cancel := context.WithTimeout(ctx, w.providerTimeout)
	added, deleted, newWatermark, err := lister.ListChangesSince(callCtx, accessToken, sub.LastModified)
	cancel()
	if err != nil {
		return err
	}

	for _, id := range added {
		if err := w.EnqueueMessage(ctx, sa.ID, id); err != nil {
			return err
		}
	}
	for _, id := range deleted {
		if err := w.store.DeleteEmailByProviderID(ctx, id); err != nil {
			return err
		}
	}

	sub.LastModified = newWatermark
	return w.store.UpsertSubscription(ctx, sub)
}

// ProcessMessage runs the full pipeline for one provider message. It is
// called both from the queue handler and directly from the backfill pool.
func (w *Worker) ProcessMessage(ctx context.Context, socialAPIID domain.SocialAPIID, providerMessageID string) error {
	sa, err := w.store.GetSocialAPI(ctx, socialAPIID)
	if err != nil {
		return err
	}
	if sa == nil || sa.Invalid {
		logx.Warnf("worker: account %s gone or invalid, dropping message %s", socialAPIID, providerMessageID)
		return nil
	}

	exists, err := w.store.EmailExists(ctx, providerMessageID)
	if err != nil {
		return err
	}
	if exists {
		logx.Infof("worker: duplicate message %s, acking", providerMessageID)
		return nil
	}

	client := w.registry.Get(sa.TypeAPI)
	if client == nil {
		return errx.Internal("no provider client registered for " + string(sa.TypeAPI))
	}

	accessToken, err := w.FreshToken(ctx, sa)
	if err != nil {
		return err
	}
	if accessToken == "" {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.providerTimeout)
	msg, err := client.FetchMessage(fetchCtx, accessToken, providerMessageID)
	cancel()
	if err != nil {
		return err
	}

	if msg.BodyText == "" {
		logx.Infof("worker: message %s empty after normalization, skipping", providerMessageID)
		return nil
	}

	sender, err := w.store.GetOrCreateSender(ctx, msg.FromEmail, msg.FromName)
	if err != nil {
		return err
	}

	decision, err := w.rules.Evaluate(ctx, sa.UserID, *sender)
	if err != nil {
		return err
	}
	if decision.Block {
		logx.Infof("worker: sender %s blocked by rule, acking message %s", sender.Email, providerMessageID)
		return nil
	}

	w.archiveMessage(ctx, sa, providerMessageID, msg)

	categories, err := w.store.ListCategories(ctx, sa.UserID)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}

	classification, err := w.classifier.Classify(ctx, ports.ClassifyRequest{
		Subject:             msg.Subject,
		BodyText:            msg.BodyText,
		CandidateCategories: names,
		UserDescription:     sa.UserDescription,
		IsReply:             msg.IsReply,
	})
	if err != nil {
		return err
	}

	category, err := w.resolveCategory(ctx, sa.UserID, decision, classification.Topic)
	if err != nil {
		return err
	}

	priority := classifier.ProjectPriority(classification.ImportanceDistribution)
	if decision.ForcedPriority != nil {
		priority = *decision.ForcedPriority
	}

	// The account can be unlinked while we were classifying; persisting
	// would then resurrect data for a deleted link.
	if current, err := w.store.GetSocialAPI(ctx, sa.ID); err != nil {
		return err
	} else if current == nil {
		logx.Warnf("worker: account %s deleted mid-flight, dropping message %s", sa.ID, providerMessageID)
		return nil
	}

	email := &domain.Email{
		SocialAPIID:     sa.ID,
		ProviderID:      providerMessageID,
		Provider:        sa.TypeAPI,
		Subject:         msg.Subject,
		Content:         msg.BodyText,
		ShortSummary:    classification.ShortSummary,
		Priority:        priority,
		SenderID:        sender.ID,
		CategoryID:      category.ID,
		UserID:          sa.UserID,
		Date:            msg.SentAt,
		HasAttachments:  msg.HasAttachments,
		WebLink:         msg.WebLink,
		SuggestedAnswer: classification.SuggestedAnswer,
		Relevance:       classification.Relevance,
	}

	bullets := make([]domain.BulletPoint, 0, len(classification.BulletSummary))
	for _, b := range classification.BulletSummary {
		bullets = append(bullets, domain.BulletPoint{Content: b})
	}

	err = w.store.CreateEmail(ctx, email, classification.KeyPoints, bullets)
	if isConflict(err) {
		logx.Infof("worker: lost insert race for message %s, acking", providerMessageID)
		return nil
	}
	return err
}

// FreshToken probes and refreshes the account's access token, persisting a
// rotated token last-writer-wins. An empty return means the refresh token
// is dead: the account has been marked invalid and admins alerted, and the
// caller must drop the message without retrying.
func (w *Worker) FreshToken(ctx context.Context, sa *domain.SocialAPI) (string, error) {
	client := w.registry.Get(sa.TypeAPI)
	if client == nil {
		return "", errx.Internal("no provider client registered for " + string(sa.TypeAPI))
	}

	refreshCtx, cancel := context.WithTimeout(ctx, w.providerTimeout)
	token, err := client.Refresh(refreshCtx, sa.AccessToken, sa.RefreshToken)
	cancel()
	if err != nil {
		return "", err
	}
	if token == "" {
		logx.Warnf("worker: refresh token dead for %s, marking invalid", sa.Email)
		if err := w.store.MarkSocialAPIInvalid(ctx, sa.ID); err != nil {
			return "", err
		}
		w.alert(ctx,
			fmt.Sprintf("Refresh token revoked for %s", sa.Email),
			fmt.Sprintf("<p>The refresh token for <b>%s</b> (%s) was rejected by the provider. The account was marked invalid; the user must re-link it.</p>", sa.Email, sa.TypeAPI))
		return "", nil
	}

	if token != sa.AccessToken {
		if err := w.store.UpdateTokens(ctx, sa.ID, token, sa.RefreshToken); err != nil {
			return "", err
		}
	}
	return token, nil
}

func (w *Worker) resolveCategory(ctx context.Context, userID kernel.UserID, decision ports.Decision, topic string) (*domain.Category, error) {
	if decision.ForcedCategory != nil {
		cats, err := w.store.ListCategories(ctx, userID)
		if err != nil {
			return nil, err
		}
		for i := range cats {
			if cats[i].ID == *decision.ForcedCategory {
				return &cats[i], nil
			}
		}
	}

	cat, err := w.store.GetCategoryByName(ctx, userID, topic)
	if err != nil {
		return nil, err
	}
	if cat != nil {
		return cat, nil
	}
	return w.store.GetOrCreateDefaultCategory(ctx, userID)
}

func (w *Worker) archiveMessage(ctx context.Context, sa *domain.SocialAPI, providerMessageID string, msg domain.CanonicalMessage) {
	if w.archive == nil {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	path := w.archive.Join(string(sa.TypeAPI), providerMessageID+".json")
	if err := w.archive.WriteFile(ctx, path, raw); err != nil {
		logx.WithError(err).Warnf("worker: archive write failed for %s", providerMessageID)
	}
}

func (w *Worker) escalate(ctx context.Context, summary string, cause error, job *jobx.JobInfo) {
	logx.WithError(cause).Errorf("worker: escalating: %s", summary)
	w.alert(ctx,
		"Ingestion failure: "+summary,
		fmt.Sprintf("<p><b>%s</b></p><p>Job %s (type %s, attempt %d/%d)</p><pre>%v</pre>",
			summary, job.ID, job.Type, job.Attempts, job.MaxRetries, cause))
}

func (w *Worker) alert(ctx context.Context, subject, htmlBody string) {
	// Best effort, never gates the pipeline.
	_ = w.notifier.SendAdminAlert(ctx, subject, htmlBody)
}

// isPermanent reports whether an error must never be retried: decryption
// failures and encryption-key problems are fatal for the affected record.
func isPermanent(err error) bool {
	var e *errx.Error
	if !errx.As(err, &e) {
		return false
	}
	switch e.Code {
	case "STORE_DECRYPT", "STORE_ENCRYPT", "VAULTX_DECRYPT_FAILED", "VAULTX_KEY_NOT_CONFIGURED":
		return true
	}
	return false
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var e *errx.Error
	return errx.As(err, &e) && e.Type == errx.TypeConflict
}
