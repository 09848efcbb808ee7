// Package sweeper runs the periodic subscription maintenance loop: Google
// accounts get their history diff consumed on a schedule (a safety net for
// dropped Pub/Sub pushes), and Microsoft subscriptions are renewed or
// reauthorized before they lapse. In steady state every Microsoft
// subscription keeps more than the renewal threshold of lifetime left.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ingest"
	"github.com/Abraxas-365/inboxcore/internal/ingest/worker"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/internal/providers/msclient"
	"github.com/Abraxas-365/inboxcore/pkg/logx"
)

// Sweeper owns the periodic maintenance loop.
type Sweeper struct {
	store    ports.CredentialStore
	registry ingest.Registry
	worker   *worker.Worker
	notifier ports.Notifier
	interval time.Duration
}

// Config wires a Sweeper.
type Config struct {
	Store    ports.CredentialStore
	Registry ingest.Registry
	Worker   *worker.Worker
	Notifier ports.Notifier
	Interval time.Duration
}

func New(cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Sweeper{
		store:    cfg.Store,
		registry: cfg.Registry,
		worker:   cfg.Worker,
		notifier: cfg.Notifier,
		interval: cfg.Interval,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logx.Infof("sweeper: running every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			logx.Info("sweeper: stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one maintenance pass. Exported so a sweep can be driven
// directly in tests and ad hoc from an operator shell.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	s.sweepGoogle(ctx)
	s.sweepMicrosoft(ctx)
}

// sweepGoogle enqueues a history-diff job per Google account. The worker
// advances the watermark only after enqueueing every discovered ID.
func (s *Sweeper) sweepGoogle(ctx context.Context) {
	subs, err := s.store.ListGoogleSubscriptions(ctx)
	if err != nil {
		logx.WithError(err).Error("sweeper: listing google subscriptions failed")
		return
	}

	for _, sub := range subs {
		if sub.LastModified == "" {
			continue
		}
		if err := s.worker.EnqueueHistoryDiff(ctx, sub.SocialAPIID); err != nil {
			logx.WithError(err).Errorf("sweeper: enqueue history diff failed for %s", sub.SocialAPIID)
		}
	}
}

// sweepMicrosoft renews every subscription inside the renewal threshold
// and reauthorizes the ones flagged by a reauthorizationRequired event.
func (s *Sweeper) sweepMicrosoft(ctx context.Context) {
	subs, err := s.store.ListExpiringSubscriptions(ctx, msclient.RenewThreshold)
	if err != nil {
		logx.WithError(err).Error("sweeper: listing expiring subscriptions failed")
		return
	}

	for _, sub := range subs {
		if err := s.renewOne(ctx, sub); err != nil {
			logx.WithError(err).Errorf("sweeper: renewal failed for subscription %s", sub.SubscriptionID)
		}
	}
}

func (s *Sweeper) renewOne(ctx context.Context, sub domain.ProviderSubscription) error {
	sa, err := s.store.GetSocialAPI(ctx, sub.SocialAPIID)
	if err != nil {
		return err
	}
	if sa == nil || sa.Invalid {
		return nil
	}

	client := s.registry.Get(sa.TypeAPI)
	manager, ok := client.(ports.MicrosoftSubscriptionManager)
	if !ok {
		return nil
	}

	token, err := s.worker.FreshToken(ctx, sa)
	if err != nil || token == "" {
		return err
	}

	if sub.ReauthRequired {
		if err := manager.Reauthorize(ctx, token, sub.SubscriptionID.String()); err != nil {
			return s.resubscribe(ctx, sa, &sub, err)
		}
		sub.ReauthRequired = false
		sub.ExpiresAt = time.Now().UTC().Add(msclient.MaxSubscriptionLifetime)
		return s.store.UpsertSubscription(ctx, &sub)
	}

	newExpiry, err := manager.Renew(ctx, token, sub.SubscriptionID.String(), msclient.MaxSubscriptionLifetime)
	if err != nil {
		return s.resubscribe(ctx, sa, &sub, err)
	}
	sub.ExpiresAt = newExpiry
	return s.store.UpsertSubscription(ctx, &sub)
}

// resubscribe is the fallback when renew/reauthorize fails: the old
// subscription is presumed gone on the provider side, so create a fresh
// one. A failure here means the account has stopped receiving push
// notifications, which is worth an admin alert.
func (s *Sweeper) resubscribe(ctx context.Context, sa *domain.SocialAPI, sub *domain.ProviderSubscription, cause error) error {
	logx.WithError(cause).Warnf("sweeper: renewal failed for %s, attempting re-subscription", sa.Email)

	client := s.registry.Get(sa.TypeAPI)
	token, err := s.worker.FreshToken(ctx, sa)
	if err != nil || token == "" {
		return err
	}

	handle, err := client.Subscribe(ctx, token, msclient.MaxSubscriptionLifetime)
	if err != nil {
		_ = s.notifier.SendAdminAlert(ctx,
			fmt.Sprintf("Subscription expired for %s", sa.Email),
			fmt.Sprintf("<p>Renewal and re-subscription both failed for <b>%s</b>.</p><pre>renew: %v</pre><pre>subscribe: %v</pre>", sa.Email, cause, err))
		return err
	}

	sub.SubscriptionID = domain.SubscriptionID(handle)
	sub.ExpiresAt = time.Now().UTC().Add(msclient.MaxSubscriptionLifetime)
	sub.ReauthRequired = false
	return s.store.UpsertSubscription(ctx, sub)
}
