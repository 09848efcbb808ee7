// Package backfill ingests the most recent inbox messages of a
// newly-linked account through a bounded worker pool. Every in-flight
// backfill is cancellable: unlinking the account cancels its context and
// the pool exits at the next message boundary.
package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ingest"
	"github.com/Abraxas-365/inboxcore/internal/ingest/worker"
	"github.com/Abraxas-365/inboxcore/pkg/asyncx"
	"github.com/Abraxas-365/inboxcore/pkg/logx"
)

// Manager runs and tracks per-account backfills.
type Manager struct {
	worker   *worker.Worker
	registry ingest.Registry
	poolSize int
	count    int

	mu      sync.Mutex
	cancels map[domain.SocialAPIID]context.CancelFunc
}

// Config wires a Manager.
type Config struct {
	Worker   *worker.Worker
	Registry ingest.Registry
	PoolSize int // concurrent message workers per backfill
	Count    int // how many recent messages to pull
}

func NewManager(cfg Config) *Manager {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.Count <= 0 {
		cfg.Count = 50
	}
	return &Manager{
		worker:   cfg.Worker,
		registry: cfg.Registry,
		poolSize: cfg.PoolSize,
		count:    cfg.Count,
		cancels:  make(map[domain.SocialAPIID]context.CancelFunc),
	}
}

// Start launches a backfill for the account in the background and returns
// immediately. A second Start for the same account cancels the first.
func (m *Manager) Start(sa *domain.SocialAPI) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if prev, ok := m.cancels[sa.ID]; ok {
		prev()
	}
	m.cancels[sa.ID] = cancel
	m.mu.Unlock()

	asyncx.Do(func() {
		defer m.finish(sa.ID)
		if err := m.run(ctx, sa); err != nil && ctx.Err() == nil {
			logx.WithError(err).Warnf("backfill: %s finished with error", sa.Email)
		}
	})
}

// Cancel stops the in-flight backfill for an account, if any. Called on
// unlink so no worker persists data for a deleted link.
func (m *Manager) Cancel(id domain.SocialAPIID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
}

func (m *Manager) finish(id domain.SocialAPIID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, id)
}

func (m *Manager) run(ctx context.Context, sa *domain.SocialAPI) error {
	client := m.registry.Get(sa.TypeAPI)
	if client == nil {
		return nil
	}

	token, err := m.worker.FreshToken(ctx, sa)
	if err != nil || token == "" {
		return err
	}

	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	ids, err := client.ListRecentMessages(listCtx, token, m.count)
	cancel()
	if err != nil {
		return err
	}

	logx.Infof("backfill: processing %d messages for %s", len(ids), sa.Email)

	// Each message runs the full pipeline; one bad message doesn't stop
	// the rest, so errors are logged per item rather than propagated.
	_, err = asyncx.Pool(ctx, m.poolSize, ids, func(ctx context.Context, id string) (struct{}, error) {
		if err := m.worker.ProcessMessage(ctx, sa.ID, id); err != nil {
			logx.WithError(err).Warnf("backfill: message %s failed", id)
		}
		return struct{}{}, nil
	})
	return err
}
