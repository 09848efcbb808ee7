// Package ingest holds the pieces shared by the orchestrator's
// subpackages: the provider registry the webhook handlers and workers
// dispatch through, and the job payloads that travel over the queue.
package ingest

import (
	"encoding/json"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ports"
)

// Job types processed by the background workers.
const (
	JobIngestMessage     = "ingest_message"
	JobGoogleHistoryDiff = "google_history_diff"
)

// QueueName is the queue every ingestion job travels on.
const QueueName = "ingest"

// MessagePayload is the payload of a JobIngestMessage job: one provider
// message to run through the full pipeline.
type MessagePayload struct {
	SocialAPIID       string `json:"social_api_id"`
	ProviderMessageID string `json:"provider_message_id"`
}

// HistoryDiffPayload is the payload of a JobGoogleHistoryDiff job: consume
// the history diff for one Google account and fan out MessagePayload jobs.
type HistoryDiffPayload struct {
	SocialAPIID string `json:"social_api_id"`
}

func (p MessagePayload) Marshal() json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

func (p HistoryDiffPayload) Marshal() json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

// Registry maps a provider type to its client. Adding a provider is a
// matter of implementing ports.ProviderClient and registering it here.
type Registry map[domain.ProviderType]ports.ProviderClient

// Get returns the client for a provider type, or nil when unregistered.
func (r Registry) Get(t domain.ProviderType) ports.ProviderClient {
	return r[t]
}
