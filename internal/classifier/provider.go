package classifier

import (
	"context"

	"github.com/Abraxas-365/inboxcore/pkg/ai/llm"
)

// Provider is the minimal LLM capability the classifier depends on. Any of
// the pack's chat providers (aiopenai, or an Anthropic/Gemini/Bedrock
// adapter built the same way) satisfies this without the orchestrator ever
// importing a concrete SDK.
type Provider interface {
	Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Response, error)
}
