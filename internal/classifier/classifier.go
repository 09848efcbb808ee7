// Package classifier enriches a canonical email with an LLM-derived topic,
// importance distribution, summaries, key points and a suggested reply. It
// is the only component in the module that makes outbound LLM calls; every
// backend is plugged in through the Provider interface so the concrete
// vendor is a container-wiring decision, not a code change here.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/pkg/ai/llm"
	"github.com/Abraxas-365/inboxcore/pkg/logx"
	"github.com/Abraxas-365/inboxcore/pkg/ptrx"
)

// Classifier implements ports.Classifier on top of a chat-capable Provider.
type Classifier struct {
	provider    Provider
	model       string
	readTimeout time.Duration
}

var _ ports.Classifier = (*Classifier)(nil)

// Options configures the classifier.
type Options struct {
	Model       string
	ReadTimeout time.Duration
}

func New(provider Provider, opts Options) *Classifier {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 120 * time.Second
	}
	return &Classifier{
		provider:    provider,
		model:       opts.Model,
		readTimeout: opts.ReadTimeout,
	}
}

const systemPrompt = `You are an email triage assistant. You receive one email and respond with a single JSON object, nothing else. Score how the email falls into each importance bucket (0-100 each, independent scores):
- UrgentWorkInformation: time-sensitive work the recipient must act on
- RoutineWorkUpdates: ordinary work communication
- InternalCommunications: organizational or team-internal messages
- Promotional: marketing, offers, newsletters trying to sell
- News: informational digests and news content

Pick "topic" strictly from the candidate category list you are given. Write "short_summary" as exactly one sentence. "bullet_summary" holds 2-5 short bullets. "suggested_answer" is a polite, complete reply the recipient could send as-is; leave it empty if no reply makes sense. "relevance" is a short phrase describing why this email matters (or does not) to this recipient.`

const keypointsFlatInstruction = `"keypoints" is a flat array; each entry has "category", "organization", "topic" and "content" describing one key fact from the email.`

const keypointsReplyInstruction = `This email is a reply in a conversation. "keypoints" is an array of turns; each turn has "position" (1-based, chronological) and "points", an array of {"category","organization","topic","content"} for that turn. Summarize the whole visible conversation turn by turn.`

// rawClassification is the wire shape the model is asked to produce. Key
// points are decoded separately since their shape depends on IsReply.
type rawClassification struct {
	Topic           string          `json:"topic"`
	Importance      map[string]int  `json:"importance"`
	ShortSummary    string          `json:"short_summary"`
	BulletSummary   []string        `json:"bullet_summary"`
	SuggestedAnswer string          `json:"suggested_answer"`
	Relevance       string          `json:"relevance"`
	KeyPoints       json.RawMessage `json:"keypoints"`
}

type rawKeyPoint struct {
	Category     string `json:"category"`
	Organization string `json:"organization"`
	Topic        string `json:"topic"`
	Content      string `json:"content"`
}

type rawTurn struct {
	Position int           `json:"position"`
	Points   []rawKeyPoint `json:"points"`
}

// Classify runs one chat completion and validates the structured result.
// A response that fails validation surfaces as ErrMalformed so the worker
// can retry up to its cap before escalating.
func (c *Classifier) Classify(ctx context.Context, req ports.ClassifyRequest) (ports.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	system := systemPrompt
	if req.Preferences.SystemPromptOverride != "" {
		system = req.Preferences.SystemPromptOverride
	}
	if req.IsReply {
		system += "\n\n" + keypointsReplyInstruction
	} else {
		system += "\n\n" + keypointsFlatInstruction
	}

	opts := []llm.Option{
		llm.WithTemperature(0),
		llm.WithJSONSchemaResponseFormat(responseSchema(req.IsReply)),
	}
	if c.model != "" {
		opts = append(opts, llm.WithModel(c.model))
	}

	resp, err := c.provider.Chat(ctx, []llm.Message{
		llm.NewSystemMessage(system),
		llm.NewUserMessage(userPrompt(req)),
	}, opts...)
	if err != nil {
		return ports.Classification{}, classifierErrors.NewWithCause(ErrProviderCall, err)
	}

	out, err := parseResponse(resp.Message.TextContent(), req)
	if err != nil {
		logx.WithError(err).Warn("classifier: model response failed validation")
		return ports.Classification{}, err
	}
	return out, nil
}

func userPrompt(req ports.ClassifyRequest) string {
	var sb strings.Builder
	sb.WriteString("Candidate categories: ")
	sb.WriteString(strings.Join(req.CandidateCategories, ", "))
	sb.WriteByte('\n')
	if req.UserDescription != "" {
		sb.WriteString("About the recipient: ")
		sb.WriteString(req.UserDescription)
		sb.WriteByte('\n')
	}
	if req.Preferences.Language != "" {
		sb.WriteString("Answer in language: ")
		sb.WriteString(req.Preferences.Language)
		sb.WriteByte('\n')
	}
	sb.WriteString("\nSubject: ")
	sb.WriteString(req.Subject)
	sb.WriteString("\n\nBody:\n")
	sb.WriteString(req.BodyText)
	return sb.String()
}

func parseResponse(content string, req ports.ClassifyRequest) (ports.Classification, error) {
	content = strings.TrimSpace(content)
	// Some models wrap JSON in a fenced block even under a schema format.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw rawClassification
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return ports.Classification{}, classifierErrors.NewWithCause(ErrMalformed, err)
	}

	dist := make(map[string]int, len(importanceKeys))
	for _, k := range importanceKeys {
		v, ok := raw.Importance[k]
		if !ok {
			return ports.Classification{}, classifierErrors.New(ErrMalformed).WithDetail("missing_importance_key", k)
		}
		if v < 0 || v > 100 {
			return ports.Classification{}, classifierErrors.New(ErrMalformed).WithDetail("out_of_range", fmt.Sprintf("%s=%d", k, v))
		}
		dist[k] = v
	}

	if raw.ShortSummary == "" {
		return ports.Classification{}, classifierErrors.New(ErrMalformed).WithDetail("missing", "short_summary")
	}

	topic := raw.Topic
	if !containsFold(req.CandidateCategories, topic) {
		topic = domain.DefaultCategoryName
	}

	keyPoints, err := parseKeyPoints(raw.KeyPoints, req.IsReply)
	if err != nil {
		return ports.Classification{}, err
	}

	return ports.Classification{
		Topic:                  topic,
		ImportanceDistribution: dist,
		SuggestedAnswer:        raw.SuggestedAnswer,
		BulletSummary:          raw.BulletSummary,
		ShortSummary:           raw.ShortSummary,
		Relevance:              raw.Relevance,
		KeyPoints:              keyPoints,
	}, nil
}

func parseKeyPoints(raw json.RawMessage, isReply bool) ([]domain.KeyPoint, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	if isReply {
		var turns []rawTurn
		if err := json.Unmarshal(raw, &turns); err != nil {
			return nil, classifierErrors.NewWithCause(ErrMalformed, err).WithDetail("field", "keypoints")
		}
		var out []domain.KeyPoint
		for _, t := range turns {
			for _, p := range t.Points {
				out = append(out, domain.KeyPoint{
					IsReply:      true,
					Position:     ptrx.Int(t.Position),
					Category:     p.Category,
					Organization: p.Organization,
					Topic:        p.Topic,
					Content:      p.Content,
				})
			}
		}
		return out, nil
	}

	var flat []rawKeyPoint
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, classifierErrors.NewWithCause(ErrMalformed, err).WithDetail("field", "keypoints")
	}
	out := make([]domain.KeyPoint, 0, len(flat))
	for _, p := range flat {
		out = append(out, domain.KeyPoint{
			Category:     p.Category,
			Organization: p.Organization,
			Topic:        p.Topic,
			Content:      p.Content,
		})
	}
	return out, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func responseSchema(isReply bool) map[string]any {
	importanceProps := map[string]any{}
	for _, k := range importanceKeys {
		importanceProps[k] = map[string]any{"type": "integer", "minimum": 0, "maximum": 100}
	}

	keyPointProps := map[string]any{
		"category":     map[string]any{"type": "string"},
		"organization": map[string]any{"type": "string"},
		"topic":        map[string]any{"type": "string"},
		"content":      map[string]any{"type": "string"},
	}
	keyPointItem := map[string]any{
		"type":                 "object",
		"properties":           keyPointProps,
		"required":             []string{"category", "organization", "topic", "content"},
		"additionalProperties": false,
	}

	var keypoints map[string]any
	if isReply {
		keypoints = map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"position": map[string]any{"type": "integer", "minimum": 1},
					"points":   map[string]any{"type": "array", "items": keyPointItem},
				},
				"required":             []string{"position", "points"},
				"additionalProperties": false,
			},
		}
	} else {
		keypoints = map[string]any{"type": "array", "items": keyPointItem}
	}

	return map[string]any{
		"name": "email_classification",
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic": map[string]any{"type": "string"},
				"importance": map[string]any{
					"type":                 "object",
					"properties":           importanceProps,
					"required":             importanceKeys,
					"additionalProperties": false,
				},
				"short_summary":    map[string]any{"type": "string"},
				"bullet_summary":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"suggested_answer": map[string]any{"type": "string"},
				"relevance":        map[string]any{"type": "string"},
				"keypoints":        keypoints,
			},
			"required": []string{
				"topic", "importance", "short_summary", "bullet_summary",
				"suggested_answer", "relevance", "keypoints",
			},
			"additionalProperties": false,
		},
		"strict": true,
	}
}
