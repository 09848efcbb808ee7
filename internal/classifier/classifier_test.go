package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/pkg/ai/llm"
	"github.com/Abraxas-365/inboxcore/pkg/errx"
)

type fakeProvider struct {
	content string
	err     error
	lastMsg []llm.Message
}

func (f *fakeProvider) Chat(_ context.Context, messages []llm.Message, _ ...llm.Option) (llm.Response, error) {
	f.lastMsg = messages
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Message: llm.NewAssistantMessage(f.content)}, nil
}

const validFlatResponse = `{
	"topic": "Work",
	"importance": {
		"UrgentWorkInformation": 60,
		"RoutineWorkUpdates": 20,
		"InternalCommunications": 10,
		"Promotional": 0,
		"News": 0
	},
	"short_summary": "The quarterly report is due Friday.",
	"bullet_summary": ["Report due Friday", "Send to finance"],
	"suggested_answer": "Thanks, I will send it over by Friday.",
	"relevance": "direct deadline for the recipient",
	"keypoints": [
		{"category": "deadline", "organization": "Acme", "topic": "Q3 report", "content": "Due Friday"}
	]
}`

func TestClassifyParsesFlatResponse(t *testing.T) {
	p := &fakeProvider{content: validFlatResponse}
	c := New(p, Options{Model: "test-model"})

	out, err := c.Classify(context.Background(), ports.ClassifyRequest{
		Subject:             "Q3 report",
		BodyText:            "Please send the report by Friday.",
		CandidateCategories: []string{"Work", "default"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Work", out.Topic)
	assert.Equal(t, 60, out.ImportanceDistribution["UrgentWorkInformation"])
	assert.Equal(t, "The quarterly report is due Friday.", out.ShortSummary)
	assert.Len(t, out.KeyPoints, 1)
	assert.False(t, out.KeyPoints[0].IsReply)
	assert.Nil(t, out.KeyPoints[0].Position)
}

func TestClassifyUnknownTopicFallsBackToDefault(t *testing.T) {
	p := &fakeProvider{content: validFlatResponse}
	c := New(p, Options{})

	out, err := c.Classify(context.Background(), ports.ClassifyRequest{
		Subject:             "Q3 report",
		BodyText:            "body",
		CandidateCategories: []string{"Personal"}, // "Work" not a candidate
	})
	require.NoError(t, err)
	assert.Equal(t, "default", out.Topic)
}

func TestClassifyReplyGroupsKeyPointsByTurn(t *testing.T) {
	p := &fakeProvider{content: `{
		"topic": "default",
		"importance": {"UrgentWorkInformation":0,"RoutineWorkUpdates":50,"InternalCommunications":0,"Promotional":0,"News":0},
		"short_summary": "A scheduling thread converging on Tuesday.",
		"bullet_summary": ["Meeting moved to Tuesday"],
		"suggested_answer": "Tuesday works for me.",
		"relevance": "meeting the recipient attends",
		"keypoints": [
			{"position": 1, "points": [{"category":"scheduling","organization":"","topic":"meeting","content":"Proposed Monday"}]},
			{"position": 2, "points": [{"category":"scheduling","organization":"","topic":"meeting","content":"Countered with Tuesday"}]}
		]
	}`}
	c := New(p, Options{})

	out, err := c.Classify(context.Background(), ports.ClassifyRequest{
		Subject:             "Re: meeting",
		BodyText:            "body",
		CandidateCategories: []string{"default"},
		IsReply:             true,
	})
	require.NoError(t, err)

	require.Len(t, out.KeyPoints, 2)
	assert.True(t, out.KeyPoints[0].IsReply)
	require.NotNil(t, out.KeyPoints[0].Position)
	assert.Equal(t, 1, *out.KeyPoints[0].Position)
	require.NotNil(t, out.KeyPoints[1].Position)
	assert.Equal(t, 2, *out.KeyPoints[1].Position)
}

func TestClassifyMalformedResponses(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "I cannot classify this email."},
		{"missing importance key", `{
			"topic": "default",
			"importance": {"UrgentWorkInformation": 10},
			"short_summary": "s", "bullet_summary": [], "suggested_answer": "", "relevance": "", "keypoints": []
		}`},
		{"out of range score", `{
			"topic": "default",
			"importance": {"UrgentWorkInformation":150,"RoutineWorkUpdates":0,"InternalCommunications":0,"Promotional":0,"News":0},
			"short_summary": "s", "bullet_summary": [], "suggested_answer": "", "relevance": "", "keypoints": []
		}`},
		{"missing short summary", `{
			"topic": "default",
			"importance": {"UrgentWorkInformation":0,"RoutineWorkUpdates":0,"InternalCommunications":0,"Promotional":0,"News":0},
			"short_summary": "", "bullet_summary": [], "suggested_answer": "", "relevance": "", "keypoints": []
		}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(&fakeProvider{content: tt.content}, Options{})
			_, err := c.Classify(context.Background(), ports.ClassifyRequest{
				CandidateCategories: []string{"default"},
			})
			require.Error(t, err)

			var e *errx.Error
			require.True(t, errx.As(err, &e))
			assert.Equal(t, "CLASSIFIER_MALFORMED_RESPONSE", e.Code)
		})
	}
}

func TestClassifyUsesPreferenceOverrides(t *testing.T) {
	p := &fakeProvider{content: validFlatResponse}
	c := New(p, Options{})

	_, err := c.Classify(context.Background(), ports.ClassifyRequest{
		Subject:             "subject",
		BodyText:            "body",
		CandidateCategories: []string{"Work", "default"},
		Preferences: domain.Preferences{
			SystemPromptOverride: "Custom triage persona.",
			Language:             "fr",
		},
	})
	require.NoError(t, err)

	require.NotEmpty(t, p.lastMsg)
	assert.Contains(t, p.lastMsg[0].Content, "Custom triage persona.")
	assert.Contains(t, p.lastMsg[1].Content, "Answer in language: fr")
}
