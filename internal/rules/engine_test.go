package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/pkg/kernel"
)

type fakeRuleLister struct {
	rules []domain.Rule
}

func (f *fakeRuleLister) ListRulesForSender(_ context.Context, _ kernel.UserID, _ domain.SenderID) ([]domain.Rule, error) {
	return f.rules, nil
}

func TestBlockShortCircuits(t *testing.T) {
	cat := domain.CategoryID("work")
	lister := &fakeRuleLister{rules: []domain.Rule{
		{Block: true},
		{CategoryID: &cat}, // must never be consulted once a block matches
	}}
	engine := New(lister)

	decision, err := engine.Evaluate(context.Background(), kernel.NewUserID("u1"), domain.Sender{Email: "alerts@spam.test"})
	require.NoError(t, err)
	assert.True(t, decision.Block)
	assert.Nil(t, decision.ForcedCategory)
}

func TestFirstCategoryWins(t *testing.T) {
	first := domain.CategoryID("first")
	second := domain.CategoryID("second")
	lister := &fakeRuleLister{rules: []domain.Rule{
		{CategoryID: &first},
		{CategoryID: &second},
	}}
	engine := New(lister)

	decision, err := engine.Evaluate(context.Background(), kernel.NewUserID("u1"), domain.Sender{})
	require.NoError(t, err)
	require.NotNil(t, decision.ForcedCategory)
	assert.Equal(t, first, *decision.ForcedCategory)
}

func TestNoRulesYieldsNeutralDecision(t *testing.T) {
	engine := New(&fakeRuleLister{})
	decision, err := engine.Evaluate(context.Background(), kernel.NewUserID("u1"), domain.Sender{})
	require.NoError(t, err)
	assert.False(t, decision.Block)
	assert.Nil(t, decision.ForcedCategory)
	assert.Nil(t, decision.ForcedPriority)
}
