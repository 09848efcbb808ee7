// Package rules implements the Rule Engine: a pure, in-memory evaluator
// over a user's sender-scoped rules, with no I/O beyond the initial rule
// lookup.
package rules

import (
	"context"

	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ports"
	"github.com/Abraxas-365/inboxcore/pkg/kernel"
)

// RuleLister is the minimal read-only slice of ports.CredentialStore the
// engine needs.
type RuleLister interface {
	ListRulesForSender(ctx context.Context, userID kernel.UserID, senderID domain.SenderID) ([]domain.Rule, error)
}

// Engine implements ports.RuleEngine.
type Engine struct {
	store RuleLister
}

func New(store RuleLister) *Engine {
	return &Engine{store: store}
}

var _ ports.RuleEngine = (*Engine)(nil)

// Evaluate applies the rule set:
//  1. Any matching rule with Block=true short-circuits the entire pipeline.
//  2. Otherwise the first rule (in stored order) with a non-nil category
//     wins and overrides the classifier's topic selection.
//  3. Rules never create new categories — a ForcedCategory always names an
//     existing Category.
func (e *Engine) Evaluate(ctx context.Context, userID kernel.UserID, sender domain.Sender) (ports.Decision, error) {
	rules, err := e.store.ListRulesForSender(ctx, userID, sender.ID)
	if err != nil {
		return ports.Decision{}, err
	}

	var decision ports.Decision
	for _, r := range rules {
		if r.Block {
			return ports.Decision{Block: true}, nil
		}
	}

	for _, r := range rules {
		if r.CategoryID != nil && decision.ForcedCategory == nil {
			decision.ForcedCategory = r.CategoryID
		}
		if r.PriorityOverride != nil && decision.ForcedPriority == nil {
			p := domain.Priority(*r.PriorityOverride)
			decision.ForcedPriority = &p
		}
	}

	return decision, nil
}
