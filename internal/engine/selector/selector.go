// Package selector picks the automation to send for a doubt-type message:
// topic gate, compiled eligibility rule, cooldown, then priority order with
// a stable catalog-order tie-break.
package selector

import (
	"context"
	"sort"
	"strings"
	"time"

	"leadflow_backend/internal/catalog/service"
	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/platform/logger"
)

// Selector evaluates catalog automations against the environment.
type Selector struct {
	catalog  *service.Service
	cooldown time.Duration
	log      *logger.Logger
	now      func() time.Time
}

// New creates a selector. cooldown guards against re-sending the same
// automation in quick succession.
func New(catalog *service.Service, cooldown time.Duration, log *logger.Logger) *Selector {
	return &Selector{
		catalog:  catalog,
		cooldown: cooldown,
		log:      log,
		now:      time.Now,
	}
}

// Select returns the action for the best eligible automation, or nil when
// nothing in the catalog applies.
func (s *Selector) Select(ctx context.Context, env *domain.Environment, state *domain.ContextState) (*domain.Action, *service.Automation, error) {
	automations, err := s.catalog.Automations(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(automations) == 0 {
		return nil, nil, nil
	}

	text := strings.ToLower(env.InboundText())

	eligible := make([]*service.Automation, 0, len(automations))
	for i := range automations {
		auto := &automations[i]
		if !s.isEligible(auto, &env.Snapshot, text) {
			continue
		}
		if s.inCooldown(auto.ID, state) {
			s.log.Debug("automation in cooldown", "automation", auto.ID)
			continue
		}
		eligible = append(eligible, auto)
	}
	if len(eligible) == 0 {
		return nil, nil, nil
	}

	// Highest priority first; catalog order breaks ties deterministically.
	sort.SliceStable(eligible, func(a, b int) bool {
		if eligible[a].Priority != eligible[b].Priority {
			return eligible[a].Priority > eligible[b].Priority
		}
		return eligible[a].Index < eligible[b].Index
	})

	chosen := eligible[0]
	action := ToAction(chosen)
	return &action, chosen, nil
}

// IsApplicable is the guardrail used for model-proposed automations: the
// automation must exist, pass its own eligibility, and be out of cooldown.
func (s *Selector) IsApplicable(ctx context.Context, id string, env *domain.Environment, state *domain.ContextState) (bool, *service.Automation, error) {
	auto, ok, err := s.catalog.AutomationByID(ctx, id)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}
	if !auto.RuleOK || !auto.Rule.Satisfied(&env.Snapshot) {
		return false, nil, nil
	}
	if s.inCooldown(auto.ID, state) {
		return false, nil, nil
	}
	return true, auto, nil
}

func (s *Selector) isEligible(auto *service.Automation, snap *domain.Snapshot, text string) bool {
	if !topicMatches(auto, text) {
		return false
	}
	// An uncompilable rule never becomes eligible.
	if !auto.RuleOK {
		return false
	}
	return auto.Rule.Satisfied(snap)
}

// topicMatches accepts when the topic appears in the message, or failing
// that, when any use_when word does. Automations without a topic match
// any message.
func topicMatches(auto *service.Automation, text string) bool {
	if auto.Topic == "" {
		return true
	}
	if strings.Contains(text, strings.ToLower(auto.Topic)) {
		return true
	}
	for _, word := range strings.Fields(strings.ToLower(auto.UseWhen)) {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

func (s *Selector) inCooldown(automationID string, state *domain.ContextState) bool {
	if state == nil || state.LastAutomation == nil || s.cooldown <= 0 {
		return false
	}
	if state.LastAutomation.AutomationID != automationID {
		return false
	}
	return s.now().Sub(state.LastAutomation.SentAt) < s.cooldown
}

// ToAction converts a catalog automation to a plan action.
func ToAction(auto *service.Automation) domain.Action {
	action := domain.Action{
		Text:         auto.Output.Text,
		Track:        auto.Output.Track,
		AutomationID: auto.ID,
	}

	switch auto.Output.Type {
	case "buttons":
		action.Type = domain.ActionSendButtons
		for _, b := range auto.Output.Buttons {
			action.Buttons = append(action.Buttons, domain.Button{Label: b.Label, Value: b.Value})
		}
	case "media":
		action.Type = domain.ActionSendMedia
		action.MediaKey = auto.Output.MediaKey
	default:
		action.Type = domain.ActionSendMessage
	}

	if auto.ExpectsReply != nil && auto.ExpectsReply.Target != "" {
		action.ExpectsReply = &domain.ExpectsReply{Target: auto.ExpectsReply.Target}
	}

	return action
}
