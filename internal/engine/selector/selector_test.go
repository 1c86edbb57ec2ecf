package selector

import (
	"context"
	"testing"
	"time"

	catrepo "leadflow_backend/internal/catalog/repository"
	"leadflow_backend/internal/catalog/service"
	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/platform/logger"
)

type fixtureRepo struct {
	automations []catrepo.AutomationSpec
}

func (f *fixtureRepo) LoadAutomations(context.Context) ([]catrepo.AutomationSpec, error) {
	return f.automations, nil
}
func (f *fixtureRepo) LoadProcedures(context.Context) ([]catrepo.ProcedureSpec, error) {
	return nil, nil
}
func (f *fixtureRepo) LoadTargets(context.Context) (map[string]catrepo.TargetSpec, error) {
	return nil, nil
}

func newSelector(specs []catrepo.AutomationSpec, cooldown time.Duration) *Selector {
	log := logger.New("development")
	catalog := service.New(&fixtureRepo{automations: specs}, 0, log)
	return New(catalog, cooldown, log)
}

func envWithText(text string) *domain.Environment {
	return &domain.Environment{
		Lead:     domain.Lead{ID: "lead-1"},
		Snapshot: domain.NewSnapshot(),
		MessagesWindow: []domain.Message{
			{Direction: "in", Text: text, Timestamp: time.Now()},
		},
	}
}

func TestSelectHighestPriority(t *testing.T) {
	sel := newSelector([]catrepo.AutomationSpec{
		{ID: "low", Priority: 0.3, Output: catrepo.OutputSpec{Type: "message", Text: "low"}},
		{ID: "high", Priority: 0.9, Output: catrepo.OutputSpec{Type: "message", Text: "high"}},
	}, 0)

	action, chosen, err := sel.Select(context.Background(), envWithText("olá"), nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if chosen == nil || chosen.ID != "high" {
		t.Fatalf("chosen = %+v", chosen)
	}
	if action.Type != domain.ActionSendMessage || action.AutomationID != "high" {
		t.Fatalf("action = %+v", action)
	}
}

func TestSelectTieBreaksByCatalogOrder(t *testing.T) {
	sel := newSelector([]catrepo.AutomationSpec{
		{ID: "a", Priority: 0.5, Output: catrepo.OutputSpec{Type: "message"}},
		{ID: "b", Priority: 0.9, Output: catrepo.OutputSpec{Type: "message"}},
		{ID: "c", Priority: 0.9, Output: catrepo.OutputSpec{Type: "message"}},
	}, 0)

	_, chosen, err := sel.Select(context.Background(), envWithText("olá"), nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if chosen.ID != "b" {
		t.Fatalf("tie-break picked %q, want first-listed b", chosen.ID)
	}
}

func TestSelectTopicGate(t *testing.T) {
	sel := newSelector([]catrepo.AutomationSpec{
		{ID: "dep", Topic: "deposito", UseWhen: "depositar valor", Priority: 0.9, Output: catrepo.OutputSpec{Type: "message"}},
	}, 0)

	if _, chosen, _ := sel.Select(context.Background(), envWithText("bom dia"), nil); chosen != nil {
		t.Fatalf("off-topic message selected %q", chosen.ID)
	}

	if _, chosen, _ := sel.Select(context.Background(), envWithText("quanto preciso depositar?"), nil); chosen == nil {
		t.Fatal("use_when word should satisfy the topic gate")
	}
}

func TestSelectEligibilityRule(t *testing.T) {
	sel := newSelector([]catrepo.AutomationSpec{
		{ID: "pede_deposito", Eligibility: "não depositou", Priority: 0.9, Output: catrepo.OutputSpec{Type: "message"}},
	}, 0)

	env := envWithText("olá")
	env.Snapshot.Deposit = domain.DepositConfirmed
	if _, chosen, _ := sel.Select(context.Background(), env, nil); chosen != nil {
		t.Fatal("rule should exclude leads that already deposited")
	}
}

func TestSelectCooldown(t *testing.T) {
	sel := newSelector([]catrepo.AutomationSpec{
		{ID: "only", Priority: 0.9, Output: catrepo.OutputSpec{Type: "message"}},
	}, 5*time.Minute)

	state := &domain.ContextState{
		LastAutomation: &domain.LastAutomation{AutomationID: "only", SentAt: time.Now().Add(-time.Minute)},
	}
	if _, chosen, _ := sel.Select(context.Background(), envWithText("olá"), state); chosen != nil {
		t.Fatal("automation inside cooldown window was selected")
	}

	state.LastAutomation.SentAt = time.Now().Add(-10 * time.Minute)
	if _, chosen, _ := sel.Select(context.Background(), envWithText("olá"), state); chosen == nil {
		t.Fatal("automation outside cooldown window should be selected")
	}
}

func TestIsApplicableGuardrail(t *testing.T) {
	sel := newSelector([]catrepo.AutomationSpec{
		{ID: "known", Eligibility: "não depositou", Priority: 0.5, Output: catrepo.OutputSpec{Type: "message"}},
	}, 5*time.Minute)
	ctx := context.Background()
	env := envWithText("olá")

	ok, _, err := sel.IsApplicable(ctx, "known", env, nil)
	if err != nil || !ok {
		t.Fatalf("known eligible automation rejected: %v %v", ok, err)
	}

	if ok, _, _ := sel.IsApplicable(ctx, "ghost", env, nil); ok {
		t.Fatal("unknown automation accepted")
	}

	env.Snapshot.Deposit = domain.DepositPending
	if ok, _, _ := sel.IsApplicable(ctx, "known", env, nil); ok {
		t.Fatal("ineligible automation accepted")
	}
}

func TestToActionButtons(t *testing.T) {
	auto := &service.Automation{
		AutomationSpec: catrepo.AutomationSpec{
			ID: "ask",
			Output: catrepo.OutputSpec{
				Type:    "buttons",
				Text:    "Consegue depositar?",
				Buttons: []catrepo.ButtonSpec{{Label: "Sim", Value: "sim"}, {Label: "Não", Value: "nao"}},
				Track:   "ask_deposit",
			},
			ExpectsReply: &catrepo.ExpectsReplySpec{Target: "confirm_can_deposit"},
		},
	}

	action := ToAction(auto)
	if action.Type != domain.ActionSendButtons || len(action.Buttons) != 2 {
		t.Fatalf("action = %+v", action)
	}
	if action.ExpectsReply == nil || action.ExpectsReply.Target != "confirm_can_deposit" {
		t.Fatalf("expects_reply = %+v", action.ExpectsReply)
	}
	if action.Track != "ask_deposit" {
		t.Fatalf("track = %q", action.Track)
	}
}
