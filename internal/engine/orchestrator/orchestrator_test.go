package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"leadflow_backend/internal/catalog/repository"
	catalogsvc "leadflow_backend/internal/catalog/service"
	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/internal/engine/gate"
	"leadflow_backend/internal/engine/procedure"
	"leadflow_backend/internal/engine/selector"
	"leadflow_backend/platform/cache"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

type fakeRepo struct {
	automations []repository.AutomationSpec
	procedures  []repository.ProcedureSpec
	targets     map[string]repository.TargetSpec
}

func (f *fakeRepo) LoadAutomations(context.Context) ([]repository.AutomationSpec, error) {
	return f.automations, nil
}

func (f *fakeRepo) LoadProcedures(context.Context) ([]repository.ProcedureSpec, error) {
	return f.procedures, nil
}

func (f *fakeRepo) LoadTargets(context.Context) (map[string]repository.TargetSpec, error) {
	return f.targets, nil
}

type fakeState struct {
	state *domain.ContextState
}

func (f *fakeState) ContextState(context.Context, string) (*domain.ContextState, error) {
	return f.state, nil
}

func funnelRepo() *fakeRepo {
	return &fakeRepo{
		automations: []repository.AutomationSpec{
			{
				ID:          "explicar_deposito",
				Topic:       "deposito",
				UseWhen:     "deposito depositar valor",
				Eligibility: "não depositou",
				Priority:    0.8,
				Output:      repository.OutputSpec{Type: "text", Text: "O depósito mínimo é R$ 60."},
			},
			{
				ID:       "pedir_conta",
				Topic:    "conta",
				UseWhen:  "conta id login cadastro",
				Priority: 0.3,
				Output:   repository.OutputSpec{Type: "text", Text: "Me envia o ID da sua conta?"},
			},
		},
		procedures: []repository.ProcedureSpec{
			{
				ID: "liberar_teste",
				Steps: []repository.StepSpec{
					{Name: "conta", Condition: "tem conta", IfMissing: &repository.AutomationRef{Automation: "pedir_conta"}},
					{Name: "deposito", Condition: "já depositou", IfMissing: &repository.AutomationRef{Automation: "explicar_deposito"}},
				},
			},
		},
		targets: map[string]repository.TargetSpec{
			"confirm_can_deposit": {
				OnYes: &repository.OutcomeSpec{Facts: map[string]any{"can_deposit": true}},
				OnNo:  &repository.OutcomeSpec{Facts: map[string]any{"can_deposit": false}},
			},
		},
	}
}

func newTestOrchestrator(t *testing.T, repo *fakeRepo, state *domain.ContextState) *Orchestrator {
	t.Helper()
	log := logger.New("development")
	cat := catalogsvc.New(repo, time.Minute, log)
	store := &fakeState{state: state}

	gateCfg := gate.Config{
		Mode:              config.GateModeDetOnly,
		ShortCircuit:      true,
		Threshold:         0.80,
		RetroactiveWindow: 10 * time.Minute,
		IdempotencyTTL:    10 * time.Minute,
	}
	g := gate.New(gateCfg, store, cat, nil, cache.NewMemory(), nil, log)
	sel := selector.New(cat, 5*time.Minute, log)
	procs := procedure.NewRunner(cat, log)

	return New(g, nil, sel, procs, nil, cat, store, nil, log)
}

func inbound(text string) *domain.Environment {
	return &domain.Environment{
		Lead:           domain.Lead{ID: "lead-1", Platform: "telegram"},
		Snapshot:       domain.NewSnapshot(),
		MessagesWindow: []domain.Message{{Direction: "in", Text: text}},
	}
}

func TestGateClaimsArmedConfirmation(t *testing.T) {
	state := &domain.ContextState{Waiting: &domain.Waiting{
		Kind:      domain.WaitingConfirmation,
		Target:    "confirm_can_deposit",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}}
	o := newTestOrchestrator(t, funnelRepo(), state)

	plan := o.Decide(context.Background(), inbound("sim"))

	if plan.Metadata["interaction_type"] != string(interactionGate) {
		t.Fatalf("interaction = %v", plan.Metadata["interaction_type"])
	}
	var clears, facts int
	for _, a := range plan.Actions {
		switch a.Type {
		case domain.ActionClearWaiting:
			clears++
		case domain.ActionSetFacts:
			facts++
		}
	}
	if clears != 1 || facts != 1 {
		t.Fatalf("actions = %+v, want one set_facts and one clear_waiting", plan.Actions)
	}
}

func TestProcedureFlowEmitsSingleCorrective(t *testing.T) {
	o := newTestOrchestrator(t, funnelRepo(), nil)

	env := inbound("quero o teste")
	env.Snapshot.Wants.Test = true
	plan := o.Decide(context.Background(), env)

	if plan.Metadata["interaction_type"] != string(InteractionProcedure) {
		t.Fatalf("interaction = %v", plan.Metadata["interaction_type"])
	}
	if len(plan.Actions) != 1 {
		t.Fatalf("got %d actions, want exactly one corrective", len(plan.Actions))
	}
	if plan.Actions[0].Text != "Me envia o ID da sua conta?" {
		t.Fatalf("corrective = %q", plan.Actions[0].Text)
	}
}

func TestProcedureAdvancesPastSatisfiedStep(t *testing.T) {
	o := newTestOrchestrator(t, funnelRepo(), nil)

	env := inbound("quero o teste")
	env.Snapshot.Wants.Test = true
	env.Snapshot.Accounts["nyrion"] = domain.Account{Status: domain.AccountVerified}
	plan := o.Decide(context.Background(), env)

	if len(plan.Actions) != 1 || !strings.Contains(plan.Actions[0].Text, "depósito") {
		t.Fatalf("actions = %+v, want the deposit corrective", plan.Actions)
	}
}

func TestDoubtFlowSelectsAutomation(t *testing.T) {
	o := newTestOrchestrator(t, funnelRepo(), nil)

	plan := o.Decide(context.Background(), inbound("como funciona o deposito?"))

	if plan.Metadata["interaction_type"] != string(InteractionDoubt) {
		t.Fatalf("interaction = %v", plan.Metadata["interaction_type"])
	}
	if plan.Metadata["automation"] != "explicar_deposito" {
		t.Fatalf("automation = %v", plan.Metadata["automation"])
	}
}

func TestGuardrailedProposalAccepted(t *testing.T) {
	o := newTestOrchestrator(t, funnelRepo(), nil)

	// No catalog topic matches this phrasing, so the selector comes back
	// empty and the model proposal gets its chance at the guardrails.
	env := inbound("pode explicar de novo aquilo?")
	env.Signals = &domain.LLMSignals{ProposedAutomations: []string{"explicar_deposito"}}
	plan := o.Decide(context.Background(), env)

	if plan.Metadata["automation"] != "explicar_deposito" {
		t.Fatalf("metadata = %v, want the proposed automation", plan.Metadata)
	}
	if plan.Metadata["proposed"] != true {
		t.Fatalf("metadata = %v, want proposed=true", plan.Metadata)
	}
}

func TestGuardrailRejectsUnknownProposal(t *testing.T) {
	repo := funnelRepo()
	repo.automations = nil
	o := newTestOrchestrator(t, repo, nil)

	env := inbound("hmm aleatório xyz")
	env.Signals = &domain.LLMSignals{ProposedAutomations: []string{"nao_existe"}}
	plan := o.Decide(context.Background(), env)

	if plan.Metadata["proposed"] == true {
		t.Fatal("unknown automation must not pass the guardrails")
	}
}

func TestFallbackDistinguishesEmptyCatalog(t *testing.T) {
	repo := funnelRepo()
	repo.automations = nil
	repo.procedures = nil
	o := newTestOrchestrator(t, repo, nil)

	plan := o.Decide(context.Background(), inbound("zzz qqq"))

	if plan.Metadata["fallback_reason"] != "catalog_empty" {
		t.Fatalf("reason = %v", plan.Metadata["fallback_reason"])
	}
}

func TestFallbackFlagsOrphanConfirmation(t *testing.T) {
	o := newTestOrchestrator(t, funnelRepo(), nil)

	plan := o.Decide(context.Background(), inbound("talvez"))

	if plan.Metadata["fallback_reason"] != "orphan_confirmation" {
		t.Fatalf("reason = %v, metadata = %v", plan.Metadata["fallback_reason"], plan.Metadata)
	}
}

func TestDecisionIDFormat(t *testing.T) {
	o := newTestOrchestrator(t, funnelRepo(), nil)

	plan := o.Decide(context.Background(), inbound("oi"))
	if !strings.HasPrefix(plan.DecisionID, "dec_") || len(plan.DecisionID) != len("dec_")+12 {
		t.Fatalf("decision id = %q", plan.DecisionID)
	}
}

func TestSummaryMetadataPresent(t *testing.T) {
	o := newTestOrchestrator(t, funnelRepo(), nil)

	env := inbound("quero o teste")
	env.Snapshot.Wants.Test = true
	plan := o.Decide(context.Background(), env)

	summary, ok := plan.Metadata["snapshot_summary"].(map[string]any)
	if !ok {
		t.Fatalf("summary missing: %v", plan.Metadata)
	}
	if summary["deposit_status"] != string(domain.DepositNone) {
		t.Fatalf("deposit = %v", summary["deposit_status"])
	}
}
