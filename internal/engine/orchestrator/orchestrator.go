// Package orchestrator is the top-level dispatcher. The confirmation gate
// gets first claim on every inbound message; unclaimed messages are enriched
// by the intake agent, classified, and routed to the procedure runner, the
// automation selector, the knowledge base, or a fallback reply. Whatever
// goes wrong inside, the caller always receives a plan.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	catalogsvc "leadflow_backend/internal/catalog/service"
	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/internal/engine/gate"
	"leadflow_backend/internal/engine/intake"
	"leadflow_backend/internal/engine/planner"
	"leadflow_backend/internal/engine/procedure"
	"leadflow_backend/internal/engine/selector"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/kb"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// Interaction is the coarse routing decision for a message.
type Interaction string

const (
	InteractionProcedure Interaction = "procedure"
	InteractionDoubt     Interaction = "doubt"
	InteractionFallback  Interaction = "fallback"
	interactionGate      Interaction = "confirmation"
)

const errorReply = "Ops, tive um problema interno. Tente novamente em alguns instantes."

var procedureSignals = []string{"quero", "teste", "liberar", "testar", "começar", "sim", "consigo", "pode", "vamos"}

var doubtSignals = []string{"como", "onde", "quando", "dúvida", "duvida", "ajuda", "não entendi", "explicar", "?", "funciona", "faz"}

// StateStore reads per-lead conversational state for cooldowns and
// orphan-confirmation detection.
type StateStore interface {
	ContextState(ctx context.Context, leadID string) (*domain.ContextState, error)
}

// Orchestrator wires the decision pipeline together.
type Orchestrator struct {
	gate       *gate.Gate
	intake     *intake.Agent
	selector   *selector.Selector
	procedures *procedure.Runner
	kb         *kb.Service
	catalog    *catalogsvc.Service
	state      StateStore
	bus        events.Bus
	log        *logger.Logger
	now        func() time.Time
}

func New(g *gate.Gate, in *intake.Agent, sel *selector.Selector, procs *procedure.Runner, knowledge *kb.Service, catalog *catalogsvc.Service, state StateStore, bus events.Bus, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		gate:       g,
		intake:     in,
		selector:   sel,
		procedures: procs,
		kb:         knowledge,
		catalog:    catalog,
		state:      state,
		bus:        bus,
		log:        log,
		now:        time.Now,
	}
}

// Decide produces the plan for one inbound message. It never returns an
// error to the caller; internal failures degrade to a generic reply.
func (o *Orchestrator) Decide(ctx context.Context, env *domain.Environment) *domain.Plan {
	started := o.now()
	log := o.log.WithLead(env.Lead.ID)

	plan, interaction := o.decide(ctx, log, env)
	plan = planner.Render(plan, env)

	if plan.Metadata == nil {
		plan.Metadata = map[string]any{}
	}
	plan.Metadata["interaction_type"] = string(interaction)
	plan.Metadata["snapshot_summary"] = summarize(&env.Snapshot)

	latency := o.now().Sub(started)
	log.Decision(plan.DecisionID, env.Lead.ID, string(interaction), len(plan.Actions), float64(latency.Milliseconds()))
	if o.bus != nil {
		o.bus.Publish(ctx, events.DecisionMade{
			BaseEvent:    events.NewBaseEvent(),
			DecisionID:   plan.DecisionID,
			LeadID:       env.Lead.ID,
			DecisionType: string(interaction),
			ActionCount:  len(plan.Actions),
			LatencyMs:    latency.Milliseconds(),
		})
	}
	return plan
}

func (o *Orchestrator) decide(ctx context.Context, log *logger.Logger, env *domain.Environment) (plan *domain.Plan, interaction Interaction) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("decision panicked", "panic", fmt.Sprint(r))
			plan = errorPlan()
			interaction = InteractionFallback
		}
	}()

	if o.gate != nil {
		res, err := o.gate.Process(ctx, env)
		if err != nil {
			log.Warn("confirmation gate failed, continuing", "error", err)
		} else if res.Handled {
			if res.Plan != nil {
				return res.Plan, interactionGate
			}
			// Idempotent replay: acknowledge without re-applying anything.
			return emptyPlan(map[string]any{"replay": true, "target": res.Target}), interactionGate
		}
	}

	if o.intake != nil {
		env = o.intake.Run(ctx, env)
	}

	interaction = classify(env)
	switch interaction {
	case InteractionProcedure:
		plan = o.procedureFlow(ctx, log, env)
	case InteractionDoubt:
		plan = o.doubtFlow(ctx, log, env)
	default:
		plan = o.fallbackFlow(ctx, env, "generic")
	}
	return plan, interaction
}

// classify routes by active agreements first, then by signal words.
func classify(env *domain.Environment) Interaction {
	text := strings.ToLower(env.InboundText())

	if env.Snapshot.Wants.Test || env.Snapshot.Agreements.AgreedToDeposit || env.Snapshot.Agreements.Explained {
		return InteractionProcedure
	}
	for _, signal := range procedureSignals {
		if strings.Contains(text, signal) {
			return InteractionProcedure
		}
	}
	for _, signal := range doubtSignals {
		if strings.Contains(text, signal) {
			return InteractionDoubt
		}
	}
	return InteractionFallback
}

func (o *Orchestrator) procedureFlow(ctx context.Context, log *logger.Logger, env *domain.Environment) *domain.Plan {
	procID := activeProcedure(env)
	if procID == "" {
		log.Info("no active procedure, degrading to doubt flow")
		return o.doubtFlow(ctx, log, env)
	}

	actions, err := o.procedures.Run(ctx, procID, env)
	if err != nil {
		if apperr.GetKind(err) == apperr.KindNotFound {
			log.Warn("procedure not found, degrading to doubt flow", "procedure", procID)
			return o.doubtFlow(ctx, log, env)
		}
		log.Error("procedure failed", "procedure", procID, "error", err)
		return errorPlan()
	}
	return newPlan(actions, map[string]any{"procedure": procID})
}

// activeProcedure maps agreement state onto the procedure to drive.
func activeProcedure(env *domain.Environment) string {
	if env.Snapshot.Wants.Test {
		return "liberar_teste"
	}
	return ""
}

func (o *Orchestrator) doubtFlow(ctx context.Context, log *logger.Logger, env *domain.Environment) *domain.Plan {
	state := o.contextState(ctx, env.Lead.ID)

	action, auto, err := o.selector.Select(ctx, env, state)
	if err != nil {
		log.Error("selector failed", "error", err)
		return errorPlan()
	}
	if action != nil {
		return newPlan([]domain.Action{*action}, map[string]any{"automation": auto.ID})
	}

	if action, auto := o.guardrailedProposal(ctx, log, env, state); action != nil {
		return newPlan([]domain.Action{*action}, map[string]any{"automation": auto.ID, "proposed": true})
	}

	if o.kb != nil {
		answer, err := o.kb.Answer(ctx, env)
		if err != nil {
			log.Warn("knowledge base failed", "error", err)
		} else if answer != "" {
			return newPlan([]domain.Action{{Type: domain.ActionSendMessage, Text: answer}}, map[string]any{"source": "kb"})
		}
	}

	return o.fallbackFlow(ctx, env, "doubt_unanswered")
}

// guardrailedProposal validates at most one model-proposed automation id:
// it must exist, be independently eligible, and be outside the cooldown.
func (o *Orchestrator) guardrailedProposal(ctx context.Context, log *logger.Logger, env *domain.Environment, state *domain.ContextState) (*domain.Action, *catalogsvc.Automation) {
	if env.Signals == nil || len(env.Signals.ProposedAutomations) == 0 {
		return nil, nil
	}
	id := env.Signals.ProposedAutomations[0]

	ok, auto, err := o.selector.IsApplicable(ctx, id, env, state)
	if err != nil || !ok {
		log.Info("proposed automation rejected by guardrails", "automation", id)
		return nil, nil
	}
	action := selector.ToAction(auto)
	return &action, auto
}

func (o *Orchestrator) fallbackFlow(ctx context.Context, env *domain.Environment, reason string) *domain.Plan {
	text := env.InboundText()
	state := o.contextState(ctx, env.Lead.ID)

	var message string
	switch {
	case o.catalog != nil && o.catalog.Empty(ctx):
		message = "Ainda estou em configuração inicial. Em breve consigo te ajudar por aqui!"
		reason = "catalog_empty"
	case gate.LooksLikeConfirmation(text) && (state == nil || state.Waiting == nil):
		message = "Não encontrei nenhuma pergunta pendente para essa resposta. Pode me contar o que você precisa?"
		reason = "orphan_confirmation"
	case len(strings.TrimSpace(text)) < 3:
		message = "Como posso te ajudar hoje?"
		reason = "short_message"
	default:
		message = "Não entendi bem sua mensagem. Pode me explicar melhor?"
	}

	return newPlan([]domain.Action{{Type: domain.ActionSendMessage, Text: message}}, map[string]any{"fallback_reason": reason})
}

func (o *Orchestrator) contextState(ctx context.Context, leadID string) *domain.ContextState {
	if o.state == nil {
		return nil
	}
	state, err := o.state.ContextState(ctx, leadID)
	if err != nil {
		o.log.Warn("context state unavailable", "lead_id", leadID, "error", err)
		return nil
	}
	return state
}

func newPlan(actions []domain.Action, metadata map[string]any) *domain.Plan {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &domain.Plan{DecisionID: domain.NewDecisionID(), Actions: actions, Metadata: metadata}
}

func emptyPlan(metadata map[string]any) *domain.Plan {
	return newPlan(nil, metadata)
}

func errorPlan() *domain.Plan {
	return newPlan([]domain.Action{{Type: domain.ActionSendMessage, Text: errorReply}}, map[string]any{"error": true})
}

func summarize(snap *domain.Snapshot) map[string]any {
	accounts := make(map[string]string, len(snap.Accounts))
	for broker, acct := range snap.Accounts {
		accounts[broker] = string(acct.Status)
	}
	agreements := 0
	if snap.Agreements.AgreedToDeposit {
		agreements++
	}
	if snap.Agreements.Explained {
		agreements++
	}
	wants := 0
	if snap.Wants.Test {
		wants++
	}
	if snap.Wants.Deposit {
		wants++
	}
	return map[string]any{
		"accounts":         accounts,
		"deposit_status":   string(snap.Deposit),
		"agreements_count": agreements,
		"wants_count":      wants,
	}
}
