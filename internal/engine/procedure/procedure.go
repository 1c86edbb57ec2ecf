// Package procedure runs step funnels: evaluate each step condition in
// order, stop at the first unsatisfied one and emit its single corrective
// action; when every step holds, emit the final action or a completion
// message. No step performs active verification, conditions read only the
// snapshot.
package procedure

import (
	"context"
	"fmt"

	"leadflow_backend/internal/catalog/service"
	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/internal/engine/selector"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// CompletionMessage is sent when a procedure finishes without a final action.
const CompletionMessage = "Procedimento concluído com sucesso! ✅"

// Runner executes procedures against the lead snapshot.
type Runner struct {
	catalog *service.Service
	log     *logger.Logger
}

// NewRunner creates a procedure runner.
func NewRunner(catalog *service.Service, log *logger.Logger) *Runner {
	return &Runner{catalog: catalog, log: log}
}

// Run executes the named procedure. It returns a NotFound error when the
// procedure does not exist; callers degrade to the doubt flow.
func (r *Runner) Run(ctx context.Context, procID string, env *domain.Environment) ([]domain.Action, error) {
	proc, ok, err := r.catalog.ProcedureByID(ctx, procID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("procedure %s not found", procID))
	}

	for i := range proc.Steps {
		step := &proc.Steps[i]
		if r.stepSatisfied(step, &env.Snapshot) {
			continue
		}

		r.log.Info("procedure stopped at unsatisfied step",
			"procedure", procID, "step", step.Name)

		action := r.correctiveAction(ctx, step)
		if action == nil {
			return nil, nil
		}
		return []domain.Action{*action}, nil
	}

	if len(proc.Steps) == 0 {
		return nil, nil
	}
	return r.finalActions(ctx, proc)
}

// stepSatisfied treats an empty condition as satisfied and an uncompilable
// one as never satisfied.
func (r *Runner) stepSatisfied(step *service.Step, snap *domain.Snapshot) bool {
	if step.Condition == "" {
		return true
	}
	if !step.RuleOK {
		return false
	}
	return step.Rule.Satisfied(snap)
}

// correctiveAction resolves the step's if_missing automation through the
// catalog. A dangling reference still produces a plain message so the funnel
// never stalls silently.
func (r *Runner) correctiveAction(ctx context.Context, step *service.Step) *domain.Action {
	if step.IfMissing == nil || step.IfMissing.Automation == "" {
		return nil
	}

	auto, ok, err := r.catalog.AutomationByID(ctx, step.IfMissing.Automation)
	if err == nil && ok {
		action := selector.ToAction(auto)
		return &action
	}

	r.log.Warn("step automation missing from catalog",
		"step", step.Name, "automation", step.IfMissing.Automation)
	return &domain.Action{
		Type: domain.ActionSendMessage,
		Text: fmt.Sprintf("Ação do passo: %s", step.IfMissing.Automation),
	}
}

func (r *Runner) finalActions(ctx context.Context, proc *service.Procedure) ([]domain.Action, error) {
	final := proc.Steps[len(proc.Steps)-1]
	if final.Do != nil && final.Do.Automation != "" {
		auto, ok, err := r.catalog.AutomationByID(ctx, final.Do.Automation)
		if err != nil {
			return nil, err
		}
		if ok {
			action := selector.ToAction(auto)
			return []domain.Action{action}, nil
		}
		r.log.Warn("final automation missing from catalog",
			"procedure", proc.ID, "automation", final.Do.Automation)
	}

	return []domain.Action{{
		Type: domain.ActionSendMessage,
		Text: CompletionMessage,
	}}, nil
}
