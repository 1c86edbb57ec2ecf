// Package gate resolves pending confirmations before the rest of the engine
// sees an inbound message. Resolution runs through layered readers: an exact
// short-reply short circuit, the LLM classifier, and a substring fallback.
// Processing is serialized per lead and deduplicated with an idempotency key
// so webhook redeliveries never apply an outcome twice.
package gate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"leadflow_backend/internal/catalog/repository"
	catalogsvc "leadflow_backend/internal/catalog/service"
	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/internal/events"
	"leadflow_backend/platform/cache"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// StateStore reads per-lead conversational state. The gate never writes
// state directly; clearing the wait happens through the plan it returns.
type StateStore interface {
	ContextState(ctx context.Context, leadID string) (*domain.ContextState, error)
}

// Config carries the gate tunables, usually filled from the environment.
type Config struct {
	Mode              string
	ShortCircuit      bool
	Threshold         float64
	Timeout           time.Duration
	Samples           int
	RetroactiveWindow time.Duration
	IdempotencyTTL    time.Duration
}

// FromAppConfig builds gate tunables from the application configuration.
func FromAppConfig(cfg config.GateConfig) Config {
	return Config{
		Mode:              cfg.GetGateMode(),
		ShortCircuit:      cfg.GetGateYesNoDeterministic(),
		Threshold:         cfg.GetGateThreshold(),
		Timeout:           cfg.GetGateTimeout(),
		Samples:           cfg.GetGateSamples(),
		RetroactiveWindow: cfg.GetRetroactiveWindow(),
		IdempotencyTTL:    10 * time.Minute,
	}
}

// Default user-visible replies when the target config does not provide one.
const (
	defaultYesMessage = "✅ Perfeito! Entendi que você consegue fazer o depósito. Vou liberar seu acesso ao teste!"
	defaultNoMessage  = "Entendi que você não consegue fazer o depósito agora. Posso te ajudar com outras opções!"
)

type pendingConfirmation struct {
	Target       string
	AutomationID string
	PromptText   string
	Retro        bool
}

// idemRecord is what gets stored under the idempotency key so a redelivery
// can replay the outcome without side effects.
type idemRecord struct {
	Handled    bool            `json:"handled"`
	Target     string          `json:"target,omitempty"`
	Polarity   domain.Polarity `json:"polarity,omitempty"`
	Layer      string          `json:"layer,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Retro      bool            `json:"retro,omitempty"`
}

// Gate is the confirmation resolver.
type Gate struct {
	cfg        Config
	state      StateStore
	catalog    *catalogsvc.Service
	classifier Strategy
	idem       cache.Store
	bus        events.Bus
	log        *logger.Logger
	locks      *leadLocks
	now        func() time.Time
}

func New(cfg Config, state StateStore, catalog *catalogsvc.Service, classifier Strategy, idem cache.Store, bus events.Bus, log *logger.Logger) *Gate {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}
	return &Gate{
		cfg:        cfg,
		state:      state,
		catalog:    catalog,
		classifier: classifier,
		idem:       idem,
		bus:        bus,
		log:        log,
		locks:      newLeadLocks(),
		now:        time.Now,
	}
}

// Process inspects the newest inbound message and, when the lead was being
// waited on, resolves the confirmation and returns the resulting plan. A
// result with Handled false means the orchestrator should continue its own
// pipeline.
func (g *Gate) Process(ctx context.Context, env *domain.Environment) (*domain.GateResult, error) {
	started := g.now()
	leadID := env.Lead.ID
	log := g.log.WithLead(leadID)

	if !g.locks.TryAcquire(leadID) {
		log.Info("confirmation skipped, lead lock busy")
		return &domain.GateResult{Handled: false}, nil
	}
	defer g.locks.Release(leadID)

	message := env.InboundText()
	key := idempotencyKey(leadID, message)

	if stored, ok, err := g.idem.Get(ctx, key); err == nil && ok {
		var rec idemRecord
		if json.Unmarshal([]byte(stored), &rec) == nil {
			log.Info("confirmation replayed from idempotency store", "target", rec.Target)
			return &domain.GateResult{
				Handled:    rec.Handled,
				Replay:     true,
				Target:     rec.Target,
				Polarity:   rec.Polarity,
				Layer:      rec.Layer,
				Confidence: rec.Confidence,
				Retro:      rec.Retro,
			}, nil
		}
	}

	state, err := g.state.ContextState(ctx, leadID)
	if err != nil {
		return nil, err
	}

	pending := g.pendingConfirmation(ctx, state)
	if pending == nil {
		return &domain.GateResult{Handled: false}, nil
	}
	if message == "" {
		return &domain.GateResult{Handled: false}, nil
	}

	if g.cfg.ShortCircuit && isShortReply(message) {
		if polarity, conf, ok := classifyShort(message); ok {
			return g.resolve(ctx, log, leadID, key, pending, polarity, conf, domain.LayerDeterministicShort, started)
		}
	}

	if (g.cfg.Mode == config.GateModeLLMFirst || g.cfg.Mode == config.GateModeHybrid) && g.classifier != nil {
		result, llmErr := g.classifyLLM(ctx, env, pending)
		if llmErr != nil {
			log.Warn("llm confirmation failed, falling back", "error", llmErr)
		} else if result.Matches {
			if result.Confidence >= g.cfg.Threshold {
				target := pending
				if result.Target != "" && result.Target != pending.Target && g.catalog.TargetAllowed(ctx, result.Target) {
					target = &pendingConfirmation{Target: result.Target, Retro: pending.Retro}
				}
				return g.resolve(ctx, log, leadID, key, target, result.Polarity, result.Confidence, domain.LayerLLM, started)
			}
			// A confident-enough model saying "this is an answer" but
			// below threshold means ambiguity. Do not let the cruder
			// fallback overrule it.
			log.Info("llm confidence below threshold, leaving unhandled",
				"confidence", result.Confidence, "threshold", g.cfg.Threshold)
			return &domain.GateResult{Handled: false}, nil
		}
	}

	if polarity, conf, ok := classifyFallback(message); ok {
		return g.resolve(ctx, log, leadID, key, pending, polarity, conf, domain.LayerFallback, started)
	}

	log.Info("confirmation unresolved", "retro", pending.Retro)
	return &domain.GateResult{Handled: false}, nil
}

// pendingConfirmation finds what the lead is being waited on. The armed
// waiting state wins; when absent or expired the expects-reply timeline is
// scanned newest first inside the retroactive window.
func (g *Gate) pendingConfirmation(ctx context.Context, state *domain.ContextState) *pendingConfirmation {
	now := g.now()

	if state != nil && state.Waiting != nil {
		w := state.Waiting
		if w.Kind == domain.WaitingConfirmation && g.catalog.TargetAllowed(ctx, w.Target) && !w.Expired(now) {
			return &pendingConfirmation{
				Target:       w.Target,
				AutomationID: w.AutomationID,
				PromptText:   w.PromptText,
			}
		}
	}

	if state == nil || g.cfg.RetroactiveWindow <= 0 {
		return nil
	}
	for i := len(state.Timeline) - 1; i >= 0; i-- {
		entry := state.Timeline[i]
		if now.Sub(entry.SentAt) > g.cfg.RetroactiveWindow {
			continue
		}
		if entry.Target == "" || !g.catalog.TargetAllowed(ctx, entry.Target) {
			continue
		}
		return &pendingConfirmation{
			Target:       entry.Target,
			AutomationID: entry.AutomationID,
			PromptText:   entry.PromptText,
			Retro:        true,
		}
	}
	return nil
}

func (g *Gate) classifyLLM(ctx context.Context, env *domain.Environment, pending *pendingConfirmation) (*domain.Classification, error) {
	timeout := g.cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return g.classifier.Classify(ctx, Input{
		Message:  env.InboundText(),
		History:  env.MessagesWindow,
		Targets:  []string{pending.Target},
		Snapshot: env.Snapshot,
	}, g.cfg.Samples)
}

// resolve synthesizes the outcome plan, records idempotency, publishes the
// resolution event and returns the handled result.
func (g *Gate) resolve(ctx context.Context, log *logger.Logger, leadID, key string, pending *pendingConfirmation, polarity domain.Polarity, confidence float64, layer string, started time.Time) (*domain.GateResult, error) {
	actions := g.synthesizeActions(ctx, pending.Target, polarity)

	plan := &domain.Plan{
		DecisionID: domain.NewDecisionID(),
		Actions:    actions,
		Metadata: map[string]any{
			"kind":     "confirmation",
			"target":   pending.Target,
			"polarity": string(polarity),
			"layer":    layer,
		},
	}

	rec := idemRecord{
		Handled:    true,
		Target:     pending.Target,
		Polarity:   polarity,
		Layer:      layer,
		Confidence: confidence,
		Retro:      pending.Retro,
	}
	if raw, err := json.Marshal(rec); err == nil {
		if err := g.idem.Set(ctx, key, string(raw), g.cfg.IdempotencyTTL); err != nil {
			log.Warn("idempotency store failed", "error", err)
		}
	}

	g.log.GateResolution(leadID, pending.Target, string(polarity), layer, confidence)
	if g.bus != nil {
		g.bus.Publish(ctx, events.ConfirmationResolved{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     leadID,
			Target:     pending.Target,
			Polarity:   string(polarity),
			Layer:      layer,
			Confidence: confidence,
			Retro:      pending.Retro,
		})
	}

	latency := g.now().Sub(started)
	log.Info("confirmation_processed",
		"target", pending.Target,
		"polarity", string(polarity),
		"confidence", confidence,
		"source", layer,
		"latency_ms", latency.Milliseconds(),
		"outcome", "applied",
	)

	return &domain.GateResult{
		Handled:    true,
		Target:     pending.Target,
		Polarity:   polarity,
		Layer:      layer,
		Confidence: confidence,
		Retro:      pending.Retro,
		Plan:       plan,
	}, nil
}

// synthesizeActions maps a resolved polarity onto the target's configured
// outcome. The clear_waiting action is always present exactly once, even for
// an unknown target, so a stale wait cannot wedge the lead.
func (g *Gate) synthesizeActions(ctx context.Context, target string, polarity domain.Polarity) []domain.Action {
	var actions []domain.Action

	spec, found, err := g.catalog.Target(ctx, target)
	if err != nil || !found {
		g.log.Warn("confirmation target config missing", "target", target)
		return append(actions, domain.Action{Type: domain.ActionClearWaiting})
	}

	switch polarity {
	case domain.PolarityYes:
		if spec.OnYes != nil {
			if len(spec.OnYes.Facts) > 0 {
				actions = append(actions, domain.Action{Type: domain.ActionSetFacts, SetFacts: spec.OnYes.Facts})
			}
			text := spec.OnYes.Message
			if text == "" {
				text = defaultYesMessage
			}
			actions = append(actions, domain.Action{Type: domain.ActionSendMessage, Text: text})
		}
	case domain.PolarityNo:
		if spec.OnNo != nil {
			if len(spec.OnNo.Facts) > 0 {
				actions = append(actions, domain.Action{Type: domain.ActionSetFacts, SetFacts: spec.OnNo.Facts})
			}
			actions = append(actions, g.noReplyAction(ctx, spec.OnNo))
		}
	}

	return append(actions, domain.Action{Type: domain.ActionClearWaiting})
}

// noReplyAction prefers the configured message, then the follow-up
// automation's own output text, then the stock reply.
func (g *Gate) noReplyAction(ctx context.Context, outcome *repository.OutcomeSpec) domain.Action {
	if outcome.Message != "" {
		return domain.Action{Type: domain.ActionSendMessage, Text: outcome.Message, AutomationID: outcome.Automation}
	}
	if outcome.Automation != "" {
		if auto, found, err := g.catalog.AutomationByID(ctx, outcome.Automation); err == nil && found && auto.Output.Text != "" {
			return domain.Action{Type: domain.ActionSendMessage, Text: auto.Output.Text, AutomationID: auto.ID}
		}
	}
	return domain.Action{Type: domain.ActionSendMessage, Text: defaultNoMessage}
}

func idempotencyKey(leadID, message string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("confirmation_%s_%s", leadID, normalizeReply(message))))
	return "gate:idem:" + hex.EncodeToString(sum[:])
}
