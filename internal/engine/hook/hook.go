// Package hook arms the confirmation wait after an automation that expects a
// reply goes out. It listens for automation-sent events so the plan executor
// does not need to know about conversational state.
package hook

import (
	"context"
	"fmt"
	"time"

	catalogsvc "leadflow_backend/internal/catalog/service"
	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"
)

// StateStore reads and writes per-lead conversational state.
type StateStore interface {
	ContextState(ctx context.Context, leadID string) (*domain.ContextState, error)
	SaveContextState(ctx context.Context, leadID string, state *domain.ContextState) error
}

// Hook updates lead state when automations are delivered.
type Hook struct {
	state   StateStore
	catalog *catalogsvc.Service
	bus     events.Bus
	log     *logger.Logger
	now     func() time.Time
}

func New(state StateStore, catalog *catalogsvc.Service, bus events.Bus, log *logger.Logger) *Hook {
	return &Hook{state: state, catalog: catalog, bus: bus, log: log, now: time.Now}
}

// Register subscribes the hook on the event bus.
func (h *Hook) Register(bus events.Bus) {
	bus.Subscribe(events.AutomationSent{}.EventName(), events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		sent, ok := e.(events.AutomationSent)
		if !ok {
			return fmt.Errorf("hook: unexpected event type %T", e)
		}
		return h.OnAutomationSent(ctx, sent)
	}))
}

// OnAutomationSent records the delivery and, when the automation expects a
// reply with a known target, arms the waiting state and appends the
// expects-reply timeline entry.
func (h *Hook) OnAutomationSent(ctx context.Context, e events.AutomationSent) error {
	if e.LeadID == "" || e.AutomationID == "" {
		return nil
	}
	log := h.log.WithLead(e.LeadID)

	state, err := h.state.ContextState(ctx, e.LeadID)
	if err != nil {
		return err
	}
	if state == nil {
		state = &domain.ContextState{}
	}

	now := h.now()
	state.LastAutomation = &domain.LastAutomation{AutomationID: e.AutomationID, SentAt: now}
	state.UpdatedAt = now

	target, prompt := h.replyTarget(ctx, e)
	if target != "" {
		ttl := h.targetTTL(ctx, target)
		state.Waiting = &domain.Waiting{
			Kind:              domain.WaitingConfirmation,
			Target:            target,
			AutomationID:      e.AutomationID,
			PromptText:        prompt,
			ProviderMessageID: e.ProviderMessageID,
			CreatedAt:         now,
			ExpiresAt:         now.Add(ttl),
		}
		state.Timeline = appendCapped(state.Timeline, domain.TimelineEntry{
			Target:       target,
			AutomationID: e.AutomationID,
			PromptText:   prompt,
			SentAt:       now,
		})

		log.Info("hook_waiting_set",
			"automation_id", e.AutomationID,
			"target", target,
			"ttl_seconds", int(ttl.Seconds()),
		)
		if h.bus != nil {
			h.bus.Publish(ctx, events.WaitingArmed{
				BaseEvent:    events.NewBaseEvent(),
				LeadID:       e.LeadID,
				Target:       target,
				AutomationID: e.AutomationID,
				TTLSeconds:   int(ttl.Seconds()),
			})
		}
	}

	return h.state.SaveContextState(ctx, e.LeadID, state)
}

// replyTarget resolves the confirmation target for the delivery. The event
// may carry it directly; otherwise the catalog entry is consulted.
func (h *Hook) replyTarget(ctx context.Context, e events.AutomationSent) (target, prompt string) {
	target = e.ConfirmTarget
	prompt = e.PromptText

	if target == "" || prompt == "" {
		auto, found, err := h.catalog.AutomationByID(ctx, e.AutomationID)
		if err != nil || !found {
			return target, prompt
		}
		if target == "" {
			if !e.ExpectsReply && auto.ExpectsReply == nil {
				return "", prompt
			}
			if auto.ExpectsReply != nil {
				target = auto.ExpectsReply.Target
			}
		}
		if prompt == "" {
			prompt = auto.Output.Text
		}
	}

	if target != "" && !h.catalog.TargetAllowed(ctx, target) {
		h.log.Warn("hook ignoring unknown confirmation target", "target", target, "automation_id", e.AutomationID)
		return "", prompt
	}
	return target, prompt
}

func (h *Hook) targetTTL(ctx context.Context, target string) time.Duration {
	minutes := catalogsvc.DefaultTargetMaxAgeMinutes
	if spec, found, err := h.catalog.Target(ctx, target); err == nil && found && spec.MaxAgeMinutes > 0 {
		minutes = spec.MaxAgeMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func appendCapped(timeline []domain.TimelineEntry, entry domain.TimelineEntry) []domain.TimelineEntry {
	timeline = append(timeline, entry)
	if len(timeline) > domain.TimelineCap {
		timeline = timeline[len(timeline)-domain.TimelineCap:]
	}
	return timeline
}
