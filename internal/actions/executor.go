// Package actions executes decision plans: it walks the ordered action list,
// delivers outbound messages over the configured channel, applies fact and
// state mutations, and publishes delivery events for the confirmation hook.
package actions

import (
	"context"
	"fmt"

	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/media"
	"leadflow_backend/platform/logger"
)

// Sender delivers outbound content to a lead on their platform.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) (string, error)
	SendButtons(ctx context.Context, chatID, text string, buttons []domain.Button) (string, error)
	SendMedia(ctx context.Context, chatID, mediaURL, caption string) (string, error)
}

// LeadState is the slice of the leads service the executor mutates.
type LeadState interface {
	ApplyFacts(ctx context.Context, leadID string, facts map[string]any) (domain.Snapshot, error)
	ClearWaiting(ctx context.Context, leadID string) error
	RecordJourneyEvent(ctx context.Context, leadID, kind string, payload any)
}

// Result summarizes one plan execution. Delivery failures do not abort the
// plan; the remaining actions still run and the failures are listed here.
type Result struct {
	DecisionID string   `json:"decisionId"`
	Executed   int      `json:"executed"`
	Delivered  int      `json:"delivered"`
	Failures   []string `json:"failures,omitempty"`
}

type Executor struct {
	sender Sender
	media  media.Presigner
	state  LeadState
	bus    events.Bus
	log    *logger.Logger
}

func NewExecutor(sender Sender, presigner media.Presigner, state LeadState, bus events.Bus, log *logger.Logger) *Executor {
	return &Executor{
		sender: sender,
		media:  presigner,
		state:  state,
		bus:    bus,
		log:    log,
	}
}

// Execute runs every action of the plan in order. Errors on individual
// actions are collected rather than propagated so that one failed delivery
// never blocks a fact write or a waiting clear later in the same plan.
func (e *Executor) Execute(ctx context.Context, lead domain.Lead, plan *domain.Plan) *Result {
	res := &Result{DecisionID: plan.DecisionID}
	log := e.log.WithLead(lead.ID)

	for i, action := range plan.Actions {
		res.Executed++
		if err := e.run(ctx, log, lead, action); err != nil {
			log.Warn("plan action failed",
				"decision_id", plan.DecisionID,
				"action", string(action.Type),
				"index", i,
				"error", err)
			res.Failures = append(res.Failures, fmt.Sprintf("%s: %v", action.Type, err))
			continue
		}
		if action.Type.Outbound() {
			res.Delivered++
		}
	}

	e.state.RecordJourneyEvent(ctx, lead.ID, "plan_executed", map[string]any{
		"decision_id": plan.DecisionID,
		"executed":    res.Executed,
		"delivered":   res.Delivered,
		"failures":    len(res.Failures),
	})
	return res
}

func (e *Executor) run(ctx context.Context, log *logger.Logger, lead domain.Lead, action domain.Action) error {
	switch action.Type {
	case domain.ActionSendMessage:
		providerID, err := e.sender.SendMessage(ctx, lead.PlatformUserID, action.Text)
		if err != nil {
			return err
		}
		e.published(ctx, lead.ID, action, providerID)
		return nil

	case domain.ActionSendButtons:
		providerID, err := e.sender.SendButtons(ctx, lead.PlatformUserID, action.Text, action.Buttons)
		if err != nil {
			return err
		}
		e.published(ctx, lead.ID, action, providerID)
		return nil

	case domain.ActionSendMedia:
		url, err := e.mediaURL(ctx, action)
		if err != nil {
			return err
		}
		providerID, err := e.sender.SendMedia(ctx, lead.PlatformUserID, url, action.Text)
		if err != nil {
			return err
		}
		e.published(ctx, lead.ID, action, providerID)
		return nil

	case domain.ActionSetFacts:
		if len(action.SetFacts) == 0 {
			return nil
		}
		_, err := e.state.ApplyFacts(ctx, lead.ID, action.SetFacts)
		return err

	case domain.ActionClearWaiting:
		return e.state.ClearWaiting(ctx, lead.ID)

	case domain.ActionTrack:
		e.state.RecordJourneyEvent(ctx, lead.ID, "track", map[string]any{
			"event":         action.Track,
			"automation_id": action.AutomationID,
		})
		return nil

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// published tells the rest of the system an automation went out. The hook
// subscribes to this to arm confirmation waits.
func (e *Executor) published(ctx context.Context, leadID string, action domain.Action, providerID string) {
	evt := events.AutomationSent{
		BaseEvent:         events.NewBaseEvent(),
		LeadID:            leadID,
		AutomationID:      action.AutomationID,
		PromptText:        action.Text,
		ProviderMessageID: providerID,
	}
	if action.ExpectsReply != nil {
		evt.ExpectsReply = true
		evt.ConfirmTarget = action.ExpectsReply.Target
	}
	e.bus.Publish(ctx, evt)
}

func (e *Executor) mediaURL(ctx context.Context, action domain.Action) (string, error) {
	if action.MediaKey != "" && e.media != nil {
		return e.media.DownloadURL(ctx, action.MediaKey)
	}
	if action.MediaURL == "" {
		return "", fmt.Errorf("media action without url or key")
	}
	return action.MediaURL, nil
}
