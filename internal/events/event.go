// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadflow_backend/platform/events"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Engine Domain Events
// =============================================================================

// DecisionMade is published after the orchestrator produces a plan.
type DecisionMade struct {
	BaseEvent
	DecisionID   string `json:"decisionId"`
	LeadID       string `json:"leadId"`
	DecisionType string `json:"decisionType"`
	ActionCount  int    `json:"actionCount"`
	LatencyMs    int64  `json:"latencyMs"`
}

func (e DecisionMade) EventName() string { return "engine.decision.made" }

// AutomationSent is published when the plan executor delivers an automation
// to the lead. The hook listens for it to arm confirmations.
type AutomationSent struct {
	BaseEvent
	LeadID            string `json:"leadId"`
	AutomationID      string `json:"automationId"`
	ExpectsReply      bool   `json:"expectsReply"`
	ConfirmTarget     string `json:"confirmTarget,omitempty"`
	PromptText        string `json:"promptText,omitempty"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
}

func (e AutomationSent) EventName() string { return "engine.automation.sent" }

// WaitingArmed is published when the hook arms a confirmation wait.
type WaitingArmed struct {
	BaseEvent
	LeadID       string `json:"leadId"`
	Target       string `json:"target"`
	AutomationID string `json:"automationId"`
	TTLSeconds   int    `json:"ttlSeconds"`
}

func (e WaitingArmed) EventName() string { return "engine.waiting.armed" }

// ConfirmationResolved is published when the gate settles a pending
// confirmation one way or the other.
type ConfirmationResolved struct {
	BaseEvent
	LeadID     string  `json:"leadId"`
	Target     string  `json:"target"`
	Polarity   string  `json:"polarity"`
	Layer      string  `json:"layer"`
	Confidence float64 `json:"confidence"`
	Retro      bool    `json:"retro"`
}

func (e ConfirmationResolved) EventName() string { return "engine.confirmation.resolved" }

// ReviewQueued is published when a decision is flagged for human review.
type ReviewQueued struct {
	BaseEvent
	LeadID     string `json:"leadId"`
	DecisionID string `json:"decisionId"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
}

func (e ReviewQueued) EventName() string { return "engine.review.queued" }

// FactsUpdated is published when the snapshot merge changed stored facts.
type FactsUpdated struct {
	BaseEvent
	LeadID  string   `json:"leadId"`
	Changed []string `json:"changed"`
}

func (e FactsUpdated) EventName() string { return "engine.facts.updated" }
