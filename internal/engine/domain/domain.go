// Package domain holds the core types of the decision engine: the lead
// snapshot, the environment handed to the orchestrator, and the plan of
// actions it produces.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Snapshot facts
// =============================================================================

// AccountStatus is the per-broker account fact ladder. Merges may only move
// up the ladder, never down.
type AccountStatus string

const (
	AccountUnknown    AccountStatus = "unknown"
	AccountCandidate  AccountStatus = "candidate"
	AccountVerified   AccountStatus = "verified"
	AccountHasAccount AccountStatus = "has_account"
)

// Rank orders statuses for non-regressive merging.
func (s AccountStatus) Rank() int {
	switch s {
	case AccountCandidate:
		return 1
	case AccountVerified:
		return 2
	case AccountHasAccount:
		return 3
	default:
		return 0
	}
}

// DepositStatus is the deposit fact ladder.
type DepositStatus string

const (
	DepositNone      DepositStatus = "none"
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
)

// Rank orders deposit statuses for non-regressive merging.
func (s DepositStatus) Rank() int {
	switch s {
	case DepositPending:
		return 1
	case DepositConfirmed:
		return 2
	default:
		return 0
	}
}

// Account is one broker account fact.
type Account struct {
	Status    AccountStatus `json:"status"`
	AccountID string        `json:"accountId,omitempty"`
}

// Profile holds identity facts extracted or verified for the lead.
type Profile struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Agreements holds conversational commitments the lead has made.
type Agreements struct {
	AgreedToDeposit bool `json:"agreedToDeposit"`
	Explained       bool `json:"explained"`
}

// Wants holds intent flags. These are set-true-only: once a lead has asked
// for something the flag never flips back.
type Wants struct {
	Test    bool `json:"test"`
	Deposit bool `json:"deposit"`
}

// Snapshot is the consolidated fact state for a lead.
type Snapshot struct {
	Profile    Profile            `json:"profile"`
	Accounts   map[string]Account `json:"accounts,omitempty"`
	Deposit    DepositStatus      `json:"deposit"`
	Agreements Agreements         `json:"agreements"`
	Wants      Wants              `json:"wants"`
}

// NewSnapshot returns an empty snapshot with initialized maps.
func NewSnapshot() Snapshot {
	return Snapshot{
		Accounts: make(map[string]Account),
		Deposit:  DepositNone,
	}
}

// Account returns the account fact for a broker, defaulting to unknown.
func (s *Snapshot) Account(broker string) Account {
	if s.Accounts == nil {
		return Account{Status: AccountUnknown}
	}
	if acc, ok := s.Accounts[broker]; ok {
		return acc
	}
	return Account{Status: AccountUnknown}
}

// HasAnyAccount reports whether any broker reached at least verified.
func (s *Snapshot) HasAnyAccount() bool {
	for _, acc := range s.Accounts {
		if acc.Status.Rank() >= AccountVerified.Rank() {
			return true
		}
	}
	return false
}

// =============================================================================
// Environment
// =============================================================================

// Lead identifies the conversation partner across channels.
type Lead struct {
	ID             string `json:"id"`
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platformUserId"`
	Name           string `json:"name,omitempty"`
}

// CandidateType classifies an extracted candidate fact.
type CandidateType string

const (
	CandidateEmail     CandidateType = "email"
	CandidatePhone     CandidateType = "phone"
	CandidateAccountID CandidateType = "account_id"
	CandidateIntent    CandidateType = "intent"
)

// Candidate is a fact extracted from the inbound message, pending merge.
type Candidate struct {
	Type       CandidateType `json:"type"`
	Value      string        `json:"value"`
	Broker     string        `json:"broker,omitempty"`
	Confidence float64       `json:"confidence"`
}

// Message is one entry of the recent conversation window.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Direction string    `json:"direction"` // "in" or "out"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Environment is the full input to one orchestrator pass.
type Environment struct {
	Lead           Lead        `json:"lead"`
	Snapshot       Snapshot    `json:"snapshot"`
	Candidates     []Candidate `json:"candidates,omitempty"`
	MessagesWindow []Message   `json:"messagesWindow,omitempty"`
	Signals        *LLMSignals `json:"signals,omitempty"`
	Apply          bool        `json:"apply"`
}

// LLMSignals are advisory hints extracted by a model. They never write hard
// facts directly; proposed automations pass the selector guardrails first.
type LLMSignals struct {
	Intents             []string `json:"intents,omitempty"`
	ProposedAutomations []string `json:"proposedAutomations,omitempty"`
}

// InboundText returns the newest inbound message text, or "".
func (e *Environment) InboundText() string {
	for i := len(e.MessagesWindow) - 1; i >= 0; i-- {
		if e.MessagesWindow[i].Direction == "in" {
			return e.MessagesWindow[i].Text
		}
	}
	return ""
}

// =============================================================================
// Actions and plans
// =============================================================================

// ActionType enumerates the plan action variants.
type ActionType string

const (
	ActionSendMessage  ActionType = "send_message"
	ActionSendButtons  ActionType = "send_buttons"
	ActionSendMedia    ActionType = "send_media"
	ActionSetFacts     ActionType = "set_facts"
	ActionClearWaiting ActionType = "clear_waiting"
	ActionTrack        ActionType = "track"
)

// Outbound reports whether the action delivers content to the lead.
func (t ActionType) Outbound() bool {
	return t == ActionSendMessage || t == ActionSendButtons || t == ActionSendMedia
}

// Button is one inline reply option.
type Button struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ExpectsReply marks an outbound automation that should arm a confirmation.
type ExpectsReply struct {
	Target string `json:"target"`
}

// Action is one step of a plan. Fields are populated according to Type.
type Action struct {
	Type         ActionType     `json:"type"`
	Text         string         `json:"text,omitempty"`
	Buttons      []Button       `json:"buttons,omitempty"`
	MediaURL     string         `json:"mediaUrl,omitempty"`
	MediaKey     string         `json:"mediaKey,omitempty"`
	Track        string         `json:"track,omitempty"`
	SetFacts     map[string]any `json:"setFacts,omitempty"`
	AutomationID string         `json:"automationId,omitempty"`
	ExpectsReply *ExpectsReply  `json:"expectsReply,omitempty"`
}

// Plan is the orchestrator output for one inbound message.
type Plan struct {
	DecisionID string         `json:"decisionId"`
	Actions    []Action       `json:"actions"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewDecisionID mints an identifier like dec_3fa85f64a1b2.
func NewDecisionID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "dec_" + raw[:12]
}

// =============================================================================
// Context state
// =============================================================================

// WaitingKind classifies what the engine is waiting for.
const WaitingConfirmation = "confirmation"

// Waiting is the armed expectation of a reply to a specific automation.
type Waiting struct {
	Kind              string    `json:"kind"`
	Target            string    `json:"target"`
	AutomationID      string    `json:"automationId"`
	PromptText        string    `json:"promptText,omitempty"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

// Expired reports whether the wait passed its deadline at the given instant.
func (w *Waiting) Expired(now time.Time) bool {
	return !now.Before(w.ExpiresAt)
}

// TimelineEntry records one sent automation that expected a reply. The
// timeline backs retroactive confirmation matching.
type TimelineEntry struct {
	Target       string    `json:"target"`
	AutomationID string    `json:"automationId"`
	PromptText   string    `json:"promptText,omitempty"`
	SentAt       time.Time `json:"sentAt"`
}

// TimelineCap bounds the expects-reply timeline length.
const TimelineCap = 10

// LastAutomation records the most recent automation delivery, for cooldowns.
type LastAutomation struct {
	AutomationID string    `json:"automationId"`
	SentAt       time.Time `json:"sentAt"`
}

// ContextState is the per-lead conversational state outside the snapshot.
type ContextState struct {
	ActiveProcedure string          `json:"activeProcedure,omitempty"`
	ActiveStep      int             `json:"activeStep,omitempty"`
	Waiting         *Waiting        `json:"waiting,omitempty"`
	Timeline        []TimelineEntry `json:"timeline,omitempty"`
	LastAutomation  *LastAutomation `json:"lastAutomation,omitempty"`
	LastKBTopic     string          `json:"lastKbTopic,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// =============================================================================
// Confirmation resolution
// =============================================================================

// Polarity is the resolved reading of a confirmation reply.
type Polarity string

const (
	PolarityYes   Polarity = "yes"
	PolarityNo    Polarity = "no"
	PolarityOther Polarity = "other"
)

// Resolution layers, recorded in telemetry and idempotency markers.
const (
	LayerDeterministicShort = "deterministic_short"
	LayerLLM                = "llm"
	LayerFallback           = "deterministic_fallback"
)

// Classification is the structured result of one classifier pass.
type Classification struct {
	Matches    bool     `json:"matches"`
	Target     string   `json:"target"`
	Polarity   Polarity `json:"polarity"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason,omitempty"`
}

// GateResult is what the confirmation gate hands back to the orchestrator.
type GateResult struct {
	Handled    bool     `json:"handled"`
	Replay     bool     `json:"replay,omitempty"`
	Target     string   `json:"target,omitempty"`
	Polarity   Polarity `json:"polarity,omitempty"`
	Layer      string   `json:"layer,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Retro      bool     `json:"retro,omitempty"`
	Plan       *Plan    `json:"plan,omitempty"`
}
