// Package handlers exposes the decision engine over HTTP: channel webhooks
// that normalize provider payloads into the engine environment, a direct
// decide endpoint, and plan application.
package handlers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"leadflow_backend/internal/actions"
	"leadflow_backend/internal/engine/domain"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
)

// LeadService is the slice of the leads layer the handlers need.
type LeadService interface {
	ResolveLead(ctx context.Context, platform, platformUserID, name string) (*domain.Lead, error)
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
	BuildEnvironment(ctx context.Context, lead domain.Lead, window []domain.Message) (*domain.Environment, error)
	PersistSnapshot(ctx context.Context, leadID string, snap domain.Snapshot) error
	EnqueueReview(ctx context.Context, leadID, decisionID, reason, message string) error
}

// Decider produces a plan for an environment.
type Decider interface {
	Decide(ctx context.Context, env *domain.Environment) *domain.Plan
}

// PlanExecutor applies a plan's side effects.
type PlanExecutor interface {
	Execute(ctx context.Context, lead domain.Lead, plan *domain.Plan) *actions.Result
}

// SignalSource annotates an environment with advisory model hints.
type SignalSource interface {
	Extract(ctx context.Context, env *domain.Environment, automationIDs []string)
}

// AutomationLister names the automations the signal source may propose.
type AutomationLister interface {
	AutomationIDs(ctx context.Context) []string
}

// Engine is the HTTP-facing module of the decision engine.
type Engine struct {
	leads   LeadService
	orch    Decider
	exec    PlanExecutor
	signals SignalSource
	catalog AutomationLister
	log     *logger.Logger
	now     func() time.Time
}

func NewEngine(leads LeadService, orch Decider, exec PlanExecutor, log *logger.Logger) *Engine {
	return &Engine{leads: leads, orch: orch, exec: exec, log: log, now: time.Now}
}

// WithSignals enables model hint extraction on inbound messages.
func (e *Engine) WithSignals(source SignalSource, catalog AutomationLister) *Engine {
	e.signals = source
	e.catalog = catalog
	return e
}

func (e *Engine) Name() string { return "engine" }

func (e *Engine) RegisterRoutes(ctx *apphttp.RouterContext) {
	channels := ctx.V1.Group("/channels")
	channels.POST("/telegram", e.TelegramWebhook)
	channels.POST("/whatsapp", e.WhatsAppWebhook)

	ctx.Protected.POST("/engine/decide", e.Decide)
	ctx.Protected.POST("/tools/apply", e.ApplyPlan)
}

var _ apphttp.Module = (*Engine)(nil)

// telegramUpdate is the subset of the Bot API update we consume. Button
// presses arrive as callback queries with the pressed value in Data.
type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      *struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
			Username  string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
		Date int64  `json:"date"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
		} `json:"from"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

func (e *Engine) TelegramWebhook(c *gin.Context) {
	var update telegramUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		httpkit.Error(c, 400, "invalid telegram payload", err.Error())
		return
	}

	var userID, name, text, msgID string
	switch {
	case update.Message != nil && update.Message.Text != "":
		userID = strconv.FormatInt(update.Message.Chat.ID, 10)
		if update.Message.From != nil {
			name = update.Message.From.FirstName
		}
		text = update.Message.Text
		msgID = strconv.FormatInt(update.Message.MessageID, 10)
	case update.CallbackQuery != nil && update.CallbackQuery.Data != "":
		userID = strconv.FormatInt(update.CallbackQuery.From.ID, 10)
		name = update.CallbackQuery.From.FirstName
		text = update.CallbackQuery.Data
		msgID = update.CallbackQuery.ID
	default:
		// Edits, joins and other update kinds are acknowledged and dropped.
		httpkit.OK(c, gin.H{"ignored": true})
		return
	}

	e.handleInbound(c, "telegram", userID, name, text, msgID)
}

// whatsappInbound is the normalized payload the WhatsApp bridge posts.
type whatsappInbound struct {
	Phone     string `json:"phone" binding:"required"`
	Name      string `json:"name"`
	Message   string `json:"message" binding:"required"`
	MessageID string `json:"messageId"`
}

func (e *Engine) WhatsAppWebhook(c *gin.Context) {
	var inbound whatsappInbound
	if err := c.ShouldBindJSON(&inbound); err != nil {
		httpkit.Error(c, 400, "invalid whatsapp payload", err.Error())
		return
	}

	e.handleInbound(c, "whatsapp", inbound.Phone, inbound.Name, inbound.Message, inbound.MessageID)
}

func (e *Engine) handleInbound(c *gin.Context, platform, userID, name, text, msgID string) {
	ctx := c.Request.Context()

	lead, err := e.leads.ResolveLead(ctx, platform, userID, name)
	if httpkit.HandleError(c, err) {
		return
	}

	window := []domain.Message{{
		ID:        msgID,
		Direction: "in",
		Text:      text,
		Timestamp: e.now(),
	}}
	env, err := e.leads.BuildEnvironment(ctx, *lead, window)
	if httpkit.HandleError(c, err) {
		return
	}
	env.Apply = true

	if e.signals != nil {
		var ids []string
		if e.catalog != nil {
			ids = e.catalog.AutomationIDs(ctx)
		}
		e.signals.Extract(ctx, env, ids)
	}

	plan := e.orch.Decide(ctx, env)

	if err := e.leads.PersistSnapshot(ctx, lead.ID, env.Snapshot); err != nil {
		e.log.WithLead(lead.ID).Warn("snapshot not persisted", "error", err)
	}
	e.queueReviewIfNeeded(c, lead.ID, plan, text)

	result := e.exec.Execute(ctx, *lead, plan)
	httpkit.OK(c, gin.H{"decisionId": plan.DecisionID, "result": result})
}

// queueReviewIfNeeded flags fallback decisions so an operator can follow up.
func (e *Engine) queueReviewIfNeeded(c *gin.Context, leadID string, plan *domain.Plan, message string) {
	reason, ok := plan.Metadata["fallback_reason"].(string)
	if !ok || reason == "" || reason == "short_message" {
		return
	}
	if err := e.leads.EnqueueReview(c.Request.Context(), leadID, plan.DecisionID, reason, message); err != nil {
		e.log.WithLead(leadID).Warn("review not queued", "error", err)
	}
}

// Decide runs the engine on a caller-supplied environment. Side effects run
// only when the environment asks for them with apply=true.
func (e *Engine) Decide(c *gin.Context) {
	var env domain.Environment
	if err := c.ShouldBindJSON(&env); err != nil {
		httpkit.Error(c, 400, "invalid environment", err.Error())
		return
	}
	if env.Lead.ID == "" {
		httpkit.Error(c, 400, "lead.id is required", nil)
		return
	}

	ctx := c.Request.Context()
	plan := e.orch.Decide(ctx, &env)

	if !env.Apply {
		httpkit.OK(c, gin.H{"plan": plan})
		return
	}

	if err := e.leads.PersistSnapshot(ctx, env.Lead.ID, env.Snapshot); err != nil {
		e.log.WithLead(env.Lead.ID).Warn("snapshot not persisted", "error", err)
	}
	result := e.exec.Execute(ctx, env.Lead, plan)
	httpkit.OK(c, gin.H{"plan": plan, "result": result})
}

type applyPlanRequest struct {
	LeadID string      `json:"leadId" binding:"required"`
	Plan   domain.Plan `json:"plan" binding:"required"`
}

// ApplyPlan executes a previously computed plan against a lead.
func (e *Engine) ApplyPlan(c *gin.Context) {
	var req applyPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, 400, "invalid plan payload", err.Error())
		return
	}

	ctx := c.Request.Context()
	lead, err := e.leads.GetLead(ctx, req.LeadID)
	if httpkit.HandleError(c, err) {
		return
	}
	if len(req.Plan.Actions) == 0 {
		httpkit.Error(c, 400, "plan has no actions", nil)
		return
	}
	if req.Plan.DecisionID == "" {
		req.Plan.DecisionID = fmt.Sprintf("manual_%d", e.now().UnixMilli())
	}

	result := e.exec.Execute(ctx, *lead, &req.Plan)
	httpkit.OK(c, result)
}
