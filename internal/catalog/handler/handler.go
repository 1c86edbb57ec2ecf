package handler

import (
	"github.com/gin-gonic/gin"

	"leadflow_backend/internal/catalog/service"
	"leadflow_backend/platform/httpkit"
)

// Handler exposes the admin surface of the catalog.
type Handler struct {
	svc *service.Service
}

// New creates a new catalog handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// ListAutomations returns the compiled catalog in file order.
// GET /api/v1/admin/catalog/automations
func (h *Handler) ListAutomations(c *gin.Context) {
	autos, err := h.svc.Automations(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}

	type entry struct {
		ID          string  `json:"id"`
		Topic       string  `json:"topic,omitempty"`
		Priority    float64 `json:"priority"`
		Eligibility string  `json:"eligibility,omitempty"`
		RuleOK      bool    `json:"ruleOk"`
	}
	out := make([]entry, 0, len(autos))
	for _, a := range autos {
		out = append(out, entry{
			ID:          a.ID,
			Topic:       a.Topic,
			Priority:    a.Priority,
			Eligibility: a.Eligibility,
			RuleOK:      a.RuleOK,
		})
	}
	httpkit.OK(c, gin.H{"automations": out})
}

// Reload invalidates the catalog cache and loads it again immediately so
// config errors surface on the reload call, not on the next decision.
// POST /api/v1/admin/catalog/reload
func (h *Handler) Reload(c *gin.Context) {
	h.svc.Invalidate()
	autos, err := h.svc.Automations(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"reloaded": true, "automations": len(autos)})
}
