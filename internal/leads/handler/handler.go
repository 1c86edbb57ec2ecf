package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/service"
	"leadflow_backend/platform/httpkit"
)

// Handler exposes the admin surface for leads and the review queue.
type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// GetLead returns lead identity plus its current snapshot and state.
// GET /api/v1/admin/leads/:id
func (h *Handler) GetLead(c *gin.Context) {
	id := c.Param("id")

	lead, err := h.svc.GetLead(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		httpkit.Error(c, http.StatusNotFound, "lead not found", nil)
		return
	}
	if httpkit.HandleError(c, err) {
		return
	}

	state, err := h.svc.ContextState(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"lead": lead, "state": state})
}

// GetJourney returns recent journey events for a lead.
// GET /api/v1/admin/leads/:id/journey
func (h *Handler) GetJourney(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := h.svc.JourneyEvents(c.Request.Context(), c.Param("id"), limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"events": events})
}

// ListReviews returns pending review-queue items.
// GET /api/v1/admin/reviews
func (h *Handler) ListReviews(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	items, err := h.svc.PendingReviews(c.Request.Context(), limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"reviews": items})
}

type resolveReviewRequest struct {
	Status string `json:"status" binding:"required,oneof=approved dismissed"`
}

// ResolveReview closes a pending review item.
// POST /api/v1/admin/reviews/:id/resolve
func (h *Handler) ResolveReview(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid review id", nil)
		return
	}

	var req resolveReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	err = h.svc.ResolveReview(c.Request.Context(), id, req.Status)
	if errors.Is(err, repository.ErrNotFound) {
		httpkit.Error(c, http.StatusNotFound, "review not found or already resolved", nil)
		return
	}
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"resolved": true})
}
