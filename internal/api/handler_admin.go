package api

import (
	"net/http"

	"ctfcore/internal/catalog"
	"ctfcore/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	queue   TaskEnqueuer
	catalog catalog.Store
}

func NewAdminHandler(queue TaskEnqueuer, cat catalog.Store) *AdminHandler {
	return &AdminHandler{queue: queue, catalog: cat}
}

// Reprovision enqueues the whole-system reset and returns immediately.
// The run's outcome is observable through logs, metrics and the
// lifecycle event feed.
func (h *AdminHandler) Reprovision(c *gin.Context) {
	info, err := h.queue.EnqueueContext(c.Request.Context(), orchestrator.NewReprovisionTask())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, EnqueuedResponse{Status: "enqueued", TaskID: info.ID})
}

// ListAllProblems includes hidden problems, unlike the player listing.
func (h *AdminHandler) ListAllProblems(c *gin.Context) {
	problems, err := h.catalog.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, problems)
}

// SetVisibility toggles a problem in or out of the visible set.
func (h *AdminHandler) SetVisibility(c *gin.Context) {
	problemID, err := parseID(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	var req VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.catalog.SetVisibility(c.Request.Context(), problemID, *req.Visible); err != nil {
		respondError(c, mapLifecycleError(err), err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "updated"})
}
