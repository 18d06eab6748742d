package api

import (
	"errors"
	"net/http"
	"strconv"

	"ctfcore/internal/catalog"

	"github.com/gin-gonic/gin"
)

type CTFHandler struct {
	lifecycle Lifecycle
	catalog   catalog.Store
}

func NewCTFHandler(lifecycle Lifecycle, cat catalog.Store) *CTFHandler {
	return &CTFHandler{lifecycle: lifecycle, catalog: cat}
}

// ListProblems returns the visible challenge set.
func (h *CTFHandler) ListProblems(c *gin.Context) {
	problems, err := h.catalog.ListVisible(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, problems)
}

// StartInstance provisions (or returns the already-running) instance
// for the caller's team and the problem in the path.
func (h *CTFHandler) StartInstance(c *gin.Context) {
	problemID, err := parseID(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	res, err := h.lifecycle.Provision(c.Request.Context(), teamID(c), problemID)
	if err != nil {
		respondError(c, mapLifecycleError(err), err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// StopInstance tears down the pair's instance.
func (h *CTFHandler) StopInstance(c *gin.Context) {
	problemID, err := parseID(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.lifecycle.Teardown(c.Request.Context(), teamID(c), problemID); err != nil {
		respondError(c, mapLifecycleError(err), err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "stopped"})
}

// StopAllInstances tears down every instance the caller's team has.
func (h *CTFHandler) StopAllInstances(c *gin.Context) {
	if err := h.lifecycle.TeardownAllForTeam(c.Request.Context(), teamID(c)); err != nil {
		respondError(c, mapLifecycleError(err), err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "stopped"})
}

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, errors.New("invalid problem id")
	}
	return id, nil
}
