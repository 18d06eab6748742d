package api

import (
	"errors"
	"net/http"

	"ctfcore/internal/catalog"
	"ctfcore/internal/orchestrator"
	"ctfcore/internal/registry"

	"github.com/gin-gonic/gin"
)

var ErrTeamIdentityMissing = errors.New("team identity required")

func respondError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func abortWithError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func mapLifecycleError(err error) int {
	switch {
	case errors.Is(err, catalog.ErrProblemNotFound),
		errors.Is(err, registry.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
