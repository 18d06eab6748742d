package api

import (
	"net/http"
	"time"

	"ctfcore/internal/catalog"

	"github.com/gin-gonic/gin"
)

func NewRouter(lifecycle Lifecycle, queue TaskEnqueuer, cat catalog.Store) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware())
	r.Use(RequestIDMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})

	ctfHandler := NewCTFHandler(lifecycle, cat)
	adminHandler := NewAdminHandler(queue, cat)

	v1 := r.Group("/api/v1")
	{
		ctf := v1.Group("/ctf")
		ctf.Use(TeamIdentityMiddleware())
		{
			ctf.GET("", ctfHandler.ListProblems)
			ctf.POST("/:id/start", ctfHandler.StartInstance)
			ctf.POST("/:id/stop", ctfHandler.StopInstance)
			ctf.POST("/stopall", ctfHandler.StopAllInstances)
		}

		// Admin routes are reachable only from the operations network;
		// the gateway never forwards them.
		admin := v1.Group("/admin")
		{
			admin.POST("/reprovision", adminHandler.Reprovision)
			admin.GET("/problems", adminHandler.ListAllProblems)
			admin.PATCH("/problems/:id/visibility", adminHandler.SetVisibility)
		}
	}

	return r
}
