package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uconnect/uconnect/internal/app"
	"github.com/uconnect/uconnect/internal/handlers"
	"github.com/uconnect/uconnect/internal/monitoring"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	r.GET("/health", handlers.Health())

	if !cfg.Monitoring.Health.Enabled || mon.Readiness() == nil {
		r.GET("/health/ready", disabledHealthHandler)
		return
	}
	r.GET("/health/ready", handlers.Readiness(mon.Readiness()))
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}
