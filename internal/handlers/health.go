package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uconnect/uconnect/internal/monitoring"
	"github.com/uconnect/uconnect/pkg/response"
)

// Health returns a simple status payload useful for liveness checks.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}

// Readiness evaluates the registered dependency checks. Only a failing
// critical dependency turns the response into a 503.
func Readiness(readiness *monitoring.Readiness) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := readiness.Evaluate(requestContext(c))
		status := http.StatusOK
		if !report.Ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}
