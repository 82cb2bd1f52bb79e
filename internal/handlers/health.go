package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reviewinsight/backend/internal/cache"
	"github.com/reviewinsight/backend/internal/database"
)

// Health reports service health for load balancer checks
// GET /health
func (h *Handlers) Health(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if err := database.Health(); err != nil {
		checks["database"] = "unhealthy"
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if rc := cache.GetRedisClient(); rc != nil {
		if err := rc.Ping(c.Request.Context()); err != nil {
			checks["redis"] = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "not configured"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status": overall,
		"checks": checks,
	})
}
