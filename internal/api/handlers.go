package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// clampInf keeps +-Inf metric values JSON-encodable
func clampInf(v float64) float64 {
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	if math.IsInf(v, -1) {
		return -math.MaxFloat64
	}
	return v
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":     "ok",
		"ws_clients": s.hub.ClientCount(),
	}

	if err := s.repo.HealthCheck(c.Request.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
	} else {
		status["database"] = "ok"
	}

	if s.cache != nil {
		status["cache"] = s.cache.GetStats()
	}

	c.JSON(http.StatusOK, status)
}
