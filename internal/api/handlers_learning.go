package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleRunCycle runs one learning cycle synchronously and returns its result
func (s *Server) handleRunCycle(c *gin.Context) {
	result := s.runner.RunCycle(c.Request.Context())

	s.hub.BroadcastEvent("learning_cycle", gin.H{
		"started_at":  result.StartedAt,
		"duration_ms": result.Duration.Milliseconds(),
		"errors":      len(result.Errors),
	})

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleLearningStatus(c *gin.Context) {
	last := s.runner.LastResult()
	if last == nil {
		c.JSON(http.StatusOK, gin.H{"status": "idle", "last_cycle": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "running", "last_cycle": last})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"enabled": true, "stats": s.cache.GetStats()})
}
