package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crypto-learning-engine/internal/cache"
	"crypto-learning-engine/internal/database"
)

func (s *Server) handleGetBestPatterns(c *gin.Context) {
	patternType := c.Query("type")
	limit := intQuery(c, "limit", 10)

	if s.cache != nil && s.cache.IsHealthy() && patternType == "" {
		var cached []database.SuccessPattern
		if err := s.cache.GetJSON(c.Request.Context(), cache.KeyBestPatterns, &cached); err == nil {
			c.JSON(http.StatusOK, gin.H{"source": "cache", "patterns": cached})
			return
		}
	}

	rows, err := s.repo.GetBestPatterns(c.Request.Context(), patternType, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load success patterns")
		return
	}

	if s.cache != nil && patternType == "" {
		if err := s.cache.SetJSON(c.Request.Context(), cache.KeyBestPatterns, rows); err != nil {
			s.logger.WithError(err).Debug("best patterns cache refresh skipped")
		}
	}

	c.JSON(http.StatusOK, gin.H{"source": "live", "patterns": rows})
}

// handleGetMistakes runs mistake detection over recent closed trades
func (s *Server) handleGetMistakes(c *gin.Context) {
	days := intQuery(c, "days", 30)

	mistakes, err := s.learner.IdentifyCommonMistakes(c.Request.Context(), days)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to analyze mistakes")
		return
	}

	c.JSON(http.StatusOK, gin.H{"mistakes": mistakes})
}

func (s *Server) handleGetAssociationRules(c *gin.Context) {
	days := intQuery(c, "days", 30)

	rules, err := s.learner.MineAssociationRules(c.Request.Context(), days)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to mine association rules")
		return
	}

	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) handleGetRiskPatterns(c *gin.Context) {
	limit := intQuery(c, "limit", 10)

	if s.cache != nil && s.cache.IsHealthy() {
		var cached []database.FailurePattern
		if err := s.cache.GetJSON(c.Request.Context(), cache.KeyRiskPatterns, &cached); err == nil {
			c.JSON(http.StatusOK, gin.H{"source": "cache", "patterns": cached})
			return
		}
	}

	rows, err := s.repo.GetRiskPatterns(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load failure patterns")
		return
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(c.Request.Context(), cache.KeyRiskPatterns, rows); err != nil {
			s.logger.WithError(err).Debug("risk patterns cache refresh skipped")
		}
	}

	c.JSON(http.StatusOK, gin.H{"source": "live", "patterns": rows})
}

func (s *Server) handleGetOpportunityPatterns(c *gin.Context) {
	limit := intQuery(c, "limit", 10)

	if s.cache != nil && s.cache.IsHealthy() {
		var cached []database.OpportunityPattern
		if err := s.cache.GetJSON(c.Request.Context(), cache.KeyOpportunityPatterns, &cached); err == nil {
			c.JSON(http.StatusOK, gin.H{"source": "cache", "patterns": cached})
			return
		}
	}

	rows, err := s.repo.GetOpportunityPatterns(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load opportunity patterns")
		return
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(c.Request.Context(), cache.KeyOpportunityPatterns, rows); err != nil {
			s.logger.WithError(err).Debug("opportunity patterns cache refresh skipped")
		}
	}

	c.JSON(http.StatusOK, gin.H{"source": "live", "patterns": rows})
}
