package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crypto-learning-engine/internal/cache"
	"crypto-learning-engine/internal/market"
	"crypto-learning-engine/internal/weights"
)

// handleGetWeights returns the current weight snapshot, preferring the
// cached copy when Redis is healthy
func (s *Server) handleGetWeights(c *gin.Context) {
	if s.cache != nil && s.cache.IsHealthy() {
		key := cache.StrategyWeightsKey(string(s.weights.CurrentMarket()))
		var snapshot weights.Snapshot
		if err := s.cache.GetJSON(c.Request.Context(), key, &snapshot); err == nil {
			c.JSON(http.StatusOK, gin.H{"source": "cache", "weights": snapshot})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"source": "live", "weights": s.weights.CurrentWeights()})
}

func (s *Server) handleGetWeightHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": s.weights.WeightHistory()})
}

// handleUpdateMarketCondition reclassifies the market regime from fresh
// indicator readings
func (s *Server) handleUpdateMarketCondition(c *gin.Context) {
	var ind market.Indicators
	if err := c.ShouldBindJSON(&ind); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid indicators: "+err.Error())
		return
	}

	condition := s.weights.UpdateMarketCondition(ind)
	snapshot := s.weights.CurrentWeights()

	s.hub.BroadcastEvent("market_condition", gin.H{
		"market_condition": condition,
		"weights":          snapshot.Strategies,
	})

	c.JSON(http.StatusOK, gin.H{
		"market_condition": condition,
		"weights":          snapshot,
	})
}

func (s *Server) handleCompositeScore(c *gin.Context) {
	var req struct {
		Signals map[string]float64 `json:"signals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid signals: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"composite_score": s.weights.CalculateCompositeScore(req.Signals)})
}

func (s *Server) handlePositionSize(c *gin.Context) {
	var req struct {
		Confidence     float64 `json:"confidence"`
		RiskLevel      string  `json:"risk_level"`
		AccountBalance float64 `json:"account_balance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.AccountBalance <= 0 {
		errorResponse(c, http.StatusBadRequest, "account_balance must be positive")
		return
	}

	size := s.weights.RecommendPositionSize(req.Confidence, req.RiskLevel, req.AccountBalance)
	c.JSON(http.StatusOK, gin.H{
		"position_size":    size,
		"market_condition": s.weights.CurrentMarket(),
	})
}

func (s *Server) handleGetRecommendation(c *gin.Context) {
	c.JSON(http.StatusOK, s.weights.GetStrategyRecommendation())
}
