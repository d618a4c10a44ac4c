package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"crypto-learning-engine/internal/cache"
)

func (s *Server) handleStrategyMetrics(c *gin.Context) {
	strategyID := c.Param("id")
	days := intQuery(c, "days", 30)

	metrics, err := s.optimizer.EvaluateStrategy(c.Request.Context(), strategyID, days)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to evaluate strategy")
		return
	}

	metrics.ProfitFactor = clampInf(metrics.ProfitFactor)
	metrics.RecoveryFactor = clampInf(metrics.RecoveryFactor)

	if s.cache != nil {
		key := cache.StrategyMetricsKey(strategyID)
		if err := s.cache.SetJSON(c.Request.Context(), key, metrics); err != nil {
			s.logger.WithError(err).Debug("strategy metrics cache refresh skipped")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"strategy_id":   strategyID,
		"strategy_type": s.optimizer.StrategyType(strategyID),
		"metrics":       metrics,
	})
}

// handleRebalanceStrategies recomputes strategy weights, either from realized
// performance or adapted to a named market condition
func (s *Server) handleRebalanceStrategies(c *gin.Context) {
	var req struct {
		Strategies      []string `json:"strategies"`
		Days            int      `json:"days"`
		MarketCondition string   `json:"market_condition"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid rebalance request: "+err.Error())
		return
	}
	if len(req.Strategies) == 0 {
		errorResponse(c, http.StatusBadRequest, "strategies list is required")
		return
	}
	if req.Days <= 0 {
		req.Days = 30
	}

	var (
		newWeights map[string]float64
		err        error
		mode       string
	)
	if req.MarketCondition != "" {
		mode = "market_adaptive"
		newWeights, err = s.optimizer.AdjustWeightsMarketAdaptive(c.Request.Context(), req.Strategies, req.MarketCondition)
	} else {
		mode = "performance"
		newWeights, err = s.optimizer.AdjustWeightsPerformance(c.Request.Context(), req.Strategies, req.Days)
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to rebalance strategies")
		return
	}

	s.hub.BroadcastEvent("weights_rebalanced", gin.H{
		"mode":    mode,
		"weights": newWeights,
	})

	c.JSON(http.StatusOK, gin.H{"mode": mode, "weights": newWeights})
}

func (s *Server) handleOptimalWeights(c *gin.Context) {
	raw := c.Query("ids")
	if raw == "" {
		errorResponse(c, http.StatusBadRequest, "ids query parameter is required")
		return
	}

	var ids []string
	for _, p := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}

	optimal, err := s.optimizer.GetOptimalWeights(c.Request.Context(), ids)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load optimal weights")
		return
	}

	c.JSON(http.StatusOK, gin.H{"weights": optimal})
}

func (s *Server) handleRunABTest(c *gin.Context) {
	var req struct {
		TestName        string `json:"test_name"`
		ControlStrategy string `json:"control_strategy"`
		TestStrategy    string `json:"test_strategy"`
		Days            int    `json:"days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid A/B test request: "+err.Error())
		return
	}
	if req.TestName == "" || req.ControlStrategy == "" || req.TestStrategy == "" {
		errorResponse(c, http.StatusBadRequest, "test_name, control_strategy and test_strategy are required")
		return
	}
	if req.Days <= 0 {
		req.Days = 30
	}

	outcome, err := s.optimizer.RunABTest(c.Request.Context(), req.TestName, req.ControlStrategy, req.TestStrategy, req.Days)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to run A/B test")
		return
	}

	c.JSON(http.StatusOK, outcome)
}
