package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crypto-learning-engine/internal/cache"
	"crypto-learning-engine/internal/learning/blackswan"
	"crypto-learning-engine/internal/market"
)

// handleTrainDetector retrains the anomaly model on the supplied candles
func (s *Server) handleTrainDetector(c *gin.Context) {
	var req struct {
		Candles []market.Candle `json:"candles"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid candles: "+err.Error())
		return
	}

	report := s.detector.Train(req.Candles)
	if report.TrainingSamples == 0 {
		errorResponse(c, http.StatusUnprocessableEntity, "not enough candles to train")
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleCrisisProbability scores the supplied market indicators and returns
// the recommended defensive action for the caller's position
func (s *Server) handleCrisisProbability(c *gin.Context) {
	var req struct {
		Indicators      map[string]float64 `json:"indicators"`
		CurrentPosition float64            `json:"current_position"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid indicators: "+err.Error())
		return
	}
	if len(req.Indicators) == 0 {
		errorResponse(c, http.StatusBadRequest, "indicators are required")
		return
	}

	probability := s.detector.PredictCrisisProbability(req.Indicators)
	action := s.detector.GetRecommendedAction(probability, req.CurrentPosition)

	if s.cache != nil {
		payload := gin.H{"probability": probability, "alert_level": action.AlertLevel}
		if err := s.cache.SetJSON(c.Request.Context(), cache.KeyCrisisProbability, payload); err != nil {
			s.logger.WithError(err).Debug("crisis probability cache refresh skipped")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"crisis_probability": probability,
		"action":             action,
	})
}

func (s *Server) handleRecordAlert(c *gin.Context) {
	var req struct {
		AlertLevel        int                    `json:"alert_level"`
		AlertType         string                 `json:"alert_type"`
		TriggerConditions map[string]interface{} `json:"trigger_conditions"`
		MarketIndicators  map[string]float64     `json:"market_indicators"`
		ResponseAction    string                 `json:"response_action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid alert: "+err.Error())
		return
	}
	if req.AlertLevel < 1 || req.AlertLevel > 3 {
		errorResponse(c, http.StatusBadRequest, "alert_level must be 1, 2 or 3")
		return
	}

	alertID, err := s.detector.RecordAlert(c.Request.Context(), req.AlertLevel, req.AlertType,
		req.TriggerConditions, req.MarketIndicators, req.ResponseAction)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to record alert")
		return
	}

	s.hub.BroadcastEvent("crisis_alert", gin.H{
		"alert_id":    alertID,
		"alert_level": req.AlertLevel,
		"alert_type":  req.AlertType,
	})

	c.JSON(http.StatusCreated, gin.H{"alert_id": alertID})
}

func (s *Server) handleAlertOutcome(c *gin.Context) {
	alertID := c.Param("id")

	var req struct {
		ActualOutcome string `json:"actual_outcome"`
		WasCorrect    bool   `json:"was_correct"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid outcome: "+err.Error())
		return
	}

	if err := s.detector.UpdateAlertOutcome(c.Request.Context(), alertID, req.ActualOutcome, req.WasCorrect); err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to update alert outcome")
		return
	}

	c.JSON(http.StatusOK, gin.H{"alert_id": alertID, "status": "updated"})
}

// handleCrisisReport composes the historical event analysis, the alert
// accuracy review and the learned crisis patterns into one report
func (s *Server) handleCrisisReport(c *gin.Context) {
	ctx := c.Request.Context()

	analysis, err := s.detector.AnalyzeHistoricalEvents(ctx)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to analyze historical events")
		return
	}

	optimization, err := s.detector.OptimizeResponseStrategy(ctx)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to review alert accuracy")
		return
	}

	patterns, err := s.detector.GetCrisisPatterns(ctx)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load crisis patterns")
		return
	}

	responses, err := s.detector.GetResponseStrategies(ctx)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load response strategies")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_analysis":      analysis,
		"alert_review":        optimization,
		"patterns":            patterns,
		"response_strategies": responses,
	})
}

func (s *Server) handleLearnEvent(c *gin.Context) {
	var event blackswan.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}

	if err := s.detector.LearnFromEvent(c.Request.Context(), event); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event_name": event.Name, "status": "recorded"})
}
