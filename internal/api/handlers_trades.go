package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"crypto-learning-engine/internal/recorder"
)

func (s *Server) handleOpenTrade(c *gin.Context) {
	var req recorder.EntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid trade entry: "+err.Error())
		return
	}

	tradeID, err := s.recorder.OpenTrade(c.Request.Context(), &req)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to record trade entry")
		return
	}

	s.hub.BroadcastEvent("trade_opened", gin.H{
		"trade_id":    tradeID,
		"symbol":      req.Symbol,
		"direction":   req.Direction,
		"strategy_id": req.StrategyID,
	})

	c.JSON(http.StatusCreated, gin.H{"trade_id": tradeID})
}

func (s *Server) handleCloseTrade(c *gin.Context) {
	tradeID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid trade id")
		return
	}

	var req recorder.ExitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid trade exit: "+err.Error())
		return
	}

	if err := s.recorder.CloseTrade(c.Request.Context(), tradeID, &req); err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to close trade")
		return
	}

	s.hub.BroadcastEvent("trade_closed", gin.H{
		"trade_id": tradeID,
		"pnl":      req.PnL,
	})

	c.JSON(http.StatusOK, gin.H{"trade_id": tradeID, "status": "closed"})
}

func (s *Server) handleTradeStatistics(c *gin.Context) {
	symbol := c.Query("symbol")
	days := intQuery(c, "days", 30)

	stats, err := s.recorder.CalculateStatistics(c.Request.Context(), symbol, days)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to compute statistics")
		return
	}

	// A run without losing trades produces an infinite profit factor,
	// which JSON cannot carry
	stats.ProfitFactor = clampInf(stats.ProfitFactor)

	c.JSON(http.StatusOK, stats)
}
