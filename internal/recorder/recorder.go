package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"crypto-learning-engine/internal/database"
	"crypto-learning-engine/internal/logging"
)

// tradeStore is the persistence surface the recorder needs
type tradeStore interface {
	CreateTrade(ctx context.Context, trade *database.Trade) error
	CloseTrade(ctx context.Context, trade *database.Trade) error
	GetTrade(ctx context.Context, id int64) (*database.Trade, error)
	GetRecentTrades(ctx context.Context, days int, status string) ([]database.Trade, error)
	GetTradesByStrategy(ctx context.Context, strategyID string, days int) ([]database.Trade, error)
}

// EntryRequest describes a trade at the moment it is opened
type EntryRequest struct {
	Symbol      string             `json:"symbol"`
	Direction   string             `json:"direction"`
	StrategyID  string             `json:"strategy_id"`
	EntryPrice  float64            `json:"entry_price"`
	EntryReason string             `json:"entry_reason"`
	Indicators  map[string]float64 `json:"indicators"`
	MarketState string             `json:"market_state"`
	StopLoss    float64            `json:"stop_loss"`
	TakeProfit  float64            `json:"take_profit"`
	Trend       string             `json:"trend"`
	Volatility  string             `json:"volatility"`
}

// ExitRequest describes how a trade was closed
type ExitRequest struct {
	ExitPrice  float64 `json:"exit_price"`
	ExitReason string  `json:"exit_reason"`
	PnL        float64 `json:"pnl"`
}

// Statistics summarizes a set of closed trades
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
	MaxProfit     float64 `json:"max_profit"`
	MaxLoss       float64 `json:"max_loss"`
	AvgDuration   float64 `json:"avg_duration_hours"`
}

// TradeRecorder records the full lifecycle of every trade for later analysis
type TradeRecorder struct {
	store  tradeStore
	logger *logging.Logger
}

// NewTradeRecorder creates a trade recorder backed by the given store
func NewTradeRecorder(store tradeStore) *TradeRecorder {
	return &TradeRecorder{
		store:  store,
		logger: logging.Default().WithComponent("trade_recorder"),
	}
}

// OpenTrade validates and persists a new open trade, returning its ID
func (tr *TradeRecorder) OpenTrade(ctx context.Context, req *EntryRequest) (int64, error) {
	if req.Symbol == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	if req.Direction != database.DirectionLong && req.Direction != database.DirectionShort {
		return 0, fmt.Errorf("invalid direction: %s", req.Direction)
	}
	if req.EntryPrice <= 0 {
		return 0, fmt.Errorf("entry price must be positive")
	}

	trade := &database.Trade{
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		EntryPrice: req.EntryPrice,
		EntryTime:  time.Now().UTC(),
		Status:     database.TradeStatusOpen,
	}
	if req.StrategyID != "" {
		trade.StrategyID = sql.NullString{String: req.StrategyID, Valid: true}
	}
	if req.EntryReason != "" {
		trade.EntryReason = sql.NullString{String: req.EntryReason, Valid: true}
	}
	if req.MarketState != "" {
		trade.EntryMarketState = sql.NullString{String: req.MarketState, Valid: true}
	}
	if req.Trend != "" {
		trade.ContextTrend = sql.NullString{String: req.Trend, Valid: true}
	}
	if req.Volatility != "" {
		trade.ContextVolatility = sql.NullString{String: req.Volatility, Valid: true}
	}
	if req.StopLoss > 0 {
		trade.StopLoss = sql.NullFloat64{Float64: req.StopLoss, Valid: true}
	}
	if req.TakeProfit > 0 {
		trade.TakeProfit = sql.NullFloat64{Float64: req.TakeProfit, Valid: true}
	}
	if len(req.Indicators) > 0 {
		data, err := json.Marshal(req.Indicators)
		if err != nil {
			return 0, fmt.Errorf("encode indicators: %w", err)
		}
		trade.EntryIndicators = sql.NullString{String: string(data), Valid: true}
	}

	if err := tr.store.CreateTrade(ctx, trade); err != nil {
		return 0, fmt.Errorf("create trade: %w", err)
	}

	tr.logger.Info("Trade opened",
		"trade_id", trade.ID,
		"symbol", trade.Symbol,
		"direction", trade.Direction,
		"entry_price", trade.EntryPrice)

	return trade.ID, nil
}

// CloseTrade records the exit of an open trade. Duration is derived from
// the stored entry time.
func (tr *TradeRecorder) CloseTrade(ctx context.Context, tradeID int64, req *ExitRequest) error {
	trade, err := tr.store.GetTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("get trade %d: %w", tradeID, err)
	}
	if trade == nil {
		return fmt.Errorf("trade %d not found", tradeID)
	}
	if trade.Status != database.TradeStatusOpen {
		return fmt.Errorf("trade %d is not open", tradeID)
	}

	now := time.Now().UTC()
	trade.ExitPrice = sql.NullFloat64{Float64: req.ExitPrice, Valid: true}
	trade.ExitReason = sql.NullString{String: req.ExitReason, Valid: true}
	trade.ExitPnL = sql.NullFloat64{Float64: req.PnL, Valid: true}
	trade.ExitDuration = sql.NullFloat64{Float64: now.Sub(trade.EntryTime).Hours(), Valid: true}
	trade.ExitTime = sql.NullTime{Time: now, Valid: true}
	trade.Status = database.TradeStatusClosed

	if err := tr.store.CloseTrade(ctx, trade); err != nil {
		return fmt.Errorf("close trade %d: %w", tradeID, err)
	}

	tr.logger.Info("Trade closed",
		"trade_id", tradeID,
		"symbol", trade.Symbol,
		"pnl", req.PnL,
		"exit_reason", req.ExitReason)

	return nil
}

// GetRecentTrades returns trades from the last N days, optionally filtered
// by status
func (tr *TradeRecorder) GetRecentTrades(ctx context.Context, days int, status string) ([]database.Trade, error) {
	return tr.store.GetRecentTrades(ctx, days, status)
}

// GetTradesByStrategy returns closed trades for a strategy in the lookback
// window
func (tr *TradeRecorder) GetTradesByStrategy(ctx context.Context, strategyID string, days int) ([]database.Trade, error) {
	return tr.store.GetTradesByStrategy(ctx, strategyID, days)
}

// CalculateStatistics aggregates closed trades from the last N days into
// summary statistics. Symbol filters when non-empty. An empty window yields
// zeroed statistics, not an error.
func (tr *TradeRecorder) CalculateStatistics(ctx context.Context, symbol string, days int) (*Statistics, error) {
	trades, err := tr.store.GetRecentTrades(ctx, days, database.TradeStatusClosed)
	if err != nil {
		return nil, fmt.Errorf("get closed trades: %w", err)
	}

	stats := &Statistics{}
	var totalProfit, totalLoss, totalDuration float64

	for i := range trades {
		t := &trades[i]
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		pnl := t.PnL()

		stats.TotalTrades++
		stats.TotalPnL += pnl
		totalDuration += t.ExitDuration.Float64

		if pnl > 0 {
			stats.WinningTrades++
			totalProfit += pnl
			if pnl > stats.MaxProfit {
				stats.MaxProfit = pnl
			}
		} else if pnl < 0 {
			stats.LosingTrades++
			totalLoss += -pnl
			if pnl < stats.MaxLoss {
				stats.MaxLoss = pnl
			}
		}
	}

	if stats.TotalTrades == 0 {
		return stats, nil
	}

	stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	stats.AvgPnL = stats.TotalPnL / float64(stats.TotalTrades)
	stats.AvgDuration = totalDuration / float64(stats.TotalTrades)
	if totalLoss > 0 {
		stats.ProfitFactor = totalProfit / totalLoss
	} else if totalProfit > 0 {
		stats.ProfitFactor = math.Inf(1)
	}

	return stats, nil
}
