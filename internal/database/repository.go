package database

import (
	"context"
	"fmt"
	"time"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Conn.PingContext(ctx)
}

// ============================================================================
// TRADES
// ============================================================================

// CreateTrade inserts a new open trade
func (r *Repository) CreateTrade(ctx context.Context, trade *Trade) error {
	if trade.Status == "" {
		trade.Status = TradeStatusOpen
	}
	query := `
		INSERT INTO trades (symbol, direction, strategy_id, entry_price, entry_reason,
			entry_indicators, entry_market_state, entry_time, stop_loss, take_profit,
			context_trend, context_volatility, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.Conn.ExecContext(
		ctx, query,
		trade.Symbol, trade.Direction, trade.StrategyID, trade.EntryPrice, trade.EntryReason,
		trade.EntryIndicators, trade.EntryMarketState, trade.EntryTime.UTC().Format(time.RFC3339),
		trade.StopLoss, trade.TakeProfit, trade.ContextTrend, trade.ContextVolatility, trade.Status,
	)
	if err != nil {
		return fmt.Errorf("create trade: %w", err)
	}
	trade.ID, err = res.LastInsertId()
	return err
}

// CloseTrade records the exit leg of a trade. A trade can only be closed once.
func (r *Repository) CloseTrade(ctx context.Context, trade *Trade) error {
	query := `
		UPDATE trades
		SET exit_price = ?, exit_reason = ?, exit_duration = ?, exit_pnl = ?,
			exit_time = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`
	res, err := r.db.Conn.ExecContext(
		ctx, query,
		trade.ExitPrice, trade.ExitReason, trade.ExitDuration, trade.ExitPnL,
		trade.ExitTime, TradeStatusClosed, trade.ID, TradeStatusOpen,
	)
	if err != nil {
		return fmt.Errorf("close trade %d: %w", trade.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("close trade %d: trade not open", trade.ID)
	}
	trade.Status = TradeStatusClosed
	return nil
}

// GetRecentTrades returns trades entered within the last N days, optionally
// filtered by status ("" means all)
func (r *Repository) GetRecentTrades(ctx context.Context, days int, status string) ([]Trade, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	var trades []Trade
	var err error
	if status == "" {
		err = r.db.Conn.SelectContext(ctx, &trades,
			`SELECT * FROM trades WHERE entry_time >= ? ORDER BY entry_time DESC`, cutoff)
	} else {
		err = r.db.Conn.SelectContext(ctx, &trades,
			`SELECT * FROM trades WHERE entry_time >= ? AND status = ? ORDER BY entry_time DESC`, cutoff, status)
	}
	if err != nil {
		return nil, fmt.Errorf("get recent trades: %w", err)
	}
	return trades, nil
}

// GetTradesByStrategy returns closed trades for one strategy within the window
func (r *Repository) GetTradesByStrategy(ctx context.Context, strategyID string, days int) ([]Trade, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	var trades []Trade
	err := r.db.Conn.SelectContext(ctx, &trades,
		`SELECT * FROM trades WHERE entry_time >= ? AND status = ? AND strategy_id = ? ORDER BY entry_time`,
		cutoff, TradeStatusClosed, strategyID)
	if err != nil {
		return nil, fmt.Errorf("get trades for strategy %s: %w", strategyID, err)
	}
	return trades, nil
}

// GetTrade returns a single trade by id
func (r *Repository) GetTrade(ctx context.Context, id int64) (*Trade, error) {
	var trade Trade
	if err := r.db.Conn.GetContext(ctx, &trade, `SELECT * FROM trades WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("get trade %d: %w", id, err)
	}
	return &trade, nil
}
