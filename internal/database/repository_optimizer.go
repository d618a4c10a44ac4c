package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// STRATEGY WEIGHTS / OPTIMIZATION
// ============================================================================

// SaveStrategyWeight upserts the weight for one strategy. performanceScore
// and marketCondition may be nil when not applicable.
func (r *Repository) SaveStrategyWeight(ctx context.Context, strategyID, strategyType string,
	weight float64, performanceScore *float64, marketCondition string) error {

	query := `
		INSERT INTO strategy_weights
			(strategy_id, strategy_name, strategy_type, weight, performance_score, market_condition, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id) DO UPDATE SET
			strategy_type = excluded.strategy_type,
			weight = excluded.weight,
			performance_score = excluded.performance_score,
			market_condition = excluded.market_condition,
			last_updated = excluded.last_updated
	`
	var score sql.NullFloat64
	if performanceScore != nil {
		score = sql.NullFloat64{Float64: *performanceScore, Valid: true}
	}
	var cond sql.NullString
	if marketCondition != "" {
		cond = sql.NullString{String: marketCondition, Valid: true}
	}
	_, err := r.db.Conn.ExecContext(ctx, query,
		strategyID, strategyID, strategyType, weight, score, cond,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save strategy weight %s: %w", strategyID, err)
	}
	return nil
}

// GetStrategyWeight returns the stored weight row for a strategy, or nil
// when none exists
func (r *Repository) GetStrategyWeight(ctx context.Context, strategyID string) (*StrategyWeightRow, error) {
	var row StrategyWeightRow
	err := r.db.Conn.GetContext(ctx, &row,
		`SELECT * FROM strategy_weights WHERE strategy_id = ?`, strategyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy weight %s: %w", strategyID, err)
	}
	return &row, nil
}

// SaveOptimizationResult records a parameter-search or evaluation outcome
func (r *Repository) SaveOptimizationResult(ctx context.Context, strategyID string,
	parameters map[string]interface{}, metrics map[string]float64, method string) error {

	paramJSON, err := json.Marshal(parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	metricJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}

	_, err = r.db.Conn.ExecContext(ctx, `
		INSERT INTO optimization_results (strategy_id, parameters, performance_metrics, optimization_method)
		VALUES (?, ?, ?, ?)`,
		strategyID, string(paramJSON), string(metricJSON), method)
	if err != nil {
		return fmt.Errorf("save optimization result %s: %w", strategyID, err)
	}
	return nil
}

// SaveABTestResult records a completed A/B comparison
func (r *Repository) SaveABTestResult(ctx context.Context, result *ABTestResult) error {
	_, err := r.db.Conn.ExecContext(ctx, `
		INSERT INTO ab_test_results
			(test_name, control_strategy, test_strategy, control_performance, test_performance,
			 sample_size, p_value, is_significant, winner)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.TestName, result.ControlStrategy, result.TestStrategy,
		result.ControlPerformance, result.TestPerformance,
		result.SampleSize, result.PValue, result.IsSignificant, result.Winner)
	if err != nil {
		return fmt.Errorf("save ab test result %s: %w", result.TestName, err)
	}
	return nil
}
