package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// BLACK-SWAN EVENTS / ALERTS
// ============================================================================

// SaveHistoricalEvent upserts a black-swan event record
func (r *Repository) SaveHistoricalEvent(ctx context.Context, row *HistoricalEventRow) error {
	query := `
		INSERT INTO historical_events
			(event_name, event_date, event_type, early_signals, missed_signals, cascade_speed,
			 impact_duration, max_drawdown, recovery_time, opportunity_type, potential_return, lessons_learned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_name) DO UPDATE SET
			event_date = excluded.event_date,
			event_type = excluded.event_type,
			early_signals = excluded.early_signals,
			missed_signals = excluded.missed_signals,
			cascade_speed = excluded.cascade_speed,
			impact_duration = excluded.impact_duration,
			max_drawdown = excluded.max_drawdown,
			recovery_time = excluded.recovery_time,
			opportunity_type = excluded.opportunity_type,
			potential_return = excluded.potential_return,
			lessons_learned = excluded.lessons_learned
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		row.EventName, row.EventDate, row.EventType, row.EarlySignals, row.MissedSignals,
		row.CascadeSpeed, row.ImpactDuration, row.MaxDrawdown, row.RecoveryTime,
		row.OpportunityType, row.PotentialReturn, row.LessonsLearned)
	if err != nil {
		return fmt.Errorf("save historical event %s: %w", row.EventName, err)
	}
	return nil
}

// GetHistoricalEvents returns all stored black-swan events
func (r *Repository) GetHistoricalEvents(ctx context.Context) ([]HistoricalEventRow, error) {
	var events []HistoricalEventRow
	err := r.db.Conn.SelectContext(ctx, &events,
		`SELECT * FROM historical_events ORDER BY event_date`)
	if err != nil {
		return nil, fmt.Errorf("get historical events: %w", err)
	}
	return events, nil
}

// SaveAlertRecord inserts a new crisis alert. Outcome fields stay NULL until
// UpdateAlertOutcome is called.
func (r *Repository) SaveAlertRecord(ctx context.Context, row *AlertRecordRow) error {
	_, err := r.db.Conn.ExecContext(ctx, `
		INSERT INTO alert_records
			(alert_id, timestamp, alert_level, alert_type, trigger_conditions, market_indicators, response_action)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.AlertID, row.Timestamp, row.AlertLevel, row.AlertType,
		row.TriggerConditions, row.MarketIndicators, row.ResponseAction)
	if err != nil {
		return fmt.Errorf("save alert %s: %w", row.AlertID, err)
	}
	return nil
}

// UpdateAlertOutcome fills in the verified outcome of a past alert
func (r *Repository) UpdateAlertOutcome(ctx context.Context, alertID, actualOutcome string, wasCorrect bool) error {
	res, err := r.db.Conn.ExecContext(ctx, `
		UPDATE alert_records SET actual_outcome = ?, was_correct = ? WHERE alert_id = ?`,
		actualOutcome, wasCorrect, alertID)
	if err != nil {
		return fmt.Errorf("update alert outcome %s: %w", alertID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update alert outcome %s: alert not found", alertID)
	}
	return nil
}

// GetVerifiedAlerts returns alerts whose outcome has been recorded
func (r *Repository) GetVerifiedAlerts(ctx context.Context) ([]AlertRecordRow, error) {
	var alerts []AlertRecordRow
	err := r.db.Conn.SelectContext(ctx, &alerts,
		`SELECT * FROM alert_records WHERE was_correct IS NOT NULL ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("get verified alerts: %w", err)
	}
	return alerts, nil
}

// UpsertCrisisPattern inserts or refreshes an early-warning pattern
func (r *Repository) UpsertCrisisPattern(ctx context.Context, patternName, patternType string,
	indicators map[string]interface{}, confidence float64) error {

	indJSON, err := json.Marshal(indicators)
	if err != nil {
		return fmt.Errorf("encode indicators: %w", err)
	}
	_, err = r.db.Conn.ExecContext(ctx, `
		INSERT INTO crisis_patterns (pattern_name, pattern_type, indicators, confidence, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pattern_name) DO UPDATE SET
			pattern_type = excluded.pattern_type,
			indicators = excluded.indicators,
			confidence = excluded.confidence,
			last_updated = excluded.last_updated`,
		patternName, patternType, string(indJSON), confidence,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert crisis pattern %s: %w", patternName, err)
	}
	return nil
}

// SaveResponseStrategy upserts the measured effectiveness of a response,
// keyed by (event_type, alert_level)
func (r *Repository) SaveResponseStrategy(ctx context.Context, row *ResponseStrategyRow) error {
	_, err := r.db.Conn.ExecContext(ctx, `
		INSERT INTO response_strategies
			(event_type, alert_level, action_type, position_adjustment, success_rate, avg_loss_avoided)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_type, alert_level) DO UPDATE SET
			action_type = excluded.action_type,
			position_adjustment = excluded.position_adjustment,
			success_rate = excluded.success_rate,
			avg_loss_avoided = excluded.avg_loss_avoided`,
		row.EventType, row.AlertLevel, row.ActionType,
		row.PositionAdjustment, row.SuccessRate, row.AvgLossAvoided)
	if err != nil {
		return fmt.Errorf("save response strategy %s/%d: %w", row.EventType, row.AlertLevel, err)
	}
	return nil
}

// GetResponseStrategies returns response strategies ordered by success rate
func (r *Repository) GetResponseStrategies(ctx context.Context) ([]ResponseStrategyRow, error) {
	var rows []ResponseStrategyRow
	err := r.db.Conn.SelectContext(ctx, &rows,
		`SELECT * FROM response_strategies ORDER BY success_rate DESC`)
	if err != nil {
		return nil, fmt.Errorf("get response strategies: %w", err)
	}
	return rows, nil
}

// GetCrisisPatterns returns all crisis patterns ordered by confidence
func (r *Repository) GetCrisisPatterns(ctx context.Context) ([]CrisisPatternRow, error) {
	var patterns []CrisisPatternRow
	err := r.db.Conn.SelectContext(ctx, &patterns,
		`SELECT * FROM crisis_patterns ORDER BY confidence DESC`)
	if err != nil {
		return nil, fmt.Errorf("get crisis patterns: %w", err)
	}
	return patterns, nil
}

// NullJSON marshals v into a NullString, invalid on error or nil input
func NullJSON(v interface{}) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}
