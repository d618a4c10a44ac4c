package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// PATTERNS
// ============================================================================

// UpsertSuccessPattern inserts or replaces a success pattern keyed by
// (pattern_type, pattern_name)
func (r *Repository) UpsertSuccessPattern(ctx context.Context, patternType, patternName string,
	conditions map[string]interface{}, successRate float64, sampleSize int, confidence float64) error {

	condJSON, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}
	meta, _ := json.Marshal(map[string]string{"discovered": time.Now().UTC().Format(time.RFC3339)})

	query := `
		INSERT INTO success_patterns
			(pattern_type, pattern_name, conditions, success_rate, sample_size, confidence, metadata, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern_type, pattern_name) DO UPDATE SET
			conditions = excluded.conditions,
			success_rate = excluded.success_rate,
			sample_size = excluded.sample_size,
			confidence = excluded.confidence,
			metadata = excluded.metadata,
			last_updated = excluded.last_updated
	`
	_, err = r.db.Conn.ExecContext(ctx, query,
		patternType, patternName, string(condJSON), successRate, sampleSize, confidence,
		string(meta), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert success pattern %s/%s: %w", patternType, patternName, err)
	}
	return nil
}

// UpsertFailurePattern inserts or replaces a failure pattern keyed by
// (pattern_type, pattern_name)
func (r *Repository) UpsertFailurePattern(ctx context.Context, patternType, patternName string,
	conditions map[string]interface{}, failureRate float64, sampleSize int, riskLevel string) error {

	condJSON, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}
	meta, _ := json.Marshal(map[string]string{"discovered": time.Now().UTC().Format(time.RFC3339)})

	query := `
		INSERT INTO failure_patterns
			(pattern_type, pattern_name, conditions, failure_rate, sample_size, risk_level, metadata, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern_type, pattern_name) DO UPDATE SET
			conditions = excluded.conditions,
			failure_rate = excluded.failure_rate,
			sample_size = excluded.sample_size,
			risk_level = excluded.risk_level,
			metadata = excluded.metadata,
			last_updated = excluded.last_updated
	`
	_, err = r.db.Conn.ExecContext(ctx, query,
		patternType, patternName, string(condJSON), failureRate, sampleSize, riskLevel,
		string(meta), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert failure pattern %s/%s: %w", patternType, patternName, err)
	}
	return nil
}

// UpsertOpportunityPattern inserts or replaces an opportunity pattern keyed
// by opportunity type
func (r *Repository) UpsertOpportunityPattern(ctx context.Context, opportunityType string,
	triggerConditions map[string]interface{}, successRate, avgReturn, riskReward, positionSize float64,
	timingWindow string, sampleSize int) error {

	condJSON, err := json.Marshal(triggerConditions)
	if err != nil {
		return fmt.Errorf("encode trigger conditions: %w", err)
	}
	meta, _ := json.Marshal(map[string]string{"discovered": time.Now().UTC().Format(time.RFC3339)})

	query := `
		INSERT INTO opportunity_patterns
			(opportunity_type, trigger_conditions, success_rate, avg_return, risk_reward_ratio,
			 optimal_position_size, timing_window, sample_size, metadata, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(opportunity_type) DO UPDATE SET
			trigger_conditions = excluded.trigger_conditions,
			success_rate = excluded.success_rate,
			avg_return = excluded.avg_return,
			risk_reward_ratio = excluded.risk_reward_ratio,
			optimal_position_size = excluded.optimal_position_size,
			timing_window = excluded.timing_window,
			sample_size = excluded.sample_size,
			metadata = excluded.metadata,
			last_updated = excluded.last_updated
	`
	_, err = r.db.Conn.ExecContext(ctx, query,
		opportunityType, string(condJSON), successRate, avgReturn, riskReward, positionSize,
		timingWindow, sampleSize, string(meta), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert opportunity pattern %s: %w", opportunityType, err)
	}
	return nil
}

// GetBestPatterns returns success patterns ordered by success rate.
// patternType filters when non-empty.
func (r *Repository) GetBestPatterns(ctx context.Context, patternType string, limit int) ([]SuccessPattern, error) {
	var patterns []SuccessPattern
	var err error
	if patternType != "" {
		err = r.db.Conn.SelectContext(ctx, &patterns,
			`SELECT * FROM success_patterns WHERE pattern_type = ? ORDER BY success_rate DESC LIMIT ?`,
			patternType, limit)
	} else {
		err = r.db.Conn.SelectContext(ctx, &patterns,
			`SELECT * FROM success_patterns ORDER BY success_rate DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("get best patterns: %w", err)
	}
	return patterns, nil
}

// GetRiskPatterns returns failure patterns ordered by failure rate
func (r *Repository) GetRiskPatterns(ctx context.Context, limit int) ([]FailurePattern, error) {
	var patterns []FailurePattern
	err := r.db.Conn.SelectContext(ctx, &patterns,
		`SELECT * FROM failure_patterns ORDER BY failure_rate DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get risk patterns: %w", err)
	}
	return patterns, nil
}

// GetOpportunityPatterns returns opportunity patterns ordered by success rate
func (r *Repository) GetOpportunityPatterns(ctx context.Context, limit int) ([]OpportunityPattern, error) {
	var patterns []OpportunityPattern
	err := r.db.Conn.SelectContext(ctx, &patterns,
		`SELECT * FROM opportunity_patterns ORDER BY success_rate DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get opportunity patterns: %w", err)
	}
	return patterns, nil
}
