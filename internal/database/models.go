package database

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Trade status values
const (
	TradeStatusOpen   = "open"
	TradeStatusClosed = "closed"
)

// Trade directions
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// Trade represents a single trade record. Created on entry, mutated once on
// exit, immutable afterwards.
type Trade struct {
	ID                int64           `db:"id" json:"id"`
	Symbol            string          `db:"symbol" json:"symbol"`
	Direction         string          `db:"direction" json:"direction"`
	StrategyID        sql.NullString  `db:"strategy_id" json:"strategy_id"`
	EntryPrice        float64         `db:"entry_price" json:"entry_price"`
	EntryReason       sql.NullString  `db:"entry_reason" json:"entry_reason"`
	EntryIndicators   sql.NullString  `db:"entry_indicators" json:"entry_indicators"` // JSON map
	EntryMarketState  sql.NullString  `db:"entry_market_state" json:"entry_market_state"`
	EntryTime         time.Time       `db:"entry_time" json:"entry_time"`
	StopLoss          sql.NullFloat64 `db:"stop_loss" json:"stop_loss"`
	TakeProfit        sql.NullFloat64 `db:"take_profit" json:"take_profit"`
	ExitPrice         sql.NullFloat64 `db:"exit_price" json:"exit_price"`
	ExitReason        sql.NullString  `db:"exit_reason" json:"exit_reason"`
	ExitDuration      sql.NullFloat64 `db:"exit_duration" json:"exit_duration"` // Hours
	ExitPnL           sql.NullFloat64 `db:"exit_pnl" json:"exit_pnl"`
	ExitTime          sql.NullTime    `db:"exit_time" json:"exit_time"`
	ContextTrend      sql.NullString  `db:"context_trend" json:"context_trend"`
	ContextVolatility sql.NullString  `db:"context_volatility" json:"context_volatility"`
	Status            string          `db:"status" json:"status"`
	CreatedAt         string          `db:"created_at" json:"created_at"`
	UpdatedAt         string          `db:"updated_at" json:"updated_at"`
}

// PnL returns the exit P&L, zero while the trade is open
func (t *Trade) PnL() float64 {
	return t.ExitPnL.Float64
}

// Indicators decodes the entry indicator JSON map. Non-numeric values are
// dropped. Returns an empty map on malformed input.
func (t *Trade) Indicators() map[string]float64 {
	out := make(map[string]float64)
	if !t.EntryIndicators.Valid || t.EntryIndicators.String == "" {
		return out
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(t.EntryIndicators.String), &raw); err != nil {
		return out
	}
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// SuccessPattern is a mined condition->outcome association with a measured
// success rate. Derived, never hand-authored.
type SuccessPattern struct {
	ID           int64   `db:"id" json:"id"`
	PatternType  string  `db:"pattern_type" json:"pattern_type"`
	PatternName  string  `db:"pattern_name" json:"pattern_name"`
	Conditions   string  `db:"conditions" json:"-"` // JSON
	SuccessRate  float64 `db:"success_rate" json:"success_rate"`
	SampleSize   int     `db:"sample_size" json:"sample_size"`
	Confidence   float64 `db:"confidence" json:"confidence"`
	Metadata     sql.NullString `db:"metadata" json:"-"`
	DiscoveredAt string  `db:"discovered_at" json:"discovered_at"`
	LastUpdated  string  `db:"last_updated" json:"last_updated"`
}

// ConditionMap decodes the pattern's condition JSON
func (p *SuccessPattern) ConditionMap() map[string]interface{} {
	out := make(map[string]interface{})
	json.Unmarshal([]byte(p.Conditions), &out)
	return out
}

// FailurePattern mirrors SuccessPattern for losing setups
type FailurePattern struct {
	ID           int64          `db:"id" json:"id"`
	PatternType  string         `db:"pattern_type" json:"pattern_type"`
	PatternName  string         `db:"pattern_name" json:"pattern_name"`
	Conditions   string         `db:"conditions" json:"-"`
	FailureRate  float64        `db:"failure_rate" json:"failure_rate"`
	SampleSize   int            `db:"sample_size" json:"sample_size"`
	RiskLevel    sql.NullString `db:"risk_level" json:"risk_level"`
	Metadata     sql.NullString `db:"metadata" json:"-"`
	DiscoveredAt string         `db:"discovered_at" json:"discovered_at"`
	LastUpdated  string         `db:"last_updated" json:"last_updated"`
}

// ConditionMap decodes the pattern's condition JSON
func (p *FailurePattern) ConditionMap() map[string]interface{} {
	out := make(map[string]interface{})
	json.Unmarshal([]byte(p.Conditions), &out)
	return out
}

// OpportunityPattern is a mined opportunity profile keyed by opportunity type
type OpportunityPattern struct {
	ID                  int64           `db:"id" json:"id"`
	OpportunityType     string          `db:"opportunity_type" json:"opportunity_type"`
	TriggerConditions   string          `db:"trigger_conditions" json:"-"` // JSON
	SuccessRate         float64         `db:"success_rate" json:"success_rate"`
	AvgReturn           sql.NullFloat64 `db:"avg_return" json:"avg_return"`
	RiskRewardRatio     sql.NullFloat64 `db:"risk_reward_ratio" json:"risk_reward_ratio"`
	OptimalPositionSize sql.NullFloat64 `db:"optimal_position_size" json:"optimal_position_size"`
	TimingWindow        sql.NullString  `db:"timing_window" json:"timing_window"`
	SampleSize          int             `db:"sample_size" json:"sample_size"`
	Metadata            sql.NullString  `db:"metadata" json:"-"`
	DiscoveredAt        string          `db:"discovered_at" json:"discovered_at"`
	LastUpdated         string          `db:"last_updated" json:"last_updated"`
}

// StrategyWeightRow is the persisted weight for one strategy
type StrategyWeightRow struct {
	StrategyID       string          `db:"strategy_id" json:"strategy_id"`
	StrategyName     string          `db:"strategy_name" json:"strategy_name"`
	StrategyType     sql.NullString  `db:"strategy_type" json:"strategy_type"`
	Weight           float64         `db:"weight" json:"weight"`
	PerformanceScore sql.NullFloat64 `db:"performance_score" json:"performance_score"`
	MarketCondition  sql.NullString  `db:"market_condition" json:"market_condition"`
	LastUpdated      string          `db:"last_updated" json:"last_updated"`
}

// OptimizationResult stores one parameter-search or evaluation outcome
type OptimizationResult struct {
	ID                 int64          `db:"id" json:"id"`
	StrategyID         string         `db:"strategy_id" json:"strategy_id"`
	Parameters         string         `db:"parameters" json:"-"` // JSON
	PerformanceMetrics string         `db:"performance_metrics" json:"-"`
	OptimizationMethod sql.NullString `db:"optimization_method" json:"optimization_method"`
	CreatedAt          string         `db:"created_at" json:"created_at"`
}

// ABTestResult stores a completed A/B comparison
type ABTestResult struct {
	ID                 int64          `db:"id" json:"id"`
	TestName           string         `db:"test_name" json:"test_name"`
	ControlStrategy    string         `db:"control_strategy" json:"control_strategy"`
	TestStrategy       string         `db:"test_strategy" json:"test_strategy"`
	ControlPerformance sql.NullString `db:"control_performance" json:"-"`
	TestPerformance    sql.NullString `db:"test_performance" json:"-"`
	SampleSize         sql.NullInt64  `db:"sample_size" json:"sample_size"`
	PValue             sql.NullFloat64 `db:"p_value" json:"p_value"`
	IsSignificant      sql.NullBool   `db:"is_significant" json:"is_significant"`
	Winner             sql.NullString `db:"winner" json:"winner"`
	CreatedAt          string         `db:"created_at" json:"created_at"`
}

// HistoricalEventRow is a persisted black-swan event
type HistoricalEventRow struct {
	EventName       string          `db:"event_name" json:"event_name"`
	EventDate       string          `db:"event_date" json:"event_date"`
	EventType       string          `db:"event_type" json:"event_type"`
	EarlySignals    sql.NullString  `db:"early_signals" json:"-"`  // JSON array
	MissedSignals   sql.NullString  `db:"missed_signals" json:"-"` // JSON array
	CascadeSpeed    sql.NullString  `db:"cascade_speed" json:"cascade_speed"`
	ImpactDuration  sql.NullString  `db:"impact_duration" json:"impact_duration"`
	MaxDrawdown     sql.NullFloat64 `db:"max_drawdown" json:"max_drawdown"`
	RecoveryTime    sql.NullString  `db:"recovery_time" json:"recovery_time"`
	OpportunityType sql.NullString  `db:"opportunity_type" json:"opportunity_type"`
	PotentialReturn sql.NullFloat64 `db:"potential_return" json:"potential_return"`
	LessonsLearned  sql.NullString  `db:"lessons_learned" json:"-"` // JSON array
	CreatedAt       string          `db:"created_at" json:"created_at"`
}

// AlertRecordRow is a persisted crisis alert with its eventual outcome
type AlertRecordRow struct {
	AlertID           string         `db:"alert_id" json:"alert_id"`
	Timestamp         string         `db:"timestamp" json:"timestamp"`
	AlertLevel        int            `db:"alert_level" json:"alert_level"`
	AlertType         string         `db:"alert_type" json:"alert_type"`
	TriggerConditions sql.NullString `db:"trigger_conditions" json:"-"`
	MarketIndicators  sql.NullString `db:"market_indicators" json:"-"`
	ResponseAction    sql.NullString `db:"response_action" json:"response_action"`
	ActualOutcome     sql.NullString `db:"actual_outcome" json:"actual_outcome"`
	WasCorrect        sql.NullBool   `db:"was_correct" json:"was_correct"`
	CreatedAt         string         `db:"created_at" json:"created_at"`
}

// CrisisPatternRow is a persisted early-warning signal pattern
type CrisisPatternRow struct {
	PatternID      int64           `db:"pattern_id" json:"pattern_id"`
	PatternName    string          `db:"pattern_name" json:"pattern_name"`
	PatternType    string          `db:"pattern_type" json:"pattern_type"`
	Indicators     string          `db:"indicators" json:"-"` // JSON
	Confidence     sql.NullFloat64 `db:"confidence" json:"confidence"`
	SuccessRate    sql.NullFloat64 `db:"success_rate" json:"success_rate"`
	AvgWarningTime sql.NullString  `db:"avg_warning_time" json:"avg_warning_time"`
	CreatedAt      string          `db:"created_at" json:"created_at"`
	LastUpdated    string          `db:"last_updated" json:"last_updated"`
}

// ResponseStrategyRow is the verified effectiveness of one response,
// keyed by (event_type, alert_level)
type ResponseStrategyRow struct {
	StrategyID         int64           `db:"strategy_id" json:"strategy_id"`
	EventType          string          `db:"event_type" json:"event_type"`
	AlertLevel         int             `db:"alert_level" json:"alert_level"`
	ActionType         string          `db:"action_type" json:"action_type"`
	PositionAdjustment sql.NullFloat64 `db:"position_adjustment" json:"position_adjustment"`
	SuccessRate        sql.NullFloat64 `db:"success_rate" json:"success_rate"`
	AvgLossAvoided     sql.NullFloat64 `db:"avg_loss_avoided" json:"avg_loss_avoided"`
	CreatedAt          string          `db:"created_at" json:"created_at"`
}
