package blackswan

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"crypto-learning-engine/config"
	"crypto-learning-engine/internal/database"
	"crypto-learning-engine/internal/learning/patterns"
	"crypto-learning-engine/internal/logging"
	"crypto-learning-engine/internal/market"
)

// eventStore persists historical events, alerts and crisis patterns
type eventStore interface {
	SaveHistoricalEvent(ctx context.Context, row *database.HistoricalEventRow) error
	GetHistoricalEvents(ctx context.Context) ([]database.HistoricalEventRow, error)
	SaveAlertRecord(ctx context.Context, row *database.AlertRecordRow) error
	UpdateAlertOutcome(ctx context.Context, alertID, actualOutcome string, wasCorrect bool) error
	GetVerifiedAlerts(ctx context.Context) ([]database.AlertRecordRow, error)
	UpsertCrisisPattern(ctx context.Context, patternName, patternType string,
		indicators map[string]interface{}, confidence float64) error
	GetCrisisPatterns(ctx context.Context) ([]database.CrisisPatternRow, error)
	SaveResponseStrategy(ctx context.Context, row *database.ResponseStrategyRow) error
	GetResponseStrategies(ctx context.Context) ([]database.ResponseStrategyRow, error)
}

// Event is a labeled black-swan episode used for supervised study
type Event struct {
	Name            string   `json:"event_name"`
	Date            string   `json:"event_date"`
	Type            string   `json:"event_type"`
	EarlySignals    []string `json:"early_signals"`
	MissedSignals   []string `json:"missed_signals"`
	CascadeSpeed    string   `json:"cascade_speed"`
	ImpactDuration  string   `json:"impact_duration"`
	MaxDrawdown     float64  `json:"max_drawdown"`
	RecoveryTime    string   `json:"recovery_time"`
	OpportunityType string   `json:"opportunity_type"`
	PotentialReturn float64  `json:"potential_return"`
	Lessons         []string `json:"lessons_learned"`
}

// Action is the recommended response to a crisis probability
type Action struct {
	ReducePosition float64 `json:"reduce_position"`
	HedgePosition  bool    `json:"hedge_position"`
	StopLoss       string  `json:"stop_loss"`
	AlertLevel     int     `json:"alert_level"`
	ActionType     string  `json:"action_type"`
}

// TrainingReport summarizes one anomaly-model training run
type TrainingReport struct {
	ModelType       string  `json:"model_type"`
	TrainingSamples int     `json:"training_samples"`
	AnomalyCount    int     `json:"anomaly_count"`
	AnomalyRate     float64 `json:"anomaly_rate"`
	ScoreThreshold  float64 `json:"score_threshold"`
}

// Detector scores market conditions for crisis probability and keeps a
// memory of past black-swan events and alert outcomes
type Detector struct {
	store  eventStore
	cfg    config.BlackSwanConfig
	logger *logging.Logger

	mu         sync.RWMutex
	forest     *IsolationForest
	scaler     *patterns.StandardScaler
	thresholds map[int]float64
}

// NewDetector creates a crisis detector and seeds the well-known
// historical events into the store
func NewDetector(ctx context.Context, store eventStore, cfg config.BlackSwanConfig) *Detector {
	d := &Detector{
		store:  store,
		cfg:    cfg,
		logger: logging.Default().WithComponent("blackswan_detector"),
		thresholds: map[int]float64{
			1: cfg.Level1Threshold,
			2: cfg.Level2Threshold,
			3: cfg.Level3Threshold,
		},
	}

	for _, event := range seedEvents() {
		if err := d.saveEvent(ctx, event); err != nil {
			d.logger.WithError(err).Error("Failed to seed historical event", "event", event.Name)
		}
	}

	d.logger.Info("Crisis detector initialized", "seed_events", len(seedEvents()))
	return d
}

// seedEvents returns the built-in black-swan case studies
func seedEvents() []Event {
	return []Event{
		{
			Name: "FTX_2022",
			Date: "2022-11-08",
			Type: "exchange_collapse",
			EarlySignals: []string{
				"trading desk balance sheet leak",
				"large exchange token transfers on-chain",
				"rival exchange CEO public statements",
				"withdrawal processing delays",
			},
			MissedSignals: []string{
				"repeated official denials",
				"insider selling",
				"missing audit reports",
			},
			CascadeSpeed:    "6 days",
			ImpactDuration:  "2 weeks",
			MaxDrawdown:     0.85,
			RecoveryTime:    "never fully recovered",
			OpportunityType: "short",
			PotentialReturn: 10.0,
			Lessons: []string{
				"exchange tokens carry extreme counterparty risk",
				"watch large on-chain transfers",
				"social media signals matter",
				"react quickly to withdrawal anomalies",
			},
		},
		{
			Name: "LUNA_2022",
			Date: "2022-05-09",
			Type: "algorithmic_failure",
			EarlySignals: []string{
				"stablecoin slight depeg",
				"anchor protocol TVL decline",
				"large stablecoin sell orders",
				"reserve fund depletion",
			},
			MissedSignals: []string{
				"founder overconfidence",
				"fundamental design flaw in algorithmic peg",
				"death spiral risk",
			},
			CascadeSpeed:    "3 days",
			ImpactDuration:  "1 week",
			MaxDrawdown:     0.99,
			RecoveryTime:    "never recovered",
			OpportunityType: "short",
			PotentialReturn: 50.0,
			Lessons: []string{
				"algorithmic stablecoins have a fundamental flaw",
				"track depeg magnitude and frequency",
				"rapid TVL decline is a danger signal",
				"a death spiral is hard to reverse once started",
			},
		},
		{
			Name: "312_2020",
			Date: "2020-03-12",
			Type: "market_crash",
			EarlySignals: []string{
				"traditional market panic",
				"oil price war",
				"global pandemic spread",
				"rising risk-off sentiment",
			},
			MissedSignals: []string{
				"liquidity crisis warning signs",
				"excessive leverage",
				"miner sell pressure",
			},
			CascadeSpeed:    "24 hours",
			ImpactDuration:  "1 month",
			MaxDrawdown:     0.50,
			RecoveryTime:    "2 months",
			OpportunityType: "long",
			PotentialReturn: 3.0,
			Lessons: []string{
				"correlation with traditional markets is rising",
				"liquidity crises propagate fast",
				"extreme panic creates buying opportunities",
				"v-shaped recoveries are possible",
			},
		},
		{
			Name: "SVB_2023",
			Date: "2023-03-10",
			Type: "banking_crisis",
			EarlySignals: []string{
				"bank stock decline",
				"USDC depeg",
				"deposit run",
				"regulator intervention",
			},
			MissedSignals: []string{
				"interest rate risk exposure",
				"asset liability duration mismatch",
				"tech sector funding stress",
			},
			CascadeSpeed:    "2 days",
			ImpactDuration:  "1 week",
			MaxDrawdown:     0.15,
			RecoveryTime:    "1 week",
			OpportunityType: "avoid",
			PotentialReturn: 0.2,
			Lessons: []string{
				"stablecoins can also depeg",
				"traditional finance risk spills over",
				"regulatory response moves markets",
				"diversified holdings are safer",
			},
		},
	}
}

// Train fits the anomaly model on a candle series. Returns an empty
// report when the series is too short to train on.
func (d *Detector) Train(candles []market.Candle) TrainingReport {
	rows := extractCrisisFeatures(candles)
	if len(rows) < d.cfg.MinTrainingRows {
		d.logger.Warn("Insufficient data for anomaly model training",
			"rows", len(rows),
			"required", d.cfg.MinTrainingRows)
		return TrainingReport{}
	}

	scaler := &patterns.StandardScaler{}
	scaler.Fit(rows)
	scaled := scaler.Transform(rows)

	forest := NewIsolationForest(d.cfg.TreeCount, d.cfg.Contamination)
	forest.Fit(scaled)

	scores := forest.ScoreSamples(scaled)
	labels := forest.Predict(scaled)
	anomalies := 0
	for _, label := range labels {
		if label == -1 {
			anomalies++
		}
	}

	d.mu.Lock()
	d.forest = forest
	d.scaler = scaler
	d.mu.Unlock()

	report := TrainingReport{
		ModelType:       "IsolationForest",
		TrainingSamples: len(rows),
		AnomalyCount:    anomalies,
		AnomalyRate:     float64(anomalies) / float64(len(rows)),
		ScoreThreshold:  percentile(scores, d.cfg.Contamination*100),
	}

	d.logger.Info("Anomaly model trained",
		"samples", report.TrainingSamples,
		"anomalies", report.AnomalyCount)

	return report
}

// PredictCrisisProbability maps current indicators through the trained
// anomaly model onto a [0,1] crisis probability. Returns 0 before the
// model is trained.
func (d *Detector) PredictCrisisProbability(indicators map[string]float64) float64 {
	d.mu.RLock()
	forest, scaler := d.forest, d.scaler
	d.mu.RUnlock()

	if forest == nil {
		d.logger.Warn("Anomaly model not trained yet")
		return 0
	}

	row := featureVector(indicators)
	scaled := scaler.Transform([][]float64{row})[0]
	score := forest.ScoreSample(scaled)

	// Lower scores are more anomalous, the logistic turns them into a
	// probability
	return 1 / (1 + math.Exp(score*10))
}

// GetRecommendedAction maps a crisis probability onto a position
// adjustment. Pure function of the probability and current position.
func (d *Detector) GetRecommendedAction(crisisProbability, currentPosition float64) Action {
	d.mu.RLock()
	defer d.mu.RUnlock()

	action := Action{ActionType: "none"}

	switch {
	case crisisProbability > d.thresholds[3]:
		action.AlertLevel = 3
		action.ActionType = "exit"
		action.ReducePosition = currentPosition
		action.StopLoss = "immediate"
	case crisisProbability > d.thresholds[2]:
		action.AlertLevel = 2
		action.ActionType = "reduce"
		action.ReducePosition = currentPosition * 0.5
		action.HedgePosition = true
		action.StopLoss = "tight"
	case crisisProbability > d.thresholds[1]:
		action.AlertLevel = 1
		action.ActionType = "monitor"
		action.ReducePosition = currentPosition * 0.2
		action.StopLoss = "normal"
	}

	return action
}

// RecordAlert persists a raised alert and returns its id
func (d *Detector) RecordAlert(ctx context.Context, alertLevel int, alertType string,
	triggerConditions map[string]interface{}, marketIndicators map[string]float64,
	responseAction string) (string, error) {

	alertID := fmt.Sprintf("ALERT_%s_%s",
		time.Now().UTC().Format("20060102"), uuid.NewString()[:8])

	row := &database.AlertRecordRow{
		AlertID:           alertID,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		AlertLevel:        alertLevel,
		AlertType:         alertType,
		TriggerConditions: database.NullJSON(triggerConditions),
		MarketIndicators:  database.NullJSON(marketIndicators),
		ResponseAction:    sql.NullString{String: responseAction, Valid: responseAction != ""},
	}
	if err := d.store.SaveAlertRecord(ctx, row); err != nil {
		return "", fmt.Errorf("save alert record: %w", err)
	}

	logging.AlertContext(alertID, alertLevel).Warn("Alert recorded", "type", alertType)
	return alertID, nil
}

// UpdateAlertOutcome fills in what actually happened after an alert
func (d *Detector) UpdateAlertOutcome(ctx context.Context, alertID, actualOutcome string, wasCorrect bool) error {
	if err := d.store.UpdateAlertOutcome(ctx, alertID, actualOutcome, wasCorrect); err != nil {
		return err
	}
	d.logger.Info("Alert outcome updated", "alert_id", alertID, "outcome", actualOutcome)
	return nil
}

// LevelAccuracy is the verified precision of one alert level
type LevelAccuracy struct {
	Accuracy      float64 `json:"accuracy"`
	TotalAlerts   int     `json:"total_alerts"`
	CorrectAlerts int     `json:"correct_alerts"`
}

// TypeAccuracy is the verified precision of one alert type
type TypeAccuracy struct {
	Accuracy   float64 `json:"accuracy"`
	SampleSize int     `json:"sample_size"`
}

// ThresholdAdjustment is a suggested trigger-threshold change
type ThresholdAdjustment struct {
	CurrentThreshold   float64 `json:"current_threshold"`
	SuggestedThreshold float64 `json:"suggested_threshold"`
	Reason             string  `json:"reason"`
}

// OptimizationReport aggregates alert precision and suggested tuning
type OptimizationReport struct {
	AlertAccuracy         map[int]LevelAccuracy       `json:"alert_accuracy"`
	ResponseEffectiveness map[string]TypeAccuracy     `json:"response_effectiveness"`
	ThresholdAdjustments  map[int]ThresholdAdjustment `json:"threshold_adjustments"`
}

// OptimizeResponseStrategy measures per-level alert precision from
// verified alerts and suggests threshold changes. Precision below 0.5
// raises the threshold, above 0.9 lowers it.
func (d *Detector) OptimizeResponseStrategy(ctx context.Context) (*OptimizationReport, error) {
	alerts, err := d.store.GetVerifiedAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get verified alerts: %w", err)
	}
	if len(alerts) == 0 {
		d.logger.Warn("No verified alerts for optimization")
		return &OptimizationReport{}, nil
	}

	report := &OptimizationReport{
		AlertAccuracy:         make(map[int]LevelAccuracy),
		ResponseEffectiveness: make(map[string]TypeAccuracy),
		ThresholdAdjustments:  make(map[int]ThresholdAdjustment),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for level := 1; level <= 3; level++ {
		total, correct := 0, 0
		for _, a := range alerts {
			if a.AlertLevel != level {
				continue
			}
			total++
			if a.WasCorrect.Bool {
				correct++
			}
		}
		if total == 0 {
			continue
		}

		accuracy := float64(correct) / float64(total)
		report.AlertAccuracy[level] = LevelAccuracy{
			Accuracy:      accuracy,
			TotalAlerts:   total,
			CorrectAlerts: correct,
		}

		threshold := d.thresholds[level]
		if accuracy < 0.5 {
			report.ThresholdAdjustments[level] = ThresholdAdjustment{
				CurrentThreshold:   threshold,
				SuggestedThreshold: threshold * 1.2,
				Reason:             "too many false positives",
			}
		} else if accuracy > 0.9 {
			report.ThresholdAdjustments[level] = ThresholdAdjustment{
				CurrentThreshold:   threshold,
				SuggestedThreshold: threshold * 0.9,
				Reason:             "can be more sensitive",
			}
		}
	}

	byType := make(map[string][2]int)
	byTypeLevel := make(map[string]map[int][2]int)
	for _, a := range alerts {
		counts := byType[a.AlertType]
		counts[0]++
		if a.WasCorrect.Bool {
			counts[1]++
		}
		byType[a.AlertType] = counts

		if byTypeLevel[a.AlertType] == nil {
			byTypeLevel[a.AlertType] = make(map[int][2]int)
		}
		levelCounts := byTypeLevel[a.AlertType][a.AlertLevel]
		levelCounts[0]++
		if a.WasCorrect.Bool {
			levelCounts[1]++
		}
		byTypeLevel[a.AlertType][a.AlertLevel] = levelCounts
	}
	for alertType, counts := range byType {
		report.ResponseEffectiveness[alertType] = TypeAccuracy{
			Accuracy:   float64(counts[1]) / float64(counts[0]),
			SampleSize: counts[0],
		}
	}

	for alertType, levels := range byTypeLevel {
		for level, counts := range levels {
			row := &database.ResponseStrategyRow{
				EventType:          alertType,
				AlertLevel:         level,
				ActionType:         levelActionType(level),
				PositionAdjustment: sql.NullFloat64{Float64: levelPositionAdjustment(level), Valid: true},
				SuccessRate:        sql.NullFloat64{Float64: float64(counts[1]) / float64(counts[0]), Valid: true},
			}
			if err := d.store.SaveResponseStrategy(ctx, row); err != nil {
				d.logger.WithError(err).Error("Failed to save response strategy",
					"event_type", alertType, "level", level)
			}
		}
	}

	return report, nil
}

func levelActionType(level int) string {
	switch level {
	case 3:
		return "exit"
	case 2:
		return "reduce"
	case 1:
		return "monitor"
	}
	return "none"
}

func levelPositionAdjustment(level int) float64 {
	switch level {
	case 3:
		return 1.0
	case 2:
		return 0.5
	case 1:
		return 0.2
	}
	return 0
}

// GetResponseStrategies returns the stored response effectiveness rows
func (d *Detector) GetResponseStrategies(ctx context.Context) ([]database.ResponseStrategyRow, error) {
	return d.store.GetResponseStrategies(ctx)
}

// UpdateTriggerThresholds multiplies alert-level thresholds by the given
// per-level factors
func (d *Detector) UpdateTriggerThresholds(adjustments map[int]float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for level, factor := range adjustments {
		old, ok := d.thresholds[level]
		if !ok {
			continue
		}
		d.thresholds[level] = old * factor
		d.logger.Info("Updated alert threshold",
			"level", level,
			"old", old,
			"new", d.thresholds[level])
	}
}

// LearnFromEvent stores a new black-swan case study and distills its
// early signals into crisis patterns
func (d *Detector) LearnFromEvent(ctx context.Context, event Event) error {
	if event.Name == "" {
		return fmt.Errorf("event name is required")
	}
	if event.Date == "" {
		event.Date = time.Now().UTC().Format("2006-01-02")
	}
	if event.Type == "" {
		event.Type = "unknown"
	}
	if event.OpportunityType == "" {
		event.OpportunityType = "avoid"
	}

	if err := d.saveEvent(ctx, event); err != nil {
		return err
	}

	for _, signal := range event.EarlySignals {
		err := d.store.UpsertCrisisPattern(ctx,
			fmt.Sprintf("%s_%s", event.Type, signal),
			"early_warning",
			map[string]interface{}{"signal": signal, "event": event.Name},
			0.8)
		if err != nil {
			d.logger.WithError(err).Error("Failed to save crisis pattern", "signal", signal)
		}
	}

	d.logger.Info("Learned from new event", "event", event.Name)
	return nil
}

func (d *Detector) saveEvent(ctx context.Context, event Event) error {
	earlyJSON, _ := json.Marshal(event.EarlySignals)
	missedJSON, _ := json.Marshal(event.MissedSignals)
	lessonsJSON, _ := json.Marshal(event.Lessons)

	row := &database.HistoricalEventRow{
		EventName:       event.Name,
		EventDate:       event.Date,
		EventType:       event.Type,
		EarlySignals:    sql.NullString{String: string(earlyJSON), Valid: true},
		MissedSignals:   sql.NullString{String: string(missedJSON), Valid: true},
		CascadeSpeed:    sql.NullString{String: event.CascadeSpeed, Valid: event.CascadeSpeed != ""},
		ImpactDuration:  sql.NullString{String: event.ImpactDuration, Valid: event.ImpactDuration != ""},
		MaxDrawdown:     sql.NullFloat64{Float64: event.MaxDrawdown, Valid: true},
		RecoveryTime:    sql.NullString{String: event.RecoveryTime, Valid: event.RecoveryTime != ""},
		OpportunityType: sql.NullString{String: event.OpportunityType, Valid: event.OpportunityType != ""},
		PotentialReturn: sql.NullFloat64{Float64: event.PotentialReturn, Valid: true},
		LessonsLearned:  sql.NullString{String: string(lessonsJSON), Valid: true},
	}
	return d.store.SaveHistoricalEvent(ctx, row)
}

// EventTypeStats aggregates the historical events of one type
type EventTypeStats struct {
	Count       int     `json:"count"`
	AvgDrawdown float64 `json:"avg_drawdown"`
}

// CascadeInfo describes how fast one event unfolded
type CascadeInfo struct {
	Speed    string  `json:"speed"`
	Impact   float64 `json:"impact"`
	Duration string  `json:"duration"`
}

// OpportunityInfo describes the tradable side of one event
type OpportunityInfo struct {
	Type            string  `json:"type"`
	PotentialReturn float64 `json:"potential_return"`
	Timing          string  `json:"timing"`
}

// EventAnalysis summarizes the stored black-swan history
type EventAnalysis struct {
	EventTypes      map[string]EventTypeStats  `json:"event_types"`
	EarlySignals    map[string]int             `json:"early_signals"`
	CascadePatterns map[string]CascadeInfo     `json:"cascade_patterns"`
	Opportunities   map[string]OpportunityInfo `json:"opportunity_analysis"`
}

// AnalyzeHistoricalEvents aggregates the stored events by type, signal
// frequency, cascade speed and opportunity
func (d *Detector) AnalyzeHistoricalEvents(ctx context.Context) (*EventAnalysis, error) {
	rows, err := d.store.GetHistoricalEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("get historical events: %w", err)
	}

	analysis := &EventAnalysis{
		EventTypes:      make(map[string]EventTypeStats),
		EarlySignals:    make(map[string]int),
		CascadePatterns: make(map[string]CascadeInfo),
		Opportunities:   make(map[string]OpportunityInfo),
	}

	drawdowns := make(map[string][]float64)
	for _, row := range rows {
		stats := analysis.EventTypes[row.EventType]
		stats.Count++
		analysis.EventTypes[row.EventType] = stats
		drawdowns[row.EventType] = append(drawdowns[row.EventType], row.MaxDrawdown.Float64)

		var signals []string
		if row.EarlySignals.Valid {
			_ = json.Unmarshal([]byte(row.EarlySignals.String), &signals)
		}
		for _, signal := range signals {
			analysis.EarlySignals[signal]++
		}

		analysis.CascadePatterns[row.EventName] = CascadeInfo{
			Speed:    row.CascadeSpeed.String,
			Impact:   row.MaxDrawdown.Float64,
			Duration: row.ImpactDuration.String,
		}
		analysis.Opportunities[row.EventName] = OpportunityInfo{
			Type:            row.OpportunityType.String,
			PotentialReturn: row.PotentialReturn.Float64,
			Timing:          row.CascadeSpeed.String,
		}
	}

	for eventType, values := range drawdowns {
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		stats := analysis.EventTypes[eventType]
		stats.AvgDrawdown = sum / float64(len(values))
		analysis.EventTypes[eventType] = stats
	}

	return analysis, nil
}

// GetCrisisPatterns returns the stored crisis patterns ordered by
// confidence
func (d *Detector) GetCrisisPatterns(ctx context.Context) ([]database.CrisisPatternRow, error) {
	return d.store.GetCrisisPatterns(ctx)
}
