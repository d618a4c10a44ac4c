package blackswan

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"testing"
	"time"

	"crypto-learning-engine/config"
	"crypto-learning-engine/internal/database"
	"crypto-learning-engine/internal/market"
)

type fakeEventStore struct {
	events     map[string]*database.HistoricalEventRow
	alerts     map[string]*database.AlertRecordRow
	patterns   map[string]*database.CrisisPatternRow
	strategies map[string]*database.ResponseStrategyRow
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		events:     make(map[string]*database.HistoricalEventRow),
		alerts:     make(map[string]*database.AlertRecordRow),
		patterns:   make(map[string]*database.CrisisPatternRow),
		strategies: make(map[string]*database.ResponseStrategyRow),
	}
}

func (f *fakeEventStore) SaveHistoricalEvent(ctx context.Context, row *database.HistoricalEventRow) error {
	f.events[row.EventName] = row
	return nil
}

func (f *fakeEventStore) GetHistoricalEvents(ctx context.Context) ([]database.HistoricalEventRow, error) {
	var rows []database.HistoricalEventRow
	for _, row := range f.events {
		rows = append(rows, *row)
	}
	return rows, nil
}

func (f *fakeEventStore) SaveAlertRecord(ctx context.Context, row *database.AlertRecordRow) error {
	f.alerts[row.AlertID] = row
	return nil
}

func (f *fakeEventStore) UpdateAlertOutcome(ctx context.Context, alertID, actualOutcome string, wasCorrect bool) error {
	row := f.alerts[alertID]
	row.ActualOutcome = sql.NullString{String: actualOutcome, Valid: true}
	row.WasCorrect = sql.NullBool{Bool: wasCorrect, Valid: true}
	return nil
}

func (f *fakeEventStore) GetVerifiedAlerts(ctx context.Context) ([]database.AlertRecordRow, error) {
	var rows []database.AlertRecordRow
	for _, row := range f.alerts {
		if row.WasCorrect.Valid {
			rows = append(rows, *row)
		}
	}
	return rows, nil
}

func (f *fakeEventStore) UpsertCrisisPattern(ctx context.Context, patternName, patternType string,
	indicators map[string]interface{}, confidence float64) error {
	f.patterns[patternName] = &database.CrisisPatternRow{
		PatternName: patternName,
		PatternType: patternType,
		Confidence:  sql.NullFloat64{Float64: confidence, Valid: true},
	}
	return nil
}

func (f *fakeEventStore) GetCrisisPatterns(ctx context.Context) ([]database.CrisisPatternRow, error) {
	var rows []database.CrisisPatternRow
	for _, row := range f.patterns {
		rows = append(rows, *row)
	}
	return rows, nil
}

func (f *fakeEventStore) SaveResponseStrategy(ctx context.Context, row *database.ResponseStrategyRow) error {
	f.strategies[fmt.Sprintf("%s/%d", row.EventType, row.AlertLevel)] = row
	return nil
}

func (f *fakeEventStore) GetResponseStrategies(ctx context.Context) ([]database.ResponseStrategyRow, error) {
	var rows []database.ResponseStrategyRow
	for _, row := range f.strategies {
		rows = append(rows, *row)
	}
	return rows, nil
}

func testDetectorConfig() config.BlackSwanConfig {
	return config.BlackSwanConfig{
		Level1Threshold: 0.3,
		Level2Threshold: 0.6,
		Level3Threshold: 0.8,
		Contamination:   0.1,
		TreeCount:       50,
		MinTrainingRows: 100,
	}
}

func newTestDetector(t *testing.T) (*Detector, *fakeEventStore) {
	t.Helper()
	store := newFakeEventStore()
	return NewDetector(context.Background(), store, testDetectorConfig()), store
}

// syntheticCandles builds a calm drifting price series
func syntheticCandles(n int) []market.Candle {
	candles := make([]market.Candle, n)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := range candles {
		drift := math.Sin(float64(i)/7) * 0.4
		close := price + drift
		candles[i] = market.Candle{
			OpenTime: ts.Add(time.Duration(i) * time.Hour),
			Open:     close - 0.1,
			High:     close + 0.3,
			Low:      close - 0.3,
			Close:    close,
			Volume:   1000 + 50*math.Cos(float64(i)/5),
		}
	}
	return candles
}

// TestNewDetectorSeedsEvents checks the built-in case studies land in
// the store
func TestNewDetectorSeedsEvents(t *testing.T) {
	_, store := newTestDetector(t)

	for _, name := range []string{"FTX_2022", "LUNA_2022", "312_2020", "SVB_2023"} {
		if _, ok := store.events[name]; !ok {
			t.Errorf("expected seeded event %s", name)
		}
	}
	if store.events["LUNA_2022"].MaxDrawdown.Float64 != 0.99 {
		t.Errorf("LUNA_2022 drawdown = %v, want 0.99", store.events["LUNA_2022"].MaxDrawdown.Float64)
	}
}

// TestGetRecommendedActionLevels checks the probability-to-action policy
func TestGetRecommendedActionLevels(t *testing.T) {
	d, _ := newTestDetector(t)

	cases := []struct {
		probability float64
		level       int
		actionType  string
		reduce      float64
		hedge       bool
		stopLoss    string
	}{
		{0.85, 3, "exit", 1.0, false, "immediate"},
		{0.65, 2, "reduce", 0.5, true, "tight"},
		{0.35, 1, "monitor", 0.2, false, "normal"},
		{0.1, 0, "none", 0, false, ""},
	}

	for _, tc := range cases {
		action := d.GetRecommendedAction(tc.probability, 1.0)
		if action.AlertLevel != tc.level {
			t.Errorf("p=%v: AlertLevel = %d, want %d", tc.probability, action.AlertLevel, tc.level)
		}
		if action.ActionType != tc.actionType {
			t.Errorf("p=%v: ActionType = %s, want %s", tc.probability, action.ActionType, tc.actionType)
		}
		if math.Abs(action.ReducePosition-tc.reduce) > 1e-9 {
			t.Errorf("p=%v: ReducePosition = %v, want %v", tc.probability, action.ReducePosition, tc.reduce)
		}
		if action.HedgePosition != tc.hedge {
			t.Errorf("p=%v: HedgePosition = %v, want %v", tc.probability, action.HedgePosition, tc.hedge)
		}
		if action.StopLoss != tc.stopLoss {
			t.Errorf("p=%v: StopLoss = %q, want %q", tc.probability, action.StopLoss, tc.stopLoss)
		}
	}
}

// TestTrainInsufficientData checks short series produce no model
func TestTrainInsufficientData(t *testing.T) {
	d, _ := newTestDetector(t)

	report := d.Train(syntheticCandles(80))
	if report.ModelType != "" || report.TrainingSamples != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
	if p := d.PredictCrisisProbability(map[string]float64{"rsi": 50}); p != 0 {
		t.Errorf("untrained probability = %v, want 0", p)
	}
}

// TestTrainAndPredict checks training succeeds on enough data and that
// crash-like indicators score higher than calm ones
func TestTrainAndPredict(t *testing.T) {
	d, _ := newTestDetector(t)

	report := d.Train(syntheticCandles(300))
	if report.ModelType != "IsolationForest" {
		t.Fatalf("ModelType = %q, want IsolationForest", report.ModelType)
	}
	if report.TrainingSamples < 100 {
		t.Fatalf("TrainingSamples = %d, want >= 100", report.TrainingSamples)
	}
	if report.AnomalyRate < 0 || report.AnomalyRate > 0.5 {
		t.Errorf("AnomalyRate = %v outside plausible range", report.AnomalyRate)
	}

	calm := map[string]float64{
		"price_change": 0.001, "price_volatility": 0.3, "price_drawdown": -0.005,
		"volume_spike": 1.0, "volume_change": 0.01, "rsi": 50,
		"ma_deviation": 0.002, "price_range": 0.006,
	}
	crash := map[string]float64{
		"price_change": -0.25, "price_volatility": 20, "price_drawdown": -0.4,
		"volume_spike": 8, "volume_change": 5, "rsi": 5,
		"ma_deviation": -0.35, "price_range": 0.3,
	}

	calmProb := d.PredictCrisisProbability(calm)
	crashProb := d.PredictCrisisProbability(crash)

	if calmProb < 0 || calmProb > 1 || crashProb < 0 || crashProb > 1 {
		t.Fatalf("probabilities outside [0,1]: calm=%v crash=%v", calmProb, crashProb)
	}
	if crashProb <= calmProb {
		t.Errorf("crash probability %v should exceed calm probability %v", crashProb, calmProb)
	}
}

// TestRecordAlertAndOutcome checks the alert lifecycle round-trip
func TestRecordAlertAndOutcome(t *testing.T) {
	d, store := newTestDetector(t)
	ctx := context.Background()

	alertID, err := d.RecordAlert(ctx, 2, "volume_anomaly",
		map[string]interface{}{"volume_spike": 5.2},
		map[string]float64{"rsi": 22},
		"reduce")
	if err != nil {
		t.Fatalf("RecordAlert failed: %v", err)
	}

	row := store.alerts[alertID]
	if row == nil {
		t.Fatal("alert not persisted")
	}
	if row.AlertLevel != 2 || row.AlertType != "volume_anomaly" {
		t.Errorf("persisted alert = %+v", row)
	}
	if row.WasCorrect.Valid {
		t.Error("new alert should have no outcome yet")
	}

	if err := d.UpdateAlertOutcome(ctx, alertID, "market dropped 12%", true); err != nil {
		t.Fatalf("UpdateAlertOutcome failed: %v", err)
	}
	if !row.WasCorrect.Valid || !row.WasCorrect.Bool {
		t.Error("outcome not recorded")
	}
}

// TestOptimizeResponseStrategy checks per-level precision and threshold
// suggestions
func TestOptimizeResponseStrategy(t *testing.T) {
	d, store := newTestDetector(t)
	ctx := context.Background()

	addVerified := func(level int, alertType string, correct bool) {
		id, err := d.RecordAlert(ctx, level, alertType, nil, nil, "monitor")
		if err != nil {
			t.Fatalf("RecordAlert failed: %v", err)
		}
		if err := d.UpdateAlertOutcome(ctx, id, "verified", correct); err != nil {
			t.Fatalf("UpdateAlertOutcome failed: %v", err)
		}
	}

	// Level 1 is noisy, level 3 is perfect
	addVerified(1, "price_anomaly", true)
	addVerified(1, "price_anomaly", false)
	addVerified(1, "price_anomaly", false)
	addVerified(1, "price_anomaly", false)
	addVerified(3, "liquidity_anomaly", true)
	addVerified(3, "liquidity_anomaly", true)

	report, err := d.OptimizeResponseStrategy(ctx)
	if err != nil {
		t.Fatalf("OptimizeResponseStrategy failed: %v", err)
	}

	level1 := report.AlertAccuracy[1]
	if math.Abs(level1.Accuracy-0.25) > 1e-9 || level1.TotalAlerts != 4 {
		t.Errorf("level 1 accuracy = %+v, want 0.25 over 4", level1)
	}
	adj1, ok := report.ThresholdAdjustments[1]
	if !ok {
		t.Fatal("expected a threshold adjustment for level 1")
	}
	if math.Abs(adj1.SuggestedThreshold-0.3*1.2) > 1e-9 {
		t.Errorf("level 1 suggestion = %v, want %v", adj1.SuggestedThreshold, 0.3*1.2)
	}

	adj3, ok := report.ThresholdAdjustments[3]
	if !ok {
		t.Fatal("expected a threshold adjustment for level 3")
	}
	if math.Abs(adj3.SuggestedThreshold-0.8*0.9) > 1e-9 {
		t.Errorf("level 3 suggestion = %v, want %v", adj3.SuggestedThreshold, 0.8*0.9)
	}

	effectiveness := report.ResponseEffectiveness["liquidity_anomaly"]
	if effectiveness.Accuracy != 1.0 || effectiveness.SampleSize != 2 {
		t.Errorf("liquidity_anomaly effectiveness = %+v", effectiveness)
	}

	if _, ok := store.alerts[""]; ok {
		t.Error("unexpected empty alert id")
	}

	saved, ok := store.strategies["liquidity_anomaly/3"]
	if !ok {
		t.Fatal("expected a persisted response strategy for liquidity_anomaly level 3")
	}
	if saved.ActionType != "exit" || saved.SuccessRate.Float64 != 1.0 {
		t.Errorf("persisted response strategy = %+v, want exit with rate 1.0", saved)
	}
	if saved.PositionAdjustment.Float64 != 1.0 {
		t.Errorf("position adjustment = %v, want 1.0", saved.PositionAdjustment.Float64)
	}
}

// TestOptimizeResponseStrategyNoAlerts checks the empty-store path
func TestOptimizeResponseStrategyNoAlerts(t *testing.T) {
	d, _ := newTestDetector(t)

	report, err := d.OptimizeResponseStrategy(context.Background())
	if err != nil {
		t.Fatalf("OptimizeResponseStrategy failed: %v", err)
	}
	if len(report.AlertAccuracy) != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}

// TestUpdateTriggerThresholds checks multiplicative threshold updates
func TestUpdateTriggerThresholds(t *testing.T) {
	d, _ := newTestDetector(t)

	d.UpdateTriggerThresholds(map[int]float64{2: 1.2, 9: 2.0})

	action := d.GetRecommendedAction(0.65, 1.0)
	if action.AlertLevel != 1 {
		t.Errorf("after raising level 2 threshold to 0.72, p=0.65 should be level 1, got %d", action.AlertLevel)
	}
}

// TestLearnFromEvent checks a new case study persists with its patterns
func TestLearnFromEvent(t *testing.T) {
	d, store := newTestDetector(t)
	ctx := context.Background()

	err := d.LearnFromEvent(ctx, Event{
		Name:         "STABLE_DEPEG_2025",
		Type:         "depeg",
		EarlySignals: []string{"reserve outflow", "oracle divergence"},
		MaxDrawdown:  0.2,
	})
	if err != nil {
		t.Fatalf("LearnFromEvent failed: %v", err)
	}

	if _, ok := store.events["STABLE_DEPEG_2025"]; !ok {
		t.Fatal("event not persisted")
	}
	if _, ok := store.patterns["depeg_reserve outflow"]; !ok {
		t.Error("early signal not persisted as crisis pattern")
	}
	if _, ok := store.patterns["depeg_oracle divergence"]; !ok {
		t.Error("early signal not persisted as crisis pattern")
	}

	if err := d.LearnFromEvent(ctx, Event{}); err == nil {
		t.Error("expected error for unnamed event")
	}
}

// TestAnalyzeHistoricalEvents checks the aggregation over seeded events
func TestAnalyzeHistoricalEvents(t *testing.T) {
	d, _ := newTestDetector(t)

	analysis, err := d.AnalyzeHistoricalEvents(context.Background())
	if err != nil {
		t.Fatalf("AnalyzeHistoricalEvents failed: %v", err)
	}

	if stats := analysis.EventTypes["market_crash"]; stats.Count != 1 || stats.AvgDrawdown != 0.50 {
		t.Errorf("market_crash stats = %+v", stats)
	}
	if len(analysis.EarlySignals) == 0 {
		t.Error("expected early signal counts")
	}
	if analysis.Opportunities["LUNA_2022"].Type != "short" {
		t.Errorf("LUNA_2022 opportunity = %+v", analysis.Opportunities["LUNA_2022"])
	}
	if analysis.CascadePatterns["312_2020"].Speed != "24 hours" {
		t.Errorf("312_2020 cascade = %+v", analysis.CascadePatterns["312_2020"])
	}
}

// TestExtractCrisisFeatures checks row counts and RSI bounds
func TestExtractCrisisFeatures(t *testing.T) {
	candles := syntheticCandles(120)
	rows := extractCrisisFeatures(candles)

	if len(rows) == 0 {
		t.Fatal("expected feature rows")
	}
	if len(rows) > 120-49 {
		t.Errorf("got %d rows, want at most %d", len(rows), 120-49)
	}
	for _, row := range rows {
		if len(row) != len(crisisFeatureNames) {
			t.Fatalf("row width = %d, want %d", len(row), len(crisisFeatureNames))
		}
		rsi := row[5]
		if rsi < 0 || rsi > 100 {
			t.Errorf("rsi = %v outside [0,100]", rsi)
		}
	}

	if rows := extractCrisisFeatures(syntheticCandles(30)); rows != nil {
		t.Errorf("expected nil for short series, got %d rows", len(rows))
	}
}

// TestIsolationForestScoresOutliers checks outliers score lower than
// inliers
func TestIsolationForestScoresOutliers(t *testing.T) {
	var data [][]float64
	for i := 0; i < 200; i++ {
		data = append(data, []float64{
			math.Sin(float64(i)) * 0.5,
			math.Cos(float64(i)) * 0.5,
		})
	}

	forest := NewIsolationForest(50, 0.1)
	forest.Fit(data)

	inlier := forest.ScoreSample([]float64{0.1, 0.1})
	outlier := forest.ScoreSample([]float64{25, -25})

	if outlier >= inlier {
		t.Errorf("outlier score %v should be below inlier score %v", outlier, inlier)
	}
	if inlier >= 0 || inlier < -1 || outlier >= 0 || outlier < -1 {
		t.Errorf("scores outside (-1,0): inlier=%v outlier=%v", inlier, outlier)
	}
}
