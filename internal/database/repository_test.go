package database

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := NewDB(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewRepository(db)
}

// TestTradeLifecycle walks one trade through entry, lookup and exit
func TestTradeLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	trade := &Trade{
		Symbol:           "BTCUSDT",
		Direction:        "long",
		StrategyID:       sql.NullString{String: "trend_following_v1", Valid: true},
		EntryPrice:       42000,
		EntryReason:      sql.NullString{String: "breakout above resistance", Valid: true},
		EntryIndicators:  sql.NullString{String: `{"rsi": 62.5, "atr": 310.0}`, Valid: true},
		EntryMarketState: sql.NullString{String: "trending", Valid: true},
		EntryTime:        time.Now().UTC(),
		StopLoss:         sql.NullFloat64{Float64: 41000, Valid: true},
		TakeProfit:       sql.NullFloat64{Float64: 45000, Valid: true},
	}

	if err := repo.CreateTrade(ctx, trade); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}
	if trade.ID == 0 {
		t.Fatal("CreateTrade did not assign an id")
	}

	got, err := repo.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if got.Status != TradeStatusOpen {
		t.Errorf("new trade status = %q, want %q", got.Status, TradeStatusOpen)
	}
	ind := got.Indicators()
	if ind["rsi"] != 62.5 {
		t.Errorf("entry indicator rsi = %v, want 62.5", ind["rsi"])
	}

	trade.ExitPrice = sql.NullFloat64{Float64: 44800, Valid: true}
	trade.ExitReason = sql.NullString{String: "take profit", Valid: true}
	trade.ExitDuration = sql.NullFloat64{Float64: 6.5, Valid: true}
	trade.ExitPnL = sql.NullFloat64{Float64: 2800, Valid: true}
	trade.ExitTime = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	if err := repo.CloseTrade(ctx, trade); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
	if trade.Status != TradeStatusClosed {
		t.Errorf("closed trade status = %q, want %q", trade.Status, TradeStatusClosed)
	}

	// Closing twice must fail: the exit leg is recorded exactly once
	if err := repo.CloseTrade(ctx, trade); err == nil {
		t.Error("second CloseTrade succeeded, want error")
	}

	closed, err := repo.GetRecentTrades(ctx, 7, TradeStatusClosed)
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("closed trades = %d, want 1", len(closed))
	}
	if closed[0].PnL() != 2800 {
		t.Errorf("closed trade pnl = %v, want 2800", closed[0].PnL())
	}

	byStrategy, err := repo.GetTradesByStrategy(ctx, "trend_following_v1", 7)
	if err != nil {
		t.Fatalf("GetTradesByStrategy: %v", err)
	}
	if len(byStrategy) != 1 {
		t.Errorf("strategy trades = %d, want 1", len(byStrategy))
	}
}

// TestSuccessPatternConditionsRoundTrip verifies the condition map survives
// the JSON column and that upserting replaces instead of duplicating
func TestSuccessPatternConditionsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	conditions := map[string]interface{}{
		"rsi_bucket":   "60-70",
		"market_state": "trending",
		"hour_of_day":  float64(14),
	}
	if err := repo.UpsertSuccessPattern(ctx, "entry_conditions", "rsi_trending_afternoon",
		conditions, 0.72, 25, 0.9); err != nil {
		t.Fatalf("UpsertSuccessPattern: %v", err)
	}

	rows, err := repo.GetBestPatterns(ctx, "entry_conditions", 10)
	if err != nil {
		t.Fatalf("GetBestPatterns: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("patterns = %d, want 1", len(rows))
	}

	got := rows[0].ConditionMap()
	if got["rsi_bucket"] != "60-70" || got["market_state"] != "trending" {
		t.Errorf("conditions did not round-trip: %v", got)
	}
	if got["hour_of_day"] != float64(14) {
		t.Errorf("hour_of_day = %v, want 14", got["hour_of_day"])
	}

	// Same key with fresher stats replaces the row
	if err := repo.UpsertSuccessPattern(ctx, "entry_conditions", "rsi_trending_afternoon",
		conditions, 0.78, 31, 0.92); err != nil {
		t.Fatalf("second UpsertSuccessPattern: %v", err)
	}
	rows, err = repo.GetBestPatterns(ctx, "entry_conditions", 10)
	if err != nil {
		t.Fatalf("GetBestPatterns after upsert: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("patterns after upsert = %d, want 1", len(rows))
	}
	if rows[0].SuccessRate != 0.78 || rows[0].SampleSize != 31 {
		t.Errorf("upsert did not replace: rate=%v size=%d", rows[0].SuccessRate, rows[0].SampleSize)
	}
}

func TestFailureAndOpportunityPatterns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.UpsertFailurePattern(ctx, "entry_conditions", "low_volume_chop",
		map[string]interface{}{"volume": "low"}, 0.81, 18, "high"); err != nil {
		t.Fatalf("UpsertFailurePattern: %v", err)
	}
	risk, err := repo.GetRiskPatterns(ctx, 10)
	if err != nil {
		t.Fatalf("GetRiskPatterns: %v", err)
	}
	if len(risk) != 1 || risk[0].FailureRate != 0.81 {
		t.Fatalf("risk patterns = %+v, want one with rate 0.81", risk)
	}
	if risk[0].RiskLevel.String != "high" {
		t.Errorf("risk level = %q, want high", risk[0].RiskLevel.String)
	}

	if err := repo.UpsertOpportunityPattern(ctx, "oversold_bounce",
		map[string]interface{}{"rsi": "below_30"}, 0.68, 2.4, 1.8, 0.03, "4h", 22); err != nil {
		t.Fatalf("UpsertOpportunityPattern: %v", err)
	}
	opps, err := repo.GetOpportunityPatterns(ctx, 10)
	if err != nil {
		t.Fatalf("GetOpportunityPatterns: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("opportunity patterns = %d, want 1", len(opps))
	}
	if opps[0].AvgReturn.Float64 != 2.4 || opps[0].TimingWindow.String != "4h" {
		t.Errorf("opportunity fields did not round-trip: %+v", opps[0])
	}
}

func TestStrategyWeightRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	score := 0.65
	if err := repo.SaveStrategyWeight(ctx, "grid_v2", "grid", 0.4, &score, "ranging"); err != nil {
		t.Fatalf("SaveStrategyWeight: %v", err)
	}

	row, err := repo.GetStrategyWeight(ctx, "grid_v2")
	if err != nil {
		t.Fatalf("GetStrategyWeight: %v", err)
	}
	if row == nil {
		t.Fatal("GetStrategyWeight returned nil")
	}
	if row.Weight != 0.4 || row.PerformanceScore.Float64 != 0.65 {
		t.Errorf("weight row = %+v, want weight 0.4 score 0.65", row)
	}

	if err := repo.SaveStrategyWeight(ctx, "grid_v2", "grid", 0.55, nil, "ranging"); err != nil {
		t.Fatalf("second SaveStrategyWeight: %v", err)
	}
	row, err = repo.GetStrategyWeight(ctx, "grid_v2")
	if err != nil {
		t.Fatalf("GetStrategyWeight after update: %v", err)
	}
	if row.Weight != 0.55 {
		t.Errorf("updated weight = %v, want 0.55", row.Weight)
	}

	missing, err := repo.GetStrategyWeight(ctx, "never_saved")
	if err != nil {
		t.Fatalf("GetStrategyWeight missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing strategy weight = %+v, want nil", missing)
	}
}

func TestSaveABTestResult(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	result := &ABTestResult{
		TestName:           "momentum_vs_trend",
		ControlStrategy:    "momentum_v1",
		TestStrategy:       "trend_v2",
		ControlPerformance: sql.NullString{String: `{"avg_return": 1.2}`, Valid: true},
		TestPerformance:    sql.NullString{String: `{"avg_return": 2.1}`, Valid: true},
		SampleSize:         sql.NullInt64{Int64: 140, Valid: true},
		PValue:             sql.NullFloat64{Float64: 0.012, Valid: true},
		IsSignificant:      sql.NullBool{Bool: true, Valid: true},
		Winner:             sql.NullString{String: "trend_v2", Valid: true},
	}
	if err := repo.SaveABTestResult(ctx, result); err != nil {
		t.Fatalf("SaveABTestResult: %v", err)
	}
}

func TestHistoricalEventsAndAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	event := &HistoricalEventRow{
		EventName:       "TEST_EVENT",
		EventDate:       "2024-01-15",
		EventType:       "exchange_collapse",
		EarlySignals:    sql.NullString{String: `["withdrawal spike"]`, Valid: true},
		CascadeSpeed:    sql.NullString{String: "3 days", Valid: true},
		MaxDrawdown:     sql.NullFloat64{Float64: 0.4, Valid: true},
		OpportunityType: sql.NullString{String: "short", Valid: true},
	}
	if err := repo.SaveHistoricalEvent(ctx, event); err != nil {
		t.Fatalf("SaveHistoricalEvent: %v", err)
	}

	events, err := repo.GetHistoricalEvents(ctx)
	if err != nil {
		t.Fatalf("GetHistoricalEvents: %v", err)
	}
	if len(events) != 1 || events[0].EventName != "TEST_EVENT" {
		t.Fatalf("events = %+v, want one TEST_EVENT", events)
	}

	alert := &AlertRecordRow{
		AlertID:           "ALERT_20240115_abc123",
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		AlertLevel:        2,
		AlertType:         "volatility_spike",
		TriggerConditions: sql.NullString{String: `{"threshold": 0.6}`, Valid: true},
		MarketIndicators:  sql.NullString{String: `{"price_volatility": 0.08}`, Valid: true},
		ResponseAction:    sql.NullString{String: "reduce_position", Valid: true},
	}
	if err := repo.SaveAlertRecord(ctx, alert); err != nil {
		t.Fatalf("SaveAlertRecord: %v", err)
	}

	// Not verified yet, so it must not show up
	verified, err := repo.GetVerifiedAlerts(ctx)
	if err != nil {
		t.Fatalf("GetVerifiedAlerts: %v", err)
	}
	if len(verified) != 0 {
		t.Fatalf("verified alerts before outcome = %d, want 0", len(verified))
	}

	if err := repo.UpdateAlertOutcome(ctx, alert.AlertID, "crash confirmed", true); err != nil {
		t.Fatalf("UpdateAlertOutcome: %v", err)
	}
	verified, err = repo.GetVerifiedAlerts(ctx)
	if err != nil {
		t.Fatalf("GetVerifiedAlerts after outcome: %v", err)
	}
	if len(verified) != 1 {
		t.Fatalf("verified alerts = %d, want 1", len(verified))
	}
	if !verified[0].WasCorrect.Bool {
		t.Error("alert outcome was_correct = false, want true")
	}
}

func TestResponseStrategyUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	row := &ResponseStrategyRow{
		EventType:          "volatility_spike",
		AlertLevel:         2,
		ActionType:         "reduce",
		PositionAdjustment: sql.NullFloat64{Float64: 0.5, Valid: true},
		SuccessRate:        sql.NullFloat64{Float64: 0.6, Valid: true},
	}
	if err := repo.SaveResponseStrategy(ctx, row); err != nil {
		t.Fatalf("SaveResponseStrategy: %v", err)
	}

	row.SuccessRate = sql.NullFloat64{Float64: 0.75, Valid: true}
	if err := repo.SaveResponseStrategy(ctx, row); err != nil {
		t.Fatalf("second SaveResponseStrategy: %v", err)
	}

	rows, err := repo.GetResponseStrategies(ctx)
	if err != nil {
		t.Fatalf("GetResponseStrategies: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("response strategies = %d, want 1", len(rows))
	}
	if rows[0].SuccessRate.Float64 != 0.75 || rows[0].ActionType != "reduce" {
		t.Errorf("response strategy did not round-trip: %+v", rows[0])
	}
}

func TestCrisisPatternUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	indicators := map[string]interface{}{"signal": "reserve outflow"}
	if err := repo.UpsertCrisisPattern(ctx, "depeg_reserve outflow", "early_warning",
		indicators, 0.8); err != nil {
		t.Fatalf("UpsertCrisisPattern: %v", err)
	}
	if err := repo.UpsertCrisisPattern(ctx, "depeg_reserve outflow", "early_warning",
		indicators, 0.85); err != nil {
		t.Fatalf("second UpsertCrisisPattern: %v", err)
	}

	rows, err := repo.GetCrisisPatterns(ctx)
	if err != nil {
		t.Fatalf("GetCrisisPatterns: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("crisis patterns = %d, want 1", len(rows))
	}
	if rows[0].Confidence.Float64 != 0.85 {
		t.Errorf("confidence = %v, want 0.85", rows[0].Confidence.Float64)
	}
}
