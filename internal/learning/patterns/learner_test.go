package patterns

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"testing"
	"time"

	"crypto-learning-engine/config"
	"crypto-learning-engine/internal/database"
)

type fakeTradeSource struct {
	trades []database.Trade
}

func (f *fakeTradeSource) GetRecentTrades(ctx context.Context, days int, status string) ([]database.Trade, error) {
	return f.trades, nil
}

type savedSuccess struct {
	patternType, name string
	successRate       float64
	sampleSize        int
}

type savedFailure struct {
	patternType, name string
	failureRate       float64
	sampleSize        int
	riskLevel         string
}

type savedOpportunity struct {
	opportunityType string
	successRate     float64
	sampleSize      int
}

type fakePatternStore struct {
	successes     []savedSuccess
	failures      []savedFailure
	opportunities []savedOpportunity
}

func (f *fakePatternStore) UpsertSuccessPattern(ctx context.Context, patternType, patternName string,
	conditions map[string]interface{}, successRate float64, sampleSize int, confidence float64) error {
	f.successes = append(f.successes, savedSuccess{patternType, patternName, successRate, sampleSize})
	return nil
}

func (f *fakePatternStore) UpsertFailurePattern(ctx context.Context, patternType, patternName string,
	conditions map[string]interface{}, failureRate float64, sampleSize int, riskLevel string) error {
	f.failures = append(f.failures, savedFailure{patternType, patternName, failureRate, sampleSize, riskLevel})
	return nil
}

func (f *fakePatternStore) UpsertOpportunityPattern(ctx context.Context, opportunityType string,
	triggerConditions map[string]interface{}, successRate, avgReturn, riskReward, positionSize float64,
	timingWindow string, sampleSize int) error {
	f.opportunities = append(f.opportunities, savedOpportunity{opportunityType, successRate, sampleSize})
	return nil
}

func testConfig() config.PatternConfig {
	return config.PatternConfig{
		SuccessThreshold: 0.6,
		FailureThreshold: 0.4,
		MinSampleSize:    10,
		ClusterCount:     5,
		ClusterMaxIter:   300,
		MinSupport:       0.1,
		MinConfidence:    0.6,
	}
}

// makeTrades builds n closed trades with the given reason, wins of them
// profitable
func makeTrades(reason string, wins, n int) []database.Trade {
	trades := make([]database.Trade, n)
	for i := 0; i < n; i++ {
		pnl := -5.0
		if i < wins {
			pnl = 10.0
		}
		trades[i] = database.Trade{
			ID:          int64(i + 1),
			Symbol:      "BTCUSDT",
			Direction:   database.DirectionLong,
			EntryPrice:  100,
			EntryReason: sql.NullString{String: reason, Valid: true},
			EntryTime:   time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			ExitPnL:     sql.NullFloat64{Float64: pnl, Valid: true},
			Status:      database.TradeStatusClosed,
		}
	}
	return trades
}

// TestAnalyzeEntryConditionsSavesSuccess checks a 70% win-rate reason with
// 15 trades is stored as a success pattern
func TestAnalyzeEntryConditionsSavesSuccess(t *testing.T) {
	store := &fakePatternStore{}
	// 15 trades, 10.5 would be 70%; use 15 trades with 11 wins (~0.733)
	trades := makeTrades("breakout_confirmation", 11, 15)
	pl := NewPatternLearner(&fakeTradeSource{trades: trades}, store, testConfig())

	result, err := pl.AnalyzeEntryConditions(context.Background(), 30)
	if err != nil {
		t.Fatalf("AnalyzeEntryConditions failed: %v", err)
	}

	stats, ok := result["breakout_confirmation"]
	if !ok {
		t.Fatal("expected stats for breakout_confirmation")
	}
	if stats.TotalTrades != 15 {
		t.Errorf("expected 15 trades, got %d", stats.TotalTrades)
	}

	if len(store.successes) != 1 {
		t.Fatalf("expected 1 saved success pattern, got %d", len(store.successes))
	}
	saved := store.successes[0]
	if saved.patternType != "entry_condition" || saved.name != "breakout_confirmation" {
		t.Errorf("unexpected saved pattern: %+v", saved)
	}
	if math.Abs(saved.successRate-11.0/15.0) > 1e-9 {
		t.Errorf("expected success rate 0.733, got %f", saved.successRate)
	}
}

// TestAnalyzeEntryConditionsSavesFailure checks a 30% win-rate reason with
// 12 trades is stored as a failure pattern with the complementary rate
func TestAnalyzeEntryConditionsSavesFailure(t *testing.T) {
	store := &fakePatternStore{}
	// 12 trades, 30% winners: failure rate 0.7
	trades := makeTrades("fomo_entry", 3, 12)
	pl := NewPatternLearner(&fakeTradeSource{trades: trades}, store, testConfig())

	if _, err := pl.AnalyzeEntryConditions(context.Background(), 30); err != nil {
		t.Fatalf("AnalyzeEntryConditions failed: %v", err)
	}

	if len(store.failures) != 1 {
		t.Fatalf("expected 1 saved failure pattern, got %d", len(store.failures))
	}
	saved := store.failures[0]
	if saved.name != "fomo_entry" {
		t.Errorf("unexpected pattern name %s", saved.name)
	}
	if math.Abs(saved.failureRate-0.75) > 1e-9 {
		t.Errorf("expected failure rate 0.75, got %f", saved.failureRate)
	}
}

// TestAnalyzeEntryConditionsBelowSampleSize checks small groups are
// reported but never persisted
func TestAnalyzeEntryConditionsBelowSampleSize(t *testing.T) {
	store := &fakePatternStore{}
	trades := makeTrades("rare_setup", 5, 6)
	pl := NewPatternLearner(&fakeTradeSource{trades: trades}, store, testConfig())

	result, err := pl.AnalyzeEntryConditions(context.Background(), 30)
	if err != nil {
		t.Fatalf("AnalyzeEntryConditions failed: %v", err)
	}
	if len(result) != 1 {
		t.Errorf("expected 1 reported group, got %d", len(result))
	}
	if len(store.successes)+len(store.failures) != 0 {
		t.Error("small sample must not be persisted")
	}
}

// TestAnalyzeEntryConditionsEmpty checks empty input yields empty results
// without error
func TestAnalyzeEntryConditionsEmpty(t *testing.T) {
	pl := NewPatternLearner(&fakeTradeSource{}, &fakePatternStore{}, testConfig())
	result, err := pl.AnalyzeEntryConditions(context.Background(), 30)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected empty result, got %d entries", len(result))
	}
}

// TestAnalyzeIndicatorCombinations checks clustering finds a winning
// indicator regime
func TestAnalyzeIndicatorCombinations(t *testing.T) {
	store := &fakePatternStore{}

	var trades []database.Trade
	// 20 winners around low RSI, 20 losers around high RSI
	for i := 0; i < 40; i++ {
		rsi := 30.0 + float64(i%5)
		pnl := 10.0
		if i >= 20 {
			rsi = 80.0 + float64(i%5)
			pnl = -5.0
		}
		ind, _ := json.Marshal(map[string]float64{"rsi": rsi, "macd": rsi / 50})
		trades = append(trades, database.Trade{
			ID:              int64(i + 1),
			Symbol:          "BTCUSDT",
			Direction:       database.DirectionLong,
			EntryPrice:      100,
			EntryIndicators: sql.NullString{String: string(ind), Valid: true},
			EntryTime:       time.Now().UTC(),
			ExitPnL:         sql.NullFloat64{Float64: pnl, Valid: true},
			Status:          database.TradeStatusClosed,
		})
	}

	pl := NewPatternLearner(&fakeTradeSource{trades: trades}, store, testConfig())
	combos, err := pl.AnalyzeIndicatorCombinations(context.Background(), 30)
	if err != nil {
		t.Fatalf("AnalyzeIndicatorCombinations failed: %v", err)
	}

	if len(combos) == 0 {
		t.Fatal("expected at least one successful combo")
	}
	for name, combo := range combos {
		if combo.SuccessRate < 0.6 {
			t.Errorf("%s: success rate %f below threshold", name, combo.SuccessRate)
		}
		if combo.KeyIndicators["rsi"] > 50 {
			t.Errorf("%s: winning cluster center rsi %f should be low", name, combo.KeyIndicators["rsi"])
		}
	}
	if len(store.successes) != len(combos) {
		t.Errorf("expected %d persisted combos, got %d", len(combos), len(store.successes))
	}
}

// TestAnalyzeIndicatorCombinationsTooFew checks the minimum-rows guard
func TestAnalyzeIndicatorCombinationsTooFew(t *testing.T) {
	trades := makeTrades("x", 3, 5)
	pl := NewPatternLearner(&fakeTradeSource{trades: trades}, &fakePatternStore{}, testConfig())
	combos, err := pl.AnalyzeIndicatorCombinations(context.Background(), 30)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(combos) != 0 {
		t.Errorf("expected no combos, got %d", len(combos))
	}
}

// TestIdentifyOpportunityType covers the substring classification order
func TestIdentifyOpportunityType(t *testing.T) {
	cases := []struct {
		reason, marketState, want string
	}{
		{"breakout above resistance", "", "breakout"},
		{"trend reversal signal", "", "reversal"},
		{"momentum surge", "", "momentum"},
		{"buying the dip", "", "dip_buy"},
		{"ma cross", "strong_uptrend", "trend_following"},
		{"gut feeling", "sideways", "general"},
	}
	for _, tc := range cases {
		trade := &database.Trade{
			EntryReason:      sql.NullString{String: tc.reason, Valid: tc.reason != ""},
			EntryMarketState: sql.NullString{String: tc.marketState, Valid: tc.marketState != ""},
		}
		if got := identifyOpportunityType(trade); got != tc.want {
			t.Errorf("reason=%q state=%q: expected %s, got %s", tc.reason, tc.marketState, tc.want, got)
		}
	}
}

// TestAnalyzeOpportunityPatterns checks qualifying opportunity types are
// persisted with trigger conditions
func TestAnalyzeOpportunityPatterns(t *testing.T) {
	store := &fakePatternStore{}

	var trades []database.Trade
	for i := 0; i < 12; i++ {
		pnl := 8.0
		exitPrice := 110.0
		if i >= 8 {
			pnl = -4.0
			exitPrice = 96.0
		}
		ind, _ := json.Marshal(map[string]float64{"rsi": 55})
		trades = append(trades, database.Trade{
			ID:              int64(i + 1),
			Symbol:          "BTCUSDT",
			Direction:       database.DirectionLong,
			EntryPrice:      100,
			EntryReason:     sql.NullString{String: "breakout above channel", Valid: true},
			EntryIndicators: sql.NullString{String: string(ind), Valid: true},
			EntryTime:       time.Now().UTC(),
			StopLoss:        sql.NullFloat64{Float64: 95, Valid: true},
			TakeProfit:      sql.NullFloat64{Float64: 115, Valid: true},
			ExitPrice:       sql.NullFloat64{Float64: exitPrice, Valid: true},
			ExitPnL:         sql.NullFloat64{Float64: pnl, Valid: true},
			Status:          database.TradeStatusClosed,
		})
	}

	pl := NewPatternLearner(&fakeTradeSource{trades: trades}, store, testConfig())
	result, err := pl.AnalyzeOpportunityPatterns(context.Background(), 30)
	if err != nil {
		t.Fatalf("AnalyzeOpportunityPatterns failed: %v", err)
	}

	stats, ok := result["breakout"]
	if !ok {
		t.Fatal("expected stats for breakout")
	}
	if stats.TotalOpportunities != 12 {
		t.Errorf("expected 12 opportunities, got %d", stats.TotalOpportunities)
	}
	if math.Abs(stats.SuccessRate-8.0/12.0) > 1e-9 {
		t.Errorf("expected success rate 0.667, got %f", stats.SuccessRate)
	}
	if math.Abs(stats.AvgRiskReward-3.0) > 1e-9 {
		t.Errorf("expected risk/reward 3.0, got %f", stats.AvgRiskReward)
	}

	if len(store.opportunities) != 1 {
		t.Fatalf("expected 1 persisted opportunity, got %d", len(store.opportunities))
	}
	if store.opportunities[0].opportunityType != "breakout" {
		t.Errorf("expected breakout, got %s", store.opportunities[0].opportunityType)
	}
}

// TestIdentifyCommonMistakes covers the early-stop-loss and chasing-highs
// detectors
func TestIdentifyCommonMistakes(t *testing.T) {
	store := &fakePatternStore{}

	var trades []database.Trade
	// 10 losers: 6 stopped out, 4 entered with RSI > 70
	for i := 0; i < 10; i++ {
		exitReason := "manual"
		rsi := 50.0
		if i < 6 {
			exitReason = "stop_loss"
		}
		if i >= 6 {
			rsi = 75.0
		}
		ind, _ := json.Marshal(map[string]float64{"rsi": rsi})
		trades = append(trades, database.Trade{
			ID:              int64(i + 1),
			Symbol:          "BTCUSDT",
			Direction:       database.DirectionLong,
			EntryPrice:      100,
			EntryIndicators: sql.NullString{String: string(ind), Valid: true},
			EntryTime:       time.Now().UTC(),
			ExitReason:      sql.NullString{String: exitReason, Valid: true},
			ExitPnL:         sql.NullFloat64{Float64: -5, Valid: true},
			Status:          database.TradeStatusClosed,
		})
	}

	pl := NewPatternLearner(&fakeTradeSource{trades: trades}, store, testConfig())
	mistakes, err := pl.IdentifyCommonMistakes(context.Background(), 30)
	if err != nil {
		t.Fatalf("IdentifyCommonMistakes failed: %v", err)
	}

	if len(mistakes) != 2 {
		t.Fatalf("expected 2 mistakes, got %d", len(mistakes))
	}
	byType := map[string]Mistake{}
	for _, m := range mistakes {
		byType[m.Type] = m
	}

	early, ok := byType["early_stop_loss"]
	if !ok {
		t.Fatal("expected early_stop_loss mistake")
	}
	if math.Abs(early.Frequency-0.6) > 1e-9 {
		t.Errorf("expected frequency 0.6, got %f", early.Frequency)
	}

	chasing, ok := byType["chasing_highs"]
	if !ok {
		t.Fatal("expected chasing_highs mistake")
	}
	if math.Abs(chasing.Frequency-0.4) > 1e-9 {
		t.Errorf("expected frequency 0.4, got %f", chasing.Frequency)
	}

	if len(store.failures) != 2 {
		t.Errorf("expected 2 persisted failure patterns, got %d", len(store.failures))
	}
	for _, f := range store.failures {
		if f.patternType != "common_mistake" {
			t.Errorf("expected common_mistake type, got %s", f.patternType)
		}
	}
}

// TestIdentifyCommonMistakesNoLosers checks a profitable window finds
// nothing
func TestIdentifyCommonMistakesNoLosers(t *testing.T) {
	trades := makeTrades("x", 5, 5)
	pl := NewPatternLearner(&fakeTradeSource{trades: trades}, &fakePatternStore{}, testConfig())
	mistakes, err := pl.IdentifyCommonMistakes(context.Background(), 30)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(mistakes) != 0 {
		t.Errorf("expected no mistakes, got %d", len(mistakes))
	}
}

// TestMineAssociationRulesTooFew checks the 20-trade floor
func TestMineAssociationRulesTooFew(t *testing.T) {
	trades := makeTrades("x", 8, 15)
	pl := NewPatternLearner(&fakeTradeSource{trades: trades}, &fakePatternStore{}, testConfig())
	rules, err := pl.MineAssociationRules(context.Background(), 30)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rules != nil {
		t.Errorf("expected nil rules, got %v", rules)
	}
}

// TestMineAssociationRules checks profitable-consequent rules are found in
// a biased sample
func TestMineAssociationRules(t *testing.T) {
	var trades []database.Trade
	// bull-market breakouts win, bear-market entries lose
	for i := 0; i < 30; i++ {
		state := "bull"
		reason := "breakout"
		pnl := 10.0
		if i >= 20 {
			state = "bear"
			reason = "knife_catch"
			pnl = -5.0
		}
		trades = append(trades, database.Trade{
			ID:               int64(i + 1),
			Symbol:           "BTCUSDT",
			Direction:        database.DirectionLong,
			EntryPrice:       100,
			EntryReason:      sql.NullString{String: reason, Valid: true},
			EntryMarketState: sql.NullString{String: state, Valid: true},
			EntryTime:        time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
			ExitPnL:          sql.NullFloat64{Float64: pnl, Valid: true},
			Status:           database.TradeStatusClosed,
		})
	}

	pl := NewPatternLearner(&fakeTradeSource{trades: trades}, &fakePatternStore{}, testConfig())
	rules, err := pl.MineAssociationRules(context.Background(), 30)
	if err != nil {
		t.Fatalf("MineAssociationRules failed: %v", err)
	}
	if len(rules) == 0 {
		t.Fatal("expected at least one rule predicting profitability")
	}

	found := false
	for _, rule := range rules {
		hasProfit := false
		for _, item := range rule.Result {
			if item == "profitable" {
				hasProfit = true
			}
		}
		if !hasProfit {
			t.Errorf("rule %v does not predict profitability", rule)
		}
		for _, cond := range rule.Conditions {
			if cond == "market_bull" {
				found = true
				if rule.Confidence < 0.99 {
					t.Errorf("bull-market rule confidence %f, expected ~1.0", rule.Confidence)
				}
			}
		}
	}
	if !found {
		t.Error("expected a rule conditioned on market_bull")
	}
}

// TestScalerRoundTrip checks transform and inverse-transform are inverses
func TestScalerRoundTrip(t *testing.T) {
	data := [][]float64{{1, 10}, {2, 20}, {3, 30}, {4, 40}}
	scaler := &StandardScaler{}
	scaler.Fit(data)
	scaled := scaler.Transform(data)

	for i, row := range scaled {
		back := scaler.InverseTransform(row)
		for j := range back {
			if math.Abs(back[j]-data[i][j]) > 1e-9 {
				t.Errorf("row %d col %d: expected %f, got %f", i, j, data[i][j], back[j])
			}
		}
	}
}

// TestKMeansSeparatesClusters checks two obvious groups get distinct labels
func TestKMeansSeparatesClusters(t *testing.T) {
	var data [][]float64
	for i := 0; i < 10; i++ {
		data = append(data, []float64{0 + float64(i)*0.01, 0})
	}
	for i := 0; i < 10; i++ {
		data = append(data, []float64{100 + float64(i)*0.01, 100})
	}

	km := NewKMeans(2, 100)
	labels := km.FitPredict(data)

	if len(labels) != 20 {
		t.Fatalf("expected 20 labels, got %d", len(labels))
	}
	first := labels[0]
	for i := 1; i < 10; i++ {
		if labels[i] != first {
			t.Errorf("low cluster split at index %d", i)
		}
	}
	second := labels[10]
	if second == first {
		t.Fatal("clusters not separated")
	}
	for i := 11; i < 20; i++ {
		if labels[i] != second {
			t.Errorf("high cluster split at index %d", i)
		}
	}
}

// TestAprioriSupportAndConfidence checks the metrics on a tiny hand-checked
// dataset
func TestAprioriSupportAndConfidence(t *testing.T) {
	// In 10 transactions, a and profitable co-occur 6 times, a appears 8 times
	var transactions [][]string
	for i := 0; i < 6; i++ {
		transactions = append(transactions, []string{"a", "profitable"})
	}
	for i := 0; i < 2; i++ {
		transactions = append(transactions, []string{"a", "loss"})
	}
	for i := 0; i < 2; i++ {
		transactions = append(transactions, []string{"b", "profitable"})
	}

	rules := mineAssociationRules(transactions, 0.1, 0.6)

	var target *AssociationRule
	for i := range rules {
		r := &rules[i]
		if len(r.Conditions) == 1 && r.Conditions[0] == "a" &&
			len(r.Result) == 1 && r.Result[0] == "profitable" {
			target = r
		}
	}
	if target == nil {
		t.Fatal("expected rule a => profitable")
	}
	if math.Abs(target.Support-0.6) > 1e-9 {
		t.Errorf("expected support 0.6, got %f", target.Support)
	}
	if math.Abs(target.Confidence-0.75) > 1e-9 {
		t.Errorf("expected confidence 0.75, got %f", target.Confidence)
	}
	// lift = 0.75 / 0.8
	if math.Abs(target.Lift-0.9375) > 1e-9 {
		t.Errorf("expected lift 0.9375, got %f", target.Lift)
	}
}
