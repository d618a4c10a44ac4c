package patterns

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"crypto-learning-engine/config"
	"crypto-learning-engine/internal/database"
	"crypto-learning-engine/internal/logging"
)

// tradeSource supplies closed trades for analysis
type tradeSource interface {
	GetRecentTrades(ctx context.Context, days int, status string) ([]database.Trade, error)
}

// patternStore persists discovered patterns
type patternStore interface {
	UpsertSuccessPattern(ctx context.Context, patternType, patternName string,
		conditions map[string]interface{}, successRate float64, sampleSize int, confidence float64) error
	UpsertFailurePattern(ctx context.Context, patternType, patternName string,
		conditions map[string]interface{}, failureRate float64, sampleSize int, riskLevel string) error
	UpsertOpportunityPattern(ctx context.Context, opportunityType string,
		triggerConditions map[string]interface{}, successRate, avgReturn, riskReward, positionSize float64,
		timingWindow string, sampleSize int) error
}

// GroupStats summarizes trade outcomes for one grouping key
type GroupStats struct {
	SuccessRate float64 `json:"success_rate"`
	TotalTrades int     `json:"total_trades"`
	TotalPnL    float64 `json:"total_pnl"`
	AvgPnL      float64 `json:"avg_pnl"`
	AvgDuration float64 `json:"avg_duration,omitempty"`
}

// ComboStats describes a successful indicator cluster
type ComboStats struct {
	SuccessRate   float64            `json:"success_rate"`
	SampleSize    int                `json:"sample_size"`
	KeyIndicators map[string]float64 `json:"key_indicators"`
}

// OpportunityStats summarizes one opportunity type's outcomes
type OpportunityStats struct {
	SuccessRate        float64 `json:"success_rate"`
	TotalOpportunities int     `json:"total_opportunities"`
	AvgReturn          float64 `json:"avg_return"`
	AvgRiskReward      float64 `json:"avg_risk_reward"`
	SuccessfulExamples int     `json:"successful_examples"`
	FailedExamples     int     `json:"failed_examples"`
}

// Mistake is a recurring losing behavior found in recent trades
type Mistake struct {
	Type       string  `json:"type"`
	Frequency  float64 `json:"frequency"`
	AvgLoss    float64 `json:"avg_loss"`
	Suggestion string  `json:"suggestion"`
}

// PatternLearner mines success, failure and opportunity patterns from
// closed trades
type PatternLearner struct {
	trades tradeSource
	store  patternStore
	cfg    config.PatternConfig
	logger *logging.Logger
}

// NewPatternLearner creates a learner over the given trade source and store
func NewPatternLearner(trades tradeSource, store patternStore, cfg config.PatternConfig) *PatternLearner {
	return &PatternLearner{
		trades: trades,
		store:  store,
		cfg:    cfg,
		logger: logging.Default().WithComponent("pattern_learner"),
	}
}

// AnalyzeEntryConditions groups closed trades by entry reason and persists
// groups crossing the success or failure thresholds
func (pl *PatternLearner) AnalyzeEntryConditions(ctx context.Context, days int) (map[string]GroupStats, error) {
	trades, err := pl.trades.GetRecentTrades(ctx, days, database.TradeStatusClosed)
	if err != nil {
		return nil, fmt.Errorf("get closed trades: %w", err)
	}
	if len(trades) == 0 {
		pl.logger.Warn("No closed trades found for analysis")
		return map[string]GroupStats{}, nil
	}

	type counter struct {
		wins, losses int
		totalPnL     float64
	}
	stats := make(map[string]*counter)

	for i := range trades {
		t := &trades[i]
		reason := t.EntryReason.String
		if reason == "" {
			reason = "unknown"
		}
		c, ok := stats[reason]
		if !ok {
			c = &counter{}
			stats[reason] = c
		}
		pnl := t.PnL()
		if pnl > 0 {
			c.wins++
		} else {
			c.losses++
		}
		c.totalPnL += pnl
	}

	result := make(map[string]GroupStats, len(stats))
	for reason, c := range stats {
		total := c.wins + c.losses
		successRate := float64(c.wins) / float64(total)

		result[reason] = GroupStats{
			SuccessRate: successRate,
			TotalTrades: total,
			TotalPnL:    c.totalPnL,
			AvgPnL:      c.totalPnL / float64(total),
		}

		conditions := map[string]interface{}{"entry_reason": reason}
		if successRate >= pl.cfg.SuccessThreshold && total >= pl.cfg.MinSampleSize {
			pl.saveSuccess(ctx, "entry_condition", reason, conditions, successRate, total)
		} else if successRate <= pl.cfg.FailureThreshold && total >= pl.cfg.MinSampleSize {
			pl.saveFailure(ctx, "entry_condition", reason, conditions, 1-successRate, total, "medium")
		}
	}

	return result, nil
}

// AnalyzeIndicatorCombinations clusters entry indicators with k-means and
// persists clusters whose win rate crosses the success threshold
func (pl *PatternLearner) AnalyzeIndicatorCombinations(ctx context.Context, days int) (map[string]ComboStats, error) {
	trades, err := pl.trades.GetRecentTrades(ctx, days, database.TradeStatusClosed)
	if err != nil {
		return nil, fmt.Errorf("get closed trades: %w", err)
	}

	var indicatorMaps []map[string]float64
	var labels []int
	for i := range trades {
		ind := trades[i].Indicators()
		if len(ind) == 0 {
			continue
		}
		indicatorMaps = append(indicatorMaps, ind)
		if trades[i].PnL() > 0 {
			labels = append(labels, 1)
		} else {
			labels = append(labels, 0)
		}
	}

	if len(indicatorMaps) < pl.cfg.MinSampleSize {
		pl.logger.Warn("Not enough indicator data for analysis", "rows", len(indicatorMaps))
		return map[string]ComboStats{}, nil
	}

	// Union of indicator names, missing values default to 0
	nameSet := make(map[string]bool)
	for _, m := range indicatorMaps {
		for k := range m {
			nameSet[k] = true
		}
	}
	names := make([]string, 0, len(nameSet))
	for k := range nameSet {
		names = append(names, k)
	}
	sort.Strings(names)

	data := make([][]float64, len(indicatorMaps))
	for i, m := range indicatorMaps {
		row := make([]float64, len(names))
		for j, name := range names {
			row[j] = m[name]
		}
		data[i] = row
	}

	scaler := &StandardScaler{}
	scaler.Fit(data)
	scaled := scaler.Transform(data)

	k := pl.cfg.ClusterCount
	if limit := len(scaled) / 5; k > limit {
		k = limit
	}
	if k < 1 {
		k = 1
	}
	km := NewKMeans(k, pl.cfg.ClusterMaxIter)
	clusters := km.FitPredict(scaled)

	wins := make(map[int]int)
	totals := make(map[int]int)
	for i, c := range clusters {
		totals[c]++
		if labels[i] == 1 {
			wins[c]++
		}
	}

	combos := make(map[string]ComboStats)
	for clusterID, total := range totals {
		successRate := float64(wins[clusterID]) / float64(total)
		if successRate < pl.cfg.SuccessThreshold || total < 5 {
			continue
		}

		center := scaler.InverseTransform(km.Centers[clusterID])
		keyIndicators := make(map[string]float64, len(names))
		conditions := make(map[string]interface{}, len(names))
		for j, name := range names {
			keyIndicators[name] = center[j]
			conditions[name] = center[j]
		}

		comboName := fmt.Sprintf("combo_%d", clusterID)
		combos[comboName] = ComboStats{
			SuccessRate:   successRate,
			SampleSize:    total,
			KeyIndicators: keyIndicators,
		}
		pl.saveSuccess(ctx, "indicator_combo", comboName, conditions, successRate, total)
	}

	return combos, nil
}

// AnalyzeMarketStates groups trades by the market state at entry
func (pl *PatternLearner) AnalyzeMarketStates(ctx context.Context, days int) (map[string]GroupStats, error) {
	trades, err := pl.trades.GetRecentTrades(ctx, days, database.TradeStatusClosed)
	if err != nil {
		return nil, fmt.Errorf("get closed trades: %w", err)
	}
	if len(trades) == 0 {
		return map[string]GroupStats{}, nil
	}

	type counter struct {
		wins, losses  int
		totalPnL      float64
		totalDuration float64
	}
	stats := make(map[string]*counter)

	for i := range trades {
		t := &trades[i]
		state := t.EntryMarketState.String
		if state == "" {
			state = "unknown"
		}
		c, ok := stats[state]
		if !ok {
			c = &counter{}
			stats[state] = c
		}
		pnl := t.PnL()
		if pnl > 0 {
			c.wins++
		} else {
			c.losses++
		}
		c.totalPnL += pnl
		c.totalDuration += t.ExitDuration.Float64
	}

	result := make(map[string]GroupStats, len(stats))
	for state, c := range stats {
		total := c.wins + c.losses
		if total == 0 {
			continue
		}
		successRate := float64(c.wins) / float64(total)

		result[state] = GroupStats{
			SuccessRate: successRate,
			TotalTrades: total,
			TotalPnL:    c.totalPnL,
			AvgPnL:      c.totalPnL / float64(total),
			AvgDuration: c.totalDuration / float64(total),
		}

		if total >= pl.cfg.MinSampleSize {
			conditions := map[string]interface{}{"market_state": state}
			if successRate >= pl.cfg.SuccessThreshold {
				pl.saveSuccess(ctx, "market_state", state, conditions, successRate, total)
			} else if successRate <= pl.cfg.FailureThreshold {
				pl.saveFailure(ctx, "market_state", state, conditions, 1-successRate, total, "medium")
			}
		}
	}

	return result, nil
}

// AnalyzeTimePatterns groups trades by entry hour, weekday and day period.
// Groups with fewer than 5 trades are skipped; only groups with at least 20
// trades are persisted.
func (pl *PatternLearner) AnalyzeTimePatterns(ctx context.Context, days int) (map[string]GroupStats, error) {
	trades, err := pl.trades.GetRecentTrades(ctx, days, database.TradeStatusClosed)
	if err != nil {
		return nil, fmt.Errorf("get closed trades: %w", err)
	}
	if len(trades) == 0 {
		return map[string]GroupStats{}, nil
	}

	type counter struct {
		wins, losses int
		totalPnL     float64
	}
	stats := make(map[string]*counter)

	for i := range trades {
		t := &trades[i]
		if t.EntryTime.IsZero() {
			continue
		}
		hour := t.EntryTime.Hour()
		dow := int(t.EntryTime.Weekday()+6) % 7 // Monday = 0

		var period string
		switch {
		case hour < 6:
			period = "night"
		case hour < 12:
			period = "morning"
		case hour < 18:
			period = "afternoon"
		default:
			period = "evening"
		}

		keys := []string{
			fmt.Sprintf("hour_%02d", hour),
			fmt.Sprintf("dow_%d", dow),
			period,
		}
		pnl := t.PnL()
		for _, key := range keys {
			c, ok := stats[key]
			if !ok {
				c = &counter{}
				stats[key] = c
			}
			if pnl > 0 {
				c.wins++
			} else {
				c.losses++
			}
			c.totalPnL += pnl
		}
	}

	result := make(map[string]GroupStats)
	for key, c := range stats {
		total := c.wins + c.losses
		if total < 5 {
			continue
		}
		successRate := float64(c.wins) / float64(total)

		result[key] = GroupStats{
			SuccessRate: successRate,
			TotalTrades: total,
			TotalPnL:    c.totalPnL,
			AvgPnL:      c.totalPnL / float64(total),
		}

		if total >= 20 && successRate >= pl.cfg.SuccessThreshold {
			pl.saveSuccess(ctx, "time_pattern", key,
				map[string]interface{}{"time": key}, successRate, total)
		}
	}

	return result, nil
}

// AnalyzeOpportunityPatterns classifies trades into opportunity types and
// persists types with at least 10 samples and a 50% win rate
func (pl *PatternLearner) AnalyzeOpportunityPatterns(ctx context.Context, days int) (map[string]OpportunityStats, error) {
	trades, err := pl.trades.GetRecentTrades(ctx, days, database.TradeStatusClosed)
	if err != nil {
		return nil, fmt.Errorf("get closed trades: %w", err)
	}
	if len(trades) == 0 {
		return map[string]OpportunityStats{}, nil
	}

	type bucket struct {
		successful  []*database.Trade
		failed      []*database.Trade
		returns     []float64
		riskRewards []float64
	}
	buckets := make(map[string]*bucket)

	for i := range trades {
		t := &trades[i]
		if t.EntryPrice <= 0 {
			continue
		}

		returnRate := (t.ExitPrice.Float64 - t.EntryPrice) / t.EntryPrice
		oppType := identifyOpportunityType(t)

		b, ok := buckets[oppType]
		if !ok {
			b = &bucket{}
			buckets[oppType] = b
		}
		if t.PnL() > 0 {
			b.successful = append(b.successful, t)
		} else {
			b.failed = append(b.failed, t)
		}
		b.returns = append(b.returns, returnRate)

		if t.StopLoss.Valid && t.TakeProfit.Valid {
			risk := math.Abs(t.EntryPrice - t.StopLoss.Float64)
			reward := math.Abs(t.TakeProfit.Float64 - t.EntryPrice)
			if risk > 0 {
				b.riskRewards = append(b.riskRewards, reward/risk)
			}
		}
	}

	result := make(map[string]OpportunityStats)
	for oppType, b := range buckets {
		total := len(b.successful) + len(b.failed)
		if total < 5 {
			continue
		}

		successRate := float64(len(b.successful)) / float64(total)
		avgReturn := mean(b.returns)
		avgRiskReward := mean(b.riskRewards)

		result[oppType] = OpportunityStats{
			SuccessRate:        successRate,
			TotalOpportunities: total,
			AvgReturn:          avgReturn,
			AvgRiskReward:      avgRiskReward,
			SuccessfulExamples: len(b.successful),
			FailedExamples:     len(b.failed),
		}

		if total >= 10 && successRate >= 0.5 {
			positionSize := math.Min(1.0, successRate*avgRiskReward/2)
			if err := pl.store.UpsertOpportunityPattern(ctx, oppType,
				extractTriggerConditions(b.successful), successRate, avgReturn,
				avgRiskReward, positionSize, "24h", total); err != nil {
				pl.logger.WithError(err).Error("Failed to save opportunity pattern", "type", oppType)
			} else {
				pl.logger.Info("Saved opportunity pattern",
					"type", oppType,
					"success_rate", successRate,
					"avg_return", avgReturn)
			}
		}
	}

	return result, nil
}

// identifyOpportunityType buckets a trade by substrings in its entry reason
// and market state
func identifyOpportunityType(t *database.Trade) string {
	reason := strings.ToLower(t.EntryReason.String)
	marketState := strings.ToLower(t.EntryMarketState.String)

	switch {
	case strings.Contains(reason, "breakout"):
		return "breakout"
	case strings.Contains(reason, "reversal"):
		return "reversal"
	case strings.Contains(reason, "momentum"):
		return "momentum"
	case strings.Contains(reason, "dip"):
		return "dip_buy"
	case strings.Contains(marketState, "trend"):
		return "trend_following"
	default:
		return "general"
	}
}

// extractTriggerConditions summarizes indicator distributions over the
// winning trades of an opportunity type
func extractTriggerConditions(successful []*database.Trade) map[string]interface{} {
	values := make(map[string][]float64)
	for _, t := range successful {
		for name, v := range t.Indicators() {
			values[name] = append(values[name], v)
		}
	}

	conditions := make(map[string]interface{}, len(values))
	for name, vs := range values {
		if len(vs) == 0 {
			continue
		}
		minV, maxV := vs[0], vs[0]
		for _, v := range vs {
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
		conditions[name] = map[string]float64{
			"mean": mean(vs),
			"std":  stddev(vs),
			"min":  minV,
			"max":  maxV,
		}
	}
	return conditions
}

// IdentifyCommonMistakes scans losing trades for recurring bad behavior
func (pl *PatternLearner) IdentifyCommonMistakes(ctx context.Context, days int) ([]Mistake, error) {
	trades, err := pl.trades.GetRecentTrades(ctx, days, database.TradeStatusClosed)
	if err != nil {
		return nil, fmt.Errorf("get closed trades: %w", err)
	}

	var losing []*database.Trade
	for i := range trades {
		if trades[i].PnL() < 0 {
			losing = append(losing, &trades[i])
		}
	}
	if len(losing) == 0 {
		return nil, nil
	}

	var mistakes []Mistake

	// Stopped out on more than half of all losers
	var earlyStops []*database.Trade
	for _, t := range losing {
		if t.ExitReason.String == "stop_loss" {
			earlyStops = append(earlyStops, t)
		}
	}
	if float64(len(earlyStops)) > float64(len(losing))*0.5 {
		mistakes = append(mistakes, Mistake{
			Type:       "early_stop_loss",
			Frequency:  float64(len(earlyStops)) / float64(len(losing)),
			AvgLoss:    meanPnL(earlyStops),
			Suggestion: "Consider wider stop loss or better entry timing",
		})
	}

	// Entered overbought on more than 30% of losers
	var highEntries []*database.Trade
	for _, t := range losing {
		if t.Indicators()["rsi"] > 70 {
			highEntries = append(highEntries, t)
		}
	}
	if float64(len(highEntries)) > float64(len(losing))*0.3 {
		mistakes = append(mistakes, Mistake{
			Type:       "chasing_highs",
			Frequency:  float64(len(highEntries)) / float64(len(losing)),
			AvgLoss:    meanPnL(highEntries),
			Suggestion: "Avoid entering when RSI > 70",
		})
	}

	for _, m := range mistakes {
		riskLevel := "medium"
		if m.Frequency > 0.5 {
			riskLevel = "high"
		}
		pl.saveFailure(ctx, "common_mistake", m.Type,
			map[string]interface{}{"mistake_type": m.Type}, m.Frequency, len(losing), riskLevel)
	}

	return mistakes, nil
}

// MineAssociationRules runs Apriori over trade attributes and keeps rules
// predicting profitability
func (pl *PatternLearner) MineAssociationRules(ctx context.Context, days int) ([]AssociationRule, error) {
	trades, err := pl.trades.GetRecentTrades(ctx, days, database.TradeStatusClosed)
	if err != nil {
		return nil, fmt.Errorf("get closed trades: %w", err)
	}
	if len(trades) < 20 {
		pl.logger.Warn("Not enough trades for association rule mining", "count", len(trades))
		return nil, nil
	}

	transactions := make([][]string, 0, len(trades))
	for i := range trades {
		t := &trades[i]
		var tx []string

		if t.PnL() > 0 {
			tx = append(tx, "profitable")
		} else {
			tx = append(tx, "loss")
		}
		if state := t.EntryMarketState.String; state != "" {
			tx = append(tx, "market_"+state)
		}
		if reason := t.EntryReason.String; reason != "" {
			tx = append(tx, "reason_"+reason)
		}
		if !t.EntryTime.IsZero() {
			tx = append(tx, fmt.Sprintf("hour_%d", t.EntryTime.Hour()/6))
		}

		transactions = append(transactions, tx)
	}

	rules := mineAssociationRules(transactions, pl.cfg.MinSupport, pl.cfg.MinConfidence)

	var valuable []AssociationRule
	for _, rule := range rules {
		for _, item := range rule.Result {
			if item == "profitable" {
				valuable = append(valuable, rule)
				break
			}
		}
	}
	return valuable, nil
}

func (pl *PatternLearner) saveSuccess(ctx context.Context, patternType, name string,
	conditions map[string]interface{}, successRate float64, sampleSize int) {

	if err := pl.store.UpsertSuccessPattern(ctx, patternType, name, conditions,
		successRate, sampleSize, 0.95); err != nil {
		pl.logger.WithError(err).Error("Failed to save success pattern", "pattern", name)
		return
	}
	logging.PatternContext(patternType, name).Info("Saved success pattern", "success_rate", successRate)
}

func (pl *PatternLearner) saveFailure(ctx context.Context, patternType, name string,
	conditions map[string]interface{}, failureRate float64, sampleSize int, riskLevel string) {

	if err := pl.store.UpsertFailurePattern(ctx, patternType, name, conditions,
		failureRate, sampleSize, riskLevel); err != nil {
		pl.logger.WithError(err).Error("Failed to save failure pattern", "pattern", name)
		return
	}
	logging.PatternContext(patternType, name).Info("Saved failure pattern", "failure_rate", failureRate)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		d := v - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

func meanPnL(trades []*database.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range trades {
		sum += t.PnL()
	}
	return sum / float64(len(trades))
}
