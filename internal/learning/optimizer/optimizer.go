package optimizer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"crypto-learning-engine/config"
	"crypto-learning-engine/internal/database"
	"crypto-learning-engine/internal/logging"
)

// tradeSource supplies closed trades for strategy evaluation
type tradeSource interface {
	GetRecentTrades(ctx context.Context, days int, status string) ([]database.Trade, error)
}

// optimizerStore persists weights, search results and A/B outcomes
type optimizerStore interface {
	SaveStrategyWeight(ctx context.Context, strategyID, strategyType string,
		weight float64, performanceScore *float64, marketCondition string) error
	GetStrategyWeight(ctx context.Context, strategyID string) (*database.StrategyWeightRow, error)
	SaveOptimizationResult(ctx context.Context, strategyID string,
		parameters map[string]interface{}, metrics map[string]float64, method string) error
	SaveABTestResult(ctx context.Context, result *database.ABTestResult) error
}

// StrategyOptimizer evaluates strategy performance, rebalances weights and
// runs parameter searches and A/B tests
type StrategyOptimizer struct {
	trades tradeSource
	store  optimizerStore
	cfg    config.OptimizationConfig
	logger *logging.Logger

	mu            sync.RWMutex
	strategyTypes map[string]string
}

// NewStrategyOptimizer creates an optimizer over the given trade source
// and store
func NewStrategyOptimizer(trades tradeSource, store optimizerStore, cfg config.OptimizationConfig) *StrategyOptimizer {
	return &StrategyOptimizer{
		trades:        trades,
		store:         store,
		cfg:           cfg,
		logger:        logging.Default().WithComponent("strategy_optimizer"),
		strategyTypes: make(map[string]string),
	}
}

// RegisterStrategyType tags a strategy id with its explicit type. Untagged
// strategies fall back to substring inference.
func (so *StrategyOptimizer) RegisterStrategyType(strategyID, strategyType string) {
	so.mu.Lock()
	defer so.mu.Unlock()
	so.strategyTypes[strategyID] = strategyType
}

// StrategyType returns the registered type for a strategy id, inferring
// one from the id when no tag exists
func (so *StrategyOptimizer) StrategyType(strategyID string) string {
	so.mu.RLock()
	tagged, ok := so.strategyTypes[strategyID]
	so.mu.RUnlock()
	if ok {
		return tagged
	}
	return inferStrategyType(strategyID)
}

func inferStrategyType(strategyID string) string {
	id := strings.ToLower(strategyID)
	switch {
	case strings.Contains(id, "trend"):
		return "trend_following"
	case strings.Contains(id, "momentum"):
		return "momentum"
	case strings.Contains(id, "mean"), strings.Contains(id, "reversion"):
		return "mean_reversion"
	case strings.Contains(id, "arb"):
		return "arbitrage"
	default:
		return "general"
	}
}

// EvaluateStrategy computes performance metrics for one strategy over the
// lookback window and records them
func (so *StrategyOptimizer) EvaluateStrategy(ctx context.Context, strategyID string, days int) (Metrics, error) {
	returns, err := so.strategyReturns(ctx, strategyID, days)
	if err != nil {
		return Metrics{}, err
	}
	if len(returns) == 0 {
		logging.StrategyContext(strategyID).Warn("No trades found for strategy")
		return Metrics{}, nil
	}

	m := computeMetrics(returns)

	metricMap := map[string]float64{
		"win_rate":        m.WinRate,
		"profit_factor":   clampInf(m.ProfitFactor),
		"sharpe_ratio":    m.SharpeRatio,
		"max_drawdown":    m.MaxDrawdown,
		"recovery_factor": clampInf(m.RecoveryFactor),
	}
	if err := so.store.SaveOptimizationResult(ctx, strategyID,
		map[string]interface{}{}, metricMap, "evaluation"); err != nil {
		so.logger.WithError(err).Error("Failed to save evaluation metrics", "strategy_id", strategyID)
	}

	return m, nil
}

// JSON cannot carry infinities
func clampInf(v float64) float64 {
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	if math.IsInf(v, -1) {
		return -math.MaxFloat64
	}
	return v
}

func (so *StrategyOptimizer) strategyReturns(ctx context.Context, strategyID string, days int) ([]float64, error) {
	trades, err := so.trades.GetRecentTrades(ctx, days, database.TradeStatusClosed)
	if err != nil {
		return nil, fmt.Errorf("get closed trades: %w", err)
	}
	var returns []float64
	for i := range trades {
		if trades[i].StrategyID.String == strategyID {
			returns = append(returns, trades[i].PnL())
		}
	}
	return returns, nil
}

// AdjustWeightsPerformance rebalances weights across strategies by their
// composite performance score. Falls back to equal weights when every
// score is zero.
func (so *StrategyOptimizer) AdjustWeightsPerformance(ctx context.Context, strategies []string, days int) (map[string]float64, error) {
	if len(strategies) == 0 {
		return map[string]float64{}, nil
	}

	scores := make(map[string]float64, len(strategies))
	for _, strategyID := range strategies {
		m, err := so.EvaluateStrategy(ctx, strategyID, days)
		if err != nil {
			return nil, err
		}
		scores[strategyID] = CompositeScore(m)
	}

	totalScore := 0.0
	for _, s := range scores {
		totalScore += s
	}

	weights := make(map[string]float64, len(strategies))
	if totalScore > 0 {
		for id, s := range scores {
			weights[id] = s / totalScore
		}
	} else {
		equal := 1.0 / float64(len(strategies))
		for _, id := range strategies {
			weights[id] = equal
		}
	}

	for id, w := range weights {
		score := scores[id]
		if err := so.store.SaveStrategyWeight(ctx, id, so.StrategyType(id), w, &score, ""); err != nil {
			so.logger.WithError(err).Error("Failed to save strategy weight", "strategy_id", id)
		}
	}

	return weights, nil
}

// CompositeScore blends the evaluation metrics into one [0,1] figure
func CompositeScore(m Metrics) float64 {
	return m.WinRate*0.3 +
		math.Min(m.ProfitFactor/3, 1)*0.3 +
		math.Min(m.SharpeRatio/2, 1)*0.2 +
		(1-m.MaxDrawdown)*0.2
}

// AdjustWeightsMarketAdaptive assigns weights from a fixed market-condition
// lookup keyed by strategy type, renormalized over the given set
func (so *StrategyOptimizer) AdjustWeightsMarketAdaptive(ctx context.Context, strategies []string, marketCondition string) (map[string]float64, error) {
	if len(strategies) == 0 {
		return map[string]float64{}, nil
	}

	marketWeights := map[string]map[string]float64{
		"trending": {
			"trend_following": 0.4,
			"momentum":        0.3,
			"mean_reversion":  0.1,
			"arbitrage":       0.2,
		},
		"ranging": {
			"trend_following": 0.1,
			"momentum":        0.2,
			"mean_reversion":  0.4,
			"arbitrage":       0.3,
		},
		"volatile": {
			"trend_following": 0.2,
			"momentum":        0.2,
			"mean_reversion":  0.2,
			"arbitrage":       0.4,
		},
	}
	conditionWeights := marketWeights[marketCondition]

	weights := make(map[string]float64, len(strategies))
	for _, strategyID := range strategies {
		strategyType := so.StrategyType(strategyID)
		w, ok := conditionWeights[strategyType]
		if !ok {
			w = 1.0 / float64(len(strategies))
		}
		weights[strategyID] = w
	}

	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total > 0 {
		for id := range weights {
			weights[id] /= total
		}
	}

	for id, w := range weights {
		if err := so.store.SaveStrategyWeight(ctx, id, so.StrategyType(id), w, nil, marketCondition); err != nil {
			so.logger.WithError(err).Error("Failed to save strategy weight", "strategy_id", id)
		}
	}

	return weights, nil
}

// ApplyTimeDecay shrinks a weight by decay_rate per day since its last
// update, floored at the configured minimum
func (so *StrategyOptimizer) ApplyTimeDecay(ctx context.Context, strategyID string, currentWeight float64) (float64, error) {
	row, err := so.store.GetStrategyWeight(ctx, strategyID)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return currentWeight, nil
	}

	lastUpdated, err := time.Parse(time.RFC3339, row.LastUpdated)
	if err != nil {
		return currentWeight, nil
	}
	daysPassed := int(time.Since(lastUpdated).Hours() / 24)
	if daysPassed < 0 {
		daysPassed = 0
	}

	decayRate := so.cfg.DecayRate
	if decayRate == 0 {
		decayRate = 0.95
	}
	minWeight := so.cfg.MinWeight
	if minWeight == 0 {
		minWeight = 0.1
	}

	newWeight := currentWeight * math.Pow(decayRate, float64(daysPassed))
	if newWeight < minWeight {
		newWeight = minWeight
	}

	if err := so.store.SaveStrategyWeight(ctx, strategyID, so.StrategyType(strategyID), newWeight, nil, ""); err != nil {
		so.logger.WithError(err).Error("Failed to save decayed weight", "strategy_id", strategyID)
	}

	return newWeight, nil
}

// GetOptimalWeights returns the latest stored weights for the given
// strategies, normalized to sum 1. Missing strategies get equal shares.
func (so *StrategyOptimizer) GetOptimalWeights(ctx context.Context, strategies []string) (map[string]float64, error) {
	if len(strategies) == 0 {
		return map[string]float64{}, nil
	}

	weights := make(map[string]float64, len(strategies))
	for _, strategyID := range strategies {
		row, err := so.store.GetStrategyWeight(ctx, strategyID)
		if err != nil {
			return nil, err
		}
		if row != nil {
			weights[strategyID] = row.Weight
		} else {
			weights[strategyID] = 1.0 / float64(len(strategies))
		}
	}

	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total > 0 {
		for id := range weights {
			weights[id] /= total
		}
	}

	return weights, nil
}
