// Package learning coordinates the periodic learning cycle over the
// pattern learner, strategy optimizer and weight table.
package learning

import (
	"context"
	"sync"
	"time"

	"crypto-learning-engine/config"
	"crypto-learning-engine/internal/cache"
	"crypto-learning-engine/internal/learning/optimizer"
	"crypto-learning-engine/internal/learning/patterns"
	"crypto-learning-engine/internal/logging"
	"crypto-learning-engine/internal/weights"
)

// CycleResult summarizes one learning cycle for monitoring
type CycleResult struct {
	StartedAt        time.Time          `json:"started_at"`
	Duration         time.Duration      `json:"duration"`
	EntryGroups      int                `json:"entry_groups"`
	IndicatorCombos  int                `json:"indicator_combos"`
	MarketStates     int                `json:"market_states"`
	TimeBuckets      int                `json:"time_buckets"`
	Opportunities    int                `json:"opportunities"`
	Mistakes         int                `json:"mistakes"`
	AssociationRules int                `json:"association_rules"`
	StrategyWeights  map[string]float64 `json:"strategy_weights,omitempty"`
	Errors           []string           `json:"errors,omitempty"`
}

// Runner drives the learning cycle on a fixed interval. Analyses inside
// one cycle run sequentially; a failed analysis is recorded and the
// cycle continues.
type Runner struct {
	learner   *patterns.PatternLearner
	optimizer *optimizer.StrategyOptimizer
	weights   *weights.StrategyWeights
	cache     *cache.CacheService
	cfg       config.LearningConfig
	logger    *logging.Logger

	mu         sync.RWMutex
	strategies []string
	lastResult *CycleResult
}

// NewRunner wires the learning cycle. The cache may be nil when Redis is
// disabled.
func NewRunner(learner *patterns.PatternLearner, opt *optimizer.StrategyOptimizer,
	sw *weights.StrategyWeights, cacheService *cache.CacheService,
	cfg config.LearningConfig) *Runner {

	return &Runner{
		learner:   learner,
		optimizer: opt,
		weights:   sw,
		cache:     cacheService,
		cfg:       cfg,
		logger:    logging.Default().WithComponent("learning_runner"),
	}
}

// SetStrategies fixes the strategy set the optimizer rebalances each
// cycle
func (r *Runner) SetStrategies(strategies []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append([]string(nil), strategies...)
}

// LastResult returns the most recent cycle summary, or nil before the
// first cycle
func (r *Runner) LastResult() *CycleResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastResult
}

// Run loops the learning cycle until the context is cancelled. One cycle
// runs immediately on start.
func (r *Runner) Run(ctx context.Context) {
	if !r.cfg.Enabled {
		r.logger.Info("Learning cycle disabled")
		return
	}

	interval := time.Duration(r.cfg.CycleInterval) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	r.logger.Info("Learning cycle started", "interval", interval.String())

	r.RunCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Learning cycle stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full learning pass
func (r *Runner) RunCycle(ctx context.Context) *CycleResult {
	started := time.Now()
	days := r.cfg.LookbackDays
	result := &CycleResult{StartedAt: started}

	// Callers can scope cycle logs by attaching a logger to the context
	logger := logging.FromContext(ctx).WithComponent("learning_runner")

	recordErr := func(stage string, err error) {
		logger.WithError(err).Error("Learning stage failed", "stage", stage)
		result.Errors = append(result.Errors, stage+": "+err.Error())
	}

	if groups, err := r.learner.AnalyzeEntryConditions(ctx, days); err != nil {
		recordErr("entry_conditions", err)
	} else {
		result.EntryGroups = len(groups)
	}

	if combos, err := r.learner.AnalyzeIndicatorCombinations(ctx, days); err != nil {
		recordErr("indicator_combinations", err)
	} else {
		result.IndicatorCombos = len(combos)
	}

	if states, err := r.learner.AnalyzeMarketStates(ctx, days); err != nil {
		recordErr("market_states", err)
	} else {
		result.MarketStates = len(states)
	}

	if buckets, err := r.learner.AnalyzeTimePatterns(ctx, days); err != nil {
		recordErr("time_patterns", err)
	} else {
		result.TimeBuckets = len(buckets)
	}

	if opportunities, err := r.learner.AnalyzeOpportunityPatterns(ctx, days); err != nil {
		recordErr("opportunity_patterns", err)
	} else {
		result.Opportunities = len(opportunities)
	}

	if mistakes, err := r.learner.IdentifyCommonMistakes(ctx, days); err != nil {
		recordErr("common_mistakes", err)
	} else {
		result.Mistakes = len(mistakes)
	}

	if rules, err := r.learner.MineAssociationRules(ctx, days); err != nil {
		recordErr("association_rules", err)
	} else {
		result.AssociationRules = len(rules)
	}

	r.mu.RLock()
	strategies := append([]string(nil), r.strategies...)
	r.mu.RUnlock()

	if len(strategies) > 0 {
		weightsByStrategy, err := r.optimizer.AdjustWeightsPerformance(ctx, strategies, days)
		if err != nil {
			recordErr("strategy_weights", err)
		} else {
			result.StrategyWeights = weightsByStrategy
			for strategyID, weight := range weightsByStrategy {
				if _, err := r.optimizer.ApplyTimeDecay(ctx, strategyID, weight); err != nil {
					recordErr("time_decay", err)
				}
			}
		}
	}

	r.refreshCache(ctx, result)

	result.Duration = time.Since(started)

	r.mu.Lock()
	r.lastResult = result
	r.mu.Unlock()

	logger.Info("Learning cycle completed",
		"duration", result.Duration.String(),
		"errors", len(result.Errors))

	return result
}

// refreshCache pushes the latest snapshots to Redis. Cache errors are
// logged only; SQLite remains the source of truth.
func (r *Runner) refreshCache(ctx context.Context, result *CycleResult) {
	if r.cache == nil || !r.cache.IsHealthy() {
		return
	}

	snapshot := r.weights.CurrentWeights()
	key := cache.StrategyWeightsKey(string(snapshot.MarketCondition))
	if err := r.cache.SetJSON(ctx, key, snapshot); err != nil {
		r.logger.WithError(err).Warn("Failed to cache weight snapshot")
	}

	if len(result.StrategyWeights) > 0 {
		if err := r.cache.SetJSON(ctx, cache.KeyBestPatterns+":cycle", result); err != nil {
			r.logger.WithError(err).Warn("Failed to cache cycle result")
		}
	}
}
