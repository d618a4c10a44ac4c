package weights

import (
	"math"
	"sort"
	"sync"
	"time"

	"crypto-learning-engine/config"
	"crypto-learning-engine/internal/logging"
	"crypto-learning-engine/internal/market"
)

// StrategyType identifies a trading strategy family
type StrategyType string

const (
	TrendFollowing StrategyType = "trend_following"
	MeanReversion  StrategyType = "mean_reversion"
	Breakout       StrategyType = "breakout"
	Momentum       StrategyType = "momentum"
	Arbitrage      StrategyType = "arbitrage"
	Scalping       StrategyType = "scalping"
	Swing          StrategyType = "swing"
	Contrarian     StrategyType = "contrarian"
)

// MarketCondition is the classified market regime
type MarketCondition string

const (
	StrongBull   MarketCondition = "strong_bull"
	Bull         MarketCondition = "bull"
	SidewaysUp   MarketCondition = "sideways_up"
	Sideways     MarketCondition = "sideways"
	SidewaysDown MarketCondition = "sideways_down"
	Bear         MarketCondition = "bear"
	StrongBear   MarketCondition = "strong_bear"
	Volatile     MarketCondition = "volatile"
	Crash        MarketCondition = "crash"
)

// traderResult is one observed signal outcome for a trader
type traderResult struct {
	Timestamp time.Time
	Success   bool
	PnL       float64
}

// TraderProfile tracks an external signal provider's track record
type TraderProfile struct {
	Name           string          `json:"name"`
	Platform       string          `json:"platform"`
	OverallWinRate float64         `json:"overall_winrate"`
	RecentWinRate  float64         `json:"recent_winrate"`
	AvgPnL         float64         `json:"avg_pnl"`
	TotalTrades    int             `json:"total_trades"`
	Specialties    []string        `json:"specialties"`
	BestMarket     MarketCondition `json:"best_market"`
	CurrentWeight  float64         `json:"current_weight"`

	history []traderResult
}

// WeightChange is one entry in the weight adjustment history
type WeightChange struct {
	Timestamp time.Time               `json:"timestamp"`
	Reason    string                  `json:"reason"`
	Market    MarketCondition         `json:"market"`
	Weights   map[StrategyType]float64 `json:"weights"`
}

// Snapshot is a read-only view of the full weight state
type Snapshot struct {
	MarketCondition MarketCondition          `json:"market_condition"`
	Strategies      map[StrategyType]float64 `json:"strategies"`
	Traders         map[string]float64       `json:"traders"`
	Signals         map[string]float64       `json:"signals"`
}

// Recommendation names the preferred strategies for the current regime
type Recommendation struct {
	MarketCondition   MarketCondition `json:"market_condition"`
	PrimaryStrategy   StrategyType    `json:"primary_strategy"`
	SecondaryStrategy StrategyType    `json:"secondary_strategy"`
	AvoidStrategies   []StrategyType  `json:"avoid_strategies"`
	TopTraders        []string        `json:"top_traders"`
}

const (
	maxWeightHistory = 100
	maxTraderHistory = 100
	recentWindow     = 30
)

// StrategyWeights manages the adaptive weight tables that blend strategies,
// trader signals and signal sources into trading decisions. Safe for
// concurrent use.
type StrategyWeights struct {
	mu sync.RWMutex

	strategyWeights map[MarketCondition]map[StrategyType]float64
	traders         map[string]*TraderProfile
	signalWeights   map[string]float64
	currentMarket   MarketCondition
	weightHistory   []WeightChange

	adaptationRate float64
	minWeight      float64
	maxWeight      float64

	logger *logging.Logger
}

// NewStrategyWeights builds the weight system with hand-tuned priors for
// each market regime
func NewStrategyWeights(cfg config.WeightsConfig) *StrategyWeights {
	sw := &StrategyWeights{
		strategyWeights: initialStrategyWeights(),
		traders:         initialTraderProfiles(),
		signalWeights: map[string]float64{
			"technical":   0.3,
			"fundamental": 0.2,
			"sentiment":   0.15,
			"onchain":     0.15,
			"trader":      0.2,
		},
		currentMarket:  Sideways,
		adaptationRate: cfg.AdaptationRate,
		minWeight:      cfg.MinWeight,
		maxWeight:      cfg.MaxWeight,
		logger:         logging.Default().WithComponent("strategy_weights"),
	}
	if sw.adaptationRate == 0 {
		sw.adaptationRate = 0.1
	}
	if sw.minWeight == 0 {
		sw.minWeight = 0.05
	}
	if sw.maxWeight == 0 {
		sw.maxWeight = 0.5
	}
	return sw
}

func initialStrategyWeights() map[MarketCondition]map[StrategyType]float64 {
	return map[MarketCondition]map[StrategyType]float64{
		StrongBull: {
			TrendFollowing: 0.35, Momentum: 0.30, Breakout: 0.20,
			MeanReversion: 0.05, Swing: 0.05, Contrarian: 0.05,
		},
		Bull: {
			TrendFollowing: 0.30, Momentum: 0.25, Breakout: 0.20,
			Swing: 0.10, MeanReversion: 0.10, Contrarian: 0.05,
		},
		SidewaysUp: {
			Swing: 0.25, MeanReversion: 0.25, Breakout: 0.20,
			Momentum: 0.15, TrendFollowing: 0.10, Contrarian: 0.05,
		},
		Sideways: {
			MeanReversion: 0.35, Swing: 0.25, Scalping: 0.15,
			Arbitrage: 0.10, Breakout: 0.10, TrendFollowing: 0.05,
		},
		SidewaysDown: {
			MeanReversion: 0.30, Contrarian: 0.20, Swing: 0.20,
			Scalping: 0.15, Arbitrage: 0.10, TrendFollowing: 0.05,
		},
		Bear: {
			Contrarian: 0.25, MeanReversion: 0.25, TrendFollowing: 0.20,
			Scalping: 0.15, Swing: 0.10, Momentum: 0.05,
		},
		StrongBear: {
			TrendFollowing: 0.30, Contrarian: 0.25, MeanReversion: 0.20,
			Scalping: 0.15, Arbitrage: 0.05, Momentum: 0.05,
		},
		Volatile: {
			Scalping: 0.25, Breakout: 0.20, Momentum: 0.20,
			MeanReversion: 0.15, Arbitrage: 0.10, Contrarian: 0.10,
		},
		Crash: {
			Contrarian: 0.40, MeanReversion: 0.30, Scalping: 0.20,
			Arbitrage: 0.10, TrendFollowing: 0.0, Momentum: 0.0,
		},
	}
}

func initialTraderProfiles() map[string]*TraderProfile {
	return map[string]*TraderProfile{
		"alpha_hunter": {
			Name: "alpha_hunter", Platform: "Binance",
			OverallWinRate: 0.68, RecentWinRate: 0.72, AvgPnL: 15.5,
			TotalTrades: 1250, Specialties: []string{"BTC", "ETH", "SOL"},
			BestMarket: Bull, CurrentWeight: 0.30,
		},
		"night_owl": {
			Name: "night_owl", Platform: "Binance",
			OverallWinRate: 0.65, RecentWinRate: 0.68, AvgPnL: 12.3,
			TotalTrades: 980, Specialties: []string{"BTC", "BNB", "ARB"},
			BestMarket: Sideways, CurrentWeight: 0.25,
		},
		"vol_rider": {
			Name: "vol_rider", Platform: "OKX",
			OverallWinRate: 0.70, RecentWinRate: 0.75, AvgPnL: 18.2,
			TotalTrades: 850, Specialties: []string{"ETH", "MATIC", "LINK"},
			BestMarket: Volatile, CurrentWeight: 0.25,
		},
		"moonshot": {
			Name: "moonshot", Platform: "Bybit",
			OverallWinRate: 0.58, RecentWinRate: 0.62, AvgPnL: 25.5,
			TotalTrades: 450, Specialties: []string{"DOGE", "SHIB", "PEPE"},
			BestMarket: StrongBull, CurrentWeight: 0.10,
		},
		"steady_hand": {
			Name: "steady_hand", Platform: "Binance",
			OverallWinRate: 0.75, RecentWinRate: 0.73, AvgPnL: 8.5,
			TotalTrades: 2100, Specialties: []string{"BTC", "ETH"},
			BestMarket: Bear, CurrentWeight: 0.10,
		},
	}
}

// UpdateMarketCondition classifies the regime from market indicators and
// switches the active weight table. First matching rule wins.
func (sw *StrategyWeights) UpdateMarketCondition(ind market.Indicators) MarketCondition {
	trend := ind.TrendStrength
	fearGreed := ind.FearGreed

	var newMarket MarketCondition
	switch {
	case ind.Volatility == "extreme":
		if fearGreed < 20 {
			newMarket = Crash
		} else {
			newMarket = Volatile
		}
	case trend > 0.7:
		if fearGreed > 80 {
			newMarket = StrongBull
		} else {
			newMarket = Bull
		}
	case trend < -0.7:
		if fearGreed < 20 {
			newMarket = StrongBear
		} else {
			newMarket = Bear
		}
	case trend >= -0.3 && trend <= 0.3:
		if trend > 0 {
			newMarket = SidewaysUp
		} else if trend < 0 {
			newMarket = SidewaysDown
		} else {
			newMarket = Sideways
		}
	default:
		newMarket = Sideways
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if newMarket != sw.currentMarket {
		sw.logger.Info("Market condition changed",
			"from", string(sw.currentMarket),
			"to", string(newMarket))
		sw.currentMarket = newMarket
		sw.recordWeightChange("market_change")
	}

	return newMarket
}

// CurrentMarket returns the active market condition
func (sw *StrategyWeights) CurrentMarket() MarketCondition {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.currentMarket
}

// GetStrategyWeight returns the weight of a strategy under the current
// regime, 0.1 when the strategy has no entry
func (sw *StrategyWeights) GetStrategyWeight(strategy StrategyType) float64 {
	sw.mu.RLock()
	defer sw.mu.RUnlock()

	weights, ok := sw.strategyWeights[sw.currentMarket]
	if !ok {
		return 0.1
	}
	w, ok := weights[strategy]
	if !ok {
		return 0.1
	}
	return w
}

// GetTraderWeight returns a trader's weight adjusted for market fit and
// recent form. Unknown traders get a 0.05 floor.
func (sw *StrategyWeights) GetTraderWeight(name string) float64 {
	sw.mu.RLock()
	defer sw.mu.RUnlock()

	profile, ok := sw.traders[name]
	if !ok {
		return 0.05
	}

	marketBonus := 1.0
	if profile.BestMarket == sw.currentMarket {
		marketBonus = 1.2
	}

	performanceBonus := 1.0
	if profile.RecentWinRate > profile.OverallWinRate {
		performanceBonus = 1.1
	} else if profile.RecentWinRate < profile.OverallWinRate*0.8 {
		performanceBonus = 0.9
	}

	adjusted := profile.CurrentWeight * marketBonus * performanceBonus
	return math.Max(sw.minWeight, math.Min(sw.maxWeight, adjusted))
}

// UpdateStrategyPerformance records observed performance and adapts the
// strategy's weight in the current regime
func (sw *StrategyWeights) UpdateStrategyPerformance(strategy StrategyType, winRate, avgReturn float64, trades int) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.adaptWeights(strategy, winRate, avgReturn)
}

// UpdateTraderPerformance records a trade outcome for a trader and adapts
// their weight
func (sw *StrategyWeights) UpdateTraderPerformance(name string, success bool, pnl float64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	profile, ok := sw.traders[name]
	if !ok {
		return
	}

	profile.history = append(profile.history, traderResult{
		Timestamp: time.Now(),
		Success:   success,
		PnL:       pnl,
	})
	if len(profile.history) > maxTraderHistory {
		profile.history = profile.history[len(profile.history)-maxTraderHistory:]
	}

	recent := profile.history
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	wins := 0
	for _, r := range recent {
		if r.Success {
			wins++
		}
	}
	if len(recent) > 0 {
		profile.RecentWinRate = float64(wins) / float64(len(recent))
	}

	sw.adaptTraderWeight(profile)
}

// adaptWeights nudges a strategy weight by performance score and
// renormalizes the regime's table. Caller holds the lock.
func (sw *StrategyWeights) adaptWeights(strategy StrategyType, winRate, avgReturn float64) {
	weights := sw.strategyWeights[sw.currentMarket]
	current, ok := weights[strategy]
	if !ok {
		current = 0.1
	}

	score := winRate*0.6 + math.Min(avgReturn/20, 1.0)*0.4

	newWeight := current
	if score > 0.6 {
		newWeight = current * (1 + sw.adaptationRate*(score-0.6))
	} else if score < 0.4 {
		newWeight = current * (1 - sw.adaptationRate*(0.4-score))
	}

	newWeight = math.Max(sw.minWeight, math.Min(sw.maxWeight, newWeight))
	weights[strategy] = newWeight
	normalize(weights)

	sw.logger.Debug("Adjusted strategy weight",
		"strategy", string(strategy),
		"old", current,
		"new", newWeight)
}

// adaptTraderWeight recomputes a trader's weight from recent form, clamped
// to [0.05, 0.4], and renormalizes all profiles. Caller holds the lock.
func (sw *StrategyWeights) adaptTraderWeight(profile *TraderProfile) {
	score := profile.RecentWinRate*0.5 +
		math.Min(profile.AvgPnL/30, 1.0)*0.3 +
		math.Min(float64(profile.TotalTrades)/1000, 1.0)*0.2

	if score > 0.6 {
		profile.CurrentWeight *= 1 + sw.adaptationRate*(score-0.6)
	} else if score < 0.4 {
		profile.CurrentWeight *= 1 - sw.adaptationRate*(0.4-score)
	}

	profile.CurrentWeight = math.Max(0.05, math.Min(0.4, profile.CurrentWeight))

	total := 0.0
	for _, p := range sw.traders {
		total += p.CurrentWeight
	}
	if total > 0 {
		for _, p := range sw.traders {
			p.CurrentWeight /= total
		}
	}
}

func normalize(weights map[StrategyType]float64) {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total > 0 {
		for k := range weights {
			weights[k] /= total
		}
	}
}

// recordWeightChange appends a snapshot of the active table to the history.
// Caller holds the lock.
func (sw *StrategyWeights) recordWeightChange(reason string) {
	snapshot := make(map[StrategyType]float64, len(sw.strategyWeights[sw.currentMarket]))
	for k, v := range sw.strategyWeights[sw.currentMarket] {
		snapshot[k] = v
	}
	sw.weightHistory = append(sw.weightHistory, WeightChange{
		Timestamp: time.Now(),
		Reason:    reason,
		Market:    sw.currentMarket,
		Weights:   snapshot,
	})
	if len(sw.weightHistory) > maxWeightHistory {
		sw.weightHistory = sw.weightHistory[len(sw.weightHistory)-maxWeightHistory:]
	}
}

// WeightHistory returns a copy of the recorded weight changes
func (sw *StrategyWeights) WeightHistory() []WeightChange {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	out := make([]WeightChange, len(sw.weightHistory))
	copy(out, sw.weightHistory)
	return out
}

// CurrentWeights returns a snapshot of all active weights
func (sw *StrategyWeights) CurrentWeights() Snapshot {
	sw.mu.RLock()
	defer sw.mu.RUnlock()

	strategies := make(map[StrategyType]float64)
	for k, v := range sw.strategyWeights[sw.currentMarket] {
		strategies[k] = v
	}
	traders := make(map[string]float64, len(sw.traders))
	for name, p := range sw.traders {
		traders[name] = p.CurrentWeight
	}
	signals := make(map[string]float64, len(sw.signalWeights))
	for k, v := range sw.signalWeights {
		signals[k] = v
	}

	return Snapshot{
		MarketCondition: sw.currentMarket,
		Strategies:      strategies,
		Traders:         traders,
		Signals:         signals,
	}
}

// CalculateCompositeScore blends signal source scores into a single [0,1]
// figure. Missing signals default to a neutral 0.5.
func (sw *StrategyWeights) CalculateCompositeScore(signals map[string]float64) float64 {
	sw.mu.RLock()
	defer sw.mu.RUnlock()

	composite := 0.0
	for signalType, weight := range sw.signalWeights {
		score, ok := signals[signalType+"_score"]
		if !ok {
			score = 0.5
		}
		composite += score * weight
	}
	return math.Min(1.0, math.Max(0.0, composite))
}

// RecommendPositionSize sizes a position from confidence (0-10), risk level
// and the current market regime, capped at 30% of balance
func (sw *StrategyWeights) RecommendPositionSize(confidence float64, riskLevel string, accountBalance float64) float64 {
	sw.mu.RLock()
	market := sw.currentMarket
	sw.mu.RUnlock()

	baseRatio := 0.1
	confidenceMultiplier := confidence / 10

	riskMultipliers := map[string]float64{
		"low":     0.5,
		"medium":  1.0,
		"high":    1.5,
		"extreme": 0.3,
	}
	riskMultiplier, ok := riskMultipliers[riskLevel]
	if !ok {
		riskMultiplier = 1.0
	}

	marketMultipliers := map[MarketCondition]float64{
		StrongBull: 1.2,
		Bull:       1.1,
		Sideways:   0.8,
		Bear:       0.6,
		StrongBear: 0.4,
		Crash:      0.2,
		Volatile:   0.7,
	}
	marketMultiplier, ok := marketMultipliers[market]
	if !ok {
		marketMultiplier = 1.0
	}

	ratio := baseRatio * confidenceMultiplier * riskMultiplier * marketMultiplier
	if ratio > 0.3 {
		ratio = 0.3
	}

	return accountBalance * ratio
}

// GetStrategyRecommendation ranks strategies for the current regime
func (sw *StrategyWeights) GetStrategyRecommendation() Recommendation {
	sw.mu.RLock()
	defer sw.mu.RUnlock()

	weights := sw.strategyWeights[sw.currentMarket]
	type entry struct {
		strategy StrategyType
		weight   float64
	}
	sorted := make([]entry, 0, len(weights))
	for s, w := range weights {
		sorted = append(sorted, entry{s, w})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].weight != sorted[j].weight {
			return sorted[i].weight > sorted[j].weight
		}
		return sorted[i].strategy < sorted[j].strategy
	})

	rec := Recommendation{MarketCondition: sw.currentMarket}
	if len(sorted) > 0 {
		rec.PrimaryStrategy = sorted[0].strategy
	}
	if len(sorted) > 1 {
		rec.SecondaryStrategy = sorted[1].strategy
	}
	for _, e := range sorted {
		if e.weight < 0.1 {
			rec.AvoidStrategies = append(rec.AvoidStrategies, e.strategy)
		}
	}

	type traderEntry struct {
		name   string
		weight float64
	}
	traders := make([]traderEntry, 0, len(sw.traders))
	for name, p := range sw.traders {
		traders = append(traders, traderEntry{name, p.CurrentWeight})
	}
	sort.Slice(traders, func(i, j int) bool {
		if traders[i].weight != traders[j].weight {
			return traders[i].weight > traders[j].weight
		}
		return traders[i].name < traders[j].name
	})
	for i := 0; i < len(traders) && i < 3; i++ {
		rec.TopTraders = append(rec.TopTraders, traders[i].name)
	}

	return rec
}
