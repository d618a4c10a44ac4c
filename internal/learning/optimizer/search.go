package optimizer

import (
	"context"
	"math"
	"sort"
)

// ScoringFunc evaluates one parameter combination, higher is better
type ScoringFunc func(params map[string]float64) float64

// OptimizeParametersGrid exhaustively scores the Cartesian product of the
// parameter grid and returns the best combination
func (so *StrategyOptimizer) OptimizeParametersGrid(ctx context.Context, strategyID string,
	paramGrid map[string][]float64, scoring ScoringFunc) (map[string]float64, error) {

	if !so.cfg.GridSearchEnabled {
		so.logger.Info("Grid search is disabled")
		return map[string]float64{}, nil
	}
	if len(paramGrid) == 0 {
		return map[string]float64{}, nil
	}

	so.logger.Info("Starting grid search", "strategy_id", strategyID)

	combinations := generateParamCombinations(paramGrid)

	bestScore := math.Inf(-1)
	var bestParams map[string]float64
	for _, params := range combinations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := scoring(params)
		if score > bestScore {
			bestScore = score
			bestParams = params
		}
	}

	if err := so.store.SaveOptimizationResult(ctx, strategyID,
		toInterfaceMap(bestParams), map[string]float64{"score": bestScore}, "grid_search"); err != nil {
		so.logger.WithError(err).Error("Failed to save grid search result", "strategy_id", strategyID)
	}

	so.logger.Info("Grid search completed",
		"strategy_id", strategyID,
		"best_score", bestScore,
		"combinations", len(combinations))

	return bestParams, nil
}

// generateParamCombinations enumerates the Cartesian product of the grid,
// iterating parameter names in sorted order for stable output
func generateParamCombinations(paramGrid map[string][]float64) []map[string]float64 {
	names := make([]string, 0, len(paramGrid))
	for name := range paramGrid {
		names = append(names, name)
	}
	sort.Strings(names)

	combinations := []map[string]float64{{}}
	for _, name := range names {
		values := paramGrid[name]
		var next []map[string]float64
		for _, combo := range combinations {
			for _, v := range values {
				extended := make(map[string]float64, len(combo)+1)
				for k, cv := range combo {
					extended[k] = cv
				}
				extended[name] = v
				next = append(next, extended)
			}
		}
		combinations = next
	}
	return combinations
}

func toInterfaceMap(params map[string]float64) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
