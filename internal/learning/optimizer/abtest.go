package optimizer

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"crypto-learning-engine/internal/database"
)

// ABTestOutcome is the result of comparing two strategies
type ABTestOutcome struct {
	TestName        string     `json:"test_name"`
	ControlStrategy string     `json:"control_strategy"`
	TestStrategy    string     `json:"test_strategy"`
	ControlMetrics  ArmMetrics `json:"control_metrics"`
	TestMetrics     ArmMetrics `json:"test_metrics"`
	ControlSamples  int        `json:"control_samples"`
	TestSamples     int        `json:"test_samples"`
	TStatistic      float64    `json:"t_statistic"`
	PValue          float64    `json:"p_value"`
	IsSignificant   bool       `json:"is_significant"`
	Winner          string     `json:"winner"`
	Message         string     `json:"message,omitempty"`
}

// RunABTest compares two strategies' returns with an independent two-sample
// t-test. Both arms need the configured minimum sample size.
func (so *StrategyOptimizer) RunABTest(ctx context.Context, testName, controlStrategy, testStrategy string, days int) (*ABTestOutcome, error) {
	so.logger.Info("Starting A/B test", "test_name", testName)

	controlReturns, err := so.strategyReturns(ctx, controlStrategy, days)
	if err != nil {
		return nil, err
	}
	testReturns, err := so.strategyReturns(ctx, testStrategy, days)
	if err != nil {
		return nil, err
	}

	outcome := &ABTestOutcome{
		TestName:        testName,
		ControlStrategy: controlStrategy,
		TestStrategy:    testStrategy,
		ControlSamples:  len(controlReturns),
		TestSamples:     len(testReturns),
	}

	minSamples := so.cfg.ABMinSampleSize
	if len(controlReturns) < minSamples || len(testReturns) < minSamples {
		so.logger.Warn("Insufficient sample size for A/B test",
			"test_name", testName,
			"control", len(controlReturns),
			"test", len(testReturns))
		outcome.Message = "insufficient sample size"
		return outcome, nil
	}

	outcome.ControlMetrics = computeArmMetrics(controlReturns)
	outcome.TestMetrics = computeArmMetrics(testReturns)

	outcome.TStatistic, outcome.PValue = twoSampleTTest(testReturns, controlReturns)
	outcome.IsSignificant = outcome.PValue < (1 - so.cfg.ABConfidenceLevel)

	if outcome.IsSignificant {
		if outcome.TestMetrics.AvgReturn > outcome.ControlMetrics.AvgReturn {
			outcome.Winner = testStrategy
		} else {
			outcome.Winner = controlStrategy
		}
	}

	so.saveABResult(ctx, outcome)

	so.logger.Info("A/B test completed",
		"test_name", testName,
		"winner", outcome.Winner,
		"p_value", outcome.PValue)

	return outcome, nil
}

// twoSampleTTest is an independent t-test with pooled variance, two-sided
func twoSampleTTest(a, b []float64) (tStat, pValue float64) {
	na, nb := float64(len(a)), float64(len(b))
	if na < 2 || nb < 2 {
		return 0, 1
	}

	meanA := stat.Mean(a, nil)
	meanB := stat.Mean(b, nil)
	varA := stat.Variance(a, nil)
	varB := stat.Variance(b, nil)

	df := na + nb - 2
	pooledVar := ((na-1)*varA + (nb-1)*varB) / df
	se := math.Sqrt(pooledVar * (1/na + 1/nb))
	if se == 0 {
		return 0, 1
	}

	tStat = (meanA - meanB) / se
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	pValue = 2 * tDist.CDF(-math.Abs(tStat))

	return tStat, pValue
}

func (so *StrategyOptimizer) saveABResult(ctx context.Context, outcome *ABTestOutcome) {
	controlJSON, _ := json.Marshal(outcome.ControlMetrics)
	testJSON, _ := json.Marshal(outcome.TestMetrics)

	row := &database.ABTestResult{
		TestName:           outcome.TestName,
		ControlStrategy:    outcome.ControlStrategy,
		TestStrategy:       outcome.TestStrategy,
		ControlPerformance: sql.NullString{String: string(controlJSON), Valid: true},
		TestPerformance:    sql.NullString{String: string(testJSON), Valid: true},
		SampleSize:         sql.NullInt64{Int64: int64(outcome.TestSamples), Valid: true},
		PValue:             sql.NullFloat64{Float64: outcome.PValue, Valid: true},
		IsSignificant:      sql.NullBool{Bool: outcome.IsSignificant, Valid: true},
		Winner:             sql.NullString{String: outcome.Winner, Valid: outcome.Winner != ""},
	}
	if err := so.store.SaveABTestResult(ctx, row); err != nil {
		so.logger.WithError(err).Error("Failed to save A/B test result", "test_name", outcome.TestName)
	}
}
