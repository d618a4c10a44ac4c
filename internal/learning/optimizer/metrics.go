package optimizer

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics summarizes one strategy's performance over a lookback window
type Metrics struct {
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	RecoveryFactor float64 `json:"recovery_factor"`
}

// ArmMetrics summarizes one A/B test arm
type ArmMetrics struct {
	AvgReturn   float64 `json:"avg_return"`
	StdReturn   float64 `json:"std_return"`
	WinRate     float64 `json:"win_rate"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	TotalPnL    float64 `json:"total_pnl"`
	TradeCount  int     `json:"trade_count"`
}

// computeMetrics derives the evaluation metrics from a P&L series
func computeMetrics(returns []float64) Metrics {
	if len(returns) == 0 {
		return Metrics{}
	}

	wins := 0
	var totalProfit, totalLoss float64
	for _, r := range returns {
		if r > 0 {
			wins++
			totalProfit += r
		} else if r < 0 {
			totalLoss += -r
		}
	}

	m := Metrics{
		WinRate:     float64(wins) / float64(len(returns)),
		MaxDrawdown: maxDrawdown(returns),
	}

	if totalLoss > 0 {
		m.ProfitFactor = totalProfit / totalLoss
	} else {
		m.ProfitFactor = math.Inf(1)
	}

	if len(returns) > 1 {
		m.SharpeRatio = sharpeRatio(returns)
	}

	total := 0.0
	for _, r := range returns {
		total += r
	}
	if m.MaxDrawdown == 0 {
		m.RecoveryFactor = math.Inf(1)
	} else {
		m.RecoveryFactor = total / m.MaxDrawdown
	}

	return m
}

// sharpeRatio annualizes mean over population standard deviation assuming
// one observation per day
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	std := populationStd(returns, mean)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(365)
}

// maxDrawdown is the largest peak-to-trough fall of the cumulative P&L
func maxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	cumulative := 0.0
	runningMax := math.Inf(-1)
	minDrawdown := math.Inf(1)
	for _, r := range returns {
		cumulative += r
		if cumulative > runningMax {
			runningMax = cumulative
		}
		dd := (cumulative - runningMax) / (runningMax + 1e-8)
		if dd < minDrawdown {
			minDrawdown = dd
		}
	}

	return math.Abs(minDrawdown)
}

func populationStd(values []float64, mean float64) float64 {
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

// computeArmMetrics summarizes one arm of an A/B test
func computeArmMetrics(returns []float64) ArmMetrics {
	if len(returns) == 0 {
		return ArmMetrics{}
	}

	wins := 0
	total := 0.0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
		total += r
	}
	mean := stat.Mean(returns, nil)

	return ArmMetrics{
		AvgReturn:   mean,
		StdReturn:   populationStd(returns, mean),
		WinRate:     float64(wins) / float64(len(returns)),
		SharpeRatio: sharpeRatio(returns),
		TotalPnL:    total,
		TradeCount:  len(returns),
	}
}
