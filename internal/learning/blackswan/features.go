package blackswan

import (
	"math"

	"crypto-learning-engine/internal/market"
)

const (
	volatilityWindow = 24
	volumeWindow     = 24
	rsiPeriod        = 14
	maWindow         = 50
)

// crisisFeatureNames fixes the column order of the feature matrix
var crisisFeatureNames = []string{
	"price_change",
	"price_volatility",
	"price_drawdown",
	"volume_spike",
	"volume_change",
	"rsi",
	"ma_deviation",
	"price_range",
}

// extractCrisisFeatures turns a candle series into the crisis feature
// matrix. Rows whose rolling windows are not yet filled are dropped, so
// the output starts maWindow-1 candles into the series.
func extractCrisisFeatures(candles []market.Candle) [][]float64 {
	n := len(candles)
	if n < maWindow {
		return nil
	}

	priceChange := make([]float64, n)
	volumeChange := make([]float64, n)
	for i := 1; i < n; i++ {
		priceChange[i] = pctChange(candles[i-1].Close, candles[i].Close)
		volumeChange[i] = pctChange(candles[i-1].Volume, candles[i].Volume)
	}

	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		delta := candles[i].Close - candles[i-1].Close
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	var rows [][]float64
	for i := maWindow - 1; i < n; i++ {
		volatility := rollingStd(candles, i, volatilityWindow)
		drawdown := candles[i].Close/rollingMaxClose(candles, i, volatilityWindow) - 1

		avgVolume := rollingMeanVolume(candles, i, volumeWindow)
		volumeSpike := 0.0
		if avgVolume > 0 {
			volumeSpike = candles[i].Volume / avgVolume
		}

		avgGain := windowMean(gains, i, rsiPeriod)
		avgLoss := windowMean(losses, i, rsiPeriod)
		rsi := 100.0
		if avgLoss > 0 {
			rsi = 100 - 100/(1+avgGain/avgLoss)
		}

		maDeviation := candles[i].Close/rollingMeanClose(candles, i, maWindow) - 1

		priceRange := 0.0
		if candles[i].Close > 0 {
			priceRange = (candles[i].High - candles[i].Low) / candles[i].Close
		}

		row := []float64{
			priceChange[i],
			volatility,
			drawdown,
			volumeSpike,
			volumeChange[i],
			rsi,
			maDeviation,
			priceRange,
		}
		if hasNaN(row) {
			continue
		}
		rows = append(rows, row)
	}

	return rows
}

// featureVector orders a named indicator map into the fixed feature
// column order. Missing indicators default to zero.
func featureVector(indicators map[string]float64) []float64 {
	row := make([]float64, len(crisisFeatureNames))
	for i, name := range crisisFeatureNames {
		row[i] = indicators[name]
	}
	return row
}

func pctChange(prev, cur float64) float64 {
	if prev == 0 {
		return math.NaN()
	}
	return cur/prev - 1
}

func rollingStd(candles []market.Candle, end, window int) float64 {
	start := end - window + 1
	if start < 0 {
		start = 0
	}
	count := end - start + 1
	if count < 2 {
		return 0
	}

	mean := 0.0
	for i := start; i <= end; i++ {
		mean += candles[i].Close
	}
	mean /= float64(count)

	variance := 0.0
	for i := start; i <= end; i++ {
		d := candles[i].Close - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(count-1))
}

func rollingMaxClose(candles []market.Candle, end, window int) float64 {
	start := end - window + 1
	if start < 0 {
		start = 0
	}
	max := candles[start].Close
	for i := start + 1; i <= end; i++ {
		if candles[i].Close > max {
			max = candles[i].Close
		}
	}
	return max
}

func rollingMeanClose(candles []market.Candle, end, window int) float64 {
	start := end - window + 1
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for i := start; i <= end; i++ {
		sum += candles[i].Close
	}
	return sum / float64(end-start+1)
}

func rollingMeanVolume(candles []market.Candle, end, window int) float64 {
	start := end - window + 1
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for i := start; i <= end; i++ {
		sum += candles[i].Volume
	}
	return sum / float64(end-start+1)
}

func windowMean(values []float64, end, window int) float64 {
	start := end - window + 1
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for i := start; i <= end; i++ {
		sum += values[i]
	}
	return sum / float64(end-start+1)
}

func hasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
