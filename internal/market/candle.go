package market

import "time"

// Candle represents a single OHLCV bar of market data
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Indicators holds the market indicator snapshot used for market-condition
// classification and crisis scoring
type Indicators struct {
	TrendStrength float64 `json:"trend_strength"` // -1 to 1
	Volatility    string  `json:"volatility"`     // "low", "normal", "high", "extreme"
	FearGreed     float64 `json:"fear_greed"`     // 0-100
	VolumeTrend   string  `json:"volume_trend"`   // "falling", "normal", "rising"
}
